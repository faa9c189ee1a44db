// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package confidential

import (
	"log/slog"
)

// WithLogger allows for a custom logger to be set.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}
