// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

/*
Package ops provides operations to various backend services using REST clients.

The REST type provides several clients that can be used to communicate to backends.
Usage is simple:

	rest := ops.New(shared.DefaultClient, authority.DefaultRegistry)

	// Creates an authority client and calls the instance discovery endpoint.
	alias, err := rest.Authority().AADInstanceDiscovery(ctx, authorityInfo)
	if err != nil {
		// Do something
	}
*/
package ops

import (
	"github.com/msidentity/microsoft-identity-client-for-go/apps/internal/oauth/ops/accesstokens"
	"github.com/msidentity/microsoft-identity-client-for-go/apps/internal/oauth/ops/authority"
	"github.com/msidentity/microsoft-identity-client-for-go/apps/internal/oauth/ops/internal/comm"
)

// HTTPClient represents an HTTP client.
// It's usually an *http.Client from the standard library.
type HTTPClient = comm.HTTPClient

// REST provides REST clients for communicating with various backends.
type REST struct {
	client   *comm.Client
	registry authority.Registry
}

// New is the constructor for REST.
func New(httpClient HTTPClient, registry authority.Registry) *REST {
	return &REST{client: comm.New(httpClient), registry: registry}
}

// AccessTokens returns a client that can be used to talk to our token endpoints.
func (r *REST) AccessTokens() accesstokens.Client {
	return accesstokens.Client{Comm: r.client}
}

// Authority returns a client that can be used to talk to authority backends.
func (r *REST) Authority() authority.Client {
	return authority.Client{Comm: r.client, Registry: r.registry}
}
