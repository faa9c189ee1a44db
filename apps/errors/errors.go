// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package errors defines the error types surfaced by the client libraries.
// Three classes exist: the server rejected the request (ServerError), the
// client was configured wrong (ConfigError, always detected before any
// network or cache interaction), and the server response could not be used
// (AuthError, the cache is left untouched).
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/kylelemons/godebug/pretty"
)

var prettyConf = &pretty.Config{IncludeUnexported: false, SkipZeroFields: true, TrackCycles: true}

type verboser interface {
	Verbose() string
}

// Verbose prints the most verbose error that the error message has.
func Verbose(err error) string {
	if v, ok := err.(verboser); ok {
		return v.Verbose()
	}
	return err.Error()
}

// New is equivalent to errors.New().
func New(text string) error {
	return errors.New(text)
}

// Is is equivalent to errors.Is().
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is equivalent to errors.As().
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// ServerError is an error returned by the token endpoint, carried verbatim
// from the "error" and "error_description" response fields. It is never
// retried at this layer.
type ServerError struct {
	// Code is the OAuth error code, e.g. "invalid_grant".
	Code string
	// Description is the human readable error_description.
	Description string
	// SubError further qualifies Code on some authorities.
	SubError string
	// CorrelationID ties the failure to the request that caused it.
	CorrelationID string
}

// Error implements error.
func (e ServerError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// ConfigError reports a missing or invalid required input to client
// construction or request building. It is fatal and raised before any
// network call or cache write happens.
type ConfigError struct {
	Reason string
}

// Error implements error.
func (e ConfigError) Error() string {
	return "invalid client configuration: " + e.Reason
}

// InvalidConfig creates a ConfigError.
func InvalidConfig(format string, a ...interface{}) error {
	return ConfigError{Reason: fmt.Sprintf(format, a...)}
}

// AuthError reports a server response that passed transport but cannot be
// turned into tokens: both access_token and id_token missing, an undecodable
// ID token or client_info, or no resolvable home account. No partial cache
// state results from one of these.
type AuthError struct {
	Reason string
	Err    error
}

// Error implements error.
func (e AuthError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Err)
}

// Unwrap implements errors.Unwrap.
func (e AuthError) Unwrap() error {
	return e.Err
}

// InvalidResponse creates an AuthError wrapping err, which may be nil.
func InvalidResponse(err error, format string, a ...interface{}) error {
	return AuthError{Reason: fmt.Sprintf(format, a...), Err: err}
}

// CallErr represents an HTTP call error. Has a Verbose() method that allows getting the
// http.Request and Response objects. Implements error.
type CallErr struct {
	Req  *http.Request
	Resp *http.Response
	Err  error
}

// Error implements error.Error().
func (e CallErr) Error() string {
	return e.Err.Error()
}

// Unwrap implements errors.Unwrap.
func (e CallErr) Unwrap() error {
	return e.Err
}

// Verbose prints a verbose error message with the request and response.
func (e CallErr) Verbose() string {
	if e.Resp != nil {
		// The response body has normally been consumed by the transport
		// layer, don't drag the stream into the message.
		e.Resp.Request = nil
	}
	return fmt.Sprintf("%s:\n\tRequest:\n%s\n\tResponse:\n%s", e.Err, prettyConf.Sprint(e.Req), prettyConf.Sprint(e.Resp))
}
