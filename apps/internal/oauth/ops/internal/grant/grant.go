// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package grant holds types of grants issued by authorization servers.
package grant

const (
	// AuthCode is the grant_type for the authorization code flow.
	AuthCode = "authorization_code"
	// RefreshToken is the grant_type for refreshing an access token.
	RefreshToken = "refresh_token"
	// ClientCredential is the grant_type for app-only token acquisition.
	ClientCredential = "client_credentials"
	// ClientAssertion is the client_assertion_type for JWT credentials.
	ClientAssertion = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
	// DeviceCode is the grant_type for the device code flow.
	DeviceCode = "urn:ietf:params:oauth:grant-type:device_code"
	// Password is the grant_type for the resource owner password flow.
	Password = "password"
)
