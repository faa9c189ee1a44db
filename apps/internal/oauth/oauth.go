// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package oauth provides the client that coordinates endpoint resolution and
// the per-grant-type token requests. It sits between the base client and the
// ops REST layer.
package oauth

import (
	"context"
	"fmt"
	"time"

	"github.com/msidentity/microsoft-identity-client-for-go/apps/errors"
	"github.com/msidentity/microsoft-identity-client-for-go/apps/internal/oauth/ops"
	"github.com/msidentity/microsoft-identity-client-for-go/apps/internal/oauth/ops/accesstokens"
	"github.com/msidentity/microsoft-identity-client-for-go/apps/internal/oauth/ops/authority"
)

type resolveEndpointer interface {
	ResolveEndpoints(ctx context.Context, authorityInfo authority.Info, userPrincipalName string) (authority.Endpoints, error)
}

type accessTokens interface {
	FromUsernamePassword(ctx context.Context, authParameters authority.AuthParams) (accesstokens.TokenResponse, error)
	FromAuthCode(ctx context.Context, req accesstokens.AuthCodeRequest) (accesstokens.TokenResponse, error)
	FromRefreshToken(ctx context.Context, appType accesstokens.AppType, authParams authority.AuthParams, cc *accesstokens.Credential, refreshToken string) (accesstokens.TokenResponse, error)
	FromClientSecret(ctx context.Context, authParameters authority.AuthParams, clientSecret string) (accesstokens.TokenResponse, error)
	FromAssertion(ctx context.Context, authParameters authority.AuthParams, assertion string) (accesstokens.TokenResponse, error)
	DeviceCodeResult(ctx context.Context, authParameters authority.AuthParams) (accesstokens.DeviceCodeResult, error)
	FromDeviceCodeResult(ctx context.Context, authParameters authority.AuthParams, deviceCodeResult accesstokens.DeviceCodeResult) (accesstokens.TokenResponse, error)
}

type fetchAuthority interface {
	AADInstanceDiscovery(context.Context, authority.Info) (authority.InstanceDiscoveryResponse, error)
}

// Client provides tokens for various types of token requests.
type Client struct {
	// The fields are public to allow faking the transport in tests of the
	// packages above this one. Do not touch them in production use.
	Resolver     resolveEndpointer
	AccessTokens accessTokens
	Authority    fetchAuthority
}

// New is the constructor for Client. httpClient must not be nil.
func New(httpClient ops.HTTPClient, registry authority.Registry) *Client {
	r := ops.New(httpClient, registry)
	return &Client{
		Resolver:     newAuthorityEndpoint(r, registry),
		AccessTokens: r.AccessTokens(),
		Authority:    r.Authority(),
	}
}

// ResolveEndpoints gets the authorization and token endpoints and creates an Endpoints instance.
func (t *Client) ResolveEndpoints(ctx context.Context, authorityInfo authority.Info, userPrincipalName string) (authority.Endpoints, error) {
	return t.Resolver.ResolveEndpoints(ctx, authorityInfo, userPrincipalName)
}

// AADInstanceDiscovery queries the instance discovery endpoint for environment aliases.
func (t *Client) AADInstanceDiscovery(ctx context.Context, authorityInfo authority.Info) (authority.InstanceDiscoveryResponse, error) {
	return t.Authority.AADInstanceDiscovery(ctx, authorityInfo)
}

// AuthCode returns a token based on an authorization code.
func (t *Client) AuthCode(ctx context.Context, req accesstokens.AuthCodeRequest) (accesstokens.TokenResponse, error) {
	if err := t.resolveEndpoint(ctx, &req.AuthParams, ""); err != nil {
		return accesstokens.TokenResponse{}, err
	}

	tResp, err := t.AccessTokens.FromAuthCode(ctx, req)
	if err != nil {
		return accesstokens.TokenResponse{}, fmt.Errorf("could not retrieve token from auth code: %w", err)
	}
	return tResp, nil
}

// Credential acquires a token from the authority using a client credential (secret or
// signed assertion).
func (t *Client) Credential(ctx context.Context, authParams authority.AuthParams, cred *accesstokens.Credential) (accesstokens.TokenResponse, error) {
	if cred == nil {
		return accesstokens.TokenResponse{}, errors.InvalidConfig("confidential client requires a Credential")
	}
	if err := t.resolveEndpoint(ctx, &authParams, ""); err != nil {
		return accesstokens.TokenResponse{}, err
	}

	if cred.Secret != "" {
		return t.AccessTokens.FromClientSecret(ctx, authParams, cred.Secret)
	}
	jwt, err := cred.JWT(authParams)
	if err != nil {
		return accesstokens.TokenResponse{}, err
	}
	return t.AccessTokens.FromAssertion(ctx, authParams, jwt)
}

// Refresh acquires a token from the authority using a refresh token.
func (t *Client) Refresh(ctx context.Context, appType accesstokens.AppType, authParams authority.AuthParams, cc *accesstokens.Credential, refreshToken accesstokens.RefreshToken) (accesstokens.TokenResponse, error) {
	if err := t.resolveEndpoint(ctx, &authParams, ""); err != nil {
		return accesstokens.TokenResponse{}, err
	}

	tResp, err := t.AccessTokens.FromRefreshToken(ctx, appType, authParams, cc, refreshToken.Secret)
	if err != nil {
		return accesstokens.TokenResponse{}, fmt.Errorf("unable to refresh token: %w", err)
	}
	return tResp, nil
}

// UsernamePassword retrieves a token where a username and password is used.
// This flow is not recommended; it exists for legacy integrations that cannot
// do an interactive or device code exchange.
func (t *Client) UsernamePassword(ctx context.Context, authParams authority.AuthParams) (accesstokens.TokenResponse, error) {
	if err := t.resolveEndpoint(ctx, &authParams, authParams.Username); err != nil {
		return accesstokens.TokenResponse{}, err
	}
	return t.AccessTokens.FromUsernamePassword(ctx, authParams)
}

// DeviceCode is the result of a call to Client.DeviceCode().
type DeviceCode struct {
	// Result is the device code result from the STS, holding the code the
	// user must enter on the second device.
	Result accesstokens.DeviceCodeResult

	authParams   authority.AuthParams
	accessTokens accessTokens
}

// Token returns a token AFTER the user uses the device code on the second device. This will
// block until either: (1) the code is input by the user and the service has returned a token,
// (2) the token expires, (3) the Context passed to .DeviceCode() or to this call is cancelled.
func (d DeviceCode) Token(ctx context.Context) (accesstokens.TokenResponse, error) {
	if d.accessTokens == nil {
		return accesstokens.TokenResponse{}, fmt.Errorf("DeviceCode was either created outside its package or the creating method had an error. DeviceCode is not valid")
	}

	var cancel context.CancelFunc
	if deadline, ok := ctx.Deadline(); !ok || d.Result.ExpiresOn.Before(deadline) {
		ctx, cancel = context.WithDeadline(ctx, d.Result.ExpiresOn)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	interval := 50 * time.Millisecond
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return accesstokens.TokenResponse{}, ctx.Err()
		case <-timer.C:
			interval += interval * 2
			if interval > 5*time.Second {
				interval = 5 * time.Second
			}
		}

		token, err := d.accessTokens.FromDeviceCodeResult(ctx, d.authParams, d.Result)
		if err != nil && isWaitDeviceCodeErr(err) {
			continue
		}
		return token, err // This handles if it was a non-wait error or success
	}
}

// isWaitDeviceCodeErr reports whether the token endpoint told us to keep
// polling (the user hasn't entered the code yet).
func isWaitDeviceCodeErr(err error) bool {
	var serr errors.ServerError
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Code {
	case "authorization_pending", "slow_down":
		return true
	}
	return false
}

// DeviceCode returns a DeviceCode object that can be used to get the code that must be entered on the second
// device and optionally the token once the code has been entered on the second device.
func (t *Client) DeviceCode(ctx context.Context, authParams authority.AuthParams) (DeviceCode, error) {
	if err := t.resolveEndpoint(ctx, &authParams, ""); err != nil {
		return DeviceCode{}, err
	}

	dcr, err := t.AccessTokens.DeviceCodeResult(ctx, authParams)
	if err != nil {
		return DeviceCode{}, err
	}

	return DeviceCode{Result: dcr, authParams: authParams, accessTokens: t.AccessTokens}, nil
}

func (t *Client) resolveEndpoint(ctx context.Context, authParams *authority.AuthParams, userPrincipalName string) (err error) {
	authParams.Endpoints, err = t.Resolver.ResolveEndpoints(ctx, authParams.AuthorityInfo, userPrincipalName)
	if err != nil {
		return fmt.Errorf("unable to resolve an endpoint: %w", err)
	}
	return nil
}
