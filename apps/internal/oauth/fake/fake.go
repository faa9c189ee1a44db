// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package fake provides fake implementations of the oauth package's
// dependencies for tests in upper packages.
package fake

import (
	"context"
	"fmt"

	"github.com/msidentity/microsoft-identity-client-for-go/apps/internal/oauth/ops/accesstokens"
	"github.com/msidentity/microsoft-identity-client-for-go/apps/internal/oauth/ops/authority"
)

// ResolveEndpoints implements the oauth package's resolveEndpointer.
type ResolveEndpoints struct {
	// Err causes every call to fail when set.
	Err bool

	Endpoints authority.Endpoints
}

func (f ResolveEndpoints) ResolveEndpoints(ctx context.Context, authorityInfo authority.Info, userPrincipalName string) (authority.Endpoints, error) {
	if f.Err {
		return authority.Endpoints{}, fmt.Errorf("fake error")
	}
	return f.Endpoints, nil
}

// Authority implements the oauth package's fetchAuthority.
type Authority struct {
	// Err causes every call to fail when set.
	Err bool

	// InstanceResp is returned from AADInstanceDiscovery.
	InstanceResp authority.InstanceDiscoveryResponse
}

func (f Authority) AADInstanceDiscovery(ctx context.Context, info authority.Info) (authority.InstanceDiscoveryResponse, error) {
	if f.Err {
		return authority.InstanceDiscoveryResponse{}, fmt.Errorf("fake error")
	}
	return f.InstanceResp, nil
}

// AccessTokens implements the oauth package's accessTokens.
type AccessTokens struct {
	// Err causes every call to fail when set.
	Err bool

	// Result is returned from every token returning call.
	Result accesstokens.TokenResponse
	// DeviceCode is returned from DeviceCodeResult.
	DeviceCode accesstokens.DeviceCodeResult

	// Next is a chain of responses for device code polling, consumed front
	// to back by FromDeviceCodeResult.
	Next []func() (accesstokens.TokenResponse, error)

	// FromRefreshTokenCallback receives the arguments of FromRefreshToken when set,
	// letting a test assert what was sent without a full transport fake.
	FromRefreshTokenCallback func(appType accesstokens.AppType, authParams authority.AuthParams, cc *accesstokens.Credential, refreshToken string)
}

func (f *AccessTokens) FromUsernamePassword(ctx context.Context, authParameters authority.AuthParams) (accesstokens.TokenResponse, error) {
	if f.Err {
		return accesstokens.TokenResponse{}, fmt.Errorf("fake error")
	}
	return f.Result, nil
}

func (f *AccessTokens) FromAuthCode(ctx context.Context, req accesstokens.AuthCodeRequest) (accesstokens.TokenResponse, error) {
	if f.Err {
		return accesstokens.TokenResponse{}, fmt.Errorf("fake error")
	}
	return f.Result, nil
}

func (f *AccessTokens) FromRefreshToken(ctx context.Context, appType accesstokens.AppType, authParams authority.AuthParams, cc *accesstokens.Credential, refreshToken string) (accesstokens.TokenResponse, error) {
	if f.FromRefreshTokenCallback != nil {
		f.FromRefreshTokenCallback(appType, authParams, cc, refreshToken)
	}
	if f.Err {
		return accesstokens.TokenResponse{}, fmt.Errorf("fake error")
	}
	return f.Result, nil
}

func (f *AccessTokens) FromClientSecret(ctx context.Context, authParameters authority.AuthParams, clientSecret string) (accesstokens.TokenResponse, error) {
	if f.Err {
		return accesstokens.TokenResponse{}, fmt.Errorf("fake error")
	}
	return f.Result, nil
}

func (f *AccessTokens) FromAssertion(ctx context.Context, authParameters authority.AuthParams, assertion string) (accesstokens.TokenResponse, error) {
	if f.Err {
		return accesstokens.TokenResponse{}, fmt.Errorf("fake error")
	}
	return f.Result, nil
}

func (f *AccessTokens) DeviceCodeResult(ctx context.Context, authParameters authority.AuthParams) (accesstokens.DeviceCodeResult, error) {
	if f.Err {
		return accesstokens.DeviceCodeResult{}, fmt.Errorf("fake error")
	}
	return f.DeviceCode, nil
}

func (f *AccessTokens) FromDeviceCodeResult(ctx context.Context, authParameters authority.AuthParams, deviceCodeResult accesstokens.DeviceCodeResult) (accesstokens.TokenResponse, error) {
	if len(f.Next) > 0 {
		next := f.Next[0]
		f.Next = f.Next[1:]
		return next()
	}
	if f.Err {
		return accesstokens.TokenResponse{}, fmt.Errorf("fake error")
	}
	return f.Result, nil
}
