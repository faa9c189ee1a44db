// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package base contains a "Base" client that is used by the external public.Client and confidential.Client.
// Base holds shared attributes that must be available to both clients and methods that act as
// shared calls.
package base

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/msidentity/microsoft-identity-client-for-go/apps/cache"
	"github.com/msidentity/microsoft-identity-client-for-go/apps/errors"
	"github.com/msidentity/microsoft-identity-client-for-go/apps/internal/base/internal/storage"
	"github.com/msidentity/microsoft-identity-client-for-go/apps/internal/oauth"
	"github.com/msidentity/microsoft-identity-client-for-go/apps/internal/oauth/ops/accesstokens"
	"github.com/msidentity/microsoft-identity-client-for-go/apps/internal/oauth/ops/authority"
	"github.com/msidentity/microsoft-identity-client-for-go/apps/internal/shared"
	"github.com/msidentity/microsoft-identity-client-for-go/apps/logger"
)

const (
	// AuthorityPublicCloud is the default AAD authority host.
	AuthorityPublicCloud = "https://login.microsoftonline.com/common"
	scopeSeparator       = " "
)

// manager provides an internal cache. It is defined to allow faking the cache in tests.
// In all production use it is a *storage.Manager.
type manager interface {
	cache.Serializer
	Read(ctx context.Context, authParameters authority.AuthParams, account shared.Account) (storage.TokenResponse, error)
	Write(authParameters authority.AuthParams, tokenResponse accesstokens.TokenResponse) (shared.Account, error)
	AllAccounts() []shared.Account
	Account(homeAccountID string) shared.Account
	RemoveAccount(ctx context.Context, account shared.Account, clientID string) error
}

// noopCacheAccessor is used when the app did not supply an external cache.
// The in-memory manager is then the only copy of the cache.
type noopCacheAccessor struct{}

func (n noopCacheAccessor) Replace(ctx context.Context, cache cache.Unmarshaler) error { return nil }
func (n noopCacheAccessor) Export(ctx context.Context, cache cache.Marshaler) error    { return nil }

// AcquireTokenSilentParameters contains the parameters to acquire a token silently (from cache).
type AcquireTokenSilentParameters struct {
	Scopes      []string
	Account     shared.Account
	RequestType accesstokens.AppType
	Credential  *accesstokens.Credential
}

// AcquireTokenAuthCodeParameters contains the parameters required to acquire an access token using the auth code flow.
// To use PKCE, set the CodeChallengeParameter.
// Code challenges are used to secure authorization code grants; for more information, visit
// https://tools.ietf.org/html/rfc7636.
type AcquireTokenAuthCodeParameters struct {
	Scopes      []string
	Code        string
	Challenge   string
	RedirectURI string
	AppType     accesstokens.AppType
	Credential  *accesstokens.Credential
}

// AuthResult contains the results of one token acquisition operation in PublicClientApplication
// or ConfidentialClientApplication.
type AuthResult struct {
	Account        shared.Account
	IDToken        accesstokens.IDToken
	AccessToken    string
	ExpiresOn      time.Time
	GrantedScopes  []string
	DeclinedScopes []string
}

// AuthResultFromStorage creates an AuthResult from a storage token response (which is generated from the cache).
func AuthResultFromStorage(storageTokenResponse storage.TokenResponse) (AuthResult, error) {
	if err := storageTokenResponse.AccessToken.Validate(); err != nil {
		return AuthResult{}, fmt.Errorf("problem with access token in StorageTokenResponse: %w", err)
	}

	account := storageTokenResponse.Account
	accessToken := storageTokenResponse.AccessToken.Secret
	grantedScopes := strings.Split(storageTokenResponse.AccessToken.Scopes, scopeSeparator)

	// Confidential clients have no ID token cached, so the zero value is fine there.
	var idToken accesstokens.IDToken
	if !storageTokenResponse.IDToken.IsZero() {
		err := idToken.UnmarshalJSON([]byte(storageTokenResponse.IDToken.Secret))
		if err != nil {
			return AuthResult{}, fmt.Errorf("problem decoding JWT token: %w", err)
		}
	}
	return AuthResult{account, idToken, accessToken, storageTokenResponse.AccessToken.ExpiresOn.T, grantedScopes, nil}, nil
}

// NewAuthResult creates an AuthResult.
func NewAuthResult(tokenResponse accesstokens.TokenResponse, account shared.Account) (AuthResult, error) {
	if len(tokenResponse.DeclinedScopes) > 0 {
		return AuthResult{}, fmt.Errorf("token response failed because declined scopes are present: %s", strings.Join(tokenResponse.DeclinedScopes, ","))
	}
	return AuthResult{
		Account:       account,
		IDToken:       tokenResponse.IDToken,
		AccessToken:   tokenResponse.AccessToken,
		ExpiresOn:     tokenResponse.ExpiresOn.T,
		GrantedScopes: tokenResponse.GrantedScopes.Slice,
	}, nil
}

// Client is a base client that provides access to common methods and primitives that
// can be used by multiple clients.
type Client struct {
	Token   *oauth.Client
	manager manager // *storage.Manager or fakeManager in tests

	AuthParams    authority.AuthParams // DO NOT EVER MAKE THIS A POINTER! See "Note" in New().
	cacheAccessor cache.ExportReplace
	logger        *logger.Logger // nil discards everything
}

// Option is an optional argument to the New constructor.
type Option func(c *Client)

// WithCacheAccessor allows you to set some type of cache for storing authentication tokens.
func WithCacheAccessor(ca cache.ExportReplace) Option {
	return func(c *Client) {
		if ca != nil {
			c.cacheAccessor = ca
		}
	}
}

// WithLogger sets the logger the client logs cache and token events to.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New is the constructor for Base.
func New(clientID string, authorityURI string, token *oauth.Client, options ...Option) (Client, error) {
	if clientID == "" {
		return Client{}, errors.InvalidConfig("clientID cannot be empty")
	}
	authInfo, err := authority.NewInfoFromAuthorityURI(authorityURI, true)
	if err != nil {
		return Client{}, err
	}
	authParams := authority.NewAuthParams(clientID, authInfo)
	client := Client{ // Note: Hey, don't even THINK about making Base into *Base. See "design notes" in public.go and confidential.go
		Token:         token,
		AuthParams:    authParams,
		cacheAccessor: noopCacheAccessor{},
		manager:       storage.New(token),
	}
	for _, o := range options {
		o(&client)
	}
	return client, nil
}

// AuthCodeURL creates a URL used to acquire an authorization code.
func (b Client) AuthCodeURL(ctx context.Context, clientID, redirectURI string, scopes []string, authParams authority.AuthParams) (string, error) {
	endpoints, err := b.Token.ResolveEndpoints(ctx, authParams.AuthorityInfo, "")
	if err != nil {
		return "", err
	}

	baseURL, err := url.Parse(endpoints.AuthorizationEndpoint)
	if err != nil {
		return "", err
	}

	v := url.Values{}
	v.Add("client_id", clientID)
	v.Add("response_type", "code")
	v.Add("redirect_uri", redirectURI)
	v.Add("scope", strings.Join(scopes, scopeSeparator))
	if authParams.State != "" {
		v.Add("state", authParams.State)
	}
	if authParams.CodeChallenge != "" {
		v.Add("code_challenge", authParams.CodeChallenge)
	}
	if authParams.CodeChallengeMethod != "" {
		v.Add("code_challenge_method", authParams.CodeChallengeMethod)
	}
	if authParams.Prompt != "" {
		v.Add("prompt", authParams.Prompt)
	}
	if authParams.LoginHint != "" {
		v.Add("login_hint", authParams.LoginHint)
	}
	if authParams.DomainHint != "" {
		v.Add("domain_hint", authParams.DomainHint)
	}

	baseURL.RawQuery = v.Encode()
	return baseURL.String(), nil
}

// AcquireTokenSilent looks the request up in the cache and falls back to the
// refresh token grant when no usable access token is cached. A cache miss with
// no refresh token to fall back on is an error the caller should answer with
// an interactive flow.
func (b Client) AcquireTokenSilent(ctx context.Context, silent AcquireTokenSilentParameters) (AuthResult, error) {
	authParams := b.AuthParams // This is a copy, as we don't have a pointer receiver and authParams is not a pointer.
	toLower(silent.Scopes)
	authParams.Scopes = silent.Scopes
	authParams.AuthorizationType = authority.ATRefreshToken
	authParams.HomeaccountID = silent.Account.HomeAccountID

	if err := b.cacheAccessor.Replace(ctx, b.manager); err != nil {
		return AuthResult{}, err
	}

	storageTokenResponse, err := b.manager.Read(ctx, authParams, silent.Account)
	if err != nil {
		return AuthResult{}, err
	}

	if result, err := AuthResultFromStorage(storageTokenResponse); err == nil {
		b.logger.Log(logger.Debug, "serving access token from cache", "client_id", authParams.ClientID)
		// Expired entries may have been evicted during the read.
		if err := b.cacheAccessor.Export(ctx, b.manager); err != nil {
			return AuthResult{}, err
		}
		return result, nil
	}

	if storageTokenResponse.RefreshToken.IsZero() {
		return AuthResult{}, errors.New("no token found")
	}
	b.logger.Log(logger.Debug, "no usable cached access token, redeeming the refresh token", "client_id", authParams.ClientID)

	var cc *accesstokens.Credential
	if silent.RequestType == accesstokens.ATConfidential {
		cc = silent.Credential
	}

	token, err := b.Token.Refresh(ctx, silent.RequestType, authParams, cc, storageTokenResponse.RefreshToken)
	if err != nil {
		return AuthResult{}, err
	}

	return b.AuthResultFromToken(ctx, authParams, token, true)
}

// AcquireTokenByAuthCode redeems an authorization code for tokens and caches them.
func (b Client) AcquireTokenByAuthCode(ctx context.Context, authCodeParams AcquireTokenAuthCodeParameters) (AuthResult, error) {
	authParams := b.AuthParams // This is a copy, as we don't have a pointer receiver and .AuthParams is not a pointer.
	authParams.Scopes = authCodeParams.Scopes
	authParams.Redirecturi = authCodeParams.RedirectURI
	if authParams.Redirecturi == "" {
		authParams.Redirecturi = "https://login.microsoftonline.com/common/oauth2/nativeclient"
	}
	authParams.AuthorizationType = authority.ATAuthCode

	var cc *accesstokens.Credential
	if authCodeParams.AppType == accesstokens.ATConfidential {
		cc = authCodeParams.Credential
	}

	req, err := accesstokens.NewCodeChallengeRequest(authParams, authCodeParams.AppType, cc, authCodeParams.Code, authCodeParams.Challenge)
	if err != nil {
		return AuthResult{}, err
	}

	token, err := b.Token.AuthCode(ctx, req)
	if err != nil {
		return AuthResult{}, err
	}

	return b.AuthResultFromToken(ctx, authParams, token, true)
}

// AuthResultFromToken converts a token response into an AuthResult, writing it
// through to the cache (and the external accessor, if any) when cacheWrite is set.
func (b Client) AuthResultFromToken(ctx context.Context, authParams authority.AuthParams, token accesstokens.TokenResponse, cacheWrite bool) (AuthResult, error) {
	if !cacheWrite {
		return NewAuthResult(token, shared.Account{})
	}

	if err := b.cacheAccessor.Replace(ctx, b.manager); err != nil {
		return AuthResult{}, err
	}

	account, err := b.manager.Write(authParams, token)
	if err != nil {
		return AuthResult{}, err
	}
	b.logger.Log(logger.Debug, "token response written to cache", "client_id", authParams.ClientID, "home_account_id", account.HomeAccountID)

	if err := b.cacheAccessor.Export(ctx, b.manager); err != nil {
		return AuthResult{}, err
	}
	return NewAuthResult(token, account)
}

// Accounts returns the accounts currently in the cache.
func (b Client) Accounts(ctx context.Context) ([]shared.Account, error) {
	if err := b.cacheAccessor.Replace(ctx, b.manager); err != nil {
		return nil, err
	}
	return b.manager.AllAccounts(), nil
}

// Account returns the cached account matching homeAccountID, or a zero account.
func (b Client) Account(ctx context.Context, homeAccountID string) (shared.Account, error) {
	if err := b.cacheAccessor.Replace(ctx, b.manager); err != nil {
		return shared.Account{}, err
	}
	return b.manager.Account(homeAccountID), nil
}

// RemoveAccount removes the account and its cached credentials. Removing an
// account that is not in the cache is not an error.
func (b Client) RemoveAccount(ctx context.Context, account shared.Account) error {
	if err := b.cacheAccessor.Replace(ctx, b.manager); err != nil {
		return err
	}
	if err := b.manager.RemoveAccount(ctx, account, b.AuthParams.ClientID); err != nil {
		return err
	}
	b.logger.Log(logger.Info, "account removed from cache", "home_account_id", account.HomeAccountID)
	return b.cacheAccessor.Export(ctx, b.manager)
}

// toLower makes all slice entries lowercase in-place. Returns the same slice that was put in.
func toLower(s []string) []string {
	for i := 0; i < len(s); i++ {
		s[i] = strings.ToLower(s[i])
	}
	return s
}
