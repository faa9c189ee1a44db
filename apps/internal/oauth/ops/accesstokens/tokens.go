// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package accesstokens

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/msidentity/microsoft-identity-client-for-go/apps/errors"
	internalTime "github.com/msidentity/microsoft-identity-client-for-go/apps/internal/json/types/time"
	"github.com/msidentity/microsoft-identity-client-for-go/apps/internal/oauth/ops/authority"
	"github.com/msidentity/microsoft-identity-client-for-go/apps/internal/shared"
)

// IDToken consists of all the information used to validate a user.
// https://docs.microsoft.com/azure/active-directory/develop/id-tokens .
type IDToken struct {
	PreferredUsername string `json:"preferred_username,omitempty"`
	GivenName         string `json:"given_name,omitempty"`
	FamilyName        string `json:"family_name,omitempty"`
	MiddleName        string `json:"middle_name,omitempty"`
	Name              string `json:"name,omitempty"`
	Oid               string `json:"oid,omitempty"`
	TenantID          string `json:"tid,omitempty"`
	Subject           string `json:"sub,omitempty"`
	UPN               string `json:"upn,omitempty"`
	Email             string `json:"email,omitempty"`
	AlternativeID     string `json:"alternative_id,omitempty"`
	Issuer            string `json:"iss,omitempty"`
	Audience          string `json:"aud,omitempty"`
	ExpirationTime    int64  `json:"exp,omitempty"`
	IssuedAt          int64  `json:"iat,omitempty"`
	NotBefore         int64  `json:"nbf,omitempty"`
	RawToken          string

	AdditionalFields map[string]interface{}
}

var null = []byte("null")

// UnmarshalJSON implements json.Unmarshaler. The wire representation of an ID
// token is the raw JWT string; the claims come from base64 decoding the middle
// segment. The token signature is not verified here, that already happened at
// the STS over TLS.
func (i *IDToken) UnmarshalJSON(b []byte) error {
	if bytes.Equal(null, b) {
		return nil
	}

	// Because this is a string, we need to remove the quotes.
	str := strings.Trim(string(b), `"'`)
	if str == "" {
		return nil
	}

	jwtArr := strings.Split(str, ".")
	if len(jwtArr) < 2 {
		return errors.InvalidResponse(nil, "id token returned from server is invalid")
	}

	jwtPart := jwtArr[1]
	jwtDecoded, err := decodeBase64(jwtPart)
	if err != nil {
		return errors.InvalidResponse(err, "unable to base64 decode the id token body")
	}

	token := idTokenJSON{}
	if err := json.Unmarshal(jwtDecoded, &token); err != nil {
		return errors.InvalidResponse(err, "unable to unmarshal the id token body")
	}

	*i = IDToken(token)
	i.RawToken = str
	return nil
}

// idTokenJSON mirrors IDToken so the claims decode does not recurse into
// IDToken.UnmarshalJSON.
type idTokenJSON struct {
	PreferredUsername string `json:"preferred_username,omitempty"`
	GivenName         string `json:"given_name,omitempty"`
	FamilyName        string `json:"family_name,omitempty"`
	MiddleName        string `json:"middle_name,omitempty"`
	Name              string `json:"name,omitempty"`
	Oid               string `json:"oid,omitempty"`
	TenantID          string `json:"tid,omitempty"`
	Subject           string `json:"sub,omitempty"`
	UPN               string `json:"upn,omitempty"`
	Email             string `json:"email,omitempty"`
	AlternativeID     string `json:"alternative_id,omitempty"`
	Issuer            string `json:"iss,omitempty"`
	Audience          string `json:"aud,omitempty"`
	ExpirationTime    int64  `json:"exp,omitempty"`
	IssuedAt          int64  `json:"iat,omitempty"`
	NotBefore         int64  `json:"nbf,omitempty"`
	RawToken          string

	AdditionalFields map[string]interface{}
}

// IsZero indicates if the IDToken is the zero value.
func (i IDToken) IsZero() bool {
	return i.RawToken == ""
}

// LocalAccountID extracts an account's local account ID from an ID token.
func (i IDToken) LocalAccountID() string {
	if i.Oid != "" {
		return i.Oid
	}
	return i.Subject
}

// ClientInfo is the uid/utid pair the STS returns in the client_info field,
// base64 encoded. It is used to create the home account ID for an account.
type ClientInfo struct {
	UID  string `json:"uid"`
	UTID string `json:"utid"`

	AdditionalFields map[string]interface{}
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *ClientInfo) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"'`)
	if s == "" || bytes.Equal(null, b) {
		return nil
	}

	// decodeBase64 deals with the missing padding the STS omits.
	decoded, err := decodeBase64(s)
	if err != nil {
		return errors.InvalidResponse(err, "unable to base64 decode client_info")
	}

	ci := struct {
		UID  string `json:"uid"`
		UTID string `json:"utid"`
	}{}
	if err := json.Unmarshal(decoded, &ci); err != nil {
		return errors.InvalidResponse(err, "unable to unmarshal client_info")
	}
	c.UID, c.UTID = ci.UID, ci.UTID
	return nil
}

// HomeAccountID creates the home account ID. Both halves must be present,
// otherwise the identity cannot be tied across tenants and we report none.
func (c ClientInfo) HomeAccountID() string {
	if c.UID == "" || c.UTID == "" {
		return ""
	}
	return fmt.Sprintf("%s.%s", c.UID, c.UTID)
}

// Scopes represents the withspace separated scope list the token endpoint
// returns in the "scope" field.
type Scopes struct {
	Slice []string
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Scopes) UnmarshalJSON(b []byte) error {
	str := strings.Trim(string(b), `"`)
	if str == "" {
		return nil
	}
	s.Slice = strings.Split(strings.ToLower(str), " ")
	return nil
}

// TokenResponse is the information that is returned from a token endpoint during a token acquisition flow.
type TokenResponse struct {
	authority.OAuthResponseBase

	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`

	FamilyID   string     `json:"foci"`
	IDToken    IDToken    `json:"id_token"`
	ClientInfo ClientInfo `json:"client_info"`

	ExpiresOn    internalTime.DurationTime `json:"expires_in"`
	ExtExpiresOn internalTime.DurationTime `json:"ext_expires_in"`

	GrantedScopes  Scopes `json:"scope"`
	DeclinedScopes []string

	AdditionalFields map[string]interface{}

	scopesComputed bool
}

// HasAccessToken checks if the TokenResponse has an access token.
func (tr TokenResponse) HasAccessToken() bool {
	return len(tr.AccessToken) > 0
}

// HasRefreshToken checks if the TokenResponse has a refresh token.
func (tr TokenResponse) HasRefreshToken() bool {
	return len(tr.RefreshToken) > 0
}

// HomeAccountID resolves the home account ID for the identity the response
// belongs to: the client_info uid.utid pair when the STS sent one, falling
// back to the ID token's oid (or sub) claim. Empty when the response carries
// no identity at all, e.g. an app-only token.
func (tr TokenResponse) HomeAccountID() string {
	if id := tr.ClientInfo.HomeAccountID(); id != "" {
		return id
	}
	return tr.IDToken.LocalAccountID()
}

// Validate validates the TokenResponse from the server: a reported server
// error fails with that error verbatim, and a response with neither an access
// token nor an ID token is unusable. Callers must have called ComputeScope()
// before caching the response.
func (tr *TokenResponse) Validate() error {
	if err := tr.OAuthResponseBase.Validate(); err != nil {
		return err
	}

	if tr.AccessToken == "" && tr.IDToken.IsZero() {
		return errors.InvalidResponse(nil, "response is missing both access_token and id_token")
	}

	if !tr.scopesComputed {
		return fmt.Errorf("bug: TokenResponse hasn't had ComputeScope() called")
	}
	return nil
}

// ComputeScope computes the granted and declined scopes from the requested
// ones. Per RFC 6749 section 3.3, a response without a scope field grants
// everything that was requested.
func (tr *TokenResponse) ComputeScope(authParams authority.AuthParams) {
	if len(tr.GrantedScopes.Slice) == 0 {
		tr.GrantedScopes = Scopes{Slice: authParams.Scopes}
	} else {
		tr.DeclinedScopes = findDeclinedScopes(authParams.Scopes, tr.GrantedScopes.Slice)
	}
	tr.scopesComputed = true
}

func findDeclinedScopes(requestedScopes []string, grantedScopes []string) []string {
	declined := []string{}
	grantedMap := map[string]bool{}
	for _, s := range grantedScopes {
		grantedMap[strings.ToLower(s)] = true
	}
	for _, r := range requestedScopes {
		if !grantedMap[strings.ToLower(r)] {
			declined = append(declined, r)
		}
	}
	return declined
}

// decodeBase64 decodes a base64 (standard or URL alphabet, padded or not)
// blob into bytes. STS fields like client_info and JWT segments come without
// padding.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	s = strings.ReplaceAll(s, "+", "-")
	s = strings.ReplaceAll(s, "/", "_")
	return base64.RawURLEncoding.DecodeString(s)
}

// RefreshToken is the JSON representation of a refresh token for encoding to storage.
type RefreshToken struct {
	HomeAccountID  string `json:"home_account_id,omitempty"`
	Environment    string `json:"environment,omitempty"`
	CredentialType string `json:"credential_type,omitempty"`
	ClientID       string `json:"client_id,omitempty"`
	FamilyID       string `json:"family_id,omitempty"`
	Secret         string `json:"secret,omitempty"`
	Realm          string `json:"realm,omitempty"`
	Target         string `json:"target,omitempty"`

	AdditionalFields map[string]interface{}
}

// NewRefreshToken is the constructor for RefreshToken.
func NewRefreshToken(homeID, env, clientID, refreshToken, familyID string) RefreshToken {
	return RefreshToken{
		HomeAccountID:  homeID,
		Environment:    env,
		CredentialType: shared.CredentialTypeRefreshToken,
		ClientID:       clientID,
		FamilyID:       familyID,
		Secret:         refreshToken,
	}
}

// Key outputs the key that can be used to uniquely look up this entry in a map.
// A family refresh token is keyed by its family ID instead of the client ID,
// which is what lets one token serve every client in the family.
func (rt RefreshToken) Key() string {
	clientOrFamilyID := rt.FamilyID
	if clientOrFamilyID == "" {
		clientOrFamilyID = rt.ClientID
	}
	return shared.CredentialKey(rt.HomeAccountID, rt.Environment, rt.CredentialType, clientOrFamilyID, rt.Realm, rt.Target)
}

// GetSecret returns the raw token value.
func (rt RefreshToken) GetSecret() string {
	return rt.Secret
}

// IsZero reports whether rt holds no token.
func (rt RefreshToken) IsZero() bool {
	return rt.Secret == ""
}

// DeviceCodeResult stores the response from the STS device code endpoint.
type DeviceCodeResult struct {
	// UserCode is the code the user needs to provide when authentication at the verification URI.
	UserCode string
	// DeviceCode is the code used in the access token request.
	DeviceCode string
	// VerificationURL is the URL where user can authenticate.
	VerificationURL string
	// ExpiresOn is the expiration time of device code.
	ExpiresOn time.Time
	// Interval is the interval at which the STS should be polled at.
	Interval int
	// Message is the message which should be displayed to the user.
	Message string
	// ClientID is the UUID issued by the authorization server for your application.
	ClientID string
	// Scopes is the OpenID scopes used to request access a protected API.
	Scopes []string
}

// NewDeviceCodeResult creates a DeviceCodeResult instance.
func NewDeviceCodeResult(userCode, deviceCode, verificationURL string, expiresOn time.Time, interval int, message, clientID string, scopes []string) DeviceCodeResult {
	return DeviceCodeResult{userCode, deviceCode, verificationURL, expiresOn, interval, message, clientID, scopes}
}

func (dcr DeviceCodeResult) String() string {
	return fmt.Sprintf("UserCode: (%v)\nDeviceCode: (%v)\nURL: (%v)\nMessage: (%v)\n", dcr.UserCode, dcr.DeviceCode, dcr.VerificationURL, dcr.Message)
}
