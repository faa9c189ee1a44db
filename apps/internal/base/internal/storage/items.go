// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	internalTime "github.com/msidentity/microsoft-identity-client-for-go/apps/internal/json/types/time"
	"github.com/msidentity/microsoft-identity-client-for-go/apps/internal/oauth/ops/accesstokens"
	"github.com/msidentity/microsoft-identity-client-for-go/apps/internal/shared"
)

// Contract is the JSON structure that is written to any storage medium when serializing
// the internal cache. This design is shared between implementations in many languages.
// This cannot be changed without design that includes other SDKs.
type Contract struct {
	AccessTokens  map[string]AccessToken               `json:"AccessToken"`
	RefreshTokens map[string]accesstokens.RefreshToken `json:"RefreshToken"`
	IDTokens      map[string]IDToken                   `json:"IdToken"`
	Accounts      map[string]shared.Account            `json:"Account"`
	AppMetaData   map[string]AppMetaData               `json:"AppMetadata"`

	AdditionalFields map[string]interface{}
}

// NewContract is the constructor for Contract.
func NewContract() *Contract {
	return &Contract{
		AccessTokens:  map[string]AccessToken{},
		RefreshTokens: map[string]accesstokens.RefreshToken{},
		IDTokens:      map[string]IDToken{},
		Accounts:      map[string]shared.Account{},
		AppMetaData:   map[string]AppMetaData{},
	}
}

// AccessToken is the JSON representation of an access token for encoding to storage.
type AccessToken struct {
	HomeAccountID  string            `json:"home_account_id,omitempty"`
	Environment    string            `json:"environment,omitempty"`
	Realm          string            `json:"realm,omitempty"`
	CredentialType string            `json:"credential_type,omitempty"`
	ClientID       string            `json:"client_id,omitempty"`
	Secret         string            `json:"secret,omitempty"`
	Scopes         string            `json:"target,omitempty"`
	ExpiresOn      internalTime.Unix `json:"expires_on,omitempty"`
	ExtExpiresOn   internalTime.Unix `json:"extended_expires_on,omitempty"`
	CachedAt       internalTime.Unix `json:"cached_at,omitempty"`

	AdditionalFields map[string]interface{}
}

// NewAccessToken is the constructor for AccessToken.
func NewAccessToken(homeID, env, realm, clientID string, cachedAt, expiresOn, extendedExpiresOn time.Time, scopes, token string) AccessToken {
	return AccessToken{
		HomeAccountID:  homeID,
		Environment:    env,
		Realm:          realm,
		CredentialType: shared.CredentialTypeAccessToken,
		ClientID:       clientID,
		Secret:         token,
		Scopes:         scopes,
		CachedAt:       internalTime.Unix{T: cachedAt.UTC()},
		ExpiresOn:      internalTime.Unix{T: expiresOn.UTC()},
		ExtExpiresOn:   internalTime.Unix{T: extendedExpiresOn.UTC()},
	}
}

// Key outputs the key that can be used to uniquely look up this entry in a map.
func (a AccessToken) Key() string {
	return shared.CredentialKey(a.HomeAccountID, a.Environment, a.CredentialType, a.ClientID, a.Realm, a.Scopes)
}

// expiryOffset is how far before the real expiry a token is already treated
// as expired, so callers are never handed a token about to die mid-flight.
const expiryOffset = 5 * time.Minute

// Validate validates that this AccessToken can be used. A failure is a cache
// miss, not an error surfaced to the application.
func (a AccessToken) Validate() error {
	if a.CachedAt.T.After(time.Now()) {
		return errors.New("access token isn't valid, it was cached at a future time")
	}
	if a.ExpiresOn.T.Before(time.Now().Add(expiryOffset)) {
		return fmt.Errorf("access token is expired")
	}
	if a.CachedAt.T.IsZero() {
		return fmt.Errorf("access token does not have CachedAt set")
	}
	return nil
}

// schemaValid reports whether a stored record has the fields every access
// token must carry. Records failing this are skipped during cache scans so a
// single corrupted entry cannot break iteration over the rest.
func (a AccessToken) schemaValid() bool {
	return a.HomeAccountID != "" && a.Environment != "" &&
		a.CredentialType == shared.CredentialTypeAccessToken && a.Secret != ""
}

// IDToken is the JSON representation of an ID token for encoding to storage.
type IDToken struct {
	HomeAccountID    string `json:"home_account_id,omitempty"`
	Environment      string `json:"environment,omitempty"`
	Realm            string `json:"realm,omitempty"`
	CredentialType   string `json:"credential_type,omitempty"`
	ClientID         string `json:"client_id,omitempty"`
	Secret           string `json:"secret,omitempty"`
	AdditionalFields map[string]interface{}
}

// NewIDToken is the constructor for IDToken.
func NewIDToken(homeID, env, realm, clientID, idToken string) IDToken {
	return IDToken{
		HomeAccountID:  homeID,
		Environment:    env,
		Realm:          realm,
		CredentialType: shared.CredentialTypeIDToken,
		ClientID:       clientID,
		Secret:         idToken,
	}
}

// Key outputs the key that can be used to uniquely look up this entry in a map.
func (id IDToken) Key() string {
	return shared.CredentialKey(id.HomeAccountID, id.Environment, id.CredentialType, id.ClientID, id.Realm, "")
}

// IsZero determines if IDToken is the zero value.
func (id IDToken) IsZero() bool {
	switch {
	case id.HomeAccountID != "":
		return false
	case id.Environment != "":
		return false
	case id.Realm != "":
		return false
	case id.CredentialType != "":
		return false
	case id.ClientID != "":
		return false
	case id.Secret != "":
		return false
	case id.AdditionalFields != nil:
		return false
	}
	return true
}

func (id IDToken) schemaValid() bool {
	return id.HomeAccountID != "" && id.Environment != "" &&
		id.CredentialType == shared.CredentialTypeIDToken && id.Secret != ""
}

// AppMetaData is the JSON representation of application metadata for encoding to storage.
// It records whether a client participates in a refresh token family.
type AppMetaData struct {
	FamilyID    string `json:"family_id,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
	Environment string `json:"environment,omitempty"`

	AdditionalFields map[string]interface{}
}

// NewAppMetaData is the constructor for AppMetaData.
func NewAppMetaData(familyID, clientID, environment string) AppMetaData {
	return AppMetaData{
		FamilyID:    familyID,
		ClientID:    clientID,
		Environment: environment,
	}
}

// Key outputs the key that can be used to uniquely look up this entry in a map.
func (a AppMetaData) Key() string {
	return strings.ToLower(strings.Join(
		[]string{"AppMetaData", a.Environment, a.ClientID},
		shared.CacheKeySeparator,
	))
}
