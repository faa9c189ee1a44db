// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package shared holds the account entity and the cache key codec. Keys produced
// here are part of the persisted cache contract shared with the other language
// implementations and cannot change without a cache migration.
package shared

import (
	"net/http"
	"strings"
)

const (
	// CacheKeySeparator is used in creating the keys of the cache.
	CacheKeySeparator = "-"
)

// Credential types stored in cache keys and entities. These strings are part
// of the persisted cache contract and must not be renamed. None of them is a
// substring of another, which CredentialTypeFromKey relies on; re-verify that
// before adding a type.
const (
	CredentialTypeAccessToken  = "AccessToken"
	CredentialTypeIDToken      = "IdToken"
	CredentialTypeRefreshToken = "RefreshToken"
)

// CredentialTypeFromKey classifies a credential cache key by the type name
// embedded in it. Matches are tried in the order AccessToken, IdToken,
// RefreshToken and the first wins. Returns "" for a key holding none of them.
func CredentialTypeFromKey(key string) string {
	k := strings.ToLower(key)
	switch {
	case strings.Contains(k, strings.ToLower(CredentialTypeAccessToken)):
		return CredentialTypeAccessToken
	case strings.Contains(k, strings.ToLower(CredentialTypeIDToken)):
		return CredentialTypeIDToken
	case strings.Contains(k, strings.ToLower(CredentialTypeRefreshToken)):
		return CredentialTypeRefreshToken
	}
	return ""
}

// AccountKey builds the cache key an account entity is stored under. It is a
// pure function of its inputs and never fails; empty inputs produce a
// degenerate but valid key.
func AccountKey(homeAccountID, environment string) string {
	return strings.ToLower(strings.Join([]string{homeAccountID, environment}, CacheKeySeparator))
}

// CredentialKey builds the cache key a credential entity (access token, ID
// token or refresh token) is stored under. clientOrFamilyID is the family ID
// for refresh tokens that belong to a family, otherwise the client ID. realm
// and target are empty for credential types that do not carry them, leaving
// empty segments in the key. The key is lowercased so that case variations of
// the same logical credential collide.
func CredentialKey(homeAccountID, environment, credentialType, clientOrFamilyID, realm, target string) string {
	return strings.ToLower(strings.Join(
		[]string{homeAccountID, environment, credentialType, clientOrFamilyID, realm, target},
		CacheKeySeparator,
	))
}

// Account represents an account entity in the cache. It is written only by the
// token response write path and read back during silent calls and account
// enumeration.
type Account struct {
	HomeAccountID     string `json:"home_account_id,omitempty"`
	Environment       string `json:"environment,omitempty"`
	Realm             string `json:"realm,omitempty"`
	LocalAccountID    string `json:"local_account_id,omitempty"`
	AuthorityType     string `json:"authority_type,omitempty"`
	PreferredUsername string `json:"username,omitempty"`
	GivenName         string `json:"given_name,omitempty"`
	FamilyName        string `json:"family_name,omitempty"`
	MiddleName        string `json:"middle_name,omitempty"`
	Name              string `json:"name,omitempty"`
	AlternativeID     string `json:"alternative_account_id,omitempty"`
	RawClientInfo     string `json:"client_info,omitempty"`

	AdditionalFields map[string]interface{}
}

// NewAccount creates an account.
func NewAccount(homeAccountID, env, realm, localAccountID, authorityType, username string) Account {
	return Account{
		HomeAccountID:     homeAccountID,
		Environment:       env,
		Realm:             realm,
		LocalAccountID:    localAccountID,
		AuthorityType:     authorityType,
		PreferredUsername: username,
	}
}

// Key creates the key for storing accounts in the cache. The key is stable
// across token refreshes for the same user and environment, so re-auth
// overwrites rather than duplicates.
func (acc Account) Key() string {
	return AccountKey(acc.HomeAccountID, acc.Environment)
}

// IsZero checks the zero value of account.
func (acc Account) IsZero() bool {
	switch {
	case acc.HomeAccountID != "":
		return false
	case acc.Environment != "":
		return false
	case acc.Realm != "":
		return false
	case acc.LocalAccountID != "":
		return false
	case acc.AuthorityType != "":
		return false
	case acc.PreferredUsername != "":
		return false
	case acc.GivenName != "":
		return false
	case acc.FamilyName != "":
		return false
	case acc.MiddleName != "":
		return false
	case acc.Name != "":
		return false
	case acc.AlternativeID != "":
		return false
	case acc.RawClientInfo != "":
		return false
	case acc.AdditionalFields != nil:
		return false
	}
	return true
}

// DefaultClient is our default shared HTTP client.
var DefaultClient = &http.Client{}
