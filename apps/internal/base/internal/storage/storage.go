// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package storage holds all cached token information. This storage can be
// augmented with third-party extensions to provide persistent storage. In that case,
// reads and writes in upper packages will call Marshal() to take the entire in-memory
// representation and write it to storage and Unmarshal() to update the entire in-memory
// storage with what was in the persistent storage. The persistent storage can only be
// accessed in this way because multiple clients written in multiple languages can
// access the same storage and must adhere to the same method that was defined
// previously.
package storage

import (
	"context"
	stdJSON "encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/msidentity/microsoft-identity-client-for-go/apps/internal/json"
	"github.com/msidentity/microsoft-identity-client-for-go/apps/internal/oauth"
	"github.com/msidentity/microsoft-identity-client-for-go/apps/internal/oauth/ops/accesstokens"
	"github.com/msidentity/microsoft-identity-client-for-go/apps/internal/oauth/ops/authority"
	"github.com/msidentity/microsoft-identity-client-for-go/apps/internal/shared"
)

// aadInstanceDiscoveryer allows faking in tests.
// It is implemented in production by ops/authority.Client
type aadInstanceDiscoveryer interface {
	AADInstanceDiscovery(ctx context.Context, authorityInfo authority.Info) (authority.InstanceDiscoveryResponse, error)
}

// TokenResponse mimics a token response that was pulled from the cache.
type TokenResponse struct {
	RefreshToken accesstokens.RefreshToken
	IDToken      IDToken
	AccessToken  AccessToken
	Account      shared.Account
}

// Manager is an in-memory cache of access tokens, accounts and meta data. This data is
// updated on read/write calls. Unmarshal() replaces all data stored here with whatever
// was given to it on each call.
type Manager struct {
	contract   *Contract
	contractMu sync.RWMutex
	requests   aadInstanceDiscoveryer // *oauth.Client

	aadCacheMu sync.RWMutex
	aadCache   map[string]authority.InstanceDiscoveryMetadata
}

// New is the constructor for Manager.
func New(requests *oauth.Client) *Manager {
	m := &Manager{requests: requests, aadCache: make(map[string]authority.InstanceDiscoveryMetadata)}
	m.contract = NewContract()
	return m
}

func checkAlias(alias string, aliases []string) bool {
	for _, v := range aliases {
		if alias == v {
			return true
		}
	}
	return false
}

const scopeSeparator = " "

// isMatchingScopes reports whether cachedScopes (a space-separated target string)
// contains every scope in requested. A cached superset matches; scope comparison
// is done on the already-lowercased forms both sides carry.
func isMatchingScopes(requested []string, cachedScopes string) bool {
	cached := strings.Split(cachedScopes, scopeSeparator)
	count := 0
	for _, scope := range requested {
		for _, otherScope := range cached {
			if strings.EqualFold(scope, otherScope) {
				count++
				break
			}
		}
	}
	return count == len(requested)
}

// Read assembles whatever the cache holds for the request. A missing entry is
// returned as its zero value, not an error, so the caller can still use a
// refresh token when the access token is absent or expired. Only a metadata
// resolution failure is an error.
func (m *Manager) Read(ctx context.Context, authParameters authority.AuthParams, account shared.Account) (TokenResponse, error) {
	tr := TokenResponse{}
	homeAccountID := authParameters.HomeaccountID
	realm := authParameters.AuthorityInfo.Tenant
	clientID := authParameters.ClientID
	scopes := authParameters.Scopes

	metadata, err := m.getMetadataEntry(ctx, authParameters.AuthorityInfo)
	if err != nil {
		return TokenResponse{}, err
	}

	if accessToken, err := m.readAccessToken(homeAccountID, metadata.Aliases, realm, clientID, scopes); err == nil {
		tr.AccessToken = accessToken
	}

	if account.IsZero() {
		return tr, nil
	}

	if idToken, err := m.readIDToken(homeAccountID, metadata.Aliases, realm, clientID); err == nil {
		tr.IDToken = idToken
	}

	var familyID string
	if appMetadata, err := m.readAppMetaData(metadata.Aliases, clientID); err == nil {
		familyID = appMetadata.FamilyID
	}

	if refreshToken, err := m.readRefreshToken(homeAccountID, metadata.Aliases, familyID, clientID); err == nil {
		tr.RefreshToken = refreshToken
	}
	if account, err := m.readAccount(homeAccountID, metadata.Aliases, realm); err == nil {
		tr.Account = account
	}
	return tr, nil
}

// Write writes a token response to the cache and returns the account information the token is stored with.
func (m *Manager) Write(authParameters authority.AuthParams, tokenResponse accesstokens.TokenResponse) (shared.Account, error) {
	authParameters.HomeaccountID = tokenResponse.HomeAccountID()
	homeAccountID := authParameters.HomeaccountID
	environment := authParameters.AuthorityInfo.Host
	realm := authParameters.AuthorityInfo.Tenant
	clientID := authParameters.ClientID
	target := strings.Join(tokenResponse.GrantedScopes.Slice, scopeSeparator)

	cachedAt := time.Now()

	var account shared.Account

	if len(tokenResponse.RefreshToken) > 0 {
		refreshToken := accesstokens.NewRefreshToken(homeAccountID, environment, clientID, tokenResponse.RefreshToken, tokenResponse.FamilyID)
		if err := m.writeRefreshToken(refreshToken); err != nil {
			return account, err
		}
	}

	if len(tokenResponse.AccessToken) > 0 {
		accessToken := NewAccessToken(
			homeAccountID,
			environment,
			realm,
			clientID,
			cachedAt,
			tokenResponse.ExpiresOn.T,
			tokenResponse.ExtExpiresOn.T,
			target,
			tokenResponse.AccessToken,
		)

		// Since we have a valid access token, cache it before moving on.
		if err := accessToken.Validate(); err == nil {
			if err := m.writeAccessToken(accessToken); err != nil {
				return account, err
			}
		}
	}

	idTokenJwt := tokenResponse.IDToken
	if !idTokenJwt.IsZero() {
		idToken := NewIDToken(homeAccountID, environment, realm, clientID, idTokenJwt.RawToken)
		if err := m.writeIDToken(idToken); err != nil {
			return shared.Account{}, err
		}

		localAccountID := idTokenJwt.LocalAccountID()
		authorityType := authParameters.AuthorityInfo.AuthorityType

		account = shared.NewAccount(
			homeAccountID,
			environment,
			realm,
			localAccountID,
			authorityType,
			idTokenJwt.PreferredUsername,
		)
		if err := m.writeAccount(account); err != nil {
			return shared.Account{}, err
		}
	}

	appMetadata := NewAppMetaData(tokenResponse.FamilyID, clientID, environment)

	if err := m.writeAppMetaData(appMetadata); err != nil {
		return shared.Account{}, err
	}
	return account, nil
}

func (m *Manager) getMetadataEntry(ctx context.Context, authorityInfo authority.Info) (authority.InstanceDiscoveryMetadata, error) {
	// we can't defer m.aadCacheMu.RUnlock() here
	// as m.aadMetadata() takes the write lock.
	m.aadCacheMu.RLock()
	if metadata, ok := m.aadCache[authorityInfo.Host]; ok {
		m.aadCacheMu.RUnlock()
		return metadata, nil
	}
	m.aadCacheMu.RUnlock()
	metadata, err := m.aadMetadata(ctx, authorityInfo)
	if err != nil {
		return authority.InstanceDiscoveryMetadata{}, err
	}
	return metadata, nil
}

func (m *Manager) aadMetadata(ctx context.Context, authorityInfo authority.Info) (authority.InstanceDiscoveryMetadata, error) {
	m.aadCacheMu.Lock()
	defer m.aadCacheMu.Unlock()
	discoveryResponse, err := m.requests.AADInstanceDiscovery(ctx, authorityInfo)
	if err != nil {
		return authority.InstanceDiscoveryMetadata{}, err
	}

	for _, metadataEntry := range discoveryResponse.Metadata {
		metadataEntry.TenantDiscoveryEndpoint = discoveryResponse.TenantDiscoveryEndpoint
		for _, aliasedAuthority := range metadataEntry.Aliases {
			m.aadCache[aliasedAuthority] = metadataEntry
		}
	}
	// A host the discovery endpoint does not know about still needs an entry so
	// lookups against it behave as a single-alias environment.
	if _, ok := m.aadCache[authorityInfo.Host]; !ok {
		m.aadCache[authorityInfo.Host] = authority.InstanceDiscoveryMetadata{
			PreferredNetwork: authorityInfo.Host,
			PreferredCache:   authorityInfo.Host,
			Aliases:          []string{authorityInfo.Host},
		}
	}
	return m.aadCache[authorityInfo.Host], nil
}

// readAccessToken finds the live access token matching the request. When several
// cached tokens are supersets of the requested scopes, the one with the fewest
// scopes wins, then the lexically smallest key, so repeated lookups against the
// same cache always return the same entry. Expired matches are evicted.
func (m *Manager) readAccessToken(homeID string, envAliases []string, realm, clientID string, scopes []string) (AccessToken, error) {
	m.contractMu.RLock()

	var (
		bestKey string
		best    AccessToken
		found   bool
		expired []string
	)
	for key, at := range m.contract.AccessTokens {
		if !at.schemaValid() {
			continue
		}
		if at.HomeAccountID != homeID || at.Realm != realm || at.ClientID != clientID {
			continue
		}
		if !checkAlias(at.Environment, envAliases) || !isMatchingScopes(scopes, at.Scopes) {
			continue
		}
		if err := at.Validate(); err != nil {
			expired = append(expired, key)
			continue
		}
		if !found || lessAccessToken(at, key, best, bestKey) {
			best, bestKey, found = at, key, true
		}
	}
	m.contractMu.RUnlock()

	if len(expired) > 0 {
		m.contractMu.Lock()
		for _, key := range expired {
			delete(m.contract.AccessTokens, key)
		}
		m.contractMu.Unlock()
	}

	if !found {
		return AccessToken{}, fmt.Errorf("access token not found")
	}
	return best, nil
}

func lessAccessToken(a AccessToken, aKey string, b AccessToken, bKey string) bool {
	aScopes := len(strings.Split(a.Scopes, scopeSeparator))
	bScopes := len(strings.Split(b.Scopes, scopeSeparator))
	if aScopes != bScopes {
		return aScopes < bScopes
	}
	return aKey < bKey
}

func (m *Manager) writeAccessToken(accessToken AccessToken) error {
	m.contractMu.Lock()
	defer m.contractMu.Unlock()
	key := accessToken.Key()
	m.contract.AccessTokens[key] = accessToken
	return nil
}

// readRefreshToken searches for a refresh token by family first when the client
// is known to be part of a token family, otherwise by client ID first. An app is
// known to be in a family only after its first token response recorded a family
// ID in app metadata.
func (m *Manager) readRefreshToken(homeID string, envAliases []string, familyID, clientID string) (accesstokens.RefreshToken, error) {
	byFamily := func(rt accesstokens.RefreshToken) bool {
		return matchFamilyRefreshToken(rt, homeID, envAliases)
	}
	byClient := func(rt accesstokens.RefreshToken) bool {
		return matchClientIDRefreshToken(rt, homeID, envAliases, clientID)
	}

	var matchers []func(rt accesstokens.RefreshToken) bool
	if familyID == "" {
		matchers = []func(rt accesstokens.RefreshToken) bool{
			byClient, byFamily,
		}
	} else {
		matchers = []func(rt accesstokens.RefreshToken) bool{
			byFamily, byClient,
		}
	}

	m.contractMu.RLock()
	defer m.contractMu.RUnlock()
	for _, matcher := range matchers {
		for _, rt := range m.contract.RefreshTokens {
			if matcher(rt) {
				return rt, nil
			}
		}
	}

	return accesstokens.RefreshToken{}, fmt.Errorf("refresh token not found")
}

func matchFamilyRefreshToken(rt accesstokens.RefreshToken, homeID string, envAliases []string) bool {
	return rt.HomeAccountID == homeID && checkAlias(rt.Environment, envAliases) && rt.FamilyID != ""
}

func matchClientIDRefreshToken(rt accesstokens.RefreshToken, homeID string, envAliases []string, clientID string) bool {
	return rt.HomeAccountID == homeID && checkAlias(rt.Environment, envAliases) && rt.ClientID == clientID
}

func (m *Manager) writeRefreshToken(refreshToken accesstokens.RefreshToken) error {
	key := refreshToken.Key()
	m.contractMu.Lock()
	defer m.contractMu.Unlock()
	m.contract.RefreshTokens[key] = refreshToken
	return nil
}

func (m *Manager) readIDToken(homeID string, envAliases []string, realm, clientID string) (IDToken, error) {
	m.contractMu.RLock()
	defer m.contractMu.RUnlock()
	for _, idt := range m.contract.IDTokens {
		if !idt.schemaValid() {
			continue
		}
		if idt.HomeAccountID == homeID && idt.Realm == realm && idt.ClientID == clientID {
			if checkAlias(idt.Environment, envAliases) {
				return idt, nil
			}
		}
	}
	return IDToken{}, fmt.Errorf("token not found")
}

func (m *Manager) writeIDToken(idToken IDToken) error {
	key := idToken.Key()
	m.contractMu.Lock()
	defer m.contractMu.Unlock()
	m.contract.IDTokens[key] = idToken
	return nil
}

// AllAccounts returns all accounts in the cache, sorted by key so callers see a
// stable order across calls.
func (m *Manager) AllAccounts() []shared.Account {
	m.contractMu.RLock()
	defer m.contractMu.RUnlock()

	keys := make([]string, 0, len(m.contract.Accounts))
	for key := range m.contract.Accounts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	accounts := make([]shared.Account, 0, len(keys))
	for _, key := range keys {
		accounts = append(accounts, m.contract.Accounts[key])
	}
	return accounts
}

// Account returns the account matching homeAccountID, or a zero account when
// none is cached.
func (m *Manager) Account(homeAccountID string) shared.Account {
	m.contractMu.RLock()
	defer m.contractMu.RUnlock()

	for _, v := range m.contract.Accounts {
		if v.HomeAccountID == homeAccountID {
			return v
		}
	}

	return shared.Account{}
}

func (m *Manager) readAccount(homeAccountID string, envAliases []string, realm string) (shared.Account, error) {
	m.contractMu.RLock()
	defer m.contractMu.RUnlock()

	// You might ask why, if cache.Accounts is a map, we would loop through all of these instead of using a key.
	// We only use a map because the storage contract shared between all language implementations says use a map.
	// We can't change that. The other is because the keys are made using a specific "env", but here we are allowing
	// a match in multiple envs (envAlias). That means we either need to hash each possible key and do the lookup
	// or just statically check. Since the design is to have a storage.Manager per user, the amount of keys stored
	// is really low (say 2). Each hash is more expensive than the entire iteration.
	for _, acc := range m.contract.Accounts {
		if acc.HomeAccountID == homeAccountID && checkAlias(acc.Environment, envAliases) && acc.Realm == realm {
			return acc, nil
		}
	}
	return shared.Account{}, fmt.Errorf("account not found")
}

func (m *Manager) writeAccount(account shared.Account) error {
	key := account.Key()
	m.contractMu.Lock()
	defer m.contractMu.Unlock()
	m.contract.Accounts[key] = account
	return nil
}

// RemoveAccount removes the account and every credential belonging to it from
// the cache. Removing an account that is not cached is a no-op. Environment
// aliases are honored when they are already known from a prior discovery call;
// no network call is made here.
func (m *Manager) RemoveAccount(ctx context.Context, account shared.Account, clientID string) error {
	aliases := []string{account.Environment}
	m.aadCacheMu.RLock()
	if metadata, ok := m.aadCache[account.Environment]; ok && len(metadata.Aliases) > 0 {
		aliases = metadata.Aliases
	}
	m.aadCacheMu.RUnlock()

	m.contractMu.Lock()
	defer m.contractMu.Unlock()

	for key, acc := range m.contract.Accounts {
		if acc.HomeAccountID == account.HomeAccountID && checkAlias(acc.Environment, aliases) {
			delete(m.contract.Accounts, key)
		}
	}
	for key, at := range m.contract.AccessTokens {
		if at.HomeAccountID == account.HomeAccountID && checkAlias(at.Environment, aliases) && at.ClientID == clientID {
			delete(m.contract.AccessTokens, key)
		}
	}
	for key, rt := range m.contract.RefreshTokens {
		if rt.HomeAccountID == account.HomeAccountID && checkAlias(rt.Environment, aliases) {
			delete(m.contract.RefreshTokens, key)
		}
	}
	for key, idt := range m.contract.IDTokens {
		if idt.HomeAccountID == account.HomeAccountID && checkAlias(idt.Environment, aliases) && idt.ClientID == clientID {
			delete(m.contract.IDTokens, key)
		}
	}
	return nil
}

func (m *Manager) readAppMetaData(envAliases []string, clientID string) (AppMetaData, error) {
	m.contractMu.RLock()
	defer m.contractMu.RUnlock()

	for _, app := range m.contract.AppMetaData {
		if checkAlias(app.Environment, envAliases) && app.ClientID == clientID {
			return app, nil
		}
	}
	return AppMetaData{}, fmt.Errorf("not found")
}

func (m *Manager) writeAppMetaData(appMetadata AppMetaData) error {
	key := appMetadata.Key()
	m.contractMu.Lock()
	defer m.contractMu.Unlock()
	m.contract.AppMetaData[key] = appMetadata
	return nil
}

// update updates the internal cache object. This is for use in tests, other uses are not
// supported.
func (m *Manager) update(cache *Contract) {
	m.contractMu.Lock()
	defer m.contractMu.Unlock()
	m.contract = cache
}

// Marshal implements cache.Marshaler.
func (m *Manager) Marshal() ([]byte, error) {
	m.contractMu.RLock()
	defer m.contractMu.RUnlock()
	return json.Marshal(m.contract)
}

// rawContract mirrors Contract with every entry left undecoded, so one corrupt
// entry can be skipped without throwing away the rest of the section.
type rawContract struct {
	AccessTokens  map[string]stdJSON.RawMessage `json:"AccessToken"`
	RefreshTokens map[string]stdJSON.RawMessage `json:"RefreshToken"`
	IDTokens      map[string]stdJSON.RawMessage `json:"IdToken"`
	Accounts      map[string]stdJSON.RawMessage `json:"Account"`
	AppMetaData   map[string]stdJSON.RawMessage `json:"AppMetadata"`
}

// Unmarshal implements cache.Unmarshaler. Entries that cannot be decoded are
// dropped; only a payload that is not valid JSON at the top level is an error.
func (m *Manager) Unmarshal(b []byte) error {
	raw := rawContract{}
	if err := stdJSON.Unmarshal(b, &raw); err != nil {
		return err
	}

	// Sections other implementations write but we do not model ride along in
	// AdditionalFields so Marshal can hand them back untouched.
	sections := map[string]stdJSON.RawMessage{}
	if err := stdJSON.Unmarshal(b, &sections); err != nil {
		return err
	}
	for _, known := range []string{"AccessToken", "RefreshToken", "IdToken", "Account", "AppMetadata"} {
		delete(sections, known)
	}

	contract := NewContract()
	for key, msg := range sections {
		if contract.AdditionalFields == nil {
			contract.AdditionalFields = map[string]interface{}{}
		}
		contract.AdditionalFields[key] = msg
	}
	for key, msg := range raw.AccessTokens {
		var at AccessToken
		if err := json.Unmarshal(msg, &at); err == nil {
			contract.AccessTokens[key] = at
		}
	}
	for key, msg := range raw.RefreshTokens {
		var rt accesstokens.RefreshToken
		if err := json.Unmarshal(msg, &rt); err == nil {
			contract.RefreshTokens[key] = rt
		}
	}
	for key, msg := range raw.IDTokens {
		var idt IDToken
		if err := json.Unmarshal(msg, &idt); err == nil {
			contract.IDTokens[key] = idt
		}
	}
	for key, msg := range raw.Accounts {
		var acc shared.Account
		if err := json.Unmarshal(msg, &acc); err == nil {
			contract.Accounts[key] = acc
		}
	}
	for key, msg := range raw.AppMetaData {
		var app AppMetaData
		if err := json.Unmarshal(msg, &app); err == nil {
			contract.AppMetaData[key] = app
		}
	}

	m.contractMu.Lock()
	defer m.contractMu.Unlock()
	m.contract = contract
	return nil
}
