// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	internalTime "github.com/msidentity/microsoft-identity-client-for-go/apps/internal/json/types/time"
	"github.com/msidentity/microsoft-identity-client-for-go/apps/internal/oauth/ops/accesstokens"
	"github.com/msidentity/microsoft-identity-client-for-go/apps/internal/oauth/ops/authority"
	"github.com/msidentity/microsoft-identity-client-for-go/apps/internal/shared"
	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/require"
)

const (
	defaultEnvironment = "login.windows.net"
	defaultHID         = "uid.utid"
	defaultRealm       = "contoso"
	defaultClientID    = "my_client_id"
	accessTokenSecret  = "an access token"
	rtSecret           = "a refresh token"
	idSecret           = "header.eyJvaWQiOiAib2JqZWN0MTIzNCIsICJwcmVmZXJyZWRfdXNlcm5hbWUiOiAiSm9obiBEb2UiLCAic3ViIjogInN1YiJ9.signature"
	accAuth            = "MSSTS"
)

func newForTest(authorityClient aadInstanceDiscoveryer) *Manager {
	m := &Manager{requests: authorityClient, aadCache: make(map[string]authority.InstanceDiscoveryMetadata)}
	m.contract = NewContract()
	return m
}

type fakeDiscoveryResponser struct {
	err bool
	ret authority.InstanceDiscoveryResponse
}

func (f *fakeDiscoveryResponser) AADInstanceDiscovery(ctx context.Context, authorityInfo authority.Info) (authority.InstanceDiscoveryResponse, error) {
	if f.err {
		return authority.InstanceDiscoveryResponse{}, errors.New("error")
	}
	return f.ret, nil
}

func TestCheckAlias(t *testing.T) {
	aliases := []string{"testOne", "testTwo", "testThree"}
	if checkAlias("noTest", aliases) {
		t.Errorf("noTest isn't supposed to be in %v", aliases)
	}
	if !checkAlias("testOne", aliases) {
		t.Errorf("testOne is supposed to be in %v", aliases)
	}
}

func TestIsMatchingScopes(t *testing.T) {
	requested := []string{"user.read", "openid", "user.write"}
	if !isMatchingScopes(requested, "openid user.write user.read") {
		t.Fatalf("equal scope sets are supposed to match")
	}
	if !isMatchingScopes(requested, "openid User.Write User.Read") {
		t.Fatalf("scope comparison is supposed to be case insensitive")
	}
	if !isMatchingScopes(requested, "openid user.write user.read extra.scope") {
		t.Fatalf("a cached superset is supposed to match")
	}
	if isMatchingScopes(requested, "openid user.read hello") {
		t.Fatalf("a cached set missing a requested scope is not supposed to match")
	}
}

func TestAllAccounts(t *testing.T) {
	testAccOne := shared.NewAccount("hid", "env", "realm", "lid", accAuth, "username")
	testAccTwo := shared.NewAccount("zhid", "zenv", "zrealm", "zlid", accAuth, "zusername")
	cache := &Contract{
		Accounts: map[string]shared.Account{
			testAccOne.Key(): testAccOne,
			testAccTwo.Key(): testAccTwo,
		},
	}

	storageManager := Manager{}
	storageManager.update(cache)

	// AllAccounts returns accounts ordered by cache key, so the result is
	// stable without any sorting here.
	expectedAccounts := []shared.Account{testAccOne, testAccTwo}
	actualAccounts := storageManager.AllAccounts()
	if diff := pretty.Compare(expectedAccounts, actualAccounts); diff != "" {
		t.Errorf("Actual accounts differ from expected accounts: -want/+got:\n%s", diff)
	}
}

func TestReadAccessToken(t *testing.T) {
	now := time.Now()
	testAccessToken := NewAccessToken(
		defaultHID,
		defaultEnvironment,
		defaultRealm,
		defaultClientID,
		now,
		now.Add(time.Hour),
		now.Add(time.Hour),
		"openid profile",
		accessTokenSecret,
	)

	cache := &Contract{
		AccessTokens: map[string]AccessToken{
			testAccessToken.Key(): testAccessToken,
		},
	}
	storageManager := newForTest(nil)
	storageManager.update(cache)

	retrievedToken, err := storageManager.readAccessToken(
		defaultHID,
		[]string{defaultEnvironment, "other_env"},
		defaultRealm,
		defaultClientID,
		[]string{"openid", "profile"},
	)
	if err != nil {
		t.Fatalf("TestReadAccessToken: got err == %s, want err == nil", err)
	}
	if diff := pretty.Compare(testAccessToken, retrievedToken); diff != "" {
		t.Fatalf("TestReadAccessToken: -want/+got:\n%s", diff)
	}

	_, err = storageManager.readAccessToken(
		"this_should_break_it",
		[]string{defaultEnvironment, "other_env"},
		defaultRealm,
		defaultClientID,
		[]string{"openid", "profile"},
	)
	if err == nil {
		t.Fatalf("TestReadAccessToken: got err == nil, want err != nil")
	}
}

// When several cached tokens are supersets of the request, the smallest one
// wins, then the lexically smallest key. Repeated reads must agree.
func TestReadAccessTokenPicksSmallestSuperset(t *testing.T) {
	now := time.Now()
	newAT := func(scopes string) AccessToken {
		return NewAccessToken(
			defaultHID, defaultEnvironment, defaultRealm, defaultClientID,
			now, now.Add(time.Hour), now.Add(time.Hour),
			scopes, "secret "+scopes,
		)
	}
	big := newAT("openid profile email user.read")
	small := newAT("openid profile")

	cache := &Contract{
		AccessTokens: map[string]AccessToken{
			big.Key():   big,
			small.Key(): small,
		},
	}
	storageManager := newForTest(nil)
	storageManager.update(cache)

	for i := 0; i < 5; i++ {
		got, err := storageManager.readAccessToken(
			defaultHID, []string{defaultEnvironment}, defaultRealm, defaultClientID,
			[]string{"openid"},
		)
		if err != nil {
			t.Fatalf("TestReadAccessTokenPicksSmallestSuperset: got err == %s, want err == nil", err)
		}
		if got.Secret != small.Secret {
			t.Fatalf("TestReadAccessTokenPicksSmallestSuperset: got scopes %q, want %q", got.Scopes, small.Scopes)
		}
	}
}

func TestReadAccessTokenEvictsExpired(t *testing.T) {
	now := time.Now()
	expired := NewAccessToken(
		defaultHID, defaultEnvironment, defaultRealm, defaultClientID,
		now.Add(-2*time.Hour), now.Add(-time.Hour), now.Add(-time.Hour),
		"openid profile", accessTokenSecret,
	)

	cache := &Contract{
		AccessTokens: map[string]AccessToken{
			expired.Key(): expired,
		},
	}
	storageManager := newForTest(nil)
	storageManager.update(cache)

	_, err := storageManager.readAccessToken(
		defaultHID, []string{defaultEnvironment}, defaultRealm, defaultClientID,
		[]string{"openid", "profile"},
	)
	if err == nil {
		t.Fatalf("TestReadAccessTokenEvictsExpired: got err == nil, want err != nil")
	}
	if _, ok := storageManager.contract.AccessTokens[expired.Key()]; ok {
		t.Fatalf("TestReadAccessTokenEvictsExpired: expired entry is still in the cache")
	}
}

func TestReadRefreshToken(t *testing.T) {
	testRefreshTokenWithFID := accesstokens.NewRefreshToken(defaultHID, defaultEnvironment, defaultClientID, rtSecret, "fid")
	testRefreshTokenWoFID := accesstokens.NewRefreshToken(defaultHID, defaultEnvironment, defaultClientID, rtSecret, "")
	testRefreshTokenWoFIDAltCID := accesstokens.NewRefreshToken(defaultHID, defaultEnvironment, "other_client_id", rtSecret, "")

	type args struct {
		homeID     string
		envAliases []string
		familyID   string
		clientID   string
	}

	tests := []struct {
		name     string
		contract *Contract
		args     args
		want     accesstokens.RefreshToken
		err      bool
	}{
		{
			name: "Token without fid, read with fid, cid, env, and hid",
			contract: &Contract{
				RefreshTokens: map[string]accesstokens.RefreshToken{
					testRefreshTokenWoFID.Key(): testRefreshTokenWoFID,
				},
			},
			args: args{
				homeID:     defaultHID,
				envAliases: []string{defaultEnvironment},
				familyID:   "fid",
				clientID:   defaultClientID,
			},
			want: testRefreshTokenWoFID,
		},
		{
			name: "Token with fid, read with cid only",
			contract: &Contract{
				RefreshTokens: map[string]accesstokens.RefreshToken{
					testRefreshTokenWithFID.Key(): testRefreshTokenWithFID,
				},
			},
			args: args{
				homeID:     defaultHID,
				envAliases: []string{defaultEnvironment},
				familyID:   "",
				clientID:   defaultClientID,
			},
			want: testRefreshTokenWithFID,
		},
		{
			name: "Family token serves a different client in the family",
			contract: &Contract{
				RefreshTokens: map[string]accesstokens.RefreshToken{
					testRefreshTokenWithFID.Key(): testRefreshTokenWithFID,
				},
			},
			args: args{
				homeID:     defaultHID,
				envAliases: []string{defaultEnvironment},
				familyID:   "fid",
				clientID:   "other_client_id",
			},
			want: testRefreshTokenWithFID,
		},
		{
			name: "Foreign token without fid is not returned for another client",
			contract: &Contract{
				RefreshTokens: map[string]accesstokens.RefreshToken{
					testRefreshTokenWoFIDAltCID.Key(): testRefreshTokenWoFIDAltCID,
				},
			},
			args: args{
				homeID:     defaultHID,
				envAliases: []string{defaultEnvironment},
				familyID:   "",
				clientID:   defaultClientID,
			},
			err: true,
		},
		{
			name: "No token matches the home account",
			contract: &Contract{
				RefreshTokens: map[string]accesstokens.RefreshToken{
					testRefreshTokenWoFID.Key(): testRefreshTokenWoFID,
				},
			},
			args: args{
				homeID:     "other_hid",
				envAliases: []string{defaultEnvironment},
				familyID:   "",
				clientID:   defaultClientID,
			},
			err: true,
		},
	}

	for _, test := range tests {
		manager := newForTest(nil)
		manager.update(test.contract)

		got, err := manager.readRefreshToken(test.args.homeID, test.args.envAliases, test.args.familyID, test.args.clientID)
		switch {
		case err == nil && test.err:
			t.Errorf("TestReadRefreshToken(%s): got err == nil, want err != nil", test.name)
			continue
		case err != nil && !test.err:
			t.Errorf("TestReadRefreshToken(%s): got err == %s, want err == nil", test.name, err)
			continue
		case err != nil:
			continue
		}
		if diff := pretty.Compare(test.want, got); diff != "" {
			t.Errorf("TestReadRefreshToken(%s): -want/+got:\n%s", test.name, diff)
		}
	}
}

func TestRefreshTokenFamilyKeyFallback(t *testing.T) {
	withFID := accesstokens.NewRefreshToken(defaultHID, defaultEnvironment, defaultClientID, rtSecret, "1")
	want := "uid.utid-login.windows.net-refreshtoken-1--"
	if got := withFID.Key(); got != want {
		t.Errorf("TestRefreshTokenFamilyKeyFallback(with family): got %q, want %q", got, want)
	}

	woFID := accesstokens.NewRefreshToken(defaultHID, defaultEnvironment, defaultClientID, rtSecret, "")
	want = "uid.utid-login.windows.net-refreshtoken-my_client_id--"
	if got := woFID.Key(); got != want {
		t.Errorf("TestRefreshTokenFamilyKeyFallback(without family): got %q, want %q", got, want)
	}
}

func TestRead(t *testing.T) {
	now := time.Now()
	accessTokenCacheItem := NewAccessToken(
		"hid",
		"env",
		"realm",
		"cid",
		now,
		now.Add(1000*time.Second),
		now.Add(1000*time.Second),
		"openid profile",
		"secret",
	)
	testIDToken := NewIDToken("hid", "env", "realm", "cid", "secret")
	testAppMeta := NewAppMetaData("fid", "cid", "env")
	testRefreshToken := accesstokens.NewRefreshToken("hid", "env", "cid", "secret", "fid")
	testAccount := shared.NewAccount("hid", "env", "realm", "lid", accAuth, "username")

	contract := &Contract{
		RefreshTokens: map[string]accesstokens.RefreshToken{
			testRefreshToken.Key(): testRefreshToken,
		},
		Accounts: map[string]shared.Account{
			testAccount.Key(): testAccount,
		},
		AppMetaData: map[string]AppMetaData{
			testAppMeta.Key(): testAppMeta,
		},
		IDTokens: map[string]IDToken{
			testIDToken.Key(): testIDToken,
		},
		AccessTokens: map[string]AccessToken{
			accessTokenCacheItem.Key(): accessTokenCacheItem,
		},
	}

	authInfo := authority.Info{
		Host:   "env",
		Tenant: "realm",
	}
	authParameters := authority.AuthParams{
		HomeaccountID: "hid",
		AuthorityInfo: authInfo,
		ClientID:      "cid",
		Scopes:        []string{"openid", "profile"},
	}

	tests := []struct {
		desc        string
		discRespErr bool
		discResp    authority.InstanceDiscoveryResponse
		account     shared.Account
		err         bool
		want        TokenResponse
	}{
		{
			desc:        "Error: AAD Discovery Fails",
			discRespErr: true,
			err:         true,
		},
		{
			desc: "Success with zero account: only access token returned",
			discResp: authority.InstanceDiscoveryResponse{
				TenantDiscoveryEndpoint: "tenant",
				Metadata: []authority.InstanceDiscoveryMetadata{
					{Aliases: []string{"env", "alias2"}},
				},
			},
			want: TokenResponse{
				AccessToken: accessTokenCacheItem,
			},
		},
		{
			desc:    "Success with account: everything returned",
			account: testAccount,
			discResp: authority.InstanceDiscoveryResponse{
				TenantDiscoveryEndpoint: "tenant",
				Metadata: []authority.InstanceDiscoveryMetadata{
					{Aliases: []string{"env", "alias2"}},
					{Aliases: []string{"alias3", "alias4"}},
				},
			},
			want: TokenResponse{
				AccessToken:  accessTokenCacheItem,
				RefreshToken: testRefreshToken,
				IDToken:      testIDToken,
				Account:      testAccount,
			},
		},
	}

	for _, test := range tests {
		responder := &fakeDiscoveryResponser{err: test.discRespErr, ret: test.discResp}
		manager := newForTest(responder)
		manager.update(contract)

		got, err := manager.Read(context.Background(), authParameters, test.account)
		switch {
		case err == nil && test.err:
			t.Errorf("TestRead(%s): got err == nil, want err != nil", test.desc)
			continue
		case err != nil && !test.err:
			t.Errorf("TestRead(%s): got err == %s, want err == nil", test.desc, err)
			continue
		case err != nil:
			continue
		}

		if diff := pretty.Compare(test.want, got); diff != "" {
			t.Errorf("TestRead(%s): -want/+got:\n%s", test.desc, diff)
		}
	}
}

// An expired access token must not block the refresh token from coming back,
// otherwise the silent flow could never fall back to a refresh.
func TestReadReturnsRefreshTokenWhenAccessTokenExpired(t *testing.T) {
	now := time.Now()
	expired := NewAccessToken(
		"hid", "env", "realm", "cid",
		now.Add(-2*time.Hour), now.Add(-time.Hour), now.Add(-time.Hour),
		"openid profile", "secret",
	)
	testRefreshToken := accesstokens.NewRefreshToken("hid", "env", "cid", "secret", "")
	testAccount := shared.NewAccount("hid", "env", "realm", "lid", accAuth, "username")

	contract := &Contract{
		RefreshTokens: map[string]accesstokens.RefreshToken{
			testRefreshToken.Key(): testRefreshToken,
		},
		Accounts: map[string]shared.Account{
			testAccount.Key(): testAccount,
		},
		AccessTokens: map[string]AccessToken{
			expired.Key(): expired,
		},
	}

	responder := &fakeDiscoveryResponser{ret: authority.InstanceDiscoveryResponse{
		Metadata: []authority.InstanceDiscoveryMetadata{{Aliases: []string{"env"}}},
	}}
	manager := newForTest(responder)
	manager.update(contract)

	authParameters := authority.AuthParams{
		HomeaccountID: "hid",
		AuthorityInfo: authority.Info{Host: "env", Tenant: "realm"},
		ClientID:      "cid",
		Scopes:        []string{"openid", "profile"},
	}

	got, err := manager.Read(context.Background(), authParameters, testAccount)
	require.NoError(t, err)
	require.True(t, got.AccessToken.Secret == "", "expired access token should not be returned")
	require.Equal(t, testRefreshToken.Secret, got.RefreshToken.Secret)
}

func removeSubSeconds(t time.Time) time.Time {
	return t.Add(-time.Duration(t.Nanosecond()))
}

func TestWrite(t *testing.T) {
	now := removeSubSeconds(time.Now().UTC())

	cacheManager := newForTest(nil)
	clientInfo := accesstokens.ClientInfo{
		UID:  "testUID",
		UTID: "testUtid",
	}
	idToken := accesstokens.IDToken{
		RawToken:          "idToken",
		Oid:               "lid",
		PreferredUsername: "username",
	}
	expiresOn := internalTime.DurationTime{T: now.Add(1000 * time.Second)}
	tokenResponse := accesstokens.TokenResponse{
		AccessToken:   "accessToken",
		RefreshToken:  "refreshToken",
		IDToken:       idToken,
		FamilyID:      "fid",
		ClientInfo:    clientInfo,
		GrantedScopes: accesstokens.Scopes{Slice: []string{"openid", "profile"}},
		ExpiresOn:     expiresOn,
		ExtExpiresOn:  internalTime.DurationTime{T: now},
	}
	authInfo := authority.Info{Host: "env", Tenant: "realm", AuthorityType: accAuth}
	authParams := authority.AuthParams{
		AuthorityInfo: authInfo,
		ClientID:      "cid",
	}
	testRefreshToken := accesstokens.NewRefreshToken(
		"testUID.testUtid",
		"env",
		"cid",
		"refreshToken",
		"fid",
	)

	wantAccessToken := NewAccessToken(
		"testUID.testUtid",
		"env",
		"realm",
		"cid",
		now,
		now.Add(1000*time.Second),
		now,
		"openid profile",
		"accessToken",
	)

	testIDToken := NewIDToken(
		"testUID.testUtid",
		"env",
		"realm",
		"cid",
		"idToken",
	)

	testAccount := shared.NewAccount("testUID.testUtid", "env", "realm", "lid", accAuth, "username")
	testAppMeta := NewAppMetaData("fid", "cid", "env")

	actualAccount, err := cacheManager.Write(authParams, tokenResponse)
	if err != nil {
		t.Fatalf("TestWrite: got err == %s, want err == nil", err)
	}
	if diff := pretty.Compare(testAccount, actualAccount); diff != "" {
		t.Errorf("TestWrite(account result): -want/+got:\n%s", diff)
	}

	gotRefresh, ok := cacheManager.contract.RefreshTokens[testRefreshToken.Key()]
	if !ok {
		t.Fatalf("TestWrite(refresh token): refresh token was not written as expected")
	}
	if diff := pretty.Compare(testRefreshToken, gotRefresh); diff != "" {
		t.Fatalf("TestWrite(refresh token): -want/+got\n%s", diff)
	}

	gotAccess, ok := cacheManager.contract.AccessTokens[wantAccessToken.Key()]
	if !ok {
		t.Fatalf("TestWrite(access token): access token was not written as expected")
	}

	// CachedAt is generated for this exact moment, not from input. We simply
	// check it is not zero and then zero it for the got/want comparison.
	if gotAccess.CachedAt.T.IsZero() {
		t.Fatalf("TestWrite(access token): AccessToken.CachedAt is the zero value, which is incorrect")
	}
	gotAccess.CachedAt = internalTime.Unix{}
	wantAccessToken.CachedAt = internalTime.Unix{}
	if diff := pretty.Compare(wantAccessToken, gotAccess); diff != "" {
		t.Fatalf("TestWrite(access token): -want/+got\n%s", diff)
	}

	gotToken, ok := cacheManager.contract.IDTokens[testIDToken.Key()]
	if !ok {
		t.Fatalf("TestWrite(id token): id token was not written as expected")
	}
	if diff := pretty.Compare(testIDToken, gotToken); diff != "" {
		t.Fatalf("TestWrite(id token): -want/+got\n%s", diff)
	}

	gotAccount, ok := cacheManager.contract.Accounts[testAccount.Key()]
	if !ok {
		t.Fatalf("TestWrite(account): account was not written as expected")
	}
	if diff := pretty.Compare(testAccount, gotAccount); diff != "" {
		t.Fatalf("TestWrite(account): -want/+got\n%s", diff)
	}

	gotMeta, ok := cacheManager.contract.AppMetaData[testAppMeta.Key()]
	if !ok {
		t.Fatalf("TestWrite(app metadata): metadata was not written as expected")
	}
	if diff := pretty.Compare(testAppMeta, gotMeta); diff != "" {
		t.Fatalf("TestWrite(app metadata): -want/+got\n%s", diff)
	}
}

// Writing a second response for the same user, client and scopes must
// overwrite in place, not grow the cache.
func TestWriteOverwritesExistingEntries(t *testing.T) {
	now := time.Now().UTC()
	cacheManager := newForTest(nil)

	makeResponse := func(secret string) accesstokens.TokenResponse {
		return accesstokens.TokenResponse{
			AccessToken:   secret,
			RefreshToken:  "rt-" + secret,
			IDToken:       accesstokens.IDToken{RawToken: "idToken", Oid: "lid", PreferredUsername: "username"},
			ClientInfo:    accesstokens.ClientInfo{UID: "uid", UTID: "utid"},
			GrantedScopes: accesstokens.Scopes{Slice: []string{"openid", "profile"}},
			ExpiresOn:     internalTime.DurationTime{T: now.Add(1000 * time.Second)},
		}
	}
	authParams := authority.AuthParams{
		AuthorityInfo: authority.Info{Host: "env", Tenant: "realm", AuthorityType: accAuth},
		ClientID:      "cid",
	}

	if _, err := cacheManager.Write(authParams, makeResponse("first")); err != nil {
		t.Fatalf("TestWriteOverwritesExistingEntries: first write: %s", err)
	}
	if _, err := cacheManager.Write(authParams, makeResponse("second")); err != nil {
		t.Fatalf("TestWriteOverwritesExistingEntries: second write: %s", err)
	}

	if n := len(cacheManager.contract.AccessTokens); n != 1 {
		t.Fatalf("TestWriteOverwritesExistingEntries: got %d access tokens, want 1", n)
	}
	for _, at := range cacheManager.contract.AccessTokens {
		if at.Secret != "second" {
			t.Fatalf("TestWriteOverwritesExistingEntries: got secret %q, want %q", at.Secret, "second")
		}
	}
	if n := len(cacheManager.contract.RefreshTokens); n != 1 {
		t.Fatalf("TestWriteOverwritesExistingEntries: got %d refresh tokens, want 1", n)
	}
	if n := len(cacheManager.contract.Accounts); n != 1 {
		t.Fatalf("TestWriteOverwritesExistingEntries: got %d accounts, want 1", n)
	}
}

func TestRemoveAccount(t *testing.T) {
	now := time.Now()
	testAccessToken := NewAccessToken("hid", "env", "realm", "cid", now, now, now, "openid profile", "secret")
	testIDToken := NewIDToken("hid", "env", "realm", "cid", "secret")
	testAppMeta := NewAppMetaData("fid", "cid", "env")
	testRefreshToken := accesstokens.NewRefreshToken("hid", "env", "cid", "secret", "fid")
	testAccount := shared.NewAccount("hid", "env", "realm", "lid", accAuth, "username")

	contract := &Contract{
		RefreshTokens: map[string]accesstokens.RefreshToken{
			testRefreshToken.Key(): testRefreshToken,
		},
		Accounts: map[string]shared.Account{
			testAccount.Key(): testAccount,
		},
		AppMetaData: map[string]AppMetaData{
			testAppMeta.Key(): testAppMeta,
		},
		IDTokens: map[string]IDToken{
			testIDToken.Key(): testIDToken,
		},
		AccessTokens: map[string]AccessToken{
			testAccessToken.Key(): testAccessToken,
		},
	}
	manager := newForTest(nil)
	manager.update(contract)
	if err := manager.RemoveAccount(context.Background(), testAccount, "cid"); err != nil {
		t.Fatalf("TestRemoveAccount: got err == %s, want err == nil", err)
	}
	if val, ok := manager.contract.RefreshTokens[testRefreshToken.Key()]; ok {
		t.Fatalf("TestRemoveAccount: got refreshToken == %v, want refreshToken == empty", val)
	}
	if val, ok := manager.contract.AccessTokens[testAccessToken.Key()]; ok {
		t.Fatalf("TestRemoveAccount: got accessToken == %v, want accessToken == empty", val)
	}
	if val, ok := manager.contract.IDTokens[testIDToken.Key()]; ok {
		t.Fatalf("TestRemoveAccount: got IDToken == %v, want IDToken == empty", val)
	}
	if val, ok := manager.contract.Accounts[testAccount.Key()]; ok {
		t.Fatalf("TestRemoveAccount: got Account == %v, want Account == empty", val)
	}

	// Removing again is a no-op, not an error.
	if err := manager.RemoveAccount(context.Background(), testAccount, "cid"); err != nil {
		t.Fatalf("TestRemoveAccount(second removal): got err == %s, want err == nil", err)
	}
}

func TestRemoveEmptyAccount(t *testing.T) {
	now := time.Now()
	testAccessToken := NewAccessToken("hid", "env", "realm", "cid", now, now, now, "openid profile", "secret")
	testAccount := shared.NewAccount("hid", "env", "realm", "lid", accAuth, "username")

	contract := &Contract{
		Accounts: map[string]shared.Account{
			testAccount.Key(): testAccount,
		},
		AccessTokens: map[string]AccessToken{
			testAccessToken.Key(): testAccessToken,
		},
	}
	manager := newForTest(nil)
	manager.update(contract)
	if err := manager.RemoveAccount(context.Background(), shared.Account{}, "cid"); err != nil {
		t.Fatalf("TestRemoveEmptyAccount: got err == %s, want err == nil", err)
	}
	if _, ok := manager.contract.AccessTokens[testAccessToken.Key()]; !ok {
		t.Fatalf("TestRemoveEmptyAccount: got accessToken == empty, want it untouched")
	}
	if _, ok := manager.contract.Accounts[testAccount.Key()]; !ok {
		t.Fatalf("TestRemoveEmptyAccount: got Account == empty, want it untouched")
	}
}

func TestSerializationRoundTrip(t *testing.T) {
	now := time.Now()
	testAccessToken := NewAccessToken(defaultHID, defaultEnvironment, defaultRealm, defaultClientID, now, now.Add(time.Hour), now.Add(time.Hour), "s1 s2", accessTokenSecret)
	testRefreshToken := accesstokens.NewRefreshToken(defaultHID, defaultEnvironment, defaultClientID, rtSecret, "")
	testIDToken := NewIDToken(defaultHID, defaultEnvironment, defaultRealm, defaultClientID, idSecret)
	testAccount := shared.NewAccount(defaultHID, defaultEnvironment, defaultRealm, "object1234", accAuth, "John Doe")
	testAppMeta := NewAppMetaData("", defaultClientID, defaultEnvironment)

	src := newForTest(nil)
	src.update(&Contract{
		AccessTokens:  map[string]AccessToken{testAccessToken.Key(): testAccessToken},
		RefreshTokens: map[string]accesstokens.RefreshToken{testRefreshToken.Key(): testRefreshToken},
		IDTokens:      map[string]IDToken{testIDToken.Key(): testIDToken},
		Accounts:      map[string]shared.Account{testAccount.Key(): testAccount},
		AppMetaData:   map[string]AppMetaData{testAppMeta.Key(): testAppMeta},
	})

	b, err := src.Marshal()
	require.NoError(t, err)

	dst := newForTest(nil)
	require.NoError(t, dst.Unmarshal(b))

	// Comparing the contracts via their serialized form sidesteps time.Time
	// equality issues (monotonic readings, timezone pointers).
	b2, err := dst.Marshal()
	require.NoError(t, err)
	require.JSONEq(t, string(b), string(b2))
}

// One undecodable entry must not poison the rest of the cache: the entry is
// dropped, everything else loads.
func TestUnmarshalSkipsCorruptEntries(t *testing.T) {
	payload := []byte(`{
		"AccessToken": {
			"good-key": {
				"home_account_id": "uid.utid",
				"environment": "login.windows.net",
				"realm": "contoso",
				"credential_type": "AccessToken",
				"client_id": "my_client_id",
				"secret": "an access token",
				"target": "s1 s2",
				"cached_at": "1000",
				"expires_on": "4600"
			},
			"corrupt-key": {
				"home_account_id": "uid.utid",
				"cached_at": ["not", "a", "timestamp"]
			}
		},
		"RefreshToken": {
			"rt-key": {
				"home_account_id": "uid.utid",
				"environment": "login.windows.net",
				"credential_type": "RefreshToken",
				"client_id": "my_client_id",
				"secret": "a refresh token"
			}
		},
		"Account": {},
		"IdToken": {},
		"AppMetadata": {}
	}`)

	manager := newForTest(nil)
	require.NoError(t, manager.Unmarshal(payload))

	require.Len(t, manager.contract.AccessTokens, 1)
	require.Contains(t, manager.contract.AccessTokens, "good-key")
	require.Len(t, manager.contract.RefreshTokens, 1)
}

// Top level sections we do not model must survive a load/store cycle
// untouched, for the benefit of other implementations sharing the cache file.
func TestUnmarshalKeepsUnknownSections(t *testing.T) {
	payload := []byte(`{"AccessToken":{},"RefreshToken":{},"IdToken":{},"Account":{},"AppMetadata":{},"UnknownSection":{"key":"value"}}`)

	manager := newForTest(nil)
	require.NoError(t, manager.Unmarshal(payload))
	require.Contains(t, manager.contract.AdditionalFields, "UnknownSection")

	b, err := manager.Marshal()
	require.NoError(t, err)
	require.Contains(t, string(b), "UnknownSection")
}

func TestUnmarshalBadTopLevelJSON(t *testing.T) {
	manager := newForTest(nil)
	if err := manager.Unmarshal([]byte(`{not json`)); err == nil {
		t.Fatalf("TestUnmarshalBadTopLevelJSON: got err == nil, want err != nil")
	}
}
