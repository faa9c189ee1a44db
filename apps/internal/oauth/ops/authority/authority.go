// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package authority handles authority metadata: parsing authority URIs,
// the trusted host registry, OAuth response plumbing shared by every
// endpoint, and the REST calls for tenant and instance discovery.
package authority

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	internalerrors "github.com/msidentity/microsoft-identity-client-for-go/apps/errors"
)

const (
	authorizationEndpoint     = "https://%v/%v/oauth2/v2.0/authorize"
	instanceDiscoveryEndpoint = "https://%v/common/discovery/instance"
	defaultHost               = "login.microsoftonline.com"
)

// Authority types stored on account entities. These strings are part of the
// persisted cache contract and must not be renamed.
const (
	AccountTypeMSSTS   = "MSSTS"
	AccountTypeADFS    = "ADFS"
	AccountTypeMSA     = "MSA"
	AccountTypeGeneric = "Generic"
)

type jsonCaller interface {
	JSONCall(ctx context.Context, endpoint string, headers http.Header, qv url.Values, body, resp interface{}) error
}

// Registry is the set of authority hosts a client trusts. It is constructed
// once at client configuration time and handed to the components that resolve
// authorities; there is no process-wide mutable list.
type Registry struct {
	hosts map[string]bool
}

// NewRegistry creates a Registry trusting exactly the given hosts.
func NewRegistry(hosts ...string) Registry {
	m := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		m[strings.ToLower(h)] = true
	}
	return Registry{hosts: m}
}

// Trusted reports whether host is in the registry.
func (r Registry) Trusted(host string) bool {
	return r.hosts[strings.ToLower(host)]
}

// DefaultRegistry trusts the well known AAD hosts. Sovereign or private cloud
// deployments construct their own registry.
var DefaultRegistry = NewRegistry(
	"login.windows.net",            // Microsoft Azure Worldwide - Used in validation scenarios where host is not this list
	"login.chinacloudapi.cn",       // Microsoft Azure China
	"login.microsoftonline.de",     // Microsoft Azure Blackforest
	"login-us.microsoftonline.com", // Microsoft Azure US Government - Legacy
	"login.microsoftonline.us",     // Microsoft Azure US Government
	"login.microsoftonline.com",    // Microsoft Azure Worldwide
	"login.cloudgovapi.us",         // Microsoft Azure US Government
)

// OAuthResponseBase is the embedded error surface every STS response carries.
type OAuthResponseBase struct {
	Error            string `json:"error"`
	SubError         string `json:"suberror"`
	ErrorDescription string `json:"error_description"`
	ErrorCodes       []int  `json:"error_codes"`
	CorrelationID    string `json:"correlation_id"`
	Claims           string `json:"claims"`
}

// Validate returns a ServerError if the response reported one.
func (r OAuthResponseBase) Validate() error {
	if r.Error == "" {
		return nil
	}
	return internalerrors.ServerError{
		Code:          r.Error,
		Description:   r.ErrorDescription,
		SubError:      r.SubError,
		CorrelationID: r.CorrelationID,
	}
}

// TenantDiscoveryResponse is the tenant endpoints from the OpenID configuration endpoint.
type TenantDiscoveryResponse struct {
	OAuthResponseBase

	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	Issuer                string `json:"issuer"`

	AdditionalFields map[string]interface{}
}

// Validate validates that the response had the correct values required.
func (r *TenantDiscoveryResponse) Validate() error {
	switch "" {
	case r.AuthorizationEndpoint:
		return errors.New("TenantDiscoveryResponse: authorize endpoint was not found in the openid configuration")
	case r.TokenEndpoint:
		return errors.New("TenantDiscoveryResponse: token endpoint was not found in the openid configuration")
	case r.Issuer:
		return errors.New("TenantDiscoveryResponse: issuer was not found in the openid configuration")
	}
	return nil
}

type InstanceDiscoveryMetadata struct {
	PreferredNetwork        string   `json:"preferred_network"`
	PreferredCache          string   `json:"preferred_cache"`
	TenantDiscoveryEndpoint string   `json:"tenant_discovery_endpoint"`
	Aliases                 []string `json:"aliases"`

	AdditionalFields map[string]interface{}
}

type InstanceDiscoveryResponse struct {
	TenantDiscoveryEndpoint string                      `json:"tenant_discovery_endpoint"`
	Metadata                []InstanceDiscoveryMetadata `json:"metadata"`

	AdditionalFields map[string]interface{}
}

//go:generate stringer -type=AuthorizationType

// AuthorizationType represents the type of token flow.
type AuthorizationType int

// These are all the types of token flows.
const (
	ATUnknown AuthorizationType = iota
	ATUsernamePassword
	ATAuthCode
	ATClientCredentials
	ATDeviceCode
	ATRefreshToken
)

// AuthParams represents the parameters used for authorization for token acquisition.
type AuthParams struct {
	AuthorityInfo     Info
	CorrelationID     string
	Endpoints         Endpoints
	ClientID          string
	Redirecturi       string
	HomeaccountID     string
	Username          string
	Password          string
	Scopes            []string
	AuthorizationType AuthorizationType
	// State is an opaque value the caller round-trips through the authorization
	// request to guard against CSRF.
	State string
	// CodeChallenge and CodeChallengeMethod carry the PKCE challenge for the
	// authorization code flow.
	CodeChallenge       string
	CodeChallengeMethod string
	Prompt              string
	LoginHint           string
	DomainHint          string
}

// NewAuthParams creates an authorization parameters object.
func NewAuthParams(clientID string, authorityInfo Info) AuthParams {
	return AuthParams{
		ClientID:      clientID,
		AuthorityInfo: authorityInfo,
		CorrelationID: uuid.New().String(),
	}
}

// Info consists of information about the authority.
type Info struct {
	Host                  string
	CanonicalAuthorityURI string
	AuthorityType         string
	UserRealmURIPrefix    string
	ValidateAuthority     bool
	Tenant                string
}

func firstPathSegment(u *url.URL) (string, error) {
	pathParts := strings.Split(u.EscapedPath(), "/")
	if len(pathParts) >= 2 && pathParts[1] != "" {
		return pathParts[1], nil
	}
	return "", errors.New(`authority must be an https URL such as "https://login.microsoftonline.com/<your tenant>"`)
}

// NewInfoFromAuthorityURI creates an Info instance from the authority URL provided.
func NewInfoFromAuthorityURI(authorityURI string, validateAuthority bool) (Info, error) {
	canonical := strings.ToLower(authorityURI)
	u, err := url.Parse(canonical)
	if err != nil {
		return Info{}, fmt.Errorf("couldn't parse authority url: %w", err)
	}
	if u.Scheme != "https" {
		return Info{}, fmt.Errorf("authority(%q) did not start with https://", authorityURI)
	}

	host := u.Hostname()
	tenant, err := firstPathSegment(u)
	if err != nil {
		return Info{}, err
	}

	authorityType := AccountTypeMSSTS
	if tenant == "adfs" {
		authorityType = AccountTypeADFS
	}

	return Info{
		Host:                  host,
		CanonicalAuthorityURI: fmt.Sprintf("https://%v/%v/", host, tenant),
		AuthorityType:         authorityType,
		UserRealmURIPrefix:    fmt.Sprintf("https://%v/common/userrealm/", host),
		ValidateAuthority:     validateAuthority,
		Tenant:                tenant,
	}, nil
}

// Endpoints consists of the endpoints from the tenant discovery response.
type Endpoints struct {
	AuthorizationEndpoint string
	TokenEndpoint         string
	selfSignedJwtAudience string
	authorityHost         string
}

// NewEndpoints creates an Endpoints object.
func NewEndpoints(authorizationEndpoint, tokenEndpoint, selfSignedJwtAudience, authorityHost string) Endpoints {
	return Endpoints{authorizationEndpoint, tokenEndpoint, selfSignedJwtAudience, authorityHost}
}

// Client represents the REST calls to authority backends.
type Client struct {
	// Comm provides the HTTP transport client.
	Comm jsonCaller // *comm.Client
	// Registry is the set of trusted authority hosts used to pick the
	// instance discovery host.
	Registry Registry
}

// GetTenantDiscoveryResponse obtains the authorize/token endpoints from the
// OpenID configuration document.
func (c Client) GetTenantDiscoveryResponse(ctx context.Context, openIDConfigurationEndpoint string) (TenantDiscoveryResponse, error) {
	resp := TenantDiscoveryResponse{}
	err := c.Comm.JSONCall(ctx, openIDConfigurationEndpoint, http.Header{}, nil, nil, &resp)
	if err != nil {
		return resp, err
	}
	if err := resp.OAuthResponseBase.Validate(); err != nil {
		return TenantDiscoveryResponse{}, err
	}
	return resp, nil
}

// AADInstanceDiscovery queries the instance discovery endpoint for the
// environment aliases of authorityInfo's host. Untrusted hosts are resolved
// through the default worldwide host.
func (c Client) AADInstanceDiscovery(ctx context.Context, authorityInfo Info) (InstanceDiscoveryResponse, error) {
	qv := url.Values{}
	qv.Set("api-version", "1.1")
	qv.Set("authorization_endpoint", fmt.Sprintf(authorizationEndpoint, authorityInfo.Host, authorityInfo.Tenant))

	discoveryHost := defaultHost
	if c.Registry.Trusted(authorityInfo.Host) {
		discoveryHost = authorityInfo.Host
	}

	endpoint := fmt.Sprintf(instanceDiscoveryEndpoint, discoveryHost)

	resp := InstanceDiscoveryResponse{}
	err := c.Comm.JSONCall(ctx, endpoint, http.Header{}, qv, nil, &resp)
	return resp, err
}
