package sso

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/copperline/stile/pkg/profile"
)

// OIDCProvider implements OpenID Connect SSO for identity providers without
// a SAML app, using the standard authorization code flow.
type OIDCProvider struct {
	config       *ProviderConfig
	attrs        AttributeMap
	provider     *oidc.Provider
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
}

// NewOIDCProvider creates a new OIDC provider using issuer discovery
func NewOIDCProvider(ctx context.Context, config *ProviderConfig) (*OIDCProvider, error) {
	if config.OIDC == nil {
		return nil, fmt.Errorf("OIDC config is required")
	}

	provider, err := oidc.NewProvider(ctx, config.OIDC.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID: config.OIDC.ClientID,
	})

	oauth2Config := &oauth2.Config{
		ClientID:     config.OIDC.ClientID,
		ClientSecret: config.OIDC.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  config.OIDC.RedirectURL,
		Scopes:       config.OIDC.Scopes,
	}

	return &OIDCProvider{
		config:       config,
		attrs:        config.AttributeMapping.withDefaults(),
		provider:     provider,
		verifier:     verifier,
		oauth2Config: oauth2Config,
	}, nil
}

// Name returns the provider instance name
func (p *OIDCProvider) Name() string {
	return p.config.Name
}

// Type returns the provider type
func (p *OIDCProvider) Type() ProviderType {
	return ProviderTypeOIDC
}

// InitiateLogin redirects to the OIDC authorization endpoint
func (p *OIDCProvider) InitiateLogin(w http.ResponseWriter, r *http.Request, state string) error {
	authURL := p.oauth2Config.AuthCodeURL(state)
	http.Redirect(w, r, authURL, http.StatusFound)
	return nil
}

// HandleCallback exchanges the authorization code, verifies the ID token,
// and extracts the identity assertion
func (p *OIDCProvider) HandleCallback(r *http.Request) (*profile.Assertion, error) {
	code := r.URL.Query().Get("code")
	if code == "" {
		return nil, fmt.Errorf("missing authorization code")
	}

	ctx := r.Context()
	oauth2Token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("missing id_token in response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}

	assertion := &profile.Assertion{
		Email:     getStringValue(claims, p.attrs.Email),
		FirstName: getStringValue(claims, p.attrs.FirstName),
		LastName:  getStringValue(claims, p.attrs.LastName),
		Groups:    getGroupsValue(claims, p.attrs.Groups),
	}

	if assertion.FirstName == "" {
		assertion.FirstName = getStringValue(claims, "given_name")
	}
	if assertion.LastName == "" {
		assertion.LastName = getStringValue(claims, "family_name")
	}

	if assertion.Email == "" {
		return nil, fmt.Errorf("missing email in OIDC token")
	}

	return assertion, nil
}

// ValidateConfig validates the OIDC configuration
func (p *OIDCProvider) ValidateConfig() error {
	cfg := p.config.OIDC
	if cfg == nil {
		return fmt.Errorf("OIDC config is required")
	}

	if cfg.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if cfg.ClientSecret == "" {
		return fmt.Errorf("client_secret is required")
	}
	if cfg.IssuerURL == "" {
		return fmt.Errorf("issuer_url is required")
	}
	if cfg.RedirectURL == "" {
		return fmt.Errorf("redirect_url is required")
	}

	hasOpenID := false
	for _, scope := range cfg.Scopes {
		if scope == "openid" {
			hasOpenID = true
			break
		}
	}
	if !hasOpenID {
		return fmt.Errorf("'openid' scope is required for OIDC")
	}

	return nil
}

func getStringValue(data map[string]interface{}, key string) string {
	if key == "" {
		return ""
	}
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// getGroupsValue coerces a groups claim to a slice; providers emit either a
// list or a single string when only one group is asserted
func getGroupsValue(data map[string]interface{}, key string) []string {
	if key == "" {
		return nil
	}
	switch val := data[key].(type) {
	case []interface{}:
		result := make([]string, 0, len(val))
		for _, item := range val {
			if str, ok := item.(string); ok {
				result = append(result, str)
			}
		}
		return result
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	}
	return nil
}
