package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copperline/stile/pkg/observability"
	"github.com/copperline/stile/pkg/sso"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STILE_BASE_URL", "https://login.example.com")
	t.Setenv("STILE_STUDIO_URL", "https://studio.example.com/desk")
	t.Setenv("SANITY_PROJECT_ID", "abc123")
	t.Setenv("SANITY_TOKEN", "sk-test")
	t.Setenv("OKTA_ENTRYPOINT", "https://corp.okta.com/app/example/sso/saml")
	t.Setenv("OKTA_ISSUER", "http://www.okta.com/exk1example")
	t.Setenv("OKTA_CERT", "-----BEGIN CERTIFICATE-----_MIIB_-----END CERTIFICATE-----")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "production", cfg.Sanity.Dataset)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 30, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.True(t, cfg.Observability.MetricsEnabled)
	assert.False(t, cfg.Observability.OTelEnabled)
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("STILE_PORT", "3000")
	t.Setenv("STILE_LOG_LEVEL", "debug")
	t.Setenv("STILE_RATELIMIT_RPM", "100")
	t.Setenv("STILE_READ_TIMEOUT", "5s")
	t.Setenv("SANITY_DATASET", "staging")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "staging", cfg.Sanity.Dataset)
}

func TestLoadConfigTrimsBaseURL(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("STILE_BASE_URL", "https://login.example.com/")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://login.example.com", cfg.Server.BaseURL)
}

func TestReconstituteCert(t *testing.T) {
	flattened := "-----BEGIN CERTIFICATE-----_MIIB..._-----END CERTIFICATE-----"
	assert.Equal(t,
		"-----BEGIN CERTIFICATE-----\r\nMIIB...\r\n-----END CERTIFICATE-----",
		ReconstituteCert(flattened))
	assert.Empty(t, ReconstituteCert(""))
}

func TestValidateFailures(t *testing.T) {
	tests := []struct {
		name   string
		unset  string
		errMsg string
	}{
		{"missing base URL", "STILE_BASE_URL", "base URL"},
		{"missing studio URL", "STILE_STUDIO_URL", "studio URL"},
		{"missing project", "SANITY_PROJECT_ID", "project ID"},
		{"missing token", "SANITY_TOKEN", "token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.unset, "")

			_, err := LoadConfig()
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestValidateNoProviders(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("OKTA_ENTRYPOINT", "")
	t.Setenv("OKTA_ISSUER", "")
	t.Setenv("OKTA_CERT", "")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "no SSO provider configured")
}

func TestValidatePartialOktaConfig(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("OKTA_ISSUER", "")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "OKTA_ISSUER")
}

func TestProvidersFromEnv(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	providers, err := cfg.Providers()
	require.NoError(t, err)
	require.Len(t, providers, 1)

	okta := providers[0]
	assert.Equal(t, "okta", okta.Name)
	assert.Equal(t, sso.ProviderTypeSAML, okta.Type)
	assert.True(t, okta.Enabled)
	assert.Equal(t, "http://www.okta.com/exk1example", okta.SAML.EntityID)
	assert.Equal(t, "https://corp.okta.com/app/example/sso/saml", okta.SAML.SSOURL)
	assert.Contains(t, okta.SAML.Certificate, "BEGIN CERTIFICATE")
	assert.Equal(t, "email", okta.AttributeMapping.Email)
}

func TestProvidersFromFile(t *testing.T) {
	setRequiredEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
providers:
  - name: corp-oidc
    type: oidc
    enabled: true
    oidc:
      client_id: client
      client_secret: secret
      issuer_url: https://id.example.com
      redirect_url: https://login.example.com/auth/sso/corp-oidc/callback
      scopes: [openid, profile, email, groups]
  - name: disabled-one
    type: saml
    enabled: false
`), 0600))
	t.Setenv("STILE_PROVIDERS_FILE", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	providers, err := cfg.Providers()
	require.NoError(t, err)
	require.Len(t, providers, 2)

	assert.Equal(t, "okta", providers[0].Name)
	assert.Equal(t, "corp-oidc", providers[1].Name)
	assert.Equal(t, sso.ProviderTypeOIDC, providers[1].Type)
	assert.Equal(t, "client", providers[1].OIDC.ClientID)
}

func TestProvidersDuplicateName(t *testing.T) {
	setRequiredEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
providers:
  - name: okta
    type: saml
    enabled: true
`), 0600))
	t.Setenv("STILE_PROVIDERS_FILE", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	_, err = cfg.Providers()
	assert.ErrorContains(t, err, "duplicate provider name")
}
