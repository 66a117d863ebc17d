package sso

import (
	"context"
	"fmt"
	"net/http"

	"github.com/copperline/stile/pkg/observability"
	"github.com/copperline/stile/pkg/profile"
)

// Provider defines the interface for SSO providers
type Provider interface {
	// Name returns the unique provider instance name
	Name() string

	// Type returns the provider type (SAML, OIDC)
	Type() ProviderType

	// InitiateLogin redirects the browser to the identity provider
	InitiateLogin(w http.ResponseWriter, r *http.Request, state string) error

	// HandleCallback verifies the provider's response and extracts the
	// identity assertion
	HandleCallback(r *http.Request) (*profile.Assertion, error)

	// ValidateConfig validates the provider configuration
	ValidateConfig() error
}

// ProviderFactory creates SSO providers from configuration
type ProviderFactory struct {
	baseURL string
	logger  *observability.Logger
}

// NewProviderFactory creates a new provider factory. baseURL is this
// service's externally visible URL.
func NewProviderFactory(baseURL string, logger *observability.Logger) *ProviderFactory {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &ProviderFactory{
		baseURL: baseURL,
		logger:  logger,
	}
}

// CreateProvider creates a provider instance from configuration
func (f *ProviderFactory) CreateProvider(ctx context.Context, config *ProviderConfig) (Provider, error) {
	if !config.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", config.Name)
	}
	if config.Name == "" {
		return nil, fmt.Errorf("provider name is required")
	}

	switch config.Type {
	case ProviderTypeSAML:
		if config.SAML == nil {
			return nil, fmt.Errorf("SAML config is required for SAML provider")
		}
		return NewSAMLProvider(config, f.baseURL, f.logger)

	case ProviderTypeOIDC:
		if config.OIDC == nil {
			return nil, fmt.Errorf("OIDC config is required for OIDC provider")
		}
		return NewOIDCProvider(ctx, config)

	default:
		return nil, fmt.Errorf("unsupported provider type: %s", config.Type)
	}
}
