package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/copperline/stile/pkg/sso"
)

// providersFile is the YAML document layout of the providers file
type providersFile struct {
	Providers []*sso.ProviderConfig `yaml:"providers"`
}

// Providers assembles the full SSO provider list: the env-configured Okta
// provider (if set) plus any providers defined in the YAML file.
func (c *Config) Providers() ([]*sso.ProviderConfig, error) {
	var providers []*sso.ProviderConfig

	if c.Okta.Configured() {
		providers = append(providers, &sso.ProviderConfig{
			Name:    "okta",
			Type:    sso.ProviderTypeSAML,
			Enabled: true,
			SAML: &sso.SAMLConfig{
				EntityID:        c.Okta.Issuer,
				SSOURL:          c.Okta.Entrypoint,
				Certificate:     c.Okta.Certificate,
				CertificateFile: c.Okta.CertificateFile,
				MetadataURL:     c.Okta.MetadataURL,
			},
			AttributeMapping: sso.DefaultAttributeMap(),
		})
	}

	if c.ProvidersFile != "" {
		fromFile, err := loadProvidersFile(c.ProvidersFile)
		if err != nil {
			return nil, err
		}
		providers = append(providers, fromFile...)
	}

	seen := make(map[string]struct{}, len(providers))
	for _, p := range providers {
		if _, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("duplicate provider name: %s", p.Name)
		}
		seen[p.Name] = struct{}{}
	}

	return providers, nil
}

func loadProvidersFile(path string) ([]*sso.ProviderConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading providers file: %w", err)
	}

	var doc providersFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing providers file: %w", err)
	}

	var enabled []*sso.ProviderConfig
	for _, p := range doc.Providers {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	return enabled, nil
}
