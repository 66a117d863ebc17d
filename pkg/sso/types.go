package sso

// ProviderType represents the SSO provider type
type ProviderType string

const (
	ProviderTypeSAML ProviderType = "saml"
	ProviderTypeOIDC ProviderType = "oidc"
)

// ProviderConfig represents a single SSO provider instance
type ProviderConfig struct {
	// Name is the unique name for this provider instance, used in URLs
	Name    string       `yaml:"name" json:"name"`
	Type    ProviderType `yaml:"type" json:"type"`
	Enabled bool         `yaml:"enabled" json:"enabled"`

	SAML *SAMLConfig `yaml:"saml,omitempty" json:"saml,omitempty"`
	OIDC *OIDCConfig `yaml:"oidc,omitempty" json:"oidc,omitempty"`

	AttributeMapping AttributeMap `yaml:"attribute_mapping" json:"attribute_mapping"`
}

// SAMLConfig holds SAML 2.0 configuration
type SAMLConfig struct {
	// EntityID is the IdP issuer
	EntityID string `yaml:"entity_id" json:"entity_id"`
	// SSOURL is the IdP single sign-on entrypoint
	SSOURL string `yaml:"sso_url" json:"sso_url"`
	// Certificate is the IdP signing certificate, PEM encoded
	Certificate string `yaml:"certificate" json:"certificate"`
	// CertificateFile optionally points at a PEM file on disk, watched for
	// rotation
	CertificateFile string `yaml:"certificate_file,omitempty" json:"certificate_file,omitempty"`
	// PrivateKey signs AuthnRequests when SignRequests is set
	PrivateKey string `yaml:"private_key,omitempty" json:"-"`
	// MetadataURL enables periodic refresh of the IdP entrypoint and
	// certificates
	MetadataURL  string `yaml:"metadata_url,omitempty" json:"metadata_url,omitempty"`
	SignRequests bool   `yaml:"sign_requests" json:"sign_requests"`
	NameIDFormat string `yaml:"name_id_format,omitempty" json:"name_id_format,omitempty"`
}

// OIDCConfig holds OpenID Connect configuration
type OIDCConfig struct {
	ClientID     string   `yaml:"client_id" json:"client_id"`
	ClientSecret string   `yaml:"client_secret" json:"-"`
	IssuerURL    string   `yaml:"issuer_url" json:"issuer_url"`
	RedirectURL  string   `yaml:"redirect_url" json:"redirect_url"`
	Scopes       []string `yaml:"scopes" json:"scopes"`
}

// AttributeMap names the assertion attributes (or token claims) that carry
// each profile field
type AttributeMap struct {
	Email     string `yaml:"email" json:"email"`
	FirstName string `yaml:"first_name" json:"first_name"`
	LastName  string `yaml:"last_name" json:"last_name"`
	Groups    string `yaml:"groups" json:"groups"`
}

// DefaultAttributeMap matches the attribute statement Okta emits for a
// default SAML app
func DefaultAttributeMap() AttributeMap {
	return AttributeMap{
		Email:     "email",
		FirstName: "firstName",
		LastName:  "lastName",
		Groups:    "groups",
	}
}

// withDefaults fills unset attribute names
func (m AttributeMap) withDefaults() AttributeMap {
	def := DefaultAttributeMap()
	if m.Email == "" {
		m.Email = def.Email
	}
	if m.FirstName == "" {
		m.FirstName = def.FirstName
	}
	if m.LastName == "" {
		m.LastName = def.LastName
	}
	if m.Groups == "" {
		m.Groups = def.Groups
	}
	return m
}
