package sso

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	saml2 "github.com/russellhaering/gosaml2"
	"github.com/russellhaering/gosaml2/types"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/copperline/stile/pkg/observability"
	"github.com/copperline/stile/pkg/profile"
)

// SAMLProvider implements SAML 2.0 SSO against an identity provider like
// Okta. The underlying service provider is rebuilt when the IdP certificate
// rotates or metadata is refreshed, so access goes through a lock.
type SAMLProvider struct {
	config  *ProviderConfig
	attrs   AttributeMap
	baseURL string
	logger  *observability.Logger

	mu sync.RWMutex
	sp *saml2.SAMLServiceProvider
}

// NewSAMLProvider creates a new SAML provider
func NewSAMLProvider(config *ProviderConfig, baseURL string, logger *observability.Logger) (*SAMLProvider, error) {
	if config.SAML == nil {
		return nil, fmt.Errorf("SAML config is required")
	}

	if config.SAML.Certificate == "" && config.SAML.CertificateFile != "" {
		pemData, err := os.ReadFile(config.SAML.CertificateFile)
		if err != nil {
			return nil, fmt.Errorf("reading IdP certificate file: %w", err)
		}
		config.SAML.Certificate = string(pemData)
	}

	p := &SAMLProvider{
		config:  config,
		attrs:   config.AttributeMapping.withDefaults(),
		baseURL: baseURL,
		logger:  logger,
	}

	sp, err := p.buildServiceProvider(config.SAML.SSOURL, config.SAML.Certificate)
	if err != nil {
		return nil, err
	}
	p.sp = sp

	return p, nil
}

func (p *SAMLProvider) buildServiceProvider(ssoURL, certificate string) (*saml2.SAMLServiceProvider, error) {
	certStore, err := certStoreFromPEM(certificate)
	if err != nil {
		return nil, err
	}

	var keyStore dsig.X509KeyStore
	if p.config.SAML.PrivateKey != "" {
		keyStore, err = keyStoreFromPEM(p.config.SAML.PrivateKey, certificate)
		if err != nil {
			return nil, err
		}
	}

	sp := &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      ssoURL,
		IdentityProviderIssuer:      p.config.SAML.EntityID,
		ServiceProviderIssuer:       p.baseURL + "/sso/metadata/" + p.config.Name,
		AssertionConsumerServiceURL: p.baseURL + fmt.Sprintf("/auth/sso/%s/callback", p.config.Name),
		SignAuthnRequests:           p.config.SAML.SignRequests,
		AudienceURI:                 p.baseURL,
		IDPCertificateStore:         certStore,
		SPKeyStore:                  keyStore,
	}

	if p.config.SAML.NameIDFormat != "" {
		sp.NameIdFormat = p.config.SAML.NameIDFormat
	}

	return sp, nil
}

func certStoreFromPEM(certificate string) (*dsig.MemoryX509CertificateStore, error) {
	store := &dsig.MemoryX509CertificateStore{}

	rest := []byte(certificate)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		store.Roots = append(store.Roots, cert)
	}

	if len(store.Roots) == 0 {
		return nil, fmt.Errorf("no certificates found in PEM data")
	}
	return store, nil
}

func keyStoreFromPEM(privateKey, certificate string) (dsig.X509KeyStore, error) {
	keyBlock, _ := pem.Decode([]byte(privateKey))
	if keyBlock == nil {
		return nil, fmt.Errorf("failed to decode private key PEM")
	}

	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		pkcs8Key, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		var ok bool
		key, ok = pkcs8Key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is not RSA")
		}
	}

	return &dsig.TLSCertKeyStore{
		PrivateKey:  key,
		Certificate: [][]byte{[]byte(certificate)},
	}, nil
}

// Name returns the provider instance name
func (p *SAMLProvider) Name() string {
	return p.config.Name
}

// Type returns the provider type
func (p *SAMLProvider) Type() ProviderType {
	return ProviderTypeSAML
}

func (p *SAMLProvider) serviceProvider() *saml2.SAMLServiceProvider {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sp
}

// InitiateLogin redirects to the IdP for authentication
func (p *SAMLProvider) InitiateLogin(w http.ResponseWriter, r *http.Request, state string) error {
	authURL, err := p.serviceProvider().BuildAuthURL(state)
	if err != nil {
		return fmt.Errorf("failed to build auth URL: %w", err)
	}

	http.Redirect(w, r, authURL, http.StatusFound)
	return nil
}

// HandleCallback validates the SAML response and extracts the identity
// assertion
func (p *SAMLProvider) HandleCallback(r *http.Request) (*profile.Assertion, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("failed to parse form: %w", err)
	}

	samlResponse := r.FormValue("SAMLResponse")
	if samlResponse == "" {
		return nil, fmt.Errorf("missing SAMLResponse parameter")
	}

	assertionInfo, err := p.serviceProvider().RetrieveAssertionInfo(samlResponse)
	if err != nil {
		return nil, fmt.Errorf("failed to validate assertion: %w", err)
	}

	if assertionInfo.WarningInfo != nil {
		if assertionInfo.WarningInfo.InvalidTime {
			return nil, fmt.Errorf("assertion has invalid time")
		}
		if assertionInfo.WarningInfo.NotInAudience {
			return nil, fmt.Errorf("assertion not in expected audience")
		}
	}

	return p.mapAssertion(assertionInfo)
}

// mapAssertion translates the validated SAML attribute statement into a
// profile assertion. The email attribute falls back to NameID, which Okta
// populates with the login email by default.
func (p *SAMLProvider) mapAssertion(info *saml2.AssertionInfo) (*profile.Assertion, error) {
	assertion := &profile.Assertion{}

	for _, attr := range info.Values {
		if len(attr.Values) == 0 {
			continue
		}
		switch attr.Name {
		case p.attrs.Email:
			assertion.Email = attr.Values[0].Value
		case p.attrs.FirstName:
			assertion.FirstName = attr.Values[0].Value
		case p.attrs.LastName:
			assertion.LastName = attr.Values[0].Value
		case p.attrs.Groups:
			for _, v := range attr.Values {
				if v.Value != "" {
					assertion.Groups = append(assertion.Groups, v.Value)
				}
			}
		}
	}

	if assertion.Email == "" {
		assertion.Email = info.NameID
	}
	if assertion.Email == "" {
		return nil, fmt.Errorf("missing email in SAML assertion")
	}

	return assertion, nil
}

// ReplaceCertificate swaps in a rotated IdP signing certificate
func (p *SAMLProvider) ReplaceCertificate(certificate string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	sp, err := p.buildServiceProvider(p.config.SAML.SSOURL, certificate)
	if err != nil {
		return fmt.Errorf("rebuilding service provider: %w", err)
	}

	p.config.SAML.Certificate = certificate
	p.sp = sp
	p.logger.WithField("provider", p.config.Name).Info("IdP certificate replaced")
	return nil
}

// RefreshMetadata fetches the IdP metadata document and applies any changed
// entrypoint or signing certificates
func (p *SAMLProvider) RefreshMetadata(ctx context.Context) error {
	if p.config.SAML.MetadataURL == "" {
		return fmt.Errorf("provider %s has no metadata URL", p.config.Name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.SAML.MetadataURL, nil)
	if err != nil {
		return fmt.Errorf("building metadata request: %w", err)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metadata endpoint returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading metadata: %w", err)
	}

	return p.applyMetadata(raw)
}

func (p *SAMLProvider) applyMetadata(raw []byte) error {
	metadata := &types.EntityDescriptor{}
	if err := xml.Unmarshal(raw, metadata); err != nil {
		return fmt.Errorf("parsing metadata: %w", err)
	}
	if metadata.IDPSSODescriptor == nil {
		return fmt.Errorf("metadata has no IDPSSODescriptor")
	}

	certStore := &dsig.MemoryX509CertificateStore{}
	for _, kd := range metadata.IDPSSODescriptor.KeyDescriptors {
		for _, xcert := range kd.KeyInfo.X509Data.X509Certificates {
			data := strings.Join(strings.Fields(xcert.Data), "")
			if data == "" {
				continue
			}
			der, err := base64.StdEncoding.DecodeString(data)
			if err != nil {
				return fmt.Errorf("decoding metadata certificate: %w", err)
			}
			cert, err := x509.ParseCertificate(der)
			if err != nil {
				return fmt.Errorf("parsing metadata certificate: %w", err)
			}
			certStore.Roots = append(certStore.Roots, cert)
		}
	}
	if len(certStore.Roots) == 0 {
		return fmt.Errorf("metadata contains no signing certificates")
	}

	ssoURL := p.config.SAML.SSOURL
	for _, svc := range metadata.IDPSSODescriptor.SingleSignOnServices {
		if svc.Binding == saml2.BindingHttpRedirect {
			ssoURL = svc.Location
			break
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.config.SAML.SSOURL = ssoURL
	p.sp.IdentityProviderSSOURL = ssoURL
	p.sp.IDPCertificateStore = certStore

	p.logger.WithFields(map[string]interface{}{
		"provider":     p.config.Name,
		"sso_url":      ssoURL,
		"certificates": len(certStore.Roots),
	}).Info("IdP metadata refreshed")
	return nil
}

// Metadata returns the service provider metadata document
func (p *SAMLProvider) Metadata() ([]byte, error) {
	sp := p.serviceProvider()

	var entity *types.EntityDescriptor
	if sp.SPKeyStore != nil {
		var err error
		entity, err = sp.Metadata()
		if err != nil {
			return nil, fmt.Errorf("failed to generate metadata: %w", err)
		}
	} else {
		// Without an SP keypair there are no key descriptors to publish,
		// so the descriptor is assembled directly.
		entity = &types.EntityDescriptor{
			ValidUntil: time.Now().UTC().Add(7 * 24 * time.Hour),
			EntityID:   sp.ServiceProviderIssuer,
			SPSSODescriptor: &types.SPSSODescriptor{
				AuthnRequestsSigned:        sp.SignAuthnRequests,
				WantAssertionsSigned:       true,
				ProtocolSupportEnumeration: "urn:oasis:names:tc:SAML:2.0:protocol",
				AssertionConsumerServices: []types.IndexedEndpoint{{
					Binding:  saml2.BindingHttpPost,
					Location: sp.AssertionConsumerServiceURL,
					Index:    1,
				}},
			},
		}
	}

	raw, err := xml.MarshalIndent(entity, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	return append([]byte(xml.Header), raw...), nil
}

// ValidateConfig validates the SAML configuration
func (p *SAMLProvider) ValidateConfig() error {
	cfg := p.config.SAML
	if cfg == nil {
		return fmt.Errorf("SAML config is required")
	}

	if cfg.EntityID == "" {
		return fmt.Errorf("entity_id is required")
	}
	if cfg.SSOURL == "" {
		return fmt.Errorf("sso_url is required")
	}
	if cfg.Certificate == "" {
		return fmt.Errorf("certificate is required")
	}

	if _, err := certStoreFromPEM(cfg.Certificate); err != nil {
		return err
	}

	if cfg.PrivateKey != "" {
		if _, err := keyStoreFromPEM(cfg.PrivateKey, cfg.Certificate); err != nil {
			return err
		}
	}

	return nil
}
