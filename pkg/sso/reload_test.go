package sso

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReloadTestProvider(t *testing.T, certFile string) *SAMLProvider {
	t.Helper()
	provider, err := NewSAMLProvider(&ProviderConfig{
		Name: "okta",
		Type: ProviderTypeSAML,
		SAML: &SAMLConfig{
			EntityID:        "http://www.okta.com/exk1example",
			SSOURL:          "https://corp.okta.com/app/example/sso/saml",
			Certificate:     testCertificate,
			CertificateFile: certFile,
		},
	}, "https://login.example.com", testLogger())
	require.NoError(t, err)
	return provider
}

func quietLogrus() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestReloadCertificate(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "okta.pem")
	require.NoError(t, os.WriteFile(certFile, []byte(testCertificate), 0600))

	provider := newReloadTestProvider(t, certFile)
	reloader := NewReloader([]*SAMLProvider{provider}, quietLogrus())

	before := provider.serviceProvider()
	reloader.reloadCertificate(provider, certFile)
	assert.NotSame(t, before, provider.serviceProvider())
}

func TestReloadCertificateInvalidPEMKeepsOld(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "okta.pem")
	require.NoError(t, os.WriteFile(certFile, []byte("garbage"), 0600))

	provider := newReloadTestProvider(t, certFile)
	reloader := NewReloader([]*SAMLProvider{provider}, quietLogrus())

	before := provider.serviceProvider()
	reloader.reloadCertificate(provider, certFile)
	assert.Same(t, before, provider.serviceProvider())
}

func TestReloaderStartStop(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "okta.pem")
	require.NoError(t, os.WriteFile(certFile, []byte(testCertificate), 0600))

	provider := newReloadTestProvider(t, certFile)
	reloader := NewReloader([]*SAMLProvider{provider}, quietLogrus())

	require.NoError(t, reloader.Start("@every 1h"))
	reloader.Stop()
}
