package tls

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSelfSignedCert(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "certs", "server.crt")
	keyFile := filepath.Join(dir, "certs", "server.key")

	require.NoError(t, GenerateSelfSignedCert(certFile, keyFile, "interpreterd", "10.0.0.5", "runtime.internal"))

	data, err := os.ReadFile(certFile)
	require.NoError(t, err)
	block, _ := pem.Decode(data)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	assert.Equal(t, "interpreterd", cert.Subject.CommonName)
	assert.Contains(t, cert.DNSNames, "runtime.internal")
	assert.Contains(t, cert.DNSNames, "localhost")
	var ips []string
	for _, ip := range cert.IPAddresses {
		ips = append(ips, ip.String())
	}
	assert.Contains(t, ips, "10.0.0.5")

	info, err := os.Stat(keyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestServerConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Enabled:  true,
		CertFile: filepath.Join(dir, "server.crt"),
		KeyFile:  filepath.Join(dir, "server.key"),
	}

	_, err := ServerConfig(cfg)
	assert.Error(t, err, "missing pair without generate")

	cfg.Generate = true
	serverTLS, err := ServerConfig(cfg)
	require.NoError(t, err)
	require.Len(t, serverTLS.Certificates, 1)

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	srv.TLS = serverTLS
	srv.StartTLS()
	defer srv.Close()

	clientTLS, err := ClientConfig(cfg.CertFile, "", "")
	require.NoError(t, err)
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: clientTLS}}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServerConfig_ClientCA(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		CertFile: filepath.Join(dir, "server.crt"),
		KeyFile:  filepath.Join(dir, "server.key"),
		CAFile:   filepath.Join(dir, "missing-ca.crt"),
		Generate: true,
	}
	_, err := ServerConfig(cfg)
	assert.Error(t, err)

	cfg.CAFile = cfg.CertFile
	serverTLS, err := ServerConfig(cfg)
	require.NoError(t, err)
	assert.NotNil(t, serverTLS.ClientCAs)
}
