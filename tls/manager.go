package tls

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/jittering/truststore"
)

// Issuer creates the local CA and signs server certificates with it.
type Issuer interface {
	// Install creates the CA if needed and adds it to the system trust store.
	Install() error
	// MakeCert writes a certificate for hosts into dir.
	MakeCert(hosts []string, dir string) (certFile, keyFile string, err error)
}

// truststoreIssuer issues certificates with truststore, keeping the CA in
// caDir instead of the user-wide mkcert location.
type truststoreIssuer struct {
	caDir    string
	install  func() error
	makeCert func(hosts []string, dir string) (string, string, error)
}

func (i *truststoreIssuer) init() error {
	if i.install != nil {
		return nil
	}
	if err := os.MkdirAll(i.caDir, 0700); err != nil {
		return fmt.Errorf("failed to create CA directory: %w", err)
	}
	os.Setenv("CAROOT", i.caDir)

	lib, err := truststore.NewLib()
	if err != nil {
		return fmt.Errorf("failed to initialize truststore: %w", err)
	}
	i.install = lib.Install
	i.makeCert = func(hosts []string, dir string) (string, string, error) {
		cert, err := lib.MakeCert(hosts, dir)
		if err != nil {
			return "", "", err
		}
		return cert.CertFile, cert.KeyFile, nil
	}
	return nil
}

func (i *truststoreIssuer) Install() error {
	if err := i.init(); err != nil {
		return err
	}
	return i.install()
}

func (i *truststoreIssuer) MakeCert(hosts []string, dir string) (string, string, error) {
	if err := i.init(); err != nil {
		return "", "", err
	}
	return i.makeCert(hosts, dir)
}

// Certificate locates the server certificate and key on disk.
type Certificate struct {
	CertFile string
	KeyFile  string
	Hosts    []string
}

// Manager keeps the agent's server certificate in step with the machine's
// network addresses. Files live under the agent config directory:
//
//	ca/rootCA.pem     local CA
//	tls/server.crt    server certificate
//	tls/server.key    server key
//	tls/hosts.txt     hosts the certificate was issued for
type Manager struct {
	tlsDir     string
	caCertFile string
	certFile   string
	keyFile    string
	hostsFile  string
	issuer     Issuer
	logger     *log.Logger
}

// NewManager creates a manager rooted at configDir that issues through the
// system trust store.
func NewManager(configDir string) *Manager {
	caDir := filepath.Join(configDir, "ca")
	return NewManagerWithIssuer(configDir, &truststoreIssuer{caDir: caDir})
}

// NewManagerWithIssuer creates a manager with a custom issuer.
func NewManagerWithIssuer(configDir string, issuer Issuer) *Manager {
	tlsDir := filepath.Join(configDir, "tls")
	return &Manager{
		tlsDir:     tlsDir,
		caCertFile: filepath.Join(configDir, "ca", "rootCA.pem"),
		certFile:   filepath.Join(tlsDir, "server.crt"),
		keyFile:    filepath.Join(tlsDir, "server.key"),
		hostsFile:  filepath.Join(tlsDir, "hosts.txt"),
		issuer:     issuer,
		logger:     log.New(os.Stderr, "[tls] ", log.LstdFlags),
	}
}

// SetLogger replaces the manager logger.
func (m *Manager) SetLogger(logger *log.Logger) {
	m.logger = logger
}

// Ensure returns a server certificate covering the current host names,
// issuing a new one when none exists or the address set changed. Installing
// the CA may prompt the user for their password.
func (m *Manager) Ensure() (Certificate, error) {
	hosts, err := CertificateHosts()
	if err != nil {
		m.logger.Printf("Warning: failed to get LAN addresses: %v", err)
	}
	return m.EnsureFor(hosts)
}

// EnsureFor is Ensure with an explicit host list.
func (m *Manager) EnsureFor(hosts []string) (Certificate, error) {
	hosts = normalizeHosts(hosts)
	if err := os.MkdirAll(m.tlsDir, 0700); err != nil {
		return Certificate{}, fmt.Errorf("failed to create TLS directory: %w", err)
	}

	cert := Certificate{CertFile: m.certFile, KeyFile: m.keyFile, Hosts: hosts}
	switch {
	case !m.certsExist():
		m.logger.Println("Certificates not found, generating...")
	case m.hostsChanged(hosts):
		m.logger.Println("Network configuration changed, regenerating certificates...")
	default:
		m.logger.Println("Using existing certificates")
		return cert, nil
	}

	if err := m.issue(hosts); err != nil {
		return Certificate{}, err
	}
	return cert, nil
}

func (m *Manager) issue(hosts []string) error {
	m.logger.Println("Ensuring CA is installed in system trust store (you may be prompted for your password)")
	if err := m.issuer.Install(); err != nil {
		return fmt.Errorf("failed to install CA: %w", err)
	}

	m.logger.Printf("Generating certificate for hosts: %v", hosts)
	certFile, keyFile, err := m.issuer.MakeCert(hosts, m.tlsDir)
	if err != nil {
		return fmt.Errorf("failed to generate certificate: %w", err)
	}
	if err := moveFile(certFile, m.certFile); err != nil {
		return fmt.Errorf("failed to store certificate: %w", err)
	}
	if err := moveFile(keyFile, m.keyFile); err != nil {
		return fmt.Errorf("failed to store key: %w", err)
	}

	if err := os.WriteFile(m.hostsFile, []byte(strings.Join(hosts, "\n")+"\n"), 0600); err != nil {
		m.logger.Printf("Warning: failed to cache hosts: %v", err)
	}
	if fingerprint, err := m.CAFingerprint(); err == nil {
		m.logger.Printf("CA Fingerprint (SHA256): %s", fingerprint)
	}
	return nil
}

func moveFile(from, to string) error {
	if from == to {
		return nil
	}
	return os.Rename(from, to)
}

func (m *Manager) certsExist() bool {
	_, certErr := os.Stat(m.certFile)
	_, keyErr := os.Stat(m.keyFile)
	return certErr == nil && keyErr == nil
}

// hostsChanged compares hosts with the list the current certificate was
// issued for. An unreadable cache counts as a change.
func (m *Manager) hostsChanged(hosts []string) bool {
	data, err := os.ReadFile(m.hostsFile)
	if err != nil {
		return true
	}
	cached := normalizeHosts(strings.Split(string(data), "\n"))
	return strings.Join(cached, "\n") != strings.Join(normalizeHosts(hosts), "\n")
}

// CACertFile returns the path of the CA certificate.
func (m *Manager) CACertFile() string {
	return m.caCertFile
}

// ReadCACert returns the CA certificate PEM.
func (m *Manager) ReadCACert() ([]byte, error) {
	return os.ReadFile(m.caCertFile)
}

// CAFingerprint returns the SHA-256 fingerprint of the CA certificate as
// colon-separated hex.
func (m *Manager) CAFingerprint() (string, error) {
	certPEM, err := m.ReadCACert()
	if err != nil {
		return "", fmt.Errorf("failed to read CA certificate: %w", err)
	}
	return fingerprintPEM(certPEM)
}

func fingerprintPEM(certPEM []byte) (string, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return "", fmt.Errorf("failed to decode PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("failed to parse certificate: %w", err)
	}

	sum := sha256.Sum256(cert.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":"), nil
}
