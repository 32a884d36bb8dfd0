// Package certs generates a development certificate authority together with
// server and client certificates for mutual TLS.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const validity = 365 * 24 * time.Hour

// Files written by Generate.
const (
	CACert         = "ca.crt"
	CAKey          = "ca.key"
	ServerCert     = "server.crt"
	ServerKey      = "server.key"
	OperatorCert   = "client-operator.crt"
	OperatorKey    = "client-operator.key"
	ViewerCert     = "client-viewer.crt"
	ViewerKey      = "client-viewer.key"
	defaultCAName  = "jobcontrol-ca"
	defaultSvrName = "jobserver"
)

// Client describes a client certificate to issue.
type Client struct {
	Name string
	Role string
	Cert string
	Key  string
}

// DefaultClients are an operator and a viewer.
var DefaultClients = []Client{
	{Name: "operator", Role: "operator", Cert: OperatorCert, Key: OperatorKey},
	{Name: "viewer", Role: "viewer", Cert: ViewerCert, Key: ViewerKey},
}

type issuer struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

// Generate writes a CA, a server certificate valid for hosts and the
// DefaultClients certificates into dir. Hosts defaults to localhost.
func Generate(dir string, hosts ...string) error {
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1", "::1"}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cert dir: %w", err)
	}

	ca, err := newCA(dir)
	if err != nil {
		return err
	}

	server := &x509.Certificate{
		Subject:     pkix.Name{CommonName: defaultSvrName},
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			server.IPAddresses = append(server.IPAddresses, ip)
		} else {
			server.DNSNames = append(server.DNSNames, h)
		}
	}

	if err := ca.issue(server, dir, ServerCert, ServerKey); err != nil {
		return err
	}

	for _, c := range DefaultClients {
		client := &x509.Certificate{
			Subject: pkix.Name{
				CommonName:         c.Name,
				OrganizationalUnit: []string{c.Role},
			},
			ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		}

		if err := ca.issue(client, dir, c.Cert, c.Key); err != nil {
			return err
		}
	}

	return nil
}

func newCA(dir string) (*issuer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate CA key: %w", err)
	}

	template := &x509.Certificate{
		Subject:               pkix.Name{CommonName: defaultCAName},
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}

	if err := stamp(template); err != nil {
		return nil, err
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create CA certificate: %w", err)
	}

	if err := write(dir, CACert, CAKey, der, key); err != nil {
		return nil, err
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse CA certificate: %w", err)
	}

	return &issuer{cert: cert, key: key}, nil
}

func (i *issuer) issue(template *x509.Certificate, dir, certFile, keyFile string) error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key for %s: %w", template.Subject.CommonName, err)
	}

	template.KeyUsage = x509.KeyUsageDigitalSignature

	if err := stamp(template); err != nil {
		return err
	}

	der, err := x509.CreateCertificate(rand.Reader, template, i.cert, &key.PublicKey, i.key)
	if err != nil {
		return fmt.Errorf("create certificate for %s: %w", template.Subject.CommonName, err)
	}

	return write(dir, certFile, keyFile, der, key)
}

func stamp(template *x509.Certificate) error {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()

	template.SerialNumber = serial
	template.NotBefore = now.Add(-time.Minute)
	template.NotAfter = now.Add(validity)

	return nil
}

func write(dir, certFile, keyFile string, der []byte, key *ecdsa.PrivateKey) error {
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal key: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(filepath.Join(dir, certFile), certPEM, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", certFile, err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(filepath.Join(dir, keyFile), keyPEM, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", keyFile, err)
	}

	return nil
}
