// Package certbootstrap generates the single self-signed TLS certificate
// every spawned storage-server instance presents, and the harness's
// storageclient dials with verification disabled. There is no
// certificate authority hierarchy here, unlike a production cluster's
// manager/worker mTLS setup - one shared, self-signed cert is all a test
// harness needs.
package certbootstrap

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	keySize  = 2048
	validity = 365 * 24 * time.Hour
)

// Ensure makes sure cert.pem, key.pem, and dh.pem exist under dir,
// generating fresh ones if any is missing. It returns the cert and key
// paths; dh.pem's path is always filepath.Join(dir, "dh.pem").
//
// dh.pem carries no cryptographic weight in this harness: the storage
// server under test wants a Diffie-Hellman parameters file present at
// startup, and the harness's only obligation is that it exist and
// parse as PEM, not that the prime be strong. We generate it once and
// reuse it, rather than shipping a baked-in constant, to keep this
// package self-contained.
func Ensure(dir string) (certPath, keyPath string, err error) {
	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")
	dhPath := filepath.Join(dir, "dh.pem")

	if !fileExists(dhPath) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", "", fmt.Errorf("certbootstrap: create %s: %w", dir, err)
		}
		dhPEM, err := generateDHParams()
		if err != nil {
			return "", "", fmt.Errorf("certbootstrap: generate dh params: %w", err)
		}
		if err := os.WriteFile(dhPath, dhPEM, 0o644); err != nil {
			return "", "", fmt.Errorf("certbootstrap: write dh params: %w", err)
		}
	}

	if fileExists(certPath) && fileExists(keyPath) {
		return certPath, keyPath, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("certbootstrap: create %s: %w", dir, err)
	}

	certPEM, keyPEM, err := generate()
	if err != nil {
		return "", "", fmt.Errorf("certbootstrap: generate: %w", err)
	}

	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return "", "", fmt.Errorf("certbootstrap: write cert: %w", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return "", "", fmt.Errorf("certbootstrap: write key: %w", err)
	}

	return certPath, keyPath, nil
}

// dhParamBits is fixed at 2048 to match what the storage server expects
// to find on disk; it is not meant to withstand scrutiny as a real DH
// modulus, only to be present and well-formed.
const dhParamBits = 2048

// generateDHParams produces a throwaway "DH PARAMETERS" PEM block: an
// ASN.1 SEQUENCE of a random dhParamBits-bit prime from crypto/rand.Prime
// and generator 2. The prime is not checked to be a safe prime; nothing
// in the harness ever performs a real DH exchange with it.
func generateDHParams() ([]byte, error) {
	p, err := rand.Prime(rand.Reader, dhParamBits)
	if err != nil {
		return nil, fmt.Errorf("generate prime: %w", err)
	}

	type dhParams struct {
		P *big.Int
		G *big.Int
	}
	der, err := asn1.Marshal(dhParams{P: p, G: big.NewInt(2)})
	if err != nil {
		return nil, fmt.Errorf("marshal dh params: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "DH PARAMETERS", Bytes: der}), nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func generate() (certPEM, keyPEM []byte, err error) {
	key, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return nil, nil, fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"swarm-harness test material"},
			CommonName:   "localhost",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("create certificate: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return certPEM, keyPEM, nil
}

// LoadTLSCertificate loads the generated cert/key pair as a tls.Certificate,
// suitable for an https.Server that the RPC server or a future TLS-fronted
// component needs to present.
func LoadTLSCertificate(certPath, keyPath string) (tls.Certificate, error) {
	return tls.LoadX509KeyPair(certPath, keyPath)
}
