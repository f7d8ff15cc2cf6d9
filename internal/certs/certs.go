// Package certs resolves the TLS certificate data-dash serves HTTPS with:
// either an operator supplied pair or a self-signed CA and server leaf
// generated once into a directory and reused across restarts.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// DefaultHosts are the names the generated server certificate is valid for
// when Config.Hosts is empty.
var DefaultHosts = []string{"localhost", "127.0.0.1", "::1"}

// Config selects where certificates come from. CertFile and KeyFile must be
// set together and take precedence over Dir.
type Config struct {
	Dir      string
	CertFile string
	KeyFile  string
	Hosts    []string
}

// Enabled reports whether any TLS source is configured.
func (c Config) Enabled() bool {
	return c.Dir != "" || c.CertFile != "" || c.KeyFile != ""
}

// Assets are the resolved certificate files. CACertPath is empty for
// operator supplied pairs.
type Assets struct {
	CACertPath string
	CertPath   string
	KeyPath    string
	// Reason is one of custom, reused, generated or renewed.
	Reason string
}

const (
	reasonCustom    = "custom"
	reasonReused    = "reused"
	reasonGenerated = "generated"
	reasonRenewed   = "renewed"
)

type authority struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

// LoadOrGenerate resolves the server certificate:
//   - CertFile and KeyFile are validated and used as is
//   - an unexpired pair in Dir is reused
//   - an expired leaf is re-signed by the existing CA in Dir
//   - otherwise a new CA and leaf are written to Dir
func LoadOrGenerate(cfg Config) (*Assets, error) {
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return nil, errors.New("partial tls config: both -tls-cert and -tls-key must be set")
		}
		if _, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile); err != nil {
			return nil, fmt.Errorf("loading tls key pair: %w", err)
		}
		return &Assets{CertPath: cfg.CertFile, KeyPath: cfg.KeyFile, Reason: reasonCustom}, nil
	}
	if cfg.Dir == "" {
		return nil, errors.New("no tls certificate source configured")
	}

	hosts := cfg.Hosts
	if len(hosts) == 0 {
		hosts = DefaultHosts
	}
	assets := &Assets{
		CACertPath: filepath.Join(cfg.Dir, "ca.crt"),
		CertPath:   filepath.Join(cfg.Dir, "server.crt"),
		KeyPath:    filepath.Join(cfg.Dir, "server.key"),
	}
	caKeyPath := filepath.Join(cfg.Dir, "ca.key")
	all := []string{assets.CACertPath, caKeyPath, assets.CertPath, assets.KeyPath}

	if ok, err := reusable(all, assets.CertPath); err != nil {
		return nil, err
	} else if ok {
		assets.Reason = reasonReused
		return assets, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating certs directory: %w", err)
	}
	unlock, err := acquireLock(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("acquiring cert generation lock: %w", err)
	}
	defer unlock()

	// Another process may have finished while we waited for the lock.
	if ok, err := reusable(all, assets.CertPath); err != nil {
		return nil, err
	} else if ok {
		assets.Reason = reasonReused
		return assets, nil
	}

	if exist(all) {
		if ca, err := loadAuthority(assets.CACertPath, caKeyPath); err == nil && time.Now().Before(ca.cert.NotAfter) {
			if err := writeServerCert(assets.CertPath, assets.KeyPath, ca, hosts); err != nil {
				return nil, fmt.Errorf("renewing server cert: %w", err)
			}
			assets.Reason = reasonRenewed
			return assets, nil
		}
	}

	ca, err := writeAuthority(assets.CACertPath, caKeyPath)
	if err != nil {
		return nil, fmt.Errorf("generating CA: %w", err)
	}
	if err := writeServerCert(assets.CertPath, assets.KeyPath, ca, hosts); err != nil {
		return nil, fmt.Errorf("generating server cert: %w", err)
	}
	assets.Reason = reasonGenerated
	return assets, nil
}

// NewTLSConfig builds a server *tls.Config with TLS 1.2 minimum.
func NewTLSConfig(a *Assets) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(a.CertPath, a.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading server key pair: %w", err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}, nil
}

func exist(paths []string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func reusable(paths []string, leaf string) (bool, error) {
	if !exist(paths) {
		return false, nil
	}
	expired, err := certExpired(leaf)
	if err != nil {
		return false, fmt.Errorf("checking server certificate expiration: %w", err)
	}
	return !expired, nil
}

func writeAuthority(certPath, keyPath string) (*authority, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating CA key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "data-dash-ca",
			Organization: []string{"data-dash"},
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("creating CA certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parsing CA certificate: %w", err)
	}
	if err := writeKeyFile(keyPath, key); err != nil {
		return nil, fmt.Errorf("writing CA key: %w", err)
	}
	if err := writePEMFile(certPath, "CERTIFICATE", der); err != nil {
		return nil, fmt.Errorf("writing CA cert: %w", err)
	}
	return &authority{cert: cert, key: key}, nil
}

// writeServerCert signs a one year server leaf for hosts. Entries that parse
// as IP addresses become IP SANs, the rest DNS SANs.
func writeServerCert(certPath, keyPath string, ca *authority, hosts []string) error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generating server key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return err
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "data-dash",
			Organization: []string{"data-dash"},
		},
		NotBefore:   time.Now().Add(-time.Minute),
		NotAfter:    time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, &key.PublicKey, ca.key)
	if err != nil {
		return fmt.Errorf("creating server certificate: %w", err)
	}
	if err := writeKeyFile(keyPath, key); err != nil {
		return fmt.Errorf("writing server key: %w", err)
	}
	if err := writePEMFile(certPath, "CERTIFICATE", der); err != nil {
		return fmt.Errorf("writing server cert: %w", err)
	}
	return nil
}

// staleLockAge is how old a lock file may get before it is treated as
// left behind by a crashed process.
const staleLockAge = 5 * time.Minute

// acquireLock creates an exclusive lock file in dir so concurrent processes
// do not generate certificates at the same time.
func acquireLock(dir string) (func(), error) {
	lockPath := filepath.Join(dir, ".lock")
	for i := 0; i < 10; i++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			f.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("creating lock file: %w", err)
		}
		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > staleLockAge {
			os.Remove(lockPath)
			continue
		}
		time.Sleep(500 * time.Millisecond)
	}
	return nil, fmt.Errorf("could not acquire cert generation lock at %s after 5s", lockPath)
}

func readCert(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading cert file: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM data in %s", path)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate: %w", err)
	}
	return cert, nil
}

func certExpired(path string) (bool, error) {
	cert, err := readCert(path)
	if err != nil {
		return false, err
	}
	return time.Now().After(cert.NotAfter), nil
}

func loadAuthority(certPath, keyPath string) (*authority, error) {
	cert, err := readCert(certPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading CA key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM data in CA key %s", keyPath)
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing CA key: %w", err)
	}
	return &authority{cert: cert, key: key}, nil
}

func randomSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generating serial number: %w", err)
	}
	return serial, nil
}

func writePEMFile(path, blockType string, der []byte) error {
	return writeAtomic(path, 0o644, pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}))
}

func writeKeyFile(path string, key *ecdsa.PrivateKey) error {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshaling EC private key: %w", err)
	}
	return writeAtomic(path, 0o600, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}))
}

// writeAtomic writes data to a temp file in the same directory and renames
// it over path, so readers see either the old or the new file.
func writeAtomic(path string, perm os.FileMode, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
