package tlsconfig

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/unkn0wn-root/resload/internal/errdef"
)

type issued struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

// issue signs tmpl with parent, or self-signs when parent is nil.
func issue(t *testing.T, tmpl *x509.Certificate, parent *issued) issued {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("key for %s: %v", tmpl.Subject.CommonName, err)
	}
	tmpl.NotBefore = time.Now().Add(-time.Minute)
	tmpl.NotAfter = time.Now().Add(time.Hour)
	signer, signerCert := key, tmpl
	if parent != nil {
		signer, signerCert = parent.key, parent.cert
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, signerCert, &key.PublicKey, signer)
	if err != nil {
		t.Fatalf("sign %s: %v", tmpl.Subject.CommonName, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse %s: %v", tmpl.Subject.CommonName, err)
	}
	return issued{cert: cert, key: key}
}

func writePEM(t *testing.T, path, blockType string, der []byte) {
	t.Helper()
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newCA(t *testing.T, dir string) issued {
	ca := issue(t, &x509.Certificate{
		SerialNumber:          big.NewInt(10),
		Subject:               pkix.Name{CommonName: "resload loader ca"},
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}, nil)
	writePEM(t, filepath.Join(dir, "ca.pem"), "CERTIFICATE", ca.cert.Raw)
	return ca
}

func TestBuildTrustsConfiguredRoots(t *testing.T) {
	dir := t.TempDir()
	ca := newCA(t, dir)
	leaf := issue(t, &x509.Certificate{
		SerialNumber: big.NewInt(11),
		Subject:      pkix.Name{CommonName: "origin.resload.test"},
		DNSNames:     []string{"origin.resload.test"},
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}, &ca)

	for _, withSystem := range []bool{false, true} {
		tc, err := Build(Files{RootCAs: []string{"ca.pem"}, AppendSystemRoots: withSystem}, dir)
		if err != nil {
			t.Fatalf("build (system=%v): %v", withSystem, err)
		}
		if _, err := leaf.cert.Verify(x509.VerifyOptions{Roots: tc.RootCAs, DNSName: "origin.resload.test"}); err != nil {
			t.Fatalf("leaf must chain to the configured root (system=%v): %v", withSystem, err)
		}
	}
}

func TestBuildLoadsClientPair(t *testing.T) {
	dir := t.TempDir()
	ca := newCA(t, dir)
	client := issue(t, &x509.Certificate{
		SerialNumber: big.NewInt(12),
		Subject:      pkix.Name{CommonName: "resload client"},
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}, &ca)
	keyDER, err := x509.MarshalECPrivateKey(client.key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	writePEM(t, filepath.Join(dir, "client.pem"), "CERTIFICATE", client.cert.Raw)
	writePEM(t, filepath.Join(dir, "client.key"), "EC PRIVATE KEY", keyDER)

	tc, err := Build(Files{ClientCert: filepath.Join(dir, "client.pem"), ClientKey: "client.key", Insecure: true}, dir)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(tc.Certificates) != 1 || !tc.InsecureSkipVerify {
		t.Fatalf("unexpected config: %d certs, insecure=%v", len(tc.Certificates), tc.InsecureSkipVerify)
	}
}

func TestBuildErrors(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "junk.pem"), []byte("not a certificate"), 0o600); err != nil {
		t.Fatalf("write junk: %v", err)
	}
	cases := []struct {
		name  string
		files Files
		code  errdef.Code
	}{
		{"key without cert", Files{ClientKey: "client.key"}, errdef.CodeConfig},
		{"missing root", Files{RootCAs: []string{"missing.pem"}}, errdef.CodeFilesystem},
		{"root without pem", Files{RootCAs: []string{"junk.pem"}}, errdef.CodeConfig},
		{"unreadable pair", Files{ClientCert: "junk.pem", ClientKey: "junk.pem"}, errdef.CodeConfig},
	}
	for _, tc := range cases {
		if _, err := Build(tc.files, dir); !errdef.Is(err, tc.code) {
			t.Fatalf("%s: expected %s error, got %v", tc.name, tc.code, err)
		}
	}

	tc, err := Build(Files{}, dir)
	if err != nil || tc != nil {
		t.Fatalf("nothing configured must keep transport defaults, got %v %v", tc, err)
	}
}
