// Package tlsconfig builds the client TLS config of the HTTP transport.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"

	"github.com/unkn0wn-root/resload/internal/errdef"
)

type Files struct {
	RootCAs    []string
	ClientCert string
	ClientKey  string
	Insecure   bool
	// AppendSystemRoots keeps the system pool next to RootCAs instead of
	// replacing it.
	AppendSystemRoots bool
}

func (f Files) empty() bool {
	return !f.Insecure && len(f.RootCAs) == 0 && f.ClientCert == "" && f.ClientKey == ""
}

// Build returns nil when nothing is configured so the transport keeps Go's
// defaults. Relative paths resolve against baseDir.
func Build(files Files, baseDir string) (*tls.Config, error) {
	if files.empty() {
		return nil, nil
	}
	tc := &tls.Config{InsecureSkipVerify: files.Insecure} // nolint:gosec

	if len(files.RootCAs) > 0 {
		pool, err := rootPool(files.RootCAs, baseDir, files.AppendSystemRoots)
		if err != nil {
			return nil, err
		}
		tc.RootCAs = pool
	}

	if files.ClientCert != "" || files.ClientKey != "" {
		if files.ClientCert == "" || files.ClientKey == "" {
			return nil, errdef.New(errdef.CodeConfig, "client certificate and key are both required")
		}
		cert, err := tls.LoadX509KeyPair(resolve(files.ClientCert, baseDir), resolve(files.ClientKey, baseDir))
		if err != nil {
			return nil, errdef.Wrap(errdef.CodeConfig, err, "load client certificate")
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	return tc, nil
}

func rootPool(paths []string, baseDir string, withSystem bool) (*x509.CertPool, error) {
	var pool *x509.CertPool
	if withSystem {
		pool, _ = x509.SystemCertPool()
	}
	if pool == nil {
		pool = x509.NewCertPool()
	}
	for _, p := range paths {
		data, err := os.ReadFile(resolve(p, baseDir))
		if err != nil {
			return nil, errdef.Wrap(errdef.CodeFilesystem, err, "read root ca %s", p)
		}
		if !pool.AppendCertsFromPEM(data) {
			return nil, errdef.New(errdef.CodeConfig, "no certificates in %s", p)
		}
	}
	return pool, nil
}

func resolve(path, baseDir string) string {
	if filepath.IsAbs(path) || baseDir == "" {
		return filepath.Clean(path)
	}
	return filepath.Join(baseDir, path)
}
