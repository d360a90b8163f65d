package dbsock

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
)

var (
	tlsCertPool   *x509.CertPool
	tlsCertPoolMu sync.Mutex
)

func init() {
	tlsCertPool, _ = x509.SystemCertPool()
	if tlsCertPool == nil {
		tlsCertPool = x509.NewCertPool()
	}
}

// TLSCertPool returns the root CA pool used when dialing wss:// endpoints.
// This is normally the same as returned by crypto/x509.SystemCertPool.
func TLSCertPool() *x509.CertPool {
	tlsCertPoolMu.Lock()
	defer tlsCertPoolMu.Unlock()
	return tlsCertPool
}

// TLSAddRootCerts adds root (CA) certificates from a PEM file to TLSCertPool(),
// e.g. a development CA for a local server.
func TLSAddRootCerts(certFile string) error {
	buf, err := os.ReadFile(certFile)
	if err != nil {
		return err
	}
	tlsCertPoolMu.Lock()
	defer tlsCertPoolMu.Unlock()
	if !tlsCertPool.AppendCertsFromPEM(buf) {
		return fmt.Errorf("failed to load X.509 certificate file %q", certFile)
	}
	return nil
}

func tlsConfig() *tls.Config {
	return &tls.Config{RootCAs: TLSCertPool()}
}
