package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/lucasew/photosync/internal/errutil"
)

// DefaultTimeout bounds every request made by clients from NewClient.
const DefaultTimeout = 30 * time.Second

// Options configures the NAS HTTP client.
type Options struct {
	// Timeout bounds a whole request including the body. Zero means DefaultTimeout.
	Timeout time.Duration

	// CACert is a PEM bundle trusted on top of the system roots. NAS boxes
	// usually serve a self-signed certificate.
	CACert []byte

	// Insecure disables certificate verification entirely.
	Insecure bool
}

// LoadCACert reads a PEM bundle for Options.CACert. An empty path yields nil.
func LoadCACert(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	return pem, nil
}

// NewClient creates an http.Client configured with a custom CA certificate + system CAs.
func NewClient(opts Options) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	tlsConfig := &tls.Config{}
	if opts.Insecure {
		tlsConfig.InsecureSkipVerify = true //#nosec G402 -- opt-in for self-signed NAS certificates
	} else if len(opts.CACert) > 0 {
		// Load system cert pool
		rootCAs, err := x509.SystemCertPool()
		if err != nil || rootCAs == nil {
			rootCAs = x509.NewCertPool()
		}
		if !rootCAs.AppendCertsFromPEM(opts.CACert) {
			errutil.ReportError(fmt.Errorf("no certificates found in PEM data"), "Failed to parse custom CA certificate")
		}
		tlsConfig.RootCAs = rootCAs
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
