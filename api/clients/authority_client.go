package clients

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pvarki/takrmapi/interfaces"
	"github.com/stretchr/testify/mock"
)

const (
	signCSRPath = "api/v1/product/sign_csr/mtls"
	revokePath  = "api/v1/product/revoke/mtls"
)

// AuthorityClient implements interfaces.Authority against the enrollment
// authority's product mTLS API.
type AuthorityClient struct {
	// BaseURL is the authority's mTLS base URI, with trailing slash.
	BaseURL string

	httpClient *retryablehttp.Client
	log        *slog.Logger
}

// NewAuthorityHTTPClient builds the mTLS transport used for the authority.
// caFile may be empty to rely on the system roots.
func NewAuthorityHTTPClient(cert tls.Certificate, caFile string) (*http.Client, error) {
	cfg, err := authorityTLSConfig(cert, caFile)
	if err != nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = cfg
	return &http.Client{Transport: transport, Timeout: 30 * time.Second}, nil
}

// NewAuthorityClient wraps httpClient with retries on connection errors and
// 5xx answers.
func NewAuthorityClient(baseURL string, httpClient *http.Client, log *slog.Logger) *AuthorityClient {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = httpClient
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = log

	return &AuthorityClient{
		BaseURL:    baseURL,
		httpClient: rc,
		log:        log,
	}
}

// SignCSR sends a CSR to the authority and returns the signed certificate PEM.
func (c *AuthorityClient) SignCSR(ctx context.Context, csrPEM []byte) ([]byte, error) {
	var parsed struct {
		Certificate string `json:"certificate"`
	}
	if err := c.post(ctx, signCSRPath, map[string]string{"csr": string(csrPEM)}, &parsed); err != nil {
		return nil, err
	}
	if parsed.Certificate == "" {
		return nil, fmt.Errorf("%w: sign_csr answer has no certificate", interfaces.ErrUpstream)
	}
	return []byte(parsed.Certificate), nil
}

// Revoke asks the authority to revoke a certificate.
func (c *AuthorityClient) Revoke(ctx context.Context, certPEM []byte) error {
	return c.post(ctx, revokePath, map[string]string{"cert": string(certPEM)}, nil)
}

func (c *AuthorityClient) post(ctx context.Context, path string, body any, out any) error {
	url := c.BaseURL + path
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	c.log.Debug("POSTing to authority", "url", url)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: could not request %s: %v", interfaces.ErrUpstream, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s returned %d: %s", interfaces.ErrUpstream, url, resp.StatusCode, string(bodyBytes))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: could not parse %s response: %v", interfaces.ErrUpstream, url, err)
	}
	return nil
}

// MockAuthority implements interfaces.Authority for testing.
type MockAuthority struct {
	mock.Mock
}

func (m *MockAuthority) SignCSR(ctx context.Context, csrPEM []byte) ([]byte, error) {
	args := m.Called(ctx, csrPEM)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockAuthority) Revoke(ctx context.Context, certPEM []byte) error {
	args := m.Called(ctx, certPEM)
	return args.Error(0)
}
