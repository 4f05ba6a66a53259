package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/vaultline/srpsession/apierror"
	"github.com/vaultline/srpsession/config"
	"github.com/vaultline/srpsession/internal/logger"
)

// Header names for the human-verification token pair. They live in the
// session header map like any other header and are settable/clearable
// independently of credentials.
const (
	HumanVerificationTokenHeader     = "X-PM-Human-Verification-Token"
	HumanVerificationTokenTypeHeader = "X-PM-Human-Verification-Token-Type"
)

// Client is the pinned HTTPS transport a session owns: it carries the cookie
// jar, the standard header set, and the pin configuration for primary and
// alternative hosts. It is not safe for concurrent use; the session contract
// requires callers to serialize access.
type Client struct {
	jar         http.CookieJar
	timeout     time.Duration
	pinning     bool
	primaryPins config.PinSet
	altPins     config.PinSet
	rootCAs     *x509.CertPool
	proxy       *url.URL
	headers     map[string]string
	log         logger.Logger
}

// NewClient builds a Client from options. Construction fails if a proxy is
// configured while TLS pinning is enabled: pin verification through an
// intercepting proxy is undefined.
func NewClient(opts config.Options, log logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	if opts.ProxyURL != "" && !opts.DisableTLSPinning {
		return nil, errors.New("transport: proxies are not allowed while TLS pinning is enabled")
	}

	var proxy *url.URL
	if opts.ProxyURL != "" {
		var err error
		proxy, err = url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, err
		}
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = config.DefaultTimeout
	}
	primary := opts.PrimaryPins
	if primary == nil {
		primary = config.PrimaryPins
	}
	alt := opts.AltPins
	if alt == nil {
		alt = config.AltPins
	}

	appVersion := opts.AppVersion
	if appVersion == "" {
		appVersion = "Other"
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "None"
	}

	return &Client{
		jar:         jar,
		timeout:     timeout,
		pinning:     !opts.DisableTLSPinning,
		primaryPins: primary,
		altPins:     alt,
		rootCAs:     opts.RootCAs,
		proxy:       proxy,
		headers: map[string]string{
			"x-pm-apiversion": "3",
			"Accept":          "application/vnd.protonmail.v1+json",
			"x-pm-appversion": appVersion,
			"User-Agent":      userAgent,
		},
		log: log,
	}, nil
}

// SetHeader sets a standard header sent on every request.
func (c *Client) SetHeader(key, value string) { c.headers[key] = value }

// DeleteHeader removes a standard header.
func (c *Client) DeleteHeader(key string) { delete(c.headers, key) }

// Header returns the current value of a standard header, or "".
func (c *Client) Header(key string) string { return c.headers[key] }

// Headers returns a copy of the standard header set.
func (c *Client) Headers() map[string]string {
	out := make(map[string]string, len(c.headers))
	for k, v := range c.headers {
		out[k] = v
	}
	return out
}

// Cookies returns the jar's cookies for apiURL as a name→value map, the
// shape the dump format persists. Attributes are dropped.
func (c *Client) Cookies(apiURL string) map[string]string {
	u, err := url.Parse(apiURL)
	if err != nil {
		return map[string]string{}
	}
	out := make(map[string]string)
	for _, ck := range c.jar.Cookies(u) {
		out[ck.Name] = ck.Value
	}
	return out
}

// SetCookies loads a name→value map back into the jar for apiURL, the
// inverse of Cookies for a dump/load round-trip.
func (c *Client) SetCookies(apiURL string, cookies map[string]string) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return
	}
	list := make([]*http.Cookie, 0, len(cookies))
	for name, value := range cookies {
		list = append(list, &http.Cookie{Name: name, Value: value})
	}
	c.jar.SetCookies(u, list)
}

// Do issues one HTTP request against baseURL+endpoint. primary selects
// which pin set and verification mode apply: primary hosts keep full
// hostname+CA verification plus pins, alternative hosts run pins only.
// The response body is fully read and returned alongside the response;
// transport failures come back classified into the apierror taxonomy.
func (c *Client) Do(ctx context.Context, method, baseURL, endpoint string, body []byte, extra map[string]string, params url.Values, primary bool) (*http.Response, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, baseURL+endpoint, reader)
	if err != nil {
		return nil, nil, apierror.Wrap(apierror.UnknownConnection, err, "build request")
	}
	if params != nil {
		req.URL.RawQuery = params.Encode()
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient(req.URL.Hostname(), primary).Do(req)
	if err != nil {
		return nil, nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, classifyTransportError(err)
	}
	return resp, respBody, nil
}

// httpClient builds the per-request http.Client bound to host's pin set.
// The jar is shared across every client this Client hands out, so cookies
// survive a primary→alternative transition.
func (c *Client) httpClient(host string, primary bool) *http.Client {
	tr := &http.Transport{
		DialContext: (&net.Dialer{Timeout: c.timeout}).DialContext,
	}
	if c.proxy != nil {
		tr.Proxy = http.ProxyURL(c.proxy)
	}

	switch {
	case c.pinning && primary:
		tr.TLSClientConfig = &tls.Config{
			RootCAs:               c.rootCAs,
			VerifyPeerCertificate: pinVerifier(host, c.primaryPins, c.log),
		}
	case c.pinning && !primary:
		// Alt hosts are server-chosen opaque labels; the ALT pin set
		// stands in for identity, so hostname/CA verification is off.
		tr.TLSClientConfig = &tls.Config{
			InsecureSkipVerify:    true,
			VerifyPeerCertificate: pinVerifier(host, c.altPins, c.log),
		}
	case !primary:
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	case c.rootCAs != nil:
		tr.TLSClientConfig = &tls.Config{RootCAs: c.rootCAs}
	}

	return &http.Client{
		Transport: tr,
		Jar:       c.jar,
		Timeout:   c.timeout,
	}
}

// classifyTransportError maps a raw transport failure onto the error
// taxonomy. Pin failures surface pre-tagged from the handshake callback and
// pass through first, before the generic net checks that would otherwise
// swallow them.
func classifyTransportError(err error) error {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apierror.Wrap(apierror.Timeout, err, "request timed out")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apierror.Wrap(apierror.Timeout, err, "request deadline exceeded")
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return apierror.Wrap(apierror.NewConnection, err, "certificate verification failed")
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return apierror.Wrap(apierror.NewConnection, err, "connection failed")
	}

	return apierror.Wrap(apierror.UnknownConnection, err, "unclassified transport failure")
}
