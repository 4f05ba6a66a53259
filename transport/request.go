package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/vaultline/srpsession/apierror"
	"github.com/vaultline/srpsession/config"
	"github.com/vaultline/srpsession/internal/logger"
)

// AltRoutingPolicy is the tri-state alternative-routing switch. Requests
// fail while it is unset: callers must make an explicit policy choice
// before the first request.
type AltRoutingPolicy int

const (
	AltRoutingUnset AltRoutingPolicy = iota
	AltRoutingEnabled
	AltRoutingDisabled
)

// Application envelope codes.
const (
	codeOK                 = 1000
	codeOKAlt              = 1001
	codeHumanVerification  = 9001
	codeClearHumanVerToken = 12087
)

// envelope is the JSON shape every application response carries. Code is a
// pointer so a JSON body without the field (legitimate for some endpoints)
// is distinguishable from Code=0.
type envelope struct {
	Code    *int   `json:"Code"`
	Error   string `json:"Error"`
	Details struct {
		HumanVerificationToken string `json:"HumanVerificationToken"`
	} `json:"Details"`
}

// Result is what a dispatched request yields. JSON is nil when the body was
// not valid JSON (possible on 200 responses for endpoints that serve raw
// templates); Raw always carries the body bytes.
type Result struct {
	StatusCode int
	Header     http.Header
	JSON       json.RawMessage
	Raw        []byte
}

// Decode unmarshals the JSON body into v.
func (r *Result) Decode(v any) error {
	if r.JSON == nil {
		return apierror.New(apierror.APIError, "response body is not JSON")
	}
	return json.Unmarshal(r.JSON, v)
}

// Engine dispatches logical API requests: it picks the URL through the
// route cache, issues the request through the pinned client, falls back to
// DoH-discovered alternative routes on transport failure, and decodes the
// application envelope into results or typed errors.
type Engine struct {
	client  *Client
	apiURL  string
	apiHost string

	policy       AltRoutingPolicy
	forceSkipAlt bool

	routes *RouteCache
	doh    *DoHResolver
	log    logger.Logger

	hvToken string
}

// NewEngine builds an Engine over client for the canonical API URL in opts.
func NewEngine(opts config.Options, client *Client, log logger.Logger) (*Engine, error) {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	u, err := url.Parse(opts.APIURL)
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, errors.New("transport: API URL has no host")
	}

	dnsHosts := opts.DNSHosts
	if dnsHosts == nil {
		dnsHosts = config.DNSHosts
	}
	encoded := opts.EncodedURLs
	if encoded == nil {
		encoded = config.EncodedURLs
	}

	return &Engine{
		client:  client,
		apiURL:  strings.TrimRight(opts.APIURL, "/"),
		apiHost: u.Host,
		routes:  DefaultRouteCache(),
		doh:     NewDoHResolver(dnsHosts, encoded, log),
		log:     log,
	}, nil
}

// SetAltRoutingPolicy makes the caller's explicit enable/disable choice.
func (e *Engine) SetAltRoutingPolicy(p AltRoutingPolicy) { e.policy = p }

// AltRoutingPolicy returns the current policy.
func (e *Engine) AltRoutingPolicy() AltRoutingPolicy { return e.policy }

// SetForceSkipAltRouting suppresses fallback even when the policy enables
// it, e.g. while the API is known reachable through a tunnel.
func (e *Engine) SetForceSkipAltRouting(v bool) { e.forceSkipAlt = v }

// ForceSkipAltRouting returns the current override.
func (e *Engine) ForceSkipAltRouting() bool { return e.forceSkipAlt }

// HumanVerificationToken returns the token captured from the last
// human-verification-required (9001) response, or "".
func (e *Engine) HumanVerificationToken() string { return e.hvToken }

// Client returns the underlying pinned transport, whose header set carries
// the auth and human-verification headers.
func (e *Engine) Client() *Client { return e.client }

// SetRouteCache swaps the process-wide cache for a private one. Tests use
// this for isolation.
func (e *Engine) SetRouteCache(c *RouteCache) { e.routes = c }

// Request dispatches one logical API request. body, when non-nil, is
// JSON-marshaled; method "" infers GET without a body and POST with one;
// headers are merged over the standard set; params become the query string.
func (e *Engine) Request(ctx context.Context, endpoint string, body any, headers map[string]string, method string, params url.Values) (*Result, error) {
	return e.request(ctx, endpoint, body, headers, method, params, false)
}

func (e *Engine) request(ctx context.Context, endpoint string, body any, headers map[string]string, method string, params url.Values, skipAltForCheck bool) (*Result, error) {
	if e.policy == AltRoutingUnset {
		return nil, apierror.New(apierror.PolicyNotConfigured,
			"alternative routing has not been configured; enable or disable it before making requests")
	}

	m, err := resolveMethod(method, body != nil)
	if err != nil {
		return nil, err
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}

	baseURL := e.apiURL
	primary := true
	allowAlt := e.policy == AltRoutingEnabled
	if !e.routes.TryOriginalURL(e.apiHost, allowAlt, e.forceSkipAlt) {
		baseURL = e.routes.GetAlternativeURL(e.apiHost)
		primary = false
	}

	resp, respBody, terr := e.client.Do(ctx, m, baseURL, endpoint, payload, headers, params, primary)
	if terr != nil {
		if apierror.Is(terr, apierror.UnknownConnection) {
			return nil, terr
		}
		if !allowAlt || e.forceSkipAlt || skipAltForCheck {
			e.log.Info("request failed without alternative routing available",
				logger.Endpoint(endpoint),
				logger.Error(terr),
			)
			return nil, terr
		}
		if e.apiReachable(ctx) {
			return nil, terr
		}
		resp, respBody, err = e.tryWithAltRouting(ctx, m, endpoint, payload, headers, params)
		if err != nil {
			return nil, err
		}
	} else if primary {
		e.routes.MarkOriginalReachable(e.apiHost)
	}

	return e.decode(resp, respBody)
}

// apiReachable probes /tests/ping with alternative routing skipped. Only a
// transport-level failure counts as unreachable; an application error means
// the API answered and fallback would be pointless.
func (e *Engine) apiReachable(ctx context.Context) bool {
	_, err := e.request(ctx, "/tests/ping", nil, nil, http.MethodGet, nil, true)
	if err == nil {
		return true
	}
	for _, k := range []apierror.Kind{apierror.NewConnection, apierror.Timeout, apierror.TLSPinning} {
		if apierror.Is(err, k) {
			return false
		}
	}
	return true
}

// tryWithAltRouting resolves alternative hosts via DoH and replays the
// request against each until one succeeds, persisting the winner in the
// route cache. Exhausting every candidate is a NetworkError.
func (e *Engine) tryWithAltRouting(ctx context.Context, method, endpoint string, payload []byte, headers map[string]string, params url.Values) (*http.Response, []byte, error) {
	for _, host := range e.doh.ResolveAlternativeHosts(ctx) {
		altURL := "https://" + host
		e.log.Info("trying alternative route", logger.Host(host))

		resp, body, err := e.client.Do(ctx, method, altURL, endpoint, payload, headers, params, false)
		if err != nil {
			e.log.Warn("alternative route failed",
				logger.Host(host),
				logger.Error(err),
			)
			continue
		}

		e.log.Info("storing alternative route", logger.Host(host))
		e.routes.StoreAlternativeRoute(e.apiHost, host)
		return resp, body, nil
	}

	e.log.Info("possible network error, unable to reach API")
	return nil, nil, apierror.New(apierror.NetworkError, "unable to reach API through any alternative route")
}

// decode interprets the response body. Non-JSON on 200 passes through raw;
// non-JSON on any other status is an APIError built from the concrete
// response in hand. A JSON envelope with a non-success Code is an APIError,
// with the 9001/12087 human-verification sentinels applied first.
func (e *Engine) decode(resp *http.Response, body []byte) (*Result, error) {
	headers := flattenHeader(resp.Header)

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, &apierror.Error{
				Kind:    apierror.APIError,
				Message: http.StatusText(resp.StatusCode),
				Code:    resp.StatusCode,
				Headers: headers,
			}
		}
		return &Result{StatusCode: resp.StatusCode, Header: resp.Header, Raw: body}, nil
	}

	if env.Code != nil && *env.Code != codeOK && *env.Code != codeOKAlt {
		switch *env.Code {
		case codeHumanVerification:
			e.hvToken = env.Details.HumanVerificationToken
			e.log.Info("human verification required", logger.Code(*env.Code))
		case codeClearHumanVerToken:
			e.hvToken = ""
			e.client.DeleteHeader(HumanVerificationTokenHeader)
			e.client.DeleteHeader(HumanVerificationTokenTypeHeader)
		}
		return nil, apierror.APIErrorFromEnvelope(*env.Code, env.Error, headers)
	}

	return &Result{StatusCode: resp.StatusCode, Header: resp.Header, JSON: body, Raw: body}, nil
}

// resolveMethod maps the caller's method string (or "") onto a concrete
// HTTP method, inferring GET/POST from body presence when unset.
func resolveMethod(method string, hasBody bool) (string, error) {
	if method == "" {
		if hasBody {
			return http.MethodPost, nil
		}
		return http.MethodGet, nil
	}
	switch strings.ToLower(method) {
	case "get":
		return http.MethodGet, nil
	case "post":
		return http.MethodPost, nil
	case "put":
		return http.MethodPut, nil
	case "delete":
		return http.MethodDelete, nil
	case "patch":
		return http.MethodPatch, nil
	default:
		return "", apierror.New(apierror.BadMethod, "unknown method: "+method)
	}
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
