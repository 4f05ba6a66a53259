package transport

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"

	"github.com/vaultline/srpsession/config"
	"github.com/vaultline/srpsession/internal/logger"
)

// maxDoHResponseSize bounds how much of a provider's response body is read.
// A TXT answer for a handful of hostnames fits in well under this.
const maxDoHResponseSize = 64 * 1024

// DoHResolver discovers alternative API hosts by asking DoH providers for
// TXT records at well-known encoded labels (RFC 8484 GET wire format).
// Providers are queried concurrently; per-provider failures are swallowed
// and a total failure simply yields an empty host set.
type DoHResolver struct {
	providers []string
	names     []string
	client    *http.Client
	log       logger.Logger
}

// NewDoHResolver builds a resolver over the given provider URLs and encoded
// query names.
func NewDoHResolver(providers, names []string, log logger.Logger) *DoHResolver {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	dialer := &net.Dialer{Timeout: config.DoHConnectTimeout}
	return &DoHResolver{
		providers: providers,
		names:     names,
		client: &http.Client{
			Timeout: config.DoHConnectTimeout + config.DoHReadTimeout,
			Transport: &http.Transport{
				DialContext: dialer.DialContext,
			},
		},
		log: log,
	}
}

// ResolveAlternativeHosts queries each encoded name in order, fanning out to
// every provider concurrently, and returns the hostnames from the first
// non-empty TXT answer. The whole fan-out is bounded by an umbrella
// deadline; an unreachable or empty result set returns nil and the caller
// decides whether that is fatal.
func (r *DoHResolver) ResolveAlternativeHosts(ctx context.Context) []string {
	ctx, cancel := context.WithTimeout(ctx, config.DoHOverallDeadline)
	defer cancel()

	for _, name := range r.names {
		encoded, err := encodeTXTQuery(name)
		if err != nil {
			r.log.Warn("failed to encode DoH query", logger.String("name", name), logger.Error(err))
			continue
		}

		for _, body := range r.fanOut(ctx, encoded) {
			hosts := extractTXTHosts(body)
			if len(hosts) > 0 {
				r.log.Info("alternative routes resolved",
					logger.Int("count", len(hosts)),
				)
				return hosts
			}
		}
	}
	return nil
}

// fanOut issues the encoded query to every provider in parallel, bounded by
// the provider count, and returns the non-empty non-404 response bodies in
// completion order.
func (r *DoHResolver) fanOut(ctx context.Context, encoded string) [][]byte {
	var (
		mu        sync.Mutex
		responses [][]byte
	)

	g := new(errgroup.Group)
	g.SetLimit(len(r.providers))
	for _, provider := range r.providers {
		g.Go(func() error {
			body, err := r.queryProvider(ctx, provider, encoded)
			if err != nil {
				r.log.Debug("DoH provider failed",
					logger.String("provider", provider),
					logger.Error(err),
				)
				return nil
			}
			if len(body) == 0 {
				return nil
			}
			mu.Lock()
			responses = append(responses, body)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return responses
}

func (r *DoHResolver) queryProvider(ctx context.Context, provider, encoded string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, provider, nil)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("dns", encoded)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/dns-message")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("provider returned 404")
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDoHResponseSize))
}

// encodeTXTQuery packs a single-question TXT/IN query for name into DNS wire
// format and encodes it as unpadded urlsafe base64, ready for the ?dns=
// parameter.
func encodeTXTQuery(name string) (string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeTXT)
	wire, err := m.Pack()
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(wire), nil
}

// extractTXTHosts unpacks a DNS wire-format response and returns the string
// values of its TXT answers, deduplicated, in answer order. Anything that
// fails to parse contributes nothing.
func extractTXTHosts(wire []byte) []string {
	msg := new(dns.Msg)
	if err := msg.Unpack(wire); err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var hosts []string
	for _, rr := range msg.Answer {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		for _, v := range txt.Txt {
			host := strings.Trim(v, `"`)
			if host == "" {
				continue
			}
			if _, dup := seen[host]; dup {
				continue
			}
			seen[host] = struct{}{}
			hosts = append(hosts, host)
		}
	}
	return hosts
}
