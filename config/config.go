// Package config holds the static, implementation-supplied configuration
// this module needs: timeouts, DoH provider/query lists, the embedded PGP
// signing key for the SRP modulus, and TLS pin sets. There is no
// file/env/flag loader here — callers build an Options value themselves and
// pass it to session.New or session.Load.
package config

import (
	"crypto/x509"
	"time"
)

// DefaultTimeout is the default connect+read timeout applied to the primary
// HTTPS transport when an Options value does not override it.
const DefaultTimeout = 30 * time.Second

// DoHConnectTimeout and DoHReadTimeout bound each individual DoH provider
// request. DoHOverallDeadline bounds the whole fan-out across all providers.
const (
	DoHConnectTimeout  = 3050 * time.Millisecond
	DoHReadTimeout     = 16950 * time.Millisecond
	DoHOverallDeadline = 20 * time.Second
)

// AltRouteTTL bounds how long a discovered alternative route is trusted
// before the Route Cache forces a fresh DoH resolution.
const AltRouteTTL = 24 * time.Hour

// DNSHosts is the list of DoH providers queried, in fan-out order.
var DNSHosts = []string{
	"https://dns11.quad9.net/dns-query",
	"https://dns.google/dns-query",
	"https://cloudflare-dns.com/dns-query",
}

// EncodedURLs is the list of well-known query labels the DoH resolver asks
// TXT records for, in order, stopping at the first label that yields a
// non-empty answer set.
var EncodedURLs = []string{
	"dMy-e1RHHOQFCnbsAN8wFiDS43UDDtAr5w0E_m0Zcps",
	"w8MteBRxLQ4IXwy6EqyKYoQAGzFBrRyzNUhO1aNm1vg",
}

// SRPModulusKeyFingerprint is the hex fingerprint (case-insensitive match)
// the PGP Verifier requires the signer of the SRP modulus to match.
const SRPModulusKeyFingerprint = "D360BCC72C518EBDB5BDD2A4C153176D12033929"

// SRPModulusKey is the ASCII-armored public key the PGP Verifier holds.
// Only signatures from the key with fingerprint SRPModulusKeyFingerprint are
// accepted, regardless of what other keys this block might contain.
const SRPModulusKey = `-----BEGIN PGP PUBLIC KEY BLOCK-----

mQENBGpqQLYBCADHtVOfgrl/7+YZnWbHzUpr3V2AJ9iJWVpeqys5PgCTBiVb33af
hO/O9N/MmtaIlAWfuDIIXfj331l7vvYeVtt75AzxCSOJapMY5l9k6FJQAB+8WP0V
v8wq5S4f50N+6IePq8r2PBv1ap/0/j40xplcAhNnYSQ+nJOzoEjGakHlM02bECvV
YgSwx0XVPpsl/Dk1m5IXZipj/X48n9G86VPWYu3/etDndQEcXqJiCkzDX0c4+oui
3Gg2K4+Ypj7EgGXYS1soTmpV8jbgWVSBUQ4IpSovWHkay2TCLvyt+Evi3E0U7eDW
knVOlQ89QoZGpgpC0qkwRl6xj5pAluNV7JLvABEBAAG0QVZhdWx0bGluZSBNb2R1
bHVzIFNpZ25pbmcgS2V5IDxtb2R1bHVzLXNpZ25pbmdAdmF1bHRsaW5lLmV4YW1w
bGU+iQFOBBMBCgA4FiEE02C8xyxRjr21vdKkwVMXbRIDOSkFAmpqQLYCGy8FCwkI
BwIGFQoJCAsCBBYCAwECHgECF4AACgkQwVMXbRIDOSn9HQf9F0hc4hVwpwZkTrfv
tUNvtUe4U9BJhcegpciFLmI9jIgpb+Yd209/KLBL0iJ6ED+GJR18gdw8x44kKHTG
7U3ifulZVCDUTCK5H33TJ3dhnopLO8rZ3PkKnotLKE3RN4/NgNnXQUJDeJP+3+Kh
tYMgPzDWe71CuSZQRZtWmKiGTac82F2dU1NesdwCDDBHB1Y6WMCXTvE+86sPH6mv
q9QqvGHVtSoNiUO35ZFsSuCj5LaiuNL4m6KowL+/1/ssheCcrJnqFgsW6JnrZpdF
yYFWnIo3/4mPaolF3BIQPXu8j5y6Th7swpfrpkB2cgj8oZBlnKFMoR1iMmT7gU+q
rBJmgQ==
=cxPH
-----END PGP PUBLIC KEY BLOCK-----
`

// PinSet maps a host pattern to its ordered list of acceptable SHA-256 SPKI
// digests, base64-encoded.
type PinSet map[string][]string

// PrimaryPins is the pin set enforced for the canonical API host with full
// hostname and CA verification.
var PrimaryPins = PinSet{
	"api.vaultline.example": {
		"BXfItwmXlY9PVkD2e3TlcA+QC0xPngBSvpof4UbUg+o=",
		"M9O55Gvp384I+yCx+kekq4aJ6jf3QDGLdMSaGFyeUs4=",
		"Qw1fukAKBjVWDh0vmAE39UMyZpQk8y+HWsjAP5TDAa0=",
	},
}

// AltPins is the pin set enforced for discovered alternative hosts. It is
// disjoint from PrimaryPins: a host compromised enough to be routed around
// must never be trusted on the strength of the primary set.
var AltPins = PinSet{
	"*": {
		"MsSU4hijGRx73QSURbxwMRStLac2O3z6HI6ouXwHgX8=",
		"D0kK3i28m0PiOIRzO1lTt+TDBDdQUC/UmhuGcRkCGIU=",
		"y3HkAMoSEzv32Ctvg6p7K9I6g9vs7VMSqhDMBX+z9FA=",
	},
}

// Options configures a session.Session. Callers build one explicitly; there
// is no implicit file/env/flag loading.
type Options struct {
	// APIURL is the canonical base URL, e.g. "https://api.vaultline.example".
	APIURL string
	// AppVersion and UserAgent are opaque identifying strings sent as
	// headers on every request.
	AppVersion string
	UserAgent  string
	// ClientSecret, when non-empty, is forwarded verbatim on /auth/info and
	// /auth to bind the session to a known client integration.
	ClientSecret string

	// Timeout overrides DefaultTimeout for the primary HTTPS transport.
	Timeout time.Duration
	// ProxyURL, if set, routes the primary transport through an HTTP(S)
	// proxy. Mutually exclusive with TLS pinning: construction fails if
	// both are configured.
	ProxyURL string
	// DisableTLSPinning turns off SPKI pin enforcement entirely. Required
	// when ProxyURL is set, since pin verification through an intercepting
	// proxy is undefined.
	DisableTLSPinning bool
	// RootCAs overrides the system trust store for primary-host
	// verification; tests use it to trust an httptest server's certificate.
	RootCAs *x509.CertPool

	// PrimaryPins and AltPins override the package defaults above; tests
	// use this to point at an httptest.Server's self-signed certificate
	// pins instead of the production ones.
	PrimaryPins PinSet
	AltPins     PinSet

	// DNSHosts and EncodedURLs override the package defaults; tests use
	// this to point at a fake DoH provider.
	DNSHosts    []string
	EncodedURLs []string

	// ModulusKey and ModulusKeyFingerprint override the embedded SRP
	// modulus signing key; tests substitute a freshly generated key pair.
	ModulusKey            string
	ModulusKeyFingerprint string
}
