// Package transport implements certificate-pinned HTTPS transport, the
// process-wide alternative-route cache, the DNS-over-HTTPS resolver used to
// discover alternative hosts, and the request engine that ties them
// together with JSON envelope decoding.
package transport

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"

	"github.com/vaultline/srpsession/apierror"
	"github.com/vaultline/srpsession/config"
	"github.com/vaultline/srpsession/internal/logger"
)

// lookupPins resolves the pin list for host, falling back to a "*" wildcard
// entry (used by the ALT pin set, since alt hosts are server-chosen and not
// known in advance).
func lookupPins(pins config.PinSet, host string) []string {
	if p, ok := pins[host]; ok {
		return p
	}
	if p, ok := pins["*"]; ok {
		return p
	}
	return nil
}

// spkiDigest returns the base64-encoded SHA-256 digest of a certificate's
// subject public key info, the quantity every pin in a PinSet is expressed
// as.
func spkiDigest(cert *x509.Certificate) (string, error) {
	spki, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(spki)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

// pinVerifier returns a tls.Config.VerifyPeerCertificate callback that
// accepts the handshake only if the end-entity or any intermediate
// certificate's SPKI digest appears in host's pin list. It never consults
// verifiedChains, since for alt hosts that chain doesn't exist
// (hostname/CA verification is disabled there) — pin matching is checked
// directly against the raw presented certificates in both cases.
func pinVerifier(host string, pins config.PinSet, log logger.Logger) func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	allowed := lookupPins(pins, host)

	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(allowed) == 0 {
			return apierror.TLSPinningError(host, nil)
		}

		observed := make([]string, 0, len(rawCerts))
		for _, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				continue
			}
			digest, err := spkiDigest(cert)
			if err != nil {
				continue
			}
			observed = append(observed, digest)
			for _, want := range allowed {
				if want == digest {
					return nil
				}
			}
		}

		if log != nil {
			log.Warn("tls pin mismatch",
				logger.Host(host),
				logger.Pins(observed),
			)
		}
		return apierror.TLSPinningError(host, observed)
	}
}
