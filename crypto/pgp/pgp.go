// Package pgp verifies the OpenPGP cleartext signature over the SRP
// modulus the server hands back from /auth/info, before that modulus is
// trusted as the SRP group. It holds exactly one embedded public key and
// refuses anything not signed by the configured fingerprint.
package pgp

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"

	"github.com/vaultline/srpsession/apierror"
)

// Verifier checks a cleartext-signed, armored modulus blob against a single
// trusted public key, identified by fingerprint rather than by whatever
// identities happen to be bound to the key material.
type Verifier struct {
	keyring     openpgp.EntityList
	fingerprint string
}

// NewVerifier builds a Verifier from an ASCII-armored public key block and
// the hex fingerprint (case-insensitive) the signer must match. Construction
// fails if the armored key cannot be parsed; it does NOT fail if the
// fingerprint doesn't match any key in the block; that is a verification-time
// failure, not a construction-time one, since a key block may legitimately
// carry keys other than the one we trust.
func NewVerifier(armoredKey, fingerprint string) (*Verifier, error) {
	keyring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armoredKey))
	if err != nil {
		return nil, apierror.Wrap(apierror.MissingDependency, err, "parse embedded PGP public key")
	}
	return &Verifier{
		keyring:     keyring,
		fingerprint: strings.ToUpper(strings.TrimSpace(fingerprint)),
	}, nil
}

// VerifyModulus verifies a cleartext-signed armored modulus blob: it checks
// the signature is good, the signer's fingerprint matches byte-for-byte
// (case-insensitively), and returns the base64-decoded plaintext (the raw
// modulus bytes). Any failure collapses to apierror.InvalidModulus, per the
// spec's "any failure ... fails with InvalidModulus" contract: callers don't
// get to distinguish a bad signature from a malformed armor from a wrong
// signer, and shouldn't try to.
func (v *Verifier) VerifyModulus(armored []byte) ([]byte, error) {
	block, _ := clearsign.Decode(armored)
	if block == nil {
		return nil, apierror.New(apierror.InvalidModulus, "malformed cleartext-signed armor")
	}
	if block.ArmoredSignature == nil {
		return nil, apierror.New(apierror.InvalidModulus, "missing armored signature")
	}

	signer, err := openpgp.CheckDetachedSignature(v.keyring, bytes.NewReader(block.Bytes), block.ArmoredSignature.Body, nil)
	if err != nil || signer == nil {
		return nil, apierror.Wrap(apierror.InvalidModulus, err, "signature verification failed")
	}

	fp := hex.EncodeToString(signer.PrimaryKey.Fingerprint[:])
	if !strings.EqualFold(fp, v.fingerprint) {
		return nil, apierror.New(apierror.InvalidModulus, "signer fingerprint does not match trusted key")
	}

	plaintext := bytes.TrimSpace(block.Plaintext)
	decoded, err := base64.StdEncoding.DecodeString(string(plaintext))
	if err != nil {
		return nil, apierror.Wrap(apierror.InvalidModulus, err, "modulus plaintext is not valid base64")
	}
	return decoded, nil
}
