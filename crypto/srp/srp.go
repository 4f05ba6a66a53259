// Package srp implements the client half of SRP-6a, using the server's
// modulus (already PGP-verified by the caller) as the group and hashing the
// password according to the version the server dictates at /auth/info.
package srp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"math/big"

	"golang.org/x/crypto/pbkdf2"

	"github.com/vaultline/srpsession/apierror"
)

// generator is the SRP group generator g. The server dictates the modulus N
// (a 2048-bit safe prime); g=2 is fixed for every group this client speaks.
var generator = big.NewInt(2)

// Supported /auth/info Version values. 0-2 are the legacy pre-expansion
// hashing scheme; 3-4 use the PBKDF2-based expansion.
const (
	VersionLegacyMin = 0
	VersionLegacyMax = 2
	VersionExpandMin = 3
	VersionExpandMax = 4

	expandPBKDF2Rounds = 2048
	expandKeyLen       = 32
)

// minExponentBits is the minimum bit length of the client secret exponent a,
// per the spec's "min 256 bits, cryptographically strong" requirement.
const minExponentBits = 256

// Client holds the per-authentication-attempt SRP-6a state: it is created
// fresh for every authenticate() call and is never persisted (see the
// "SRP Transient" data model entry).
type Client struct {
	username string
	password []byte
	modulus  *big.Int
	modLen   int
	k        *big.Int

	a *big.Int
	A *big.Int

	serverEphemeral *big.Int
	sessionKey      []byte
	clientProof     []byte
	authenticated   bool
}

// New creates a client instance for username/password against the given
// raw modulus bytes, and immediately computes a random client secret a.
func New(username string, password []byte, modulusBytes []byte) (*Client, error) {
	n := new(big.Int).SetBytes(modulusBytes)
	if n.Sign() <= 0 {
		return nil, apierror.New(apierror.InvalidModulus, "modulus is not a positive integer")
	}

	c := &Client{
		username: username,
		password: password,
		modulus:  n,
		modLen:   (n.BitLen() + 7) / 8,
	}
	c.k = c.hash(c.pad(n), c.pad(generator))

	a, err := randomExponent(c.modLen)
	if err != nil {
		return nil, apierror.Wrap(apierror.MissingDependency, err, "generate SRP client secret")
	}
	c.a = a
	c.A = new(big.Int).Exp(generator, a, n)

	return c, nil
}

// GetChallenge returns A = g^a mod N as big-endian bytes, zero-padded to the
// modulus byte length.
func (c *Client) GetChallenge() []byte {
	return c.pad(c.A)
}

// ProcessChallenge computes the client proof M1 from the server's salt and
// ephemeral B, hashing the password per version. It returns (nil, nil) if
// B ≡ 0 mod N (the server sent a degenerate challenge), matching the
// spec's "Returns M1 or None" contract; callers should treat a nil, nil
// result as apierror.InvalidChallenge.
func (c *Client) ProcessChallenge(salt, serverEphemeral []byte, version int) ([]byte, error) {
	B := new(big.Int).SetBytes(serverEphemeral)
	if new(big.Int).Mod(B, c.modulus).Sign() == 0 {
		return nil, nil
	}
	c.serverEphemeral = B

	x, err := c.derivePasswordHash(salt, version)
	if err != nil {
		return nil, err
	}

	u := c.hash(c.pad(c.A), c.pad(B))
	if u.Sign() == 0 {
		return nil, apierror.New(apierror.InvalidChallenge, "derived scrambling parameter u is zero")
	}

	gx := new(big.Int).Exp(generator, x, c.modulus)
	kgx := new(big.Int).Mul(c.k, gx)
	kgx.Mod(kgx, c.modulus)

	base := new(big.Int).Sub(B, kgx)
	base.Mod(base, c.modulus)
	if base.Sign() < 0 {
		base.Add(base, c.modulus)
	}

	exp := new(big.Int).Mul(u, x)
	exp.Add(exp, c.a)

	s := new(big.Int).Exp(base, exp, c.modulus)
	k := sha256.Sum256(c.pad(s))
	c.sessionKey = k[:]

	hN := sha256.Sum256(c.pad(c.modulus))
	hg := sha256.Sum256(c.pad(generator))
	hXor := make([]byte, len(hN))
	for i := range hN {
		hXor[i] = hN[i] ^ hg[i]
	}
	hI := sha256.Sum256([]byte(c.username))

	h := sha256.New()
	h.Write(hXor)
	h.Write(hI[:])
	h.Write(salt)
	h.Write(c.pad(c.A))
	h.Write(c.pad(B))
	h.Write(c.sessionKey)
	c.clientProof = h.Sum(nil)

	return c.clientProof, nil
}

// VerifySession checks the server's proof M2 == H(A | M1 | K) and sets
// authenticated accordingly. It returns the same boolean it records.
func (c *Client) VerifySession(serverProof []byte) bool {
	h := sha256.New()
	h.Write(c.pad(c.A))
	h.Write(c.clientProof)
	h.Write(c.sessionKey)
	expected := h.Sum(nil)

	ok := hmac.Equal(expected, serverProof)
	c.authenticated = ok
	return ok
}

// Authenticated reports whether VerifySession last succeeded.
func (c *Client) Authenticated() bool { return c.authenticated }

// derivePasswordHash computes x from salt and password according to the
// server's declared auth Version.
func (c *Client) derivePasswordHash(salt []byte, version int) (*big.Int, error) {
	switch {
	case version >= VersionLegacyMin && version <= VersionLegacyMax:
		inner := sha256.New()
		inner.Write([]byte(c.username))
		inner.Write([]byte(":"))
		inner.Write(c.password)
		innerSum := inner.Sum(nil)

		outer := sha256.New()
		outer.Write(salt)
		outer.Write(innerSum)
		return new(big.Int).SetBytes(outer.Sum(nil)), nil
	case version >= VersionExpandMin && version <= VersionExpandMax:
		expanded := pbkdf2.Key(c.password, salt, expandPBKDF2Rounds, expandKeyLen, sha256.New)
		return new(big.Int).SetBytes(expanded), nil
	default:
		return nil, apierror.New(apierror.UnsupportedAuthVersion, "unsupported SRP auth version")
	}
}

// pad zero-pads v's big-endian encoding to the modulus byte length.
func (c *Client) pad(v *big.Int) []byte {
	out := make([]byte, c.modLen)
	b := v.Bytes()
	if len(b) > c.modLen {
		b = b[len(b)-c.modLen:]
	}
	copy(out[c.modLen-len(b):], b)
	return out
}

// hash computes H(parts...) and returns it as a big.Int, the idiom used for
// every multi-party hash in the protocol (k, u) besides the final proofs.
func (c *Client) hash(parts ...[]byte) *big.Int {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return new(big.Int).SetBytes(h.Sum(nil))
}

// randomExponent returns a cryptographically strong random value with at
// least minExponentBits bits, sized to the modulus byte length.
func randomExponent(byteLen int) (*big.Int, error) {
	if byteLen*8 < minExponentBits {
		byteLen = minExponentBits / 8
	}
	for {
		buf := make([]byte, byteLen)
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		v := new(big.Int).SetBytes(buf)
		if v.BitLen() >= minExponentBits {
			return v, nil
		}
	}
}
