// Package session is the public entry point: a Session authenticates to the
// API over SRP-6a, transports requests through the pinned client with
// alternative-routing fallback, and persists itself as an opaque JSON blob
// via Dump/Load. A Session is not safe for concurrent use; callers that
// share one must serialize access.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/vaultline/srpsession/apierror"
	"github.com/vaultline/srpsession/config"
	"github.com/vaultline/srpsession/crypto/pgp"
	"github.com/vaultline/srpsession/crypto/srp"
	"github.com/vaultline/srpsession/internal/logger"
	"github.com/vaultline/srpsession/transport"
)

// refreshRedirectURI is the fixed RedirectURI the token-refresh grant sends.
const refreshRedirectURI = "https://vaultline.example"

// ErrNoSession is returned by operations that need stored credentials when
// the session has none.
var ErrNoSession = errors.New("session: not authenticated")

// Credentials is the authenticated state stored after a successful SRP
// exchange and round-tripped through Dump/Load.
type Credentials struct {
	UID          string   `json:"UID"`
	AccessToken  string   `json:"AccessToken"`
	RefreshToken string   `json:"RefreshToken"`
	PasswordMode int      `json:"PasswordMode"`
	Scope        []string `json:"Scope"`
}

// Session wires the SRP client, the PGP modulus verifier, and the request
// engine into the authentication lifecycle.
type Session struct {
	opts     config.Options
	client   *transport.Client
	engine   *transport.Engine
	verifier *pgp.Verifier
	creds    *Credentials
	log      logger.Logger
}

// New constructs an unauthenticated Session for opts.APIURL.
func New(opts config.Options, log logger.Logger) (*Session, error) {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	if _, err := url.Parse(opts.APIURL); err != nil {
		return nil, err
	}

	key := opts.ModulusKey
	fingerprint := opts.ModulusKeyFingerprint
	if key == "" {
		key = config.SRPModulusKey
		fingerprint = config.SRPModulusKeyFingerprint
	}
	verifier, err := pgp.NewVerifier(key, fingerprint)
	if err != nil {
		return nil, err
	}

	client, err := transport.NewClient(opts, log)
	if err != nil {
		return nil, err
	}
	engine, err := transport.NewEngine(opts, client, log)
	if err != nil {
		return nil, err
	}

	return &Session{
		opts:     opts,
		client:   client,
		engine:   engine,
		verifier: verifier,
		log:      log,
	}, nil
}

// dumpBlob is the serialized session shape. session_data is an empty object
// when unauthenticated.
type dumpBlob struct {
	APIURL      string            `json:"api_url"`
	AppVersion  string            `json:"appversion"`
	UserAgent   string            `json:"User-Agent"`
	Cookies     map[string]string `json:"cookies"`
	SessionData json.RawMessage   `json:"session_data"`
}

// Dump serializes the session for storage. The caller owns where the blob
// goes (keyring, file); the core only defines its shape.
func (s *Session) Dump() ([]byte, error) {
	sessionData := json.RawMessage("{}")
	if s.creds != nil {
		data, err := json.Marshal(s.creds)
		if err != nil {
			return nil, err
		}
		sessionData = data
	}

	return json.Marshal(dumpBlob{
		APIURL:      s.opts.APIURL,
		AppVersion:  s.client.Header("x-pm-appversion"),
		UserAgent:   s.client.Header("User-Agent"),
		Cookies:     s.client.Cookies(s.opts.APIURL),
		SessionData: sessionData,
	})
}

// Load rebuilds a session from a Dump blob, re-applying cookies and, when
// credentials were present, the auth headers. opts supplies everything the
// blob does not carry (pins, timeouts, test overrides); its APIURL,
// AppVersion, and UserAgent are overridden by the blob's.
func Load(blob []byte, opts config.Options, log logger.Logger) (*Session, error) {
	var d dumpBlob
	if err := json.Unmarshal(blob, &d); err != nil {
		return nil, err
	}

	opts.APIURL = d.APIURL
	opts.AppVersion = d.AppVersion
	opts.UserAgent = d.UserAgent

	s, err := New(opts, log)
	if err != nil {
		return nil, err
	}
	s.client.SetCookies(d.APIURL, d.Cookies)

	if len(d.SessionData) > 0 {
		var creds Credentials
		if err := json.Unmarshal(d.SessionData, &creds); err != nil {
			return nil, err
		}
		if creds.UID != "" {
			s.creds = &creds
			s.applyAuthHeaders()
		}
	}
	return s, nil
}

// SetAlternativeRouting makes the mandatory enable/disable choice for
// alternative routing. Until one of the two is chosen, every request fails.
func (s *Session) SetAlternativeRouting(enabled bool) {
	if enabled {
		s.engine.SetAltRoutingPolicy(transport.AltRoutingEnabled)
	} else {
		s.engine.SetAltRoutingPolicy(transport.AltRoutingDisabled)
	}
}

// AlternativeRouting returns the current tri-state policy.
func (s *Session) AlternativeRouting() transport.AltRoutingPolicy {
	return s.engine.AltRoutingPolicy()
}

// SetForceSkipAlternativeRouting suppresses fallback even when enabled,
// e.g. while the API is reachable through a tunnel anyway.
func (s *Session) SetForceSkipAlternativeRouting(v bool) {
	s.engine.SetForceSkipAltRouting(v)
}

// ForceSkipAlternativeRouting returns the current override.
func (s *Session) ForceSkipAlternativeRouting() bool {
	return s.engine.ForceSkipAltRouting()
}

// APIRequest dispatches one logical API request through the engine. See
// transport.Engine.Request for parameter semantics.
func (s *Session) APIRequest(ctx context.Context, endpoint string, body any, headers map[string]string, method string, params url.Values) (*transport.Result, error) {
	return s.engine.Request(ctx, endpoint, body, headers, method, params)
}

type authInfoResponse struct {
	Modulus         string `json:"Modulus"`
	ServerEphemeral string `json:"ServerEphemeral"`
	Salt            string `json:"Salt"`
	Version         int    `json:"Version"`
	SRPSession      string `json:"SRPSession"`
}

type authResponse struct {
	UID          string `json:"UID"`
	AccessToken  string `json:"AccessToken"`
	RefreshToken string `json:"RefreshToken"`
	PasswordMode int    `json:"PasswordMode"`
	Scope        string `json:"Scope"`
	ServerProof  string `json:"ServerProof"`
}

// Authenticate runs the SRP-6a exchange for username/password and stores
// the issued credentials on success, returning the account's scope list.
// A still-authenticated session is logged out first, best-effort: failures
// there are logged and swallowed so re-authentication can proceed.
func (s *Session) Authenticate(ctx context.Context, username, password string) ([]string, error) {
	if s.creds != nil {
		if err := s.Logout(ctx); err != nil {
			s.log.Warn("pre-auth logout failed", logger.Error(err))
			s.clearAuth()
		}
	}

	payload := map[string]any{"Username": username}
	if s.opts.ClientSecret != "" {
		payload["ClientSecret"] = s.opts.ClientSecret
	}
	res, err := s.engine.Request(ctx, "/auth/info", payload, nil, "", nil)
	if err != nil {
		return nil, err
	}
	var info authInfoResponse
	if err := res.Decode(&info); err != nil {
		return nil, err
	}

	modulus, err := s.verifier.VerifyModulus([]byte(info.Modulus))
	if err != nil {
		return nil, err
	}
	serverEphemeral, err := base64.StdEncoding.DecodeString(info.ServerEphemeral)
	if err != nil {
		return nil, apierror.Wrap(apierror.InvalidChallenge, err, "server ephemeral is not valid base64")
	}
	salt, err := base64.StdEncoding.DecodeString(info.Salt)
	if err != nil {
		return nil, apierror.Wrap(apierror.InvalidChallenge, err, "salt is not valid base64")
	}

	client, err := srp.New(username, []byte(password), modulus)
	if err != nil {
		return nil, err
	}
	clientEphemeral := client.GetChallenge()
	clientProof, err := client.ProcessChallenge(salt, serverEphemeral, info.Version)
	if err != nil {
		return nil, err
	}
	if clientProof == nil {
		return nil, apierror.New(apierror.InvalidChallenge, "server sent a degenerate SRP challenge")
	}

	payload = map[string]any{
		"Username":        username,
		"ClientEphemeral": base64.StdEncoding.EncodeToString(clientEphemeral),
		"ClientProof":     base64.StdEncoding.EncodeToString(clientProof),
		"SRPSession":      info.SRPSession,
	}
	if s.opts.ClientSecret != "" {
		payload["ClientSecret"] = s.opts.ClientSecret
	}
	res, err = s.engine.Request(ctx, "/auth", payload, nil, "", nil)
	if err != nil {
		return nil, err
	}
	var auth authResponse
	if err := res.Decode(&auth); err != nil {
		return nil, err
	}

	if auth.ServerProof == "" {
		return nil, apierror.New(apierror.InvalidPassword, "server returned no proof; password rejected")
	}
	serverProof, err := base64.StdEncoding.DecodeString(auth.ServerProof)
	if err != nil {
		return nil, apierror.Wrap(apierror.InvalidServerProof, err, "server proof is not valid base64")
	}
	if !client.VerifySession(serverProof) {
		return nil, apierror.New(apierror.InvalidServerProof, "server proof does not match the derived session key")
	}

	s.creds = &Credentials{
		UID:          auth.UID,
		AccessToken:  auth.AccessToken,
		RefreshToken: auth.RefreshToken,
		PasswordMode: auth.PasswordMode,
		Scope:        strings.Fields(auth.Scope),
	}
	s.applyAuthHeaders()

	s.log.Info("authenticated", logger.String("uid", auth.UID))
	return s.Scope(), nil
}

// ProvideTwoFactor submits a second-factor code and updates the session's
// scope from the response.
func (s *Session) ProvideTwoFactor(ctx context.Context, code string) ([]string, error) {
	if s.creds == nil {
		return nil, ErrNoSession
	}

	res, err := s.engine.Request(ctx, "/auth/2fa", map[string]any{"TwoFactorCode": code}, nil, "", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Scope string `json:"Scope"`
	}
	if err := res.Decode(&out); err != nil {
		return nil, err
	}

	s.creds.Scope = strings.Fields(out.Scope)
	return s.Scope(), nil
}

// Refresh exchanges the stored refresh token for a new access token pair
// and rewrites the Authorization header with the new access token.
func (s *Session) Refresh(ctx context.Context) error {
	if s.creds == nil {
		return ErrNoSession
	}

	res, err := s.engine.Request(ctx, "/auth/refresh", map[string]any{
		"ResponseType": "token",
		"GrantType":    "refresh_token",
		"RefreshToken": s.creds.RefreshToken,
		"RedirectURI":  refreshRedirectURI,
	}, nil, "", nil)
	if err != nil {
		return err
	}
	var out struct {
		AccessToken  string `json:"AccessToken"`
		RefreshToken string `json:"RefreshToken"`
	}
	if err := res.Decode(&out); err != nil {
		return err
	}

	s.creds.AccessToken = out.AccessToken
	s.creds.RefreshToken = out.RefreshToken
	s.applyAuthHeaders()
	return nil
}

// Logout deletes the server-side session and clears credentials and auth
// headers. Local state is cleared even when the DELETE fails; transport
// failures are suppressed, application errors propagate. Safe to call
// without a session.
func (s *Session) Logout(ctx context.Context) error {
	if s.creds == nil {
		return nil
	}

	_, err := s.engine.Request(ctx, "/auth", nil, nil, "delete", nil)
	s.clearAuth()

	if err != nil && !apierror.Is(err, apierror.APIError) {
		s.log.Warn("logout transport failure suppressed", logger.Error(err))
		return nil
	}
	return err
}

// SetHumanVerification attaches a human-verification token pair to every
// subsequent request, independent of credentials.
func (s *Session) SetHumanVerification(tokenType, token string) {
	s.client.SetHeader(transport.HumanVerificationTokenTypeHeader, tokenType)
	s.client.SetHeader(transport.HumanVerificationTokenHeader, token)
}

// HumanVerification returns the currently attached token pair, empty when
// unset.
func (s *Session) HumanVerification() (tokenType, token string) {
	return s.client.Header(transport.HumanVerificationTokenTypeHeader),
		s.client.Header(transport.HumanVerificationTokenHeader)
}

// ClearHumanVerification removes the attached token pair.
func (s *Session) ClearHumanVerification() {
	s.client.DeleteHeader(transport.HumanVerificationTokenTypeHeader)
	s.client.DeleteHeader(transport.HumanVerificationTokenHeader)
}

// HumanVerificationToken returns the token the engine captured from the
// last human-verification-required response, or "".
func (s *Session) HumanVerificationToken() string {
	return s.engine.HumanVerificationToken()
}

// CaptchaURL returns the URL a caller should present to satisfy the last
// captured human-verification demand.
func (s *Session) CaptchaURL() string {
	return s.opts.APIURL + "/core/v4/captcha?Token=" + url.QueryEscape(s.engine.HumanVerificationToken())
}

// UID returns the authenticated session UID, or "".
func (s *Session) UID() string {
	if s.creds == nil {
		return ""
	}
	return s.creds.UID
}

// AccessToken returns the current access token, or "".
func (s *Session) AccessToken() string {
	if s.creds == nil {
		return ""
	}
	return s.creds.AccessToken
}

// RefreshToken returns the current refresh token, or "".
func (s *Session) RefreshToken() string {
	if s.creds == nil {
		return ""
	}
	return s.creds.RefreshToken
}

// Scope returns a copy of the session's capability scope list.
func (s *Session) Scope() []string {
	if s.creds == nil {
		return nil
	}
	out := make([]string, len(s.creds.Scope))
	copy(out, s.creds.Scope)
	return out
}

func (s *Session) applyAuthHeaders() {
	s.client.SetHeader("x-pm-uid", s.creds.UID)
	s.client.SetHeader("Authorization", "Bearer "+s.creds.AccessToken)
}

func (s *Session) clearAuth() {
	s.creds = nil
	s.client.DeleteHeader("x-pm-uid")
	s.client.DeleteHeader("Authorization")
}
