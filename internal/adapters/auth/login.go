// Package auth holds the bearer-token authenticator and the OAuth
// authorization-code redirect used by GET /auth/login.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const PKCEChallengeMethodS256 = "S256"

var ErrLoginNotConfigured = errors.New("oauth login is not configured")

type LoginConfig struct {
	AuthorizeURL string
	ClientID     string
	RedirectURI  string
	Scopes       []string
}

func (c LoginConfig) Enabled() bool {
	return c.AuthorizeURL != "" && c.ClientID != "" && c.RedirectURI != ""
}

// LoginRedirect is one started login: the browser goes to URL, and State and
// Verifier must survive until the provider calls back.
type LoginRedirect struct {
	URL      string
	State    string
	Verifier string
}

type PKCEPair struct {
	Verifier  string
	Challenge string
}

func NewPKCEPair() (PKCEPair, error) {
	verifier, err := randomToken(32)
	if err != nil {
		return PKCEPair{}, err
	}

	hash := sha256.Sum256([]byte(verifier))
	return PKCEPair{
		Verifier:  verifier,
		Challenge: base64.RawURLEncoding.EncodeToString(hash[:]),
	}, nil
}

func NewState() (string, error) {
	return randomToken(16)
}

// StartLogin generates state and a PKCE pair and builds the provider URL.
func StartLogin(cfg LoginConfig) (LoginRedirect, error) {
	if !cfg.Enabled() {
		return LoginRedirect{}, ErrLoginNotConfigured
	}

	state, err := NewState()
	if err != nil {
		return LoginRedirect{}, fmt.Errorf("generate oauth state: %w", err)
	}
	pkce, err := NewPKCEPair()
	if err != nil {
		return LoginRedirect{}, fmt.Errorf("generate pkce pair: %w", err)
	}

	authURL, err := BuildAuthorizationURL(cfg, state, pkce.Challenge)
	if err != nil {
		return LoginRedirect{}, err
	}

	return LoginRedirect{URL: authURL, State: state, Verifier: pkce.Verifier}, nil
}

func BuildAuthorizationURL(cfg LoginConfig, state, challenge string) (string, error) {
	if state == "" {
		return "", errors.New("state is required")
	}
	if challenge == "" {
		return "", errors.New("code challenge is required")
	}

	parsed, err := url.Parse(cfg.AuthorizeURL)
	if err != nil {
		return "", fmt.Errorf("parse authorize url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("authorize url must use http or https")
	}
	if parsed.Host == "" {
		return "", errors.New("authorize url host is required")
	}

	q := parsed.Query()
	q.Set("response_type", "code")
	q.Set("client_id", cfg.ClientID)
	q.Set("redirect_uri", cfg.RedirectURI)
	if len(cfg.Scopes) > 0 {
		q.Set("scope", strings.Join(cfg.Scopes, " "))
	}
	q.Set("state", state)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", PKCEChallengeMethodS256)
	parsed.RawQuery = q.Encode()

	return parsed.String(), nil
}

func randomToken(size int) (string, error) {
	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
