package create

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"

	appLog "caldup/internal/log"
)

// CredentialSource yields a bearer token, or "" when the source has
// nothing. Sources are probed in order; the first non-empty token wins.
type CredentialSource interface {
	// Name identifies the source in logs.
	Name() string
	// Token returns a bearer token, "" when unavailable. Errors are for
	// probe failures (a broken page eval), not for plain absence.
	Token(ctx context.Context) (string, error)
}

// Chain probes an ordered list of credential sources.
type Chain struct {
	sources []CredentialSource
}

// NewChain builds a chain over the given sources, in probe order.
func NewChain(sources ...CredentialSource) *Chain {
	return &Chain{sources: sources}
}

// Token returns the first usable credential. Probe errors on individual
// sources are logged and skipped; exhausting the chain yields
// ErrCredentialMissing.
func (c *Chain) Token(ctx context.Context) (string, error) {
	for _, src := range c.sources {
		tok, err := src.Token(ctx)
		if err != nil {
			appLog.Error("credential probe failed", err, "source", src.Name())
			continue
		}
		if tok != "" {
			appLog.Debug("credential found", "source", src.Name())
			return tok, nil
		}
	}
	return "", ErrCredentialMissing
}

// PageStorage is the slice of browser capability the storage and cookie
// sources need. Implemented by dom.Browser.
type PageStorage interface {
	ReadStorage(ctx context.Context, key string) (string, error)
	ReadCookie(ctx context.Context, name string) (string, error)
}

// StorageSource probes host-page localStorage/sessionStorage keys.
type StorageSource struct {
	Page PageStorage
	Keys []string
}

func (s StorageSource) Name() string { return "page-storage" }

func (s StorageSource) Token(ctx context.Context) (string, error) {
	if s.Page == nil {
		return "", nil
	}
	for _, key := range s.Keys {
		val, err := s.Page.ReadStorage(ctx, key)
		if err != nil {
			return "", fmt.Errorf("storage key %q: %w", key, err)
		}
		if tok := normalizeToken(val); tok != "" {
			return tok, nil
		}
	}
	return "", nil
}

// CookieSource probes browser cookies by name.
type CookieSource struct {
	Page  PageStorage
	Names []string
}

func (s CookieSource) Name() string { return "cookies" }

func (s CookieSource) Token(ctx context.Context) (string, error) {
	if s.Page == nil {
		return "", nil
	}
	for _, name := range s.Names {
		val, err := s.Page.ReadCookie(ctx, name)
		if err != nil {
			return "", fmt.Errorf("cookie %q: %w", name, err)
		}
		if tok := normalizeToken(val); tok != "" {
			return tok, nil
		}
	}
	return "", nil
}

// EnvSource reads a bearer token from an environment variable.
type EnvSource struct {
	Var string
}

func (s EnvSource) Name() string { return "env:" + s.Var }

func (s EnvSource) Token(_ context.Context) (string, error) {
	if s.Var == "" {
		return "", nil
	}
	return normalizeToken(os.Getenv(s.Var)), nil
}

// StaticSource wraps a fixed token (config, tests).
type StaticSource struct {
	Value string
}

func (s StaticSource) Name() string { return "static" }

func (s StaticSource) Token(_ context.Context) (string, error) {
	return normalizeToken(s.Value), nil
}

// googleTokenURL is the token endpoint used when the config names none.
const googleTokenURL = "https://oauth2.googleapis.com/token"

// OAuthSource adapts an injected oauth2.TokenSource (a real auth provider)
// into the chain.
type OAuthSource struct {
	Source oauth2.TokenSource
}

// NewOAuthRefreshSource builds an OAuthSource that exchanges a stored
// refresh token for access tokens. The oauth2 transport caches and renews
// the access token; the chain sees only the current bearer value.
func NewOAuthRefreshSource(ctx context.Context, clientID, clientSecret, tokenURL, refreshToken string) OAuthSource {
	if tokenURL == "" {
		tokenURL = googleTokenURL
	}
	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}
	return OAuthSource{Source: conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})}
}

func (s OAuthSource) Name() string { return "oauth2" }

func (s OAuthSource) Token(_ context.Context) (string, error) {
	if s.Source == nil {
		return "", nil
	}
	tok, err := s.Source.Token()
	if err != nil {
		return "", fmt.Errorf("oauth2 token source: %w", err)
	}
	if tok == nil || !tok.Valid() {
		return "", nil
	}
	return tok.AccessToken, nil
}

// normalizeToken strips whitespace and a leading "Bearer " prefix so all
// sources yield the raw token.
func normalizeToken(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "Bearer ")
	return strings.TrimSpace(v)
}
