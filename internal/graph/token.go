package graph

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	// DefaultAuthorityURL is the public-cloud identity endpoint.
	DefaultAuthorityURL = "https://login.microsoftonline.com"

	// DefaultScope requests the application permissions granted to the app
	// registration on Graph.
	DefaultScope = "https://graph.microsoft.com/.default"
)

// TokenConfig holds the app registration used for client-credentials tokens.
type TokenConfig struct {
	AuthorityURL string
	TenantID     string
	ClientID     string
	ClientSecret string

	// Scopes defaults to [DefaultScope].
	Scopes []string

	// HTTPClient is used for token requests when set.
	HTTPClient *http.Client
}

// TokenURL returns the v2.0 token endpoint for the tenant.
func (c TokenConfig) TokenURL() string {
	authority := c.AuthorityURL
	if authority == "" {
		authority = DefaultAuthorityURL
	}
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", strings.TrimRight(authority, "/"), c.TenantID)
}

// AppTokenSource hands out application access tokens. Tokens are cached and
// refreshed shortly before they expire, so a long sync run keeps working
// after the first token lapses.
type AppTokenSource struct {
	ts oauth2.TokenSource
}

// NewAppTokenSource creates a token source for cfg. ctx governs the token
// HTTP requests for the lifetime of the source and should not be a
// request-scoped context.
func NewAppTokenSource(ctx context.Context, cfg TokenConfig) *AppTokenSource {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{DefaultScope}
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL(),
		Scopes:       scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
	}
	return &AppTokenSource{ts: cc.TokenSource(ctx)}
}

// AccessToken returns a valid bearer token. An empty token with a nil error
// means the identity provider answered without one.
func (s *AppTokenSource) AccessToken(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tok, err := s.ts.Token()
	if err != nil {
		return "", fmt.Errorf("acquiring application token: %w", err)
	}
	if tok == nil {
		return "", nil
	}
	return tok.AccessToken, nil
}
