package calendar

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"

	"github.com/bookline/bookline/internal/db"
)

// OAuthConfigFromEnv builds the Google OAuth2 config, or nil when the
// deployment has no Google credentials (sync stays disabled everywhere).
func OAuthConfigFromEnv() *oauth2.Config {
	clientID := os.Getenv("GOOGLE_CLIENT_ID")
	clientSecret := os.Getenv("GOOGLE_CLIENT_SECRET")
	redirectURL := os.Getenv("GOOGLE_REDIRECT_URL")
	if clientID == "" || clientSecret == "" || redirectURL == "" {
		return nil
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{gcal.CalendarEventsScope},
		Endpoint:     google.Endpoint,
	}
}

// TokenStore persists per-tenant OAuth tokens. A tenant without a row is
// disconnected.
type TokenStore struct {
	pool *db.Pool
}

func NewTokenStore(pool *db.Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

func (s *TokenStore) Get(ctx context.Context, tenantID string) (*oauth2.Token, error) {
	var tok oauth2.Token
	err := s.pool.QueryRow(ctx, `
		SELECT access_token, COALESCE(refresh_token, ''), token_type, expiry
		FROM calendar_tokens
		WHERE tenant_id = $1
	`, tenantID).Scan(&tok.AccessToken, &tok.RefreshToken, &tok.TokenType, &tok.Expiry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotConnected
		}
		return nil, err
	}
	return &tok, nil
}

func (s *TokenStore) Save(ctx context.Context, tenantID string, tok *oauth2.Token) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO calendar_tokens (tenant_id, access_token, refresh_token, token_type, expiry)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id) DO UPDATE
		SET access_token = EXCLUDED.access_token,
			refresh_token = CASE WHEN EXCLUDED.refresh_token = '' THEN calendar_tokens.refresh_token ELSE EXCLUDED.refresh_token END,
			token_type = EXCLUDED.token_type,
			expiry = EXCLUDED.expiry,
			updated_at = now()
	`, tenantID, tok.AccessToken, tok.RefreshToken, tok.TokenType, tok.Expiry)
	return err
}

func (s *TokenStore) Delete(ctx context.Context, tenantID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM calendar_tokens WHERE tenant_id = $1
	`, tenantID)
	return err
}

// tokenSource wraps the oauth2 refresh flow and writes refreshed tokens back
// so the next sync run starts from a valid access token.
type tokenSource struct {
	inner    oauth2.TokenSource
	store    *TokenStore
	tenantID string
	last     *oauth2.Token
}

func (s *TokenStore) TokenSource(ctx context.Context, oauthCfg *oauth2.Config, tenantID string) (oauth2.TokenSource, error) {
	tok, err := s.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return &tokenSource{
		inner:    oauthCfg.TokenSource(ctx, tok),
		store:    s,
		tenantID: tenantID,
		last:     tok,
	}, nil
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	tok, err := ts.inner.Token()
	if err != nil {
		return nil, err
	}
	if ts.last == nil || tok.AccessToken != ts.last.AccessToken {
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ts.store.Save(saveCtx, ts.tenantID, tok) // best effort
		ts.last = tok
	}
	return tok, nil
}
