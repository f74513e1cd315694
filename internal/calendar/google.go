package calendar

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GoogleProvider mirrors events into Google Calendar using per-tenant OAuth
// tokens.
type GoogleProvider struct {
	oauth  *oauth2.Config
	tokens *TokenStore
}

func NewGoogleProvider(oauthCfg *oauth2.Config, tokens *TokenStore) *GoogleProvider {
	return &GoogleProvider{oauth: oauthCfg, tokens: tokens}
}

func (g *GoogleProvider) service(ctx context.Context, tenantID string) (*gcal.Service, error) {
	if g.oauth == nil {
		return nil, ErrNotConnected
	}
	ts, err := g.tokens.TokenSource(ctx, g.oauth, tenantID)
	if err != nil {
		return nil, err
	}
	return gcal.NewService(ctx, option.WithTokenSource(ts))
}

func (g *GoogleProvider) CreateEvent(ctx context.Context, tenantID, calendarID string, ev Event) (string, error) {
	srv, err := g.service(ctx, tenantID)
	if err != nil {
		return "", err
	}
	created, err := srv.Events.Insert(calendarID, toGoogleEvent(ev)).Context(ctx).Do()
	if err != nil {
		return "", asProviderError(err)
	}
	return created.Id, nil
}

func (g *GoogleProvider) UpdateEvent(ctx context.Context, tenantID, calendarID, eventID string, ev Event) error {
	srv, err := g.service(ctx, tenantID)
	if err != nil {
		return err
	}
	_, err = srv.Events.Update(calendarID, eventID, toGoogleEvent(ev)).Context(ctx).Do()
	return asProviderError(err)
}

func (g *GoogleProvider) DeleteEvent(ctx context.Context, tenantID, calendarID, eventID string) error {
	srv, err := g.service(ctx, tenantID)
	if err != nil {
		return err
	}
	err = srv.Events.Delete(calendarID, eventID).Context(ctx).Do()
	// An already-deleted mirror is a success for a best-effort removal.
	var gErr *googleapi.Error
	if errors.As(err, &gErr) && (gErr.Code == http.StatusNotFound || gErr.Code == http.StatusGone) {
		return nil
	}
	return asProviderError(err)
}

func toGoogleEvent(ev Event) *gcal.Event {
	return &gcal.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start: &gcal.EventDateTime{
			DateTime: ev.Start.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
		End: &gcal.EventDateTime{
			DateTime: ev.End.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
	}
}

// asProviderError maps a revoked or expired grant to ErrNotConnected so the
// worker skips instead of retrying a credential that cannot recover.
func asProviderError(err error) error {
	if err == nil {
		return nil
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) && (gErr.Code == http.StatusUnauthorized || gErr.Code == http.StatusForbidden) {
		return ErrNotConnected
	}
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		return ErrNotConnected
	}
	return err
}
