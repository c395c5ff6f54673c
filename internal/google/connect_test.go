package google

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"calmhour/internal/schedule"
	"calmhour/internal/tokens"

	"golang.org/x/oauth2"
)

func TestConnector_ExchangeAndDisconnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"a1","refresh_token":"r1","token_type":"Bearer","expires_in":3600}`)
	}))
	defer srv.Close()

	cfg := &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  oobRedirectURL,
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://accounts.example.com/o/oauth2/auth",
			TokenURL:  srv.URL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx := context.Background()
	store := tokens.NewFileStore(t.TempDir())
	conn := NewConnector(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg, store)

	u, err := url.Parse(conn.AuthURL("work"))
	if err != nil {
		t.Fatalf("bad auth url: %v", err)
	}
	q := u.Query()
	if q.Get("state") != "work" || q.Get("access_type") != "offline" || q.Get("prompt") != "consent" {
		t.Fatalf("unexpected auth url %s", u)
	}

	if err := conn.Exchange(ctx, "work", "bad-code"); !errors.Is(err, schedule.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for rejected code, got %v", err)
	}
	if err := conn.Exchange(ctx, "work", "good-code"); err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	tok, err := store.Load(ctx, "work")
	if err != nil || tok.RefreshToken != "r1" {
		t.Fatalf("token not stored: %+v, %v", tok, err)
	}

	if err := conn.Disconnect(ctx, "work"); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if _, err := store.Load(ctx, "work"); !errors.Is(err, tokens.ErrNotFound) {
		t.Fatalf("expected token to be removed, got %v", err)
	}
}
