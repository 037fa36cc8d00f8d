package osint

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, token string, handler http.HandlerFunc) *Client {
	t.Helper()

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	return New(Config{APIURL: ts.URL, APIToken: token}, zaptest.NewLogger(t))
}

func TestSearchRequiresToken(t *testing.T) {
	client := New(Config{APIURL: "http://unused.test"}, zaptest.NewLogger(t))

	_, err := client.Search(context.Background(), Query{Request: "example@email.com"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	client := newTestClient(t, "token", func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called for empty query")
	})

	for _, q := range []string{"", "   ", "\nsecond line only"} {
		if _, err := client.Search(context.Background(), Query{Request: q}); !errors.Is(err, ErrEmptyQuery) {
			t.Fatalf("query %q: expected ErrEmptyQuery, got %v", q, err)
		}
	}
}

func TestSearchForwardsFirstLineWithDefaults(t *testing.T) {
	var got upstreamRequest
	client := newTestClient(t, "secret-token", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode upstream request: %v", err)
		}
		w.Write([]byte(`{"List":{"Source":{"InfoLeak":"demo","Data":[]}}}`))
	})

	doc, err := client.Search(context.Background(), Query{Request: "example@email.com\nignored second line"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	if got.Token != "secret-token" {
		t.Fatalf("unexpected token %q", got.Token)
	}
	if got.Request != "example@email.com" {
		t.Fatalf("expected first line only, got %q", got.Request)
	}
	if got.Limit != 100 || got.Lang != "ru" || got.Type != "json" {
		t.Fatalf("unexpected defaults: %+v", got)
	}

	var result struct {
		List map[string]any `json:"List"`
	}
	if err := json.Unmarshal(doc, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if _, ok := result.List["Source"]; !ok {
		t.Fatal("result document was not passed through")
	}
}

func TestSearchMapsBadTokenToSentinel(t *testing.T) {
	client := newTestClient(t, "expired", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Error code":"bad token"}`))
	})

	_, err := client.Search(context.Background(), Query{Request: "q"})
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestSearchSurfacesReportedErrorCode(t *testing.T) {
	client := newTestClient(t, "token", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Error code":"limit too large"}`))
	})

	_, err := client.Search(context.Background(), Query{Request: "q"})

	var reported *ReportedError
	if !errors.As(err, &reported) {
		t.Fatalf("expected ReportedError, got %v", err)
	}
	if reported.Code != "limit too large" {
		t.Fatalf("unexpected code %q", reported.Code)
	}
}

func TestSearchSurfacesUpstreamStatus(t *testing.T) {
	client := newTestClient(t, "token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Search(context.Background(), Query{Request: "q"})

	var status *StatusError
	if !errors.As(err, &status) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if status.Status != http.StatusBadGateway {
		t.Fatalf("unexpected status %d", status.Status)
	}
}
