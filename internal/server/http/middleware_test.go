package httpserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/helixir/paper-radar-service/internal/observability"
)

func TestOwnerMiddleware(t *testing.T) {
	var captured, fromObs string
	r := chi.NewRouter()
	r.With(ownerMiddleware).Get("/test", func(w http.ResponseWriter, r *http.Request) {
		captured = ownerFromContext(r.Context())
		fromObs = observability.OwnerFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name  string
		owner string
		want  int
	}{
		{"present", "alice", http.StatusOK},
		{"trimmed", "  alice  ", http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"blank", "   ", http.StatusUnauthorized},
		{"too long", strings.Repeat("a", maxOwnerLength+1), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			captured, fromObs = "", ""
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.owner != "" {
				req.Header.Set(OwnerHeader, tt.owner)
			}
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rr.Code)
			}
			if tt.want == http.StatusOK && (captured != "alice" || fromObs != "alice") {
				t.Errorf("expected owner alice in context, got %q / %q", captured, fromObs)
			}
		})
	}
}

func TestCorrelationIDMiddleware(t *testing.T) {
	var fromCtx string
	handler := correlationIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = observability.CorrelationIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Errorf("expected echoed correlation id, got %q", got)
	}
	if fromCtx != "corr-123" {
		t.Errorf("expected correlation id in context, got %q", fromCtx)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := rr.Header().Get("X-Correlation-ID"); len(got) != 16 {
		t.Errorf("expected generated 16 hex char id, got %q", got)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"paper.pdf":           "paper.pdf",
		"  spaced.pdf ":       "spaced.pdf",
		"/abs/path/x.pdf":     "x.pdf",
		`..\..\windows\x.pdf`: "x.pdf",
		"..":                  "",
		"":                    "",
		"dir/":                "dir",
	}
	for in, want := range tests {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
