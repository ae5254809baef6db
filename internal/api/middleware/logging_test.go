package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestLogger_LevelByStatus(t *testing.T) {
	tests := []struct {
		path      string
		status    int
		wantLevel string
	}{
		{"/api/v1/media", http.StatusOK, "level=INFO"},
		{"/api/v1/media/x", http.StatusNotFound, "level=WARN"},
		{"/api/v1/media/x/purchase", http.StatusBadGateway, "level=ERROR"},
		{"/health/live", http.StatusOK, "level=DEBUG"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("ok"))
			}))
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req = req.WithContext(WithClaims(req.Context(), &AuthClaims{Subject: "user-1", Role: RoleUser}))
			h.ServeHTTP(httptest.NewRecorder(), req)

			out := buf.String()
			if !strings.Contains(out, tt.wantLevel) {
				t.Errorf("ожидался %s в %q", tt.wantLevel, out)
			}
			if !strings.Contains(out, "user_id=user-1") || !strings.Contains(out, "bytes=2") {
				t.Errorf("нет user_id или bytes в %q", out)
			}
		})
	}
}
