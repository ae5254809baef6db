package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsMiddleware_RoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware())
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/media/{id}/purchase", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		})
	})

	counter := httpRequestsTotal.WithLabelValues(http.MethodPost, "/api/v1/media/{id}/purchase", "202")
	before := testutil.ToFloat64(counter)

	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/media/"+id+"/purchase", nil))
	}

	if got := testutil.ToFloat64(counter) - before; got != 3 {
		t.Errorf("счётчик вырос на %v, ожидалось 3 (один лейбл на шаблон)", got)
	}
}

func TestMetricsMiddleware_Unmatched(t *testing.T) {
	if got := routePattern(httptest.NewRequest(http.MethodGet, "/x", nil)); got != "unmatched" {
		t.Errorf("routePattern без chi = %q", got)
	}
}
