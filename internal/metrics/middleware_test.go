package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/retry", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	get200Before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))
	post409Before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "409"))

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	if errInner := resp.Body.Close(); errInner != nil {
		t.Log(errInner)
	}

	resp, err = http.Post(ts.URL+"/retry", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	if errInner := resp.Body.Close(); errInner != nil {
		t.Log(errInner)
	}

	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")); val != get200Before+1 {
		t.Errorf("Expected httpRequestsTotal for GET /status to increment, got %f", val)
	}
	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "409")); val != post409Before+1 {
		t.Errorf("Expected httpRequestsTotal for POST /retry to increment, got %f", val)
	}
	if val := testutil.CollectAndCount(httpRequestDurationSeconds); val <= 0 {
		t.Errorf("Expected httpRequestDurationSeconds to be observed, got %d", val)
	}
}

func TestMiddlewareStatusRecorderDefault(t *testing.T) {
	// A handler that never calls WriteHeader should be recorded as 200.
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/implicit", func(w http.ResponseWriter, _ *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			t.Log(err)
		}
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))
	resp, err := http.Get(ts.URL + "/implicit")
	if err != nil {
		t.Fatal(err)
	}
	if errInner := resp.Body.Close(); errInner != nil {
		t.Log(errInner)
	}
	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")); val != before+1 {
		t.Errorf("Expected implicit 200 to be recorded, got %f", val)
	}
}
