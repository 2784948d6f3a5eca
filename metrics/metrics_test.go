package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	m.Transmission("x", time.Second, nil)
	m.QueueDepth("x", 3)
	m.Availability("x", 1)
	m.StateChange("x", "set")

	h := m.WrapHandler("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestHandlerExposesTransmissions(t *testing.T) {
	m := New()
	m.Transmission("garden", 10*time.Millisecond, nil)
	m.Transmission("garden", 10*time.Millisecond, errors.New("offline"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`rf4ch_transmissions_total{result="ok",switcher="garden"} 1`,
		`rf4ch_transmissions_total{result="error",switcher="garden"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestIndependentInstances(t *testing.T) {
	New()
	New()
}
