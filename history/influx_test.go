package history

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrepareLastStatesQuery(t *testing.T) {
	in := &Influx{Bucket: "home"}

	q := in.prepareLastStatesQuery(`garden"lights`)

	for _, want := range []string{
		`from(bucket: "home")`,
		`range(start: -30d)`,
		`r["_measurement"] == "rf4ch"`,
		`r["switcher"] == "garden\"lights"`,
		`r["_field"] == "on"`,
		`group(columns: ["channel"])`,
		`last()`,
	} {
		if !strings.Contains(q, want) {
			t.Errorf("query missing %s:\n%s", want, q)
		}
	}
}

func TestMeasurementOverride(t *testing.T) {
	in := &Influx{Bucket: "b", Measurement: "relays", Lookback: "-2h"}

	q := in.prepareLastStatesQuery("x")
	if !strings.Contains(q, `"relays"`) || !strings.Contains(q, "start: -2h") {
		t.Errorf("overrides not applied:\n%s", q)
	}
}

func TestSetup(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status": "ready", "started": "2024-01-01T00:00:00Z", "up": "1h"}`))
		}))
		defer srv.Close()

		in := &Influx{Host: srv.URL, Organization: "home", Bucket: "rf"}
		err := in.Setup(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		defer in.Close()
		if !in.IsReady() {
			t.Error("influx not ready after setup")
		}
	})

	t.Run("unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"code": "unavailable", "message": "starting"}`))
		}))
		defer srv.Close()

		in := &Influx{Host: srv.URL}
		err := in.Setup(context.Background())
		if err == nil {
			t.Error("expected error from unavailable influx")
		}
		if in.IsReady() {
			t.Error("influx ready after failed setup")
		}
	})
}
