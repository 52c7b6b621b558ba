package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTick(t *testing.T) {
	before := testutil.ToFloat64(TicksTotal)
	foodBefore := testutil.ToFloat64(Eaten.WithLabelValues("food"))

	RecordTick(2*time.Millisecond, 7, 13, 3, 1)

	if got := testutil.ToFloat64(TicksTotal) - before; got != 1 {
		t.Errorf("ticks delta: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(OrganismCount); got != 7 {
		t.Errorf("organism gauge: got %v", got)
	}
	if got := testutil.ToFloat64(FoodCount); got != 13 {
		t.Errorf("food gauge: got %v", got)
	}
	if got := testutil.ToFloat64(Eaten.WithLabelValues("food")) - foodBefore; got != 3 {
		t.Errorf("food eaten delta: got %v", got)
	}
}

func TestDebugHandler(t *testing.T) {
	h := DebugHandler()

	tests := []struct {
		path     string
		contains string
	}{
		{"/health", "OK"},
		{"/metrics", "microbiome_ticks_total"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("status %d", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.contains) {
				t.Errorf("body does not contain %q", tt.contains)
			}
		})
	}
}

func TestIsLoopback(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:6060", true},
		{"localhost:6060", true},
		{"[::1]:6060", true},
		{"0.0.0.0:6060", false},
		{"10.0.0.5:6060", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		if got := isLoopback(tt.addr); got != tt.want {
			t.Errorf("isLoopback(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}
