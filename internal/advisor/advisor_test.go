package advisor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lox/vinewater/internal/budget"
	"github.com/lox/vinewater/internal/dates"
	"github.com/lox/vinewater/internal/models"
	"github.com/lox/vinewater/internal/recommend"
)

func testStatus() Status {
	rng := dates.Lookback(dates.MustParse("2024-06-10"), 14)
	rec := recommend.Recommend(recommend.Input{DeficitMM: 25, Acres: 10, FlowRateGPM: 100, ForecastETMM: 12})
	return Status{
		Block: models.Block{ID: "b1", Name: "North Cab", Acres: 10},
		Budget: &budget.WaterBudget{
			ETcInches:      1.97,
			AppliedInches:  0.79,
			RainfallInches: 0.2,
			DeficitInches:  0.98,
			PercentageMet:  50,
			Range:          rng,
		},
		Recommendation: &rec,
		Forecast:       &models.Forecast{PredictedRainfallMM: 4.5, PredictedET0MM: 15},
	}
}

func TestFallbackNarrative(t *testing.T) {
	tests := []struct {
		name     string
		status   Status
		contains []string
	}{
		{
			name:     "deficit with recommendation",
			status:   testStatus(),
			contains: []string{"North Cab is 0.98 inches short", "50%", "Apply about", "4.5 mm of rain"},
		},
		{
			name: "surplus",
			status: Status{
				Block:  models.Block{Name: "South"},
				Budget: &budget.WaterBudget{DeficitInches: -0.3, Range: dates.Lookback(dates.MustParse("2024-06-10"), 14)},
			},
			contains: []string{"South has received enough water"},
		},
		{
			name:     "no data",
			status:   Status{Block: models.Block{Name: "Empty"}},
			contains: []string{"Not enough data to summarise Empty"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FallbackNarrative(tt.status)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("FallbackNarrative() = %q, missing %q", got, want)
				}
			}
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(testStatus())
	for _, want := range []string{"North Cab (10.0 acres)", "Deficit: 0.98 in (50% of demand met)", "high urgency", "4.5 mm rain"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}
}

func TestNarrativeWithoutKeyUsesFallback(t *testing.T) {
	a := New(Options{})
	if a.Enabled() {
		t.Fatal("advisor without key should be disabled")
	}
	st := testStatus()
	if got := a.Narrative(context.Background(), st); got != FallbackNarrative(st) {
		t.Errorf("Narrative() = %q", got)
	}
}

func chatServer(t *testing.T, status int, content string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		if err := json.Unmarshal(body, &req); err != nil || req["model"] != "test-model" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if status != http.StatusOK {
			http.Error(w, `{"error":{"message":"nope"}}`, status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1718000000,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNarrativeFromModel(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, http.StatusOK, "  Irrigate North Cab this week.  ", &calls)
	a := New(Options{APIKey: "k", Model: "test-model", BaseURL: srv.URL, Cache: NewCache(time.Hour)})

	st := testStatus()
	if got := a.Narrative(context.Background(), st); got != "Irrigate North Cab this week." {
		t.Errorf("Narrative() = %q", got)
	}
	// second call is served from the cache
	if got := a.Narrative(context.Background(), st); got != "Irrigate North Cab this week." {
		t.Errorf("cached Narrative() = %q", got)
	}
	if calls.Load() != 1 {
		t.Errorf("server called %d times, want 1", calls.Load())
	}
}

func TestNarrativeModelFailureFallsBack(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, http.StatusBadRequest, "", &calls)
	a := New(Options{APIKey: "k", Model: "test-model", BaseURL: srv.URL})

	st := testStatus()
	if got := a.Narrative(context.Background(), st); got != FallbackNarrative(st) {
		t.Errorf("Narrative() = %q, want fallback", got)
	}
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(time.Hour)
	now := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("a", "hello")
	if got, ok := c.Get("a"); !ok || got != "hello" {
		t.Fatalf("Get() = %q, %v", got, ok)
	}
	now = now.Add(2 * time.Hour)
	if _, ok := c.Get("a"); ok {
		t.Error("expected stale entry to miss")
	}
	c.Set("b", "world")
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after stale entries are swept", c.Len())
	}
}
