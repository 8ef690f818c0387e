package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lox/vinewater/internal/dates"
	"github.com/lox/vinewater/internal/models"
)

func TestValidateET(t *testing.T) {
	tests := []struct {
		name      string
		et        float64
		wantFlags []string
		usable    bool
	}{
		{name: "typical summer day", et: 6.2, wantFlags: nil, usable: true},
		{name: "zero", et: 0, wantFlags: nil, usable: true},
		{name: "negative", et: -0.4, wantFlags: []string{FlagETNegative}, usable: false},
		{name: "at plausible boundary", et: 15, wantFlags: nil, usable: true},
		{name: "implausibly high", et: 22, wantFlags: []string{FlagETImplausible}, usable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := ValidateET(models.ETDailyRecord{Date: dates.MustParse("2024-06-01"), ET: tt.et})
			if len(flags) != len(tt.wantFlags) {
				t.Fatalf("ValidateET() = %v, want %v", flags, tt.wantFlags)
			}
			for i := range flags {
				if flags[i] != tt.wantFlags[i] {
					t.Errorf("ValidateET() = %v, want %v", flags, tt.wantFlags)
				}
			}
			if got := Usable(flags); got != tt.usable {
				t.Errorf("Usable(%v) = %v, want %v", flags, got, tt.usable)
			}
		})
	}
}

func TestValidateRainfall(t *testing.T) {
	if flags := ValidateRainfall(models.DailyRainfall{MM: 12}); len(flags) != 0 {
		t.Errorf("ValidateRainfall(12) = %v, want none", flags)
	}
	if flags := ValidateRainfall(models.DailyRainfall{MM: -1}); len(flags) != 1 || flags[0] != FlagRainNegative {
		t.Errorf("ValidateRainfall(-1) = %v", flags)
	}
	if flags := ValidateRainfall(models.DailyRainfall{MM: 900}); len(flags) != 1 || flags[0] != FlagRainImplausible {
		t.Errorf("ValidateRainfall(900) = %v", flags)
	}
}

func TestQualityFlagsToJSON(t *testing.T) {
	tests := []struct {
		name      string
		flags     []string
		wantEmpty bool
		wantFlags []string
	}{
		{name: "nil flags", flags: nil, wantEmpty: true},
		{name: "empty flags", flags: []string{}, wantEmpty: true},
		{name: "single flag", flags: []string{FlagETNegative}, wantFlags: []string{FlagETNegative}},
		{
			name:      "multiple flags",
			flags:     []string{FlagETImplausible, FlagETNegative},
			wantFlags: []string{FlagETImplausible, FlagETNegative},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := QualityFlagsToJSON(tt.flags)
			if tt.wantEmpty {
				if got != "" {
					t.Errorf("QualityFlagsToJSON() = %q, want empty", got)
				}
				return
			}
			var parsed []string
			if err := json.Unmarshal([]byte(got), &parsed); err != nil {
				t.Fatalf("failed to unmarshal result: %v", err)
			}
			sort.Strings(parsed)
			want := append([]string(nil), tt.wantFlags...)
			sort.Strings(want)
			if strings.Join(parsed, ",") != strings.Join(want, ",") {
				t.Errorf("QualityFlagsToJSON() parsed = %v, want %v", parsed, want)
			}
		})
	}
}

func TestTruncateBody(t *testing.T) {
	tests := []struct {
		name string
		body string
		n    int
		want string
	}{
		{name: "short body", body: "hello", n: 10, want: "hello"},
		{name: "exact length", body: "hello", n: 5, want: "hello"},
		{name: "truncated", body: "hello world", n: 5, want: "hello..."},
		{name: "empty", body: "", n: 5, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateBody([]byte(tt.body), tt.n); got != tt.want {
				t.Errorf("truncateBody() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOpenETFetchET(t *testing.T) {
	var gotBody openETRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/raster/timeseries/point" {
			http.Error(w, "unexpected request", http.StatusNotFound)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		w.Write([]byte(`[
			{"time": "2024-06-01T00:00:00", "eto": 6.1},
			{"time": "2024-06-02T00:00:00", "eto": 5.8},
			{"time": "bad", "eto": 5.0},
			{"time": "2024-06-03T00:00:00", "eto": null}
		]`))
	}))
	defer srv.Close()

	c := NewOpenETClient("secret-key", srv.URL)
	series, result, err := c.FetchET(context.Background(), ETRequest{
		Latitude:  38.5,
		Longitude: -122.4,
		Start:     dates.MustParse("2024-06-01"),
		End:       dates.MustParse("2024-06-03"),
	})
	if err != nil {
		t.Fatalf("FetchET: %v", err)
	}

	if gotAuth != "secret-key" {
		t.Errorf("Authorization = %q, want secret-key", gotAuth)
	}
	if len(gotBody.Geometry) != 2 || gotBody.Geometry[0] != -122.4 || gotBody.Geometry[1] != 38.5 {
		t.Errorf("geometry = %v, want [lng, lat]", gotBody.Geometry)
	}
	if gotBody.Model != DefaultOpenETModel || gotBody.Interval != "daily" || gotBody.Units != "mm" {
		t.Errorf("request body = %+v", gotBody)
	}
	if strings.Join(gotBody.DateRange, ",") != "2024-06-01,2024-06-03" {
		t.Errorf("date_range = %v", gotBody.DateRange)
	}

	if series.Source != "openet" {
		t.Errorf("Source = %q, want openet", series.Source)
	}
	if len(series.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(series.Records))
	}
	if !series.Records[1].Date.Equal(dates.MustParse("2024-06-02")) || series.Records[1].ET != 5.8 {
		t.Errorf("record[1] = %+v", series.Records[1])
	}
	if result.RecordCount != 2 || result.ParseErrors != 2 {
		t.Errorf("result counts = %d records, %d parse errors; want 2, 2", result.RecordCount, result.ParseErrors)
	}
	if result.HTTPStatus != http.StatusOK {
		t.Errorf("HTTPStatus = %d", result.HTTPStatus)
	}
}

func TestOpenETRequiresKey(t *testing.T) {
	c := NewOpenETClient("", "http://127.0.0.1:1")
	if _, _, err := c.FetchET(context.Background(), ETRequest{}); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestFetchWithRetry(t *testing.T) {
	t.Run("retries server errors", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte("ok"))
		}))
		defer srv.Close()

		result := &FetchResult{Endpoint: "test"}
		body, err := fetchWithRetry(context.Background(), srv.Client(), result, func() (*http.Request, error) {
			return http.NewRequest(http.MethodGet, srv.URL, nil)
		})
		if err != nil {
			t.Fatalf("fetchWithRetry: %v", err)
		}
		if string(body) != "ok" || calls.Load() != 2 {
			t.Errorf("body = %q after %d calls, want ok after 2", body, calls.Load())
		}
	})

	t.Run("client errors are permanent", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.Error(w, "bad geometry", http.StatusBadRequest)
		}))
		defer srv.Close()

		result := &FetchResult{Endpoint: "test"}
		_, err := fetchWithRetry(context.Background(), srv.Client(), result, func() (*http.Request, error) {
			return http.NewRequest(http.MethodGet, srv.URL, nil)
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if calls.Load() != 1 {
			t.Errorf("calls = %d, want 1", calls.Load())
		}
		if result.HTTPStatus != http.StatusBadRequest || result.Error == nil {
			t.Errorf("result = %+v", result)
		}
	})
}

func openMeteoServer(t *testing.T, body string, gotQuery *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/forecast" {
			http.NotFound(w, r)
			return
		}
		if gotQuery != nil {
			*gotQuery = r.URL.RawQuery
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenMeteoFetchET(t *testing.T) {
	var query string
	srv := openMeteoServer(t, `{"daily":{"time":["2024-06-01","2024-06-02","2024-06-03"],
		"et0_fao_evapotranspiration":[5.5,null,6.0]}}`, &query)

	c := NewOpenMeteoClient(srv.URL, dates.FixedClock(dates.MustParse("2024-06-10")))
	series, result, err := c.FetchET(context.Background(), ETRequest{
		Latitude:  38.5,
		Longitude: -122.4,
		Start:     dates.MustParse("2024-06-01"),
		End:       dates.MustParse("2024-06-03"),
	})
	if err != nil {
		t.Fatalf("FetchET: %v", err)
	}
	if !strings.Contains(query, "start_date=2024-06-01") || !strings.Contains(query, "end_date=2024-06-03") {
		t.Errorf("query = %q", query)
	}
	if series.Source != "open-meteo" || len(series.Records) != 2 {
		t.Fatalf("series = %+v", series)
	}
	if series.Records[1].ET != 6.0 {
		t.Errorf("record[1].ET = %v, want 6.0", series.Records[1].ET)
	}
	if result.RecordCount != 2 {
		t.Errorf("RecordCount = %d", result.RecordCount)
	}
}

func TestOpenMeteoFetchRainfall(t *testing.T) {
	var query string
	srv := openMeteoServer(t, `{"daily":{"time":["2024-06-08","2024-06-09","2024-06-10"],
		"precipitation_sum":[3.0,-2.0,0]}}`, &query)

	c := NewOpenMeteoClient(srv.URL, dates.FixedClock(dates.MustParse("2024-06-10")))
	summary, err := c.FetchRainfall(context.Background(), 38.5, -122.4, 14)
	if err != nil {
		t.Fatalf("FetchRainfall: %v", err)
	}
	if !strings.Contains(query, "start_date=2024-05-27") || !strings.Contains(query, "end_date=2024-06-10") {
		t.Errorf("query = %q", query)
	}
	if summary.TotalMM != 3.0 {
		t.Errorf("TotalMM = %v, want 3.0", summary.TotalMM)
	}
	if len(summary.Daily) != 2 {
		t.Errorf("got %d daily values, want 2 (negative dropped)", len(summary.Daily))
	}
	if summary.LastRainEvent == nil || !summary.LastRainEvent.Date.Equal(dates.MustParse("2024-06-08")) {
		t.Errorf("LastRainEvent = %+v", summary.LastRainEvent)
	}
}

func TestOpenMeteoFetchForecast(t *testing.T) {
	srv := openMeteoServer(t, `{"daily":{"time":["2024-06-11","2024-06-12","2024-06-13"],
		"et0_fao_evapotranspiration":[5.0,5.5,null],
		"precipitation_sum":[0,4.5,1.0],
		"precipitation_probability_max":[10,80,null]}}`, nil)

	c := NewOpenMeteoClient(srv.URL, nil)
	fc, err := c.FetchForecast(context.Background(), 38.5, -122.4)
	if err != nil {
		t.Fatalf("FetchForecast: %v", err)
	}
	if len(fc.Periods) != 3 {
		t.Fatalf("got %d periods, want 3", len(fc.Periods))
	}
	if fc.PredictedET0MM != 10.5 || fc.PredictedRainfallMM != 5.5 {
		t.Errorf("forecast totals = %v ET, %v rain", fc.PredictedET0MM, fc.PredictedRainfallMM)
	}
	if !fc.Periods[1].PrecipChance.Valid || fc.Periods[1].PrecipChance.Int64 != 80 {
		t.Errorf("period[1].PrecipChance = %+v", fc.Periods[1].PrecipChance)
	}
	if fc.Periods[2].PrecipChance.Valid {
		t.Errorf("period[2].PrecipChance should be null")
	}
}

func TestOpenMeteoErrorResponse(t *testing.T) {
	srv := openMeteoServer(t, `{"error":true,"reason":"Latitude must be in range"}`, nil)
	c := NewOpenMeteoClient(srv.URL, nil)
	if _, err := c.FetchForecast(context.Background(), 999, 0); err == nil || !strings.Contains(err.Error(), "Latitude") {
		t.Errorf("FetchForecast err = %v", err)
	}
}

const cimisSample = `Stn Id,Date,Jul,ETo (mm),qc,Precip (mm),qc,Sol Rad (W/sq.m)
80,6/1/2024,153,6.21,,0.0,,320
80,6/2/2024,154,--,M,0.0,,318
80,6/3/2024,155,5.90,,2.4,,290
80,6/4/2024,156,6.05,,0.0,,330
`

func TestParseCIMISDaily(t *testing.T) {
	window := dates.NewRange(dates.MustParse("2024-06-01"), dates.MustParse("2024-06-03"))
	result := &FetchResult{}
	records, rain, err := parseCIMISDaily(strings.NewReader(cimisSample), window, result)
	if err != nil {
		t.Fatalf("parseCIMISDaily: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if !records[0].Date.Equal(dates.MustParse("2024-06-01")) || records[0].ET != 6.21 {
		t.Errorf("record[0] = %+v", records[0])
	}
	if records[1].ET != 5.90 {
		t.Errorf("record[1].ET = %v", records[1].ET)
	}
	if result.ParseErrors != 1 || result.RecordCount != 2 {
		t.Errorf("result = %+v", result)
	}
	if len(rain) != 2 || rain[1].MM != 2.4 {
		t.Errorf("rain = %+v", rain)
	}
}

func TestCIMISRequiresStation(t *testing.T) {
	c := NewCIMISClient("")
	_, result, err := c.FetchET(context.Background(), ETRequest{})
	if !errors.Is(err, errNoStation) {
		t.Errorf("err = %v, want errNoStation", err)
	}
	if result.Endpoint != "/pub2/daily/daily000.csv" {
		t.Errorf("Endpoint = %q", result.Endpoint)
	}
}

type fakeSource struct {
	name   string
	series *models.ETSeries
	err    error
	calls  int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) FetchET(ctx context.Context, req ETRequest) (*models.ETSeries, *FetchResult, error) {
	f.calls++
	return f.series, &FetchResult{Source: f.name}, f.err
}

func TestChain(t *testing.T) {
	day := dates.MustParse("2024-06-01")
	good := &models.ETSeries{Records: []models.ETDailyRecord{{Date: day, ET: 5}}, Source: "fallback"}

	t.Run("falls through failures and empty series", func(t *testing.T) {
		failing := &fakeSource{name: "primary", err: errors.New("boom")}
		empty := &fakeSource{name: "secondary", series: &models.ETSeries{Source: "secondary"}}
		fallback := &fakeSource{name: "fallback", series: good}
		chain := NewChain(failing, nil, empty, fallback)

		series, result, err := chain.FetchET(context.Background(), ETRequest{Start: day, End: day})
		if err != nil {
			t.Fatalf("FetchET: %v", err)
		}
		if series.Source != "fallback" || result.Source != "fallback" {
			t.Errorf("source = %q / %q, want fallback", series.Source, result.Source)
		}
		if failing.calls != 1 || empty.calls != 1 || fallback.calls != 1 {
			t.Errorf("calls = %d %d %d", failing.calls, empty.calls, fallback.calls)
		}
	})

	t.Run("stops at first success", func(t *testing.T) {
		first := &fakeSource{name: "first", series: good}
		second := &fakeSource{name: "second", series: good}
		if _, _, err := NewChain(first, second).FetchET(context.Background(), ETRequest{}); err != nil {
			t.Fatal(err)
		}
		if second.calls != 0 {
			t.Errorf("second source called %d times", second.calls)
		}
	})

	t.Run("all fail", func(t *testing.T) {
		a := &fakeSource{name: "a", err: errors.New("a down")}
		b := &fakeSource{name: "b", series: &models.ETSeries{}}
		_, _, err := NewChain(a, b).FetchET(context.Background(), ETRequest{})
		if err == nil {
			t.Fatal("expected error")
		}
		if !errors.Is(err, ErrNoETData) || !strings.Contains(err.Error(), "a down") {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("no sources", func(t *testing.T) {
		if _, _, err := NewChain().FetchET(context.Background(), ETRequest{}); err == nil {
			t.Fatal("expected error")
		}
	})
}

func init() {
	retryMaxElapsed = 5 * time.Second
}
