package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/lox/vinewater/internal/dates"
	"github.com/lox/vinewater/internal/httputil"
	"github.com/lox/vinewater/internal/metrics"
	"github.com/lox/vinewater/internal/models"
)

const (
	DefaultOpenMeteoURL = "https://api.open-meteo.com"
	openMeteoPath       = "/v1/forecast"
	forecastDays        = 3
)

// OpenMeteoClient serves reference ET, rainfall history and short forecasts from
// the Open-Meteo daily API. It needs no key and backs the other ET sources.
type OpenMeteoClient struct {
	baseURL string
	client  *http.Client
	clock   dates.Clock
}

func NewOpenMeteoClient(baseURL string, clock dates.Clock) *OpenMeteoClient {
	if baseURL == "" {
		baseURL = DefaultOpenMeteoURL
	}
	if clock == nil {
		clock = dates.SystemClock{}
	}
	return &OpenMeteoClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httputil.NewClient(),
		clock:   clock,
	}
}

func (c *OpenMeteoClient) Name() string { return "open-meteo" }

type openMeteoDaily struct {
	Time         []string   `json:"time"`
	ET0          []*float64 `json:"et0_fao_evapotranspiration"`
	Precip       []*float64 `json:"precipitation_sum"`
	PrecipChance []*int     `json:"precipitation_probability_max"`
}

type openMeteoResponse struct {
	Daily  openMeteoDaily `json:"daily"`
	Error  bool           `json:"error"`
	Reason string         `json:"reason"`
}

func (c *OpenMeteoClient) get(ctx context.Context, endpoint string, params url.Values) (*openMeteoResponse, []byte, *FetchResult, error) {
	result := &FetchResult{Source: c.Name(), Endpoint: endpoint}
	u := c.baseURL + openMeteoPath + "?" + params.Encode()

	body, err := fetchWithRetry(ctx, c.client, result, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	})
	if err != nil {
		return nil, nil, result, fmt.Errorf("open-meteo: %w", err)
	}

	var resp openMeteoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		result.Error = err
		return nil, body, result, fmt.Errorf("open-meteo: unmarshal: %w", err)
	}
	if resp.Error {
		result.Error = fmt.Errorf("open-meteo: %s", resp.Reason)
		return nil, body, result, result.Error
	}
	return &resp, body, result, nil
}

func pointParams(lat, lng float64) url.Values {
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	params.Set("longitude", strconv.FormatFloat(lng, 'f', 4, 64))
	params.Set("timezone", "auto")
	return params
}

func (c *OpenMeteoClient) FetchET(ctx context.Context, req ETRequest) (*models.ETSeries, *FetchResult, error) {
	params := pointParams(req.Latitude, req.Longitude)
	params.Set("daily", "et0_fao_evapotranspiration")
	params.Set("start_date", dates.Format(req.Start))
	params.Set("end_date", dates.Format(req.End))

	resp, body, result, err := c.get(ctx, "et0", params)
	if err != nil {
		return nil, result, err
	}

	var records []models.ETDailyRecord
	var parseErrors []string
	for i, ts := range resp.Daily.Time {
		d, err := dates.Parse(ts)
		if err != nil {
			parseErrors = append(parseErrors, fmt.Sprintf("day %d: %v", i, err))
			continue
		}
		if i >= len(resp.Daily.ET0) || resp.Daily.ET0[i] == nil {
			continue
		}
		records = append(records, models.ETDailyRecord{Date: d, ET: *resp.Daily.ET0[i]})
	}
	result.RecordCount = len(records)
	result.ParseErrors = len(parseErrors)
	result.ParseError = strings.Join(parseErrors, "; ")
	return &models.ETSeries{Records: records, Source: c.Name(), Raw: body}, result, nil
}

// FetchRainfall returns daily precipitation for the last days days, ending today.
func (c *OpenMeteoClient) FetchRainfall(ctx context.Context, lat, lng float64, days int) (*models.RainfallSummary, error) {
	if days <= 0 {
		days = 14
	}
	window := dates.Lookback(c.clock.Today(), days)
	params := pointParams(lat, lng)
	params.Set("daily", "precipitation_sum")
	params.Set("start_date", dates.Format(window.Start))
	params.Set("end_date", dates.Format(window.End))

	resp, _, _, err := c.get(ctx, "rainfall", params)
	if err != nil {
		metrics.WeatherFetchTotal.WithLabelValues("rainfall", "error").Inc()
		return nil, err
	}
	metrics.WeatherFetchTotal.WithLabelValues("rainfall", "success").Inc()

	summary := &models.RainfallSummary{Source: c.Name()}
	for i, ts := range resp.Daily.Time {
		d, err := dates.Parse(ts)
		if err != nil || i >= len(resp.Daily.Precip) || resp.Daily.Precip[i] == nil {
			continue
		}
		day := models.DailyRainfall{Date: d, MM: *resp.Daily.Precip[i]}
		if flags := ValidateRainfall(day); len(flags) > 0 {
			log.Printf("open-meteo: dropping rainfall %s %.1fmm: %v", ts, day.MM, flags)
			continue
		}
		summary.Daily = append(summary.Daily, day)
		summary.TotalMM += day.MM
		if day.MM > 0 {
			last := day
			summary.LastRainEvent = &last
		}
	}
	return summary, nil
}

// FetchForecast returns the next few days of predicted rain and reference ET.
func (c *OpenMeteoClient) FetchForecast(ctx context.Context, lat, lng float64) (*models.Forecast, error) {
	params := pointParams(lat, lng)
	params.Set("daily", "et0_fao_evapotranspiration,precipitation_sum,precipitation_probability_max")
	params.Set("forecast_days", strconv.Itoa(forecastDays))

	resp, _, _, err := c.get(ctx, "forecast", params)
	if err != nil {
		metrics.WeatherFetchTotal.WithLabelValues("forecast", "error").Inc()
		return nil, err
	}
	metrics.WeatherFetchTotal.WithLabelValues("forecast", "success").Inc()

	fc := &models.Forecast{Source: c.Name()}
	for i, ts := range resp.Daily.Time {
		d, err := dates.Parse(ts)
		if err != nil {
			continue
		}
		p := models.ForecastPeriod{Date: d}
		if i < len(resp.Daily.Precip) && resp.Daily.Precip[i] != nil {
			p.RainfallMM = *resp.Daily.Precip[i]
		}
		if i < len(resp.Daily.ET0) && resp.Daily.ET0[i] != nil {
			p.ET0MM = *resp.Daily.ET0[i]
		}
		if i < len(resp.Daily.PrecipChance) && resp.Daily.PrecipChance[i] != nil {
			p.PrecipChance = sql.NullInt64{Int64: int64(*resp.Daily.PrecipChance[i]), Valid: true}
		}
		fc.Periods = append(fc.Periods, p)
		fc.PredictedRainfallMM += p.RainfallMM
		fc.PredictedET0MM += p.ET0MM
	}
	return fc, nil
}
