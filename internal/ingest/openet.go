package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/lox/vinewater/internal/dates"
	"github.com/lox/vinewater/internal/httputil"
	"github.com/lox/vinewater/internal/models"
)

const (
	DefaultOpenETURL   = "https://openet-api.org"
	openETPointPath    = "/raster/timeseries/point"
	DefaultOpenETModel = "Ensemble"
)

// OpenETClient fetches satellite-derived ET for a point from the OpenET API.
type OpenETClient struct {
	apiKey   string
	baseURL  string
	variable string
	client   *http.Client
}

func NewOpenETClient(apiKey, baseURL string) *OpenETClient {
	if baseURL == "" {
		baseURL = DefaultOpenETURL
	}
	return &OpenETClient{
		apiKey:   apiKey,
		baseURL:  strings.TrimRight(baseURL, "/"),
		variable: "ETo",
		client:   httputil.NewClient(),
	}
}

func (c *OpenETClient) Name() string { return "openet" }

type openETRequest struct {
	DateRange   []string  `json:"date_range"`
	Interval    string    `json:"interval"`
	Geometry    []float64 `json:"geometry"`
	Model       string    `json:"model"`
	Variable    string    `json:"variable"`
	ReferenceET string    `json:"reference_et"`
	Units       string    `json:"units"`
	FileFormat  string    `json:"file_format"`
}

func (c *OpenETClient) FetchET(ctx context.Context, req ETRequest) (*models.ETSeries, *FetchResult, error) {
	result := &FetchResult{Source: c.Name(), Endpoint: strings.TrimPrefix(openETPointPath, "/")}
	if c.apiKey == "" {
		result.Error = fmt.Errorf("openet: api key not configured")
		return nil, result, result.Error
	}

	model := req.Model
	if model == "" {
		model = DefaultOpenETModel
	}
	interval := req.Interval
	if interval == "" {
		interval = "daily"
	}
	payload, err := json.Marshal(openETRequest{
		DateRange:   []string{dates.Format(req.Start), dates.Format(req.End)},
		Interval:    interval,
		Geometry:    []float64{req.Longitude, req.Latitude},
		Model:       model,
		Variable:    c.variable,
		ReferenceET: "gridMET",
		Units:       "mm",
		FileFormat:  "JSON",
	})
	if err != nil {
		return nil, result, fmt.Errorf("marshal openet request: %w", err)
	}

	body, err := fetchWithRetry(ctx, c.client, result, func() (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+openETPointPath, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Authorization", c.apiKey)
		r.Header.Set("Content-Type", "application/json")
		return r, nil
	})
	if err != nil {
		return nil, result, fmt.Errorf("openet: %w", err)
	}

	records, err := parseOpenET(body, result)
	if err != nil {
		result.Error = err
		return nil, result, err
	}
	return &models.ETSeries{Records: records, Source: c.Name(), Raw: body}, result, nil
}

// parseOpenET reads the point timeseries response: an array of objects with a
// "time" key and one value keyed by the requested variable.
func parseOpenET(body []byte, result *FetchResult) ([]models.ETDailyRecord, error) {
	var rows []map[string]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("openet: unmarshal: %w", err)
	}

	var records []models.ETDailyRecord
	var parseErrors []string
	for i, row := range rows {
		var ts string
		if err := json.Unmarshal(row["time"], &ts); err != nil || len(ts) < len(dates.Layout) {
			parseErrors = append(parseErrors, fmt.Sprintf("row %d: bad time", i))
			continue
		}
		d, err := dates.Parse(ts[:len(dates.Layout)])
		if err != nil {
			parseErrors = append(parseErrors, fmt.Sprintf("row %d: %v", i, err))
			continue
		}
		value, ok := openETValue(row)
		if !ok {
			parseErrors = append(parseErrors, fmt.Sprintf("row %d: no ET value", i))
			continue
		}
		records = append(records, models.ETDailyRecord{Date: d, ET: value})
	}
	result.RecordCount = len(records)
	result.ParseErrors = len(parseErrors)
	if len(parseErrors) > 0 {
		result.ParseError = strings.Join(parseErrors, "; ")
	}
	return records, nil
}

func openETValue(row map[string]json.RawMessage) (float64, bool) {
	for key, raw := range row {
		switch strings.ToLower(key) {
		case "eto", "et", "etr":
			var v *float64
			if err := json.Unmarshal(raw, &v); err != nil || v == nil {
				return 0, false
			}
			return *v, true
		}
	}
	return 0, false
}
