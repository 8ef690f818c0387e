package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/lox/vinewater/internal/dates"
	"github.com/lox/vinewater/internal/models"
)

const (
	DefaultCIMISHost = "ftpcimis.water.ca.gov:21"
	cimisDailyDir    = "/pub2/daily"
)

// CIMIS daily CSV columns.
const (
	cimisColDate   = 1
	cimisColETo    = 3
	cimisColPrecip = 5
)

// CIMISClient reads station ETo from the California Irrigation Management
// Information System anonymous FTP mirror. Only blocks with a station number use it.
type CIMISClient struct {
	host string
}

func NewCIMISClient(host string) *CIMISClient {
	if host == "" {
		host = DefaultCIMISHost
	}
	return &CIMISClient{host: host}
}

func (c *CIMISClient) Name() string { return "cimis" }

var errNoStation = errors.New("cimis: block has no station")

func (c *CIMISClient) FetchET(ctx context.Context, req ETRequest) (*models.ETSeries, *FetchResult, error) {
	path := fmt.Sprintf("%s/daily%03d.csv", cimisDailyDir, req.CIMISStation)
	result := &FetchResult{Source: c.Name(), Endpoint: path}
	if req.CIMISStation <= 0 {
		result.Error = errNoStation
		return nil, result, errNoStation
	}

	body, err := c.retrieve(ctx, path)
	if err != nil {
		result.Error = err
		return nil, result, err
	}
	result.ResponseSize = len(body)

	records, _, err := parseCIMISDaily(strings.NewReader(string(body)), dates.NewRange(req.Start, req.End), result)
	if err != nil {
		result.Error = err
		return nil, result, err
	}
	return &models.ETSeries{Records: records, Source: c.Name(), Raw: body}, result, nil
}

func (c *CIMISClient) retrieve(ctx context.Context, path string) ([]byte, error) {
	conn, err := ftp.Dial(c.host, ftp.DialWithTimeout(30*time.Second), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login("anonymous", "anonymous"); err != nil {
		return nil, fmt.Errorf("ftp login: %w", err)
	}

	resp, err := conn.Retr(path)
	if err != nil {
		return nil, fmt.Errorf("ftp retr %s: %w", path, err)
	}
	defer resp.Close()

	body, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// parseCIMISDaily reads a station's daily file, keeping rows inside window.
// Missing ETo values ("--" or blank) are skipped and counted as parse errors.
// Precipitation is returned alongside for callers that want it.
func parseCIMISDaily(r io.Reader, window dates.Range, result *FetchResult) ([]models.ETDailyRecord, []models.DailyRainfall, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var (
		records     []models.ETDailyRecord
		rain        []models.DailyRainfall
		parseErrors []string
		line        int
	)
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, nil, fmt.Errorf("cimis: csv line %d: %w", line, err)
		}
		if len(row) <= cimisColETo {
			parseErrors = append(parseErrors, fmt.Sprintf("line %d: short row", line))
			continue
		}
		d, err := time.Parse("1/2/2006", strings.TrimSpace(row[cimisColDate]))
		if err != nil {
			// header rows and trailers
			continue
		}
		d = dates.Day(d)
		if !window.Contains(d) {
			continue
		}
		eto, ok := cimisValue(row[cimisColETo])
		if !ok {
			parseErrors = append(parseErrors, fmt.Sprintf("line %d: missing ETo", line))
			continue
		}
		records = append(records, models.ETDailyRecord{Date: d, ET: eto})
		if len(row) > cimisColPrecip {
			if p, ok := cimisValue(row[cimisColPrecip]); ok {
				rain = append(rain, models.DailyRainfall{Date: d, MM: p})
			}
		}
	}

	if result != nil {
		result.RecordCount = len(records)
		result.ParseErrors = len(parseErrors)
		if len(parseErrors) > 0 {
			result.ParseError = strings.Join(parseErrors, "; ")
		}
	}
	return records, rain, nil
}

func cimisValue(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "--" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
