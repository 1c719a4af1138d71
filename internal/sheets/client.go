// Package sheets fetches the financial spreadsheet as CSV and extracts the
// month sections the reconciliation engine works on.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"portalwatch-backend/internal/components/assert"
	"portalwatch-backend/internal/components/telemetry"
	"portalwatch-backend/lib/restyutil"
	libtelemetry "portalwatch-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
)

const report_fetch = "fetch"

// ErrNoSheet is returned when none of the sheet gids served CSV.
var ErrNoSheet = errors.New("no sheet returned csv data")

// Config selects the spreadsheet and the sheets that are tried.
type Config struct {
	// BaseURL is the spreadsheets endpoint, it is overridden in tests.
	BaseURL       string        `json:"base_url"`
	SpreadsheetID string        `json:"spreadsheet_id"`
	Gids          []string      `json:"gids"`
	Timeout       time.Duration `json:"-"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL:       "https://docs.google.com/spreadsheets/d",
		SpreadsheetID: "10vaVp0DcgOfjWW3_vat7M8mRVvMiBdtU9kAlDmjEioc",
		Gids:          []string{"0", "1", "2", "3"},
		Timeout:       30 * time.Second,
	}
}

// Client downloads CSV exports of a public spreadsheet.
type Client struct {
	config Config
	http   *resty.Client
	tel    telemetry.API
}

func NewClient(config Config, tel telemetry.API) *Client {
	assert.NotEmptyStr(config.SpreadsheetID, "spreadsheet id")
	assert.NotNil(tel, "telemetry")

	if len(config.Gids) == 0 {
		config.Gids = []string{"0"}
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	client := resty.New()
	client.SetBaseURL(config.BaseURL)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetTimeout(config.Timeout)

	scoped := telemetry.NewScopedAPI("sheets", tel)
	libtelemetry.InstrumentResty(client, "portalwatch/sheets/http")
	telemetry.InstrumentResty(client, scoped)

	return &Client{config: config, http: client, tel: scoped}
}

// DumpTo writes every export request and its response to output in files
// named after name.
func (c *Client) DumpTo(name string, output restyutil.Output) {
	restyutil.Dump(c.http, name, output)
}

// looksLikeCSV rejects the html sign-in and error pages served for sheets
// that are missing or private.
func looksLikeCSV(body string) bool {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return false
	}
	lower := strings.ToLower(trimmed[:min(len(trimmed), 200)])
	if strings.HasPrefix(lower, "<") || strings.Contains(lower, "<html") {
		return false
	}
	return strings.ContainsAny(trimmed, ",;\t")
}

// Fetch returns the CSV export of the first gid that serves one.
func (c *Client) Fetch(ctx context.Context) (string, error) {
	var errs []error
	for _, gid := range c.config.Gids {
		res, err := c.http.R().
			SetContext(ctx).
			SetPathParam("id", c.config.SpreadsheetID).
			SetQueryParam("format", "csv").
			SetQueryParam("gid", gid).
			Get("/{id}/export")
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			errs = append(errs, fmt.Errorf("gid %s: %w", gid, err))
			continue
		}
		if res.IsError() {
			errs = append(errs, fmt.Errorf("gid %s: status %s", gid, res.Status()))
			continue
		}

		body := string(res.Body())
		if !looksLikeCSV(body) {
			errs = append(errs, fmt.Errorf("gid %s: response is not csv", gid))
			continue
		}
		c.tel.ReportDebug("fetched sheet", gid, len(body))
		return body, nil
	}

	err := fmt.Errorf("%w: %w", ErrNoSheet, errors.Join(errs...))
	c.tel.ReportBroken(report_fetch, err)
	return "", err
}
