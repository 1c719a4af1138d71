package telemetry

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

func TestScopedAPI(t *testing.T) {
	rec := &RecorderAPI{}
	tel := NewScopedAPI("rhid(delta)", NewScopedAPI("checker", rec))

	tel.ReportBroken("export-csv", errors.New("no link"))
	tel.ReportCount("checks", 2)

	require.True(t, rec.Has("broken", "checker: rhid(delta): export-csv"))
	counts := rec.Reports("count")
	require.Len(t, counts, 1)
	require.Equal(t, []any{int64(2)}, counts[0].Params)
}

func TestSlogAPI(t *testing.T) {
	var out bytes.Buffer
	tel := SlogAPI{Logger: slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug}))}

	tel.ReportBroken("doctorid: filter", errors.New("panel missing"), errors.New("timeout"), 3)
	logged := out.String()
	require.Contains(t, logged, `id="doctorid: filter"`)
	require.Contains(t, logged, `err="panel missing"`)
	require.Contains(t, logged, `err.1=timeout`)
	require.Contains(t, logged, `params.2=3`)

	out.Reset()
	tel.ReportDebug("fetched sheet", "0")
	require.Contains(t, out.String(), `msg="fetched sheet" params.0=0`)
}

func TestInstrumentResty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	rec := &RecorderAPI{}
	client := resty.New().SetBaseURL(srv.URL)
	InstrumentResty(client, rec)

	_, err := client.R().Get("/")
	require.NoError(t, err)
	require.True(t, rec.Has("debug", report_resty_response))
	require.Empty(t, rec.Reports("warning"))

	_, err = client.R().Get("/missing")
	require.NoError(t, err)
	require.True(t, rec.Has("warning", report_resty_status))

	srv.Close()
	_, err = client.R().Get("/")
	require.Error(t, err)
	require.True(t, rec.Has("broken", report_resty_response))
}
