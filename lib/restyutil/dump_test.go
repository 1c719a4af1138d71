package restyutil

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

type memoryOutput struct {
	mu    sync.Mutex
	files map[string]string
}

func (o *memoryOutput) Write(id string, contents string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.files[id] = contents
}

func TestDump(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Set-Cookie", "NID=secret")
		w.Write([]byte("a,b\n1,2\n"))
	}))
	t.Cleanup(srv.Close)

	out := &memoryOutput{files: map[string]string{}}
	client := resty.New().SetBaseURL(srv.URL)
	Dump(client, "sheets", out)

	_, err := client.R().SetQueryParam("gid", "0").Get("/export")
	require.NoError(t, err)
	_, err = client.R().Get("/export")
	require.NoError(t, err)

	require.Len(t, out.files, 2)
	first := out.files["sheets-1.txt"]
	require.Contains(t, first, "GET "+srv.URL+"/export?gid=0")
	require.Contains(t, first, "---- RESPONSE ----")
	require.Contains(t, first, "200 ")
	require.Contains(t, first, "Content-Type: text/csv")
	require.Contains(t, first, "a,b\n1,2\n")
	require.Contains(t, first, "Set-Cookie: [redacted]")
	require.NotContains(t, first, "NID=secret")
	require.Contains(t, out.files, "sheets-2.txt")
}

func TestDumpNilOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	client := resty.New().SetBaseURL(srv.URL)
	Dump(client, "sheets", nil)
	res, err := client.R().Get("/")
	require.NoError(t, err)
	require.Equal(t, "ok", string(res.Body()))
}

func TestFilesystemOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dump")
	require.NoError(t, os.MkdirAll(dir, 0777))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stale.txt"), []byte("x"), 0600))

	out, err := NewFilesystemOutput(dir)
	require.NoError(t, err)
	out.Write("sheets-1.txt", "contents")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	contents, err := os.ReadFile(filepath.Join(dir, "sheets-1.txt"))
	require.NoError(t, err)
	require.Equal(t, "contents", string(contents))
}
