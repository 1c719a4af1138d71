package download

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"portalwatch-backend/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

func write(t *testing.T, dir, name, content string, modTime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, modTime, modTime))
	return path
}

func TestRecent(t *testing.T) {
	tmp := t.TempDir()
	dir, err := Open(tmp, &telemetry.RecorderAPI{})
	require.NoError(t, err)

	start := time.Now()
	write(t, tmp, "old.csv", "a", start.Add(-time.Hour))
	write(t, tmp, "slightly-early.csv", "b", start.Add(-3*time.Second))
	write(t, tmp, "newest.CSV", "c", start.Add(2*time.Second))
	write(t, tmp, "partial.csv.crdownload", "d", start.Add(3*time.Second))
	write(t, tmp, "notes.txt", "e", start.Add(3*time.Second))

	files, err := dir.Recent(".csv", start)
	require.NoError(t, err)

	names := []string{}
	for _, f := range files {
		names = append(names, f.Name)
	}
	require.Equal(t, []string{"newest.CSV", "slightly-early.csv"}, names)

	dir.Tolerance = time.Second
	files, err = dir.Recent(".csv", start)
	require.NoError(t, err)
	require.Len(t, files, 1)
}

func TestWaitPicksNewestArrival(t *testing.T) {
	tmp := t.TempDir()
	dir, err := Open(tmp, &telemetry.RecorderAPI{})
	require.NoError(t, err)
	dir.PollInterval = 20 * time.Millisecond

	start := time.Now()
	write(t, tmp, "previous-export.csv", "stale", start.Add(-time.Minute))

	go func() {
		time.Sleep(50 * time.Millisecond)
		path := filepath.Join(tmp, "pessoas.csv.crdownload")
		_ = os.WriteFile(path, []byte("Nome,Status\nAna,Ativo\n"), 0o644)
		_ = os.Rename(path, filepath.Join(tmp, "pessoas.csv"))
	}()

	f, err := dir.Wait(context.Background(), ".csv", start, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "pessoas.csv", f.Name)

	content, err := dir.Read(f)
	require.NoError(t, err)
	require.Equal(t, "Nome,Status\nAna,Ativo\n", string(content))

	dir.Remove(f)
	_, err = os.Stat(f.Path)
	require.True(t, os.IsNotExist(err))

	// removing twice is silent
	tel := &telemetry.RecorderAPI{}
	dir.tel = tel
	dir.Remove(f)
	require.Empty(t, tel.Reports("warning"))
}

func TestWaitTimesOut(t *testing.T) {
	tmp := t.TempDir()
	dir, err := Open(tmp, &telemetry.RecorderAPI{})
	require.NoError(t, err)
	dir.PollInterval = 10 * time.Millisecond

	write(t, tmp, "old.csv", "x", time.Now().Add(-time.Hour))

	_, err = dir.Wait(context.Background(), ".csv", time.Now(), 100*time.Millisecond)
	require.ErrorIs(t, err, ErrNoFile)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = dir.Wait(ctx, ".csv", time.Now(), time.Minute)
	require.ErrorIs(t, err, context.Canceled)
}

func TestLockIsSharedPerPath(t *testing.T) {
	tmp := t.TempDir()
	first, err := Open(tmp, &telemetry.RecorderAPI{})
	require.NoError(t, err)
	second, err := Open(filepath.Join(tmp, "."), &telemetry.RecorderAPI{})
	require.NoError(t, err)

	unlock, err := first.Lock(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = second.Lock(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	acquired := make(chan struct{})
	go func() {
		unlockSecond, err := second.Lock(context.Background())
		if err == nil {
			close(acquired)
			unlockSecond()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second export started while the first held the directory")
	case <-time.After(30 * time.Millisecond):
	}

	unlock()
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second export never acquired the directory")
	}
}
