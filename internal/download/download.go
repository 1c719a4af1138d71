// Package download watches the directory the browser downloads exports into.
package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"portalwatch-backend/internal/components/telemetry"

	"github.com/fsnotify/fsnotify"
)

const (
	report_dir_watch  = "dir.watch"
	report_dir_scan   = "dir.scan"
	report_dir_remove = "dir.remove"
)

// ErrNoFile is returned by Wait when no matching file showed up in time.
var ErrNoFile = errors.New("no downloaded file found")

// DefaultTolerance is how far before the start of an export a file's
// modification time may be and still count, filesystem timestamps and the
// browser's clock do not always agree.
const DefaultTolerance = 5 * time.Second

// File is a file found in the download directory.
type File struct {
	Name    string
	Path    string
	ModTime time.Time
	Size    int64
}

var (
	locksMutex sync.Mutex
	locks      = map[string]chan struct{}{}
)

// lockFor returns the lock shared by every Dir opened on path.
func lockFor(path string) chan struct{} {
	locksMutex.Lock()
	defer locksMutex.Unlock()
	lock, ok := locks[path]
	if !ok {
		lock = make(chan struct{}, 1)
		locks[path] = lock
	}
	return lock
}

// Dir is a download directory. Every Dir opened on the same path shares one
// lock so exports into it never overlap.
type Dir struct {
	path string
	lock chan struct{}
	tel  telemetry.API

	// Tolerance overrides DefaultTolerance when positive.
	Tolerance time.Duration
	// PollInterval is how often the directory is rescanned regardless of
	// filesystem events.
	PollInterval time.Duration
}

// Open creates the directory if needed.
func Open(path string, tel telemetry.API) (*Dir, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	err = os.MkdirAll(abs, 0o755)
	if err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}
	return &Dir{
		path:         abs,
		lock:         lockFor(abs),
		tel:          telemetry.NewScopedAPI("download", tel),
		PollInterval: 500 * time.Millisecond,
	}, nil
}

func (d *Dir) Path() string {
	return d.path
}

// Lock takes the directory lock, the returned function releases it.
func (d *Dir) Lock(ctx context.Context) (func(), error) {
	select {
	case d.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-d.lock })
	}, nil
}

func (d *Dir) tolerance() time.Duration {
	if d.Tolerance > 0 {
		return d.Tolerance
	}
	return DefaultTolerance
}

// Recent lists files with the extension ext modified no earlier than
// since minus the tolerance, newest first.
func (d *Dir) Recent(ext string, since time.Time) ([]File, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, err
	}

	cutoff := since.Add(-d.tolerance())
	files := []File{}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed between listing and stat
			continue
		}
		if info.ModTime().Before(cutoff) {
			d.tel.ReportDebug("ignoring stale file", e.Name(), info.ModTime())
			continue
		}
		files = append(files, File{
			Name:    e.Name(),
			Path:    filepath.Join(d.path, e.Name()),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].ModTime.After(files[j].ModTime)
	})
	return files, nil
}

// Wait blocks until a file with the extension ext modified since the start
// of the export (within the tolerance) exists and returns the newest one.
//
// Filesystem events wake it up early, the directory is also rescanned every
// PollInterval in case the watch could not be set up or missed an event.
func (d *Dir) Wait(ctx context.Context, ext string, since time.Time, timeout time.Duration) (File, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var events <-chan fsnotify.Event
	var watchErrors <-chan error
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		err = watcher.Add(d.path)
		if err != nil {
			watcher.Close()
		}
	}
	if err != nil {
		d.tel.ReportWarning(report_dir_watch, fmt.Errorf("falling back to polling: %w", err))
	} else {
		defer watcher.Close()
		events = watcher.Events
		watchErrors = watcher.Errors
	}

	interval := d.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		files, err := d.Recent(ext, since)
		if err != nil {
			d.tel.ReportBroken(report_dir_scan, err)
			return File{}, fmt.Errorf("scan download dir: %w", err)
		}
		if len(files) > 0 {
			d.tel.ReportDebug("found download", files[0].Name, len(files))
			return files[0], nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return File{}, ctx.Err()
			}
			return File{}, fmt.Errorf("%w: no %s file in %s after %s", ErrNoFile, ext, d.path, timeout)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			d.tel.ReportDebug("download dir event", ev.Op.String(), ev.Name)
		case err, ok := <-watchErrors:
			if !ok {
				watchErrors = nil
				continue
			}
			d.tel.ReportWarning(report_dir_watch, err)
		case <-ticker.C:
		}
	}
}

// Read returns the contents of f.
func (d *Dir) Read(f File) ([]byte, error) {
	return os.ReadFile(f.Path)
}

// Remove deletes f, failures are reported but never returned.
func (d *Dir) Remove(f File) {
	err := os.Remove(f.Path)
	if err != nil && !os.IsNotExist(err) {
		d.tel.ReportWarning(report_dir_remove, err, f.Name)
	}
}
