// Package browser is the narrow surface the portal workflows use to drive a
// web page, it is implemented by chromedp in production and by FakePage in tests.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
)

var (
	// ErrNotFound is returned by element actions when the selector matches nothing.
	ErrNotFound = errors.New("element not found")
	// ErrTimeout is returned by Poll when the condition never held.
	ErrTimeout = errors.New("condition not met in time")
)

// Cookie is a browser cookie, Expires is in seconds since the epoch and is
// negative for session cookies.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
}

// Page is a single browser tab.
//
// Element actions take CSS selectors and act on the first match in the live
// document, they return ErrNotFound when nothing matches.
type Page interface {
	// Navigate loads url and waits for the load event.
	Navigate(ctx context.Context, url string) error
	// WaitReady waits for document.readyState to become "complete".
	WaitReady(ctx context.Context) error
	URL(ctx context.Context) (string, error)
	// HTML returns the serialized live document.
	HTML(ctx context.Context) (string, error)

	// Value returns the current value property of a form control.
	Value(ctx context.Context, selector string) (string, error)
	// SetValue assigns the value property and dispatches input, change and blur.
	SetValue(ctx context.Context, selector, value string) error
	// SelectOption picks the option with the given value, dispatches change and
	// input and updates Select2 through jQuery when the select is enhanced.
	SelectOption(ctx context.Context, selector, value string) error

	// Click performs a trusted mouse click, it fails when the element is
	// covered or not visible.
	Click(ctx context.Context, selector string) error
	// ClickJS scrolls the element into view and calls its click() method.
	ClickJS(ctx context.Context, selector string) error
	// PressEnter focuses the element and sends an Enter key press.
	PressEnter(ctx context.Context, selector string) error
	// SetHash assigns window.location.hash.
	SetHash(ctx context.Context, hash string) error

	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error

	// Close releases the tab and its browser, it is safe to call more than once.
	Close() error
}

// Snapshot parses the current document of the page.
func Snapshot(ctx context.Context, page Page) (*goquery.Document, error) {
	content, err := page.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("read page html: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}
	return doc, nil
}

// DefaultClickTimeout bounds a trusted click before the scripted fallback.
const DefaultClickTimeout = 5 * time.Second

// ClickFallback clicks selector natively and falls back to clicking it
// through the DOM. The native click gets at most timeout, zero leaves it
// bounded by ctx alone.
func ClickFallback(ctx context.Context, page Page, selector string, timeout time.Duration) error {
	clickCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		clickCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	nativeErr := page.Click(clickCtx, selector)
	if nativeErr == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := page.ClickJS(ctx, selector)
	if err != nil {
		return fmt.Errorf("click %s: %w (native: %v)", selector, err, nativeErr)
	}
	return nil
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PollOptions bound a Poll call.
type PollOptions struct {
	// Timeout is the total budget, zero means a single check.
	Timeout time.Duration
	// Interval is the first delay between checks, it doubles up to MaxInterval.
	Interval    time.Duration
	MaxInterval time.Duration
}

// DefaultPoll is used for element and page waits.
var DefaultPoll = PollOptions{
	Timeout:     30 * time.Second,
	Interval:    100 * time.Millisecond,
	MaxInterval: time.Second,
}

// WithTimeout returns a copy of the options with another budget.
func (o PollOptions) WithTimeout(timeout time.Duration) PollOptions {
	o.Timeout = timeout
	return o
}

var errPending = errors.New("pending")

// Poll evaluates cond with exponential backoff until it returns true, returns
// an error or the budget runs out. Running out of budget returns ErrTimeout,
// an error from cond aborts polling and is returned as is.
func Poll(ctx context.Context, opts PollOptions, cond func(ctx context.Context) (bool, error)) error {
	if opts.Timeout <= 0 {
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return ErrTimeout
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.Interval
	if b.InitialInterval <= 0 {
		b.InitialInterval = DefaultPoll.Interval
	}
	b.MaxInterval = opts.MaxInterval
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = opts.Timeout

	err := backoff.Retry(func() error {
		ok, err := cond(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errPending
		}
		return nil
	}, backoff.WithContext(b, ctx))

	if errors.Is(err, errPending) {
		return ErrTimeout
	}
	return err
}

// WaitSelector polls snapshots of the page until selector matches something.
func WaitSelector(ctx context.Context, page Page, selector string, opts PollOptions) error {
	err := Poll(ctx, opts, func(ctx context.Context) (bool, error) {
		doc, err := Snapshot(ctx, page)
		if err != nil {
			return false, err
		}
		return doc.Find(selector).Length() > 0, nil
	})
	if errors.Is(err, ErrTimeout) {
		return fmt.Errorf("wait for %s: %w", selector, err)
	}
	return err
}

// WaitURL polls the page url until match returns true.
func WaitURL(ctx context.Context, page Page, opts PollOptions, match func(url string) bool) error {
	return Poll(ctx, opts, func(ctx context.Context) (bool, error) {
		current, err := page.URL(ctx)
		if err != nil {
			return false, err
		}
		return match(current), nil
	})
}
