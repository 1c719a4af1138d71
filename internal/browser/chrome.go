package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"portalwatch-backend/internal/components/telemetry"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

const (
	report_chrome_launch = "chrome.launch"
	report_chrome_close  = "chrome.close"
)

// Options configure how a browser is launched.
type Options struct {
	Headless  bool
	ExecPath  string
	UserAgent string
	// DownloadDir is where downloads triggered by the page are written, when
	// empty downloads are denied.
	DownloadDir string
	// ActionTimeout bounds every single action, zero means only the caller's
	// context bounds it.
	ActionTimeout time.Duration
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// Launcher starts a fresh browser for every page.
type Launcher struct {
	opts Options
	tel  telemetry.API
}

func NewLauncher(opts Options, tel telemetry.API) Launcher {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	return Launcher{
		opts: opts,
		tel:  telemetry.NewScopedAPI("browser", tel),
	}
}

// WithDownloadDir returns a launcher whose pages download into dir.
func (l Launcher) WithDownloadDir(dir string) Launcher {
	l.opts.DownloadDir = dir
	return l
}

// Launch starts a browser whose lifetime is bound to ctx, cancelling ctx
// tears the browser down even if Close is never called.
func (l Launcher) Launch(ctx context.Context) (*ChromePage, error) {
	allocOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.opts.Headless),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1366, 768),
		chromedp.UserAgent(l.opts.UserAgent),
	)
	if l.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(l.opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(
		allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			l.tel.ReportDebug(fmt.Sprintf(format, args...))
		}),
	)

	page := &ChromePage{
		ctx:     tabCtx,
		cancel:  func() { cancelTab(); cancelAlloc() },
		timeout: l.opts.ActionTimeout,
		tel:     l.tel,
	}

	startup := []chromedp.Action{}
	if l.opts.DownloadDir != "" {
		startup = append(
			startup,
			cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
				WithDownloadPath(l.opts.DownloadDir).
				WithEventsEnabled(true),
		)
	}
	// the first Run starts the browser process
	err := chromedp.Run(tabCtx, startup...)
	if err != nil {
		page.Close()
		l.tel.ReportBroken(report_chrome_launch, err)
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	return page, nil
}

// ChromePage implements Page on top of a chromedp tab.
type ChromePage struct {
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	tel     telemetry.API

	closeOnce sync.Once
}

// run executes actions in the tab, bounded by both the tab and the caller's context.
func (p *ChromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	if p.timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, p.timeout)
		defer cancelTimeout()
	}

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func jsString(s string) string {
	encoded, _ := json.Marshal(s)
	return string(encoded)
}

// evalElement runs body with `el` bound to the first match of selector, body
// must evaluate to a value other than undefined.
func (p *ChromePage) evalElement(ctx context.Context, selector, body string, out any) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) { return {found: false, value: null}; }
		return {found: true, value: (() => { %s })()};
	})()`, jsString(selector), body)

	var res struct {
		Found bool            `json:"found"`
		Value json.RawMessage `json:"value"`
	}
	err := p.run(ctx, chromedp.Evaluate(script, &res))
	if err != nil {
		return fmt.Errorf("evaluate on %s: %w", selector, err)
	}
	if !res.Found {
		return fmt.Errorf("%s: %w", selector, ErrNotFound)
	}
	if out != nil && len(res.Value) > 0 {
		return json.Unmarshal(res.Value, out)
	}
	return nil
}

func (p *ChromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *ChromePage) WaitReady(ctx context.Context) error {
	return Poll(ctx, DefaultPoll, func(ctx context.Context) (bool, error) {
		var state string
		err := p.run(ctx, chromedp.Evaluate(`document.readyState`, &state))
		if err != nil {
			return false, err
		}
		return state == "complete", nil
	})
}

func (p *ChromePage) URL(ctx context.Context) (string, error) {
	var url string
	err := p.run(ctx, chromedp.Location(&url))
	return url, err
}

func (p *ChromePage) HTML(ctx context.Context) (string, error) {
	var content string
	err := p.run(ctx, chromedp.Evaluate(`document.documentElement.outerHTML`, &content))
	return content, err
}

func (p *ChromePage) Value(ctx context.Context, selector string) (string, error) {
	var value string
	err := p.evalElement(ctx, selector, `return el.value ?? "";`, &value)
	return value, err
}

func (p *ChromePage) SetValue(ctx context.Context, selector, value string) error {
	return p.evalElement(ctx, selector, fmt.Sprintf(`
		el.focus();
		el.value = "";
		el.value = %s;
		for (const type of ["input", "change", "blur"]) {
			el.dispatchEvent(new Event(type, {bubbles: true}));
		}
		return true;
	`, jsString(value)), nil)
}

func (p *ChromePage) SelectOption(ctx context.Context, selector, value string) error {
	return p.evalElement(ctx, selector, fmt.Sprintf(`
		const value = %s;
		el.value = value;
		for (const opt of el.options || []) {
			opt.selected = opt.value === value;
		}
		el.dispatchEvent(new Event("change", {bubbles: true}));
		el.dispatchEvent(new Event("input", {bubbles: true}));
		if (window.jQuery && window.jQuery(el).data("select2")) {
			window.jQuery(el).val(value).trigger("change");
		}
		return true;
	`, jsString(value)), nil)
}

func (p *ChromePage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (p *ChromePage) ClickJS(ctx context.Context, selector string) error {
	var clicked bool
	err := p.evalElement(ctx, selector, `
		const style = window.getComputedStyle(el);
		if (style.display === "none" || style.visibility === "hidden" || style.opacity === "0") {
			return false;
		}
		el.scrollIntoView({block: "center"});
		el.click();
		return true;
	`, &clicked)
	if err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("%s is hidden: %w", selector, ErrNotFound)
	}
	return nil
}

func (p *ChromePage) PressEnter(ctx context.Context, selector string) error {
	return p.run(
		ctx,
		chromedp.Focus(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, kb.Enter, chromedp.ByQuery),
	)
}

func (p *ChromePage) SetHash(ctx context.Context, hash string) error {
	var ok bool
	return p.run(ctx, chromedp.Evaluate(
		fmt.Sprintf(`(() => { window.location.hash = %s; return true; })()`, jsString(hash)),
		&ok,
	))
}

func (p *ChromePage) Cookies(ctx context.Context) ([]Cookie, error) {
	var out []Cookie
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		out = make([]Cookie, len(cookies))
		for i, c := range cookies {
			out[i] = Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Expires:  c.Expires,
				HTTPOnly: c.HTTPOnly,
				Secure:   c.Secure,
			}
		}
		return nil
	}))
	return out, err
}

func (p *ChromePage) SetCookies(ctx context.Context, cookies []Cookie) error {
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			params := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithHTTPOnly(c.HTTPOnly).
				WithSecure(c.Secure)
			if c.Expires > 0 {
				expires := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
				params = params.WithExpires(&expires)
			}
			err := params.Do(ctx)
			if err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}))
}

func (p *ChromePage) Close() error {
	p.closeOnce.Do(func() {
		err := chromedp.Cancel(p.ctx)
		if err != nil {
			p.tel.ReportWarning(report_chrome_close, err)
		}
		p.cancel()
	})
	return nil
}
