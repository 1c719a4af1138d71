// Package rhid drives the RHID portal: logging in, exporting the person list
// as CSV and reading the person table with a stored session.
package rhid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"portalwatch-backend/internal/browser"
	"portalwatch-backend/internal/browser/locator"
	"portalwatch-backend/internal/components/assert"
	"portalwatch-backend/internal/components/chrono"
	"portalwatch-backend/internal/components/telemetry"
	"portalwatch-backend/internal/csvtable"
	"portalwatch-backend/internal/download"
	"portalwatch-backend/internal/portal"
	"portalwatch-backend/internal/tablescrape"
)

const (
	report_export_csv = "export-csv"
	report_persons    = "persons"
	report_cookies    = "cookies"
)

// Config holds the urls and timings of the RHID workflows.
type Config struct {
	LoginURL   string `json:"login_url"`
	PersonsURL string `json:"persons_url"`

	NavigationTimeout time.Duration `json:"-"`
	SettleDelay       time.Duration `json:"-"`
	FieldTimeout      time.Duration `json:"-"`
	FieldDelay        time.Duration `json:"-"`
	SubmitTimeout     time.Duration `json:"-"`
	ClickTimeout      time.Duration `json:"-"`
	LandingDelay      time.Duration `json:"-"`

	// ElementTimeout bounds waits for the menu, export link and table.
	ElementTimeout time.Duration `json:"-"`
	// MenuDelay is waited for the dropdown to open.
	MenuDelay time.Duration `json:"-"`
	// RenderDelay is waited for the person table to fill in.
	RenderDelay     time.Duration `json:"-"`
	DownloadTimeout time.Duration `json:"-"`
}

// DefaultConfig returns the production urls and timings.
func DefaultConfig() Config {
	return Config{
		LoginURL:          "https://rhid.com.br/v2/#/login",
		PersonsURL:        "https://rhid.com.br/v2/#/list/person",
		NavigationTimeout: 60 * time.Second,
		SettleDelay:       2 * time.Second,
		FieldTimeout:      2 * time.Second,
		FieldDelay:        500 * time.Millisecond,
		SubmitTimeout:     30 * time.Second,
		ClickTimeout:      browser.DefaultClickTimeout,
		LandingDelay:      2 * time.Second,
		ElementTimeout:    30 * time.Second,
		MenuDelay:         2 * time.Second,
		RenderDelay:       3 * time.Second,
		DownloadTimeout:   30 * time.Second,
	}
}

const (
	menuSelector   = ".m-dropdown__toggle"
	exportSelector = `a[ng-click="exportCSV()"]`
)

// exportTextFallback finds the export link by its text when its ng-click changed.
var exportTextFallback = []locator.Strategy{
	{
		Name:     "export-text",
		Selector: `a.m-nav__link, a[ng-click*="export"], a[ng-click*="CSV"]`,
		TextAll:  []string{"exportar", "csv"},
	},
}

var submitStrategies = []locator.Strategy{
	{Selector: `button[type="submit"]`},
	{Selector: `button.btn-primary`, Last: true},
	{Selector: `input[type="submit"]`},
	portal.SubmitStrategies[len(portal.SubmitStrategies)-1],
}

func (c Config) login() portal.LoginConfig {
	return portal.LoginConfig{
		URL:               c.LoginURL,
		NavigationTimeout: c.NavigationTimeout,
		SettleDelay:       c.SettleDelay,
		FieldTimeout:      c.FieldTimeout,
		FieldDelay:        c.FieldDelay,
		SubmitTimeout:     c.SubmitTimeout,
		ClickTimeout:      c.ClickTimeout,
		Username:          portal.UsernameStrategies,
		Password:          portal.PasswordStrategies,
		Submit:            submitStrategies,
		FailureURL:        portal.FailureURL,
		SuccessHints:      portal.SuccessHints,
		ErrorHints:        portal.ErrorHints,
		ErrorTerms:        portal.ErrorTerms,
		OutcomeAttempts:   1,
		Landing:           c.PersonsURL,
		LandingHash:       "#/list/person",
		LandingDelay:      c.LandingDelay,
	}
}

// ExportData is the payload of a successful export check.
type ExportData struct {
	CSVData  []map[string]string `json:"csvData"`
	Total    int                 `json:"total"`
	Ativos   int                 `json:"ativos"`
	Inativos int                 `json:"inativos"`
	Headers  []string            `json:"headers"`
}

// Portal runs the RHID workflows, one instance per portal key.
type Portal struct {
	name   string
	config Config
	open   portal.PageFactory
	dir    *download.Dir
	time   chrono.TimeAPI
	tel    telemetry.API
}

// New creates a portal named after its key. Pages returned by open must
// download into dir.
func New(
	name string,
	config Config,
	open portal.PageFactory,
	dir *download.Dir,
	timeAPI chrono.TimeAPI,
	tel telemetry.API,
) *Portal {
	assert.NotNil(open, "page factory")
	assert.NotNil(timeAPI, "time api")
	assert.NotNil(tel, "telemetry")

	return &Portal{
		name:   name,
		config: config,
		open:   open,
		dir:    dir,
		time:   timeAPI,
		tel:    telemetry.NewScopedAPI(fmt.Sprintf("rhid(%s)", name), tel),
	}
}

func (p *Portal) login(ctx context.Context, page browser.Page, username, password string) error {
	login := portal.NewLogin(page, p.config.login(), p.tel)
	return login.Run(ctx, username, password)
}

// clickTwoTier clicks selector natively, falling back to a scripted click
// when the native one fails or does not finish within ClickTimeout.
func (p *Portal) clickTwoTier(ctx context.Context, page browser.Page, selector string) error {
	return browser.ClickFallback(ctx, page, selector, p.config.ClickTimeout)
}

func (p *Portal) clickExport(ctx context.Context, page browser.Page) error {
	poll := browser.DefaultPoll.WithTimeout(p.config.ElementTimeout)

	err := browser.WaitSelector(ctx, page, exportSelector, poll)
	if err == nil {
		err = p.clickTwoTier(ctx, page, exportSelector)
		if err == nil {
			return nil
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.tel.ReportWarning(report_export_csv, fmt.Errorf("export link: %w", err))

	doc, err := browser.Snapshot(ctx, page)
	if err != nil {
		return err
	}
	match, ok := locator.Find(doc, exportTextFallback)
	if !ok {
		return fmt.Errorf("export link: %w", portal.ErrLocatorExhausted)
	}
	err = page.ClickJS(ctx, match.Selector)
	if err != nil {
		return fmt.Errorf("export link by text: %w", err)
	}
	return nil
}

func (p *Portal) export(ctx context.Context, page browser.Page) (ExportData, error) {
	poll := browser.DefaultPoll.WithTimeout(p.config.ElementTimeout)

	err := browser.Sleep(ctx, p.config.RenderDelay)
	if err != nil {
		return ExportData{}, err
	}
	err = browser.WaitSelector(ctx, page, menuSelector, poll)
	if err != nil {
		return ExportData{}, fmt.Errorf("menu button: %w", err)
	}
	err = p.clickTwoTier(ctx, page, menuSelector)
	if err != nil {
		return ExportData{}, fmt.Errorf("click menu button: %w", err)
	}
	err = browser.Sleep(ctx, p.config.MenuDelay)
	if err != nil {
		return ExportData{}, err
	}

	start := p.time.Now()
	err = p.clickExport(ctx, page)
	if err != nil {
		return ExportData{}, err
	}

	file, err := p.dir.Wait(ctx, ".csv", start, p.config.DownloadTimeout)
	if err != nil {
		return ExportData{}, fmt.Errorf("wait for export: %w", err)
	}
	defer p.dir.Remove(file)
	p.tel.ReportDebug("using export", file.Name, file.ModTime)

	content, err := p.dir.Read(file)
	if err != nil {
		return ExportData{}, fmt.Errorf("read export: %w", err)
	}

	table := csvtable.Parse(string(content))
	err = table.Require()
	if err != nil {
		return ExportData{}, fmt.Errorf("parse export %s: %w", file.Name, err)
	}

	ativos, inativos := tablescrape.Tally(table.Rows, table.Headers)
	p.tel.ReportCount("export-rows", int64(len(table.Rows)))

	return ExportData{
		CSVData:  table.Rows,
		Total:    len(table.Rows),
		Ativos:   ativos,
		Inativos: inativos,
		Headers:  table.Headers,
	}, nil
}

// Check logs in and exports the person list. The download directory is held
// for the whole export so two exports never race for the same file.
func (p *Portal) Check(ctx context.Context, cred portal.Credential) (portal.Result, error) {
	assert.NotNil(p.dir, "download dir")

	unlock, err := p.dir.Lock(ctx)
	if err != nil {
		return portal.Result{}, err
	}
	defer unlock()

	page, err := p.open(ctx)
	if err != nil {
		return portal.Result{}, err
	}
	defer page.Close()

	err = p.login(ctx, page, cred.Username, cred.Password)
	if err != nil {
		p.tel.ReportWarning(report_export_csv, fmt.Errorf("login: %w", err))
		return portal.Result{}, err
	}

	data, err := p.export(ctx, page)
	if err != nil {
		p.tel.ReportBroken(report_export_csv, err)
		return portal.Result{}, err
	}

	cookies, err := page.Cookies(ctx)
	if err != nil {
		p.tel.ReportWarning(report_cookies, err)
	}

	return portal.Result{
		Success: true,
		Message: "Login bem-sucedido",
		Cookies: cookies,
		Data:    data,
	}, nil
}

// Login only logs in and returns the session cookies.
func (p *Portal) Login(ctx context.Context, username, password string) (portal.Result, error) {
	page, err := p.open(ctx)
	if err != nil {
		return portal.Result{}, err
	}
	defer page.Close()

	err = p.login(ctx, page, username, password)
	if err != nil {
		return portal.Result{}, err
	}

	cookies, err := page.Cookies(ctx)
	if err != nil {
		p.tel.ReportBroken(report_cookies, err)
		return portal.Result{}, fmt.Errorf("read session cookies: %w", err)
	}
	p.tel.ReportDebug("logged in", len(cookies))

	return portal.Result{Success: true, Cookies: cookies}, nil
}

// Persons replays the session cookies into a fresh page and reads the person table.
func (p *Portal) Persons(ctx context.Context, cookies []portal.Cookie) (tablescrape.Result, error) {
	page, err := p.open(ctx)
	if err != nil {
		return tablescrape.Result{}, err
	}
	defer page.Close()

	err = page.SetCookies(ctx, cookies)
	if err != nil {
		return tablescrape.Result{}, fmt.Errorf("restore session: %w", err)
	}

	navCtx := ctx
	if p.config.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, p.config.NavigationTimeout)
		defer cancel()
	}
	err = page.Navigate(navCtx, p.config.PersonsURL)
	if err != nil {
		p.tel.ReportBroken(report_persons, err)
		return tablescrape.Result{}, fmt.Errorf("%w: person list: %w", portal.ErrNavigation, err)
	}

	err = browser.Sleep(ctx, p.config.RenderDelay)
	if err != nil {
		return tablescrape.Result{}, err
	}

	poll := browser.DefaultPoll.WithTimeout(p.config.ElementTimeout)
	err = browser.WaitSelector(ctx, page, "#mydatatable", poll)
	if errors.Is(err, browser.ErrTimeout) {
		err = browser.WaitSelector(ctx, page, "table[datatable], table.dataTable, table#mydatatable", poll)
	}
	if err != nil && ctx.Err() != nil {
		return tablescrape.Result{}, ctx.Err()
	}
	if err != nil {
		// extraction below still tries any table with rows
		p.tel.ReportWarning(report_persons, err)
	}

	doc, err := browser.Snapshot(ctx, page)
	if err != nil {
		return tablescrape.Result{}, err
	}
	result, err := tablescrape.Extract(doc)
	if err != nil {
		p.tel.ReportBroken(report_persons, err)
		return tablescrape.Result{}, err
	}
	return result, nil
}
