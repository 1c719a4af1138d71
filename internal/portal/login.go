package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"portalwatch-backend/internal/browser"
	"portalwatch-backend/internal/browser/locator"
	"portalwatch-backend/internal/components/telemetry"
	"portalwatch-backend/lib/textutil"
)

const (
	report_login_load     = "login.load"
	report_login_fill     = "login.fill"
	report_login_submit   = "login.submit"
	report_login_outcome  = "login.outcome"
	report_login_navigate = "login.navigate"
)

// State is a step of the login state machine.
type State int

const (
	NotStarted State = iota
	PageLoaded
	CredentialsFilled
	SubmitAttempted
	AuthenticatedOK
	AuthenticationFailed
	PostLoginNavigated
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case PageLoaded:
		return "page-loaded"
	case CredentialsFilled:
		return "credentials-filled"
	case SubmitAttempted:
		return "submit-attempted"
	case AuthenticatedOK:
		return "authenticated"
	case AuthenticationFailed:
		return "authentication-failed"
	case PostLoginNavigated:
		return "post-login-navigated"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// LoginConfig describes how to log into one portal.
type LoginConfig struct {
	URL string
	// TolerateHost lets a navigation timeout pass when the page already shows
	// a url on this host.
	TolerateHost string

	NavigationTimeout time.Duration
	// SettleDelay is waited after the login page loads for scripts to render the form.
	SettleDelay time.Duration
	// FieldTimeout bounds the wait for the credential fields to render,
	// zero checks the page once.
	FieldTimeout time.Duration
	// FieldDelay is waited between filling fields and submitting.
	FieldDelay time.Duration
	// SubmitTimeout bounds the wait for the url to leave the login page.
	SubmitTimeout time.Duration
	// ClickTimeout bounds the native click on the submit control before it
	// is clicked through the DOM.
	ClickTimeout time.Duration

	Username []locator.Strategy
	Password []locator.Strategy
	Submit   []locator.Strategy

	// FailureURL lists url fragments that mean the login page is still showing.
	FailureURL []string
	// SuccessHints are elements only shown to logged in users.
	SuccessHints []locator.Strategy
	// ErrorHints are elements that may carry the rejection message.
	ErrorHints []locator.Strategy
	ErrorTerms []string

	// OutcomeAttempts is how many times the outcome is checked before giving up.
	OutcomeAttempts int
	OutcomeDelay    time.Duration

	Landing     string
	LandingHash string
	// LandingDelay is waited after falling back to a hash change.
	LandingDelay time.Duration
}

// Login drives a page through the login states.
type Login struct {
	page   browser.Page
	config LoginConfig
	tel    telemetry.API

	state            State
	history          []State
	passwordSelector string
	// Failure holds the rejection message once the state is AuthenticationFailed.
	Failure string
}

func NewLogin(page browser.Page, config LoginConfig, tel telemetry.API) *Login {
	if config.OutcomeAttempts <= 0 {
		config.OutcomeAttempts = 1
	}
	return &Login{
		page:    page,
		config:  config,
		tel:     tel,
		state:   NotStarted,
		history: []State{NotStarted},
	}
}

func (l *Login) State() State {
	return l.state
}

// History returns every state the machine went through.
func (l *Login) History() []State {
	return append([]State(nil), l.history...)
}

func (l *Login) transition(to State) {
	l.tel.ReportDebug("login transition", l.state.String(), to.String())
	l.state = to
	l.history = append(l.history, to)
}

func (l *Login) expect(state State) error {
	if l.state != state {
		return fmt.Errorf("login: expected state %s, got %s", state, l.state)
	}
	return nil
}

func (l *Login) navigate(ctx context.Context, url string) error {
	navCtx := ctx
	if l.config.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, l.config.NavigationTimeout)
		defer cancel()
	}
	return l.page.Navigate(navCtx, url)
}

// Load opens the login page.
func (l *Login) Load(ctx context.Context) error {
	if err := l.expect(NotStarted); err != nil {
		return err
	}

	err := l.navigate(ctx, l.config.URL)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		current, urlErr := l.page.URL(ctx)
		if l.config.TolerateHost == "" || urlErr != nil || !strings.Contains(current, l.config.TolerateHost) {
			l.tel.ReportBroken(report_login_load, err, l.config.URL)
			return fmt.Errorf("%w: load %s: %w", ErrNavigation, l.config.URL, err)
		}
		l.tel.ReportWarning(report_login_load, fmt.Errorf("tolerated navigation error: %w", err), current)
	}

	err = browser.Sleep(ctx, l.config.SettleDelay)
	if err != nil {
		return err
	}
	err = l.page.WaitReady(ctx)
	if err != nil {
		l.tel.ReportWarning(report_login_load, fmt.Errorf("wait ready: %w", err))
	}

	l.transition(PageLoaded)
	return nil
}

// Fill finds the username and password fields and fills them.
func (l *Login) Fill(ctx context.Context, username, password string) error {
	if err := l.expect(PageLoaded); err != nil {
		return err
	}

	var (
		userMatch, passMatch locator.Match
		userOk, passOk       bool
	)
	err := browser.Poll(ctx, browser.DefaultPoll.WithTimeout(l.config.FieldTimeout), func(ctx context.Context) (bool, error) {
		doc, err := browser.Snapshot(ctx, l.page)
		if err != nil {
			return false, err
		}
		userMatch, userOk = locator.Find(doc, l.config.Username)
		passMatch, passOk = locator.Find(doc, l.config.Password)
		return userOk && passOk, nil
	})
	if err != nil && !errors.Is(err, browser.ErrTimeout) {
		return err
	}
	if !userOk && !passOk {
		l.tel.ReportBroken(report_login_fill, ErrLocatorExhausted)
		return fmt.Errorf("credential fields: %w", ErrLocatorExhausted)
	}
	if !userOk || !passOk {
		missing := "username"
		if !passOk {
			missing = "password"
		}
		l.tel.ReportBroken(report_login_fill, fmt.Errorf("%s field: %w", missing, ErrLocatorExhausted))
		return fmt.Errorf("%s field: %w", missing, ErrLocatorExhausted)
	}
	l.tel.ReportDebug("credential fields", userMatch.Strategy, passMatch.Strategy)

	err = l.page.SetValue(ctx, userMatch.Selector, username)
	if err != nil {
		return fmt.Errorf("fill username: %w", err)
	}
	err = l.page.SetValue(ctx, passMatch.Selector, password)
	if err != nil {
		return fmt.Errorf("fill password: %w", err)
	}

	err = browser.Sleep(ctx, l.config.FieldDelay)
	if err != nil {
		return err
	}

	l.passwordSelector = passMatch.Selector
	l.transition(CredentialsFilled)
	return nil
}

// Submit clicks the login button, pressing Enter in the password field when
// no button can be clicked.
func (l *Login) Submit(ctx context.Context) error {
	if err := l.expect(CredentialsFilled); err != nil {
		return err
	}

	before, _ := l.page.URL(ctx)

	submitted := false
	doc, err := browser.Snapshot(ctx, l.page)
	if err != nil {
		return err
	}
	for _, strategy := range l.config.Submit {
		match, ok := locator.Find(doc, []locator.Strategy{strategy})
		if !ok {
			continue
		}
		err = browser.ClickFallback(ctx, l.page, match.Selector, l.config.ClickTimeout)
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			l.tel.ReportWarning(report_login_submit, fmt.Errorf("click %s: %w", match.Strategy, err))
			continue
		}
		l.tel.ReportDebug("submitted login", match.Strategy)
		submitted = true
		break
	}

	if !submitted {
		err = l.page.PressEnter(ctx, l.passwordSelector)
		if err != nil {
			l.tel.ReportBroken(report_login_submit, err)
			return fmt.Errorf("submit login: %w", err)
		}
		l.tel.ReportDebug("submitted login", "enter")
	}

	// a login that stays on the same url is still judged by Outcome
	if l.config.SubmitTimeout > 0 {
		err = browser.WaitURL(ctx, l.page, browser.DefaultPoll.WithTimeout(l.config.SubmitTimeout), func(url string) bool {
			return url != before && !textutil.ContainsAnyFold(url, l.config.FailureURL)
		})
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}

	l.transition(SubmitAttempted)
	return nil
}

func (l *Login) authenticated(ctx context.Context) (bool, error) {
	current, err := l.page.URL(ctx)
	if err != nil {
		return false, err
	}
	if !textutil.ContainsAnyFold(current, l.config.FailureURL) {
		return true, nil
	}

	doc, err := browser.Snapshot(ctx, l.page)
	if err != nil {
		return false, err
	}
	_, ok := locator.Find(doc, l.config.SuccessHints)
	return ok, nil
}

func (l *Login) failureMessage(ctx context.Context) string {
	doc, err := browser.Snapshot(ctx, l.page)
	if err != nil {
		return ""
	}
	for _, match := range locator.FindAll(doc, l.config.ErrorHints) {
		text := locator.Text(match.Element)
		if textutil.ContainsAnyFold(text, l.config.ErrorTerms) {
			return text
		}
	}
	return ""
}

// Outcome decides whether the portal accepted the credentials, it ends in
// either AuthenticatedOK or AuthenticationFailed.
func (l *Login) Outcome(ctx context.Context) (bool, error) {
	if err := l.expect(SubmitAttempted); err != nil {
		return false, err
	}

	for attempt := 0; attempt < l.config.OutcomeAttempts; attempt++ {
		if attempt > 0 {
			err := browser.Sleep(ctx, l.config.OutcomeDelay)
			if err != nil {
				return false, err
			}
		}
		ok, err := l.authenticated(ctx)
		if err != nil {
			l.tel.ReportBroken(report_login_outcome, err)
			return false, err
		}
		if ok {
			l.transition(AuthenticatedOK)
			return true, nil
		}
		l.tel.ReportDebug("login not confirmed", attempt+1, l.config.OutcomeAttempts)
	}

	l.Failure = l.failureMessage(ctx)
	l.tel.ReportWarning(report_login_outcome, ErrAuthentication, l.Failure)
	l.transition(AuthenticationFailed)
	return false, nil
}

// Navigate opens the landing page, falling back to a hash change when the
// navigation itself fails.
func (l *Login) Navigate(ctx context.Context) error {
	if err := l.expect(AuthenticatedOK); err != nil {
		return err
	}
	if l.config.Landing == "" {
		l.transition(PostLoginNavigated)
		return nil
	}

	err := l.navigate(ctx, l.config.Landing)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		l.tel.ReportWarning(report_login_navigate, err)
		if l.config.LandingHash == "" {
			return fmt.Errorf("%w: landing: %w", ErrNavigation, err)
		}
		err = l.page.SetHash(ctx, l.config.LandingHash)
		if err != nil {
			l.tel.ReportWarning(report_login_navigate, fmt.Errorf("set hash: %w", err))
		}
		err = browser.Sleep(ctx, l.config.LandingDelay)
		if err != nil {
			return err
		}
	}

	l.transition(PostLoginNavigated)
	return nil
}

// Run drives the machine from NotStarted to PostLoginNavigated, a rejected
// login returns an error wrapping ErrAuthentication.
func (l *Login) Run(ctx context.Context, username, password string) error {
	err := l.Load(ctx)
	if err != nil {
		return err
	}
	err = l.Fill(ctx, username, password)
	if err != nil {
		return err
	}
	err = l.Submit(ctx)
	if err != nil {
		return err
	}
	ok, err := l.Outcome(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return l.Rejection()
	}
	return l.Navigate(ctx)
}

// Rejection is the error describing a failed login.
func (l *Login) Rejection() error {
	if l.Failure != "" {
		return fmt.Errorf("%w: %s", ErrAuthentication, l.Failure)
	}
	return fmt.Errorf("%w: invalid credentials or the login page is still showing", ErrAuthentication)
}

// IsAuthentication reports whether err is a rejected login.
func IsAuthentication(err error) bool {
	return errors.Is(err, ErrAuthentication)
}
