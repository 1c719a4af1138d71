// Package checker runs portal checks under a time budget, alone or as a
// batch, and records their outcomes.
package checker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"portalwatch-backend/internal/components/assert"
	"portalwatch-backend/internal/components/chrono"
	"portalwatch-backend/internal/components/telemetry"
	"portalwatch-backend/internal/history"
	"portalwatch-backend/internal/portal"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

var (
	tracer = otel.Tracer("portalwatch/internal/checker")
	meter  = otel.Meter("portalwatch/internal/checker")
)

const (
	report_check    = "check"
	report_history  = "history"
	report_schedule = "schedule"
)

var (
	ErrUnknownSystem      = errors.New("unknown system")
	ErrMissingCredentials = errors.New("missing credentials")
	// ErrBudgetExceeded is returned when a check runs out of its time budget.
	ErrBudgetExceeded = errors.New("check exceeded its time budget")
)

const DefaultBudget = 3 * time.Minute

// Target is a portal that can be checked.
type Target struct {
	Key     string
	Family  portal.Family
	Checker portal.Checker
}

// Recorder stores the outcome of checks, *history.Store implements it.
type Recorder interface {
	Record(ctx context.Context, system string, success bool, message, detail string, started time.Time) (history.Entry, error)
}

type Options struct {
	Budget time.Duration
	// Launches limits how often a browser may be started, zero disables
	// the limit.
	Launches rate.Limit
	// Burst is how many launches may happen at once.
	Burst int
}

// Outcome is the result of a single check.
type Outcome struct {
	System   string        `json:"system"`
	Result   portal.Result `json:"result"`
	Err      error         `json:"-"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
}

// Message describes the outcome for people, errors are reported with the
// message of the error.
func (o Outcome) Message() string {
	if o.Err != nil {
		return o.Err.Error()
	}
	if o.Result.Message != "" {
		return o.Result.Message
	}
	if o.Result.Success {
		return "Login bem-sucedido"
	}
	return "Falha no login"
}

type Checker struct {
	targets     map[string]Target
	credentials map[string]portal.Credential
	budget      time.Duration
	limiter     *rate.Limiter
	recorder    Recorder
	timeAPI     chrono.TimeAPI
	tel         telemetry.API
	counter     metric.Int64Counter
}

// New creates a checker, recorder may be nil.
func New(
	targets []Target,
	credentials map[string]portal.Credential,
	options Options,
	recorder Recorder,
	timeAPI chrono.TimeAPI,
	tel telemetry.API,
) *Checker {
	assert.NotNil(timeAPI, "time api")
	assert.NotNil(tel, "telemetry")

	byKey := make(map[string]Target, len(targets))
	for _, t := range targets {
		assert.NotEmptyStr(t.Key, "target key")
		assert.NotNil(t.Checker, "target checker")
		byKey[t.Key] = t
	}

	if options.Budget <= 0 {
		options.Budget = DefaultBudget
	}
	limit := options.Launches
	if limit <= 0 {
		limit = rate.Inf
	}
	burst := options.Burst
	if burst <= 0 {
		burst = 1
	}

	counter, err := meter.Int64Counter(
		"portalwatch.checks",
		metric.WithDescription("Portal checks by system and outcome."),
	)
	if err != nil {
		tel.ReportWarning(report_check, fmt.Errorf("create counter: %w", err))
	}

	return &Checker{
		targets:     byKey,
		credentials: credentials,
		budget:      options.Budget,
		limiter:     rate.NewLimiter(limit, burst),
		recorder:    recorder,
		timeAPI:     timeAPI,
		tel:         telemetry.NewScopedAPI("checker", tel),
		counter:     counter,
	}
}

// Systems returns the keys of every target in order.
func (c *Checker) Systems() []string {
	keys := make([]string, 0, len(c.targets))
	for key := range c.targets {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Target returns the target of system.
func (c *Checker) Target(system string) (Target, bool) {
	t, ok := c.targets[system]
	return t, ok
}

// Credential returns the complete credential of system.
func (c *Checker) Credential(system string) (portal.Credential, error) {
	cred, ok := c.credentials[system]
	if !ok || !cred.Complete() {
		return portal.Credential{}, fmt.Errorf("%w: %s", ErrMissingCredentials, system)
	}
	return cred, nil
}

func outcomeLabel(o Outcome) string {
	switch {
	case errors.Is(o.Err, ErrBudgetExceeded):
		return "timeout"
	case o.Err != nil:
		return "error"
	case o.Result.Success:
		return "success"
	}
	return "rejected"
}

// Check runs a single check within the time budget. A rejected login is an
// unsuccessful result, other failures are returned in Outcome.Err.
func (c *Checker) Check(ctx context.Context, system string) Outcome {
	started := c.timeAPI.Now()
	outcome := c.check(ctx, system)
	outcome.System = system
	outcome.Started = started
	outcome.Duration = c.timeAPI.Now().Sub(started)

	if c.counter != nil {
		c.counter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("system", system),
			attribute.String("outcome", outcomeLabel(outcome)),
		))
	}
	c.record(ctx, outcome)
	return outcome
}

func (c *Checker) check(ctx context.Context, system string) Outcome {
	ctx, span := tracer.Start(ctx, "Check")
	defer span.End()
	span.SetAttributes(attribute.String("system", system))

	fail := func(err error) Outcome {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Outcome{Err: err}
	}

	target, ok := c.targets[system]
	if !ok {
		return fail(fmt.Errorf("%w: %s", ErrUnknownSystem, system))
	}
	cred, err := c.Credential(system)
	if err != nil {
		c.tel.ReportBroken(report_check, err)
		return fail(err)
	}

	budgetCtx, cancel := context.WithTimeoutCause(ctx, c.budget, ErrBudgetExceeded)
	defer cancel()

	// Wait fails early when the next launch is past the deadline
	err = c.limiter.Wait(budgetCtx)
	if err != nil && ctx.Err() != nil {
		return fail(ctx.Err())
	}
	if err != nil {
		return fail(fmt.Errorf("%w: waiting to launch a browser: %w", ErrBudgetExceeded, err))
	}

	c.tel.ReportDebug("check started", system)
	result, err := target.Checker.Check(budgetCtx, cred)
	if portal.IsAuthentication(err) {
		c.tel.ReportWarning(report_check, system, err)
		return Outcome{Result: portal.Result{Success: false, Message: "Falha no login"}}
	}
	if err != nil {
		err = c.budgetError(budgetCtx, err)
		c.tel.ReportBroken(report_check, system, err)
		return fail(err)
	}

	span.SetAttributes(attribute.Bool("success", result.Success))
	return Outcome{Result: result}
}

// budgetError makes errors caused by the budget running out match
// ErrBudgetExceeded.
func (c *Checker) budgetError(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), ErrBudgetExceeded) && !errors.Is(err, ErrBudgetExceeded) {
		return fmt.Errorf("%w after %s: %w", ErrBudgetExceeded, c.budget, err)
	}
	return err
}

func (c *Checker) record(ctx context.Context, o Outcome) {
	if c.recorder == nil {
		return
	}
	detail := ""
	if o.Err != nil {
		detail = fmt.Sprintf("%+v", o.Err)
	}
	// the outcome is recorded even when the request went away
	_, err := c.recorder.Record(context.WithoutCancel(ctx), o.System, o.Result.Success && o.Err == nil, o.Message(), detail, o.Started)
	if err != nil {
		c.tel.ReportWarning(report_history, err)
	}
}

// CheckAll checks every target. Exporting portals share the download
// directory so they run one after another in a single goroutine, the
// others run concurrently with them. A failing check never stops the rest.
func (c *Checker) CheckAll(ctx context.Context) []Outcome {
	ctx, span := tracer.Start(ctx, "CheckAll")
	defer span.End()

	var sequential, concurrent []string
	for _, system := range c.Systems() {
		if c.targets[system].Family == portal.FamilyRHID {
			sequential = append(sequential, system)
			continue
		}
		concurrent = append(concurrent, system)
	}

	outcomes := make(map[string]Outcome, len(c.targets))
	var mutex sync.Mutex
	save := func(o Outcome) {
		mutex.Lock()
		defer mutex.Unlock()
		outcomes[o.System] = o
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, system := range sequential {
			save(c.Check(ctx, system))
		}
	}()
	for _, system := range concurrent {
		wg.Add(1)
		go func(system string) {
			defer wg.Done()
			save(c.Check(ctx, system))
		}(system)
	}
	wg.Wait()

	out := make([]Outcome, 0, len(outcomes))
	for _, system := range c.Systems() {
		out = append(out, outcomes[system])
	}
	return out
}

// Schedule runs CheckAll on the cron spec, an empty spec schedules nothing.
func (c *Checker) Schedule(ctx context.Context, cron chrono.CronAPI, spec string) error {
	if spec == "" {
		return nil
	}
	err := cron.Cron(spec, func() {
		if ctx.Err() != nil {
			return
		}
		outcomes := c.CheckAll(ctx)
		succeeded := 0
		for _, o := range outcomes {
			if o.Err == nil && o.Result.Success {
				succeeded++
			}
		}
		c.tel.ReportCount("scheduled-success", int64(succeeded))
		c.tel.ReportDebug("scheduled check finished", succeeded, len(outcomes))
	})
	if err != nil {
		c.tel.ReportBroken(report_schedule, err, spec)
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	return nil
}
