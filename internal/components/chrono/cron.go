package chrono

import (
	"portalwatch-backend/internal/components/telemetry"

	"github.com/robfig/cron/v3"
)

// CronAPI schedules callbacks on cron specs, batch checks depend on it so
// tests can fire them by hand.
type CronAPI interface {
	Cron(spec string, callback func()) error
}

// StandardCron runs callbacks on `github.com/robfig/cron/v3` in São Paulo
// time. A callback still running when it is due again is skipped.
type StandardCron struct {
	cron *cron.Cron
}

func NewStandardCron(tel telemetry.API) StandardCron {
	logger := cronLogger{tel: telemetry.NewScopedAPI("cron", tel)}
	cronner := cron.New(
		cron.WithLogger(logger),
		cron.WithLocation(saoPaulo),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	cronner.Start()

	return StandardCron{
		cron: cronner,
	}
}

func (s StandardCron) Cron(spec string, callback func()) error {
	_, err := s.cron.AddFunc(spec, callback)
	return err
}

// Stop halts scheduling of new jobs, it does not wait for running jobs.
func (s StandardCron) Stop() {
	s.cron.Stop()
}

// cronLogger adapts telemetry.API to cron.Logger, key value pairs are
// passed on as params.
type cronLogger struct {
	tel telemetry.API
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.tel.ReportDebug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.tel.ReportBroken(msg, append([]any{err}, keysAndValues...)...)
}
