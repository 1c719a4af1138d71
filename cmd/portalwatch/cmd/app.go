package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"portalwatch-backend/internal/browser"
	"portalwatch-backend/internal/checker"
	"portalwatch-backend/internal/components/chrono"
	"portalwatch-backend/internal/components/telemetry"
	"portalwatch-backend/internal/download"
	"portalwatch-backend/internal/history"
	"portalwatch-backend/internal/portal"
	"portalwatch-backend/internal/portal/doctorid"
	"portalwatch-backend/internal/portal/rhid"

	"golang.org/x/time/rate"
)

// app holds the components shared by the serve and check commands.
type app struct {
	config  Config
	db      *sql.DB
	history *history.Store
	checker *checker.Checker
	manual  *rhid.Portal
	timeAPI chrono.TimeAPI
	tel     telemetry.API
}

func pageFactory(launcher browser.Launcher) portal.PageFactory {
	return func(ctx context.Context) (browser.Page, error) {
		page, err := launcher.Launch(ctx)
		if err != nil {
			return nil, err
		}
		return page, nil
	}
}

func newApp(ctx context.Context, config Config, credentials map[string]portal.Credential, tel telemetry.API) (*app, error) {
	timeAPI := chrono.NewStandardTime()

	db, err := config.Database.OpenDB()
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	store, err := history.Open(ctx, db, timeAPI)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open history: %w", err)
	}

	dir, err := download.Open(config.DownloadDir, tel)
	if err != nil {
		db.Close()
		return nil, err
	}

	launcher := browser.NewLauncher(browser.Options{
		Headless:      !config.Browser.Headful,
		ExecPath:      config.Browser.ExecPath,
		ActionTimeout: time.Duration(config.Browser.ActionTimeoutSeconds) * time.Second,
	}, tel)
	exporting := pageFactory(launcher.WithDownloadDir(dir.Path()))
	browsing := pageFactory(launcher)

	var targets []checker.Target
	for _, p := range portals {
		var target portal.Checker
		switch p.Family {
		case portal.FamilyRHID:
			target = rhid.New(p.Key, config.RHID, exporting, dir, timeAPI, tel)
		case portal.FamilyDoctorID:
			target = doctorid.New(config.DoctorID, browsing, tel)
		default:
			panic(fmt.Sprintf("unknown portal family %q", p.Family))
		}
		targets = append(targets, checker.Target{Key: p.Key, Family: p.Family, Checker: target})
	}

	var launches rate.Limit
	if config.Browser.LaunchesPerMinute > 0 {
		launches = rate.Limit(config.Browser.LaunchesPerMinute / 60)
	}
	checks := checker.New(
		targets,
		credentials,
		checker.Options{Budget: config.budget(), Launches: launches, Burst: 2},
		store,
		timeAPI,
		tel,
	)

	return &app{
		config:  config,
		db:      db,
		history: store,
		checker: checks,
		manual:  rhid.New("manual", config.RHID, browsing, dir, timeAPI, tel),
		timeAPI: timeAPI,
		tel:     tel,
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}
