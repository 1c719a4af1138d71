package cmd

import (
	"context"
	"log/slog"
	"time"

	"portalwatch-backend/internal/api"
	"portalwatch-backend/internal/components/chrono"
	"portalwatch-backend/internal/components/telemetry"
	"portalwatch-backend/internal/session"
	"portalwatch-backend/internal/sheets"
	"portalwatch-backend/lib/restyutil"
	libtelemetry "portalwatch-backend/lib/telemetry"
	"portalwatch-backend/lib/util/serviceutil"

	"github.com/spf13/cobra"
)

var dumpHttp string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the dashboard api.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := serviceutil.SignalContext()
		defer cancel()

		production := isProduction()
		config, err := loadConfig(configPath, production)
		if err != nil {
			serviceutil.Fatal("load config", err)
		}
		credentials, err := loadCredentials(production)
		if err != nil {
			serviceutil.Fatal("load credentials", err)
		}

		providers, err := libtelemetry.SetupFromEnv(ctx, "portalwatch")
		if err != nil {
			slog.Warn("telemetry disabled", "err", err)
		}
		defer providers.Shutdown(context.Background())
		libtelemetry.InstrumentPerfStats(ctx)

		tel := telemetry.SlogAPI{}
		a, err := newApp(ctx, config, credentials, tel)
		if err != nil {
			serviceutil.Fatal("setup", err)
		}
		defer a.Close()

		var dump restyutil.Output
		if dumpHttp != "" {
			out, err := restyutil.NewFilesystemOutput(dumpHttp)
			if err != nil {
				serviceutil.Fatal("create http dump directory", err)
			}
			dump = out
		}
		sheetClients := make(map[string]api.Sheet, len(config.Sheets))
		for key, sheetConfig := range config.Sheets {
			client := sheets.NewClient(sheetConfig, tel)
			client.DumpTo("sheets-"+key, dump)
			sheetClients[key] = client
		}

		cron := chrono.NewStandardCron(tel)
		defer cron.Stop()
		err = a.checker.Schedule(ctx, cron, config.Checks.Schedule)
		if err != nil {
			serviceutil.Fatal("schedule batch check", err)
		}
		if config.Checks.RetentionDays > 0 {
			retention := time.Duration(config.Checks.RetentionDays) * 24 * time.Hour
			err = cron.Cron("@daily", func() {
				err := a.history.Prune(ctx, retention)
				if err != nil {
					slog.Warn("failed to prune check history", "err", err)
				}
			})
			if err != nil {
				serviceutil.Fatal("schedule history pruning", err)
			}
		}

		server := api.New(api.Deps{
			Checks: a.checker,
			Manual: a.manual,
			Sessions: session.NewMemoryStore(
				config.Sessions.Size,
				time.Duration(config.Sessions.TTLMinutes)*time.Minute,
				a.timeAPI,
			),
			Sheets:  sheetClients,
			History: a.history,
			Time:    a.timeAPI,
		}, api.Options{Development: !production}, tel)

		slog.Info("starting portalwatch", "port", config.Port, "production", production)
		err = serviceutil.StartHttpServer(ctx, config.Port, server, 10*time.Second)
		if err != nil {
			serviceutil.Fatal("serve", err)
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&dumpHttp, "dump-http", "", "write every spreadsheet request and response to this directory")
	rootCmd.AddCommand(serveCmd)
}
