package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"portalwatch-backend/internal/checker"
	"portalwatch-backend/internal/components/telemetry"
	"portalwatch-backend/lib/util/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func renderOutcomes(w io.Writer, outcomes []checker.Outcome) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"System", "Success", "Message", "Duration"})
	for _, o := range outcomes {
		success := o.Err == nil && o.Result.Success
		t.AppendRow(table.Row{
			o.System,
			strconv.FormatBool(success),
			o.Message(),
			o.Duration.Round(time.Millisecond).String(),
		})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

var checkCmd = &cobra.Command{
	Use:   "check [system]...",
	Short: "Checks the login of the given portals, or every portal when none are given.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := serviceutil.SignalContext()
		defer cancel()

		config, err := loadConfig(configPath, isProduction())
		if err != nil {
			serviceutil.Fatal("load config", err)
		}
		// a missing credential only fails the check of its portal
		credentials, _ := loadCredentials(true)

		a, err := newApp(ctx, config, credentials, telemetry.SlogAPI{})
		if err != nil {
			serviceutil.Fatal("setup", err)
		}
		defer a.Close()

		var outcomes []checker.Outcome
		if len(args) == 0 {
			outcomes = a.checker.CheckAll(ctx)
		} else {
			for _, system := range args {
				outcomes = append(outcomes, a.checker.Check(ctx, system))
			}
		}
		renderOutcomes(os.Stdout, outcomes)

		for _, o := range outcomes {
			if o.Err != nil || !o.Result.Success {
				fmt.Fprintln(os.Stderr, "some checks failed")
				os.Exit(1)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
