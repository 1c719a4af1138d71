package cmd

import (
	"fmt"
	"io"
	"os"

	"portalwatch-backend/internal/money"
	"portalwatch-backend/internal/reconcile"
	"portalwatch-backend/internal/sheets"
	"portalwatch-backend/lib/util/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func renderReconciliation(w io.Writer, result reconcile.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Mês", "Pares", "Sem par", "Pendências", "Valor"})
	for _, m := range result.Months {
		t.AppendRow(table.Row{m.Month, m.Pairs, m.Unpaired, len(m.Contributions), money.FormatBRL(m.Value)})
	}
	t.AppendFooter(table.Row{"Total", "", "", "", money.FormatBRL(result.Total)})
	t.SetStyle(table.StyleRounded)
	t.Render()
}

var financeiroCmd = &cobra.Command{
	Use:   "financeiro <file>",
	Short: "Reconciles a CSV export of the financial spreadsheet.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		contents, err := os.ReadFile(args[0])
		if err != nil {
			serviceutil.Fatal("read export", err)
		}
		extraction, err := sheets.Extract(string(contents))
		if err != nil {
			serviceutil.Fatal("parse export", err)
		}
		if len(extraction.Ledgers) == 0 {
			fmt.Fprintln(os.Stderr, "no month sections found")
		}
		renderReconciliation(os.Stdout, reconcile.Reconcile(extraction.Ledgers))
	},
}

func init() {
	rootCmd.AddCommand(financeiroCmd)
}
