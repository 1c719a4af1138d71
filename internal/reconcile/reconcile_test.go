package reconcile

import (
	"strings"
	"testing"

	"portalwatch-backend/internal/csvtable"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func cells(values ...string) []Cell {
	out := make([]Cell, len(values))
	for i, v := range values {
		out[i] = Cell{Line: i + 1, Value: v}
	}
	return out
}

func requireDecimal(t testing.TB, expected string, actual decimal.Decimal) {
	t.Helper()
	require.True(
		t,
		decimal.RequireFromString(expected).Equal(actual),
		"expected %s, got %s", expected, actual,
	)
}

func scenarioTable(status string) csvtable.Table {
	return csvtable.Parse(strings.Join([]string{
		"UPAS,VALOR NF,Valor Recebido,Data,Situação",
		`UPA1,"R$ 100,00","R$ 100,00",01/09,"` + status + `"`,
	}, "\n"))
}

func TestPendingRowIsOutstanding(t *testing.T) {
	ledger := LedgerFromTable("SETEMBRO", scenarioTable("Pendente"))
	require.Equal(t, []string{"UPA1"}, ledger.UPAs)
	require.Equal(t, []Cell{{Line: 2, Value: "R$ 100,00"}}, ledger.Received)

	result := Reconcile([]Ledger{ledger})
	require.Len(t, result.Months, 1)
	requireDecimal(t, "-100", result.Months[0].Value)
	requireDecimal(t, "-100", result.Total)
	require.Equal(t, map[string]float64{"setembro": -100, "total": -100}, result.Values())
	require.Equal(t, FromReceived, result.Months[0].Contributions[0].Source)
}

func TestSettledRowIsClear(t *testing.T) {
	result := ReconcileMonth(LedgerFromTable("SETEMBRO", scenarioTable("OK")))
	requireDecimal(t, "0", result.Value)
	require.Empty(t, result.Contributions)
	require.Equal(t, 1, result.Pairs)
}

func TestStatusAmountOverridesReceived(t *testing.T) {
	result := ReconcileMonth(LedgerFromTable("SETEMBRO", scenarioTable("R$ 50,00")))
	requireDecimal(t, "-50", result.Value)
	require.Len(t, result.Contributions, 1)
	require.Equal(t, FromStatus, result.Contributions[0].Source)
	requireDecimal(t, "50", result.Contributions[0].Amount)
}

func TestHeaderResidueIsDropped(t *testing.T) {
	residue := []string{
		"SITUACAO",
		" situação ",
		"SITUAÇÃO",
		"SITUA��O",
		"SITUAÃ‡ÃƒO",
		"Situacao:",
		"VALOR RECEBIDO",
		"valor recedido",
		"",
		"   ",
	}
	for _, r := range residue {
		require.True(t, IsResidue(r), "%q should be residue", r)
	}
	for _, v := range []string{"OK", "Pendente", "R$ 10,00", "SITUAÇÃO PENDENTE"} {
		require.False(t, IsResidue(v), "%q should not be residue", v)
	}

	ledger := Ledger{
		Month:    "OUTUBRO",
		Received: cells("Valor Recebido", "R$ 10,00", "R$ 20,00"),
		Statuses: cells("SITUAÇÃO", "", "Pendente", "OK"),
	}
	result := ReconcileMonth(ledger)
	require.Equal(t, 2, result.Pairs)
	requireDecimal(t, "-10", result.Value)
	for _, c := range result.Contributions {
		require.False(t, IsResidue(c.Status.Value))
	}
}

func TestSettledMonthsAreZero(t *testing.T) {
	ledger := Ledger{
		Month:    "NOVEMBRO",
		Received: cells("R$ 1.000,00", "R$ 2,50", "lixo"),
		Statuses: cells("OK", "ok", " Ok "),
	}
	requireDecimal(t, "0", ReconcileMonth(ledger).Value)
}

func TestMonthlyValueIsNeverPositive(t *testing.T) {
	statuses := []string{"OK", "Pendente", "R$ 3,00", "-R$ 4,00", "", "aguardando", "R$ 0,00"}
	received := []string{"R$ 1,00", "R$ 0,00", "-R$ 5,00", "x", "R$ 1.234,56", ""}

	for i := range statuses {
		for j := range received {
			ledger := Ledger{
				Month:    "SETEMBRO",
				Received: cells(received[j:]...),
				Statuses: cells(statuses[i:]...),
			}
			result := ReconcileMonth(ledger)
			require.False(t, result.Value.IsPositive(), "%+v", ledger)
		}
	}
}

func TestPairingIsBoundedByShorterList(t *testing.T) {
	ledger := Ledger{
		Month:    "SETEMBRO",
		Received: cells("R$ 1,00", "R$ 2,00", "R$ 3,00", "R$ 4,00"),
		Statuses: cells("Pendente", "Pendente"),
	}
	result := ReconcileMonth(ledger)
	require.Equal(t, 2, result.Pairs)
	require.Equal(t, 2, result.Unpaired)
	require.LessOrEqual(t, len(result.Contributions), 2)
	requireDecimal(t, "-3", result.Value)

	ledger.Received, ledger.Statuses = ledger.Statuses, ledger.Received
	result = ReconcileMonth(ledger)
	require.Equal(t, 2, result.Pairs)
	require.Equal(t, 2, result.Unpaired)
}

func TestGrandTotal(t *testing.T) {
	result := Reconcile([]Ledger{
		{Month: "SETEMBRO", Received: cells("R$ 100,00"), Statuses: cells("Pendente")},
		{Month: "OUTUBRO", Received: cells("R$ 40,00"), Statuses: cells("OK")},
		{Month: "NOVEMBRO", Received: cells("R$ 10,00", "R$ 5,50"), Statuses: cells("em aberto", "R$ 2,25")},
	})
	requireDecimal(t, "-100", result.Months[0].Value)
	requireDecimal(t, "0", result.Months[1].Value)
	requireDecimal(t, "-12.25", result.Months[2].Value)
	requireDecimal(t, "-112.25", result.Total)
}
