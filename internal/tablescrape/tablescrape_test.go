package tablescrape

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, content string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	require.NoError(t, err)
	return doc
}

func TestExtractStatusColumn(t *testing.T) {
	doc := parse(t, `
		<table id="mydatatable">
			<thead><tr>
				<th>Nome</th>
				<th>Status</th>
				<th class="edit-delete-table-th">Ações</th>
			</tr></thead>
			<tbody>
				<tr><td>Ana</td><td> Ativo </td><td class="edit-delete-table-th">editar</td></tr>
				<tr><td>Bruno</td><td>Inativo</td><td class="edit-delete-table-th">editar</td></tr>
			</tbody>
		</table>`,
	)

	result, err := Extract(doc)
	require.NoError(t, err)
	require.Equal(t, 1, result.Ativos)
	require.Equal(t, 1, result.Inativos)
	require.Equal(t, 2, result.Total)

	expected := []map[string]string{
		{"Nome": "Ana", "Status": "Ativo"},
		{"Nome": "Bruno", "Status": "Inativo"},
	}
	diff := cmp.Diff(expected, result.Data)
	if diff != "" {
		t.Fatal(diff)
	}
	require.Equal(t, []string{"Nome", "Status"}, result.Headers)
}

func TestExtractFallsBackToValueScan(t *testing.T) {
	doc := parse(t, `
		<table class="other"><tbody></tbody></table>
		<table>
			<thead><tr><th>Nome</th><th>Situação</th></tr></thead>
			<tbody>
				<tr><td>Ana</td><td>active</td><td>extra</td></tr>
				<tr><td>Bruno</td><td>INACTIVE</td></tr>
				<tr><td>Carla</td><td>ferias</td></tr>
			</tbody>
		</table>`,
	)

	result, err := Extract(doc)
	require.NoError(t, err)
	require.Equal(t, 3, result.Total)
	require.Equal(t, 1, result.Ativos)
	require.Equal(t, 1, result.Inativos)
	require.Equal(t, "extra", result.Data[0]["Column3"])
	require.Equal(t, []string{"Nome", "Situação", "Column3"}, result.Headers)
}

func TestFindTableOrder(t *testing.T) {
	doc := parse(t, `
		<table class="dataTable" id="b"><tbody><tr><td>1</td></tr></tbody></table>
		<table datatable="ng" id="a"><tbody><tr><td>1</td></tr></tbody></table>`,
	)
	table, err := FindTable(doc)
	require.NoError(t, err)
	require.Equal(t, "a", table.AttrOr("id", ""))

	_, err = Extract(parse(t, `<div>sem tabela</div><table><tbody></tbody></table>`))
	require.ErrorIs(t, err, ErrTableNotFound)
}

func TestTally(t *testing.T) {
	rows := []map[string]string{
		{"a": "Ativo", "b": "Inativo"},
		{"a": "x", "b": "inativo"},
		{"a": "", "b": ""},
	}
	active, inactive := Tally(rows, []string{"a", "b"})
	require.Equal(t, 1, active)
	require.Equal(t, 1, inactive)

	require.Equal(t, StatusActive, StatusOf(" ATIVO "))
	require.Equal(t, StatusUnknown, StatusOf("ativos"))
}
