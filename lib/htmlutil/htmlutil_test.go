package htmlutil

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func TestCleanText(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`
		<div id="target">
			Exportar
			<span>  CSV </span>
			<script>var x = "ignored";</script>
		</div>`,
	))
	require.NoError(t, err)

	require.Equal(t, "Exportar CSV", CleanText(doc.Find("#target").Nodes[0]))
	require.Equal(t, "Exportar CSV", SelectionText(doc.Find("#target")))
}

func TestSelectionTextSkipsEmpty(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`
		<p class="msg"> 26 registro(s)
			encontrado(s) </p>
		<p class="msg">   </p>
		<p class="msg">ok</p>`,
	))
	require.NoError(t, err)

	require.Equal(t, "26 registro(s) encontrado(s) ok", SelectionText(doc.Find(".msg")))
}
