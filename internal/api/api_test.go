package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"portalwatch-backend/internal/checker"
	"portalwatch-backend/internal/components/telemetry"
	"portalwatch-backend/internal/history"
	"portalwatch-backend/internal/portal"
	"portalwatch-backend/internal/session"
	"portalwatch-backend/internal/tablescrape"
	"portalwatch-backend/lib/testutil"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, time.October, 1, 12, 30, 0, 0, time.UTC)

type checkFunc func(ctx context.Context, cred portal.Credential) (portal.Result, error)

func (f checkFunc) Check(ctx context.Context, cred portal.Credential) (portal.Result, error) {
	return f(ctx, cred)
}

type fakeManual struct {
	persons tablescrape.Result
	// restored holds the cookies Persons was called with.
	restored []portal.Cookie
}

func (f *fakeManual) Login(ctx context.Context, username, password string) (portal.Result, error) {
	switch {
	case username == "broken":
		return portal.Result{}, errors.New("browser crashed")
	case password != "secret":
		return portal.Result{}, fmt.Errorf("%w: Senha inválida", portal.ErrAuthentication)
	}
	return portal.Result{Success: true, Cookies: []portal.Cookie{{Name: "token", Value: username}}}, nil
}

func (f *fakeManual) Persons(ctx context.Context, cookies []portal.Cookie) (tablescrape.Result, error) {
	f.restored = cookies
	return f.persons, nil
}

type sheetFunc func(ctx context.Context) (string, error)

func (f sheetFunc) Fetch(ctx context.Context) (string, error) {
	return f(ctx)
}

const financialSheet = "" +
	"UPA;;VALOR NF;VALOR RECEBIDO;DATA;;;SITUAÇÃO\n" +
	";;R$ 1.000,00;R$ 1.000,00;05/06;;;OK\n" +
	";UPA Centro;R$ 2.000,00;R$ 2.000,00;10/06;;;PENDENTE\n" +
	"Junho;UPA Norte;R$ 500,00;;;;;R$ 300,00\n" +
	";UPA Centro;;R$ 700,00;20/06;;;\n" +
	";;;;;;;\n" +
	";;;;;;;\n" +
	"Viva Rio em aberto;;;;;;;\n" +
	";Setembro;-R$ 10.000,00;;;;;\n" +
	";Outubro;R$ 0,00;;;;;\n" +
	";Total;R$ -5,00;;;;;\n"

type fixture struct {
	server  *httptest.Server
	manual  *fakeManual
	history *history.Store
}

func newFixture(t *testing.T, options Options) *fixture {
	ctx := context.Background()
	clock := testutil.NewClock(now)
	store, err := history.Open(ctx, testutil.OpenDB(t, ""), clock)
	require.NoError(t, err)

	targets := []checker.Target{
		{Key: "coop-vitta", Family: portal.FamilyRHID, Checker: checkFunc(func(ctx context.Context, cred portal.Credential) (portal.Result, error) {
			return portal.Result{Success: true, Data: map[string]int{"total": 3}}, nil
		})},
		{Key: "delta", Family: portal.FamilyRHID, Checker: checkFunc(func(ctx context.Context, cred portal.Credential) (portal.Result, error) {
			return portal.Result{}, fmt.Errorf("%w: usuário bloqueado", portal.ErrAuthentication)
		})},
		{Key: "viva-saude", Family: portal.FamilyDoctorID, Checker: checkFunc(func(ctx context.Context, cred portal.Credential) (portal.Result, error) {
			return portal.Result{}, errors.New("filter panel: timed out")
		})},
		{Key: "slow", Family: portal.FamilyDoctorID, Checker: checkFunc(func(ctx context.Context, cred portal.Credential) (portal.Result, error) {
			<-ctx.Done()
			return portal.Result{}, ctx.Err()
		})},
		{Key: "unset", Family: portal.FamilyRHID, Checker: checkFunc(func(ctx context.Context, cred portal.Credential) (portal.Result, error) {
			return portal.Result{Success: true}, nil
		})},
	}
	creds := map[string]portal.Credential{}
	for _, key := range []string{"coop-vitta", "delta", "viva-saude", "slow"} {
		creds[key] = portal.Credential{Key: key, Username: "u", Password: "p"}
	}
	checks := checker.New(targets, creds, checker.Options{Budget: 50 * time.Millisecond}, store, clock, &telemetry.RecorderAPI{})

	manual := &fakeManual{persons: tablescrape.Result{
		Headers:  []string{"Nome", "Status"},
		Data:     []map[string]string{{"Nome": "Ana", "Status": "Ativo"}, {"Nome": "Bruno", "Status": "Inativo"}},
		Total:    2,
		Ativos:   1,
		Inativos: 1,
	}}

	server := New(Deps{
		Checks:   checks,
		Manual:   manual,
		Sessions: session.NewMemoryStore(0, 0, clock),
		Sheets: map[string]Sheet{
			"viva-saude": sheetFunc(func(ctx context.Context) (string, error) {
				return financialSheet, nil
			}),
			"offline": sheetFunc(func(ctx context.Context) (string, error) {
				return "", errors.New("no sheet returned csv data")
			}),
		},
		History: store,
		Time:    clock,
	}, options, &telemetry.RecorderAPI{})

	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)
	return &fixture{server: ts, manual: manual, history: store}
}

func (f *fixture) do(t *testing.T, method, path, body string, header map[string]string) (int, map[string]any) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}

	res, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, "application/json; charset=utf-8", res.Header.Get("Content-Type"))

	var out map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return res.StatusCode, out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, Options{})
	status, body := f.do(t, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, map[string]any{"status": "ok", "timestamp": "2024-10-01T12:30:00.000Z"}, body)
}

func TestCheckLogin(t *testing.T) {
	f := newFixture(t, Options{})

	cases := []struct {
		name   string
		system string
		status int
		body   map[string]any
	}{
		{
			name:   "unknown system",
			system: "foo",
			status: http.StatusBadRequest,
			body:   map[string]any{"success": false, "error": "Sistema não encontrado", "message": "Sistema não encontrado"},
		},
		{
			name:   "success",
			system: "coop-vitta",
			status: http.StatusOK,
			body: map[string]any{
				"success": true,
				"message": "Login bem-sucedido",
				"system":  "rhid",
				"data":    map[string]any{"total": 3.0},
			},
		},
		{
			name:   "rejected",
			system: "delta",
			status: http.StatusOK,
			body: map[string]any{
				"success": false,
				"message": "Falha no login",
				"system":  "rhid",
				"data":    nil,
			},
		},
		{
			name:   "failure",
			system: "viva-saude",
			status: http.StatusInternalServerError,
			body: map[string]any{
				"success": false,
				"error":   "Erro ao verificar login",
				"message": "filter panel: timed out",
			},
		},
		{
			name:   "timeout",
			system: "slow",
			status: http.StatusGatewayTimeout,
			body: map[string]any{
				"success": false,
				"error":   "Timeout",
				"message": "A verificação excedeu o tempo limite. O portal pode estar lento ou indisponível.",
			},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			status, body := f.do(t, http.MethodPost, "/api/check-login/"+c.system, "", nil)
			require.Equal(t, c.status, status)
			if diff := cmp.Diff(c.body, body); diff != "" {
				t.Fatalf("body (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCheckLoginMissingCredentials(t *testing.T) {
	f := newFixture(t, Options{})
	status, body := f.do(t, http.MethodPost, "/api/check-login/unset", "", nil)
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "Credenciais não configuradas", body["error"])
	require.Contains(t, body["message"], "UNSET_USERNAME")
}

func TestCheckLoginDetails(t *testing.T) {
	f := newFixture(t, Options{Development: true})
	status, body := f.do(t, http.MethodPost, "/api/check-login/viva-saude", "", nil)
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "filter panel: timed out", body["details"])
}

func TestCheckLoginMethod(t *testing.T) {
	f := newFixture(t, Options{})
	res, err := f.server.Client().Get(f.server.URL + "/api/check-login/delta")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
}

func TestFinanceiro(t *testing.T) {
	f := newFixture(t, Options{})

	status, body := f.do(t, http.MethodGet, "/api/financeiro/viva-saude", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, body["success"])
	require.Equal(t, map[string]any{"junho": -2300.0, "total": -2300.0}, body["valores"])
	require.Equal(t, "2024-10-01T12:30:00.000Z", body["lastUpdate"])
	require.Len(t, body["meses"], 1)
	require.Equal(t, map[string]any{
		"vivaRioEmAberto": true,
		"setembro":        "-R$ 10.000,00",
		"outubro":         "R$ 0,00",
		"total":           "R$ -5,00",
	}, body["resumo"])
	require.Equal(t, map[string]any{
		"setembro": true,
		"outubro":  false,
		"novembro": false,
		"total":    true,
	}, body["negativos"])

	status, body = f.do(t, http.MethodGet, "/api/financeiro/offline", "", nil)
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, false, body["success"])
	require.Equal(t, "no sheet returned csv data", body["message"])

	status, _ = f.do(t, http.MethodGet, "/api/financeiro/delta", "", nil)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestRHIDSession(t *testing.T) {
	f := newFixture(t, Options{})

	status, _ := f.do(t, http.MethodPost, "/api/rhid/login", `{"username":"maria"}`, nil)
	require.Equal(t, http.StatusBadRequest, status)
	status, _ = f.do(t, http.MethodPost, "/api/rhid/login", `not json`, nil)
	require.Equal(t, http.StatusBadRequest, status)

	status, body := f.do(t, http.MethodPost, "/api/rhid/login", `{"username":"maria","password":"wrong"}`, nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "Credenciais inválidas", body["error"])

	status, _ = f.do(t, http.MethodPost, "/api/rhid/login", `{"username":"broken","password":"secret"}`, nil)
	require.Equal(t, http.StatusInternalServerError, status)

	status, body = f.do(t, http.MethodPost, "/api/rhid/login", `{"username":"maria","password":"secret"}`, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Login realizado com sucesso", body["message"])
	id, ok := body["sessionId"].(string)
	require.True(t, ok)
	require.NotEmpty(t, id)

	status, _ = f.do(t, http.MethodGet, "/api/rhid/persons", "", nil)
	require.Equal(t, http.StatusUnauthorized, status)
	status, _ = f.do(t, http.MethodGet, "/api/rhid/persons", "", map[string]string{sessionHeader: "unknown"})
	require.Equal(t, http.StatusUnauthorized, status)

	status, body = f.do(t, http.MethodGet, "/api/rhid/persons", "", map[string]string{sessionHeader: id})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 2.0, body["total"])
	require.Equal(t, 1.0, body["ativos"])
	require.Equal(t, 1.0, body["inativos"])
	require.Equal(t, 2.0, body["count"])
	require.Equal(t, []portal.Cookie{{Name: "token", Value: "maria"}}, f.manual.restored)

	status, body = f.do(t, http.MethodPost, "/api/rhid/logout", "", map[string]string{sessionHeader: id})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Logout realizado com sucesso", body["message"])

	status, _ = f.do(t, http.MethodGet, "/api/rhid/persons", "", map[string]string{sessionHeader: id})
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestHistory(t *testing.T) {
	f := newFixture(t, Options{})

	f.do(t, http.MethodPost, "/api/check-login/coop-vitta", "", nil)
	f.do(t, http.MethodPost, "/api/check-login/delta", "", nil)

	status, body := f.do(t, http.MethodGet, "/api/history", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["entries"], 2)

	status, body = f.do(t, http.MethodGet, "/api/history?system=delta&limit=5", "", nil)
	require.Equal(t, http.StatusOK, status)
	entries := body["entries"].([]any)
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]any)
	require.Equal(t, "delta", entry["system"])
	require.Equal(t, false, entry["success"])
	require.Equal(t, "Falha no login", entry["message"])

	status, _ = f.do(t, http.MethodGet, "/api/history?limit=0", "", nil)
	require.Equal(t, http.StatusBadRequest, status)
	status, _ = f.do(t, http.MethodGet, "/api/history?limit=abc", "", nil)
	require.Equal(t, http.StatusBadRequest, status)
}
