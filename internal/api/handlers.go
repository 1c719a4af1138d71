package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"portalwatch-backend/internal/checker"
	"portalwatch-backend/internal/history"
	"portalwatch-backend/internal/portal"
	"portalwatch-backend/internal/reconcile"
	"portalwatch-backend/internal/session"
	"portalwatch-backend/internal/sheets"

	"github.com/gorilla/mux"
)

const report_financeiro = "financeiro"

type checkResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	System  portal.Family `json:"system"`
	Data    any           `json:"data"`
}

func (s *Server) checkLogin(w http.ResponseWriter, r *http.Request) {
	system := mux.Vars(r)["system"]

	target, ok := s.deps.Checks.Target(system)
	if !ok {
		s.fail(w, http.StatusBadRequest, "Sistema não encontrado", nil)
		return
	}

	outcome := s.deps.Checks.Check(r.Context(), system)
	switch {
	case errors.Is(outcome.Err, checker.ErrMissingCredentials):
		prefix := portal.EnvPrefix(system)
		s.writeJSON(w, http.StatusInternalServerError, errorBody{
			Error: "Credenciais não configuradas",
			Message: fmt.Sprintf(
				"As credenciais para %s não estão configuradas. Configure as variáveis de ambiente %s_USERNAME e %s_PASSWORD.",
				system, prefix, prefix,
			),
		})
		return
	case errors.Is(outcome.Err, checker.ErrBudgetExceeded):
		s.writeJSON(w, http.StatusGatewayTimeout, errorBody{
			Error:   "Timeout",
			Message: "A verificação excedeu o tempo limite. O portal pode estar lento ou indisponível.",
		})
		return
	case outcome.Err != nil:
		s.fail(w, http.StatusInternalServerError, "Erro ao verificar login", outcome.Err)
		return
	}

	s.writeJSON(w, http.StatusOK, checkResponse{
		Success: outcome.Result.Success,
		Message: outcome.Message(),
		System:  target.Family,
		Data:    outcome.Result.Data,
	})
}

type financeiroResponse struct {
	Success    bool                    `json:"success"`
	Valores    map[string]float64      `json:"valores"`
	Meses      []reconcile.MonthResult `json:"meses"`
	Resumo     sheets.Summary          `json:"resumo"`
	Negativos  map[string]bool         `json:"negativos,omitempty"`
	LastUpdate string                  `json:"lastUpdate"`
}

func (s *Server) financeiro(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["portal"]
	sheet, ok := s.deps.Sheets[name]
	if !ok {
		s.fail(w, http.StatusBadRequest, "Portal sem dados financeiros", nil)
		return
	}

	text, err := sheet.Fetch(r.Context())
	if err != nil {
		s.tel.ReportBroken(report_financeiro, err)
		s.fail(w, http.StatusInternalServerError, "Erro ao buscar a planilha", err)
		return
	}
	extraction, err := sheets.Extract(text)
	if err != nil {
		s.tel.ReportBroken(report_financeiro, err)
		s.fail(w, http.StatusInternalServerError, "Erro ao processar a planilha", err)
		return
	}

	result := reconcile.Reconcile(extraction.Ledgers)
	response := financeiroResponse{
		Success:    true,
		Valores:    result.Values(),
		Meses:      result.Months,
		Resumo:     extraction.Summary,
		LastUpdate: isoTime(s.deps.Time.Now()),
	}
	if extraction.Summary.Found {
		response.Negativos = extraction.Summary.Negative()
	}
	s.writeJSON(w, http.StatusOK, response)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

func (s *Server) rhidLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil || req.Username == "" || req.Password == "" {
		s.fail(w, http.StatusBadRequest, "Usuário e senha são obrigatórios", nil)
		return
	}

	result, err := s.deps.Manual.Login(r.Context(), req.Username, req.Password)
	if portal.IsAuthentication(err) || (err == nil && !result.Success) {
		s.fail(w, http.StatusUnauthorized, "Credenciais inválidas", nil)
		return
	}
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "Erro ao fazer login", err)
		return
	}

	created := s.deps.Sessions.Create(result.Cookies)
	s.writeJSON(w, http.StatusOK, loginResponse{
		Success:   true,
		SessionID: created.ID,
		Message:   "Login realizado com sucesso",
	})
}

const sessionHeader = "X-Session-Id"

type personsResponse struct {
	Success  bool                `json:"success"`
	Data     []map[string]string `json:"data"`
	Total    int                 `json:"total"`
	Ativos   int                 `json:"ativos"`
	Inativos int                 `json:"inativos"`
	Count    int                 `json:"count"`
}

func (s *Server) rhidPersons(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(sessionHeader)
	if id == "" {
		s.fail(w, http.StatusUnauthorized, "Sessão não encontrada. Faça login primeiro.", nil)
		return
	}
	current, err := s.deps.Sessions.Get(id)
	if errors.Is(err, session.ErrNotFound) {
		s.fail(w, http.StatusUnauthorized, "Sessão inválida ou expirada. Faça login novamente.", nil)
		return
	}
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "Erro ao buscar sessão", err)
		return
	}

	result, err := s.deps.Manual.Persons(r.Context(), current.Cookies)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "Erro ao buscar dados", err)
		return
	}

	data := result.Data
	if data == nil {
		data = []map[string]string{}
	}
	s.writeJSON(w, http.StatusOK, personsResponse{
		Success:  true,
		Data:     data,
		Total:    result.Total,
		Ativos:   result.Ativos,
		Inativos: result.Inativos,
		Count:    len(data),
	})
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) rhidLogout(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(sessionHeader)
	if id != "" {
		s.deps.Sessions.Delete(id)
	}
	s.writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Logout realizado com sucesso"})
}

type historyEntry struct {
	ID         int64  `json:"id"`
	System     string `json:"system"`
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	StartedAt  string `json:"startedAt"`
	DurationMs int64  `json:"durationMs"`
}

type historyResponse struct {
	Success bool           `json:"success"`
	Entries []historyEntry `json:"entries"`
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := history.DefaultLimit
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > history.MaxLimit {
			s.fail(w, http.StatusBadRequest, fmt.Sprintf("limit deve estar entre 1 e %d", history.MaxLimit), nil)
			return
		}
		limit = n
	}

	entries, err := s.deps.History.List(r.Context(), query.Get("system"), limit)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "Erro ao buscar histórico", err)
		return
	}

	out := make([]historyEntry, len(entries))
	for i, e := range entries {
		detail := ""
		if s.options.Development {
			detail = e.Detail
		}
		out[i] = historyEntry{
			ID:         e.ID,
			System:     e.System,
			Success:    e.Success,
			Message:    e.Message,
			Detail:     detail,
			StartedAt:  isoTime(e.StartedAt),
			DurationMs: e.Duration.Milliseconds(),
		}
	}
	s.writeJSON(w, http.StatusOK, historyResponse{Success: true, Entries: out})
}
