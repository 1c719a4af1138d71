// Package api is the REST surface consumed by the dashboard.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"portalwatch-backend/internal/checker"
	"portalwatch-backend/internal/components/assert"
	"portalwatch-backend/internal/components/chrono"
	"portalwatch-backend/internal/components/telemetry"
	"portalwatch-backend/internal/history"
	"portalwatch-backend/internal/portal"
	"portalwatch-backend/internal/session"
	"portalwatch-backend/internal/tablescrape"

	"github.com/gorilla/mux"
)

const (
	report_request  = "request"
	report_response = "response"
)

// Checks runs portal checks, *checker.Checker implements it.
type Checks interface {
	Target(system string) (checker.Target, bool)
	Check(ctx context.Context, system string) checker.Outcome
}

// Manual is the portal used for logins made from the dashboard.
type Manual interface {
	Login(ctx context.Context, username, password string) (portal.Result, error)
	Persons(ctx context.Context, cookies []portal.Cookie) (tablescrape.Result, error)
}

// Sheet fetches the CSV export of a financial spreadsheet.
type Sheet interface {
	Fetch(ctx context.Context) (string, error)
}

// History lists recorded checks, *history.Store implements it.
type History interface {
	List(ctx context.Context, system string, limit int) ([]history.Entry, error)
}

type Options struct {
	// Development adds error details to failed responses.
	Development bool
}

// Deps are the collaborators of the handlers, History may be nil.
type Deps struct {
	Checks   Checks
	Manual   Manual
	Sessions session.Store
	Sheets   map[string]Sheet
	History  History
	Time     chrono.TimeAPI
}

type Server struct {
	deps    Deps
	options Options
	router  *mux.Router
	tel     telemetry.API
}

func New(deps Deps, options Options, tel telemetry.API) *Server {
	assert.NotNil(deps.Checks, "checks")
	assert.NotNil(deps.Manual, "manual portal")
	assert.NotNil(deps.Sessions, "session store")
	assert.NotNil(deps.Time, "time api")
	assert.NotNil(tel, "telemetry")

	s := &Server{
		deps:    deps,
		options: options,
		router:  mux.NewRouter().StrictSlash(true),
		tel:     telemetry.NewScopedAPI("api", tel),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.logRequests, setContentType)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.health).Methods(http.MethodGet)
	api.HandleFunc("/check-login/{system}", s.checkLogin).Methods(http.MethodPost)
	api.HandleFunc("/financeiro/{portal}", s.financeiro).Methods(http.MethodGet)
	api.HandleFunc("/rhid/login", s.rhidLogin).Methods(http.MethodPost)
	api.HandleFunc("/rhid/persons", s.rhidPersons).Methods(http.MethodGet)
	api.HandleFunc("/rhid/logout", s.rhidLogout).Methods(http.MethodPost)
	if s.deps.History != nil {
		api.HandleFunc("/history", s.history).Methods(http.MethodGet)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func setContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.tel.ReportDebug(report_request, r.Method, r.URL.Path)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.tel.ReportDebug(report_response, r.Method, r.URL.Path, rec.status, time.Since(start).String())
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		s.tel.ReportWarning(report_response, err)
	}
}

// errorBody is the shape of failed responses, details carry the full error
// only in development.
type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details string `json:"details,omitempty"`
}

func (s *Server) fail(w http.ResponseWriter, status int, message string, err error) {
	body := errorBody{Error: message, Message: message}
	if err != nil {
		body.Message = err.Error()
		if s.options.Development {
			body.Details = err.Error()
		}
	}
	s.writeJSON(w, status, body)
}

func isoTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: isoTime(s.deps.Time.Now()),
	})
}
