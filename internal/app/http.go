package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"

	"scrivono/api/internal/auth"
	"scrivono/api/internal/config"
	"scrivono/api/internal/guard"
	"scrivono/api/internal/session"
)

const maxGraphQLBody = 1 << 20

type requestObserver interface {
	ObserveRequest(method, path, status string, elapsed time.Duration)
}

type HTTPServer struct {
	service *Service
	schema  graphql.Schema
	metrics http.Handler
	obs     requestObserver
	router  *mux.Router
}

// ServerOptions carries the optional /metrics endpoint and request observer.
type ServerOptions struct {
	Metrics  http.Handler
	Observer requestObserver
}

func NewHTTPServer(service *Service, opts ServerOptions) (*HTTPServer, error) {
	schema, err := NewSchema(service)
	if err != nil {
		return nil, err
	}
	s := &HTTPServer{service: service, schema: schema, metrics: opts.Metrics, obs: opts.Observer}
	s.router = s.routes()
	return s, nil
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(s.router)
}

func (s *HTTPServer) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/api/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/graphql", s.withSession(http.HandlerFunc(s.handleGraphQL))).Methods(http.MethodGet, http.MethodPost)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, ping := range map[string]func(context.Context) error{
		"database": s.service.Ping,
		"sessions": s.service.PingSessions,
	} {
		if err := ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

type graphQLRequest struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
}

func (s *HTTPServer) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	var req graphQLRequest
	if r.Method == http.MethodGet {
		query := r.URL.Query()
		req.Query = query.Get("query")
		req.OperationName = query.Get("operationName")
		if raw := query.Get("variables"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &req.Variables); err != nil {
				writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid variables", nil)
				return
			}
		}
	} else if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Missing query", nil)
		return
	}
	if r.Method == http.MethodGet && !readOnly(req.Query, req.OperationName) {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only queries may be sent with GET", nil)
		return
	}

	result := graphql.Do(graphql.Params{
		Schema:         s.schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        r.Context(),
	})

	if jar := cookieJarFrom(r.Context()); jar != nil {
		jar.write(w, s.service.cfg)
	}
	writeJSON(w, http.StatusOK, result)
}

// readOnly reports whether the operation that would run is a query. Documents
// that fail to parse are left to the executor to reject.
func readOnly(query, operationName string) bool {
	doc, err := parser.Parse(parser.ParseParams{Source: query})
	if err != nil {
		return true
	}
	for _, def := range doc.Definitions {
		op, ok := def.(*ast.OperationDefinition)
		if !ok {
			continue
		}
		if operationName != "" && (op.Name == nil || op.Name.Value != operationName) {
			continue
		}
		if op.Operation != ast.OperationTypeQuery {
			return false
		}
	}
	return true
}

// withSession resolves the session cookie to the acting user. An unknown or
// tampered cookie leaves the request anonymous.
func (s *HTTPServer) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jar := &cookieJar{}
		ctx := context.WithValue(r.Context(), cookieJarKey{}, jar)
		if cookie, err := r.Cookie(s.service.cfg.CookieName); err == nil && cookie.Value != "" {
			jar.incoming = cookie.Value
			userID, err := s.service.ResolveSession(ctx, cookie.Value)
			switch {
			case err == nil:
				ctx = guard.WithActor(ctx, userID)
			case errors.Is(err, session.ErrNotFound), errors.Is(err, auth.ErrInvalidToken):
			default:
				log.Printf("session: lookup: %v", err)
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type cookieJarKey struct{}

// cookieJar lets resolvers set or clear the session cookie before the response is written.
type cookieJar struct {
	incoming string
	value    string
	set      bool
	cleared  bool
}

func (j *cookieJar) issue(value string) {
	j.value, j.set, j.cleared = value, true, false
}

func (j *cookieJar) expire() {
	j.value, j.set, j.cleared = "", false, true
}

func (j *cookieJar) write(w http.ResponseWriter, cfg config.Config) {
	if !j.set && !j.cleared {
		return
	}
	cookie := &http.Cookie{
		Name:     cfg.CookieName,
		Value:    j.value,
		Path:     "/",
		Domain:   cfg.CookieDomain,
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if j.cleared {
		cookie.MaxAge = -1
	} else {
		cookie.MaxAge = int(cfg.SessionTTL / time.Second)
	}
	http.SetCookie(w, cookie)
}

func cookieJarFrom(ctx context.Context) *cookieJar {
	jar, _ := ctx.Value(cookieJarKey{}).(*cookieJar)
	return jar
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.service.cfg.CORSOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		elapsed := time.Since(started)
		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			elapsed.Milliseconds(),
		)
		if s.obs != nil {
			s.obs.ObserveRequest(r.Method, s.routeTemplate(r), strconv.Itoa(writer.status), elapsed)
		}
	})
}

// routeTemplate keeps metric label cardinality bounded for unmatched paths.
func (s *HTTPServer) routeTemplate(r *http.Request) string {
	var match mux.RouteMatch
	if s.router.Match(r, &match) && match.Route != nil {
		if tpl, err := match.Route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Credentials", "true")
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Vary", "Origin")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) error {
	if r.Body == nil {
		return errors.New("missing request body")
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxGraphQLBody))
	if err := decoder.Decode(target); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}
