package session

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
)

// Server handles HTTP requests for reconciliation sessions
type Server struct {
	service   *Service
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="CUFE Tracker"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	// Sessions
	s.mux.HandleFunc("GET /api/sessions/{id}", s.requireAuth(s.handleGetSession))
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.requireAuth(s.handleDeleteSession))
	s.mux.HandleFunc("GET /api/sessions", s.requireAuth(s.handleListSessions))
	s.mux.HandleFunc("POST /api/sessions", s.requireAuth(s.handleCreateSession))

	// Documents and OCR
	s.mux.HandleFunc("POST /api/sessions/{id}/documents", s.requireAuth(s.handleUploadDocuments))
	s.mux.HandleFunc("DELETE /api/sessions/{id}/documents", s.requireAuth(s.handleRemoveDocuments))
	s.mux.HandleFunc("POST /api/sessions/{id}/ocr", s.requireAuth(s.handleProcessOCR))

	// Reference ledger
	s.mux.HandleFunc("POST /api/sessions/{id}/reference", s.requireAuth(s.handleImportReference))
	s.mux.HandleFunc("DELETE /api/sessions/{id}/reference", s.requireAuth(s.handleClearReference))

	// Patterns (literal segments win over {field})
	s.mux.HandleFunc("POST /api/sessions/{id}/patterns/import", s.requireAuth(s.handleImportPatterns))
	s.mux.HandleFunc("GET /api/sessions/{id}/patterns/export", s.requireAuth(s.handleExportPatterns))
	s.mux.HandleFunc("PUT /api/sessions/{id}/patterns/{field}/{patternID}", s.requireAuth(s.handleUpdatePattern))
	s.mux.HandleFunc("DELETE /api/sessions/{id}/patterns/{field}/{patternID}", s.requireAuth(s.handleRemovePattern))
	s.mux.HandleFunc("POST /api/sessions/{id}/patterns/{field}", s.requireAuth(s.handleAddPattern))
	s.mux.HandleFunc("GET /api/sessions/{id}/patterns", s.requireAuth(s.handleListPatterns))

	// Results
	s.mux.HandleFunc("GET /api/sessions/{id}/reconciliation", s.requireAuth(s.handleReconciliation))
	s.mux.HandleFunc("GET /api/sessions/{id}/review", s.requireAuth(s.handleReview))
	s.mux.HandleFunc("GET /api/sessions/{id}/exports/{kind}", s.requireAuth(s.handleExport))
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	// Wrap the mux with CORS middleware to handle all requests including OPTIONS
	return http.ListenAndServe(addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
			s.mux.ServeHTTP(w, r)
		})(w, r)
	}))
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
