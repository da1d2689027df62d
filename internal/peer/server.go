package peer

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/roach88/docsync/internal/model"
)

// Resolver finds the Local peer serving a database name. Unknown names
// must return a NotFound error.
type Resolver interface {
	Local(name string) (*Local, error)
}

// Server serves the replication protocol for every database a Resolver
// knows about.
type Server struct {
	resolver Resolver
	log      *zap.Logger
	router   *mux.Router
}

// NewServer creates a Server. A nil logger disables request logging.
func NewServer(resolver Resolver, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{resolver: resolver, log: log, router: mux.NewRouter()}

	s.router.HandleFunc("/{db}/_session", s.handleSession).Methods(http.MethodPost)
	s.router.HandleFunc("/{db}/_changes", s.handleChanges).Methods(http.MethodGet)
	s.router.HandleFunc("/{db}/_revs", s.handleRevs).Methods(http.MethodPost)
	s.router.Use(s.logRequests)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	local, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, model.Wrap(model.KindValidation, "negotiate", err))
		return
	}
	session, err := local.Negotiate(r.Context(), req.PeerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sessionResponse{Session: session})
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	local, ok := s.lookup(w, r)
	if !ok {
		return
	}

	since, err := intParam(r, "since")
	if err != nil {
		s.writeError(w, err)
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		s.writeError(w, err)
		return
	}

	batch, err := local.ChangesSince(r.Context(), r.Header.Get(SessionHeader), since, int(limit))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, batch)
}

func (s *Server) handleRevs(w http.ResponseWriter, r *http.Request) {
	local, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req revsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, model.Wrap(model.KindValidation, "put revisions", err))
		return
	}
	acks, err := local.PutRevisions(r.Context(), r.Header.Get(SessionHeader), req.Revisions)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, revsResponse{Acks: acks})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*Local, bool) {
	local, err := s.resolver.Local(mux.Vars(r)["db"])
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	return local, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := model.KindOf(err)
	if kind == "" {
		kind = model.KindStorage
	}
	s.writeJSON(w, statusForKind(kind), errorResponse{
		Error: errorDetail{Code: string(kind), Message: err.Error()},
	})
}

func intParam(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, model.Errorf(model.KindValidation, "changes", "invalid %s %q", name, raw)
	}
	return n, nil
}

// statusRecorder captures the response status for request logging.
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
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
