package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fleetcontrolsio/presencehub/internal/directory"
)

// Server wraps a Coordinator with its four HTTP endpoints.
type Server struct {
	coord *Coordinator
	dir   directory.Directory
	log   *zap.Logger
	mux   *http.ServeMux
}

// NewServer builds the coordinator's http.Handler.
func NewServer(coord *Coordinator, dir directory.Directory, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{coord: coord, dir: dir, log: log, mux: http.NewServeMux()}
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/nodes/register", s.handleRegister)
	s.mux.HandleFunc("/nodes/unregister", s.handleUnregister)
	s.mux.HandleFunc("/route", s.handleRoute)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	redisStatus := "ok"
	if _, err := s.dir.GetOwners(ctx); err != nil {
		redisStatus = "down"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"redis":         redisStatus,
		"physicalNodes": s.coord.physicalNodeCount(),
	})
}

type registerRequest struct {
	InstanceID string `json:"instanceId"`
	Weight     int    `json:"weight"`
	Addr       string `json:"addr"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if req.InstanceID == "" {
		writeError(w, http.StatusBadRequest, ErrMissingInstanceID)
		return
	}
	weight := req.Weight
	if weight == 0 {
		weight = 1
	}

	result, err := s.coord.Register(r.Context(), req.InstanceID, weight, req.Addr)
	if err != nil {
		switch {
		case errors.Is(err, ErrMissingInstanceID):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, ErrNoVnodesAvailable):
			writeError(w, http.StatusConflict, err)
		default:
			s.log.Error("register failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"instanceId":     result.InstanceID,
		"assignedVnodes": result.AssignedVnodes,
	})
}

type unregisterRequest struct {
	InstanceID string `json:"instanceId"`
}

func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	var req unregisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if req.InstanceID == "" {
		writeError(w, http.StatusBadRequest, ErrMissingInstanceID)
		return
	}

	removed, err := s.coord.Unregister(r.Context(), req.InstanceID)
	if err != nil {
		switch {
		case errors.Is(err, ErrMissingInstanceID):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, ErrNoVnodesForInstance):
			writeError(w, http.StatusNotFound, err)
		default:
			s.log.Error("unregister failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"instanceId":    req.InstanceID,
		"removedVnodes": removed,
	})
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, ErrMissingUserID)
		return
	}

	result, err := s.coord.Route(r.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, ErrMissingUserID):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, ErrUserNotFound):
			writeError(w, http.StatusNotFound, err)
		default:
			s.log.Error("route failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	body := map[string]interface{}{
		"userId":   result.UserID,
		"instance": result.Instance,
		"source":   string(result.Source),
	}
	if result.Source == RouteSourceHash {
		body["vnode"] = result.VnodeID
	}
	if len(result.Replicas) > 0 {
		body["replicas"] = result.Replicas
	}

	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
