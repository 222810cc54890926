package presence

import "net/http"

// Server exposes a Node's WebSocket endpoint over net/http.
type Server struct {
	node *Node
	mux  *http.ServeMux
}

// NewServer builds the presence node's http.Handler. The connect path
// is deliberately unauthenticated at the HTTP layer: token validation
// happens inside the connect protocol so failures can be reported as
// WebSocket close codes.
func NewServer(node *Node) *Server {
	s := &Server{node: node, mux: http.NewServeMux()}
	s.mux.HandleFunc("/connect", node.HandleConnect)
	s.mux.HandleFunc("/health", s.handleHealth)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
