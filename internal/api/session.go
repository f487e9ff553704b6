package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// handleSession returns the last known session view.
func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.tracker.View())
}

// handleNodeStatus returns the last status reply of one node. The key may be
// the full public key or any unambiguous hex prefix of it.
func (s *Server) handleNodeStatus(w http.ResponseWriter, r *http.Request) {
	key := strings.ToLower(chi.URLParam(r, "key"))
	if key == "" {
		fail(w, r, CodeBadRequest, "node key is required")
		return
	}

	var match []int
	nodes := s.tracker.View().Nodes
	for i, n := range nodes {
		if strings.HasPrefix(strings.ToLower(n.PublicKey), key) {
			match = append(match, i)
		}
	}

	switch len(match) {
	case 0:
		fail(w, r, CodeNotFound, "no status received from node "+key)
	case 1:
		respondJSON(w, http.StatusOK, nodes[match[0]])
	default:
		fail(w, r, CodeAmbiguousKey, "node key prefix is ambiguous")
	}
}
