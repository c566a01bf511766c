package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/nicodishanthj/echogarden/internal/graph"
	"github.com/nicodishanthj/echogarden/internal/store"
)

func (s *Server) handleGraphUpsert(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Nodes []store.GraphNode `json:"nodes"`
		Edges []store.GraphEdge `json:"edges"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.graph.UpsertNodes(r.Context(), body.Nodes); err != nil {
		writeError(w, http.StatusBadRequest, KindInvalidInput, err)
		return
	}
	if err := s.graph.UpsertEdges(r.Context(), body.Edges); err != nil {
		writeError(w, http.StatusBadRequest, KindInvalidInput, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"nodes": len(body.Nodes),
		"edges": len(body.Edges),
	})
}

func (s *Server) handleGraphQuery(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NodeID    string `json:"node_id"`
		Direction string `json:"direction"`
		Limit     int    `json:"limit"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.NodeID == "" {
		writeError(w, http.StatusBadRequest, KindInvalidInput, errNodeRequired)
		return
	}
	subgraph, err := s.graph.Neighbors(r.Context(), body.NodeID, body.Direction, 1, body.Limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subgraph)
}

func (s *Server) handleGraphExpand(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SeedNodeIDs []string `json:"seed_node_ids"`
		Hops        int      `json:"hops"`
		Direction   string   `json:"direction"`
		EdgeTypes   []string `json:"edge_types"`
		TimeMin     string   `json:"time_min"`
		TimeMax     string   `json:"time_max"`
		MaxNodes    int      `json:"max_nodes"`
		MaxEdges    int      `json:"max_edges"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	subgraph, err := s.graph.Expand(r.Context(), graph.ExpandRequest{
		Seeds:     body.SeedNodeIDs,
		Hops:      body.Hops,
		Direction: body.Direction,
		EdgeTypes: body.EdgeTypes,
		TimeMin:   body.TimeMin,
		TimeMax:   body.TimeMax,
		MaxNodes:  body.MaxNodes,
		MaxEdges:  body.MaxEdges,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, KindInvalidInput, err)
		return
	}
	writeJSON(w, http.StatusOK, subgraph)
}

func (s *Server) handleGraphSubgraph(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	seed := strings.TrimSpace(query.Get("seed"))
	if seed == "" {
		writeError(w, http.StatusBadRequest, KindInvalidInput, errSeedRequired)
		return
	}
	hops, _ := strconv.Atoi(query.Get("hops"))
	limit, _ := strconv.Atoi(query.Get("limit"))
	subgraph, err := s.graph.Neighbors(r.Context(), seed, "both", hops, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subgraph)
}

func (s *Server) handleGraphSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	nodes, err := s.graph.Search(r.Context(), query.Get("query"), query.Get("type"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"nodes": nodes})
}

func (s *Server) handleGraphNeighbors(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	nodeID := strings.TrimSpace(query.Get("node_id"))
	if nodeID == "" {
		writeError(w, http.StatusBadRequest, KindInvalidInput, errNodeRequired)
		return
	}
	hops, _ := strconv.Atoi(query.Get("hops"))
	limit, _ := strconv.Atoi(query.Get("limit"))
	subgraph, err := s.graph.Neighbors(r.Context(), nodeID, "both", hops, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subgraph)
}
