package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nicodishanthj/echogarden/internal/common"
	"github.com/nicodishanthj/echogarden/internal/store"
)

// ExpandRequest parameterizes a BFS expansion from seed nodes.
type ExpandRequest struct {
	Seeds     []string
	Hops      int
	Direction string // in, out, both
	EdgeTypes []string
	TimeMin   string
	TimeMax   string
	MaxNodes  int
	MaxEdges  int
}

// Subgraph is the visited portion of the graph.
type Subgraph struct {
	Nodes []store.GraphNode `json:"nodes"`
	Edges []store.GraphEdge `json:"edges"`
}

// Service provides upsert, neighborhood expansion and filtered search over
// the knowledge graph persisted in the store.
type Service struct {
	store *store.Store
}

func NewService(st *store.Store) *Service {
	return &Service{store: st}
}

// UpsertNodes is idempotent by node_id.
func (s *Service) UpsertNodes(ctx context.Context, nodes []store.GraphNode) error {
	return s.store.UpsertNodes(ctx, nodes)
}

// UpsertEdges is idempotent by edge_id; repeats accumulate weight capped
// at 1.
func (s *Service) UpsertEdges(ctx context.Context, edges []store.GraphEdge) error {
	return s.store.UpsertEdges(ctx, edges)
}

// Search finds nodes by label.
func (s *Service) Search(ctx context.Context, query, nodeType string, limit int) ([]store.GraphNode, error) {
	return s.store.SearchNodes(ctx, query, nodeType, limit)
}

// Neighbors is the single-seed convenience over Expand.
func (s *Service) Neighbors(ctx context.Context, nodeID, direction string, hops, limit int) (Subgraph, error) {
	if hops <= 0 {
		hops = 1
	}
	return s.Expand(ctx, ExpandRequest{
		Seeds:     []string{nodeID},
		Hops:      hops,
		Direction: direction,
		MaxNodes:  limit,
		MaxEdges:  limit * 4,
	})
}

// Expand performs BFS from the seeds, pruning by edge type and validity
// window. At each hop boundary candidates are taken in order of edge weight
// descending, then newer valid_from, so limit truncation is deterministic.
func (s *Service) Expand(ctx context.Context, req ExpandRequest) (Subgraph, error) {
	logger := common.Logger()
	if len(req.Seeds) == 0 {
		return Subgraph{}, fmt.Errorf("expand requires seed node ids")
	}
	hops := req.Hops
	if hops < 1 {
		hops = 1
	}
	if hops > 2 {
		hops = 2
	}
	maxNodes := req.MaxNodes
	if maxNodes <= 0 {
		maxNodes = 50
	}
	maxEdges := req.MaxEdges
	if maxEdges <= 0 {
		maxEdges = 200
	}

	visited := make(map[string]struct{})
	seenEdges := make(map[string]struct{})
	var edges []store.GraphEdge
	frontier := make([]string, 0, len(req.Seeds))
	for _, seed := range req.Seeds {
		seed = strings.TrimSpace(seed)
		if seed == "" {
			continue
		}
		if _, dup := visited[seed]; dup {
			continue
		}
		visited[seed] = struct{}{}
		frontier = append(frontier, seed)
	}

	for depth := 0; depth < hops && len(frontier) > 0; depth++ {
		select {
		case <-ctx.Done():
			return Subgraph{}, ctx.Err()
		default:
		}
		type candidate struct {
			edge store.GraphEdge
			next string
		}
		var candidates []candidate
		for _, nodeID := range frontier {
			touching, err := s.store.EdgesTouching(ctx, nodeID, req.Direction, req.EdgeTypes)
			if err != nil {
				return Subgraph{}, err
			}
			for _, edge := range touching {
				if !edgeInWindow(edge, req.TimeMin, req.TimeMax) {
					continue
				}
				next := edge.ToNode
				if next == nodeID {
					next = edge.FromNode
				}
				candidates = append(candidates, candidate{edge: edge, next: next})
			}
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].edge.Weight != candidates[j].edge.Weight {
				return candidates[i].edge.Weight > candidates[j].edge.Weight
			}
			if candidates[i].edge.ValidFrom != candidates[j].edge.ValidFrom {
				return candidates[i].edge.ValidFrom > candidates[j].edge.ValidFrom
			}
			return candidates[i].edge.EdgeID < candidates[j].edge.EdgeID
		})
		var nextFrontier []string
		for _, cand := range candidates {
			if len(edges) >= maxEdges || len(visited) >= maxNodes {
				break
			}
			if _, dup := seenEdges[cand.edge.EdgeID]; !dup {
				seenEdges[cand.edge.EdgeID] = struct{}{}
				edges = append(edges, cand.edge)
			}
			if _, seen := visited[cand.next]; !seen {
				visited[cand.next] = struct{}{}
				nextFrontier = append(nextFrontier, cand.next)
			}
		}
		frontier = nextFrontier
		if len(edges) >= maxEdges || len(visited) >= maxNodes {
			break
		}
	}

	nodeIDs := make([]string, 0, len(visited))
	for nodeID := range visited {
		nodeIDs = append(nodeIDs, nodeID)
	}
	sort.Strings(nodeIDs)
	nodes, err := s.store.GetNodes(ctx, nodeIDs)
	if err != nil {
		return Subgraph{}, err
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].NodeID < nodes[j].NodeID })
	logger.Debug("graph: expand complete",
		"seeds", len(req.Seeds), "hops", hops, "nodes", len(nodes), "edges", len(edges))
	return Subgraph{Nodes: nodes, Edges: edges}, nil
}

func edgeInWindow(edge store.GraphEdge, timeMin, timeMax string) bool {
	if timeMin != "" && edge.ValidTo != "" && edge.ValidTo < timeMin {
		return false
	}
	if timeMax != "" && edge.ValidFrom != "" && edge.ValidFrom > timeMax {
		return false
	}
	return true
}

// CardsMentioning resolves query terms to entity nodes and collects the
// MemoryCard nodes attached to them one hop out. The score per card is the
// average MENTIONS edge weight to the matched entities.
func (s *Service) CardsMentioning(ctx context.Context, query string, limit int) (map[string]float64, error) {
	if limit <= 0 {
		limit = 20
	}
	terms := strings.Fields(query)
	type tally struct {
		total float64
		count int
	}
	scores := make(map[string]*tally)
	matched := make(map[string]struct{})
	for _, term := range terms {
		nodes, err := s.store.SearchNodes(ctx, term, "", 5)
		if err != nil {
			return nil, err
		}
		for _, node := range nodes {
			if !strings.HasPrefix(node.NodeID, "ent:") {
				continue
			}
			if _, dup := matched[node.NodeID]; dup {
				continue
			}
			matched[node.NodeID] = struct{}{}
			edges, err := s.store.EdgesTouching(ctx, node.NodeID, "in", []string{"MENTIONS", "ABOUT"})
			if err != nil {
				return nil, err
			}
			for _, edge := range edges {
				if !strings.HasPrefix(edge.FromNode, "mem:") {
					continue
				}
				memoryID := strings.TrimPrefix(edge.FromNode, "mem:")
				entry := scores[memoryID]
				if entry == nil {
					entry = &tally{}
					scores[memoryID] = entry
				}
				entry.total += edge.Weight
				entry.count++
			}
		}
	}
	out := make(map[string]float64, len(scores))
	for memoryID, entry := range scores {
		if entry.count == 0 {
			continue
		}
		out[memoryID] = entry.total / float64(entry.count)
	}
	return capScores(out, limit), nil
}

func capScores(scores map[string]float64, limit int) map[string]float64 {
	if len(scores) <= limit {
		return scores
	}
	type pair struct {
		id    string
		score float64
	}
	ranked := make([]pair, 0, len(scores))
	for id, score := range scores {
		ranked = append(ranked, pair{id, score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score == ranked[j].score {
			return ranked[i].id < ranked[j].id
		}
		return ranked[i].score > ranked[j].score
	})
	out := make(map[string]float64, limit)
	for _, entry := range ranked[:limit] {
		out[entry.id] = entry.score
	}
	return out
}
