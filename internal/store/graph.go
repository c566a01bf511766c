package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// UpsertNodes inserts or refreshes graph nodes, idempotent by node_id.
func (s *Store) UpsertNodes(ctx context.Context, nodes []GraphNode) error {
	return upsertNodes(ctx, s.db, nodes)
}

// UpsertEdges inserts or refreshes graph edges, idempotent by edge_id.
// Re-upserting an existing edge accumulates weight (capped at 1) to reflect
// accumulating evidence.
func (s *Store) UpsertEdges(ctx context.Context, edges []GraphEdge) error {
	return upsertEdges(ctx, s.db, edges)
}

func upsertNodes(ctx context.Context, tx execQuerier, nodes []GraphNode) error {
	for _, node := range nodes {
		if strings.TrimSpace(node.NodeID) == "" {
			return errors.New("graph node requires node_id")
		}
		props := node.Props
		if props == "" {
			props = "{}"
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO graph_node (node_id, node_type, props, updated_at)
                         VALUES (?, ?, ?, ?)
                         ON CONFLICT(node_id) DO UPDATE SET
                                node_type = excluded.node_type,
                                props = excluded.props,
                                updated_at = excluded.updated_at`,
			node.NodeID, node.NodeType, props, nowText())
		if err != nil {
			return fmt.Errorf("upsert node %s: %w", node.NodeID, err)
		}
	}
	return nil
}

func upsertEdges(ctx context.Context, tx execQuerier, edges []GraphEdge) error {
	for _, edge := range edges {
		if strings.TrimSpace(edge.EdgeID) == "" {
			return errors.New("graph edge requires edge_id")
		}
		for _, endpoint := range []string{edge.FromNode, edge.ToNode} {
			var exists int
			err := tx.GetContext(ctx, &exists,
				`SELECT COUNT(*) FROM graph_node WHERE node_id = ?`, endpoint)
			if err != nil {
				return fmt.Errorf("check endpoint %s: %w", endpoint, err)
			}
			if exists == 0 {
				return fmt.Errorf("edge %s references missing node %s", edge.EdgeID, endpoint)
			}
		}
		if edge.Weight <= 0 {
			edge.Weight = 0.5
		}
		if edge.Weight > 1 {
			edge.Weight = 1
		}
		if edge.ValidFrom == "" {
			edge.ValidFrom = nowText()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO graph_edge
                                (edge_id, from_node, to_node, edge_type, weight, valid_from, valid_to, created_by, confidence, trace_id)
                         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
                         ON CONFLICT(edge_id) DO UPDATE SET
                                weight = MIN(1.0, graph_edge.weight + 0.1),
                                valid_to = excluded.valid_to,
                                confidence = MAX(graph_edge.confidence, excluded.confidence)`,
			edge.EdgeID, edge.FromNode, edge.ToNode, edge.EdgeType, edge.Weight,
			edge.ValidFrom, edge.ValidTo, edge.CreatedBy, edge.Confidence, edge.TraceID)
		if err != nil {
			return fmt.Errorf("upsert edge %s: %w", edge.EdgeID, err)
		}
	}
	return nil
}

// GetNode fetches one node by id.
func (s *Store) GetNode(ctx context.Context, nodeID string) (GraphNode, error) {
	var node GraphNode
	err := s.db.GetContext(ctx, &node, `SELECT * FROM graph_node WHERE node_id = ?`, nodeID)
	if errors.Is(err, sql.ErrNoRows) {
		return GraphNode{}, ErrNotFound
	}
	if err != nil {
		return GraphNode{}, fmt.Errorf("get node: %w", err)
	}
	return node, nil
}

// GetNodes bulk-fetches nodes by id.
func (s *Store) GetNodes(ctx context.Context, nodeIDs []string) ([]GraphNode, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlxIn(`SELECT * FROM graph_node WHERE node_id IN (?)`, nodeIDs)
	if err != nil {
		return nil, err
	}
	var nodes []GraphNode
	if err := s.db.SelectContext(ctx, &nodes, query, args...); err != nil {
		return nil, fmt.Errorf("get nodes: %w", err)
	}
	return nodes, nil
}

// EdgesTouching returns edges incident to a node, filtered by direction
// ("in", "out" or "both") and optionally by edge types.
func (s *Store) EdgesTouching(ctx context.Context, nodeID, direction string, edgeTypes []string) ([]GraphEdge, error) {
	var clause string
	args := []interface{}{}
	switch direction {
	case "in":
		clause = "to_node = ?"
		args = append(args, nodeID)
	case "out":
		clause = "from_node = ?"
		args = append(args, nodeID)
	default:
		clause = "(from_node = ? OR to_node = ?)"
		args = append(args, nodeID, nodeID)
	}
	query := `SELECT * FROM graph_edge WHERE ` + clause
	if len(edgeTypes) > 0 {
		query += ` AND edge_type IN (?)`
		args = append(args, edgeTypes)
		expanded, expandedArgs, err := sqlxIn(query, args...)
		if err != nil {
			return nil, err
		}
		query, args = expanded, expandedArgs
	}
	var edges []GraphEdge
	if err := s.db.SelectContext(ctx, &edges, query, args...); err != nil {
		return nil, fmt.Errorf("edges touching %s: %w", nodeID, err)
	}
	return edges, nil
}

// SearchNodes finds nodes whose label matches the query, prefix matches
// first, then substring matches, then by recency of attached edges.
func (s *Store) SearchNodes(ctx context.Context, query, nodeType string, limit int) ([]GraphNode, error) {
	if limit <= 0 {
		limit = 20
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, nil
	}
	var (
		clauses = []string{"LOWER(json_extract(props, '$.label')) LIKE ?"}
		args    = []interface{}{"%" + needle + "%"}
	)
	if nodeType != "" {
		clauses = append(clauses, "node_type = ?")
		args = append(args, nodeType)
	}
	sqlQuery := `SELECT gn.* FROM graph_node gn
                 LEFT JOIN (
                        SELECT node_id, MAX(valid_from) AS last_edge FROM (
                                SELECT from_node AS node_id, valid_from FROM graph_edge
                                UNION ALL
                                SELECT to_node AS node_id, valid_from FROM graph_edge
                        ) GROUP BY node_id
                 ) le ON le.node_id = gn.node_id
                 WHERE ` + strings.Join(clauses, " AND ") + `
                 ORDER BY
                        CASE WHEN LOWER(json_extract(gn.props, '$.label')) LIKE ? THEN 0 ELSE 1 END,
                        COALESCE(le.last_edge, '') DESC,
                        gn.node_id
                 LIMIT ?`
	args = append(args, needle+"%", limit)
	var nodes []GraphNode
	if err := s.db.SelectContext(ctx, &nodes, sqlQuery, args...); err != nil {
		return nil, fmt.Errorf("search nodes: %w", err)
	}
	return nodes, nil
}

// CountNodes returns per-type graph node counts.
func (s *Store) CountNodes(ctx context.Context) (map[string]int, error) {
	rows := []struct {
		NodeType string `db:"node_type"`
		Count    int    `db:"count"`
	}{}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT node_type, COUNT(*) AS count FROM graph_node GROUP BY node_type`)
	if err != nil {
		return nil, fmt.Errorf("count nodes: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.NodeType] = row.Count
	}
	return counts, nil
}

// PruneOrphanEntities garbage-collects entity nodes with no remaining edges.
func (s *Store) PruneOrphanEntities(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM graph_node
                 WHERE node_id LIKE 'ent:%'
                   AND node_id NOT IN (SELECT from_node FROM graph_edge)
                   AND node_id NOT IN (SELECT to_node FROM graph_edge)`)
	if err != nil {
		return 0, fmt.Errorf("prune entities: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}

// TopMentionedEntities returns entity node ids ranked by the number of
// MENTIONS edges pointing at them since the given timestamp.
func (s *Store) TopMentionedEntities(ctx context.Context, since string, limit int) ([]EntityMentions, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []EntityMentions
	err := s.db.SelectContext(ctx, &rows,
		`SELECT ge.to_node AS node_id,
                        COALESCE(json_extract(gn.props, '$.label'), ge.to_node) AS label,
                        COUNT(*) AS mentions
                 FROM graph_edge ge
                 JOIN graph_node gn ON gn.node_id = ge.to_node
                 WHERE ge.edge_type = 'MENTIONS' AND ge.valid_from >= ?
                 GROUP BY ge.to_node
                 ORDER BY mentions DESC, ge.to_node
                 LIMIT ?`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("top entities: %w", err)
	}
	return rows, nil
}

// EntityMentions is an entity with its mention count inside a window.
type EntityMentions struct {
	NodeID   string `db:"node_id" json:"node_id"`
	Label    string `db:"label" json:"label"`
	Mentions int    `db:"mentions" json:"mentions"`
}
