package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// GraphExporter writes episodic traces to Neo4j as
// (:Persona)-[:EXPERIENCED]->(:Event)-[:NEXT]->(:Event) chains so runs can
// be explored with Cypher after a simulation.
type GraphExporter struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewGraphExporter creates a Neo4j driver.
func NewGraphExporter(uri, user, password string, logger *zap.Logger) (*GraphExporter, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &GraphExporter{driver: driver, logger: logger}, nil
}

// Close shuts down the Neo4j driver.
func (g *GraphExporter) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// Ping verifies the Neo4j connection.
func (g *GraphExporter) Ping(ctx context.Context) error {
	return g.driver.VerifyConnectivity(ctx)
}

// eventNodeID is stable per (run, persona, position) so re-exporting a
// trace updates nodes instead of duplicating them.
func eventNodeID(runID, persona string, seq int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s/%s/%d", runID, persona, seq))).String()
}

// ExportTrace merges the persona node and one node per event, linked in
// order. The omission sentinel is skipped.
func (g *GraphExporter) ExportTrace(ctx context.Context, runID, persona string, events []Event) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx,
			`MERGE (p:Persona {name: $name})`,
			map[string]any{"name": persona}); err != nil {
			return nil, err
		}
		prev := ""
		seq := 0
		for _, e := range events {
			if e.IsOmission() {
				continue
			}
			id := eventNodeID(runID, persona, seq)
			ts := ""
			if e.Timestamp != nil {
				ts = e.Timestamp.Format(engramTime)
			}
			if _, err := tx.Run(ctx,
				`MATCH (p:Persona {name: $name})
				 MERGE (e:Event {id: $id})
				 SET e.run_id = $runId, e.seq = $seq, e.type = $type,
				     e.role = $role, e.content = $content, e.timestamp = $ts
				 MERGE (p)-[:EXPERIENCED]->(e)`,
				map[string]any{
					"name":    persona,
					"id":      id,
					"runId":   runID,
					"seq":     seq,
					"type":    string(e.Type),
					"role":    e.Role,
					"content": string(e.Content),
					"ts":      ts,
				}); err != nil {
				return nil, err
			}
			if prev != "" {
				if _, err := tx.Run(ctx,
					`MATCH (a:Event {id: $prev}), (b:Event {id: $id})
					 MERGE (a)-[:NEXT]->(b)`,
					map[string]any{"prev": prev, "id": id}); err != nil {
					return nil, err
				}
			}
			prev = id
			seq++
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("export trace %s: %w", persona, err)
	}
	g.logger.Debug("trace exported", zap.String("persona", persona), zap.String("run", runID), zap.Int("events", len(events)))
	return nil
}

// CountEvents returns how many event nodes a persona has in a run.
func (g *GraphExporter) CountEvents(ctx context.Context, runID, persona string) (int, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (:Persona {name: $name})-[:EXPERIENCED]->(e:Event {run_id: $runId})
		 RETURN count(e) AS n`,
		map[string]any{"name": persona, "runId": runID})
	if err != nil {
		return 0, err
	}
	rec, err := result.Single(ctx)
	if err != nil {
		return 0, err
	}
	n, _ := rec.Get("n")
	count, _ := n.(int64)
	return int(count), nil
}
