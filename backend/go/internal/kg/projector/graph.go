package projector

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	kgneo4j "LegisGraph/backend/go/internal/database/neo4j"
	"LegisGraph/backend/go/internal/kgerrors"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Node is the projection of one entity's current view.
type Node struct {
	ID    string            `json:"id"`
	Type  string            `json:"type"`
	Seq   int64             `json:"seq"`
	Props map[string]string `json:"props"`
	Edges []Edge            `json:"edges,omitempty"`
}

// Edge is an outgoing relationship. Slot identifies it across updates.
type Edge struct {
	Label  string `json:"label"`
	Target string `json:"target"`
	Slot   string `json:"slot"`
}

// Neighbor is an entity adjacent to the queried one.
type Neighbor struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Label     string            `json:"label"`
	Direction string            `json:"direction"`
	Props     map[string]string `json:"props,omitempty"`
}

// Neighborhood is an entity with its adjacent entities.
type Neighborhood struct {
	Node      *Node      `json:"node"`
	Neighbors []Neighbor `json:"neighbors"`
}

// GraphStore is the derived graph. UpsertNode must ignore nodes whose Seq is
// not newer than the stored one.
type GraphStore interface {
	UpsertNode(ctx context.Context, n Node) (applied bool, err error)
	Reset(ctx context.Context) error
	Neighborhood(ctx context.Context, id string, limit int) (Neighborhood, error)
}

var identifier = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Constraints are created once at startup.
var Constraints = []string{
	"CREATE CONSTRAINT entity_id IF NOT EXISTS FOR (n:Entity) REQUIRE n.id IS UNIQUE",
}

// Neo4jGraph implements GraphStore on Neo4j.
type Neo4jGraph struct {
	client *kgneo4j.Neo4jClient
}

func NewNeo4jGraph(client *kgneo4j.Neo4jClient) *Neo4jGraph {
	return &Neo4jGraph{client: client}
}

// UpsertNode replaces the node's properties, type label and outgoing edges in
// one transaction.
func (g *Neo4jGraph) UpsertNode(ctx context.Context, n Node) (bool, error) {
	if !identifier.MatchString(n.Type) {
		return false, kgerrors.Invariant("invalid node label %q", n.Type)
	}
	for _, e := range n.Edges {
		if !identifier.MatchString(e.Label) {
			return false, kgerrors.Invariant("invalid relationship type %q", e.Label)
		}
	}

	res, err := g.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		cur, err := tx.Run(ctx, `MERGE (n:Entity {id: $id}) RETURN coalesce(n.seq, -1) AS seq`, map[string]interface{}{"id": n.ID})
		if err != nil {
			return false, err
		}
		rec, err := cur.Single(ctx)
		if err != nil {
			return false, err
		}
		stored, _ := rec.Get("seq")
		if s, ok := stored.(int64); ok && s >= n.Seq {
			return false, nil
		}

		props := make(map[string]interface{}, len(n.Props)+3)
		for k, v := range n.Props {
			props[k] = v
		}
		props["id"], props["seq"], props["type"] = n.ID, n.Seq, n.Type
		if err := run(ctx, tx, fmt.Sprintf("MATCH (n:Entity {id: $id}) SET n = $props, n:`%s`", n.Type),
			map[string]interface{}{"id": n.ID, "props": props}); err != nil {
			return false, err
		}

		slots := make([]string, 0, len(n.Edges))
		byLabel := make(map[string][]map[string]interface{})
		for _, e := range n.Edges {
			slots = append(slots, e.Slot)
			byLabel[e.Label] = append(byLabel[e.Label], map[string]interface{}{"target": e.Target, "slot": e.Slot})
		}
		if err := run(ctx, tx, `MATCH (n:Entity {id: $id})-[r]->() WHERE r.slot IS NULL OR NOT r.slot IN $slots DELETE r`,
			map[string]interface{}{"id": n.ID, "slots": slots}); err != nil {
			return false, err
		}
		labels := make([]string, 0, len(byLabel))
		for l := range byLabel {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		for _, label := range labels {
			q := fmt.Sprintf(`MATCH (n:Entity {id: $id})
UNWIND $edges AS e
MERGE (m:Entity {id: e.target})
MERGE (n)-[r:%s {slot: e.slot}]->(m)`, "`"+label+"`")
			if err := run(ctx, tx, q, map[string]interface{}{"id": n.ID, "edges": byLabel[label]}); err != nil {
				return false, err
			}
		}
		return true, nil
	})
	if err != nil {
		return false, kgerrors.Transient(err, "upsert graph node")
	}
	applied, _ := res.(bool)
	return applied, nil
}

// Reset removes every projected node.
func (g *Neo4jGraph) Reset(ctx context.Context) error {
	_, err := g.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return nil, run(ctx, tx, `MATCH (n:Entity) DETACH DELETE n`, nil)
	})
	return kgerrors.Transient(err, "reset graph")
}

// Neighborhood reads the node and up to limit adjacent nodes.
func (g *Neo4jGraph) Neighborhood(ctx context.Context, id string, limit int) (Neighborhood, error) {
	res, err := g.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		out := Neighborhood{}
		cur, err := tx.Run(ctx, `MATCH (n:Entity {id: $id}) RETURN properties(n) AS props`, map[string]interface{}{"id": id})
		if err != nil {
			return nil, err
		}
		if cur.Next(ctx) {
			raw, _ := cur.Record().Get("props")
			node := nodeFromProps(raw)
			out.Node = &node
		}
		if err := cur.Err(); err != nil {
			return nil, err
		}
		if out.Node == nil {
			return out, nil
		}

		cur, err = tx.Run(ctx, `MATCH (n:Entity {id: $id})-[r]-(m:Entity)
RETURN type(r) AS label, startNode(r) = n AS outgoing, properties(m) AS props
ORDER BY label, m.id
LIMIT $limit`, map[string]interface{}{"id": id, "limit": limit})
		if err != nil {
			return nil, err
		}
		for cur.Next(ctx) {
			rec := cur.Record()
			label, _ := rec.Get("label")
			outgoing, _ := rec.Get("outgoing")
			raw, _ := rec.Get("props")
			m := nodeFromProps(raw)
			dir := "in"
			if o, _ := outgoing.(bool); o {
				dir = "out"
			}
			l, _ := label.(string)
			out.Neighbors = append(out.Neighbors, Neighbor{ID: m.ID, Type: m.Type, Label: l, Direction: dir, Props: m.Props})
		}
		return out, cur.Err()
	})
	if err != nil {
		return Neighborhood{}, kgerrors.Transient(err, "read neighborhood")
	}
	return res.(Neighborhood), nil
}

func run(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]interface{}) error {
	res, err := tx.Run(ctx, query, params)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

func nodeFromProps(raw interface{}) Node {
	props, _ := raw.(map[string]interface{})
	n := Node{Props: make(map[string]string)}
	for k, v := range props {
		switch k {
		case "id":
			n.ID, _ = v.(string)
		case "type":
			n.Type, _ = v.(string)
		case "seq":
			n.Seq, _ = v.(int64)
		default:
			n.Props[k] = fmt.Sprint(v)
		}
	}
	return n
}
