package vectorsync

import (
	"context"
	"strconv"
	"strings"
	"time"

	"LegisGraph/backend/go/internal/database/milvus"
	"LegisGraph/backend/go/internal/kgerrors"
)

// Row is one embedded chunk as stored in the vector index.
type Row struct {
	ID         string
	EntityID   string
	EntityType string
	FactID     string
	Attribute  string
	ValidFrom  time.Time
	RetiredAt  *time.Time
	Vector     []float32
}

// Hit is a ranked match returned by the index.
type Hit struct {
	ID    string
	Score float32
}

// Filter restricts a search. Without AsOf only unretired rows match; with
// AsOf rows with ValidFrom <= AsOf < RetiredAt match as well.
type Filter struct {
	EntityTypes []string
	Attributes  []string
	AsOf        *time.Time
}

// Index is the approximate-nearest-neighbour store. Upsert replaces rows by ID.
type Index interface {
	Upsert(ctx context.Context, rows []Row) error
	Search(ctx context.Context, vector []float32, k int, f Filter) ([]Hit, error)
	Reset(ctx context.Context) error
}

// MilvusIndex stores rows in the vector-entry collection. Timestamps are Unix
// microseconds and retired_at 0 means not retired.
type MilvusIndex struct {
	client *milvus.MilvusClient
}

func NewMilvusIndex(client *milvus.MilvusClient) *MilvusIndex {
	return &MilvusIndex{client: client}
}

func (m *MilvusIndex) Upsert(ctx context.Context, rows []Row) error {
	out := make([]milvus.VectorRow, len(rows))
	for i, r := range rows {
		out[i] = milvus.VectorRow{
			ID:         r.ID,
			EntityID:   r.EntityID,
			EntityType: r.EntityType,
			FactID:     r.FactID,
			Attribute:  r.Attribute,
			ValidFrom:  r.ValidFrom.UnixMicro(),
			Embedding:  r.Vector,
		}
		if r.RetiredAt != nil {
			out[i].RetiredAt = r.RetiredAt.UnixMicro()
		}
	}
	return kgerrors.Transient(m.client.Upsert(ctx, out), "upsert vector rows")
}

func (m *MilvusIndex) Search(ctx context.Context, vector []float32, k int, f Filter) ([]Hit, error) {
	res, err := m.client.Search(ctx, vector, k, FilterExpr(f))
	if err != nil {
		return nil, kgerrors.Transient(err, "search vector index")
	}
	hits := make([]Hit, len(res))
	for i, h := range res {
		hits[i] = Hit{ID: h.ID, Score: h.Score}
	}
	return hits, nil
}

func (m *MilvusIndex) Reset(ctx context.Context) error {
	if err := m.client.DropCollection(ctx); err != nil {
		return kgerrors.Transient(err, "drop vector collection")
	}
	return kgerrors.Transient(m.client.EnsureCollection(ctx), "recreate vector collection")
}

// FilterExpr renders f as a Milvus boolean expression.
func FilterExpr(f Filter) string {
	var parts []string
	if f.AsOf == nil {
		parts = append(parts, milvus.FieldRetiredAt+" == 0")
	} else {
		t := strconv.FormatInt(f.AsOf.UnixMicro(), 10)
		parts = append(parts,
			milvus.FieldValidFrom+" <= "+t,
			"("+milvus.FieldRetiredAt+" == 0 || "+milvus.FieldRetiredAt+" > "+t+")")
	}
	if len(f.EntityTypes) > 0 {
		parts = append(parts, milvus.FieldEntityType+" in "+quoteList(f.EntityTypes))
	}
	if len(f.Attributes) > 0 {
		parts = append(parts, milvus.FieldAttribute+" in "+quoteList(f.Attributes))
	}
	return strings.Join(parts, " && ")
}

func quoteList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
