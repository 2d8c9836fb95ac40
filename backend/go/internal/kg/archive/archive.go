// Package archive exports ledger segments to object storage as JSON lines.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"LegisGraph/backend/go/internal/kg/follower"
	"LegisGraph/backend/go/internal/kg/ledger"
	"LegisGraph/backend/go/internal/kgerrors"
	"LegisGraph/backend/go/pkg/logger"

	"github.com/minio/minio-go/v7"
)

// CursorName is the cursor that records the last archived offset.
const CursorName = "archive"

const pageSize = 500

// ObjectPutter is satisfied by *minio.Client.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucket, name string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Segment describes one exported object.
type Segment struct {
	Bucket     string `json:"bucket"`
	Object     string `json:"object"`
	FromOffset int64  `json:"fromOffset"`
	ToOffset   int64  `json:"toOffset"`
	Facts      int    `json:"facts"`
	Bytes      int64  `json:"bytes"`
}

// Archiver writes every fact not yet archived into a new object. Facts are
// immutable apart from closing, so a segment is a faithful copy of the rows
// as they were when exported.
type Archiver struct {
	ledger  ledger.Store
	cursors follower.CursorStore
	objects ObjectPutter
	bucket  string
	log     *logger.Logger

	mu sync.Mutex
}

func New(store ledger.Store, cursors follower.CursorStore, objects ObjectPutter, bucket string, log *logger.Logger) *Archiver {
	return &Archiver{ledger: store, cursors: cursors, objects: objects, bucket: bucket, log: log.Component("archive")}
}

// ObjectName is the object key of the segment (from, to].
func ObjectName(from, to int64) string {
	return fmt.Sprintf("ledger/%020d-%020d.jsonl", from, to)
}

// Export archives facts after the archive cursor. It returns nil when there
// is nothing new.
func (a *Archiver) Export(ctx context.Context) (*Segment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	from, err := a.cursors.Load(ctx, CursorName)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	last, n := from, 0
	for {
		facts, err := a.ledger.Since(ctx, last, pageSize)
		if err != nil {
			return nil, err
		}
		for _, f := range facts {
			if err := enc.Encode(f); err != nil {
				return nil, fmt.Errorf("encode fact %s: %w", f.ID, err)
			}
			last = f.Offset
			n++
		}
		if len(facts) < pageSize {
			break
		}
	}
	if n == 0 {
		return nil, nil
	}

	seg := &Segment{Bucket: a.bucket, Object: ObjectName(from, last), FromOffset: from, ToOffset: last, Facts: n, Bytes: int64(buf.Len())}
	if _, err := a.objects.PutObject(ctx, a.bucket, seg.Object, &buf, seg.Bytes, minio.PutObjectOptions{
		ContentType: "application/x-ndjson",
	}); err != nil {
		return nil, kgerrors.Transient(err, "upload ledger segment")
	}
	if err := a.cursors.Save(ctx, CursorName, last); err != nil {
		return nil, err
	}
	a.log.WithPayload(map[string]interface{}{
		"object": seg.Object,
		"facts":  seg.Facts,
		"bytes":  seg.Bytes,
	}).Info("ledger segment archived")
	return seg, nil
}
