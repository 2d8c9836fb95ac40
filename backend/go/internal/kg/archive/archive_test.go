package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"LegisGraph/backend/go/internal/kg/coordinator"
	"LegisGraph/backend/go/internal/kg/follower"
	"LegisGraph/backend/go/internal/kg/ledger"
	"LegisGraph/backend/go/internal/kgerrors"
	"LegisGraph/backend/go/internal/models"
	"LegisGraph/backend/go/internal/testutil"

	"github.com/minio/minio-go/v7"
)

type memObjects struct {
	objects map[string][]byte
	fail    bool
}

func (m *memObjects) PutObject(_ context.Context, bucket, name string, r io.Reader, size int64, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	if m.fail {
		return minio.UploadInfo{}, errors.New("connection refused")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if int64(len(data)) != size {
		return minio.UploadInfo{}, errors.New("short body")
	}
	m.objects[bucket+"/"+name] = data
	return minio.UploadInfo{Bucket: bucket, Key: name, Size: size}, nil
}

func TestExportWritesNewFactsOnce(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	store := ledger.NewGormStore(db)
	coord := coordinator.New(store, coordinator.NewLocalLocker(), nil, testutil.Logger(t))
	objects := &memObjects{objects: map[string][]byte{}}
	a := New(store, follower.NewGormCursorStore(db), objects, "kg-archive", testutil.Logger(t))

	at := time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC)
	apply := func(value string, at time.Time) {
		if _, err := coord.Apply(ctx, "leg-1", []coordinator.Proposal{{Kind: models.AttributeFact, Attribute: "party", Slot: "party",
			Value: value, SourceID: "govinfo", ValidFrom: at, ContentHash: value + at.String()}}); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}
	apply("Democrat", at)
	apply("Independent", at.AddDate(1, 0, 0))

	seg, err := a.Export(ctx)
	if err != nil || seg == nil {
		t.Fatalf("Export: %v %v", seg, err)
	}
	if seg.FromOffset != 0 || seg.ToOffset != 2 || seg.Facts != 2 || seg.Object != ObjectName(0, 2) {
		t.Errorf("unexpected segment %+v", seg)
	}
	data := objects.objects["kg-archive/"+seg.Object]
	sc := bufio.NewScanner(bytes.NewReader(data))
	var values []string
	for sc.Scan() {
		var f models.Fact
		if err := json.Unmarshal(sc.Bytes(), &f); err != nil {
			t.Fatalf("line is not a fact: %v", err)
		}
		values = append(values, f.Value)
	}
	if len(values) != 2 || values[0] != "Democrat" || values[1] != "Independent" {
		t.Errorf("unexpected archived values %v", values)
	}

	if seg, err := a.Export(ctx); err != nil || seg != nil {
		t.Errorf("nothing new should produce no segment, got %+v %v", seg, err)
	}

	apply("Democrat", at.AddDate(2, 0, 0))
	objects.fail = true
	if _, err := a.Export(ctx); !kgerrors.IsTransient(err) {
		t.Fatalf("expected transient upload error, got %v", err)
	}
	objects.fail = false
	seg, err = a.Export(ctx)
	if err != nil || seg == nil || seg.FromOffset != 2 || seg.ToOffset != 3 {
		t.Errorf("failed upload must be retried from the same cursor, got %+v %v", seg, err)
	}
}
