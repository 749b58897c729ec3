package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
)

func newTestStore() (*Store, *simpleMock) {
	mock := newSimpleMock()
	s := NewStore(mock, "feed-events-ledger", 48*time.Hour)
	s.nowFunc = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return s, mock
}

func TestCreateIfNotExists_Get_MarkDone_MarkFailed(t *testing.T) {
	s, mock := newTestStore()
	ctx := context.Background()
	id := "evt-1"

	created, err := s.CreateIfNotExists(ctx, id, "post.deleted")
	if err != nil {
		t.Fatalf("CreateIfNotExists error: %v", err)
	}
	if !created {
		t.Fatalf("expected created=true")
	}

	// second create should return created=false (exists)
	created2, err := s.CreateIfNotExists(ctx, id, "post.deleted")
	if err != nil {
		t.Fatalf("second CreateIfNotExists error: %v", err)
	}
	if created2 {
		t.Fatalf("expected created=false on duplicate create")
	}

	rec, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec == nil {
		t.Fatalf("expected record, got nil")
	}
	if rec.Status != StatusInProgress || rec.EventType != "post.deleted" || rec.Attempts != 1 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if want := time.Unix(1_700_000_000, 0).Add(48 * time.Hour).Unix(); rec.ExpiresAt != want {
		t.Fatalf("expires_at = %d, want %d", rec.ExpiresAt, want)
	}

	if err := s.MarkDone(ctx, id, `{"deleted_count":3}`); err != nil {
		t.Fatalf("MarkDone error: %v", err)
	}
	item := mock.table[id]
	if got := strAttr(item["status"]); got != StatusDone {
		t.Fatalf("status not updated to DONE, got %s", got)
	}
	if got := strAttr(item["result"]); got != `{"deleted_count":3}` {
		t.Fatalf("result not set correctly: %s", got)
	}

	if err := s.MarkFailed(ctx, id, "partial cleanup"); err != nil {
		t.Fatalf("MarkFailed error: %v", err)
	}
	item = mock.table[id]
	if got := strAttr(item["status"]); got != StatusFailed {
		t.Fatalf("status not updated to FAILED, got %s", got)
	}
	if got := strAttr(item["note"]); got != "partial cleanup" {
		t.Fatalf("note not set, got %s", got)
	}
}

func TestGet_Missing(t *testing.T) {
	s, _ := newTestStore()
	rec, err := s.Get(context.Background(), "nope")
	if err != nil || rec != nil {
		t.Fatalf("expected (nil, nil), got (%+v, %v)", rec, err)
	}
}

func TestBegin(t *testing.T) {
	s, mock := newTestStore()
	ctx := context.Background()

	rec, started, err := s.Begin(ctx, "evt-1", "post.created")
	if err != nil || !started || rec != nil {
		t.Fatalf("first Begin: rec=%+v started=%v err=%v", rec, started, err)
	}

	// An attempt that never finished is claimed again.
	rec, started, err = s.Begin(ctx, "evt-1", "post.created")
	if err != nil || !started {
		t.Fatalf("retry Begin: started=%v err=%v", started, err)
	}
	if rec == nil || rec.Status != StatusInProgress {
		t.Fatalf("expected previous IN_PROGRESS record, got %+v", rec)
	}
	if got := numAttr(mock.table["evt-1"]["attempts"]); got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}

	if err := s.MarkDone(ctx, "evt-1", "{}"); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	rec, started, err = s.Begin(ctx, "evt-1", "post.created")
	if err != nil {
		t.Fatalf("Begin after done: %v", err)
	}
	if started || !rec.Done() {
		t.Fatalf("done event must be skipped, started=%v rec=%+v", started, rec)
	}
	if mock.updateCalls != 2 {
		t.Fatalf("expected no update for a done event, got %d updates", mock.updateCalls)
	}
}

func TestBegin_PutError(t *testing.T) {
	s, mock := newTestStore()
	boom := errors.New("table missing")
	mock.putErr = boom

	_, started, err := s.Begin(context.Background(), "evt-1", "post.created")
	if !errors.Is(err, boom) || started {
		t.Fatalf("expected wrapped put error, got started=%v err=%v", started, err)
	}
}

func TestBegin_RecordVanishesBetweenCreateAndRead(t *testing.T) {
	s, mock := newTestStore()
	ctx := context.Background()
	if _, _, err := s.Begin(ctx, "evt-1", "post.deleted"); err != nil {
		t.Fatalf("first Begin: %v", err)
	}
	mock.hideOnGet = true

	_, started, err := s.Begin(ctx, "evt-1", "post.deleted")
	if !errors.Is(err, ErrRecordVanished) || started {
		t.Fatalf("expected ErrRecordVanished, got started=%v err=%v", started, err)
	}
	if mock.getCalls != 2 || mock.putCalls != 3 {
		t.Fatalf("expected one extra claim, got puts=%d gets=%d", mock.putCalls, mock.getCalls)
	}
}

func TestAttributevalueMarshal_Unmarshal(t *testing.T) {
	rec := EventRecord{
		EventID:   "e1",
		EventType: "user.deleted",
		Status:    StatusInProgress,
		Attempts:  1,
		CreatedAt: time.Now().Round(time.Second),
		UpdatedAt: time.Now().Round(time.Second),
		ExpiresAt: time.Now().Add(24 * time.Hour).Unix(),
	}
	m, err := attributevalue.MarshalMap(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out EventRecord
	if err := attributevalue.UnmarshalMap(m, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.EventID != rec.EventID || out.Attempts != 1 {
		t.Fatalf("unmarshal mismatch: %+v", out)
	}
}
