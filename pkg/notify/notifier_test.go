package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dotsetgreg/dotconnect/pkg/session"
)

func testTranscript() session.Transcript {
	return session.Transcript{
		SessionID: "u1_1700000000",
		UserID:    "u1",
		Identity:  "+15551230001",
		Messages: []session.Message{
			{Role: "user", Content: "hi", TimestampMS: 1},
			{Role: "assistant", Content: "hello", TimestampMS: 2},
		},
	}
}

func newTestSideQueue(t *testing.T) *SideQueue {
	t.Helper()
	q, err := NewSideQueue(t.TempDir())
	if err != nil {
		t.Fatalf("new side queue: %v", err)
	}
	return q
}

func TestNotifier_DeliversTranscript(t *testing.T) {
	var got atomic.Pointer[Envelope]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		got.Store(&env)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	queue := newTestSideQueue(t)
	n := NewNotifier(Config{URL: srv.URL, MaxAttempts: 3, BaseBackoff: 10 * time.Millisecond}, queue)
	defer n.Stop()

	n.EnqueueTranscript(testTranscript())

	deadline := time.Now().Add(2 * time.Second)
	for got.Load() == nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	env := got.Load()
	if env == nil {
		t.Fatal("transcript never arrived")
	}
	if env.SessionID != "u1_1700000000" || env.Identity != "+15551230001" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if len(env.Transcript) != 2 {
		t.Fatalf("expected 2 transcript messages, got %d", len(env.Transcript))
	}

	files, err := queue.List()
	if err != nil {
		t.Fatalf("list side queue: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("successful delivery must not be side-queued, found %v", files)
	}
}

func TestNotifier_RetriesThenSideQueues(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	queue := newTestSideQueue(t)
	n := NewNotifier(Config{URL: srv.URL, MaxAttempts: 3, BaseBackoff: 5 * time.Millisecond}, queue)
	defer n.Stop()

	n.EnqueueTranscript(testTranscript())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if files, _ := queue.List(); len(files) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := attempts.Load(); got != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", got)
	}

	files, err := queue.List()
	if err != nil {
		t.Fatalf("list side queue: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected exactly one side queue file, got %v", files)
	}

	env, err := queue.Read(files[0])
	if err != nil {
		t.Fatalf("read side queue file: %v", err)
	}
	if env.SessionID != "u1_1700000000" || len(env.Transcript) != 2 {
		t.Fatalf("parked envelope is incomplete: %+v", env)
	}
}

func TestReplayer_ReplayOnce(t *testing.T) {
	var ok atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ok.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	queue := newTestSideQueue(t)
	n := NewNotifier(Config{URL: srv.URL, MaxAttempts: 1, BaseBackoff: time.Millisecond}, queue)
	defer n.Stop()

	env := Envelope{ID: "ntf-test", SessionID: "u1_1700000000", Identity: "+15551230001"}
	if err := queue.Write(env); err != nil {
		t.Fatalf("park envelope: %v", err)
	}

	replayer := NewReplayer("* * * * *", n, queue)

	// Downstream still failing: the file must stay parked.
	replayer.ReplayOnce(context.Background())
	files, _ := queue.List()
	if len(files) != 1 {
		t.Fatalf("expected file to remain parked, got %v", files)
	}

	ok.Store(true)
	replayer.ReplayOnce(context.Background())
	files, _ = queue.List()
	if len(files) != 0 {
		t.Fatalf("expected file removed after replay, got %v", files)
	}
}

func TestSideQueue_RoundTrip(t *testing.T) {
	queue := newTestSideQueue(t)

	env := Envelope{
		ID:        "ntf-abc",
		SessionID: "u9_1700000001",
		UserID:    "u9",
		Identity:  "+15559990000",
		Transcript: []session.Message{
			{Role: "user", Content: "parked", TimestampMS: 5},
		},
	}
	if err := queue.Write(env); err != nil {
		t.Fatalf("write: %v", err)
	}

	files, err := queue.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected one file, got %v", files)
	}

	got, err := queue.Read(files[0])
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.SessionID != env.SessionID || got.Transcript[0].Content != "parked" {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if err := queue.Remove(files[0]); err != nil {
		t.Fatalf("remove: %v", err)
	}
	files, _ = queue.List()
	if len(files) != 0 {
		t.Fatalf("expected empty queue, got %v", files)
	}
}
