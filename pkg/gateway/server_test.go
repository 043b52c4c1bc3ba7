package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dotsetgreg/dotconnect/pkg/bus"
	"github.com/dotsetgreg/dotconnect/pkg/config"
	"github.com/dotsetgreg/dotconnect/pkg/intent"
	"github.com/dotsetgreg/dotconnect/pkg/providers"
	"github.com/dotsetgreg/dotconnect/pkg/session"
)

// echoProvider scores everything as plain chat and echoes a canned reply.
type echoProvider struct {
	reply string
}

func (p *echoProvider) Chat(ctx context.Context, messages []providers.Message, model string, options map[string]interface{}) (*providers.LLMResponse, error) {
	system := ""
	if len(messages) > 0 && messages[0].Role == "system" {
		system = messages[0].Content
	}
	if strings.Contains(system, "intent") {
		return &providers.LLMResponse{Content: "0"}, nil
	}
	return &providers.LLMResponse{Content: p.reply}, nil
}

func (p *echoProvider) GetDefaultModel() string { return "stub/model" }

type noopDialer struct{}

func (noopDialer) StartCall(ctx context.Context, profile session.UserProfile, returning bool) error {
	return nil
}

type noopMatchmaker struct{}

func (noopMatchmaker) RequestIntroduction(ctx context.Context, userID string) (intent.Introduction, error) {
	return intent.Introduction{}, nil
}
func (noopMatchmaker) StoredIntroduction(ctx context.Context, matchID string) (string, error) {
	return "", nil
}
func (noopMatchmaker) MarkDelivered(ctx context.Context, matchID string) error { return nil }

type gatewayFixture struct {
	server     *Server
	dispatcher *Dispatcher
	bus        *bus.MessageBus
	manager    *session.Manager
	store      *session.SQLiteStore
}

func newGatewayFixture(t *testing.T, reply string) gatewayFixture {
	t.Helper()
	ctx := context.Background()

	store, err := session.NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.UpsertUser(ctx, session.UserProfile{
		ID: "u1", Phone: "+15551230001", Name: "Ada", Bio: "Chess player",
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	cache := session.NewLRUCache(16, time.Minute)
	mgr := session.NewManager(session.ManagerConfig{AppendRetries: 2, RetryBackoff: 5 * time.Millisecond}, store, store, cache, nil)
	router := intent.NewRouter(&echoProvider{reply: reply}, mgr, noopDialer{}, noopMatchmaker{}, "stub/model", 20)

	messageBus := bus.NewMessageBus()
	t.Cleanup(messageBus.Close)

	srv := NewServer(config.GatewayConfig{Host: "127.0.0.1", Port: 0}, messageBus, mgr)
	disp := NewDispatcher(messageBus, mgr, store, router)

	return gatewayFixture{server: srv, dispatcher: disp, bus: messageBus, manager: mgr, store: store}
}

func postWebhook(t *testing.T, handler http.Handler, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestWebhook_PublishesInbound(t *testing.T) {
	f := newGatewayFixture(t, "hello")

	rr := postWebhook(t, f.server.Handler(), url.Values{
		"From":       {"whatsapp:+15551230001"},
		"Body":       {"hi there"},
		"MessageSid": {"SM123"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Fatalf("expected empty body, got %q", rr.Body.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := f.bus.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("inbound message never published")
	}
	if msg.Identity != "+15551230001" || msg.Text != "hi there" || msg.MessageSID != "SM123" {
		t.Fatalf("unexpected inbound message: %+v", msg)
	}
}

func TestWebhook_AlwaysAcknowledges(t *testing.T) {
	f := newGatewayFixture(t, "hello")

	// Missing sender still gets a 200 so the provider does not retry.
	rr := postWebhook(t, f.server.Handler(), url.Values{"Body": {"hi"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for missing sender, got %d", rr.Code)
	}

	rr = postWebhook(t, f.server.Handler(), url.Values{"From": {"whatsapp:+1555"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for missing body, got %d", rr.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, ok := f.bus.ConsumeInbound(ctx); ok {
		t.Fatal("invalid webhook must not publish inbound messages")
	}
}

func TestWebhook_RejectsGet(t *testing.T) {
	f := newGatewayFixture(t, "hello")
	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestHealth(t *testing.T) {
	f := newGatewayFixture(t, "hello")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestCloseSession_Admin(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, "hello")

	rec, err := f.manager.GetOrCreate(ctx, "+15551230001")
	if err != nil {
		t.Fatalf("get_or_create: %v", err)
	}

	payload, _ := json.Marshal(map[string]string{"session_id": rec.ID})
	req := httptest.NewRequest(http.MethodPost, "/sessions/close", bytes.NewReader(payload))
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	got, err := f.manager.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != session.StatusClosed {
		t.Fatalf("session not closed: %s", got.Status)
	}
}

func TestCloseSession_NotFound(t *testing.T) {
	f := newGatewayFixture(t, "hello")

	payload, _ := json.Marshal(map[string]string{"session_id": "nope_123"})
	req := httptest.NewRequest(http.MethodPost, "/sessions/close", bytes.NewReader(payload))
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestDispatcher_RepliesThroughBus(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, "Nice to hear from you!")

	f.dispatcher.Handle(ctx, bus.InboundMessage{Identity: "+15551230001", Text: "hello"})

	consumeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	out, ok := f.bus.SubscribeOutbound(consumeCtx)
	if !ok {
		t.Fatal("no outbound reply published")
	}
	if out.Identity != "+15551230001" || out.Text != "Nice to hear from you!" {
		t.Fatalf("unexpected outbound message: %+v", out)
	}

	rec, err := f.manager.GetOrCreate(ctx, "+15551230001")
	if err != nil {
		t.Fatalf("get_or_create: %v", err)
	}
	if len(rec.Messages) != 2 {
		t.Fatalf("expected persisted conversation, got %d messages", len(rec.Messages))
	}
}

func TestDispatcher_UnknownIdentityFallback(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t, "hello")

	f.dispatcher.Handle(ctx, bus.InboundMessage{Identity: "+19998887777", Text: "hi"})

	consumeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	out, ok := f.bus.SubscribeOutbound(consumeCtx)
	if !ok {
		t.Fatal("no fallback reply published")
	}
	if out.Text != unknownIdentityReply {
		t.Fatalf("unexpected fallback reply %q", out.Text)
	}

	// No session must be created for an unknown sender.
	if _, err := f.manager.GetOrCreate(ctx, "+19998887777"); err == nil {
		t.Fatal("expected unknown identity error")
	}
}

// brokenStore fails every append, simulating a persistence outage.
type brokenStore struct {
	session.Store
}

func (brokenStore) AppendMessages(ctx context.Context, id string, msgs []session.Message, lastActivityMS int64) error {
	return errors.New("disk full")
}

func TestDispatcher_StoreFailureStillReplies(t *testing.T) {
	ctx := context.Background()

	store, err := session.NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.UpsertUser(ctx, session.UserProfile{
		ID: "u1", Phone: "+15551230001", Name: "Ada", Bio: "Chess player",
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	cache := session.NewLRUCache(16, time.Minute)
	mgr := session.NewManager(session.ManagerConfig{AppendRetries: 2, RetryBackoff: 5 * time.Millisecond}, brokenStore{Store: store}, store, cache, nil)
	router := intent.NewRouter(&echoProvider{reply: "hello"}, mgr, noopDialer{}, noopMatchmaker{}, "stub/model", 20)

	messageBus := bus.NewMessageBus()
	t.Cleanup(messageBus.Close)
	disp := NewDispatcher(messageBus, mgr, store, router)

	// A known sender whose message cannot be persisted must still hear back.
	disp.Handle(ctx, bus.InboundMessage{Identity: "+15551230001", Text: "hi"})

	consumeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	out, ok := messageBus.SubscribeOutbound(consumeCtx)
	if !ok {
		t.Fatal("no reply published despite store failure")
	}
	if out.Text != errorReply {
		t.Fatalf("expected the generic error reply, got %q", out.Text)
	}
	if out.Identity != "+15551230001" {
		t.Fatalf("reply addressed to %q", out.Identity)
	}
}

func TestDispatcher_StartStop(t *testing.T) {
	f := newGatewayFixture(t, "hello")
	f.dispatcher.Start()
	f.dispatcher.Stop()
	f.dispatcher.Stop()
}
