package serversession

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oidckit/serversession/backchannel"
	"github.com/oidckit/serversession/rp"
	"github.com/oidckit/serversession/session"
	"github.com/oidckit/serversession/ticket"
)

var testEncryptionKey = []byte("0123456789abcdef0123456789abcdef")

// testClock is a mutable clock shared between a test and its engine.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type tokenCall struct {
	subjectID string
	clientIDs []string
}

type fakeTokenStore struct {
	mu    sync.Mutex
	calls []tokenCall
	err   error
	log   *[]string
}

func (f *fakeTokenStore) RevokeRefreshTokens(_ context.Context, subjectID string, clientIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, tokenCall{subjectID: subjectID, clientIDs: clientIDs})
	if f.log != nil {
		*f.log = append(*f.log, "tokens")
	}
	return f.err
}

type fakeClientStore struct {
	clients []rp.Client
}

func (f *fakeClientStore) GetClients(_ context.Context, ids []string) ([]rp.Client, error) {
	if len(ids) == 0 {
		return f.clients, nil
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []rp.Client
	for _, c := range f.clients {
		if _, ok := want[c.ID]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	sent    []backchannel.Request
	failFor map[string]error
	log     *[]string
}

func (f *fakeNotifier) SendLogoutNotification(_ context.Context, req backchannel.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[req.Client.ID]; ok {
		return err
	}
	f.sent = append(f.sent, req)
	if f.log != nil {
		*f.log = append(*f.log, "notify:"+req.Client.ID)
	}
	return nil
}

type recordingSink struct {
	mu    sync.Mutex
	total int
	calls []int
}

func (r *recordingSink) SessionsEnded(count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total += count
	r.calls = append(r.calls, count)
}

func testConfig() Config {
	return Config{
		Partition: PartitionConfig{ApplicationName: "testapp"},
		Ticket:    TicketConfig{EncryptionKey: testEncryptionKey},
		Cleanup:   CleanupConfig{Enabled: false},
		Backchannel: BackchannelConfig{
			Issuer:     "https://idp.example.com",
			SigningKey: []byte("backchannel-signing-key-material"),
		},
	}
}

func newTestEngine(t *testing.T, mutate func(*Builder)) (*Engine, *testClock) {
	t.Helper()

	clock := newTestClock()
	b := New().
		WithConfig(testConfig()).
		WithClock(clock.Now)
	if mutate != nil {
		mutate(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, clock
}

func loginTicket(subject, sid, name string, expires *time.Time, clientIDs ...string) *ticket.Ticket {
	return &ticket.Ticket{
		Subject:     subject,
		SessionID:   sid,
		DisplayName: name,
		AuthTime:    time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC),
		Expires:     expires,
		ClientIDs:   clientIDs,
	}
}

func TestCreateAndValidateSession(t *testing.T) {
	engine, clock := newTestEngine(t, nil)
	ctx := context.Background()

	key, err := engine.CreateSession(ctx, loginTicket("alice", "sid-1", "Alice", nil, "spa"))
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if key == "" {
		t.Fatal("expected a generated key")
	}

	s, err := engine.GetSession(ctx, key)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if s.SubjectID != "alice" || s.SessionID != "sid-1" || s.DisplayName != "Alice" {
		t.Fatalf("unexpected record: %+v", s)
	}
	if !s.Created.Equal(clock.Now()) || !s.Renewed.Equal(clock.Now()) {
		t.Fatalf("unexpected timestamps: %+v", s)
	}

	tk, err := engine.ValidateSession(ctx, key)
	if err != nil {
		t.Fatalf("ValidateSession failed: %v", err)
	}
	if tk.Subject != "alice" || !tk.HasClient("spa") {
		t.Fatalf("unexpected ticket: %+v", tk)
	}
}

func TestCreateSessionRequiresIdentity(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := engine.CreateSession(ctx, nil); err == nil {
		t.Fatal("expected error for nil ticket")
	}
	if _, err := engine.CreateSession(ctx, loginTicket("", "sid", "", nil)); err == nil {
		t.Fatal("expected error for missing subject")
	}
	if _, err := engine.CreateSession(ctx, loginTicket("alice", "", "", nil)); err == nil {
		t.Fatal("expected error for missing session id")
	}
}

func TestCreateSessionReplacesRepeatedLogin(t *testing.T) {
	engine, clock := newTestEngine(t, nil)
	ctx := context.Background()

	firstKey, err := engine.CreateSession(ctx, loginTicket("alice", "sid-1", "Alice", nil))
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	firstCreated := clock.Now()

	clock.Advance(time.Hour)

	// Same browser session, new login — even by a different subject. The
	// record is replaced in place and keeps its key.
	secondKey, err := engine.CreateSession(ctx, loginTicket("bob", "sid-1", "Bob", nil))
	if err != nil {
		t.Fatalf("repeat CreateSession failed: %v", err)
	}
	if secondKey != firstKey {
		t.Fatalf("expected replacement to keep key %s, got %s", firstKey, secondKey)
	}

	all, err := engine.GetSessions(ctx, session.Filter{})
	if err != nil {
		t.Fatalf("GetSessions failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected a single record, got %d", len(all))
	}
	if all[0].SubjectID != "bob" {
		t.Fatalf("expected the new subject, got %s", all[0].SubjectID)
	}
	if !all[0].Created.After(firstCreated) {
		t.Fatalf("replacement must restart Created: %v", all[0].Created)
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricSessionReplaced] != 1 {
		t.Fatalf("expected 1 replacement counted, got %d", snap.Counters[MetricSessionReplaced])
	}
}

func TestValidateSessionExpiredReadsAsNotFound(t *testing.T) {
	engine, clock := newTestEngine(t, nil)
	ctx := context.Background()

	exp := clock.Now().Add(time.Minute)
	key, err := engine.CreateSession(ctx, loginTicket("alice", "sid-1", "", &exp))
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	clock.Advance(2 * time.Minute)

	if _, err := engine.ValidateSession(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired session, got %v", err)
	}

	// Logical expiration does not delete: physical removal belongs to the
	// cleanup sweep.
	if _, err := engine.GetSession(ctx, key); err != nil {
		t.Fatalf("expired record must still exist: %v", err)
	}
}

func TestValidateSessionCorruptTicketTearsDown(t *testing.T) {
	store := session.NewMemoryStore()
	engine, _ := newTestEngine(t, func(b *Builder) {
		b.WithSessionStore(store)
	})
	ctx := context.Background()

	key, err := engine.CreateSession(ctx, loginTicket("alice", "sid-1", "", nil))
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	// Corrupt the stored blob behind the engine's back.
	rec, err := store.Get(ctx, engine.partition.PartitionKey(), key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	rec.Ticket = []byte("garbage")
	if err := store.Update(ctx, rec); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if _, err := engine.ValidateSession(ctx, key); !errors.Is(err, ErrTicketCorrupt) {
		t.Fatalf("expected ErrTicketCorrupt, got %v", err)
	}

	// The unreadable session is gone: the user is forced to log in again.
	if _, err := engine.GetSession(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected session torn down, got %v", err)
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricTicketRejected] != 1 {
		t.Fatalf("expected 1 rejected ticket counted, got %d", snap.Counters[MetricTicketRejected])
	}
}

func TestUpdateSessionBumpsRenewed(t *testing.T) {
	engine, clock := newTestEngine(t, nil)
	ctx := context.Background()

	key, err := engine.CreateSession(ctx, loginTicket("alice", "sid-1", "Alice", nil))
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	created := clock.Now()

	clock.Advance(30 * time.Minute)

	exp := clock.Now().Add(time.Hour)
	updated := loginTicket("alice", "sid-1", "Alice Cooper", &exp)
	if err := engine.UpdateSession(ctx, key, updated); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}

	s, err := engine.GetSession(ctx, key)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if !s.Created.Equal(created) {
		t.Fatalf("Created must not move on update: %v", s.Created)
	}
	if !s.Renewed.After(created) {
		t.Fatalf("Renewed must advance: %v", s.Renewed)
	}
	if s.DisplayName != "Alice Cooper" {
		t.Fatalf("display name not re-derived: %q", s.DisplayName)
	}
	if s.Expires == nil || !s.Expires.Equal(exp) {
		t.Fatalf("expiration not re-derived: %v", s.Expires)
	}
}

func TestUpdateSessionAfterDelete(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()

	key, err := engine.CreateSession(ctx, loginTicket("alice", "sid-1", "", nil))
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, err := engine.DeleteSessions(ctx, session.Filter{SubjectID: "alice"}); err != nil {
		t.Fatalf("DeleteSessions failed: %v", err)
	}

	err = engine.UpdateSession(ctx, key, loginTicket("alice", "sid-1", "", nil))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteSessionsCounts(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()

	for _, sid := range []string{"sid-1", "sid-2"} {
		if _, err := engine.CreateSession(ctx, loginTicket("alice", sid, "", nil)); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
	}
	if _, err := engine.CreateSession(ctx, loginTicket("bob", "sid-3", "", nil)); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	deleted, err := engine.DeleteSessions(ctx, session.Filter{SubjectID: "alice"})
	if err != nil {
		t.Fatalf("DeleteSessions failed: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deletions, got %d", deleted)
	}

	deleted, err = engine.DeleteSessions(ctx, session.Filter{SubjectID: "alice"})
	if err != nil {
		t.Fatalf("repeat DeleteSessions failed: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("expected benign zero-count repeat, got %d", deleted)
	}
}

func TestQuerySessionsThroughEngine(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()

	for _, sid := range []string{"sid-1", "sid-2", "sid-3"} {
		if _, err := engine.CreateSession(ctx, loginTicket("alice", sid, "Alice", nil)); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
	}

	page, err := engine.QuerySessions(ctx, session.Query{CountRequested: 2})
	if err != nil {
		t.Fatalf("QuerySessions failed: %v", err)
	}
	if page.TotalCount != 3 || len(page.Results) != 2 || !page.HasNextResults {
		t.Fatalf("unexpected first page: %+v", page)
	}

	page, err = engine.QuerySessions(ctx, session.Query{CountRequested: 2, ResultsToken: page.ResultsToken})
	if err != nil {
		t.Fatalf("QuerySessions failed: %v", err)
	}
	if len(page.Results) != 1 || page.HasNextResults {
		t.Fatalf("unexpected second page: %+v", page)
	}
}

func TestConsentThroughEngine(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()

	client := rp.Client{ID: "spa", RequireConsent: true, AllowRememberConsent: true}

	required, err := engine.RequiresConsent(ctx, "alice", client, []string{"openid"})
	if err != nil {
		t.Fatalf("RequiresConsent failed: %v", err)
	}
	if !required {
		t.Fatal("expected prompt before any grant")
	}

	if err := engine.UpdateConsent(ctx, "alice", client, []string{"openid"}); err != nil {
		t.Fatalf("UpdateConsent failed: %v", err)
	}
	required, err = engine.RequiresConsent(ctx, "alice", client, []string{"openid"})
	if err != nil {
		t.Fatalf("RequiresConsent failed: %v", err)
	}
	if required {
		t.Fatal("expected remembered grant to suppress the prompt")
	}
}

func TestBuilderValidation(t *testing.T) {
	if _, err := New().WithConfig(Config{}).Build(); !errors.Is(err, ticket.ErrKeyTooShort) {
		t.Fatalf("expected ErrKeyTooShort, got %v", err)
	}

	cfg := testConfig()
	cfg.Usage.ClientLimit = -1
	if _, err := New().WithConfig(cfg).Build(); err == nil {
		t.Fatal("expected validation error for negative client limit")
	}

	cfg = testConfig()
	cfg.Backchannel.SigningKey = []byte("key-material-0123456789")
	cfg.Backchannel.Issuer = ""
	if _, err := New().WithConfig(cfg).Build(); err == nil {
		t.Fatal("expected error for signing key without issuer")
	}

	b := New().WithConfig(testConfig())
	if _, err := b.Build(); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := b.Build(); err == nil {
		t.Fatal("expected error on builder reuse")
	}
}
