package authority

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/voxgate/voxgate/pkg/store"
	"github.com/voxgate/voxgate/pkg/store/memory"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	auth     *Authority
	creds    *memory.CredentialStore
	sessions *memory.SessionStore
	clock    *fakeClock
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	clock := newFakeClock()
	cfg.Now = clock.Now
	if cfg.AdminIdentity == "" {
		cfg.AdminIdentity = "admin@example.com"
		cfg.AdminSecret = "admin-secret"
	}
	creds := memory.NewCredentialStore()
	sessions := memory.NewSessionStore()
	logger := slog.New(slog.DiscardHandler)
	return &fixture{
		auth:     New(creds, sessions, logger, cfg),
		creds:    creds,
		sessions: sessions,
		clock:    clock,
	}
}

func (f *fixture) seedCredential(t *testing.T, identity, secret string, limit int) {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}
	err = f.creds.Create(context.Background(), store.Credential{
		Identity:     identity,
		Secret:       string(hashed),
		Active:       true,
		SessionLimit: limit,
	})
	if err != nil {
		t.Fatalf("seed credential: %v", err)
	}
}

func TestValidateCredentials(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedCredential(t, "u1@example.com", "pw1", 2)
	f.seedCredential(t, "used-up@example.com", "pw2", 1)
	ctx := context.Background()

	if _, err := f.creds.IncrementSessionsUsed(ctx, "used-up@example.com"); err != nil {
		t.Fatalf("increment: %v", err)
	}
	f.seedCredential(t, "disabled@example.com", "pw3", 1)
	inactive := false
	if err := f.creds.Update(ctx, "disabled@example.com", store.CredentialPatch{Active: &inactive}); err != nil {
		t.Fatalf("update: %v", err)
	}

	cases := []struct {
		name     string
		identity string
		secret   string
		reason   Reason
	}{
		{"valid", "u1@example.com", "pw1", ""},
		{"wrong secret", "u1@example.com", "nope", ReasonBadCredentials},
		{"unknown identity", "ghost@example.com", "pw", ReasonBadCredentials},
		{"disabled account", "disabled@example.com", "pw3", ReasonInactive},
		{"quota exhausted", "used-up@example.com", "pw2", ReasonQuotaExhausted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			check, err := f.auth.ValidateCredentials(ctx, tc.identity, tc.secret)
			if tc.reason == "" {
				if err != nil {
					t.Fatalf("ValidateCredentials: %v", err)
				}
				if check.IsAdmin {
					t.Fatal("non-admin flagged as admin")
				}
				return
			}
			if !IsReason(err, tc.reason) {
				t.Fatalf("reason = %v, want %v", ReasonOf(err), tc.reason)
			}
		})
	}
}

func TestAdminRequiresExactSecret(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	check, err := f.auth.ValidateCredentials(ctx, "admin@example.com", "admin-secret")
	if err != nil {
		t.Fatalf("ValidateCredentials: %v", err)
	}
	if !check.IsAdmin {
		t.Fatal("admin not flagged")
	}

	// Quota bypass does not extend to the secret check.
	if _, err := f.auth.ValidateCredentials(ctx, "admin@example.com", "wrong"); !IsReason(err, ReasonBadCredentials) {
		t.Fatalf("reason = %v, want bad credentials", ReasonOf(err))
	}
}

func TestCreateSessionConcurrentExactlyOneWinner(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedCredential(t, "u2@example.com", "pw", 5)
	ctx := context.Background()

	const racers = 8
	var wg sync.WaitGroup
	results := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.auth.CreateSession(ctx, "u2@example.com")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case IsReason(err, ReasonAlreadyActive):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}
}

func TestQuotaConsumedOncePerConversationStart(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedCredential(t, "u3@example.com", "pw", 2)
	ctx := context.Background()

	if _, err := f.auth.CreateSession(ctx, "u3@example.com"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	cred, _ := f.creds.Get(ctx, "u3@example.com")
	if cred.SessionsUsed != 0 {
		t.Fatalf("sessionsUsed after CreateSession = %d, want 0", cred.SessionsUsed)
	}

	if _, err := f.auth.StartConversation(ctx, "u3@example.com"); err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	cred, _ = f.creds.Get(ctx, "u3@example.com")
	if cred.SessionsUsed != 1 {
		t.Fatalf("sessionsUsed after StartConversation = %d, want 1", cred.SessionsUsed)
	}

	// Stopping never refunds; a second start bills again.
	if err := f.auth.StopConversation(ctx, "u3@example.com"); err != nil {
		t.Fatalf("StopConversation: %v", err)
	}
	if _, err := f.auth.StartConversation(ctx, "u3@example.com"); err != nil {
		t.Fatalf("second StartConversation: %v", err)
	}
	cred, _ = f.creds.Get(ctx, "u3@example.com")
	if cred.SessionsUsed != 2 {
		t.Fatalf("sessionsUsed = %d, want 2", cred.SessionsUsed)
	}
}

func TestStartConversationAlreadyActive(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedCredential(t, "u4@example.com", "pw", 5)
	ctx := context.Background()

	if _, err := f.auth.CreateSession(ctx, "u4@example.com"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := f.auth.StartConversation(ctx, "u4@example.com"); err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if _, err := f.auth.StartConversation(ctx, "u4@example.com"); !IsReason(err, ReasonConversationActive) {
		t.Fatalf("reason = %v, want conversation already active", ReasonOf(err))
	}
	cred, _ := f.creds.Get(ctx, "u4@example.com")
	if cred.SessionsUsed != 1 {
		t.Fatalf("sessionsUsed = %d after rejected start, want 1", cred.SessionsUsed)
	}
}

func TestExpiryAnchoredToStartTime(t *testing.T) {
	f := newFixture(t, Config{SessionDuration: 5 * time.Minute})
	f.seedCredential(t, "u5@example.com", "pw", 5)
	ctx := context.Background()

	if _, err := f.auth.CreateSession(ctx, "u5@example.com"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// Keep the session busy; activity must not slide the expiry.
	for i := 0; i < 4; i++ {
		f.clock.Advance(time.Minute)
		if _, err := f.auth.ValidateSession(ctx, "u5@example.com"); err != nil {
			t.Fatalf("ValidateSession at minute %d: %v", i+1, err)
		}
	}
	f.clock.Advance(time.Minute)
	if _, err := f.auth.ValidateSession(ctx, "u5@example.com"); !IsReason(err, ReasonExpired) {
		t.Fatalf("reason = %v, want expired", ReasonOf(err))
	}

	// Expiry flipped the active flag as a side effect.
	if _, err := f.sessions.GetActive(ctx, "u5@example.com"); err == nil {
		t.Fatal("expired session still active in store")
	}
}

func TestMessageCountCeiling(t *testing.T) {
	f := newFixture(t, Config{MaxMessages: 3})
	f.seedCredential(t, "u6@example.com", "pw", 5)
	ctx := context.Background()

	if _, err := f.auth.CreateSession(ctx, "u6@example.com"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	for want := 1; want <= 3; want++ {
		count, err := f.auth.IncrementMessageCount(ctx, "u6@example.com")
		if err != nil {
			t.Fatalf("IncrementMessageCount #%d: %v", want, err)
		}
		if count != want {
			t.Fatalf("count = %d, want %d", count, want)
		}
	}
	if _, err := f.auth.IncrementMessageCount(ctx, "u6@example.com"); !IsReason(err, ReasonLimitReached) {
		t.Fatalf("reason = %v, want limit reached", ReasonOf(err))
	}
	// The rejected call left the stored count unchanged.
	sess, _ := f.sessions.GetActive(ctx, "u6@example.com")
	if sess.MessageCount != 3 {
		t.Fatalf("stored count = %d, want 3", sess.MessageCount)
	}
}

func TestConversationClockReadyState(t *testing.T) {
	f := newFixture(t, Config{SessionDuration: 5 * time.Minute})
	f.seedCredential(t, "u7@example.com", "pw", 5)
	ctx := context.Background()

	// No session at all: zero, not ready.
	clock, err := f.auth.ConversationTimeRemaining(ctx, "u7@example.com")
	if err != nil || clock.Active || clock.Remaining != 0 {
		t.Fatalf("clock without session = %+v, %v", clock, err)
	}

	if _, err := f.auth.CreateSession(ctx, "u7@example.com"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	clock, err = f.auth.ConversationTimeRemaining(ctx, "u7@example.com")
	if err != nil {
		t.Fatalf("ConversationTimeRemaining: %v", err)
	}
	if clock.Active || clock.Remaining != 5*time.Minute {
		t.Fatalf("ready clock = %+v, want full duration inactive", clock)
	}

	if _, err := f.auth.StartConversation(ctx, "u7@example.com"); err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	f.clock.Advance(2 * time.Minute)
	clock, err = f.auth.ConversationTimeRemaining(ctx, "u7@example.com")
	if err != nil {
		t.Fatalf("ConversationTimeRemaining: %v", err)
	}
	if !clock.Active || clock.Remaining != 3*time.Minute {
		t.Fatalf("running clock = %+v, want 3m active", clock)
	}
}

func TestResetSessionsUsedDeactivatesSession(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedCredential(t, "u8@example.com", "pw", 1)
	ctx := context.Background()

	if _, err := f.auth.CreateSession(ctx, "u8@example.com"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := f.auth.StartConversation(ctx, "u8@example.com"); err != nil {
		t.Fatalf("StartConversation: %v", err)
	}

	if err := f.auth.ResetSessionsUsed(ctx, "u8@example.com"); err != nil {
		t.Fatalf("ResetSessionsUsed: %v", err)
	}
	cred, _ := f.creds.Get(ctx, "u8@example.com")
	if cred.SessionsUsed != 0 {
		t.Fatalf("sessionsUsed = %d after reset, want 0", cred.SessionsUsed)
	}
	if _, err := f.sessions.GetActive(ctx, "u8@example.com"); err == nil {
		t.Fatal("active session survived reset")
	}
}

func TestQuotaLifecycleScenario(t *testing.T) {
	f := newFixture(t, Config{SessionDuration: 5 * time.Minute, MaxMessages: 20})
	f.seedCredential(t, "scenario@example.com", "pw", 1)
	ctx := context.Background()
	id := "scenario@example.com"

	if _, err := f.auth.ValidateCredentials(ctx, id, "pw"); err != nil {
		t.Fatalf("ValidateCredentials: %v", err)
	}
	if _, err := f.auth.CreateSession(ctx, id); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	start, err := f.auth.StartConversation(ctx, id)
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if start.TimeRemaining != 5*time.Minute {
		t.Fatalf("TimeRemaining = %v, want 5m", start.TimeRemaining)
	}

	for i := 1; i <= 20; i++ {
		if _, err := f.auth.IncrementMessageCount(ctx, id); err != nil {
			t.Fatalf("message %d rejected: %v", i, err)
		}
	}
	if _, err := f.auth.IncrementMessageCount(ctx, id); !IsReason(err, ReasonLimitReached) {
		t.Fatalf("21st message: reason = %v, want limit reached", ReasonOf(err))
	}

	f.clock.Advance(5 * time.Minute)
	if _, err := f.auth.ValidateSession(ctx, id); !IsReason(err, ReasonExpired) {
		t.Fatalf("after 5m: reason = %v, want expired", ReasonOf(err))
	}

	// Quota 1 is spent; a fresh session is denied at validation and creation.
	if _, err := f.auth.CreateSession(ctx, id); !IsReason(err, ReasonQuotaExhausted) {
		t.Fatalf("re-create: reason = %v, want quota exhausted", ReasonOf(err))
	}
}

func TestSweepDeactivatesStaleSessions(t *testing.T) {
	f := newFixture(t, Config{SessionDuration: 5 * time.Minute})
	f.seedCredential(t, "idle@example.com", "pw", 5)
	f.seedCredential(t, "fresh@example.com", "pw", 5)
	ctx := context.Background()

	if _, err := f.auth.CreateSession(ctx, "idle@example.com"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	f.clock.Advance(6 * time.Minute)
	if _, err := f.auth.CreateSession(ctx, "fresh@example.com"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	swept, err := f.auth.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}
	if _, err := f.sessions.GetActive(ctx, "idle@example.com"); err == nil {
		t.Fatal("stale session survived sweep")
	}
	if _, err := f.sessions.GetActive(ctx, "fresh@example.com"); err != nil {
		t.Fatal("fresh session swept")
	}
}

func TestAdminCreateSessionReplacesExisting(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	if _, err := f.auth.CreateSession(ctx, "admin@example.com"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	// A second admin connect replaces rather than failing AlreadyActive.
	if _, err := f.auth.CreateSession(ctx, "admin@example.com"); err != nil {
		t.Fatalf("admin re-create: %v", err)
	}
	sessions, _ := f.sessions.List(ctx)
	active := 0
	for _, s := range sessions {
		if s.Active {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("active admin sessions = %d, want 1", active)
	}
}
