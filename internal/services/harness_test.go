package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/honeynil/AuthSessionService/internal/infrastructure/auth"
	redisstore "github.com/honeynil/AuthSessionService/internal/infrastructure/redis"
	"github.com/honeynil/AuthSessionService/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.SessionEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event *models.SessionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *event)
	return nil
}

func (p *recordingPublisher) has(eventType models.SessionEventType, sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e.Type == eventType && (sessionID == "" || e.SessionID == sessionID) {
			return true
		}
	}
	return false
}

type mockUserRepository struct {
	mock.Mock
}

func (m *mockUserRepository) Create(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	args := m.Called(ctx, id)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

func (m *mockUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	args := m.Called(ctx, username)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

type harness struct {
	mr       *miniredis.Miniredis
	clock    *clock
	store    *redisstore.SessionStore
	events   *recordingPublisher
	issuer   *TokenIssuer
	verifier *TokenVerifier
	rotator  *RefreshRotator
	revoker  *RevocationService
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	claims   ClaimsSource
	settings Settings
}

func withClaimsSource(source ClaimsSource) harnessOption {
	return func(c *harnessConfig) { c.claims = source }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	clk := &clock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	codec, err := auth.NewCodec(testSecret, "auth-service", "api", auth.WithClock(clk.Now))
	require.NoError(t, err)

	cfg := harnessConfig{
		settings: Settings{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 24 * time.Hour,
			SessionTTL: 24 * time.Hour,
			Now:        clk.Now,
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	store := redisstore.NewSessionStore(client, time.Second)
	events := &recordingPublisher{}
	revoker := NewRevocationService(store, events, cfg.settings)

	return &harness{
		mr:       mr,
		clock:    clk,
		store:    store,
		events:   events,
		issuer:   NewTokenIssuer(store, codec, events, cfg.settings),
		verifier: NewTokenVerifier(store, codec, cfg.settings),
		rotator:  NewRefreshRotator(store, codec, cfg.claims, revoker, events, cfg.settings),
		revoker:  revoker,
	}
}
