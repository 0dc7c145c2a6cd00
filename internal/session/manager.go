package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/regwatch/backend/internal/scrape"
	"github.com/regwatch/backend/internal/scrape/fetcher"
	"github.com/regwatch/backend/internal/storage/models"
	"github.com/regwatch/backend/pkg/logger"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrUnknownAgency   = errors.New("unknown agency")
	ErrUnknownDatabase = errors.New("unknown target database")
)

// ManagerStore extends the controller's store with session reads for the
// control surface.
type ManagerStore interface {
	Store
	GetSession(ctx context.Context, id string) (*models.ScrapeSession, error)
	ListSessions(ctx context.Context, limit int) ([]models.ScrapeSession, error)
}

type ManagerConfig struct {
	Client      *fetcher.Client
	PageDelay   time.Duration
	DetailDelay time.Duration
	Limits      Limits
}

// Manager starts sessions and hands out references to running ones. Callers
// address sessions by the ID returned from Start; there is no global
// process registry.
type Manager struct {
	cfg      ManagerConfig
	store    ManagerStore
	resolver OffenderResolver
	hub      *Hub
	sources  map[string]scrape.Source

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	running map[string]*Controller
}

func NewManager(cfg ManagerConfig, store ManagerStore, res OffenderResolver, hub *Hub, sources ...scrape.Source) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	byCode := make(map[string]scrape.Source, len(sources))
	for _, s := range sources {
		byCode[s.Code()] = s
	}
	return &Manager{
		cfg:      cfg,
		store:    store,
		resolver: res,
		hub:      hub,
		sources:  byCode,
		baseCtx:  ctx,
		cancel:   cancel,
		running:  make(map[string]*Controller),
	}
}

// Start launches a new scrape session and returns its ID immediately; the
// pipeline runs in its own goroutine.
func (m *Manager) Start(agencyCode, targetDatabase string, params scrape.RangeParams) (string, error) {
	source, ok := m.sources[agencyCode]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAgency, agencyCode)
	}
	if targetDatabase != models.RecordKindCase && targetDatabase != models.RecordKindNotice {
		return "", fmt.Errorf("%w: %s", ErrUnknownDatabase, targetDatabase)
	}

	ctrl := NewController(ControllerConfig{
		ID:          uuid.NewString(),
		Source:      source,
		Client:      m.cfg.Client,
		PageDelay:   m.cfg.PageDelay,
		DetailDelay: m.cfg.DetailDelay,
		Store:       m.store,
		Resolver:    m.resolver,
		Hub:         m.hub,
		Kind:        targetDatabase,
		Params:      params,
		Limits:      m.cfg.Limits,
	})

	m.mu.Lock()
	m.running[ctrl.ID()] = ctrl
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.running, ctrl.ID())
			m.mu.Unlock()
		}()
		ctrl.Run(m.baseCtx)
	}()

	logger.Info("Session started",
		zap.String("session_id", ctrl.ID()),
		zap.String("agency", agencyCode),
		zap.String("database", targetDatabase),
	)
	return ctrl.ID(), nil
}

// Stop requests cooperative cancellation of a running session. Sessions that
// already reached a terminal status are not found here; stopping them is a
// no-op the caller learns about via ErrSessionNotFound.
func (m *Manager) Stop(sessionID string) error {
	m.mu.Lock()
	ctrl, ok := m.running[sessionID]
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	ctrl.Stop()
	return nil
}

// Get returns the live snapshot for a running session, or the persisted row
// for a finished one.
func (m *Manager) Get(ctx context.Context, sessionID string) (*models.ScrapeSession, error) {
	m.mu.Lock()
	ctrl, ok := m.running[sessionID]
	m.mu.Unlock()
	if ok {
		snapshot := ctrl.Snapshot()
		return &snapshot, nil
	}

	stored, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, ErrSessionNotFound
	}
	return stored, nil
}

// List returns recent sessions from the store.
func (m *Manager) List(ctx context.Context, limit int) ([]models.ScrapeSession, error) {
	return m.store.ListSessions(ctx, limit)
}

// Subscribe returns a progress event channel for the session.
func (m *Manager) Subscribe(sessionID string) (<-chan Event, func()) {
	return m.hub.Subscribe(sessionID)
}

// Shutdown cancels all running sessions and waits for them to reach a
// terminal state, bounded by the context.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, ctrl := range m.running {
		ctrl.Stop()
	}
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func marshalParams(params scrape.RangeParams) string {
	data, err := json.Marshal(params)
	if err != nil {
		return "{}"
	}
	return string(data)
}
