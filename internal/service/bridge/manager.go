package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zhouzirui/gpt-bridge/backend/internal/logger"
	"github.com/zhouzirui/gpt-bridge/backend/internal/model/chat"
	"github.com/zhouzirui/gpt-bridge/backend/internal/monitoring"
	"github.com/zhouzirui/gpt-bridge/backend/internal/service/journal"
)

// ErrNoSession is returned when a backend reports success without a handle.
var ErrNoSession = errors.New("backend returned no session")

// Journal receives one record per backend operation.
type Journal interface {
	Record(ctx context.Context, e journal.Exchange) error
}

// Manager holds the current session handle and forwards every operation to
// the backend exactly once.
type Manager struct {
	backend Backend
	journal Journal
	metrics *monitoring.Metrics
	log     logger.Logger

	// startMu serializes Start so the slot and the backend agree on which
	// session is current.
	startMu sync.Mutex
	mu      sync.RWMutex
	handle  chat.Handle
}

// Option customizes a Manager.
type Option func(*Manager)

// WithJournal records every operation to j.
func WithJournal(j Journal) Option {
	return func(m *Manager) { m.journal = j }
}

// WithMetrics records operation latency and outcome.
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithLogger sets the manager's logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// NewManager creates a session manager for backend.
func NewManager(backend Backend, opts ...Option) *Manager {
	m := &Manager{
		backend: backend,
		log:     logger.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start opens a new backend session. A session already held is replaced and
// released once the new one is in place.
func (m *Manager) Start(ctx context.Context) (chat.Handle, error) {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	began := time.Now()
	h, err := m.backend.Start(ctx)
	if err == nil && h == nil {
		err = ErrNoSession
	}
	m.observe(ctx, journal.Exchange{Operation: OpStart}, began, err)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	prev := m.handle
	m.handle = h
	m.mu.Unlock()

	m.metrics.SetSessionActive(true)
	m.log.Info("session started", "sessionID", h.ID())

	if prev != nil {
		m.metrics.RecordSessionRestart()
		if err := prev.Close(); err != nil {
			m.log.Err(err, "failed to release replaced session", "sessionID", prev.ID())
		} else {
			m.log.Info("replaced session released", "sessionID", prev.ID())
		}
	}
	return h, nil
}

// Current returns the session handle held by the manager, or nil.
func (m *Manager) Current() chat.Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handle
}

// Query sends prompt to the current chat.
func (m *Manager) Query(ctx context.Context, prompt string) (chat.Reply, error) {
	began := time.Now()
	reply, err := m.backend.Query(ctx, prompt)
	m.observe(ctx, journal.Exchange{
		Operation: OpQuery,
		ChatID:    reply.ChatID,
		Prompt:    prompt,
		Reply:     reply.Content,
	}, began, err)
	return reply, err
}

// Retry regenerates the last answer.
func (m *Manager) Retry(ctx context.Context) (chat.Reply, error) {
	began := time.Now()
	reply, err := m.backend.Retry(ctx)
	m.observe(ctx, journal.Exchange{
		Operation: OpRetry,
		ChatID:    reply.ChatID,
		Reply:     reply.Content,
	}, began, err)
	return reply, err
}

// NewChat opens an empty chat.
func (m *Manager) NewChat(ctx context.Context) (chat.ChatRef, error) {
	began := time.Now()
	ref, err := m.backend.NewChat(ctx)
	m.observe(ctx, journal.Exchange{Operation: OpNewChat, ChatID: ref.ID}, began, err)
	return ref, err
}

// SelectChat switches to chatID, which may be nil.
func (m *Manager) SelectChat(ctx context.Context, chatID *string) (chat.ChatRef, error) {
	began := time.Now()
	ref, err := m.backend.SelectChat(ctx, chatID)
	rec := journal.Exchange{Operation: OpSelectChat, ChatID: ref.ID}
	if rec.ChatID == "" && chatID != nil {
		rec.ChatID = *chatID
	}
	m.observe(ctx, rec, began, err)
	return ref, err
}

// ChatList lists the backend's chats.
func (m *Manager) ChatList(ctx context.Context) ([]chat.Chat, error) {
	began := time.Now()
	chats, err := m.backend.ChatList(ctx)
	m.observe(ctx, journal.Exchange{Operation: OpChatList}, began, err)
	return chats, err
}

// ModelList lists the backend's models.
func (m *Manager) ModelList(ctx context.Context) ([]chat.Model, error) {
	began := time.Now()
	models, err := m.backend.ModelList(ctx)
	m.observe(ctx, journal.Exchange{Operation: OpModelList}, began, err)
	return models, err
}

// Close releases the held session, if any.
func (m *Manager) Close() error {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	m.mu.Lock()
	h := m.handle
	m.handle = nil
	m.mu.Unlock()

	if h == nil {
		return nil
	}
	m.metrics.SetSessionActive(false)
	m.log.Info("releasing session", "sessionID", h.ID())
	return h.Close()
}

func (m *Manager) observe(ctx context.Context, rec journal.Exchange, began time.Time, err error) {
	elapsed := time.Since(began)
	m.metrics.RecordBackendCall(rec.Operation, elapsed, err)

	if err != nil {
		m.log.Err(err, "backend call failed", "op", rec.Operation, "duration", elapsed)
		rec.Error = err.Error()
	} else {
		m.log.Debug("backend call finished", "op", rec.Operation, "duration", elapsed)
	}

	if m.journal == nil {
		return
	}
	rec.DurationMS = elapsed.Milliseconds()
	if jerr := m.journal.Record(context.WithoutCancel(ctx), rec); jerr != nil {
		m.log.Err(jerr, "failed to record exchange", "op", rec.Operation)
	}
}
