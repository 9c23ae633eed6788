// Package repository owns session and message persistence.
//
// Store keeps the authoritative in-memory view of every session and writes each mutation
// through a Persister before returning. Appends to one session are serialized by a
// per-session mutex; different sessions proceed independently. When the persister fails,
// the in-memory state is kept and a *domain.StorageError is returned together with the
// valid result, so the conversation can continue in degraded mode.
package repository

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/xiaot623/campusconnect/internal/domain"
	"github.com/xiaot623/campusconnect/internal/logging"
	"github.com/xiaot623/campusconnect/internal/metrics"
)

// Persister is the durable backend behind a Store.
type Persister interface {
	// Load returns every persisted session.
	Load(ctx context.Context) ([]*domain.Session, error)
	// SaveSession upserts the session record. Backends that store messages separately
	// ignore session.Messages.
	SaveSession(ctx context.Context, session *domain.Session) error
	// AppendMessage durably records msg, the last message of session.
	AppendMessage(ctx context.Context, session *domain.Session, msg domain.Message) error
	Close() error
}

// AppendInput describes a message to append.
type AppendInput struct {
	Content  string
	Type     domain.MessageType
	Intent   string
	Language string
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics records storage metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides session identifier generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

type sessionEntry struct {
	mu      sync.Mutex
	session *domain.Session
}

// Store is the lock-protected session store.
type Store struct {
	persister Persister
	metrics   *metrics.Metrics
	now       func() time.Time
	newID     func() string
	logger    zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*sessionEntry

	opened atomic.Bool
	closed atomic.Bool
}

// NewStore creates a store over persister. Call Open before use.
func NewStore(persister Persister, opts ...Option) *Store {
	s := &Store{
		persister: persister,
		now:       func() time.Time { return time.Now().UTC().Round(0) },
		newID:     func() string { return uuid.New().String() },
		logger:    logging.Component("repository"),
		sessions:  make(map[string]*sessionEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.persister == nil {
		s.persister = NewMemoryPersister()
	}
	return s
}

// Open loads persisted sessions into memory.
func (s *Store) Open(ctx context.Context) error {
	if s.closed.Load() {
		return domain.ErrStoreClosed
	}
	loaded, err := s.persister.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load sessions")
	}

	s.mu.Lock()
	for _, sess := range loaded {
		if sess == nil || sess.SessionID == "" {
			continue
		}
		normalize(sess)
		s.sessions[sess.SessionID] = &sessionEntry{session: sess}
	}
	count := len(s.sessions)
	s.mu.Unlock()

	s.opened.Store(true)
	s.logger.Info().Int("sessions", count).Msg("session store opened")
	return nil
}

// Close closes the persister. Further operations fail with domain.ErrStoreClosed.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.persister.Close()
}

// CreateSession creates an empty active session and returns its identifier.
func (s *Store) CreateSession(ctx context.Context, userID string) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	entry, storageErr := s.createLocked(ctx, userID)
	id := entry.session.SessionID
	entry.mu.Unlock()
	return id, storageErr
}

// AppendMessage appends a message to sessionID. Unknown or empty identifiers are replaced
// by a freshly created session; the returned identifier is the one actually used and
// must be used by the caller from then on.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, in AppendInput) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	if in.Type == "" {
		in.Type = domain.MessageTypeUser
	}
	if !in.Type.Valid() {
		return "", errors.Errorf("invalid message type %q", in.Type)
	}

	entry, storageErr := s.lockOrCreate(ctx, sessionID)
	defer entry.mu.Unlock()

	now := s.now()
	msg := domain.Message{
		Content:   in.Content,
		Type:      in.Type,
		Timestamp: now,
		Intent:    in.Intent,
		Language:  in.Language,
	}
	sess := entry.session
	sess.Messages = append(sess.Messages, msg)
	sess.LastActivity = &now

	if err := s.persister.AppendMessage(context.WithoutCancel(ctx), sess.Clone(), msg); err != nil {
		if storageErr == nil {
			storageErr = s.storageError("append", sess.SessionID, err)
		} else {
			s.storageError("append", sess.SessionID, err)
		}
	}
	return sess.SessionID, storageErr
}

// GetContext returns the last n messages of sessionID, oldest first. Unknown sessions and
// non-positive n yield an empty slice.
func (s *Store) GetContext(ctx context.Context, sessionID string, n int) []domain.Message {
	if n <= 0 {
		return []domain.Message{}
	}
	entry := s.lookup(sessionID)
	if entry == nil {
		return []domain.Message{}
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	msgs := entry.session.Messages
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out
}

// GetSession returns a copy of the session, or false when it does not exist.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*domain.Session, bool) {
	entry := s.lookup(sessionID)
	if entry == nil {
		return nil, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.session.Clone(), true
}

// ListSessions returns summaries of all sessions ordered by creation time.
func (s *Store) ListSessions(ctx context.Context) []domain.SessionSummary {
	s.mu.RLock()
	entries := make([]*sessionEntry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]domain.SessionSummary, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.session.Summary())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// SetContextValue stores value under key in the session's context map. Values are kept in
// their JSON form, so numbers read back as float64 from memory and from every backend.
func (s *Store) SetContextValue(ctx context.Context, sessionID, key string, value any) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if key == "" {
		return errors.New("context key is required")
	}
	value, err := jsonValue(value)
	if err != nil {
		return errors.Wrapf(err, "context value for %q", key)
	}
	entry := s.lookup(sessionID)
	if entry == nil {
		return errors.Wrap(domain.ErrSessionNotFound, sessionID)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.session.Context[key] = value
	if err := s.persister.SaveSession(context.WithoutCancel(ctx), entry.session.Clone()); err != nil {
		return s.storageError("save", sessionID, err)
	}
	return nil
}

func (s *Store) lookup(sessionID string) *sessionEntry {
	if sessionID == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[sessionID]
}

// lockOrCreate returns the locked entry for sessionID, creating a new session when the
// identifier is unknown.
func (s *Store) lockOrCreate(ctx context.Context, sessionID string) (*sessionEntry, error) {
	if entry := s.lookup(sessionID); entry != nil {
		entry.mu.Lock()
		return entry, nil
	}
	if sessionID != "" {
		s.logger.Debug().Str("session_id", sessionID).Msg("unknown session, creating a new one")
	}
	return s.createLocked(ctx, "")
}

// createLocked registers a new session and returns its entry locked. The entry is
// published before persisting so the global map lock is never held across I/O.
func (s *Store) createLocked(ctx context.Context, userID string) (*sessionEntry, error) {
	now := s.now()
	sess := &domain.Session{
		UserID:    userID,
		CreatedAt: now,
		Messages:  []domain.Message{},
		Context:   map[string]any{},
		Active:    true,
	}
	entry := &sessionEntry{session: sess}
	entry.mu.Lock()

	s.mu.Lock()
	for {
		id := s.newID()
		if _, exists := s.sessions[id]; !exists && id != "" {
			sess.SessionID = id
			break
		}
	}
	s.sessions[sess.SessionID] = entry
	s.mu.Unlock()

	s.metrics.RecordSessionCreated()
	s.logger.Debug().Str("session_id", sess.SessionID).Msg("session created")

	if err := s.persister.SaveSession(context.WithoutCancel(ctx), sess.Clone()); err != nil {
		return entry, s.storageError("create", sess.SessionID, err)
	}
	return entry, nil
}

func (s *Store) storageError(op, sessionID string, err error) error {
	s.metrics.RecordStorageError(op)
	s.logger.Warn().
		Err(err).
		Str("op", op).
		Str("session_id", sessionID).
		Msg("failed to persist session, continuing in memory")
	return &domain.StorageError{Op: op, SessionID: sessionID, Err: err}
}

func (s *Store) checkOpen() error {
	if s.closed.Load() {
		return domain.ErrStoreClosed
	}
	if !s.opened.Load() {
		return errors.New("session store not opened")
	}
	return nil
}

func normalize(sess *domain.Session) {
	if sess.Messages == nil {
		sess.Messages = []domain.Message{}
	}
	if sess.Context == nil {
		sess.Context = map[string]any{}
	}
	for k, v := range sess.Context {
		if jv, err := jsonValue(v); err == nil {
			sess.Context[k] = jv
		}
	}
}

// jsonValue returns v as encoding/json would decode it into an interface value.
func jsonValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
