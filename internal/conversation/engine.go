// Package conversation turns one inbound message into one response envelope.
package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/xiaot623/campusconnect/internal/domain"
	"github.com/xiaot623/campusconnect/internal/language"
	"github.com/xiaot623/campusconnect/internal/logging"
	"github.com/xiaot623/campusconnect/internal/metrics"
	"github.com/xiaot623/campusconnect/internal/policy"
	"github.com/xiaot623/campusconnect/internal/repository"
	"github.com/xiaot623/campusconnect/internal/responder"
)

// TranslationPolicy decides whether a reply is rendered into the resolved language.
type TranslationPolicy interface {
	ShouldTranslate(ctx context.Context, input policy.Input) (bool, error)
}

// Publisher receives session lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy sets the translation policy. Without one, replies are rendered when the
// language was detected and is not the default language.
func WithPolicy(p TranslationPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithPublisher publishes lifecycle events to p.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithMetrics records conversation metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTimeout bounds response generation and translation for one message.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine orchestrates the language pipeline, the responder and the session store.
type Engine struct {
	pipeline  *language.Pipeline
	responder responder.Responder
	store     *repository.Store
	policy    TranslationPolicy
	publisher Publisher
	metrics   *metrics.Metrics
	timeout   time.Duration
	now       func() time.Time
	logger    zerolog.Logger
}

// NewEngine creates an engine.
func NewEngine(pipeline *language.Pipeline, resp responder.Responder, store *repository.Store, opts ...Option) *Engine {
	e := &Engine{
		pipeline:  pipeline,
		responder: resp,
		store:     store,
		timeout:   30 * time.Second,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logging.Component("conversation"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type transportKey struct{}

// WithTransport tags ctx with the name of the transport a message arrived on.
func WithTransport(ctx context.Context, transport string) context.Context {
	return context.WithValue(ctx, transportKey{}, transport)
}

type originKey struct{}

// WithOrigin tags ctx with the identifier of the connection a message arrived on. Events
// published for the message carry it in their "origin" payload field.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

func transportFrom(ctx context.Context) string {
	if t, ok := ctx.Value(transportKey{}).(string); ok && t != "" {
		return t
	}
	return "unknown"
}

// HandleMessage processes req and returns the envelope for the client. It never fails:
// responder and translation failures yield domain.DegradedReply with Error set, and
// storage failures are logged without changing the reply.
func (e *Engine) HandleMessage(ctx context.Context, req domain.ChatRequest) domain.ResponseEnvelope {
	start := time.Now()
	transport := transportFrom(ctx)
	logger := e.logger.With().Str("transport", transport).Str("requested_session_id", req.SessionID).Logger()

	resolved, normalized, detected := e.resolveLanguage(ctx, req)
	e.metrics.RecordLanguage(resolved, detected)

	reply, failure := e.generate(ctx, normalized, resolved, detected)

	// The user message is recorded even when the reply failed.
	sessionID := e.appendMessage(ctx, logger, req.SessionID, repository.AppendInput{
		Content:  req.Message,
		Type:     domain.MessageTypeUser,
		Language: resolved,
	})
	if sessionID == "" {
		sessionID = req.SessionID
	}

	env := domain.ResponseEnvelope{
		Reply:     reply,
		Language:  resolved,
		SessionID: sessionID,
	}
	if failure != nil {
		reason := "responder"
		if errors.Is(failure, domain.ErrTranslationFailure) {
			reason = "translation"
		}
		logger.Warn().Err(failure).Str("session_id", sessionID).Str("reason", reason).Msg("replying with degraded response")
		e.metrics.RecordDegraded(reason)
		env.Reply = domain.DegradedReply
		env.Error = failure.Error()
	} else {
		e.appendMessage(ctx, logger, sessionID, repository.AppendInput{
			Content:  reply,
			Type:     domain.MessageTypeBot,
			Language: resolved,
		})
	}

	elapsed := time.Since(start)
	env.Timestamp = e.now()
	env.ResponseTime = elapsed.Seconds()
	e.metrics.RecordMessage(transport, failure != nil, elapsed)

	e.publish(ctx, domain.Event{
		SessionID: sessionID,
		Type:      domain.EventTypeChatResponse,
		Payload: map[string]any{
			"reply":    env.Reply,
			"language": env.Language,
			"degraded": failure != nil,
		},
	})

	logger.Debug().
		Str("session_id", sessionID).
		Str("language", resolved).
		Bool("detected", detected).
		Dur("elapsed", elapsed).
		Msg("message handled")
	return env
}

// resolveLanguage returns the resolved language, the text for the responder, and whether
// detection was used.
func (e *Engine) resolveLanguage(ctx context.Context, req domain.ChatRequest) (string, string, bool) {
	raw := strings.TrimSpace(req.Language)
	if raw == "" || strings.EqualFold(raw, domain.LanguageAuto) {
		result := e.pipeline.ProcessMultilingualQuery(ctx, req.Message)
		return result.DetectedLanguage, result.NormalizedMessage, true
	}
	declared := language.NormalizeCode(raw)
	if declared == "" {
		declared = domain.DefaultLanguage
	}
	return declared, req.Message, false
}

func (e *Engine) generate(ctx context.Context, normalized, resolved string, detected bool) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	reply, err := e.callResponder(genCtx, normalized)
	if err != nil {
		return "", err
	}

	if !e.shouldTranslate(genCtx, resolved, detected) {
		return reply, nil
	}
	rendered, err := e.pipeline.Translate(genCtx, reply, resolved, domain.DefaultLanguage)
	e.metrics.RecordTranslation(resolved, err)
	if err != nil {
		return "", err
	}
	return rendered, nil
}

func (e *Engine) callResponder(ctx context.Context, normalized string) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(domain.ErrResponderFailure, "responder panic: %v", r)
		}
	}()
	if e.responder == nil {
		return "", errors.Wrap(domain.ErrResponderFailure, "no responder configured")
	}
	reply, err = e.responder.Generate(ctx, normalized)
	if err != nil && !errors.Is(err, domain.ErrResponderFailure) {
		err = errors.Wrap(domain.ErrResponderFailure, err.Error())
	}
	return reply, err
}

func (e *Engine) shouldTranslate(ctx context.Context, resolved string, detected bool) bool {
	fallback := detected && resolved != domain.DefaultLanguage
	if e.policy == nil {
		return fallback
	}
	declared := ""
	if !detected {
		declared = resolved
	}
	ok, err := e.policy.ShouldTranslate(ctx, policy.Input{
		ResolvedLanguage: resolved,
		DeclaredLanguage: declared,
		Detected:         detected,
	})
	if err != nil {
		e.logger.Warn().Err(err).Msg("translation policy failed, using built-in rule")
		return fallback
	}
	return ok
}

// appendMessage appends in to sessionID and publishes the resulting events. It returns
// the effective session identifier, or "" when the store rejected the append.
func (e *Engine) appendMessage(ctx context.Context, logger zerolog.Logger, sessionID string, in repository.AppendInput) string {
	effective, err := e.store.AppendMessage(ctx, sessionID, in)
	if err != nil && effective == "" {
		logger.Error().Err(err).Str("message_type", string(in.Type)).Msg("failed to append message")
		return ""
	}
	if err != nil {
		// Storage errors are already logged and counted by the store.
		logger.Debug().Err(err).Str("session_id", effective).Msg("message kept in memory only")
	}

	if effective != sessionID {
		e.publish(ctx, domain.Event{
			SessionID: effective,
			Type:      domain.EventTypeSessionCreated,
			Payload:   map[string]any{"requested_session_id": sessionID},
		})
	}
	e.publish(ctx, domain.Event{
		SessionID: effective,
		Type:      domain.EventTypeMessageAppended,
		Payload: map[string]any{
			"message_type": string(in.Type),
			"language":     in.Language,
		},
	})
	return effective
}

func (e *Engine) publish(ctx context.Context, ev domain.Event) {
	if e.publisher == nil {
		return
	}
	if origin, ok := ctx.Value(originKey{}).(string); ok && origin != "" {
		if ev.Payload == nil {
			ev.Payload = map[string]any{}
		}
		ev.Payload["origin"] = origin
	}
	if err := e.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		e.logger.Warn().Err(err).Str("type", string(ev.Type)).Str("session_id", ev.SessionID).Msg("failed to publish event")
	}
}
