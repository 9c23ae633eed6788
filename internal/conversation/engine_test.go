package conversation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/campusconnect/internal/domain"
	"github.com/xiaot623/campusconnect/internal/language"
	"github.com/xiaot623/campusconnect/internal/metrics"
	"github.com/xiaot623/campusconnect/internal/policy"
	"github.com/xiaot623/campusconnect/internal/repository"
	"github.com/xiaot623/campusconnect/internal/responder"
	"github.com/xiaot623/campusconnect/internal/testutil"
)

type stubDetector struct {
	code  string
	calls *atomic.Int32
}

func (d stubDetector) Detect(context.Context, string) (string, bool, error) {
	if d.calls != nil {
		d.calls.Add(1)
	}
	return d.code, true, nil
}

type failingTranslator struct{}

func (failingTranslator) Translate(context.Context, string, string, string) (string, error) {
	return "", errors.New("translator offline")
}

type panickingTranslator struct{}

func (panickingTranslator) Translate(context.Context, string, string, string) (string, error) {
	panic("translator backend blew up")
}

type responderFunc func(ctx context.Context, normalized string) (string, error)

func (f responderFunc) Generate(ctx context.Context, normalized string) (string, error) {
	return f(ctx, normalized)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

func newEngine(t *testing.T, detected string, opts ...Option) (*Engine, *repository.Store) {
	t.Helper()
	store := testutil.NewTestStore(t)
	pipeline := language.NewPipeline(stubDetector{code: detected}, language.MarkerTranslator{})
	return NewEngine(pipeline, responder.EchoResponder{}, store, opts...), store
}

func TestHandleMessageEnglish(t *testing.T) {
	ctx := WithTransport(context.Background(), "http")
	engine, store := newEngine(t, "en")

	env := engine.HandleMessage(ctx, domain.ChatRequest{Message: "hello", Language: "auto"})

	assert.Equal(t, "Hello! I received: hello", env.Reply)
	assert.Equal(t, "en", env.Language)
	assert.Empty(t, env.Error)
	require.NotEmpty(t, env.SessionID)
	assert.False(t, env.Timestamp.IsZero())

	msgs := store.GetContext(ctx, env.SessionID, 5)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.MessageTypeUser, msgs[0].Type)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "en", msgs[0].Language)
	assert.Equal(t, domain.MessageTypeBot, msgs[1].Type)
	assert.Equal(t, env.Reply, msgs[1].Content)
}

func TestHandleMessageDetectedHindiIsRendered(t *testing.T) {
	ctx := context.Background()
	engine, store := newEngine(t, "hi")

	env := engine.HandleMessage(ctx, domain.ChatRequest{Message: "hello"})

	assert.Equal(t, "[HI] Hello! I received: hello", env.Reply)
	assert.Equal(t, "hi", env.Language)

	// The user's own text is stored as sent.
	msgs := store.GetContext(ctx, env.SessionID, 5)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "hi", msgs[0].Language)
	assert.Equal(t, "[HI] Hello! I received: hello", msgs[1].Content)
	assert.Equal(t, "hi", msgs[1].Language)
}

func TestHandleMessageDeclaredLanguageSkipsDetection(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	store := testutil.NewTestStore(t)
	pipeline := language.NewPipeline(stubDetector{code: "fr", calls: &calls}, language.MarkerTranslator{})
	engine := NewEngine(pipeline, responder.EchoResponder{}, store)

	env := engine.HandleMessage(ctx, domain.ChatRequest{Message: "hello", Language: "HI"})

	assert.Equal(t, "hi", env.Language)
	assert.Equal(t, "Hello! I received: hello", env.Reply)
	assert.Zero(t, calls.Load())
}

func TestHandleMessageReusesSession(t *testing.T) {
	ctx := context.Background()
	engine, store := newEngine(t, "en")

	first := engine.HandleMessage(ctx, domain.ChatRequest{Message: "one"})
	second := engine.HandleMessage(ctx, domain.ChatRequest{Message: "two", SessionID: first.SessionID})

	assert.Equal(t, first.SessionID, second.SessionID)
	msgs := store.GetContext(ctx, first.SessionID, 10)
	require.Len(t, msgs, 4)
	assert.Equal(t, "two", msgs[2].Content)
}

func TestHandleMessageUnknownSessionPublishesCreation(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	engine, _ := newEngine(t, "en", WithPublisher(pub))

	env := engine.HandleMessage(ctx, domain.ChatRequest{Message: "hello", SessionID: "stale-id"})

	assert.NotEqual(t, "stale-id", env.SessionID)
	assert.Equal(t, []domain.EventType{
		domain.EventTypeSessionCreated,
		domain.EventTypeMessageAppended,
		domain.EventTypeMessageAppended,
		domain.EventTypeChatResponse,
	}, pub.types())
	for _, ev := range pub.events {
		assert.Equal(t, env.SessionID, ev.SessionID)
	}
}

func TestHandleMessageResponderFailure(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewTestStore(t)
	m := metrics.New(prometheus.NewRegistry())
	pipeline := language.NewPipeline(stubDetector{code: "en"}, language.MarkerTranslator{})
	failing := responderFunc(func(context.Context, string) (string, error) {
		return "", errors.New("model unavailable")
	})
	engine := NewEngine(pipeline, failing, store, WithMetrics(m))

	env := engine.HandleMessage(ctx, domain.ChatRequest{Message: "hello"})

	assert.Equal(t, domain.DegradedReply, env.Reply)
	assert.Contains(t, env.Error, "model unavailable")
	require.NotEmpty(t, env.SessionID)

	msgs := store.GetContext(ctx, env.SessionID, 5)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.MessageTypeUser, msgs[0].Type)
	assert.Equal(t, 1.0, promtest.ToFloat64(m.DegradedReplies.WithLabelValues("responder")))
}

func TestHandleMessageResponderPanic(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewTestStore(t)
	pipeline := language.NewPipeline(stubDetector{code: "en"}, language.MarkerTranslator{})
	panicking := responderFunc(func(context.Context, string) (string, error) {
		panic("boom")
	})
	engine := NewEngine(pipeline, panicking, store)

	env := engine.HandleMessage(ctx, domain.ChatRequest{Message: "hello"})
	assert.Equal(t, domain.DegradedReply, env.Reply)
	assert.Contains(t, env.Error, "boom")
}

func TestHandleMessageTranslationFailure(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewTestStore(t)
	pipeline := language.NewPipeline(stubDetector{code: "es"}, failingTranslator{})
	engine := NewEngine(pipeline, responder.EchoResponder{}, store)

	env := engine.HandleMessage(ctx, domain.ChatRequest{Message: "hola"})

	assert.Equal(t, domain.DegradedReply, env.Reply)
	assert.Equal(t, "es", env.Language)
	assert.Contains(t, env.Error, "translation failed")
	assert.Len(t, store.GetContext(ctx, env.SessionID, 5), 1)
}

func TestHandleMessageTranslatorPanic(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewTestStore(t)
	pipeline := language.NewPipeline(stubDetector{code: "hi"}, panickingTranslator{})
	engine := NewEngine(pipeline, responder.EchoResponder{}, store)

	var env domain.ResponseEnvelope
	require.NotPanics(t, func() {
		env = engine.HandleMessage(ctx, domain.ChatRequest{Message: "namaste"})
	})
	assert.Equal(t, domain.DegradedReply, env.Reply)
	assert.NotEmpty(t, env.Error)
	assert.Equal(t, "hi", env.Language)
	assert.Len(t, store.GetContext(ctx, env.SessionID, 5), 1)
}

func TestHandleMessageResponderTimeout(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewTestStore(t)
	pipeline := language.NewPipeline(stubDetector{code: "en"}, language.MarkerTranslator{})
	stalled := responderFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	engine := NewEngine(pipeline, stalled, store, WithTimeout(20*time.Millisecond))

	env := engine.HandleMessage(ctx, domain.ChatRequest{Message: "hello"})
	assert.Equal(t, domain.DegradedReply, env.Reply)
	assert.Contains(t, env.Error, context.DeadlineExceeded.Error())
}

type brokenPersister struct {
	repository.MemoryPersister
}

func (*brokenPersister) SaveSession(context.Context, *domain.Session) error {
	return errors.New("read-only filesystem")
}

func (*brokenPersister) AppendMessage(context.Context, *domain.Session, domain.Message) error {
	return errors.New("read-only filesystem")
}

func TestHandleMessageStorageDegraded(t *testing.T) {
	ctx := context.Background()
	store := repository.NewStore(&brokenPersister{})
	require.NoError(t, store.Open(ctx))
	defer store.Close()

	pipeline := language.NewPipeline(stubDetector{code: "en"}, language.MarkerTranslator{})
	engine := NewEngine(pipeline, responder.EchoResponder{}, store)

	env := engine.HandleMessage(ctx, domain.ChatRequest{Message: "hello"})

	assert.Equal(t, "Hello! I received: hello", env.Reply)
	assert.Empty(t, env.Error)
	assert.Len(t, store.GetContext(ctx, env.SessionID, 5), 2)
}

func TestHandleMessageWithRegoPolicy(t *testing.T) {
	ctx := context.Background()
	engineDefault, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	require.NoError(t, err)

	conv, _ := newEngine(t, "ja", WithPolicy(engineDefault))
	env := conv.HandleMessage(ctx, domain.ChatRequest{Message: "konnichiwa"})
	assert.Equal(t, "[JA] Hello! I received: konnichiwa", env.Reply)

	always, err := policy.NewEngine(ctx, `
package translation_policy

import rego.v1

default decision := "translate"
`)
	require.NoError(t, err)
	conv, _ = newEngine(t, "en", WithPolicy(always))
	env = conv.HandleMessage(ctx, domain.ChatRequest{Message: "bonjour", Language: "fr"})
	assert.Equal(t, "[FR] Hello! I received: bonjour", env.Reply)
}

func TestHandleMessageConcurrentSameSession(t *testing.T) {
	ctx := context.Background()
	engine, store := newEngine(t, "en")
	first := engine.HandleMessage(ctx, domain.ChatRequest{Message: "start"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env := engine.HandleMessage(ctx, domain.ChatRequest{Message: "ping", SessionID: first.SessionID})
			assert.Equal(t, first.SessionID, env.SessionID)
		}()
	}
	wg.Wait()

	assert.Len(t, store.GetContext(ctx, first.SessionID, 100), 42)
}
