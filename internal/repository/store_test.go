package repository_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/campusconnect/internal/domain"
	"github.com/xiaot623/campusconnect/internal/repository"
	"github.com/xiaot623/campusconnect/internal/testutil"
)

// recordingPersister records the order in which appended messages reach the backend.
type recordingPersister struct {
	repository.MemoryPersister
	mu       sync.Mutex
	appended []string
}

func (p *recordingPersister) AppendMessage(_ context.Context, _ *domain.Session, msg domain.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.appended = append(p.appended, msg.Content)
	return nil
}

type failingPersister struct {
	repository.MemoryPersister
}

var errDiskFull = errors.New("disk full")

func (failingPersister) SaveSession(context.Context, *domain.Session) error { return errDiskFull }

func (failingPersister) AppendMessage(context.Context, *domain.Session, domain.Message) error {
	return errDiskFull
}

func openStore(t *testing.T, p repository.Persister, opts ...repository.Option) *repository.Store {
	t.Helper()
	s := repository.NewStore(p, opts...)
	require.NoError(t, s.Open(context.Background()))
	return s
}

func TestAppendMessageConcurrentOrder(t *testing.T) {
	ctx := context.Background()
	rec := &recordingPersister{}
	s := openStore(t, rec)
	defer s.Close()

	id, err := s.CreateSession(ctx, "u1")
	require.NoError(t, err)

	const writers, perWriter = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				got, err := s.AppendMessage(ctx, id, repository.AppendInput{
					Content: fmt.Sprintf("w%d-%03d", w, i),
					Type:    domain.MessageTypeUser,
				})
				if err != nil || got != id {
					t.Errorf("append returned (%q, %v)", got, err)
				}
			}
		}(w)
	}
	wg.Wait()

	sess, ok := s.GetSession(ctx, id)
	require.True(t, ok)
	require.Len(t, sess.Messages, writers*perWriter)

	// Each writer's messages keep their relative order.
	last := make(map[string]string)
	inMemory := make([]string, 0, len(sess.Messages))
	for _, m := range sess.Messages {
		writer := strings.SplitN(m.Content, "-", 2)[0]
		if prev, ok := last[writer]; ok && prev >= m.Content {
			t.Fatalf("message %s stored after %s", m.Content, prev)
		}
		last[writer] = m.Content
		inMemory = append(inMemory, m.Content)
	}

	// The backend saw exactly the in-memory order.
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, inMemory, rec.appended)
}

func TestAppendMessageConcurrentSessions(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	ids := make([]string, 4)
	for i := range ids {
		id, err := s.CreateSession(ctx, "")
		require.NoError(t, err)
		ids[i] = id
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(id string, i int) {
				defer wg.Done()
				_, err := s.AppendMessage(ctx, id, repository.AppendInput{Content: fmt.Sprint(i)})
				assert.NoError(t, err)
			}(id, i)
		}
	}
	wg.Wait()

	for _, id := range ids {
		assert.Len(t, s.GetContext(ctx, id, 100), 10)
	}
}

func TestAppendMessageUnknownSessionCreatesNew(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	for _, requested := range []string{"", "does-not-exist"} {
		id, err := s.AppendMessage(ctx, requested, repository.AppendInput{Content: "hi"})
		require.NoError(t, err)
		assert.NotEmpty(t, id)
		assert.NotEqual(t, requested, id)

		sess, ok := s.GetSession(ctx, id)
		require.True(t, ok)
		require.Len(t, sess.Messages, 1)
		assert.Equal(t, domain.MessageTypeUser, sess.Messages[0].Type)
		assert.True(t, sess.Active)
		assert.NotNil(t, sess.LastActivity)
	}
	_, ok := s.GetSession(ctx, "does-not-exist")
	assert.False(t, ok)
}

func TestAppendMessageRejectsUnknownType(t *testing.T) {
	s := testutil.NewTestStore(t)
	_, err := s.AppendMessage(context.Background(), "", repository.AppendInput{Content: "x", Type: "system"})
	assert.Error(t, err)
	assert.Empty(t, s.ListSessions(context.Background()))
}

func TestGetContext(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	id, err := s.CreateSession(ctx, "")
	require.NoError(t, err)
	for i := 0; i < 7; i++ {
		_, err := s.AppendMessage(ctx, id, repository.AppendInput{Content: fmt.Sprint(i)})
		require.NoError(t, err)
	}

	window := s.GetContext(ctx, id, 5)
	require.Len(t, window, 5)
	for i, m := range window {
		assert.Equal(t, fmt.Sprint(i+2), m.Content)
	}

	assert.Len(t, s.GetContext(ctx, id, 50), 7)
	assert.Empty(t, s.GetContext(ctx, id, 0))
	assert.NotNil(t, s.GetContext(ctx, "unknown", 5))
	assert.Empty(t, s.GetContext(ctx, "unknown", 5))

	// Mutating the returned window never touches the store.
	window[0].Content = "changed"
	assert.Equal(t, "2", s.GetContext(ctx, id, 5)[0].Content)
}

func TestListSessionsOrderedByCreation(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	s := testutil.NewTestStore(t, repository.WithClock(clock))

	first, _ := s.CreateSession(ctx, "a")
	second, _ := s.CreateSession(ctx, "b")
	_, _ = s.AppendMessage(ctx, first, repository.AppendInput{Content: "hello"})

	list := s.ListSessions(ctx)
	require.Len(t, list, 2)
	assert.Equal(t, first, list[0].SessionID)
	assert.Equal(t, 1, list[0].MessageCount)
	assert.Equal(t, second, list[1].SessionID)
	assert.Equal(t, 0, list[1].MessageCount)
}

func TestSetContextValue(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	id, _ := s.CreateSession(ctx, "")
	require.NoError(t, s.SetContextValue(ctx, id, "topic", "admissions"))

	sess, _ := s.GetSession(ctx, id)
	assert.Equal(t, "admissions", sess.Context["topic"])

	err := s.SetContextValue(ctx, "missing", "topic", "x")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Error(t, s.SetContextValue(ctx, id, "", "x"))
}

func TestDegradedModeKeepsState(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, &failingPersister{})
	defer s.Close()

	id, err := s.CreateSession(ctx, "")
	require.NotEmpty(t, id)
	var storageErr *domain.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "create", storageErr.Op)
	assert.ErrorIs(t, err, errDiskFull)

	got, err := s.AppendMessage(ctx, id, repository.AppendInput{Content: "still here"})
	assert.Equal(t, id, got)
	assert.True(t, domain.IsStorageError(err))

	window := s.GetContext(ctx, id, 5)
	require.Len(t, window, 1)
	assert.Equal(t, "still here", window[0].Content)
}

func TestClosedStore(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, nil)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.AppendMessage(ctx, "", repository.AppendInput{Content: "late"})
	assert.ErrorIs(t, err, domain.ErrStoreClosed)
	_, err = s.CreateSession(ctx, "")
	assert.ErrorIs(t, err, domain.ErrStoreClosed)
}

func TestUnopenedStore(t *testing.T) {
	s := repository.NewStore(nil)
	_, err := s.CreateSession(context.Background(), "")
	assert.Error(t, err)
}

func seedSession(t *testing.T, s *repository.Store) string {
	t.Helper()
	ctx := context.Background()
	id, err := s.CreateSession(ctx, "student-42")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, id, repository.AppendInput{Content: "namaste", Type: domain.MessageTypeUser, Language: "hi"})
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, id, repository.AppendInput{Content: "[HI] Hello! I received: namaste", Type: domain.MessageTypeBot, Intent: "greeting", Language: "hi"})
	require.NoError(t, err)
	require.NoError(t, s.SetContextValue(ctx, id, "topic", "admissions"))
	require.NoError(t, s.SetContextValue(ctx, id, "visits", 3))
	require.NoError(t, s.SetContextValue(ctx, id, "prefs", map[string]any{"campus": "north", "year": 2}))
	return id
}

func TestFilePersisterRoundTrip(t *testing.T) {
	for _, name := range []string{"conversations.json", "conversations.yaml"} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), name)

			s := openStore(t, repository.NewFilePersister(path))
			id := seedSession(t, s)
			want, _ := s.GetSession(ctx, id)
			require.NoError(t, s.Close())

			reopened := openStore(t, repository.NewFilePersister(path))
			defer reopened.Close()
			got, ok := reopened.GetSession(ctx, id)
			require.True(t, ok)
			assert.Equal(t, want, got)
		})
	}
}

func TestContextValuesAreJSONTyped(t *testing.T) {
	for _, name := range []string{"conversations.json", "conversations.yaml"} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), name)

			s := openStore(t, repository.NewFilePersister(path))
			id := seedSession(t, s)
			before, _ := s.GetSession(ctx, id)
			assert.Equal(t, float64(3), before.Context["visits"])
			require.NoError(t, s.Close())

			reopened := openStore(t, repository.NewFilePersister(path))
			defer reopened.Close()
			after, ok := reopened.GetSession(ctx, id)
			require.True(t, ok)
			assert.Equal(t, float64(3), after.Context["visits"])
			assert.Equal(t, map[string]any{"campus": "north", "year": float64(2)}, after.Context["prefs"])
		})
	}
}

func TestSetContextValueRejectsUnencodable(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	id, err := s.CreateSession(ctx, "")
	require.NoError(t, err)
	assert.Error(t, s.SetContextValue(ctx, id, "fn", func() {}))
}

func TestSQLitePersisterConcurrentSessions(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "sessions.db") + "?_busy_timeout=5000"
	const writers, perWriter = 16, 10

	p, err := repository.NewSQLitePersister(dsn)
	require.NoError(t, err)
	s := openStore(t, p)

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			id := ""
			for i := 0; i < perWriter; i++ {
				var err error
				id, err = s.AppendMessage(ctx, id, repository.AppendInput{Content: fmt.Sprintf("w%d-%d", w, i)})
				if err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	require.NoError(t, s.Close())

	p2, err := repository.NewSQLitePersister(dsn)
	require.NoError(t, err)
	reopened := openStore(t, p2)
	defer reopened.Close()

	sessions := reopened.ListSessions(ctx)
	require.Len(t, sessions, writers)
	total := 0
	for _, sum := range sessions {
		assert.Equal(t, perWriter, sum.MessageCount)
		total += sum.MessageCount
	}
	assert.Equal(t, writers*perWriter, total)
}

func TestFilePersisterCorruptDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conversations.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := openStore(t, repository.NewFilePersister(path))
	defer s.Close()
	assert.Empty(t, s.ListSessions(context.Background()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var aside bool
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "conversations.json.corrupt-") {
			aside = true
		}
	}
	assert.True(t, aside, "corrupt document should be moved aside")

	// New writes go to a fresh document.
	_, err = s.CreateSession(context.Background(), "")
	require.NoError(t, err)
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestSQLitePersisterRoundTrip(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "sessions.db")

	p, err := repository.NewSQLitePersister(dsn)
	require.NoError(t, err)
	s := openStore(t, p)
	id := seedSession(t, s)
	want, _ := s.GetSession(ctx, id)
	require.NoError(t, s.Close())

	p2, err := repository.NewSQLitePersister(dsn)
	require.NoError(t, err)
	reopened := openStore(t, p2)
	defer reopened.Close()

	got, ok := reopened.GetSession(ctx, id)
	require.True(t, ok)
	assert.Equal(t, want.UserID, got.UserID)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	require.NotNil(t, got.LastActivity)
	assert.True(t, want.LastActivity.Equal(*got.LastActivity))
	assert.Equal(t, want.Context, got.Context)
	assert.True(t, got.Active)
	require.Len(t, got.Messages, len(want.Messages))
	for i := range want.Messages {
		assert.Equal(t, want.Messages[i].Content, got.Messages[i].Content)
		assert.Equal(t, want.Messages[i].Type, got.Messages[i].Type)
		assert.Equal(t, want.Messages[i].Intent, got.Messages[i].Intent)
		assert.Equal(t, want.Messages[i].Language, got.Messages[i].Language)
		assert.True(t, want.Messages[i].Timestamp.Equal(got.Messages[i].Timestamp))
	}
}

func TestSQLitePersisterRepairsMissingTail(t *testing.T) {
	ctx := context.Background()
	p, err := repository.NewSQLitePersister(":memory:")
	require.NoError(t, err)
	defer p.Close()

	now := time.Now().UTC()
	sess := &domain.Session{
		SessionID: "s1",
		CreatedAt: now,
		Context:   map[string]any{},
		Active:    true,
		Messages: []domain.Message{
			{Content: "one", Type: domain.MessageTypeUser, Timestamp: now},
			{Content: "two", Type: domain.MessageTypeBot, Timestamp: now},
		},
	}
	require.NoError(t, p.AppendMessage(ctx, sess, sess.Messages[1]))

	sess.Messages = append(sess.Messages, domain.Message{Content: "three", Type: domain.MessageTypeUser, Timestamp: now})
	require.NoError(t, p.AppendMessage(ctx, sess, sess.Messages[2]))

	loaded, err := p.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	var contents []string
	for _, m := range loaded[0].Messages {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"one", "two", "three"}, contents)
}
