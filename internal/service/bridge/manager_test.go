package bridge_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/gpt-bridge/backend/internal/model/chat"
	"github.com/zhouzirui/gpt-bridge/backend/internal/monitoring"
	"github.com/zhouzirui/gpt-bridge/backend/internal/service/bridge"
	"github.com/zhouzirui/gpt-bridge/backend/internal/service/bridge/bridgetest"
	"github.com/zhouzirui/gpt-bridge/backend/internal/service/journal"
)

type memJournal struct {
	mu   sync.Mutex
	recs []journal.Exchange
	err  error
}

func (j *memJournal) Record(_ context.Context, e journal.Exchange) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recs = append(j.recs, e)
	return j.err
}

func (j *memJournal) records() []journal.Exchange {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]journal.Exchange(nil), j.recs...)
}

func TestStartStoresHandle(t *testing.T) {
	backend := &bridgetest.Backend{}
	m := bridge.NewManager(backend)

	h, err := m.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "session-1", h.ID())
	assert.Same(t, h, m.Current())
}

func TestStartReplacesAndReleasesPrevious(t *testing.T) {
	backend := &bridgetest.Backend{}
	metrics := monitoring.NewMetrics()
	m := bridge.NewManager(backend, bridge.WithMetrics(metrics))
	ctx := context.Background()

	_, err := m.Start(ctx)
	require.NoError(t, err)
	second, err := m.Start(ctx)
	require.NoError(t, err)

	started := backend.Started()
	require.Len(t, started, 2)
	assert.True(t, started[0].Closed())
	assert.False(t, started[1].Closed())
	assert.Same(t, second, m.Current())
}

func TestStartReleaseFailureIsNotSurfaced(t *testing.T) {
	first := bridgetest.NewHandle("first")
	first.CloseErr = errors.New("tab already gone")
	handles := []chat.Handle{first, bridgetest.NewHandle("second")}
	var n int
	backend := &bridgetest.Backend{StartFunc: func(context.Context) (chat.Handle, error) {
		h := handles[n]
		n++
		return h, nil
	}}
	m := bridge.NewManager(backend)

	_, err := m.Start(context.Background())
	require.NoError(t, err)
	_, err = m.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, first.Closed())
	assert.Equal(t, "second", m.Current().ID())
}

func TestStartFailureKeepsSlot(t *testing.T) {
	backend := &bridgetest.Backend{}
	m := bridge.NewManager(backend)
	ctx := context.Background()

	h, err := m.Start(ctx)
	require.NoError(t, err)

	backend.StartFunc = func(context.Context) (chat.Handle, error) {
		return nil, errors.New("launch failed")
	}
	_, err = m.Start(ctx)
	require.EqualError(t, err, "launch failed")
	assert.Same(t, h, m.Current())
	assert.False(t, h.(*bridgetest.Handle).Closed())
}

func TestStartWithoutHandleFails(t *testing.T) {
	backend := &bridgetest.Backend{}
	m := bridge.NewManager(backend)
	prev, err := m.Start(context.Background())
	require.NoError(t, err)

	backend.StartFunc = func(context.Context) (chat.Handle, error) { return nil, nil }

	h, err := m.Start(context.Background())
	assert.Nil(t, h)
	assert.ErrorIs(t, err, bridge.ErrNoSession)
	assert.Same(t, prev, m.Current())
	assert.False(t, prev.(*bridgetest.Handle).Closed())
}

func TestConcurrentStartsBothSucceed(t *testing.T) {
	backend := &bridgetest.Backend{}
	m := bridge.NewManager(backend)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Start(context.Background())
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	started := backend.Started()
	require.Len(t, started, 2)
	current := m.Current()
	require.NotNil(t, current)
	assert.Contains(t, []string{started[0].ID(), started[1].ID()}, current.ID())

	closed := 0
	for _, h := range started {
		if h.Closed() {
			closed++
			assert.NotEqual(t, current.ID(), h.ID())
		}
	}
	assert.Equal(t, 1, closed)
}

func TestOperationsForwardWithoutSession(t *testing.T) {
	backend := &bridgetest.Backend{}
	m := bridge.NewManager(backend)
	ctx := context.Background()

	reply, err := m.Query(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", reply.Content)
	assert.Equal(t, 1, backend.Calls("query"))
	assert.Nil(t, m.Current())
}

func TestErrorsAreReturnedVerbatim(t *testing.T) {
	backend := &bridgetest.Backend{
		RetryFunc: func(context.Context) (chat.Reply, error) {
			return chat.Reply{}, errors.New("nothing to retry")
		},
	}
	m := bridge.NewManager(backend)

	_, err := m.Retry(context.Background())
	assert.EqualError(t, err, "nothing to retry")
}

func TestJournalRecordsOperations(t *testing.T) {
	j := &memJournal{}
	backend := &bridgetest.Backend{
		QueryFunc: func(_ context.Context, prompt string) (chat.Reply, error) {
			return chat.Reply{ChatID: "c1", Content: "hi " + prompt}, nil
		},
		ChatListFunc: func(context.Context) ([]chat.Chat, error) {
			return nil, errors.New("sidebar missing")
		},
	}
	m := bridge.NewManager(backend, bridge.WithJournal(j))
	ctx := context.Background()

	_, _ = m.Query(ctx, "there")
	_, _ = m.ChatList(ctx)
	id := "c9"
	_, _ = m.SelectChat(ctx, &id)

	recs := j.records()
	require.Len(t, recs, 3)
	assert.Equal(t, bridge.OpQuery, recs[0].Operation)
	assert.Equal(t, "c1", recs[0].ChatID)
	assert.Equal(t, "there", recs[0].Prompt)
	assert.Equal(t, "hi there", recs[0].Reply)
	assert.Equal(t, bridge.OpChatList, recs[1].Operation)
	assert.Equal(t, "sidebar missing", recs[1].Error)
	assert.Equal(t, "c9", recs[2].ChatID)
}

func TestJournalFailureDoesNotFailCall(t *testing.T) {
	j := &memJournal{err: errors.New("disk full")}
	m := bridge.NewManager(&bridgetest.Backend{}, bridge.WithJournal(j))

	_, err := m.NewChat(context.Background())
	assert.NoError(t, err)
	assert.Len(t, j.records(), 1)
}

func TestCloseReleasesSession(t *testing.T) {
	backend := &bridgetest.Backend{}
	m := bridge.NewManager(backend)

	require.NoError(t, m.Close())

	_, err := m.Start(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.Close())

	assert.True(t, backend.Started()[0].Closed())
	assert.Nil(t, m.Current())
}
