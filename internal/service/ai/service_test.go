package ai

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/gpt-bridge/backend/internal/config"
	"github.com/zhouzirui/gpt-bridge/backend/internal/model/catalog"
	chatservice "github.com/zhouzirui/gpt-bridge/backend/internal/service/chat"
)

// fakeModel answers "reply N" and records the messages it was given.
type fakeModel struct {
	mu     sync.Mutex
	inputs [][]*schema.Message
	err    error
}

func (m *fakeModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.inputs = append(m.inputs, input)
	return schema.AssistantMessage("reply to "+input[len(input)-1].Content, nil), nil
}

func (m *fakeModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *fakeModel) lastInput() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inputs[len(m.inputs)-1]
}

func newTestService(fm *fakeModel, historyLimit int) *Service {
	cfg := config.AIConfig{
		Model:        "doubao-pro",
		SystemPrompt: "be brief",
		HistoryLimit: historyLimit,
	}
	models := catalog.NewMemoryStore(catalog.Seed(cfg.Model, []string{"doubao-lite"}))
	return NewService(cfg, chatservice.NewService(), models,
		WithModelFactory(func(context.Context) (model.BaseChatModel, error) { return fm, nil }))
}

func TestOperationsBeforeStart(t *testing.T) {
	svc := newTestService(&fakeModel{}, 10)
	ctx := context.Background()

	_, err := svc.Query(ctx, "hi")
	assert.EqualError(t, err, "session not started")
	_, err = svc.Retry(ctx)
	assert.ErrorIs(t, err, ErrNotStarted)
	_, err = svc.NewChat(ctx)
	assert.ErrorIs(t, err, ErrNotStarted)
	_, err = svc.ChatList(ctx)
	assert.ErrorIs(t, err, ErrNotStarted)
	_, err = svc.ModelList(ctx)
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestStartFailsWhenModelCannotBeBuilt(t *testing.T) {
	svc := NewService(config.AIConfig{}, chatservice.NewService(), catalog.NewMemoryStore(nil),
		WithModelFactory(func(context.Context) (model.BaseChatModel, error) {
			return nil, errors.New("missing credentials")
		}))

	_, err := svc.Start(context.Background())
	assert.EqualError(t, err, "failed to create chat model: missing credentials")
}

func TestQueryCarriesSystemPromptAndHistory(t *testing.T) {
	fm := &fakeModel{}
	svc := newTestService(fm, 10)
	ctx := context.Background()
	_, err := svc.Start(ctx)
	require.NoError(t, err)

	first, err := svc.Query(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, "reply to hello", first.Content)
	assert.Equal(t, "doubao-pro", first.Model)
	assert.NotEmpty(t, first.ChatID)

	second, err := svc.Query(ctx, "again")
	require.NoError(t, err)
	assert.Equal(t, first.ChatID, second.ChatID)

	input := fm.lastInput()
	require.Len(t, input, 4)
	assert.Equal(t, schema.System, input[0].Role)
	assert.Equal(t, "be brief", input[0].Content)
	assert.Equal(t, "hello", input[1].Content)
	assert.Equal(t, "reply to hello", input[2].Content)
	assert.Equal(t, "again", input[3].Content)
}

func TestHistoryIsLimited(t *testing.T) {
	fm := &fakeModel{}
	svc := newTestService(fm, 2)
	ctx := context.Background()
	_, err := svc.Start(ctx)
	require.NoError(t, err)

	for _, p := range []string{"one", "two", "three"} {
		_, err := svc.Query(ctx, p)
		require.NoError(t, err)
	}

	input := fm.lastInput()
	require.Len(t, input, 4)
	assert.Equal(t, "two", input[1].Content)
	assert.Equal(t, "reply to two", input[2].Content)
	assert.Equal(t, "three", input[3].Content)
}

func TestRetryRegeneratesLastAnswer(t *testing.T) {
	fm := &fakeModel{}
	svc := newTestService(fm, 10)
	ctx := context.Background()
	_, err := svc.Start(ctx)
	require.NoError(t, err)

	_, err = svc.Retry(ctx)
	assert.EqualError(t, err, "nothing to retry")

	_, err = svc.Query(ctx, "question")
	require.NoError(t, err)

	reply, err := svc.Retry(ctx)
	require.NoError(t, err)
	assert.Equal(t, "reply to question", reply.Content)

	input := fm.lastInput()
	require.Len(t, input, 2)
	assert.Equal(t, "question", input[1].Content)

	transcript, err := svc.conversations.LoadTranscript(ctx, reply.ChatID)
	require.NoError(t, err)
	assert.Len(t, transcript, 2)
}

func TestFailedGenerationKeepsUserTurnForRetry(t *testing.T) {
	fm := &fakeModel{err: errors.New("rate limited")}
	svc := newTestService(fm, 10)
	ctx := context.Background()
	_, err := svc.Start(ctx)
	require.NoError(t, err)

	_, err = svc.Query(ctx, "question")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")

	fm.err = nil
	reply, err := svc.Retry(ctx)
	require.NoError(t, err)
	assert.Equal(t, "reply to question", reply.Content)
}

func TestChatSwitching(t *testing.T) {
	svc := newTestService(&fakeModel{}, 10)
	ctx := context.Background()
	_, err := svc.Start(ctx)
	require.NoError(t, err)

	first, err := svc.Query(ctx, "first topic")
	require.NoError(t, err)

	fresh, err := svc.NewChat(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.ChatID, fresh.ID)

	chats, err := svc.ChatList(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, first.ChatID, chats[0].ID)
	assert.Equal(t, "first topic", chats[0].Title)
	assert.False(t, chats[0].Active)
	assert.True(t, chats[1].Active)

	ref, err := svc.SelectChat(ctx, &first.ChatID)
	require.NoError(t, err)
	assert.Equal(t, first.ChatID, ref.ID)

	reply, err := svc.Query(ctx, "follow up")
	require.NoError(t, err)
	assert.Equal(t, first.ChatID, reply.ChatID)

	missing := "missing"
	_, err = svc.SelectChat(ctx, &missing)
	assert.EqualError(t, err, "chat not found")
	_, err = svc.SelectChat(ctx, nil)
	assert.ErrorIs(t, err, ErrChatIDRequired)
}

func TestModelListMarksConfiguredModel(t *testing.T) {
	svc := newTestService(&fakeModel{}, 10)
	ctx := context.Background()
	_, err := svc.Start(ctx)
	require.NoError(t, err)

	models, err := svc.ModelList(ctx)
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "doubao-pro", models[0].ID)
	assert.True(t, models[0].Selected)
	assert.False(t, models[1].Selected)
}

func TestClosingReplacedSessionKeepsCurrent(t *testing.T) {
	svc := newTestService(&fakeModel{}, 10)
	ctx := context.Background()

	old, err := svc.Start(ctx)
	require.NoError(t, err)
	_, err = svc.Start(ctx)
	require.NoError(t, err)

	require.NoError(t, old.Close())
	_, err = svc.Query(ctx, "still alive")
	assert.NoError(t, err)
}
