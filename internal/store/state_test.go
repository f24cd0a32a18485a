package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finanzas-ai/coordinator/internal/model"
	"github.com/finanzas-ai/coordinator/pkg/logger"
)

type fakeConvRepo struct {
	byID     map[uuid.UUID]*model.Conversation
	activeBy map[uuid.UUID]*model.Conversation

	createCalls int
	updateCalls int
	patchCalls  int
	lastPatch   model.RoutingPatch
	getActiveN  int
	failWrites  bool
	statusByID  map[uuid.UUID]model.ConversationStatus
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{
		byID:       map[uuid.UUID]*model.Conversation{},
		activeBy:   map[uuid.UUID]*model.Conversation{},
		statusByID: map[uuid.UUID]model.ConversationStatus{},
	}
}

func (f *fakeConvRepo) GetActive(_ context.Context, userID uuid.UUID) (*model.Conversation, error) {
	f.getActiveN++
	return f.activeBy[userID], nil
}

func (f *fakeConvRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Conversation, error) {
	return f.byID[id], nil
}

func (f *fakeConvRepo) Create(_ context.Context, conv *model.Conversation) error {
	f.createCalls++
	if f.failWrites {
		return errors.New("postgres down")
	}
	f.byID[conv.ID] = conv
	f.activeBy[conv.UserID] = conv
	return nil
}

func (f *fakeConvRepo) Update(_ context.Context, conv *model.Conversation) error {
	f.updateCalls++
	if f.failWrites {
		return errors.New("postgres down")
	}
	f.byID[conv.ID] = conv
	return nil
}

func (f *fakeConvRepo) PatchRouting(_ context.Context, id uuid.UUID, patch model.RoutingPatch) error {
	f.patchCalls++
	f.lastPatch = patch
	return nil
}

func (f *fakeConvRepo) SetStatus(_ context.Context, id uuid.UUID, status model.ConversationStatus) error {
	f.statusByID[id] = status
	return nil
}

func (f *fakeConvRepo) ExpireStale(_ context.Context) (int64, error) { return 0, nil }

type fakeUserRepo struct {
	byPhone      map[string]*model.User
	getOrCreateN int
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byPhone: map[string]*model.User{}}
}

func (f *fakeUserRepo) GetByPhone(_ context.Context, phone string) (*model.User, error) {
	return f.byPhone[NormalizePhone(phone)], nil
}

func (f *fakeUserRepo) GetOrCreate(_ context.Context, phone string) (*model.User, error) {
	f.getOrCreateN++
	key := NormalizePhone(phone)
	if u, ok := f.byPhone[key]; ok {
		return u, nil
	}
	u := &model.User{ID: uuid.Must(uuid.NewV7()), PhoneNumber: key}
	f.byPhone[key] = u
	return u, nil
}

func (f *fakeUserRepo) Update(_ context.Context, user *model.User) error {
	f.byPhone[user.PhoneNumber] = user
	return nil
}

func newTestStateStore(convs ConversationRepo, users UserRepo) (*StateStore, *memKV) {
	kv := newMemKV()
	cache := NewConversationCache(kv, time.Hour)
	ss := NewStateStore(cache, convs, users, 30*time.Minute, time.Second, time.Second, logger.NewNop())
	return ss, kv
}

func TestLoadProvisionsUserOnFirstContact(t *testing.T) {
	convs := newFakeConvRepo()
	users := newFakeUserRepo()
	ss, _ := newTestStateStore(convs, users)

	snap, err := ss.Load(context.Background(), "whatsapp:+51999888777")
	require.NoError(t, err)

	assert.Equal(t, 1, users.getOrCreateN)
	assert.NotNil(t, snap.User)
	assert.Equal(t, "51999888777", snap.User.PhoneNumber)
	assert.Equal(t, uuid.Nil, snap.ConversationID)
	assert.False(t, snap.FromCache)
	assert.False(t, snap.Locked)
}

func TestLoadCacheHitSkipsDurableStore(t *testing.T) {
	convs := newFakeConvRepo()
	users := newFakeUserRepo()
	ss, _ := newTestStateStore(convs, users)
	ctx := context.Background()

	// First load populates the cache.
	first, err := ss.Load(ctx, "+51999888777")
	require.NoError(t, err)

	snap, err := ss.Load(ctx, "+51999888777")
	require.NoError(t, err)

	assert.True(t, snap.FromCache)
	assert.Equal(t, first.User.ID, snap.User.ID)
	assert.Equal(t, 1, users.getOrCreateN)
	assert.Equal(t, 1, convs.getActiveN)
}

func TestLoadRebuildsFromDurableAfterInvalidate(t *testing.T) {
	convs := newFakeConvRepo()
	users := newFakeUserRepo()
	ss, _ := newTestStateStore(convs, users)
	ctx := context.Background()

	user, err := users.GetOrCreate(ctx, "+51999888777")
	require.NoError(t, err)

	conv := model.NewConversation(user.ID, "expense_registration", "confirm_amount", 30*time.Minute)
	conv.Lock(model.HandlerExpense, "flow in progress")
	require.NoError(t, convs.Create(ctx, conv))

	snap, err := ss.Load(ctx, "+51999888777")
	require.NoError(t, err)

	assert.False(t, snap.FromCache)
	assert.Equal(t, conv.ID, snap.ConversationID)
	assert.True(t, snap.Locked)
	assert.Equal(t, model.HandlerExpense, snap.ActiveHandler)
	assert.Equal(t, "expense_registration", snap.CurrentFlow)

	// The rebuild repopulated the cache.
	again, err := ss.Load(ctx, "+51999888777")
	require.NoError(t, err)
	assert.True(t, again.FromCache)
	assert.Equal(t, conv.ID, again.ConversationID)

	require.NoError(t, ss.Invalidate(ctx, "+51999888777"))
	third, err := ss.Load(ctx, "+51999888777")
	require.NoError(t, err)
	assert.False(t, third.FromCache)
}

func TestSaveCreatesConversationAndWritesCache(t *testing.T) {
	convs := newFakeConvRepo()
	users := newFakeUserRepo()
	ss, _ := newTestStateStore(convs, users)
	ctx := context.Background()

	user, err := users.GetOrCreate(ctx, "+51999888777")
	require.NoError(t, err)

	err = ss.Save(ctx, &TurnState{
		Phone:           "+51999888777",
		User:            user,
		CurrentFlow:     "expense_registration",
		CurrentStep:     "confirm_amount",
		ActiveHandler:   model.HandlerExpense,
		Locked:          true,
		LockReason:      "awaiting_input_amount",
		LastUserMessage: "gasté 50",
		LastBotMessage:  "¿Cuánto fue exactamente?",
		MessageCount:    1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, convs.createCalls)

	snap, err := ss.Load(ctx, "+51999888777")
	require.NoError(t, err)
	assert.True(t, snap.FromCache)
	assert.True(t, snap.Locked)
	assert.Equal(t, model.HandlerExpense, snap.ActiveHandler)
	assert.Equal(t, "awaiting_input_amount", snap.LockReason)
	assert.Equal(t, "¿Cuánto fue exactamente?", snap.LastBotMessage)
}

func TestSavePersistedHandlerPatchesRoutingOnly(t *testing.T) {
	convs := newFakeConvRepo()
	users := newFakeUserRepo()
	ss, _ := newTestStateStore(convs, users)
	ctx := context.Background()

	user, err := users.GetOrCreate(ctx, "+51999888777")
	require.NoError(t, err)

	conv := model.NewConversation(user.ID, "onboarding", "ask_currency", 30*time.Minute)
	require.NoError(t, convs.Create(ctx, conv))
	convs.createCalls = 0

	err = ss.Save(ctx, &TurnState{
		Phone:            "+51999888777",
		User:             user,
		ConversationID:   conv.ID,
		ActiveHandler:    model.HandlerConfiguration,
		Locked:           true,
		LockReason:       "awaiting_input_currency",
		AlreadyPersisted: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, convs.patchCalls)
	assert.Zero(t, convs.createCalls)
	assert.Zero(t, convs.updateCalls)
	assert.Equal(t, "configuration", convs.lastPatch.ActiveHandler)
	assert.True(t, convs.lastPatch.Locked)
	assert.Equal(t, "awaiting_input_currency", convs.lastPatch.LockReason)
}

func TestSaveDurableFailureStillWritesCache(t *testing.T) {
	convs := newFakeConvRepo()
	convs.failWrites = true
	users := newFakeUserRepo()
	ss, kv := newTestStateStore(convs, users)
	ctx := context.Background()

	user, err := users.GetOrCreate(ctx, "+51999888777")
	require.NoError(t, err)

	err = ss.Save(ctx, &TurnState{
		Phone:          "+51999888777",
		User:           user,
		CurrentFlow:    "expense_registration",
		ActiveHandler:  model.HandlerExpense,
		LastBotMessage: "anotado",
	})
	require.Error(t, err)

	// The cache entry exists so the conversation can continue.
	kv.mu.Lock()
	_, ok := kv.data["conv:51999888777"]
	kv.mu.Unlock()
	assert.True(t, ok)
}
