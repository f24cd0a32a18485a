package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finanzas-ai/coordinator/internal/agent"
	"github.com/finanzas-ai/coordinator/internal/model"
	"github.com/finanzas-ai/coordinator/internal/router"
	"github.com/finanzas-ai/coordinator/internal/store"
	"github.com/finanzas-ai/coordinator/pkg/logger"
)

type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemKV() *memKV { return &memKV{data: map[string][]byte{}} }

func (m *memKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return v, nil
}

func (m *memKV) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memKV) SetNX(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value
	return true, nil
}

type memConvRepo struct {
	mu       sync.Mutex
	byID     map[uuid.UUID]*model.Conversation
	statuses map[uuid.UUID]model.ConversationStatus
	patches  int
	updates  int
}

func newMemConvRepo() *memConvRepo {
	return &memConvRepo{
		byID:     map[uuid.UUID]*model.Conversation{},
		statuses: map[uuid.UUID]model.ConversationStatus{},
	}
}

func (m *memConvRepo) GetActive(_ context.Context, userID uuid.UUID) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.byID {
		if c.UserID == userID && c.Status == model.StatusActive {
			return c, nil
		}
	}
	return nil, nil
}

func (m *memConvRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id], nil
}

func (m *memConvRepo) Create(_ context.Context, conv *model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[conv.ID] = conv
	return nil
}

func (m *memConvRepo) Update(_ context.Context, conv *model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	m.byID[conv.ID] = conv
	return nil
}

func (m *memConvRepo) PatchRouting(_ context.Context, id uuid.UUID, patch model.RoutingPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patches++
	if c, ok := m.byID[id]; ok {
		c.ActiveHandler = patch.ActiveHandler
		c.Locked = patch.Locked
		c.LockReason = patch.LockReason
	}
	return nil
}

func (m *memConvRepo) SetStatus(_ context.Context, id uuid.UUID, status model.ConversationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[id] = status
	if c, ok := m.byID[id]; ok {
		c.Status = status
	}
	return nil
}

func (m *memConvRepo) ExpireStale(_ context.Context) (int64, error) { return 0, nil }

type memUserRepo struct {
	mu      sync.Mutex
	byPhone map[string]*model.User
}

func newMemUserRepo() *memUserRepo { return &memUserRepo{byPhone: map[string]*model.User{}} }

func (m *memUserRepo) GetByPhone(_ context.Context, phone string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byPhone[store.NormalizePhone(phone)], nil
}

func (m *memUserRepo) GetOrCreate(_ context.Context, phone string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := store.NormalizePhone(phone)
	if u, ok := m.byPhone[key]; ok {
		return u, nil
	}
	u := &model.User{ID: uuid.Must(uuid.NewV7()), PhoneNumber: key}
	m.byPhone[key] = u
	return u, nil
}

func (m *memUserRepo) Update(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byPhone[user.PhoneNumber] = user
	return nil
}

type memExpenseRepo struct {
	mu       sync.Mutex
	expenses []model.Expense
}

func (m *memExpenseRepo) Create(_ context.Context, expense *model.Expense) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expenses = append(m.expenses, *expense)
	return nil
}

func (m *memExpenseRepo) SummarizeSince(_ context.Context, userID uuid.UUID, since time.Time) ([]store.ExpenseSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total float64
	var count int64
	for _, e := range m.expenses {
		if e.UserID == userID && !e.SpentAt.Before(since) {
			total += e.Amount
			count++
		}
	}
	if count == 0 {
		return nil, nil
	}
	return []store.ExpenseSummary{{Currency: "PEN", Total: total, Count: count}}, nil
}

func (m *memExpenseRepo) Recent(_ context.Context, _ uuid.UUID, _ int) ([]model.Expense, error) {
	return nil, nil
}

// pingHandler always hands off to its partner, to exercise the loop bound.
type pingHandler struct {
	id     model.HandlerID
	target model.HandlerID
	calls  int
}

func (p *pingHandler) Name() model.HandlerID { return p.id }

func (p *pingHandler) Handle(_ context.Context, _ *agent.Request) (*model.HandlerResponse, error) {
	p.calls++
	return model.HandoffResponse("rebotando", p.id, p.target, "ping", nil), nil
}

type fixture struct {
	orch     *Orchestrator
	convs    *memConvRepo
	users    *memUserRepo
	expenses *memExpenseRepo
	state    *store.StateStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	convs := newMemConvRepo()
	users := newMemUserRepo()
	expenses := &memExpenseRepo{}

	cache := store.NewConversationCache(newMemKV(), time.Hour)
	state := store.NewStateStore(cache, convs, users, 30*time.Minute, time.Second, time.Second, logger.NewNop())

	registry := agent.NewRegistry(logger.NewNop(),
		agent.NewCommandHandler(state, expenses),
		agent.NewExpenseHandler(expenses),
		agent.NewQueryHandler(expenses),
		agent.NewConfigurationHandler(state, 30*time.Minute),
	)

	rt := router.New(nil, time.Second, logger.NewNop())
	orch := New(state, rt, registry, nil, logger.NewNop())

	return &fixture{orch: orch, convs: convs, users: users, expenses: expenses, state: state}
}

// seedUser provisions an onboarded user so tests skip the onboarding gate.
func (f *fixture) seedUser(t *testing.T) *model.User {
	t.Helper()
	user, err := f.users.GetOrCreate(context.Background(), "+51999888777")
	require.NoError(t, err)
	user.FullName = "Rosa"
	user.HomeCurrency = "PEN"
	user.Timezone = "America/Lima"
	user.OnboardingCompleted = true
	return user
}

func TestProcessRegistersExpense(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t)

	res := f.orch.Process(context.Background(), Inbound{
		Phone:     "+51999888777",
		Message:   "gasté 50 soles en taxi",
		MessageID: "SM1",
	})

	assert.True(t, res.Success)
	assert.Equal(t, model.HandlerExpense, res.HandlerUsed)
	assert.Equal(t, model.MethodKeyword, res.RoutingMethod)
	assert.Contains(t, res.ReplyText, "Gasto registrado")
	assert.Len(t, f.expenses.expenses, 1)
	assert.NotEqual(t, uuid.Nil, res.ConversationID)
}

func TestProcessOnboardingGate(t *testing.T) {
	f := newFixture(t)

	res := f.orch.Process(context.Background(), Inbound{
		Phone:     "+51999888777",
		Message:   "gasté 50 soles en taxi",
		MessageID: "SM1",
	})

	assert.Equal(t, model.HandlerConfiguration, res.HandlerUsed)
	assert.Equal(t, model.MethodOnboarding, res.RoutingMethod)
	assert.Contains(t, res.ReplyText, "cómo te llamas")
	assert.Empty(t, f.expenses.expenses)
}

func TestProcessLockStickiness(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t)
	ctx := context.Background()

	// First message starts an expense flow waiting for the amount.
	first := f.orch.Process(ctx, Inbound{Phone: "+51999888777", Message: "pagué el almuerzo con tarjeta", MessageID: "SM1"})
	require.Equal(t, model.HandlerExpense, first.HandlerUsed)
	require.Contains(t, first.ReplyText, "Cuánto fue")

	// An ambiguous answer stays with the locked handler instead of
	// escalating to classification.
	second := f.orch.Process(ctx, Inbound{Phone: "+51999888777", Message: "85", MessageID: "SM2"})
	assert.Equal(t, model.HandlerExpense, second.HandlerUsed)
	assert.Equal(t, model.MethodLocked, second.RoutingMethod)
	assert.Contains(t, second.ReplyText, "Gasto registrado")
	assert.Len(t, f.expenses.expenses, 1)
	assert.Contains(t, f.expenses.expenses[0].Description, "almuerzo")
}

func TestProcessCommandWinsOverLock(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t)
	ctx := context.Background()

	f.orch.Process(ctx, Inbound{Phone: "+51999888777", Message: "pagué el almuerzo con tarjeta", MessageID: "SM1"})

	res := f.orch.Process(ctx, Inbound{Phone: "+51999888777", Message: "cancelar", MessageID: "SM2"})
	assert.Equal(t, model.HandlerCoordinator, res.HandlerUsed)
	assert.Equal(t, model.MethodCommand, res.RoutingMethod)
	assert.Contains(t, res.ReplyText, "cancelé")

	// The lock is gone: the next message classifies fresh.
	after := f.orch.Process(ctx, Inbound{Phone: "+51999888777", Message: "¿cuánto llevo este mes?", MessageID: "SM3"})
	assert.Equal(t, model.HandlerQuery, after.HandlerUsed)
	assert.Equal(t, model.MethodKeyword, after.RoutingMethod)
}

func TestProcessMenuKeepsLock(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t)
	ctx := context.Background()

	f.orch.Process(ctx, Inbound{Phone: "+51999888777", Message: "pagué el almuerzo con tarjeta", MessageID: "SM1"})

	menu := f.orch.Process(ctx, Inbound{Phone: "+51999888777", Message: "menú", MessageID: "SM2"})
	assert.Equal(t, model.HandlerCoordinator, menu.HandlerUsed)

	// The flow survives the menu: a number is still the pending amount.
	resume := f.orch.Process(ctx, Inbound{Phone: "+51999888777", Message: "85", MessageID: "SM3"})
	assert.Equal(t, model.HandlerExpense, resume.HandlerUsed)
	assert.Equal(t, model.MethodLocked, resume.RoutingMethod)
	assert.Contains(t, resume.ReplyText, "Gasto registrado")
}

func TestProcessHandoffQueryToExpense(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t)

	// An ambiguous message lands on the query handler; the monetary
	// statement inside it hands off to the expense handler within the
	// same message.
	res := f.orch.Process(context.Background(), Inbound{
		Phone:     "+51999888777",
		Message:   "muéstrame el total: gasté 50 en almuerzo",
		MessageID: "SM1",
	})

	assert.Equal(t, model.HandlerExpense, res.HandlerUsed)
	assert.Equal(t, 1, res.Handoffs)
	assert.Contains(t, res.ReplyText, "Gasto registrado")
	assert.Len(t, f.expenses.expenses, 1)
}

func TestProcessHandoffLoopBound(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t)

	ping := &pingHandler{id: model.HandlerExpense, target: model.HandlerQuery}
	pong := &pingHandler{id: model.HandlerQuery, target: model.HandlerExpense}
	f.orch.registry.Register(ping)
	f.orch.registry.Register(pong)

	res := f.orch.Process(context.Background(), Inbound{
		Phone:     "+51999888777",
		Message:   "gasté 50 soles en taxi",
		MessageID: "SM1",
	})

	assert.Equal(t, maxHandoffs, res.Handoffs)
	assert.Equal(t, maxHandoffs+1, ping.calls+pong.calls)
	assert.NotEmpty(t, res.ReplyText)
}

func TestProcessDuplicateSuppressed(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t)
	ctx := context.Background()

	first := f.orch.Process(ctx, Inbound{Phone: "+51999888777", Message: "gasté 50 soles en taxi", MessageID: "SM1"})
	require.Len(t, f.expenses.expenses, 1)

	retry := f.orch.Process(ctx, Inbound{Phone: "+51999888777", Message: "gasté 50 soles en taxi", MessageID: "SM1"})

	assert.Equal(t, model.MethodDuplicate, retry.RoutingMethod)
	assert.Equal(t, first.ReplyText, retry.ReplyText)
	assert.Len(t, f.expenses.expenses, 1)
}

func TestProcessSelfPersistingHandlerGetsRoutingPatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Onboarding persists its own conversation rows; the pipeline must
	// patch routing columns without clobbering the flow state.
	res := f.orch.Process(ctx, Inbound{Phone: "+51999888777", Message: "hola", MessageID: "SM1"})
	require.Equal(t, model.HandlerConfiguration, res.HandlerUsed)
	require.NotEqual(t, uuid.Nil, res.ConversationID)

	assert.Equal(t, 1, f.convs.patches)

	conv, err := f.convs.GetByID(ctx, res.ConversationID)
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, "onboarding", conv.CurrentFlow)
	assert.Equal(t, "ask_name", conv.CurrentStep)
	assert.True(t, conv.Locked)
	assert.Equal(t, "configuration", conv.ActiveHandler)
	assert.Equal(t, "awaiting_input_name", conv.LockReason)
}

// cannedHandler answers every message with a fixed prebuilt response.
type cannedHandler struct {
	id   model.HandlerID
	resp *model.HandlerResponse
}

func (c *cannedHandler) Name() model.HandlerID { return c.id }

func (c *cannedHandler) Handle(_ context.Context, _ *agent.Request) (*model.HandlerResponse, error) {
	return c.resp, nil
}

func TestProcessReleaseLockWinsOverAwaitingInput(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t)

	// A handler can ask for more input and still give up the session in
	// the same response; the release must win.
	resp := model.AwaitingInputResponse("¿algo más?", model.HandlerExpense, "amount")
	resp.ReleaseLock = true
	f.orch.registry.Register(&cannedHandler{id: model.HandlerExpense, resp: resp})

	res := f.orch.Process(context.Background(), Inbound{
		Phone:     "+51999888777",
		Message:   "gasté 50 soles en taxi",
		MessageID: "SM1",
	})
	require.NotEqual(t, uuid.Nil, res.ConversationID)

	conv, err := f.convs.GetByID(context.Background(), res.ConversationID)
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.False(t, conv.Locked)
	assert.Empty(t, conv.ActiveHandler)
	assert.Empty(t, conv.LockReason)
}

func TestProcessAwaitingInputWithoutPendingField(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t)

	resp := model.AwaitingInputResponse("¿me das más detalles?", model.HandlerExpense, "")
	f.orch.registry.Register(&cannedHandler{id: model.HandlerExpense, resp: resp})

	res := f.orch.Process(context.Background(), Inbound{
		Phone:     "+51999888777",
		Message:   "gasté 50 soles en taxi",
		MessageID: "SM1",
	})
	require.NotEqual(t, uuid.Nil, res.ConversationID)

	conv, err := f.convs.GetByID(context.Background(), res.ConversationID)
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.True(t, conv.Locked)
	assert.Equal(t, "awaiting_input_response", conv.LockReason)
}
