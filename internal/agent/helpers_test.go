package agent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finanzas-ai/coordinator/internal/model"
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
	m.byID[conv.ID] = conv
	return nil
}

func (m *memConvRepo) PatchRouting(_ context.Context, id uuid.UUID, patch model.RoutingPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
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
	updates int
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
	m.updates++
	m.byPhone[user.PhoneNumber] = user
	return nil
}

type memExpenseRepo struct {
	mu       sync.Mutex
	expenses []model.Expense
	fail     error
}

func (m *memExpenseRepo) Create(_ context.Context, expense *model.Expense) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.expenses = append(m.expenses, *expense)
	return nil
}

func (m *memExpenseRepo) SummarizeSince(_ context.Context, userID uuid.UUID, since time.Time) ([]store.ExpenseSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	totals := map[string]*store.ExpenseSummary{}
	var order []string
	for _, e := range m.expenses {
		if e.UserID != userID || e.SpentAt.Before(since) {
			continue
		}
		if _, ok := totals[e.Currency]; !ok {
			totals[e.Currency] = &store.ExpenseSummary{Currency: e.Currency}
			order = append(order, e.Currency)
		}
		totals[e.Currency].Total += e.Amount
		totals[e.Currency].Count++
	}
	var rows []store.ExpenseSummary
	for _, c := range order {
		rows = append(rows, *totals[c])
	}
	return rows, nil
}

func (m *memExpenseRepo) Recent(_ context.Context, userID uuid.UUID, limit int) ([]model.Expense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []model.Expense
	for i := len(m.expenses) - 1; i >= 0 && len(rows) < limit; i-- {
		if m.expenses[i].UserID == userID {
			rows = append(rows, m.expenses[i])
		}
	}
	return rows, nil
}

func newTestStateStore(convs store.ConversationRepo, users store.UserRepo) *store.StateStore {
	cache := store.NewConversationCache(newMemKV(), time.Hour)
	return store.NewStateStore(cache, convs, users, 30*time.Minute, time.Second, time.Second, logger.NewNop())
}

func testUser(onboarded bool) *model.User {
	return &model.User{
		ID:                  uuid.Must(uuid.NewV7()),
		PhoneNumber:         "51999888777",
		FullName:            "Rosa",
		HomeCurrency:        "PEN",
		Timezone:            "America/Lima",
		OnboardingCompleted: onboarded,
	}
}
