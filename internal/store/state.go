package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/finanzas-ai/coordinator/internal/model"
	"github.com/finanzas-ai/coordinator/pkg/logger"
)

// Snapshot is the conversation context loaded at the start of a turn.
type Snapshot struct {
	User *model.User

	// ConversationID is uuid.Nil until a durable row exists.
	ConversationID uuid.UUID

	CurrentFlow  string
	CurrentStep  string
	PendingField string
	FlowData     map[string]any

	ActiveHandler  model.HandlerID
	Locked         bool
	LockReason     string
	HandoffContext map[string]any

	MessageCount    int
	LastUserMessage string
	LastBotMessage  string

	// FromCache reports whether the snapshot was served without touching
	// the durable store.
	FromCache bool
}

// TurnState is everything the orchestrator wants persisted after a turn.
type TurnState struct {
	Phone string
	User  *model.User

	ConversationID uuid.UUID

	CurrentFlow  string
	CurrentStep  string
	PendingField string
	FlowData     map[string]any

	ActiveHandler  model.HandlerID
	Locked         bool
	LockReason     string
	HandoffContext map[string]any

	MessageCount    int
	LastUserMessage string
	LastBotMessage  string

	// AlreadyPersisted is set when the handler saved its own flow state;
	// the durable write then patches only routing columns.
	AlreadyPersisted bool
}

// StateStore is the dual-store facade: Redis serves the hot path, Postgres
// is the source of truth. Writes go durable-first so a new conversation gets
// its id before the cache entry is built; cache writes are best-effort.
type StateStore struct {
	cache *ConversationCache
	convs ConversationRepo
	users UserRepo

	convTimeout  time.Duration
	cacheTimeout time.Duration
	storeTimeout time.Duration

	log *logger.Logger
}

// NewStateStore creates the facade.
func NewStateStore(cache *ConversationCache, convs ConversationRepo, users UserRepo, convTimeout, cacheTimeout, storeTimeout time.Duration, log *logger.Logger) *StateStore {
	if convTimeout <= 0 {
		convTimeout = model.DefaultConversationTimeout
	}
	if cacheTimeout <= 0 {
		cacheTimeout = 2 * time.Second
	}
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &StateStore{
		cache:        cache,
		convs:        convs,
		users:        users,
		convTimeout:  convTimeout,
		cacheTimeout: cacheTimeout,
		storeTimeout: storeTimeout,
		log:          log,
	}
}

// Load returns the conversation context for a phone, provisioning the user
// on first contact. Cache hits skip the durable store entirely.
func (s *StateStore) Load(ctx context.Context, phone string) (*Snapshot, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
	cached, err := s.cache.Get(cctx, phone)
	cancel()
	if err != nil {
		s.log.Warn("conversation cache read failed", zap.Error(err))
	}
	if cached != nil {
		if snap, ok := snapshotFromCache(cached); ok {
			return snap, nil
		}
		// Unusable entry; rebuild from durable state below.
		dctx, dcancel := context.WithTimeout(ctx, s.cacheTimeout)
		_ = s.cache.Delete(dctx, phone)
		dcancel()
	}

	sctx, scancel := context.WithTimeout(ctx, s.storeTimeout)
	defer scancel()

	user, err := s.users.GetOrCreate(sctx, phone)
	if err != nil {
		return nil, err
	}

	conv, err := s.convs.GetActive(sctx, user.ID)
	if err != nil {
		return nil, err
	}

	snap := snapshotFromDurable(user, conv)
	s.repopulate(ctx, phone, snap)
	return snap, nil
}

// Save persists a finished turn: durable store first, then the cache. The
// durable write fills in ts.ConversationID when it creates a new row. A
// durable failure is returned for logging but the cache is still written so
// the conversation can continue; the durable row wins on the next rebuild.
func (s *StateStore) Save(ctx context.Context, ts *TurnState) error {
	sctx, scancel := context.WithTimeout(ctx, s.storeTimeout)
	durableErr := s.saveDurable(sctx, ts)
	scancel()
	if durableErr != nil {
		s.log.Error("durable conversation write failed", zap.Error(durableErr))
	}

	cctx, ccancel := context.WithTimeout(ctx, s.cacheTimeout)
	defer ccancel()
	if err := s.cache.Put(cctx, cacheEntryFromTurn(ts)); err != nil {
		s.log.Warn("conversation cache write failed", zap.Error(err))
	}

	return durableErr
}

// Invalidate drops the cached view for a phone. Used after resets, when the
// durable store must be re-read on the next message.
func (s *StateStore) Invalidate(ctx context.Context, phone string) error {
	cctx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
	defer cancel()
	return s.cache.Delete(cctx, phone)
}

// MarkProcessed reports whether a message id is new. Dedup state lives in
// the cache backend only; losing it merely re-opens the dedup window.
func (s *StateStore) MarkProcessed(ctx context.Context, messageID string) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
	defer cancel()
	return s.cache.MarkProcessed(cctx, messageID)
}

// Conversations exposes the durable repo for handlers that persist flow
// state themselves.
func (s *StateStore) Conversations() ConversationRepo { return s.convs }

// Users exposes the durable user repo.
func (s *StateStore) Users() UserRepo { return s.users }

func (s *StateStore) saveDurable(ctx context.Context, ts *TurnState) error {
	if ts.AlreadyPersisted && ts.ConversationID != uuid.Nil {
		return s.convs.PatchRouting(ctx, ts.ConversationID, model.RoutingPatch{
			ActiveHandler:  string(ts.ActiveHandler),
			Locked:         ts.Locked,
			LockReason:     ts.LockReason,
			HandoffContext: ts.HandoffContext,
		})
	}

	var conv *model.Conversation
	var err error
	if ts.ConversationID != uuid.Nil {
		conv, err = s.convs.GetByID(ctx, ts.ConversationID)
	} else {
		conv, err = s.convs.GetActive(ctx, ts.User.ID)
	}
	if err != nil {
		return err
	}

	flow := ts.CurrentFlow
	if flow == "" {
		flow = "idle"
	}

	if conv == nil {
		conv = model.NewConversation(ts.User.ID, flow, ts.CurrentStep, s.convTimeout)
		applyTurn(conv, ts, flow)
		if err := s.convs.Create(ctx, conv); err != nil {
			return err
		}
		ts.ConversationID = conv.ID
		return nil
	}

	applyTurn(conv, ts, flow)
	conv.Touch(s.convTimeout)
	if err := s.convs.Update(ctx, conv); err != nil {
		return err
	}
	ts.ConversationID = conv.ID
	return nil
}

func applyTurn(conv *model.Conversation, ts *TurnState, flow string) {
	conv.CurrentFlow = flow
	conv.CurrentStep = ts.CurrentStep
	if ts.FlowData != nil {
		conv.FlowData = datatypes.JSONMap(ts.FlowData)
	}
	conv.ActiveHandler = string(ts.ActiveHandler)
	conv.Locked = ts.Locked
	conv.LockReason = ts.LockReason
	if ts.HandoffContext != nil {
		conv.HandoffContext = datatypes.JSONMap(ts.HandoffContext)
	} else {
		conv.HandoffContext = nil
	}
	conv.RecordTurn(ts.LastUserMessage, ts.LastBotMessage)
}

func (s *StateStore) repopulate(ctx context.Context, phone string, snap *Snapshot) {
	entry := &model.CachedConversation{
		UserID:              snap.User.ID.String(),
		PhoneNumber:         NormalizePhone(phone),
		CurrentFlow:         snap.CurrentFlow,
		CurrentStep:         snap.CurrentStep,
		PendingField:        snap.PendingField,
		FlowData:            snap.FlowData,
		ActiveHandler:       string(snap.ActiveHandler),
		Locked:              snap.Locked,
		LockReason:          snap.LockReason,
		HandoffContext:      snap.HandoffContext,
		UserName:            snap.User.DisplayName(),
		HomeCurrency:        snap.User.HomeCurrency,
		Timezone:            snap.User.Timezone,
		OnboardingCompleted: snap.User.OnboardingCompleted,
		MessageCount:        snap.MessageCount,
		LastUserMessage:     snap.LastUserMessage,
		LastBotMessage:      snap.LastBotMessage,
	}
	if snap.ConversationID != uuid.Nil {
		entry.ConversationID = snap.ConversationID.String()
	}

	cctx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
	defer cancel()
	if err := s.cache.Put(cctx, entry); err != nil {
		s.log.Warn("conversation cache repopulate failed", zap.Error(err))
	}
}

func snapshotFromCache(cached *model.CachedConversation) (*Snapshot, bool) {
	userID, err := uuid.Parse(cached.UserID)
	if err != nil {
		return nil, false
	}

	snap := &Snapshot{
		User: &model.User{
			ID:                  userID,
			PhoneNumber:         cached.PhoneNumber,
			Nickname:            cached.UserName,
			HomeCurrency:        cached.HomeCurrency,
			Timezone:            cached.Timezone,
			OnboardingCompleted: cached.OnboardingCompleted,
		},
		CurrentFlow:     cached.CurrentFlow,
		CurrentStep:     cached.CurrentStep,
		PendingField:    cached.PendingField,
		FlowData:        cached.FlowData,
		ActiveHandler:   model.HandlerID(cached.ActiveHandler),
		Locked:          cached.Locked,
		LockReason:      cached.LockReason,
		HandoffContext:  cached.HandoffContext,
		MessageCount:    cached.MessageCount,
		LastUserMessage: cached.LastUserMessage,
		LastBotMessage:  cached.LastBotMessage,
		FromCache:       true,
	}
	if cached.ConversationID != "" {
		id, err := uuid.Parse(cached.ConversationID)
		if err != nil {
			return nil, false
		}
		snap.ConversationID = id
	}
	return snap, true
}

func snapshotFromDurable(user *model.User, conv *model.Conversation) *Snapshot {
	snap := &Snapshot{User: user}
	if conv == nil {
		return snap
	}

	snap.ConversationID = conv.ID
	snap.CurrentFlow = conv.CurrentFlow
	snap.CurrentStep = conv.CurrentStep
	snap.FlowData = map[string]any(conv.FlowData)
	if conv.ActiveHandler != "" {
		snap.ActiveHandler = model.ParseHandlerID(conv.ActiveHandler)
	}
	snap.Locked = conv.Locked
	snap.LockReason = conv.LockReason
	snap.HandoffContext = map[string]any(conv.HandoffContext)
	snap.MessageCount = conv.MessageCount
	snap.LastUserMessage = conv.LastUserMessage
	snap.LastBotMessage = conv.LastBotMessage
	return snap
}

func cacheEntryFromTurn(ts *TurnState) *model.CachedConversation {
	entry := &model.CachedConversation{
		UserID:              ts.User.ID.String(),
		PhoneNumber:         NormalizePhone(ts.Phone),
		CurrentFlow:         ts.CurrentFlow,
		CurrentStep:         ts.CurrentStep,
		PendingField:        ts.PendingField,
		FlowData:            ts.FlowData,
		ActiveHandler:       string(ts.ActiveHandler),
		Locked:              ts.Locked,
		LockReason:          ts.LockReason,
		HandoffContext:      ts.HandoffContext,
		UserName:            ts.User.DisplayName(),
		HomeCurrency:        ts.User.HomeCurrency,
		Timezone:            ts.User.Timezone,
		OnboardingCompleted: ts.User.OnboardingCompleted,
		MessageCount:        ts.MessageCount,
		LastUserMessage:     ts.LastUserMessage,
		LastBotMessage:      ts.LastBotMessage,
	}
	if ts.ConversationID != uuid.Nil {
		entry.ConversationID = ts.ConversationID.String()
	}
	return entry
}
