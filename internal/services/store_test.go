package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/exdrums/hbg-sub001/internal/ai"
	"github.com/exdrums/hbg-sub001/internal/domain"
	"github.com/exdrums/hbg-sub001/internal/notify"
	"github.com/exdrums/hbg-sub001/internal/repo"
)

// memStore is an in-memory implementation of the repository contracts used
// by the services, with the same error semantics as the GORM-backed repo
// (ErrNotFound, ErrDuplicate, conditional cursor advances). Timestamps
// advance one millisecond per created message so ordering is deterministic.
type memStore struct {
	mu    sync.Mutex
	now   time.Time
	seq   int64
	convs map[string]*domain.Conversation
	parts map[string]map[string]*domain.ConversationParticipant
	msgs  map[string]*domain.Message
}

func newMemStore() *memStore {
	return &memStore{
		now:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		convs: map[string]*domain.Conversation{},
		parts: map[string]map[string]*domain.ConversationParticipant{},
		msgs:  map[string]*domain.Message{},
	}
}

func (s *memStore) tick() time.Time {
	s.now = s.now.Add(time.Millisecond)
	return s.now
}

// --- ConversationRepo ---

func (s *memStore) CreateConversation(_ context.Context, _ *gorm.DB, typ domain.ConversationType, title string, pairKey *string, participants []repo.NewParticipant) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pairKey != nil {
		for _, c := range s.convs {
			if c.PairKey != nil && *c.PairKey == *pairKey {
				return nil, repo.ErrDuplicate
			}
		}
	}
	s.seq++
	now := s.tick()
	c := &domain.Conversation{
		ID:            fmt.Sprintf("conv-%d", s.seq),
		Title:         title,
		Type:          typ,
		PairKey:       pairKey,
		LastMessageAt: now,
		CreatedAt:     now,
	}
	s.convs[c.ID] = c
	s.parts[c.ID] = map[string]*domain.ConversationParticipant{}
	for _, p := range participants {
		row := &domain.ConversationParticipant{
			ConversationID: c.ID,
			UserID:         p.UserID,
			Role:           p.Role,
			JoinedAt:       now,
		}
		s.parts[c.ID][p.UserID] = row
	}
	out := *c
	out.Participants = s.participantSlice(c.ID)
	return &out, nil
}

func (s *memStore) GetConversationWithParticipants(_ context.Context, _ *gorm.DB, id string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	out := *c
	out.Participants = s.participantSlice(id)
	return &out, nil
}

func (s *memStore) FindDirectConversation(_ context.Context, _ *gorm.DB, userA, userB string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.PairKeyFor(userA, userB)
	for _, c := range s.convs {
		if c.PairKey != nil && *c.PairKey == key {
			out := *c
			out.Participants = s.participantSlice(c.ID)
			return &out, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (s *memStore) ListConversationsForUser(_ context.Context, _ *gorm.DB, userID string, includeArchived bool) ([]domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Conversation
	for id, c := range s.convs {
		if s.parts[id][userID] == nil {
			continue
		}
		if c.IsArchived && !includeArchived {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out, nil
}

func (s *memStore) UpdateConversationTitle(_ context.Context, _ *gorm.DB, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return repo.ErrNotFound
	}
	c.Title = title
	return nil
}

func (s *memStore) SetConversationArchived(_ context.Context, _ *gorm.DB, id string, archived bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return repo.ErrNotFound
	}
	c.IsArchived = archived
	return nil
}

func (s *memStore) AdvanceLastMessageAt(_ context.Context, _ *gorm.DB, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return false, repo.ErrNotFound
	}
	if !at.After(c.LastMessageAt) {
		return false, nil
	}
	c.LastMessageAt = at
	return true, nil
}

// --- ParticipantRepo ---

func (s *memStore) GetParticipant(_ context.Context, _ *gorm.DB, conversationID, userID string) (*domain.ConversationParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.parts[conversationID][userID]
	if p == nil {
		return nil, repo.ErrNotFound
	}
	out := *p
	return &out, nil
}

func (s *memStore) ListParticipants(_ context.Context, _ *gorm.DB, conversationID string) ([]domain.ConversationParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participantSlice(conversationID), nil
}

func (s *memStore) AddParticipant(_ context.Context, _ *gorm.DB, conversationID, userID string, role domain.ParticipantRole) (*domain.ConversationParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.parts[conversationID]
	if rows == nil {
		return nil, repo.ErrNotFound
	}
	if rows[userID] != nil {
		return nil, repo.ErrDuplicate
	}
	row := &domain.ConversationParticipant{
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		JoinedAt:       s.tick(),
	}
	rows[userID] = row
	out := *row
	return &out, nil
}

func (s *memStore) RemoveParticipant(_ context.Context, _ *gorm.DB, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.parts[conversationID]
	if rows == nil || rows[userID] == nil {
		return repo.ErrNotFound
	}
	delete(rows, userID)
	return nil
}

func (s *memStore) UpdateParticipantRole(_ context.Context, _ *gorm.DB, conversationID, userID string, role domain.ParticipantRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.parts[conversationID][userID]
	if p == nil {
		return repo.ErrNotFound
	}
	p.Role = role
	return nil
}

func (s *memStore) CountHumanParticipants(_ context.Context, _ *gorm.DB, conversationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, p := range s.parts[conversationID] {
		if p.Role != domain.RoleAssistant {
			n++
		}
	}
	return n, nil
}

func (s *memStore) AdvanceLastReadAt(_ context.Context, _ *gorm.DB, conversationID, userID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.parts[conversationID][userID]
	if p == nil {
		return false, repo.ErrNotFound
	}
	if !at.After(p.LastReadAt) {
		return false, nil
	}
	p.LastReadAt = at
	return true, nil
}

// --- MessageRepo ---

func (s *memStore) CreateMessage(_ *gorm.DB, conversationID, authorID, content string, parentID *string, systemAlert bool) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	m := &domain.Message{
		ID:              fmt.Sprintf("msg-%d", s.seq),
		ConversationID:  conversationID,
		AuthorID:        authorID,
		Content:         content,
		Seq:             s.seq,
		ParentMessageID: parentID,
		IsSystemAlert:   systemAlert,
		CreatedAt:       s.tick(),
	}
	s.msgs[m.ID] = m
	out := *m
	return &out, nil
}

func (s *memStore) GetMessage(_ *gorm.DB, id string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.msgs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	out := *m
	return &out, nil
}

func (s *memStore) ListMessages(_ *gorm.DB, conversationID string, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.ordered(conversationID, nil, true)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ListMessagesBefore(_ *gorm.DB, conversationID string, before time.Time) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ordered(conversationID, &before, false), nil
}

func (s *memStore) ListMessagesPage(_ *gorm.DB, conversationID string, offset, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.ordered(conversationID, nil, true)
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) CountMessages(_ *gorm.DB, conversationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, m := range s.msgs {
		if m.ConversationID == conversationID {
			n++
		}
	}
	return n, nil
}

func (s *memStore) CountUnread(_ *gorm.DB, conversationID, userID string, lastReadAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, m := range s.msgs {
		if m.ConversationID == conversationID && m.CreatedAt.After(lastReadAt) && m.AuthorID != userID {
			n++
		}
	}
	return n, nil
}

func (s *memStore) UpdateMessageContent(_ *gorm.DB, id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.msgs[id]
	if !ok {
		return repo.ErrNotFound
	}
	m.Content = content
	m.IsEdited = true
	return nil
}

func (s *memStore) MarkMessageDeleted(_ *gorm.DB, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.msgs[id]
	if !ok || m.IsDeleted {
		return repo.ErrNotFound
	}
	m.Content = ""
	m.IsDeleted = true
	return nil
}

func (s *memStore) MarkRegenerating(_ *gorm.DB, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.msgs[id]
	if !ok || m.IsBeingRegenerated || m.IsDeleted {
		return repo.ErrNotFound
	}
	m.IsBeingRegenerated = true
	t := at
	m.RegenStartedAt = &t
	return nil
}

func (s *memStore) CompleteRegeneration(_ *gorm.DB, id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.msgs[id]
	if !ok || !m.IsBeingRegenerated {
		return repo.ErrNotFound
	}
	m.Content = content
	m.IsBeingRegenerated = false
	m.IsEdited = true
	m.RegenStartedAt = nil
	return nil
}

func (s *memStore) AbortRegeneration(_ *gorm.DB, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.msgs[id]
	if ok && m.IsBeingRegenerated {
		m.IsBeingRegenerated = false
		m.RegenStartedAt = nil
	}
	return nil
}

func (s *memStore) RecoverStaleRegenerations(_ context.Context, _ *gorm.DB, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, m := range s.msgs {
		if m.IsBeingRegenerated && m.RegenStartedAt != nil && m.RegenStartedAt.Before(cutoff) {
			m.IsBeingRegenerated = false
			m.RegenStartedAt = nil
			n++
		}
	}
	return n, nil
}

func (s *memStore) participantSlice(conversationID string) []domain.ConversationParticipant {
	rows := make([]domain.ConversationParticipant, 0, len(s.parts[conversationID]))
	for _, p := range s.parts[conversationID] {
		rows = append(rows, *p)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].UserID < rows[j].UserID })
	return rows
}

func (s *memStore) ordered(conversationID string, before *time.Time, includeDeleted bool) []domain.Message {
	var out []domain.Message
	for _, m := range s.msgs {
		if m.ConversationID != conversationID {
			continue
		}
		if before != nil && !m.CreatedAt.Before(*before) {
			continue
		}
		if !includeDeleted && m.IsDeleted {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// --- Collaborator fakes ---

// recordedEvent is one captured fan-out call.
type recordedEvent struct {
	UserIDs []string
	Exclude string
	Event   string
	Payload any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *recordingNotifier) ToUser(_ context.Context, userID, event string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{UserIDs: []string{userID}, Event: event, Payload: payload})
}

func (n *recordingNotifier) ToParticipants(_ context.Context, userIDs []string, excludeUserID, event string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{UserIDs: userIDs, Exclude: excludeUserID, Event: event, Payload: payload})
}

func (n *recordingNotifier) SendAlert(_ context.Context, userID, conversationID string, _ []string, kind, text string, _ time.Duration) notify.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	a := notify.Alert{UserID: userID, ConversationID: conversationID, Kind: kind, Text: text}
	n.events = append(n.events, recordedEvent{Event: notify.EventAlert, Payload: a})
	return a
}

func (n *recordingNotifier) byEvent(event string) []recordedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []recordedEvent
	for _, e := range n.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// scriptedResponder returns canned replies or a scripted error, recording the
// history it was handed.
type scriptedResponder struct {
	reply     string
	err       error
	histories [][]ai.PromptMessage
}

func (r *scriptedResponder) Respond(_ context.Context, history []ai.PromptMessage) (string, error) {
	r.histories = append(r.histories, history)
	if r.err != nil {
		return "", r.err
	}
	if r.reply == "" {
		return "scripted reply", nil
	}
	return r.reply, nil
}

// fakeAssistantDirectory returns a fixed assistant user.
type fakeAssistantDirectory struct {
	assistant domain.User
	err       error
}

func (d *fakeAssistantDirectory) EnsureAssistant(context.Context) (*domain.User, error) {
	if d.err != nil {
		return nil, d.err
	}
	out := d.assistant
	return &out, nil
}

var errStoreDown = errors.New("store down")
