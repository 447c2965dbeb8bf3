package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/redworks/red/internal/domain/models"
	"github.com/redworks/red/internal/ports"
)

// Store is an in-memory ports.DurableStore for tests and single-process
// runs. Retention TTLs are not enforced; everything lives until Close.
type Store struct {
	mu            sync.Mutex
	messages      []*models.Message
	conversations map[string]*models.Conversation
	logs          []*models.LogEntry
	generations   map[string]*models.Generation
	thoughts      []*models.Thought
}

func New() *Store {
	return &Store{
		conversations: make(map[string]*models.Conversation),
		generations:   make(map[string]*models.Generation),
	}
}

func (s *Store) StoreMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *msg
	s.messages = append(s.messages, &clone)
	return nil
}

func (s *Store) StoreMessages(ctx context.Context, msgs []*models.Message) error {
	for _, m := range msgs {
		if err := s.StoreMessage(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) conversationMessages(conversationID string) []*models.Message {
	var out []*models.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func (s *Store) GetLastMessages(_ context.Context, conversationID string, n int) ([]*models.Message, error) {
	if n <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.conversationMessages(conversationID)
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func (s *Store) GetMessages(_ context.Context, conversationID string) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationMessages(conversationID), nil
}

func (s *Store) StoreGeneration(_ context.Context, gen *models.Generation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *gen
	s.generations[gen.ID] = &clone
	return nil
}

func (s *Store) UpdateGenerationStatus(_ context.Context, generationID string, status models.GenerationStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen, ok := s.generations[generationID]
	if !ok {
		return ports.ErrNotFound
	}
	gen.Status = status
	if status != models.GenerationStatusGenerating {
		now := time.Now().UTC()
		gen.CompletedAt = &now
	}
	if errMsg != "" {
		gen.Error = errMsg
	}
	return nil
}

func (s *Store) GetGeneration(_ context.Context, generationID string) (*models.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen, ok := s.generations[generationID]
	if !ok {
		return nil, ports.ErrNotFound
	}
	clone := *gen
	return &clone, nil
}

func (s *Store) StoreLogs(_ context.Context, entries []*models.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		clone := *e
		s.logs = append(s.logs, &clone)
	}
	return nil
}

// Logs returns a snapshot of everything written so far, for assertions.
func (s *Store) Logs() []*models.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.LogEntry, len(s.logs))
	copy(out, s.logs)
	return out
}

func (s *Store) StoreThought(_ context.Context, thought *models.Thought) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *thought
	s.thoughts = append(s.thoughts, &clone)
	return nil
}

func (s *Store) GetThoughts(_ context.Context, conversationID string, limit int) ([]*models.Thought, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Thought
	for _, th := range s.thoughts {
		if th.ConversationID == conversationID {
			out = append(out, th)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpsertConversation(_ context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	existing, ok := s.conversations[conv.ID]
	if !ok {
		clone := *conv
		clone.CreatedAt = now
		clone.UpdatedAt = now
		s.conversations[conv.ID] = &clone
		return nil
	}
	existing.MessageCount = conv.MessageCount
	existing.TotalTokens = conv.TotalTokens
	existing.UpdatedAt = now
	if conv.Title != "" {
		existing.Title = conv.Title
		existing.TitleSetByUser = conv.TitleSetByUser
	}
	return nil
}

func (s *Store) UpdateConversationTitle(_ context.Context, conversationID, title string, setByUser bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		now := time.Now().UTC()
		conv = &models.Conversation{ID: conversationID, CreatedAt: now}
		s.conversations[conversationID] = conv
	}
	conv.Title = title
	conv.TitleSetByUser = setByUser
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) GetConversation(_ context.Context, conversationID string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, ports.ErrNotFound
	}
	clone := *conv
	return &clone, nil
}

func (s *Store) GetConversations(_ context.Context, limit, skip int) ([]*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		clone := *c
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if skip > 0 {
		if skip >= len(out) {
			return nil, nil
		}
		out = out[skip:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}

func (s *Store) Close(context.Context) error {
	return nil
}
