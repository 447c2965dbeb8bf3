// Package mongostore hosts the MongoDB-backed durable store.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/redworks/red/internal/domain/models"
	"github.com/redworks/red/internal/ports"
)

const (
	defaultDatabase  = "red"
	defaultOpTimeout = 5 * time.Second
)

// Options configures the Mongo durable store.
type Options struct {
	URL      string
	Database string
	Timeout  time.Duration
}

// Store implements ports.DurableStore on MongoDB.
type Store struct {
	client        *mongo.Client
	messages      *mongo.Collection
	conversations *mongo.Collection
	logs          *mongo.Collection
	generations   *mongo.Collection
	thoughts      *mongo.Collection
	timeout       time.Duration
}

func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.URL == "" {
		return nil, errors.New("mongo url is required")
	}
	if opts.Database == "" {
		opts.Database = defaultDatabase
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultOpTimeout
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.URL))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	db := client.Database(opts.Database)
	s := &Store{
		client:        client,
		messages:      db.Collection("messages"),
		conversations: db.Collection("conversations"),
		logs:          db.Collection("logs"),
		generations:   db.Collection("generations"),
		thoughts:      db.Collection("thoughts"),
		timeout:       opts.Timeout,
	}
	ictx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := s.ensureIndexes(ictx); err != nil {
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	return s, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) StoreMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.ID == "" {
		return errors.New("message id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.messages.InsertOne(ctx, msg)
	return err
}

func (s *Store) StoreMessages(ctx context.Context, msgs []*models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	docs := make([]any, len(msgs))
	for i, m := range msgs {
		docs[i] = m
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.messages.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	return err
}

func (s *Store) GetLastMessages(ctx context.Context, conversationID string, n int) ([]*models.Message, error) {
	if n <= 0 {
		return nil, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(n))
	cur, err := s.messages.Find(ctx, bson.M{"conversationId": conversationID}, opts)
	if err != nil {
		return nil, err
	}
	var out []*models.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	// Newest-first from the index; callers expect chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) GetMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cur, err := s.messages.Find(ctx, bson.M{"conversationId": conversationID}, opts)
	if err != nil {
		return nil, err
	}
	var out []*models.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) StoreGeneration(ctx context.Context, gen *models.Generation) error {
	if gen == nil || gen.ID == "" {
		return errors.New("generation id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"generationId": gen.ID}
	update := bson.M{
		"$set": bson.M{
			"conversationId": gen.ConversationID,
			"status":         gen.Status,
			"completedAt":    gen.CompletedAt,
			"route":          gen.Route,
			"toolsUsed":      gen.ToolsUsed,
			"model":          gen.Model,
			"tokens":         gen.Tokens,
			"error":          gen.Error,
			"response":       gen.Response,
			"thinking":       gen.Thinking,
		},
		"$setOnInsert": bson.M{
			"generationId": gen.ID,
			"startedAt":    gen.StartedAt.UTC(),
		},
	}
	_, err := s.generations.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (s *Store) UpdateGenerationStatus(ctx context.Context, generationID string, status models.GenerationStatus, errMsg string) error {
	if generationID == "" {
		return errors.New("generation id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	set := bson.M{"status": status}
	if status != models.GenerationStatusGenerating {
		set["completedAt"] = time.Now().UTC()
	}
	if errMsg != "" {
		set["error"] = errMsg
	}
	_, err := s.generations.UpdateOne(ctx, bson.M{"generationId": generationID}, bson.M{"$set": set})
	return err
}

func (s *Store) GetGeneration(ctx context.Context, generationID string) (*models.Generation, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var gen models.Generation
	err := s.generations.FindOne(ctx, bson.M{"generationId": generationID}).Decode(&gen)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &gen, nil
}

func (s *Store) StoreLogs(ctx context.Context, entries []*models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	docs := make([]any, len(entries))
	for i, e := range entries {
		docs[i] = e
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.logs.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	return err
}

func (s *Store) StoreThought(ctx context.Context, thought *models.Thought) error {
	if thought == nil || thought.ID == "" {
		return errors.New("thought id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.thoughts.InsertOne(ctx, thought)
	return err
}

func (s *Store) GetThoughts(ctx context.Context, conversationID string, limit int) ([]*models.Thought, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	cur, err := s.thoughts.Find(ctx, bson.M{"conversationId": conversationID}, opts)
	if err != nil {
		return nil, err
	}
	var out []*models.Thought
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpsertConversation(ctx context.Context, conv *models.Conversation) error {
	if conv == nil || conv.ID == "" {
		return errors.New("conversation id is required")
	}
	now := time.Now().UTC()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	set := bson.M{
		"messageCount": conv.MessageCount,
		"totalTokens":  conv.TotalTokens,
		"updatedAt":    now,
	}
	// An empty title never clobbers one already set.
	if conv.Title != "" {
		set["title"] = conv.Title
		set["titleSetByUser"] = conv.TitleSetByUser
	}
	update := bson.M{
		"$set": set,
		"$setOnInsert": bson.M{
			"conversationId": conv.ID,
			"createdAt":      now,
		},
	}
	_, err := s.conversations.UpdateOne(ctx, bson.M{"conversationId": conv.ID}, update, options.Update().SetUpsert(true))
	return err
}

func (s *Store) UpdateConversationTitle(ctx context.Context, conversationID, title string, setByUser bool) error {
	if conversationID == "" {
		return errors.New("conversation id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	update := bson.M{"$set": bson.M{
		"title":          title,
		"titleSetByUser": setByUser,
		"updatedAt":      time.Now().UTC(),
	}}
	_, err := s.conversations.UpdateOne(ctx, bson.M{"conversationId": conversationID}, update, options.Update().SetUpsert(true))
	return err
}

func (s *Store) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var conv models.Conversation
	err := s.conversations.FindOne(ctx, bson.M{"conversationId": conversationID}).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *Store) GetConversations(ctx context.Context, limit, skip int) ([]*models.Conversation, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	if skip > 0 {
		opts = opts.SetSkip(int64(skip))
	}
	cur, err := s.conversations.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	var out []*models.Conversation
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
