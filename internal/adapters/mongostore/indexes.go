package mongostore

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// retentionSeconds bounds how long logs and thoughts are kept, roughly six
// months.
const retentionSeconds = 15552000

func (s *Store) ensureIndexes(ctx context.Context) error {
	messageIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "conversationId", Value: 1},
			{Key: "timestamp", Value: 1},
		},
	}
	if _, err := s.messages.Indexes().CreateOne(ctx, messageIndex); err != nil {
		return err
	}

	generationIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "generationId", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := s.generations.Indexes().CreateOne(ctx, generationIndex); err != nil {
		return err
	}

	conversationIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "conversationId", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := s.conversations.Indexes().CreateOne(ctx, conversationIndex); err != nil {
		return err
	}
	conversationRecency := mongo.IndexModel{
		Keys: bson.D{{Key: "updatedAt", Value: -1}},
	}
	if _, err := s.conversations.Indexes().CreateOne(ctx, conversationRecency); err != nil {
		return err
	}

	thoughtMessageIndex := mongo.IndexModel{
		Keys: bson.D{{Key: "messageId", Value: 1}},
	}
	if _, err := s.thoughts.Indexes().CreateOne(ctx, thoughtMessageIndex); err != nil {
		return err
	}
	thoughtConversationIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "conversationId", Value: 1},
			{Key: "timestamp", Value: -1},
		},
	}
	if _, err := s.thoughts.Indexes().CreateOne(ctx, thoughtConversationIndex); err != nil {
		return err
	}
	thoughtTTL := mongo.IndexModel{
		Keys:    bson.D{{Key: "timestamp", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(retentionSeconds),
	}
	if _, err := s.thoughts.Indexes().CreateOne(ctx, thoughtTTL); err != nil {
		return err
	}

	logTTL := mongo.IndexModel{
		Keys:    bson.D{{Key: "timestamp", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(retentionSeconds),
	}
	if _, err := s.logs.Indexes().CreateOne(ctx, logTTL); err != nil {
		return err
	}
	logGenerationIndex := mongo.IndexModel{
		Keys: bson.D{{Key: "generationId", Value: 1}},
	}
	if _, err := s.logs.Indexes().CreateOne(ctx, logGenerationIndex); err != nil {
		return err
	}

	return nil
}
