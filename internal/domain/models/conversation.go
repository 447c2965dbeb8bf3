package models

import (
	"time"
)

// Conversation is the durable record of a conversation. It is created
// implicitly by the first message store and never explicitly destroyed.
type Conversation struct {
	ID             string    `json:"conversationId" bson:"conversationId"`
	Title          string    `json:"title,omitempty" bson:"title,omitempty"`
	MessageCount   int       `json:"messageCount" bson:"messageCount"`
	TotalTokens    int       `json:"totalTokens" bson:"totalTokens"`
	TitleSetByUser bool      `json:"titleSetByUser" bson:"titleSetByUser"`
	CreatedAt      time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt" bson:"updatedAt"`
}

func NewConversation(id string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ConversationMetadata mirrors the bus-side metadata hash kept at
// conversations:<id>:metadata. Hash field names match the json tags.
type ConversationMetadata struct {
	Title                          string    `json:"title,omitempty"`
	MessageCount                   int       `json:"messageCount"`
	LastUpdated                    time.Time `json:"lastUpdated"`
	TotalTokens                    int       `json:"totalTokens"`
	TitleSetByUser                 bool      `json:"titleSetByUser"`
	NeedsTrailingSummaryGeneration bool      `json:"needsTrailingSummaryGeneration"`
	ContentToSummarize             string    `json:"contentToSummarize,omitempty"`
}
