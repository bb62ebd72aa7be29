package databases

// go generate: mockery --name ChatMessageDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/caresync/consult-chat-api/models"
)

const chatMessageCollectionName = "chatmessages"

// ChatMessageDatabase contains the methods to use with the chat message database
type ChatMessageDatabase interface {
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.ChatMessage, error)
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error)
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (int64, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
	Distinct(ctx context.Context, fieldName string, filter interface{}, opts ...*options.DistinctOptions) ([]interface{}, error)
}

type chatMessageDatabase struct {
	db DatabaseHelper
}

// NewChatMessageDatabase initializes a new instance of chat message database with the provided db connection
func NewChatMessageDatabase(db DatabaseHelper) ChatMessageDatabase {
	return &chatMessageDatabase{
		db: db,
	}
}

func (c *chatMessageDatabase) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.ChatMessage, error) {
	var messages []models.ChatMessage
	curr, err := c.db.Collection(chatMessageCollectionName).Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer curr.Close(ctx)
	err = curr.All(ctx, &messages)
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *chatMessageDatabase) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error) {
	res, err := c.db.Collection(chatMessageCollectionName).InsertOne(ctx, document, opts...)
	return res, err
}

func (c *chatMessageDatabase) DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (int64, error) {
	return c.db.Collection(chatMessageCollectionName).DeleteMany(ctx, filter, opts...)
}

func (c *chatMessageDatabase) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	return c.db.Collection(chatMessageCollectionName).CountDocuments(ctx, filter, opts...)
}

func (c *chatMessageDatabase) Distinct(ctx context.Context, fieldName string, filter interface{}, opts ...*options.DistinctOptions) ([]interface{}, error) {
	return c.db.Collection(chatMessageCollectionName).Distinct(ctx, fieldName, filter, opts...)
}
