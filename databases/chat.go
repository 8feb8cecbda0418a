package databases

// go generate: mockery --name ChatDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mercaline/market-chat-api/models"
)

const chatCollection = "chats"

// ChatDatabase contains the methods to use with the chat database
type ChatDatabase interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.Chat, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.Chat, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
	InsertOne(ctx context.Context, chat models.Chat) (InsertOneResultHelper, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

type chatDatabase struct {
	db DatabaseHelper
}

// NewChatDatabase initializes a new instance of chat database with the provided db connection
func NewChatDatabase(db DatabaseHelper) ChatDatabase {
	return &chatDatabase{
		db: db,
	}
}

func (c *chatDatabase) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.Chat, error) {
	chat := &models.Chat{}
	err := c.db.Collection(chatCollection).FindOne(ctx, filter, opts...).Decode(&chat)
	if err != nil {
		return nil, err
	}
	return chat, nil
}

func (c *chatDatabase) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.Chat, error) {
	var chats []models.Chat
	curr, err := c.db.Collection(chatCollection).Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer curr.Close(ctx)
	err = curr.All(ctx, &chats)
	if err != nil {
		return nil, err
	}
	return chats, nil
}

func (c *chatDatabase) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	return c.db.Collection(chatCollection).CountDocuments(ctx, filter, opts...)
}

func (c *chatDatabase) InsertOne(ctx context.Context, chat models.Chat) (InsertOneResultHelper, error) {
	return c.db.Collection(chatCollection).InsertOne(ctx, chat)
}

func (c *chatDatabase) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return c.db.Collection(chatCollection).UpdateOne(ctx, filter, update, opts...)
}

func (c *chatDatabase) UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return c.db.Collection(chatCollection).UpdateMany(ctx, filter, update, opts...)
}
