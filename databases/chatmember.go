package databases

// go generate: mockery --name ChatMemberDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mercaline/market-chat-api/models"
)

const chatMemberCollection = "chatmembers"

// ChatMemberDatabase contains the methods to use with the chat member database
type ChatMemberDatabase interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.ChatMember, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.ChatMember, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
	InsertOne(ctx context.Context, member models.ChatMember) (InsertOneResultHelper, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

type chatMemberDatabase struct {
	db DatabaseHelper
}

// NewChatMemberDatabase initializes a new instance of chat member database with the provided db connection
func NewChatMemberDatabase(db DatabaseHelper) ChatMemberDatabase {
	return &chatMemberDatabase{
		db: db,
	}
}

func (c *chatMemberDatabase) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.ChatMember, error) {
	member := &models.ChatMember{}
	err := c.db.Collection(chatMemberCollection).FindOne(ctx, filter, opts...).Decode(&member)
	if err != nil {
		return nil, err
	}
	return member, nil
}

func (c *chatMemberDatabase) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.ChatMember, error) {
	var members []models.ChatMember
	curr, err := c.db.Collection(chatMemberCollection).Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer curr.Close(ctx)
	err = curr.All(ctx, &members)
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (c *chatMemberDatabase) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	return c.db.Collection(chatMemberCollection).CountDocuments(ctx, filter, opts...)
}

func (c *chatMemberDatabase) InsertOne(ctx context.Context, member models.ChatMember) (InsertOneResultHelper, error) {
	return c.db.Collection(chatMemberCollection).InsertOne(ctx, member)
}

func (c *chatMemberDatabase) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return c.db.Collection(chatMemberCollection).UpdateOne(ctx, filter, update, opts...)
}

func (c *chatMemberDatabase) UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return c.db.Collection(chatMemberCollection).UpdateMany(ctx, filter, update, opts...)
}
