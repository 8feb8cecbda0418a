package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/mercaline/market-chat-api/databases"
)

// LastActiveSink persists the "last active" timestamp on online/offline
// transitions. Best effort; failures are logged and swallowed.
type LastActiveSink struct {
	UserDB databases.UserDatabase
}

// UserOnline stamps lastActive when the identity's first connection opens.
func (s *LastActiveSink) UserOnline(userID string) {
	s.stamp(userID)
}

// UserOffline stamps lastActive when the identity's last connection closes.
func (s *LastActiveSink) UserOffline(userID string) {
	s.stamp(userID)
}

func (s *LastActiveSink) stamp(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceSinkTimeout)
	defer cancel()

	_, err := s.UserDB.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{
		"$set": bson.M{"user.lastActive": primitive.NewDateTimeFromTime(time.Now())},
	})
	if err != nil {
		zap.S().Warnw("failed to persist last active", "userId", userID, "error", err)
	}
}

// RedisMirror mirrors presence into redis with a TTL so other instances can
// answer presence queries. Keys: <prefix>:presence:<userID>.
type RedisMirror struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
}

func (m *RedisMirror) presenceKey(userID string) string {
	return fmt.Sprintf("%s:presence:%s", m.Prefix, userID)
}

// UserOnline marks the identity online in redis.
func (m *RedisMirror) UserOnline(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceSinkTimeout)
	defer cancel()

	if err := m.Client.Set(ctx, m.presenceKey(userID), "online", m.TTL).Err(); err != nil {
		zap.S().Warnw("failed to mirror presence online", "userId", userID, "error", err)
	}
}

// UserOffline marks the identity offline in redis.
func (m *RedisMirror) UserOffline(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceSinkTimeout)
	defer cancel()

	if err := m.Client.Set(ctx, m.presenceKey(userID), "offline", m.TTL).Err(); err != nil {
		zap.S().Warnw("failed to mirror presence offline", "userId", userID, "error", err)
	}
}
