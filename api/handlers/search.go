package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mercaline/market-chat-api/api"
	"github.com/mercaline/market-chat-api/chat"
	"github.com/mercaline/market-chat-api/config"
	"github.com/mercaline/market-chat-api/databases"
	"github.com/mercaline/market-chat-api/models"
)

// Search exported for testing purposes
type Search struct {
	UserDB   databases.UserDatabase
	Registry *chat.Registry
}

// SearchHandler finds users by name or username, annotated with presence
func (s Search) SearchHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		config.ErrorStatus("query is required", http.StatusBadRequest, w, nil)
		return
	}
	excludeID := r.URL.Query().Get("excludeId")
	roles := r.URL.Query().Get("roles")

	Limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || Limit <= 0 || Limit > defaultSearchLimit {
		Limit = defaultSearchLimit
	}

	filter := bson.M{
		"$or": []bson.M{
			{"user.name": bson.M{"$regex": query, "$options": "i"}},
			{"user.username": bson.M{"$regex": query, "$options": "i"}},
		},
	}
	if excludeID != "" {
		filter["_id"] = bson.M{"$ne": excludeID}
	}
	if roles != "" {
		filter["user.role"] = bson.M{"$in": strings.Split(roles, ",")}
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	opts := options.Find().SetLimit(int64(Limit)).SetSort(bson.M{"user.name": 1})
	users, err := s.UserDB.Find(ctx, filter, opts)
	if err != nil {
		config.ErrorStatus("failed to search users", http.StatusNotFound, w, err)
		return
	}
	total, err := s.UserDB.CountDocuments(ctx, filter)
	if err != nil {
		total = int64(len(users))
	}

	results := make([]models.UserSearchResult, 0, len(users))
	for _, u := range users {
		results = append(results, models.UserSearchResult{
			ID:             u.ID,
			Name:           u.Details.Name,
			Username:       u.Details.Username,
			ProfilePicture: u.Details.ProfilePicture,
			Role:           u.Details.Role,
			Online:         s.Registry.IsOnline(u.ID),
		})
	}

	b, err := json.Marshal(models.UsersSearchResultsPayload{
		Query: query,
		Users: results,
		Total: total,
	})
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}
