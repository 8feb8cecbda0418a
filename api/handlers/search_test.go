package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/mercaline/market-chat-api/api/handlers"
	"github.com/mercaline/market-chat-api/chat"
	mocksdb "github.com/mercaline/market-chat-api/databases/mocks"
	"github.com/mercaline/market-chat-api/models"
)

// stubConn satisfies chat.Conn so tests can mark identities online.
type stubConn struct{ id, userID string }

func (c stubConn) ID() string                        { return c.id }
func (c stubConn) UserID() string                    { return c.userID }
func (c stubConn) Enqueue(_ models.SocketEvent) bool { return true }
func (c stubConn) Close()                            {}

func TestSearch_SearchHandlerRequiresQuery(t *testing.T) {
	h := handlers.Search{UserDB: &mocksdb.UserDatabase{}, Registry: chat.NewRegistry()}

	req, _ := http.NewRequest("GET", "/api/v1/users/search", nil)

	rr := httptest.NewRecorder()
	http.HandlerFunc(h.SearchHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "query is required")
}

func TestSearch_SearchHandlerAnnotatesPresence(t *testing.T) {
	userDB := &mocksdb.UserDatabase{}
	registry := chat.NewRegistry()
	registry.Register(stubConn{id: "conn-1", userID: "bob"})
	h := handlers.Search{UserDB: userDB, Registry: registry}

	userDB.On("Find", mock.Anything, mock.Anything, mock.Anything).Return([]models.User{
		{ID: "bob", Details: models.UserDetails{Name: "Bob", Role: models.RoleProfessional}},
		{ID: "carol", Details: models.UserDetails{Name: "Carol", Role: models.RoleConsumer}},
	}, nil)
	userDB.On("CountDocuments", mock.Anything, mock.Anything).Return(int64(2), nil)

	req, _ := http.NewRequest("GET", "/api/v1/users/search?q=bo&excludeId=alice&roles=professional,consumer", nil)

	rr := httptest.NewRecorder()
	http.HandlerFunc(h.SearchHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var body models.UsersSearchResultsPayload
	assert.Nil(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "bo", body.Query)
	assert.Equal(t, int64(2), body.Total)
	assert.Len(t, body.Users, 2)
	assert.True(t, body.Users[0].Online)
	assert.False(t, body.Users[1].Online)
}
