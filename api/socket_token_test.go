package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/mercaline/market-chat-api/api"
	mocksdb "github.com/mercaline/market-chat-api/databases/mocks"
	"github.com/mercaline/market-chat-api/models"
)

func TestSocketTokenRoundTrip(t *testing.T) {
	token, err := api.IssueSocketToken("shhh", "user-42")
	assert.Nil(t, err)
	assert.NotEmpty(t, token)

	userID, err := api.ParseSocketToken("shhh", token)
	assert.Nil(t, err)
	assert.Equal(t, "user-42", userID)
}

func TestSocketTokenWrongSecret(t *testing.T) {
	token, err := api.IssueSocketToken("shhh", "user-42")
	assert.Nil(t, err)

	_, err = api.ParseSocketToken("not-the-secret", token)
	assert.NotNil(t, err)
}

func TestSocketTokenEmptySubject(t *testing.T) {
	token, err := api.IssueSocketToken("shhh", "")
	assert.Nil(t, err)

	_, err = api.ParseSocketToken("shhh", token)
	assert.NotNil(t, err)
}

func TestSocketTokenGarbage(t *testing.T) {
	_, err := api.ParseSocketToken("shhh", "not.a.token")
	assert.NotNil(t, err)
}

func TestCreateSocketTokenHandler(t *testing.T) {
	userDB := &mocksdb.UserDatabase{}
	userDB.On("Find", mock.Anything, bson.M{"user.email": "alice@example.com"}).
		Return([]models.User{{ID: "user-42", Details: models.UserDetails{Email: "alice@example.com"}}}, nil)

	m := api.MiddlewareDB{DB: userDB}
	handler := m.CreateSocketTokenHandler("shhh")

	req, _ := http.NewRequest("POST", "/api/v1/auth/socket-token", nil)
	req.SetBasicAuth("alice@example.com", "hunter2")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var body map[string]string
	assert.Nil(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "user-42", body["_id"])

	userID, err := api.ParseSocketToken("shhh", body["token"])
	assert.Nil(t, err)
	assert.Equal(t, "user-42", userID)
}

func TestCreateSocketTokenHandlerUnknownUser(t *testing.T) {
	userDB := &mocksdb.UserDatabase{}
	userDB.On("Find", mock.Anything, mock.Anything).Return([]models.User{}, nil)

	m := api.MiddlewareDB{DB: userDB}
	handler := m.CreateSocketTokenHandler("shhh")

	req, _ := http.NewRequest("POST", "/api/v1/auth/socket-token", nil)
	req.SetBasicAuth("nobody@example.com", "hunter2")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCreateSocketTokenHandlerNoBasicAuth(t *testing.T) {
	m := api.MiddlewareDB{DB: &mocksdb.UserDatabase{}}
	handler := m.CreateSocketTokenHandler("shhh")

	req, _ := http.NewRequest("POST", "/api/v1/auth/socket-token", nil)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
