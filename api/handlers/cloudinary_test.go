package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mercaline/market-chat-api/api/handlers"
)

func TestCloudinary_GenerateSignature(t *testing.T) {
	t.Setenv("CLOUDINARY_API_SECRET", "test-secret")
	t.Setenv("CLOUDINARY_UPLOAD_PRESET", "chat-attachments")

	h := handlers.CloudinaryHandler{}

	req, _ := http.NewRequest("POST", "/api/v1/generate-signature", nil)

	rr := httptest.NewRecorder()
	http.HandlerFunc(h.GenerateSignature).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var body map[string]string
	assert.Nil(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.NotEmpty(t, body["signature"])
	assert.NotEmpty(t, body["timestamp"])
}
