package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.mongodb.org/mongo-driver/bson"
)

// SocketTokenTTL bounds how long a handshake token stays valid. Tokens are
// only checked at connect time; an open socket outlives its token.
const SocketTokenTTL = 24 * time.Hour

// IssueSocketToken mints a signed websocket handshake token for the identity.
func IssueSocketToken(secret, userID string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(SocketTokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseSocketToken verifies a handshake token and returns the identity it was
// issued to.
func ParseSocketToken(secret, tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("invalid socket token")
	}
	return claims.Subject, nil
}

// CreateSocketTokenHandler exchanges basic-auth credentials for a websocket
// handshake token.
func (m MiddlewareDB) CreateSocketTokenHandler(secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		email, _, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "basic auth failed", http.StatusUnauthorized)
			return
		}

		dbEmailResp, err := m.DB.Find(context.Background(), bson.M{"user.email": email})
		if err != nil || len(dbEmailResp) == 0 {
			http.Error(w, "failed to get user by email", http.StatusUnauthorized)
			return
		}

		token, err := IssueSocketToken(secret, dbEmailResp[0].ID)
		if err != nil {
			http.Error(w, "failed to issue socket token", http.StatusInternalServerError)
			return
		}

		json.NewEncoder(w).Encode(map[string]string{
			"token": token,
			"_id":   dbEmailResp[0].ID,
		})
	}
}
