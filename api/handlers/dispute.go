package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mercaline/market-chat-api/api"
	"github.com/mercaline/market-chat-api/chat"
	"github.com/mercaline/market-chat-api/config"
)

// Dispute exported for testing purposes
type Dispute struct {
	Svc *chat.Disputes
}

// CreateDisputeHandler opens a tripartite dispute chat
func (d Dispute) CreateDisputeHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AdminID        string `json:"adminId"`
		ProfessionalID string `json:"professionalId"`
		AgencyID       string `json:"agencyId"`
		Name           string `json:"name"`
		MaxMessages    int    `json:"maxMessages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	room, err := d.Svc.CreateDispute(ctx, chat.CreateDisputeParams{
		AdminID:        body.AdminID,
		ProfessionalID: body.ProfessionalID,
		AgencyID:       body.AgencyID,
		Name:           body.Name,
		MaxMessages:    body.MaxMessages,
	})
	if err != nil {
		config.ErrorStatus("failed to create dispute", chatErrorStatus(err), w, err)
		return
	}

	b, err := json.Marshal(room)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	w.Write(b)
}

// UpdateDisputeStatusHandler transitions a dispute's status
func (d Dispute) UpdateDisputeStatusHandler(w http.ResponseWriter, r *http.Request) {
	chatIDHex := mux.Vars(r)["chat_id"]

	chatID, err := primitive.ObjectIDFromHex(chatIDHex)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	var body struct {
		UserID string `json:"userId"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	room, err := d.Svc.UpdateStatus(ctx, body.UserID, chatID, body.Status)
	if err != nil {
		config.ErrorStatus("failed to update dispute status", chatErrorStatus(err), w, err)
		return
	}

	b, err := json.Marshal(room)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// DisputeAccessHandler reports whether the user may still post in the dispute
// and how many messages they have left
func (d Dispute) DisputeAccessHandler(w http.ResponseWriter, r *http.Request) {
	chatIDHex := mux.Vars(r)["chat_id"]
	userID := r.URL.Query().Get("userId")

	chatID, err := primitive.ObjectIDFromHex(chatIDHex)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	hasAccess, remaining, err := d.Svc.ValidateAccess(ctx, userID, chatID)
	if err != nil {
		config.ErrorStatus("failed to validate dispute access", chatErrorStatus(err), w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"hasAccess":         hasAccess,
		"remainingMessages": remaining,
	})
}

// DisputeMetricsHandler returns dispute resolution metrics
func (d Dispute) DisputeMetricsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	metrics, err := d.Svc.Metrics(ctx)
	if err != nil {
		config.ErrorStatus("failed to compute dispute metrics", http.StatusInternalServerError, w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"activeCount":  metrics.ActiveCount,
		"closedCount":  metrics.ClosedCount,
		"avgHoursOpen": metrics.AvgHoursOpen,
	})
}
