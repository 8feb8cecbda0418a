package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/mercaline/market-chat-api/api"
	"github.com/mercaline/market-chat-api/config"
	"github.com/mercaline/market-chat-api/databases"
)

// pointPackage is one purchasable bundle of chat points
type pointPackage struct {
	Points     int64
	PriceCents int64
	Label      string
}

var pointPackages = map[string]pointPackage{
	"starter": {Points: 100, PriceCents: 499, Label: "100 chat points"},
	"plus":    {Points: 500, PriceCents: 1999, Label: "500 chat points"},
	"max":     {Points: 1200, PriceCents: 3999, Label: "1200 chat points"},
}

// Points exported for testing purposes
type Points struct {
	DB     databases.UserDatabase
	Config config.Config
}

// CreateCheckoutSessionHandler starts a stripe checkout for a points bundle
func (p Points) CreateCheckoutSessionHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID  string `json:"userId"`
		Package string `json:"package"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	pkg, ok := pointPackages[body.Package]
	if !ok {
		config.ErrorStatus("unknown points package", http.StatusBadRequest, w, fmt.Errorf("package %q", body.Package))
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()
	if _, err := p.DB.FindOne(ctx, bson.M{"_id": body.UserID}); err != nil {
		config.ErrorStatus("failed to get user by ID", http.StatusNotFound, w, err)
		return
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(string(stripe.CurrencyUSD)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(pkg.Label),
					},
					UnitAmount: stripe.Int64(pkg.PriceCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(p.Config.BaseURL + "/api/v1/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(p.Config.BaseURL + "/api/v1/cancel"),
		ClientReferenceID: stripe.String(body.UserID),
		Metadata: map[string]string{
			"userId":  body.UserID,
			"package": body.Package,
			"points":  fmt.Sprintf("%d", pkg.Points),
		},
	}

	sess, err := session.New(params)
	if err != nil {
		config.ErrorStatus("failed to create checkout session", http.StatusInternalServerError, w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"sessionId": sess.ID,
		"url":       sess.URL,
	})
}

// VerifyCheckoutHandler confirms payment with stripe and credits the points.
// Crediting is idempotent per checkout session.
func (p Points) VerifyCheckoutHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SessionID == "" {
		config.ErrorStatus("sessionId is required", http.StatusBadRequest, w, err)
		return
	}

	sess, err := session.Get(body.SessionID, nil)
	if err != nil {
		config.ErrorStatus("failed to fetch checkout session", http.StatusNotFound, w, err)
		return
	}
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		config.ErrorStatus("checkout session is not paid", http.StatusPaymentRequired, w, fmt.Errorf("payment status %q", sess.PaymentStatus))
		return
	}

	userID := sess.Metadata["userId"]
	pkg, ok := pointPackages[sess.Metadata["package"]]
	if userID == "" || !ok {
		config.ErrorStatus("checkout session is missing metadata", http.StatusBadRequest, w, fmt.Errorf("metadata %v", sess.Metadata))
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	res, err := p.DB.UpdateOne(ctx,
		bson.M{"_id": userID, "creditedSessions": bson.M{"$ne": sess.ID}},
		bson.M{
			"$inc":      bson.M{"user.points": pkg.Points},
			"$addToSet": bson.M{"creditedSessions": sess.ID},
		})
	if err != nil {
		config.ErrorStatus("failed to credit points", http.StatusInternalServerError, w, err)
		return
	}

	credited := res.ModifiedCount > 0
	if !credited {
		zap.S().Infow("checkout session already credited", "sessionId", sess.ID, "userId", userID)
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"credited": credited,
		"points":   pkg.Points,
	})
}

func (p Points) handleSuccessRedirect(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	zap.S().Infow("checkout completed", "sessionId", sessionID)
	http.Redirect(w, r, p.Config.BaseURL+"/points?status=success", http.StatusSeeOther)
}

func (p Points) handleCancelRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, p.Config.BaseURL+"/points?status=cancelled", http.StatusSeeOther)
}
