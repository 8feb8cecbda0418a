package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/mercaline/market-chat-api/models"
)

// Notifier alerts offline chat members about activity they missed. Calls are
// fire-and-forget with a bounded timeout; failures are logged and swallowed
// and must never fail the send that triggered them.
type Notifier interface {
	NotifyNewMessage(ctx context.Context, recipient *models.User, senderName, preview, chatID string)
	NotifyDisputeStatus(ctx context.Context, recipient *models.User, chatID, status string)
}

const (
	expoPushURL    = "https://exp.host/--/api/v2/push/send"
	expoBatchLimit = 100

	previewMaxLen = 80
)

// PushEmailNotifier delivers previews over Expo push and sendgrid email.
type PushEmailNotifier struct {
	FromName  string
	FromEmail string
	// HTTPClient is used for the Expo API; its timeout bounds every push call.
	HTTPClient *http.Client
}

// NewNotifier builds the production notifier.
func NewNotifier() *PushEmailNotifier {
	return &PushEmailNotifier{
		FromName:   "Mercaline",
		FromEmail:  "no-reply@mercaline.com",
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// TruncatePreview trims content to the notification preview length.
func TruncatePreview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewMaxLen {
		return content
	}
	return string(runes[:previewMaxLen-1]) + "…"
}

// NotifyNewMessage sends a "new message" preview to every push token the
// recipient registered, falling back to email when they have none.
func (n *PushEmailNotifier) NotifyNewMessage(ctx context.Context, recipient *models.User, senderName, preview, chatID string) {
	title := fmt.Sprintf("New message from %s", senderName)
	body := TruncatePreview(preview)

	if len(recipient.Details.PushTokens) > 0 {
		n.sendPush(ctx, recipient.Details.PushTokens, title, body, map[string]interface{}{"chatId": chatID})
		return
	}
	n.sendEmail(recipient, title, fmt.Sprintf("<p>%s</p>", body), body)
}

// NotifyDisputeStatus alerts a dispute member about a status transition.
func (n *PushEmailNotifier) NotifyDisputeStatus(ctx context.Context, recipient *models.User, chatID, status string) {
	title := "Dispute status updated"
	body := fmt.Sprintf("The dispute is now %s", status)

	if len(recipient.Details.PushTokens) > 0 {
		n.sendPush(ctx, recipient.Details.PushTokens, title, body, map[string]interface{}{"chatId": chatID, "status": status})
		return
	}
	n.sendEmail(recipient, title, fmt.Sprintf("<p>%s</p>", body), body)
}

type expoPushMessage struct {
	To        string                 `json:"to"`
	Title     string                 `json:"title,omitempty"`
	Body      string                 `json:"body,omitempty"`
	Sound     string                 `json:"sound,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Priority  string                 `json:"priority,omitempty"`
	ChannelID string                 `json:"channelId,omitempty"`
}

// sendPush batches tokens in groups of 100 per the Expo API limit.
func (n *PushEmailNotifier) sendPush(ctx context.Context, tokens []string, title, body string, data map[string]interface{}) {
	var messages []expoPushMessage
	for _, token := range tokens {
		messages = append(messages, expoPushMessage{
			To:        token,
			Title:     title,
			Body:      body,
			Sound:     "default",
			Data:      data,
			Priority:  "high",
			ChannelID: "default",
		})
	}

	for i := 0; i < len(messages); i += expoBatchLimit {
		end := i + expoBatchLimit
		if end > len(messages) {
			end = len(messages)
		}
		if err := n.sendPushBatch(ctx, messages[i:end]); err != nil {
			zap.S().Errorf("failed to send Expo push batch (tokens %d-%d): %v", i, end-1, err)
			// Continue with remaining batches even if one fails
		}
	}
}

func (n *PushEmailNotifier) sendPushBatch(ctx context.Context, messages []expoPushMessage) error {
	jsonData, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal push messages: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", expoPushURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := n.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send push request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("expo push API returned status %d", resp.StatusCode)
	}
	return nil
}

func (n *PushEmailNotifier) sendEmail(recipient *models.User, subject, htmlContent, plainText string) {
	if recipient.Details.Email == "" {
		return
	}
	from := mail.NewEmail(n.FromName, n.FromEmail)
	to := mail.NewEmail(recipient.Details.Name, recipient.Details.Email)
	message := mail.NewSingleEmail(from, subject, to, plainText, htmlContent)
	client := sendgrid.NewSendClient(os.Getenv("SENDGRID_API_KEY"))
	response, err := client.Send(message)
	if err != nil {
		zap.S().Errorw("failed to send notification email", "userId", recipient.ID, "error", err)
		return
	}
	if response.StatusCode >= 400 {
		zap.S().Errorw("sendgrid returned error status", "status", response.StatusCode, "body", response.Body)
	}
}
