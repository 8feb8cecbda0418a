package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/mercaline/market-chat-api/chat"
	"github.com/mercaline/market-chat-api/databases"
	"github.com/mercaline/market-chat-api/models"
)

// archiveAfter is how long a chat may sit idle before the nightly job
// archives it. Archived chats drop out of listings but keep their history.
const archiveAfter = 30 * 24 * time.Hour

// Scheduler handles periodic background jobs for the chat subsystem
type Scheduler struct {
	cron     *cron.Cron
	ChatDB   databases.ChatDatabase
	UserDB   databases.UserDatabase
	Disputes *chat.Disputes

	instanceID string
}

// NewScheduler creates a new scheduler instance
func NewScheduler(chatDB databases.ChatDatabase, userDB databases.UserDatabase, disputes *chat.Disputes) *Scheduler {
	instanceID := os.Getenv("DYNO")
	if instanceID == "" {
		instanceID = fmt.Sprintf("instance-%d", time.Now().UnixNano())
	}

	return &Scheduler{
		cron:       cron.New(cron.WithLocation(time.UTC)),
		ChatDB:     chatDB,
		UserDB:     userDB,
		Disputes:   disputes,
		instanceID: instanceID,
	}
}

// Start begins the scheduler with all registered jobs
func (s *Scheduler) Start() {
	// Archive idle chats daily at 4 AM UTC
	_, err := s.cron.AddFunc("0 4 * * *", s.archiveIdleChats)
	if err != nil {
		zap.S().Errorw("failed to register chat archival job", "error", err)
	}

	// Report dispute resolution metrics daily at 5 AM UTC
	_, err = s.cron.AddFunc("0 5 * * *", s.reportDisputeMetrics)
	if err != nil {
		zap.S().Errorw("failed to register dispute metrics job", "error", err)
	}

	s.cron.Start()
	zap.S().Info("Chat scheduler started")
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	zap.S().Info("Chat scheduler stopped")
}

// archiveIdleChats soft-archives every chat with no activity in the archival
// window. Active disputes are left alone regardless of idle time.
func (s *Scheduler) archiveIdleChats() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := primitive.NewDateTimeFromTime(time.Now().Add(-archiveAfter))
	filter := bson.M{
		"archived":     false,
		"lastActivity": bson.M{"$lt": cutoff},
		"$or": []bson.M{
			{"isDisputeChat": false},
			{"disputeStatus": bson.M{"$ne": models.DisputeActive}},
		},
	}

	res, err := s.ChatDB.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"archived": true}})
	if err != nil {
		zap.S().Errorw("failed to archive idle chats", "error", err, "instance", s.instanceID)
		return
	}

	zap.S().Infow("Idle chat archival complete",
		"archived", res.ModifiedCount,
		"instance", s.instanceID,
	)
}

// reportDisputeMetrics logs the nightly dispute report and emails it to the
// operations inbox when one is configured.
func (s *Scheduler) reportDisputeMetrics() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	metrics, err := s.Disputes.Metrics(ctx)
	if err != nil {
		zap.S().Errorw("failed to compute dispute metrics", "error", err, "instance", s.instanceID)
		return
	}

	zap.S().Infow("Dispute resolution report",
		"activeDisputes", metrics.ActiveCount,
		"closedDisputes", metrics.ClosedCount,
		"avgHoursOpen", metrics.AvgHoursOpen,
	)

	opsEmail := os.Getenv("OPS_EMAIL")
	if opsEmail == "" {
		return
	}

	subject := "Daily dispute resolution report"
	plainText := fmt.Sprintf("Active disputes: %d\nClosed disputes: %d\nAverage hours to close: %.1f",
		metrics.ActiveCount, metrics.ClosedCount, metrics.AvgHoursOpen)
	htmlContent := fmt.Sprintf("<p>Active disputes: %d</p><p>Closed disputes: %d</p><p>Average hours to close: %.1f</p>",
		metrics.ActiveCount, metrics.ClosedCount, metrics.AvgHoursOpen)

	if err := s.sendEmail(opsEmail, "Operations", subject, htmlContent, plainText); err != nil {
		zap.S().Errorw("failed to send dispute report email", "error", err)
	}
}

func (s *Scheduler) sendEmail(toEmail, toName, subject, htmlContent, plainText string) error {
	from := mail.NewEmail("Mercaline", "no-reply@mercaline.com")
	to := mail.NewEmail(toName, toEmail)
	message := mail.NewSingleEmail(from, subject, to, plainText, htmlContent)
	client := sendgrid.NewSendClient(os.Getenv("SENDGRID_API_KEY"))
	response, err := client.Send(message)
	if err != nil {
		return err
	}
	if response.StatusCode >= 400 {
		zap.S().Errorw("sendgrid returned error status", "status", response.StatusCode, "body", response.Body)
	}
	return nil
}
