package chat

import "github.com/mercaline/market-chat-api/models"

// Base message costs in points for metered accounts.
const (
	costText  = 1
	costImage = 2
	costFile  = 3
	costAudio = 4
	costVideo = 4

	premiumMultiplier = 5
)

// MessageCost returns the points a sender pays for one message. Unmetered
// roles always pay zero; the premium flag multiplies the base cost by five.
func MessageCost(sender *models.User, messageType string, premium bool) int64 {
	if !sender.Metered() {
		return 0
	}

	var base int64
	switch messageType {
	case models.MessageTypeImage:
		base = costImage
	case models.MessageTypeFile:
		base = costFile
	case models.MessageTypeAudio:
		base = costAudio
	case models.MessageTypeVideo:
		base = costVideo
	default:
		base = costText
	}

	if premium {
		base *= premiumMultiplier
	}
	return base
}

// CheckBalance verifies the sender can afford cost. The actual debit happens
// inside the commit transaction; this is the fast pre-check that keeps the
// pipeline from reaching persistence with an unaffordable message.
func CheckBalance(sender *models.User, cost int64) *Error {
	if cost == 0 {
		return nil
	}
	if sender.Details.Points < cost {
		return NewError(CodeInsufficientPoint, "not enough points to send this message")
	}
	return nil
}
