// Package notification renders stage events into owner-facing messages.
package notification

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"bankflow/internal/common/events"
	"bankflow/internal/common/money"
)

// Notification is one message in an owner's inbox
type Notification struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Message   string    `json:"message"`
	Viewed    bool      `json:"viewed"`
	Visible   bool      `json:"visible"`
	CreatedAt time.Time `json:"created_at"`
}

// Fixed messages
const (
	MessageCardApproved  = "Your card was approved"
	MessageCardCanceled  = "Your card was rejected"
	MessageLimitApproved = "Your credit limit was approved"
	MessageLimitRejected = "Your credit limit was rejected"
	MessageWelcome       = "Welcome to My-Bank!"
)

var fixedMessages = []struct {
	topic   events.Topic
	message string
}{
	{events.TopicNotificationCardApproved, MessageCardApproved},
	{events.TopicNotificationCardCanceled, MessageCardCanceled},
	{events.TopicNotificationLimitApproved, MessageLimitApproved},
	{events.TopicNotificationLimitRejected, MessageLimitRejected},
	{events.TopicWelcome, MessageWelcome},
}

// PaymentReceivedMessage renders the message for an incoming payment.
func PaymentReceivedMessage(amount decimal.Decimal, senderName string) string {
	return fmt.Sprintf("You received R$ %s from %s", money.Format(amount), senderName)
}
