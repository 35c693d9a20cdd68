package events

import (
	"github.com/shopspring/decimal"
)

// Topic names a stream of a single event shape.
type Topic string

const (
	TopicDocumentsAnalysis       Topic = "documents-analysis"
	TopicCreditDocumentsAnalysis Topic = "credit-documents-analysis"
	TopicApprovedCard            Topic = "approved-card"
	TopicCanceledCard            Topic = "canceled-card"
	TopicApprovedLimitCard       Topic = "approved-limit-card"
	TopicRejectedLimitCard       Topic = "rejected-limit-card"
	TopicPaymentLimitCard        Topic = "payment-limit-card"
	TopicCreationWallet          Topic = "creation-wallet"
	TopicReceivePayment          Topic = "receive-payment"
	TopicDeleteUser              Topic = "delete-user"

	TopicNotificationCardApproved   Topic = "notification-card-approved"
	TopicNotificationCardCanceled   Topic = "notification-card-canceled"
	TopicNotificationLimitApproved  Topic = "notification-limit-approved"
	TopicNotificationLimitRejected  Topic = "notification-limit-rejected"
	TopicNotificationReceivePayment Topic = "notification-receive-payment"
	TopicWelcome                    Topic = "welcome"
)

// AllTopics lists every topic the system publishes.
func AllTopics() []Topic {
	return []Topic{
		TopicDocumentsAnalysis,
		TopicCreditDocumentsAnalysis,
		TopicApprovedCard,
		TopicCanceledCard,
		TopicApprovedLimitCard,
		TopicRejectedLimitCard,
		TopicPaymentLimitCard,
		TopicCreationWallet,
		TopicReceivePayment,
		TopicDeleteUser,
		TopicNotificationCardApproved,
		TopicNotificationCardCanceled,
		TopicNotificationLimitApproved,
		TopicNotificationLimitRejected,
		TopicNotificationReceivePayment,
		TopicWelcome,
	}
}

// DocumentsSubmitted is the data for documents-analysis events
type DocumentsSubmitted struct {
	OwnerID      string `json:"owner_id"`
	FullName     string `json:"full_name"`
	NationalID   string `json:"national_id"`
	TaxID        string `json:"tax_id"`
	AddressProof string `json:"address_proof"`
	IncomeProof  string `json:"income_proof"`
}

// CreditDocumentsSubmitted is the data for credit-documents-analysis events
type CreditDocumentsSubmitted struct {
	OwnerID     string          `json:"owner_id"`
	FullName    string          `json:"full_name"`
	TaxID       string          `json:"tax_id"`
	BirthDate   string          `json:"birth_date"`
	Occupation  string          `json:"occupation"`
	Income      decimal.Decimal `json:"income"`
	IncomeProof string          `json:"income_proof"`
}

// CardDecision is the data for approved-card and canceled-card events
type CardDecision struct {
	OwnerID    string `json:"owner_id"`
	FullName   string `json:"full_name"`
	NationalID string `json:"national_id"`
	TaxID      string `json:"tax_id"`
}

// LimitApproved is the data for approved-limit-card events
type LimitApproved struct {
	OwnerID string          `json:"owner_id"`
	Income  decimal.Decimal `json:"income"`
}

// LimitRejected is the data for rejected-limit-card events
type LimitRejected struct {
	OwnerID string `json:"owner_id"`
}

// CreditSettled is the data for payment-limit-card events
type CreditSettled struct {
	OwnerID   string          `json:"owner_id"`
	PaymentID string          `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// WalletRequested is the data for creation-wallet events
type WalletRequested struct {
	OwnerID string `json:"owner_id"`
}

// PaymentSent is the data for receive-payment events
type PaymentSent struct {
	PaymentID  string          `json:"payment_id"`
	SenderID   string          `json:"sender_id"`
	SenderName string          `json:"sender_name"`
	ReceiverID string          `json:"receiver_id"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
}

// OwnerNotice is the data for the card and limit notification topics
type OwnerNotice struct {
	OwnerID string `json:"owner_id"`
}

// PaymentReceivedNotice is the data for notification-receive-payment events
type PaymentReceivedNotice struct {
	OwnerID    string          `json:"owner_id"`
	SenderName string          `json:"sender_name"`
	Amount     decimal.Decimal `json:"amount"`
}

// Welcome is the data for welcome events
type Welcome struct {
	OwnerID  string `json:"owner_id"`
	FullName string `json:"full_name"`
}

// AccountDeleted is the data for delete-user events
type AccountDeleted struct {
	OwnerID string `json:"owner_id"`
}
