package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	evt, err := NewEvent(context.Background(), TopicWelcome, "ana", Welcome{OwnerID: "ana", FullName: "Ana"})
	require.NoError(t, err)

	assert.Len(t, evt.ID, 26)
	assert.Equal(t, TopicWelcome, evt.Topic)
	assert.Equal(t, 1, evt.Version)
	assert.Equal(t, "ana", evt.OwnerID)
	assert.Empty(t, evt.CausationID)
	assert.JSONEq(t, `{"owner_id":"ana","full_name":"Ana"}`, string(evt.Data))

	other, err := NewEvent(context.Background(), TopicWelcome, "ana", Welcome{OwnerID: "ana"})
	require.NoError(t, err)
	assert.NotEqual(t, evt.ID, other.ID)
}

func TestNewEvent_Causation(t *testing.T) {
	root, err := NewEvent(ContextWithCorrelationID(context.Background(), "req-1"), TopicApprovedCard, "ana", CardDecision{OwnerID: "ana"})
	require.NoError(t, err)
	assert.Equal(t, "req-1", root.CorrelationID)

	child, err := NewEvent(ContextWithCause(context.Background(), root), TopicNotificationCardApproved, "ana", OwnerNotice{OwnerID: "ana"})
	require.NoError(t, err)
	assert.Equal(t, root.ID, child.CausationID)
	assert.Equal(t, "req-1", child.CorrelationID)

	orphan := &Event{ID: "01ORPHAN"}
	grandchild, err := NewEvent(ContextWithCause(context.Background(), orphan), TopicWelcome, "ana", nil)
	require.NoError(t, err)
	assert.Equal(t, "01ORPHAN", grandchild.CorrelationID)
}

func TestDecodeData_IgnoresUnknownFields(t *testing.T) {
	evt := &Event{Topic: TopicReceivePayment, Data: json.RawMessage(`{"payment_id":"p1","amount":"12.5","extra":{"nested":true}}`)}

	var d PaymentSent
	require.NoError(t, evt.DecodeData(&d))
	assert.Equal(t, "p1", d.PaymentID)
	assert.Equal(t, "12.5", d.Amount.String())
}

func TestDecodeData_MalformedIsPermanent(t *testing.T) {
	evt := &Event{Topic: TopicDeleteUser, Data: json.RawMessage(`[1,2`)}

	var d AccountDeleted
	err := evt.DecodeData(&d)
	assert.True(t, IsPermanent(err))
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))

	base := errors.New("bad payload")
	wrapped := fmt.Errorf("handling: %w", Permanent(base))
	assert.True(t, IsPermanent(wrapped))
	assert.ErrorIs(t, wrapped, base)
	assert.False(t, IsPermanent(base))
}

func TestSubscriptionName(t *testing.T) {
	assert.Equal(t, "wallet-receive-payment", Subscription{Group: "wallet", Topic: TopicReceivePayment}.Name())
}

func TestAllTopicsAreUnique(t *testing.T) {
	seen := map[Topic]bool{}
	for _, topic := range AllTopics() {
		assert.False(t, seen[topic], "duplicate topic %s", topic)
		seen[topic] = true
	}
	assert.Len(t, seen, 16)
}
