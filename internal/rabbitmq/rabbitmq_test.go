package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"referral_service/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	published []amqp.Publishing
	keys      []string
	err       error
	closed    bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}

	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)

	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestSendMessage(t *testing.T) {
	ch := &fakeChannel{}
	sentAt := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

	c := &RabbitMQClient{channel: ch, queue: "referral_notifications", now: func() time.Time { return sentAt }}

	msg := models.Message{
		Email:   "owner@x.com",
		Subject: "New referral",
		Body:    "friend@x.com joined with your code",
		Purpose: models.PurposeReferralRedeemed,
	}

	require.NoError(t, c.SendMessage(context.Background(), msg))
	require.Len(t, ch.published, 1)

	pub := ch.published[0]
	assert.Equal(t, "referral_notifications", ch.keys[0])
	assert.Equal(t, "application/json", pub.ContentType)
	assert.Equal(t, amqp.Persistent, pub.DeliveryMode)
	assert.Equal(t, sentAt, pub.Timestamp)

	var got map[string]string
	require.NoError(t, json.Unmarshal(pub.Body, &got))
	assert.Equal(t, "owner@x.com", got["to"])
	assert.Equal(t, models.PurposeReferralRedeemed, got["purpose"])

	c.Close()
	assert.True(t, ch.closed)
}

func TestSendMessage_PublishError(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	c := &RabbitMQClient{channel: ch, queue: "q", now: time.Now}

	err := c.SendMessage(context.Background(), models.Message{Email: "a@x.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel closed")
}
