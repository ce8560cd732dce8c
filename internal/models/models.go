package models

import "time"

type User struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	PassHash []byte `json:"-"`
	CodeID   *int64 `json:"code_id"`
}

// ReferralCode is owned by the user who created it and redeemed by the users whose CodeID points at it.
type ReferralCode struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	OwnerID   int64     `json:"owner_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// * IsActive проверяет, что срок действия кода строго позже now
func (c ReferralCode) IsActive(now time.Time) bool {
	return c.ExpiresAt.After(now)
}

// Referral is a redeemer of a referral code as exposed to callers.
type Referral struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// Message is published to the notification queue.
type Message struct {
	Email   string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Purpose string `json:"purpose"`
}

const PurposeReferralRedeemed = "referral_redeemed"
