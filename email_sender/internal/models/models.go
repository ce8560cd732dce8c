package models

// EmailMessage is the JSON body the referral service publishes to the notification queue.
type EmailMessage struct {
	Email   string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Purpose string `json:"purpose"`
}

const PurposeReferralRedeemed = "referral_redeemed"
