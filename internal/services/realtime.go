package services

import (
	"context"
	"fmt"

	pubnub "github.com/pubnub/go/v7"
)

// PubNubPublisher publishes status snapshots on "registration-<id>".
type PubNubPublisher struct {
	PubNub *pubnub.PubNub
}

func NewPubNubPublisher(pn *pubnub.PubNub) *PubNubPublisher {
	return &PubNubPublisher{PubNub: pn}
}

func RegistrationChannel(registrationID string) string {
	return fmt.Sprintf("registration-%s", registrationID)
}

func (p *PubNubPublisher) PublishStatus(ctx context.Context, snap *PaymentSnapshot) error {
	_, _, err := p.PubNub.PublishWithContext(ctx).
		Channel(RegistrationChannel(snap.RegistrationID)).
		Message(map[string]any{
			"type":                  "payment_status",
			"registration_id":       snap.RegistrationID,
			"payment_id":            snap.PaymentID,
			"transaction_reference": snap.TransactionReference,
			"status":                string(snap.Status),
			"payment_status":        string(snap.PaymentStatus),
			"amount_paid":           snap.AmountPaid.String(),
			"total_amount":          snap.TotalAmount.String(),
		}).
		Execute()
	if err != nil {
		return fmt.Errorf("publish status %s: %w", snap.RegistrationID, err)
	}
	return nil
}
