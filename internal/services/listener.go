package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"event-payments/models"

	pubnub "github.com/pubnub/go/v7"
)

// CallbackHandler is what the PubNub listener feeds notifications into.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, raw []byte, source models.CallbackSource) (*CallbackOutcome, error)
}

// PubNubListener receives provider notifications pushed on a PubNub channel
// and hands them to the reconciler.
type PubNubListener struct {
	pn      *pubnub.PubNub
	channel string
	handler CallbackHandler
	logger  *slog.Logger
}

func NewPubNubListener(pn *pubnub.PubNub, channel string, handler CallbackHandler, logger *slog.Logger) *PubNubListener {
	return &PubNubListener{pn: pn, channel: channel, handler: handler, logger: logger}
}

// Start subscribes to the ingress channel and processes messages until ctx
// is done.
func (l *PubNubListener) Start(ctx context.Context) {
	lis := pubnub.NewListener()
	l.pn.AddListener(lis)
	l.pn.Subscribe().Channels([]string{l.channel}).Execute()

	go func() {
		l.Process(ctx, lis)
		l.pn.Unsubscribe().Channels([]string{l.channel}).Execute()
		l.pn.RemoveListener(lis)
	}()
}

// Process drains the listener until ctx is done.
func (l *PubNubListener) Process(ctx context.Context, lis *pubnub.Listener) {
	for {
		select {
		case st := <-lis.Status:
			l.logStatus(st)

		case msg := <-lis.Message:
			if msg == nil {
				continue
			}
			raw, err := messageBytes(msg.Message)
			if err != nil {
				l.logger.Warn("Unreadable PubNub message", "channel", msg.Channel, "error", err)
				continue
			}
			// Errors are logged by the reconciler and the audit record is
			// already written.
			_, _ = l.handler.HandleCallback(ctx, raw, models.SourcePubNub)

		case <-ctx.Done():
			l.logger.Info("PubNub listener stopped", "channel", l.channel)
			return
		}
	}
}

func (l *PubNubListener) logStatus(st *pubnub.PNStatus) {
	if st == nil {
		return
	}
	switch st.Category {
	case pubnub.PNConnectedCategory:
		l.logger.Info("Connected to PubNub", "channel", l.channel)
	case pubnub.PNReconnectedCategory:
		l.logger.Info("Reconnected to PubNub", "channel", l.channel)
	case pubnub.PNDisconnectedCategory, pubnub.PNCancelledCategory, pubnub.PNLoopStopCategory:
		l.logger.Warn("Disconnected from PubNub", "channel", l.channel, "category", st.Category)
	case pubnub.PNAccessDeniedCategory, pubnub.PNBadRequestCategory, pubnub.PNReconnectionAttemptsExhausted:
		l.logger.Error("PubNub subscription error", "channel", l.channel, "category", st.Category, "error", st.ErrorData)
	default:
		l.logger.Debug("PubNub status", "channel", l.channel, "category", st.Category)
	}
}

// messageBytes turns a PubNub message into a raw JSON body. Providers
// publish either a JSON string or an object.
func messageBytes(m any) ([]byte, error) {
	switch v := m.(type) {
	case nil:
		return nil, fmt.Errorf("empty message")
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}
