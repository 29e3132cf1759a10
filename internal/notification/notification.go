package notification

import (
	"context"
	"log/slog"
	"sync"
)

const (
	// KindTransferReceived is sent to the owner of a wallet credited by an internal transfer.
	KindTransferReceived = "transfer_received"
	// KindSendBroadcast is sent once an outbound send has a transaction hash.
	KindSendBroadcast = "send_broadcast"
	KindSendConfirmed = "send_confirmed"
	KindSendFailed    = "send_failed"
	// KindDepositDetected is sent when reconciliation credits funds found on chain.
	KindDepositDetected = "deposit_detected"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	WalletID    string
	Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", "kind", message.Kind, "destination", message.Destination, "wallet_id", message.WalletID, "body", message.Body)
	return nil
}

// Recorder keeps every message in memory. Useful for tests.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Send(_ context.Context, message Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return nil
}

// Messages returns the recorded messages of the given kind, or all of them
// when kind is empty.
func (r *Recorder) Messages(kind string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.messages {
		if kind == "" || m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}
