// Package notification is the delivery seam between authentication flows and
// whatever actually sends mail or SMS. The toolkit never delivers anything
// itself; callers plug in a Sender.
package notification

import (
	"context"
	"log/slog"
)

// Purpose tags what a message is for, so senders can pick templates.
type Purpose string

const (
	PurposeVerifyEmail   Purpose = "verify_email"
	PurposeResetPassword Purpose = "reset_password"
	PurposeMagicLink     Purpose = "magic_link"
	PurposeLoginCode     Purpose = "login_code"
)

// Message is one outbound notification. Token carries the raw single-use
// token or code; the sender decides how to embed it (link, plain code).
type Message struct {
	Purpose Purpose
	Address string
	UserID  string
	Token   string
}

// Sender delivers messages. Implementations must be safe for concurrent use.
// Delivery failures are logged by the caller and never surface to the person
// authenticating, so a sender should do its own retries if it needs them.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to a logger instead of delivering them. Useful in
// development and tests; never use it in production, it logs raw tokens.
type LogSender struct {
	Logger *slog.Logger
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification",
		"purpose", string(msg.Purpose),
		"address", msg.Address,
		"user_id", msg.UserID,
		"token", msg.Token,
	)
	return nil
}
