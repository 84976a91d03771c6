// Package notify defines the outbound e-mail boundary. Delivery is always
// best effort: callers fire notifications asynchronously and only log
// failures.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrEthical07/authguard/internal/secure"
)

// Notifier delivers account e-mails. Tokens are passed in plaintext because
// the recipient needs them; implementations must not log them.
type Notifier interface {
	SendVerificationEmail(ctx context.Context, to, token string) error
	SendPasswordResetEmail(ctx context.Context, to, token string, expiresAt time.Time) error
	SendPasswordChangeConfirmation(ctx context.Context, to string) error
}

// Noop discards every notification.
type Noop struct{}

func (Noop) SendVerificationEmail(context.Context, string, string) error { return nil }

func (Noop) SendPasswordResetEmail(context.Context, string, string, time.Time) error { return nil }

func (Noop) SendPasswordChangeConfirmation(context.Context, string) error { return nil }

// Log writes one structured line per notification. Tokens appear only as a
// short SHA-256 fingerprint, enough to correlate with a delivery log.
type Log struct {
	Logger *slog.Logger
}

func (l Log) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

func fingerprint(token string) string {
	return secure.HashHex(token)[:12]
}

func (l Log) SendVerificationEmail(ctx context.Context, to, token string) error {
	l.logger().InfoContext(ctx, "notify: verification email", "to", to, "token_fp", fingerprint(token))
	return nil
}

func (l Log) SendPasswordResetEmail(ctx context.Context, to, token string, expiresAt time.Time) error {
	l.logger().InfoContext(ctx, "notify: password reset email", "to", to, "token_fp", fingerprint(token), "expires_at", expiresAt)
	return nil
}

func (l Log) SendPasswordChangeConfirmation(ctx context.Context, to string) error {
	l.logger().InfoContext(ctx, "notify: password changed email", "to", to)
	return nil
}
