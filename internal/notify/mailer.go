package notify

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// LogMailer writes emails to the request logger. Delivery is handed to the
// mail relay that tails the service logs.
type LogMailer struct{}

// Send logs m.
func (LogMailer) Send(ctx context.Context, m Mail) error {
	zctx.From(ctx).Info("Email",
		zap.String("to", m.To),
		zap.String("subject", m.Subject),
		zap.String("body", m.Body),
	)
	return nil
}
