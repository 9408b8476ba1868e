package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/decisionhub/backend/pkg/logger"
)

// LogMailer writes outbound mail to the log. It stands in where no mail relay
// is configured.
type LogMailer struct {
	from string
	log  *zap.Logger
}

func NewLogMailer(from string, log *zap.Logger) *LogMailer {
	if log == nil {
		log = logger.Named("mail")
	}
	return &LogMailer{from: from, log: log}
}

func (m *LogMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.log.Info("Mail queued",
		zap.String("from", m.from),
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(body)),
	)
	return nil
}
