// Package email delivers one-time codes to users.
//
// Only the development sender lives here. Real SMTP or provider transports
// implement the session service's CodeSender interface elsewhere; the service
// does not care which one it gets.
package email

import (
	"context"
	"log/slog"
)

// LogSender writes codes to the log instead of sending mail, which is exactly
// what local development wants and exactly what production must never run.
type LogSender struct {
	logger *slog.Logger
	from   string
}

// NewLogSender creates a development code sender.
func NewLogSender(logger *slog.Logger, from string) *LogSender {
	return &LogSender{logger: logger, from: from}
}

// SendCode logs the code at info level.
func (s *LogSender) SendCode(ctx context.Context, to, code string) error {
	s.logger.InfoContext(ctx, "one-time code issued",
		"from", s.from,
		"to", to,
		"code", code,
	)
	return nil
}
