package main

import (
	"context"
	"log/slog"

	"github.com/Avicted/courier/internal/logger"
	"github.com/Avicted/courier/internal/user"
)

// operatorResetSender hands reset codes to the operator through the server
// log. The operator passes the code to the account owner out of band.
type operatorResetSender struct {
	l *slog.Logger
}

func newOperatorResetSender(l *slog.Logger) operatorResetSender {
	return operatorResetSender{l: logger.OrDiscard(l)}
}

func (s operatorResetSender) SendPasswordReset(ctx context.Context, u user.User, code string) error {
	s.l.WarnContext(ctx, "password reset requested", "user_id", u.ID, "code", code)
	return nil
}
