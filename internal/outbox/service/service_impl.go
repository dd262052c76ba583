package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	outboxdomain "github.com/didport/didport/internal/outbox/domain"
	"github.com/didport/didport/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxAttempts = 5

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Email email.Provider
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	email email.Provider
}

func NewService(p Params) outboxdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("outbox.service"),
		genID: p.GenID,
		email: p.Email,
	}
}

func (s *Service) Enqueue(ctx context.Context, recipient string, subject string, htmlBody string) error {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return nil
	}

	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Exec(
		`INSERT INTO outbox_messages (id, recipient, subject, html_body, status, attempts, last_error, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, '', ?)`,
		s.genID.Generate(),
		recipient,
		subject,
		htmlBody,
		outboxdomain.MessageStatusPending,
		now,
	).Error
	if err != nil {
		s.log.Warn("failed to enqueue notification", zap.String("recipient", recipient), zap.Error(err))
	}
	return err
}

func (s *Service) DispatchPending(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = 25
	}

	var pending []outboxdomain.Message
	err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM outbox_messages
		 WHERE status = ? AND attempts < ?
		 ORDER BY created_at ASC
		 LIMIT ?`,
		outboxdomain.MessageStatusPending,
		maxAttempts,
		batch,
	).Scan(&pending).Error
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range pending {
		message := &pending[i]
		if s.deliver(ctx, message) {
			sent++
		}
	}
	return sent, nil
}

func (s *Service) deliver(ctx context.Context, message *outboxdomain.Message) bool {
	now := time.Now().UTC()
	sendErr := s.email.Send(ctx, []string{message.Recipient}, message.Subject, message.HTMLBody)
	if sendErr == nil {
		if err := s.db.WithContext(ctx).Exec(
			`UPDATE outbox_messages
			 SET status = ?, attempts = attempts + 1, last_error = '', sent_at = ?
			 WHERE id = ? AND status = ?`,
			outboxdomain.MessageStatusSent,
			now,
			message.ID,
			outboxdomain.MessageStatusPending,
		).Error; err != nil {
			s.log.Warn("failed to mark message sent", zap.String("message_id", message.ID.String()), zap.Error(err))
		}
		return true
	}

	status := outboxdomain.MessageStatusPending
	if message.Attempts+1 >= maxAttempts {
		status = outboxdomain.MessageStatusFailed
	}
	if err := s.db.WithContext(ctx).Exec(
		`UPDATE outbox_messages
		 SET status = ?, attempts = attempts + 1, last_error = ?
		 WHERE id = ?`,
		status,
		sendErr.Error(),
		message.ID,
	).Error; err != nil {
		s.log.Warn("failed to record delivery error", zap.String("message_id", message.ID.String()), zap.Error(err))
	}
	s.log.Warn("notification delivery failed",
		zap.String("message_id", message.ID.String()),
		zap.String("recipient", message.Recipient),
		zap.Error(sendErr),
	)
	return false
}
