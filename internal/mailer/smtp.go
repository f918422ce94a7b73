package mailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/expopass/backend/config"
	"github.com/expopass/backend/internal/emaillogs"
	"github.com/expopass/backend/internal/models"
)

// SMTP sends mail through a plain SMTP relay and audits every attempt
// to the email_logs table.
type SMTP struct {
	cfg    config.EmailConfig
	logs   *emaillogs.Repository
	logger *zap.Logger
}

// NewSMTP creates the SMTP mailer. logs may be nil in tests.
func NewSMTP(cfg config.EmailConfig, logs *emaillogs.Repository, logger *zap.Logger) *SMTP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMTP{cfg: cfg, logs: logs, logger: logger}
}

// Send writes the pending audit row, attempts delivery, then updates
// the row to sent or failed. The audit write itself is best-effort.
func (m *SMTP) Send(ctx context.Context, msg Message) (*SendResult, error) {
	res := &SendResult{}
	if m.logs != nil && len(msg.To) > 0 {
		el := &models.EmailLog{
			Role:           msg.Role,
			RegistrationID: msg.RegistrationID,
			EmailType:      msg.EmailType,
			RecipientEmail: msg.To[0],
			Subject:        msg.Subject,
		}
		if err := m.logs.Create(ctx, el); err != nil {
			m.logger.Warn("email audit write failed", zap.Error(err))
		} else {
			res.LogID = el.ID
		}
	}

	err := m.deliver(msg)
	if err != nil {
		res.Error = err.Error()
		m.logger.Warn("email send failed", zap.Error(err), zap.Strings("to", msg.To), zap.String("subject", msg.Subject))
		if m.logs != nil && res.LogID != uuid.Nil {
			if aerr := m.logs.MarkFailed(ctx, res.LogID, err.Error()); aerr != nil {
				m.logger.Warn("email audit update failed", zap.Error(aerr))
			}
		}
		return res, err
	}
	res.Success = true
	res.Info = fmt.Sprintf("delivered via %s", m.cfg.SMTPHost)
	if m.logs != nil && res.LogID != uuid.Nil {
		if aerr := m.logs.MarkSent(ctx, res.LogID); aerr != nil {
			m.logger.Warn("email audit update failed", zap.Error(aerr))
		}
	}
	return res, nil
}

func (m *SMTP) deliver(msg Message) error {
	if m.cfg.SMTPHost == "" {
		return fmt.Errorf("smtp not configured")
	}
	body, err := buildMIME(m.cfg, msg)
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}
	addr := fmt.Sprintf("%s:%d", m.cfg.SMTPHost, m.cfg.SMTPPort)
	var auth smtp.Auth
	if m.cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", m.cfg.SMTPUser, m.cfg.SMTPPass, m.cfg.SMTPHost)
	}
	return smtp.SendMail(addr, auth, m.cfg.FromAddress, msg.To, body)
}

func buildMIME(cfg config.EmailConfig, msg Message) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s <%s>\r\n", cfg.FromName, cfg.FromAddress)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", w.Boundary())

	if msg.Text != "" {
		part, err := w.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=utf-8"}})
		if err != nil {
			return nil, err
		}
		if _, err := part.Write([]byte(msg.Text)); err != nil {
			return nil, err
		}
	}
	if msg.HTML != "" {
		part, err := w.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/html; charset=utf-8"}})
		if err != nil {
			return nil, err
		}
		if _, err := part.Write([]byte(msg.HTML)); err != nil {
			return nil, err
		}
	}
	for _, att := range msg.Attachments {
		hdr := textproto.MIMEHeader{
			"Content-Type":              {att.ContentType},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", att.Filename)},
		}
		part, err := w.CreatePart(hdr)
		if err != nil {
			return nil, err
		}
		enc := base64.StdEncoding.EncodeToString(att.Data)
		if _, err := part.Write([]byte(enc)); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var _ Mailer = (*SMTP)(nil)
