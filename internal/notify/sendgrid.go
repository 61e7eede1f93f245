package notify

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// mailClient is the part of the SendGrid client the sender uses
type mailClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridSender delivers messages through the SendGrid v3 API
type SendGridSender struct {
	client   mailClient
	fromAddr string
	fromName string
}

func NewSendGridSender(apiKey, fromAddr, fromName string) *SendGridSender {
	return &SendGridSender{
		client:   sendgrid.NewSendClient(apiKey),
		fromAddr: fromAddr,
		fromName: fromName,
	}
}

func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	email := buildMail(mail.NewEmail(s.fromName, s.fromAddr), msg)

	resp, err := s.client.SendWithContext(ctx, email)
	if err != nil {
		return fmt.Errorf("notify: sendgrid request: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: sendgrid rejected message to %s: status %d: %s", msg.To, resp.StatusCode, resp.Body)
	}
	return nil
}

func buildMail(from *mail.Email, msg Message) *mail.SGMailV3 {
	text := msg.Text
	if text == "" {
		text = " "
	}
	m := mail.NewSingleEmail(from, msg.Subject, mail.NewEmail(msg.ToName, msg.To), text, msg.HTML)
	if msg.ReplyTo != "" {
		m.SetReplyTo(mail.NewEmail("", msg.ReplyTo))
	}
	for _, a := range msg.Attachments {
		att := mail.NewAttachment()
		att.SetContent(base64.StdEncoding.EncodeToString(a.Content))
		att.SetType(a.ContentType)
		att.SetFilename(a.Filename)
		att.SetDisposition("attachment")
		m.AddAttachment(att)
	}
	return m
}
