// Package notify delivers e-mail to auction participants.
package notify

import (
	"context"

	"auction-house/utils"
)

// Attachment is a file sent along with a message
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Message is one outbound e-mail
type Message struct {
	To          string
	ToName      string
	ReplyTo     string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

// Sender delivers a message
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender records messages in the log instead of delivering them.
// It is used when no mail provider is configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, msg Message) error {
	names := make([]string, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		names = append(names, a.Filename)
	}
	utils.Info("Mail not delivered: no provider configured", map[string]any{
		"to":          msg.To,
		"subject":     msg.Subject,
		"attachments": names,
	})
	return nil
}
