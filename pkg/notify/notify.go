package notify

import (
	"context"
	"errors"
)

// ErrNoRecipients is returned when a message has nobody to deliver to.
var ErrNoRecipients = errors.New("message has no recipients")

// Recipient is a guardian contact.
type Recipient struct {
	Name  string
	Email string
	Phone string
}

// Message is a channel-agnostic notification.
type Message struct {
	To      []Recipient
	Subject string
	Text    string
	HTML    string
}

// Sender delivers messages to a single channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
