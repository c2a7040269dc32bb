package provider

import (
	"strings"
	"time"
)

// EmailAddress is one addressee on a provider message
type EmailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// recipient wraps EmailAddress the way the provider nests it
type recipient struct {
	EmailAddress EmailAddress `json:"emailAddress"`
}

// MessageHeader is one internet message header as returned by the provider
type MessageHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Message is the subset of a provider mail message the pipeline reads
type Message struct {
	ID             string
	ConversationID string
	Subject        string
	From           EmailAddress
	ToRecipients   []EmailAddress
	CcRecipients   []EmailAddress
	SentAt         time.Time
	ReceivedAt     time.Time
	IsDraft        bool
	BodyPreview    string
	Headers        []MessageHeader
	// MIMEContent carries the raw RFC 822 form when the provider includes it;
	// header heuristics prefer it over the flattened header list.
	MIMEContent []byte
}

// Header returns the first header with the given name, case-insensitively
func (m *Message) Header(name string) string {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// Addresses flattens a recipient list to bare addresses
func Addresses(recipients []EmailAddress) []string {
	out := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if r.Address != "" {
			out = append(out, strings.ToLower(r.Address))
		}
	}
	return out
}

// messagePayload mirrors the provider's JSON shape for a message resource
type messagePayload struct {
	ID              string          `json:"id"`
	ConversationID  string          `json:"conversationId"`
	Subject         string          `json:"subject"`
	From            *recipient      `json:"from"`
	Sender          *recipient      `json:"sender"`
	ToRecipients    []recipient     `json:"toRecipients"`
	CcRecipients    []recipient     `json:"ccRecipients"`
	SentDateTime    time.Time       `json:"sentDateTime"`
	ReceivedDateTime time.Time      `json:"receivedDateTime"`
	IsDraft         bool            `json:"isDraft"`
	BodyPreview     string          `json:"bodyPreview"`
	Headers         []MessageHeader `json:"internetMessageHeaders"`
	MIMEContent     []byte          `json:"mimeContent,omitempty"`
}

func (p *messagePayload) toMessage() *Message {
	msg := &Message{
		ID:             p.ID,
		ConversationID: p.ConversationID,
		Subject:        p.Subject,
		SentAt:         p.SentDateTime,
		ReceivedAt:     p.ReceivedDateTime,
		IsDraft:        p.IsDraft,
		BodyPreview:    p.BodyPreview,
		Headers:        p.Headers,
		MIMEContent:    p.MIMEContent,
	}
	if p.From != nil {
		msg.From = p.From.EmailAddress
	} else if p.Sender != nil {
		msg.From = p.Sender.EmailAddress
	}
	for _, r := range p.ToRecipients {
		msg.ToRecipients = append(msg.ToRecipients, r.EmailAddress)
	}
	for _, r := range p.CcRecipients {
		msg.CcRecipients = append(msg.CcRecipients, r.EmailAddress)
	}
	return msg
}

// SubscriptionRequest is the payload for creating a push subscription
type SubscriptionRequest struct {
	ChangeType         string    `json:"changeType"`
	NotificationURL    string    `json:"notificationUrl"`
	Resource           string    `json:"resource"`
	ExpirationDateTime time.Time `json:"expirationDateTime"`
	ClientState        string    `json:"clientState"`
}

// SubscriptionResponse is the provider's view of a push subscription
type SubscriptionResponse struct {
	ID                 string    `json:"id"`
	Resource           string    `json:"resource"`
	ChangeType         string    `json:"changeType"`
	NotificationURL    string    `json:"notificationUrl"`
	ExpirationDateTime time.Time `json:"expirationDateTime"`
	ClientState        string    `json:"clientState"`
}

// Notification is one change notification as delivered to the webhook
type Notification struct {
	SubscriptionID string         `json:"subscriptionId"`
	ChangeType     string         `json:"changeType"`
	Resource       string         `json:"resource"`
	ClientState    string         `json:"clientState,omitempty"`
	ResourceData   map[string]any `json:"resourceData,omitempty"`
}

// NotificationBatch is the webhook POST body: a batch of notifications
type NotificationBatch struct {
	Value []Notification `json:"value"`
}

// Change types delivered by the provider
const (
	ChangeCreated = "created"
	ChangeUpdated = "updated"
	ChangeDeleted = "deleted"
)

// MessageIDFromResource extracts the message id from a notification's
// resource locator, e.g. "Users/ab12/Messages/AAMkAD...=". The provider is
// inconsistent about casing, so matching is case-insensitive.
func MessageIDFromResource(resource string) string {
	parts := strings.Split(strings.Trim(resource, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		if strings.EqualFold(parts[i], "messages") {
			return parts[i+1]
		}
	}
	return ""
}
