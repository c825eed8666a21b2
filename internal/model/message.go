package model

import "time"

// Address is a mailbox address with an optional display name.
type Address struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// String renders the address the way the message list shows senders.
func (a Address) String() string {
	if a.Name == "" {
		return a.Address
	}
	return a.Name + " <" + a.Address + ">"
}

// Message is one mailbox entry as returned by the mailbox API list
// endpoint. Everything except Seen is immutable once observed.
type Message struct {
	// ID is the opaque identifier, unique within an account.
	ID string `json:"id"`

	// AccountID is the owning account.
	AccountID string `json:"accountId"`

	// MsgID is the RFC 5322 Message-ID header value.
	MsgID string `json:"msgid"`

	From Address   `json:"from"`
	To   []Address `json:"to"`

	Subject string `json:"subject"`

	// Intro is the short plain-text preview.
	Intro string `json:"intro"`

	// Seen transitions false to true exactly once.
	Seen bool `json:"seen"`

	IsDeleted      bool   `json:"isDeleted"`
	HasAttachments bool   `json:"hasAttachments"`
	Size           int64  `json:"size"`
	DownloadURL    string `json:"downloadUrl"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MarkSeen sets the seen flag and reports whether it changed.
func (m *Message) MarkSeen() bool {
	if m.Seen {
		return false
	}
	m.Seen = true
	return true
}

// MessagePage is one page of the message list endpoint.
type MessagePage struct {
	Messages []Message
	Total    int
	HasMore  bool
}

// MessageIDs returns the set of ids present in msgs.
func MessageIDs(msgs []Message) map[string]struct{} {
	ids := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		ids[m.ID] = struct{}{}
	}
	return ids
}

// NewSince returns the messages in current whose id is absent from
// previous, preserving the order of current.
func NewSince(previous, current []Message) []Message {
	seen := MessageIDs(previous)
	var fresh []Message
	for _, m := range current {
		if _, ok := seen[m.ID]; !ok {
			fresh = append(fresh, m)
		}
	}
	return fresh
}
