package stream

import (
	"encoding/json"
	"fmt"

	"github.com/nhle/tempmail/internal/model"
)

// Kind discriminates Mercure payloads by their JSON-LD "@type".
type Kind int

const (
	// KindUnknown is any payload whose type is not recognised. It is
	// handled like an account change.
	KindUnknown Kind = iota
	KindAccount
	KindMessage
)

func (k Kind) String() string {
	switch k {
	case KindAccount:
		return "account"
	case KindMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is a decoded broker payload. Type is the raw "@type" value.
// Message is set only for KindMessage.
type Event struct {
	Kind    Kind
	Type    string
	Message *model.Message
}

// ParseEvent decodes one SSE data payload. It fails only when the
// payload is not a JSON object.
func ParseEvent(data []byte) (Event, error) {
	var head struct {
		Type string `json:"@type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Event{}, fmt.Errorf("decoding event payload: %w", err)
	}

	ev := Event{Type: head.Type}
	switch head.Type {
	case "Account":
		ev.Kind = KindAccount
	case "Message":
		var msg model.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return Event{}, fmt.Errorf("decoding message payload: %w", err)
		}
		if msg.ID == "" {
			// Without an id nothing can be de-duplicated; fall back to
			// a refresh.
			ev.Kind = KindUnknown
			break
		}
		ev.Kind = KindMessage
		ev.Message = &msg
	default:
		ev.Kind = KindUnknown
	}
	return ev, nil
}
