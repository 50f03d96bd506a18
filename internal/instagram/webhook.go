// Webhook payload parsing and signature verification for Meta's webhook
// delivery format. The envelope is a tagged union: entries carry either a
// changes array (comments) or a messaging array (DMs, reactions). Events()
// flattens both into typed events so the ingestion layer does not deal with
// the raw shape.
package instagram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// VerifySignature checks the X-Hub-Signature-256 header against the raw
// request body using HMAC-SHA256. The header carries "sha256=<hex>".
// Comparison is constant time. An empty secret verifies nothing and fails.
func VerifySignature(secret string, payload []byte, header string) bool {
	if secret == "" {
		return false
	}
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(strings.TrimPrefix(header, prefix)))
}

// Envelope is the top-level webhook body.
type Envelope struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry is one account's batch of events within a delivery.
type Entry struct {
	ID        string      `json:"id"`
	Time      int64       `json:"time"`
	Changes   []Change    `json:"changes"`
	Messaging []Messaging `json:"messaging"`
}

// Change is a field-tagged event in an entry's changes array.
type Change struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

// Messaging is an event in an entry's messaging array.
type Messaging struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Timestamp int64 `json:"timestamp"`
	Message   *struct {
		MID  string `json:"mid"`
		Text string `json:"text"`
	} `json:"message"`
	Reaction *struct {
		MID      string `json:"mid"`
		Action   string `json:"action"`
		Reaction string `json:"reaction"`
	} `json:"reaction"`
}

// CommentEvent is a new comment on a media object owned by a connected
// account.
type CommentEvent struct {
	IGAccountID       string // entry id: the account whose media was commented on
	CommentID         string
	MediaID           string
	CommenterID       string
	CommenterUsername string
	Text              string
}

// MessageEvent is an inbound DM. Observed for audit; the pipeline does not
// act on it.
type MessageEvent struct {
	IGAccountID string
	SenderID    string
	MessageID   string
	Text        string
}

// ReactionEvent is a DM reaction. Observed for audit only.
type ReactionEvent struct {
	IGAccountID string
	SenderID    string
	MessageID   string
	Action      string
}

// UnrecognizedEvent preserves the field name of an event kind the pipeline
// does not understand. Unknown kinds are logged and acknowledged, never
// rejected.
type UnrecognizedEvent struct {
	IGAccountID string
	Field       string
}

type commentValue struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	From struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"from"`
	Media struct {
		ID string `json:"id"`
	} `json:"media"`
}

// Events flattens the envelope into typed events, preserving delivery order.
// Malformed individual values degrade to UnrecognizedEvent rather than
// failing the whole batch.
func (e *Envelope) Events() []interface{} {
	var out []interface{}
	for _, entry := range e.Entry {
		for _, ch := range entry.Changes {
			switch ch.Field {
			case "comments", "live_comments":
				var v commentValue
				if err := json.Unmarshal(ch.Value, &v); err != nil || v.ID == "" {
					out = append(out, UnrecognizedEvent{IGAccountID: entry.ID, Field: ch.Field})
					continue
				}
				out = append(out, CommentEvent{
					IGAccountID:       entry.ID,
					CommentID:         v.ID,
					MediaID:           v.Media.ID,
					CommenterID:       v.From.ID,
					CommenterUsername: v.From.Username,
					Text:              v.Text,
				})
			default:
				out = append(out, UnrecognizedEvent{IGAccountID: entry.ID, Field: ch.Field})
			}
		}
		for _, m := range entry.Messaging {
			switch {
			case m.Message != nil:
				out = append(out, MessageEvent{
					IGAccountID: entry.ID,
					SenderID:    m.Sender.ID,
					MessageID:   m.Message.MID,
					Text:        m.Message.Text,
				})
			case m.Reaction != nil:
				out = append(out, ReactionEvent{
					IGAccountID: entry.ID,
					SenderID:    m.Sender.ID,
					MessageID:   m.Reaction.MID,
					Action:      m.Reaction.Action,
				})
			default:
				out = append(out, UnrecognizedEvent{IGAccountID: entry.ID, Field: "messaging"})
			}
		}
	}
	return out
}
