package services

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// PayloadKind enumerates the logical message types the core emits. The
// chat surface renders them; the core only builds the payload.
type PayloadKind string

const (
	PayloadInterestPrompt    PayloadKind = "interest_prompt"
	PayloadListReviewCard    PayloadKind = "list_review_card"
	PayloadPairingCard       PayloadKind = "pairing_card"
	PayloadRitualPrompt      PayloadKind = "ritual_prompt"
	PayloadResultConfirmCard PayloadKind = "result_confirm_card"
	PayloadJudgeAlert        PayloadKind = "judge_alert"
	PayloadStandingsCard     PayloadKind = "standings_card"
	PayloadAuditLogLine      PayloadKind = "audit_log_line"
	PayloadRankingSubmission PayloadKind = "ranking_submission"
)

// Address says where a payload goes: exactly one of the fields is set.
type Address struct {
	PrincipalID string `json:"principal_id,omitempty"`
	RoleID      string `json:"role_id,omitempty"`
	ChannelID   string `json:"channel_id,omitempty"`
}

func ToPrincipal(id string) Address { return Address{PrincipalID: id} }
func ToRole(id string) Address      { return Address{RoleID: id} }
func ToChannel(id string) Address   { return Address{ChannelID: id} }

// Payload is one outgoing notification. Replies come back keyed by
// (Kind, ReplyToken); prompts that expect an answer must set the token.
type Payload struct {
	Kind       PayloadKind            `json:"kind"`
	EventID    string                 `json:"event_id,omitempty"`
	ReplyToken string                 `json:"reply_token,omitempty"`
	Body       map[string]interface{} `json:"body,omitempty"`
}

// Notifier is the delivery port. Implementations must be safe for
// concurrent use; Send must not block on slow consumers.
type Notifier interface {
	Send(addr Address, p Payload)
}

// Sent pairs an address with the payload delivered to it.
type Sent struct {
	Addr    Address
	Payload Payload
}

// LogNotifier is the in-process implementation: it logs every payload
// and keeps a bounded ring of recent sends for tests and the ops
// endpoint. The real chat surface plugs in behind the same interface.
type LogNotifier struct {
	Log *logrus.Logger

	mu     sync.Mutex
	recent []Sent
	limit  int
}

func NewLogNotifier(log *logrus.Logger) *LogNotifier {
	return &LogNotifier{Log: log, limit: 256}
}

func (n *LogNotifier) Send(addr Address, p Payload) {
	n.Log.WithFields(logrus.Fields{
		"kind":      p.Kind,
		"event_id":  p.EventID,
		"principal": addr.PrincipalID,
		"role":      addr.RoleID,
		"channel":   addr.ChannelID,
	}).Info("notify")

	n.mu.Lock()
	defer n.mu.Unlock()
	n.recent = append(n.recent, Sent{Addr: addr, Payload: p})
	if len(n.recent) > n.limit {
		n.recent = n.recent[len(n.recent)-n.limit:]
	}
}

// Recent returns a copy of the retained sends, oldest first.
func (n *LogNotifier) Recent() []Sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Sent, len(n.recent))
	copy(out, n.recent)
	return out
}
