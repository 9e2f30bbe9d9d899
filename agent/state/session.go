package state

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tanpawarit/voice-order-agent/agent/erp"
)

// CallSession is the single source of truth for one live call.
// - History is append-only; turns are never edited once recorded.
// - Customer is a snapshot taken when the session is created.
type CallSession struct {
	// Identity
	CallID        string       `json:"call_id"`
	CustomerPhone string       `json:"customer_phone"`
	Customer      erp.Customer `json:"customer"`

	// Conversation
	History       []Turn `json:"history"`
	CurrentIntent string `json:"current_intent,omitempty"`
	Stage         Stage  `json:"stage"`

	// Ordering
	PendingDraft *OrderDraft `json:"pending_draft,omitempty"`
	OrderIDs     []string    `json:"order_ids,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Stage string

const (
	StageGreeting   Stage = "greeting"
	StageListening  Stage = "listening"
	StageProcessing Stage = "processing"
	StageEnding     Stage = "ending"
)

type Speaker string

const (
	SpeakerCustomer Speaker = "customer"
	SpeakerAgent    Speaker = "agent"
)

type Turn struct {
	Speaker   Speaker       `json:"speaker"`
	Text      string        `json:"text"`
	Timestamp time.Time     `json:"timestamp"`
	Metadata  *TurnMetadata `json:"metadata,omitempty"`
}

// TurnMetadata is only attached to agent turns.
type TurnMetadata struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Action     string  `json:"action"`
}

// OrderDraft is a validated order summary that has not been persisted yet.
type OrderDraft struct {
	Items     []erp.ValidatedItem `json:"items"`
	Subtotal  float64             `json:"subtotal"`
	Discount  float64             `json:"discount"`
	Total     float64             `json:"total"`
	CreatedAt time.Time           `json:"created_at"`
}

func (d *OrderDraft) OrderItems() []erp.OrderItem {
	if d == nil {
		return nil
	}
	items := make([]erp.OrderItem, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, erp.OrderItem{ProductCode: it.ProductCode, Quantity: it.Quantity})
	}
	return items
}

var (
	ErrInvalidSession = errors.New("call id is empty")
	ErrSessionExists  = errors.New("call session already exists")
	ErrNilSession     = errors.New("call session is nil")
	ErrTurnOrder      = errors.New("turn timestamps out of order")
)

func NewCallSession(callID, customerPhone string, customer erp.Customer, now time.Time) *CallSession {
	return &CallSession{
		CallID:        callID,
		CustomerPhone: strings.TrimSpace(customerPhone),
		Customer:      customer,
		History:       make([]Turn, 0, 8),
		Stage:         StageGreeting,
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
	}
}

func (s *CallSession) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

func (s *CallSession) AppendCustomerTurn(text string, now time.Time) Turn {
	return s.appendTurn(Turn{
		Speaker:   SpeakerCustomer,
		Text:      text,
		Timestamp: now.UTC(),
	})
}

func (s *CallSession) AppendAgentTurn(text string, meta *TurnMetadata, now time.Time) Turn {
	var m *TurnMetadata
	if meta != nil {
		cp := *meta
		m = &cp
	}
	return s.appendTurn(Turn{
		Speaker:   SpeakerAgent,
		Text:      text,
		Timestamp: now.UTC(),
		Metadata:  m,
	})
}

// appendTurn clamps the timestamp so history stays non-decreasing even when
// the injected clock goes backwards.
func (s *CallSession) appendTurn(t Turn) Turn {
	if n := len(s.History); n > 0 {
		if last := s.History[n-1].Timestamp; t.Timestamp.Before(last) {
			t.Timestamp = last
		}
	}
	s.History = append(s.History, t)
	s.Touch(t.Timestamp)
	return t
}

// RecentTurns returns at most n trailing turns. The slice is a copy.
func (s *CallSession) RecentTurns(n int) []Turn {
	if s == nil || n <= 0 || len(s.History) == 0 {
		return nil
	}
	start := len(s.History) - n
	if start < 0 {
		start = 0
	}
	return append([]Turn(nil), s.History[start:]...)
}

func (s *CallSession) FirstAgentTurn() (Turn, bool) {
	if s == nil {
		return Turn{}, false
	}
	for _, t := range s.History {
		if t.Speaker == SpeakerAgent {
			return t, true
		}
	}
	return Turn{}, false
}

func (s *CallSession) SetPendingDraft(d *OrderDraft) {
	s.PendingDraft = d
}

func (s *CallSession) ClearPendingDraft() {
	s.PendingDraft = nil
}

func (s *CallSession) RecordOrder(orderID string) {
	if strings.TrimSpace(orderID) == "" {
		return
	}
	s.OrderIDs = append(s.OrderIDs, orderID)
}

// Clone returns a deep copy safe to hand to readers outside the call's slot.
func (s *CallSession) Clone() *CallSession {
	if s == nil {
		return nil
	}
	cp := *s
	cp.History = make([]Turn, len(s.History))
	for i, t := range s.History {
		cp.History[i] = t
		if t.Metadata != nil {
			m := *t.Metadata
			cp.History[i].Metadata = &m
		}
	}
	if s.PendingDraft != nil {
		d := *s.PendingDraft
		d.Items = append([]erp.ValidatedItem(nil), s.PendingDraft.Items...)
		cp.PendingDraft = &d
	}
	cp.OrderIDs = append([]string(nil), s.OrderIDs...)
	return &cp
}

func (s *CallSession) Validate() error {
	if s == nil {
		return ErrNilSession
	}
	if strings.TrimSpace(s.CallID) == "" {
		return ErrInvalidSession
	}
	for i := 1; i < len(s.History); i++ {
		if s.History[i].Timestamp.Before(s.History[i-1].Timestamp) {
			return fmt.Errorf("%w: turn=%d", ErrTurnOrder, i)
		}
	}
	for i, t := range s.History {
		if t.Speaker == SpeakerCustomer && t.Metadata != nil {
			return fmt.Errorf("customer turn %d must not carry metadata", i)
		}
	}
	return nil
}
