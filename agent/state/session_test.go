package state

import (
	"errors"
	"testing"
	"time"

	"github.com/tanpawarit/voice-order-agent/agent/erp"
)

func TestCallSessionAppendKeepsTimestampsMonotonic(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	sess := NewCallSession("c1", "+1", erp.GuestCustomer("+1"), now)

	sess.AppendAgentTurn("bienvenido", &TurnMetadata{Intent: "greeting", Confidence: 1, Action: "speak"}, now)
	turn := sess.AppendCustomerTurn("hola", now.Add(-time.Minute))

	if !turn.Timestamp.Equal(now) {
		t.Fatalf("customer turn timestamp = %v, want clamped to %v", turn.Timestamp, now)
	}
	if err := sess.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if sess.History[1].Metadata != nil {
		t.Fatal("customer turn must not carry metadata")
	}
}

func TestCallSessionRecentTurns(t *testing.T) {
	t.Parallel()

	now := time.Now()
	sess := NewCallSession("c1", "+1", erp.Customer{}, now)
	for _, text := range []string{"a", "b", "c", "d"} {
		sess.AppendCustomerTurn(text, now)
	}

	got := sess.RecentTurns(2)
	if len(got) != 2 || got[0].Text != "c" || got[1].Text != "d" {
		t.Fatalf("RecentTurns(2) = %#v", got)
	}
	if all := sess.RecentTurns(10); len(all) != 4 {
		t.Fatalf("RecentTurns(10) len = %d, want 4", len(all))
	}
	got[0].Text = "mutated"
	if sess.History[2].Text != "c" {
		t.Fatal("RecentTurns must return a copy")
	}
}

func TestCallSessionValidate(t *testing.T) {
	t.Parallel()

	var nilSession *CallSession
	if err := nilSession.Validate(); !errors.Is(err, ErrNilSession) {
		t.Fatalf("Validate(nil) error = %v, want ErrNilSession", err)
	}

	now := time.Now()
	sess := NewCallSession("c1", "+1", erp.Customer{}, now)
	sess.History = []Turn{
		{Speaker: SpeakerCustomer, Text: "a", Timestamp: now},
		{Speaker: SpeakerAgent, Text: "b", Timestamp: now.Add(-time.Second)},
	}
	if err := sess.Validate(); !errors.Is(err, ErrTurnOrder) {
		t.Fatalf("Validate() error = %v, want ErrTurnOrder", err)
	}
}

func TestOrderDraftOrderItems(t *testing.T) {
	t.Parallel()

	draft := &OrderDraft{Items: []erp.ValidatedItem{
		{ProductCode: "LAP001", ProductName: "Laptop", Quantity: 2, UnitPrice: 10},
	}}
	items := draft.OrderItems()
	if len(items) != 1 || items[0].ProductCode != "LAP001" || items[0].Quantity != 2 {
		t.Fatalf("OrderItems() = %#v", items)
	}

	sess := NewCallSession("c1", "+1", erp.Customer{}, time.Now())
	sess.SetPendingDraft(draft)
	sess.RecordOrder("ORD000001")
	sess.RecordOrder(" ")
	clone := sess.Clone()
	sess.ClearPendingDraft()

	if clone.PendingDraft == nil || len(clone.OrderIDs) != 1 {
		t.Fatalf("clone lost draft or orders: %#v", clone)
	}
}
