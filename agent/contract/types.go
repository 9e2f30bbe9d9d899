package contract

import (
	"time"

	"github.com/tanpawarit/voice-order-agent/agent/erp"
	statex "github.com/tanpawarit/voice-order-agent/agent/state"
)

type Intent string

const (
	IntentGreeting        Intent = "greeting"
	IntentProductSearch   Intent = "product_search"
	IntentPriceInquiry    Intent = "price_inquiry"
	IntentStockInquiry    Intent = "stock_inquiry"
	IntentOrderCreation   Intent = "order_creation"
	IntentConfirmation    Intent = "confirmation"
	IntentCancellation    Intent = "cancellation"
	IntentEndConversation Intent = "end_conversation"
	IntentGeneralInquiry  Intent = "general_inquiry"
	IntentError           Intent = "error"
)

// DecisionAction is what the classifier wants done after speaking.
type DecisionAction string

const (
	DecisionSpeak   DecisionAction = "speak"
	DecisionEndCall DecisionAction = "end_call"
)

type ClassifyRequest struct {
	Session   *statex.CallSession `json:"session"`
	Utterance string              `json:"utterance"`
	Catalog   []erp.Product       `json:"catalog,omitempty"`
}

type IntentDecision struct {
	Intent               Intent         `json:"intent"`
	Confidence           float64        `json:"confidence"`
	Message              string         `json:"message"`
	Action               DecisionAction `json:"action"`
	RequiresBackendQuery bool           `json:"requires_backend_query"`
	FunctionCall         FunctionCall   `json:"-"`
}

type FunctionResult struct {
	Message string       `json:"message"`
	Data    FunctionData `json:"data"`
}

type FunctionData struct {
	ProductFound  *bool               `json:"productFound,omitempty"`
	Product       *erp.Product        `json:"product,omitempty"`
	SearchResults []erp.Product       `json:"searchResults,omitempty"`
	OrderValid    *bool               `json:"orderValid,omitempty"`
	Errors        []string            `json:"errors,omitempty"`
	OrderItems    []erp.ValidatedItem `json:"orderItems,omitempty"`
	Totals        *OrderTotals        `json:"totals,omitempty"`
	OrderID       string              `json:"orderId,omitempty"`
	Error         string              `json:"error,omitempty"`
}

type OrderTotals struct {
	Subtotal float64 `json:"subtotal"`
	Discount float64 `json:"discount"`
	Total    float64 `json:"total"`
}

// CallRecord summarizes a finished call for the recorders.
type CallRecord struct {
	ID            string        `json:"id"`
	CallID        string        `json:"call_id"`
	CustomerPhone string        `json:"customer_phone"`
	CustomerID    string        `json:"customer_id"`
	CustomerName  string        `json:"customer_name"`
	FinalIntent   string        `json:"final_intent,omitempty"`
	EndReason     string        `json:"end_reason"`
	OrderIDs      []string      `json:"order_ids,omitempty"`
	Turns         []statex.Turn `json:"turns"`
	StartedAt     time.Time     `json:"started_at"`
	EndedAt       time.Time     `json:"ended_at"`
}

const (
	EndReasonHangup     = "agent_hangup"
	EndReasonDisconnect = "caller_disconnect"
)

func BoolPtr(v bool) *bool {
	return &v
}
