package contract

import (
	"context"

	"github.com/tanpawarit/voice-order-agent/agent/erp"
	statex "github.com/tanpawarit/voice-order-agent/agent/state"
)

// Classifier must never fail past its boundary: internal errors come back as
// an "error" intent decision.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) IntentDecision
}

// Backend is the product/order system. Not-found conditions are ordinary
// results; only transport failures return an error.
type Backend interface {
	GetCustomerByPhone(ctx context.Context, phone string) (erp.Customer, error)
	ListProducts(ctx context.Context) ([]erp.Product, error)
	GetProduct(ctx context.Context, code string) (*erp.Product, error)
	SearchProducts(ctx context.Context, term string) ([]erp.Product, error)
	ValidateOrderItems(ctx context.Context, items []erp.OrderItem) (erp.OrderValidation, error)
	CreateOrder(ctx context.Context, customerID string, items []erp.OrderItem) (erp.OrderResult, error)
}

// FunctionExecutor runs a classifier-requested function. The session is the
// live record; callers hold its slot.
type FunctionExecutor interface {
	Execute(ctx context.Context, call FunctionCall, backend Backend, session *statex.CallSession) FunctionResult
}

type CallRecorder interface {
	RecordCall(ctx context.Context, rec CallRecord) error
}
