package contract

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/tanpawarit/voice-order-agent/agent/erp"
)

type FunctionName string

const (
	FunctionQueryProductInfo FunctionName = "query_product_info"
	FunctionSearchProducts   FunctionName = "search_products"
	FunctionCreateOrderDraft FunctionName = "create_order_draft"
	FunctionConfirmOrder     FunctionName = "confirm_order"
)

// FunctionCall is a closed set of backend operations a classifier may request.
// Only the types in this file implement it.
type FunctionCall interface {
	Name() FunctionName
	isFunctionCall()
}

type QueryProductInfo struct {
	ProductCode string `json:"product_code"`
}

type SearchProducts struct {
	SearchTerm string `json:"search_term"`
}

type CreateOrderDraft struct {
	Items []erp.OrderItem `json:"items"`
}

// ConfirmOrder persists the session's pending draft.
type ConfirmOrder struct{}

func (QueryProductInfo) Name() FunctionName { return FunctionQueryProductInfo }
func (SearchProducts) Name() FunctionName   { return FunctionSearchProducts }
func (CreateOrderDraft) Name() FunctionName { return FunctionCreateOrderDraft }
func (ConfirmOrder) Name() FunctionName     { return FunctionConfirmOrder }

func (QueryProductInfo) isFunctionCall() {}
func (SearchProducts) isFunctionCall()   {}
func (CreateOrderDraft) isFunctionCall() {}
func (ConfirmOrder) isFunctionCall()     {}

// DecodeFunctionCall turns a named call with JSON arguments into its typed
// form. Unknown names wrap ErrUnknownFunction; bad arguments wrap
// ErrSchemaViolation.
func DecodeFunctionCall(name string, rawArgs string) (FunctionCall, error) {
	name = strings.TrimSpace(name)
	rawArgs = strings.TrimSpace(rawArgs)
	if rawArgs == "" {
		rawArgs = "{}"
	}

	switch FunctionName(name) {
	case FunctionQueryProductInfo:
		var call QueryProductInfo
		if err := json.Unmarshal([]byte(rawArgs), &call); err != nil {
			return nil, fmt.Errorf("%w: invalid args for %s: %v", ErrSchemaViolation, name, err)
		}
		call.ProductCode = strings.ToUpper(strings.TrimSpace(call.ProductCode))
		if call.ProductCode == "" {
			return nil, fmt.Errorf("%w: %s requires product_code", ErrSchemaViolation, name)
		}
		return call, nil
	case FunctionSearchProducts:
		var call SearchProducts
		if err := json.Unmarshal([]byte(rawArgs), &call); err != nil {
			return nil, fmt.Errorf("%w: invalid args for %s: %v", ErrSchemaViolation, name, err)
		}
		call.SearchTerm = strings.TrimSpace(call.SearchTerm)
		if call.SearchTerm == "" {
			return nil, fmt.Errorf("%w: %s requires search_term", ErrSchemaViolation, name)
		}
		return call, nil
	case FunctionCreateOrderDraft:
		return decodeCreateOrderDraft(rawArgs)
	case FunctionConfirmOrder:
		return ConfirmOrder{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, name)
	}
}

func decodeCreateOrderDraft(rawArgs string) (FunctionCall, error) {
	// Models often send quantities as floats.
	var raw struct {
		Items []struct {
			ProductCode string  `json:"product_code"`
			Quantity    float64 `json:"quantity"`
		} `json:"items"`
	}
	if err := json.Unmarshal([]byte(rawArgs), &raw); err != nil {
		return nil, fmt.Errorf("%w: invalid args for %s: %v", ErrSchemaViolation, FunctionCreateOrderDraft, err)
	}
	if len(raw.Items) == 0 {
		return nil, fmt.Errorf("%w: %s requires at least one item", ErrSchemaViolation, FunctionCreateOrderDraft)
	}

	call := CreateOrderDraft{Items: make([]erp.OrderItem, 0, len(raw.Items))}
	for i, it := range raw.Items {
		code := strings.ToUpper(strings.TrimSpace(it.ProductCode))
		if code == "" {
			return nil, fmt.Errorf("%w: item %d has no product_code", ErrSchemaViolation, i)
		}
		if it.Quantity != math.Trunc(it.Quantity) {
			return nil, fmt.Errorf("%w: item %d quantity %v is not whole", ErrSchemaViolation, i, it.Quantity)
		}
		call.Items = append(call.Items, erp.OrderItem{ProductCode: code, Quantity: int(it.Quantity)})
	}
	return call, nil
}
