package orchestratornode

import (
	"errors"
	"strings"
	"time"

	contractx "github.com/tanpawarit/voice-order-agent/agent/contract"
	"github.com/tanpawarit/voice-order-agent/agent/erp"
	statex "github.com/tanpawarit/voice-order-agent/agent/state"
)

var (
	ErrBlankTranscript = errors.New("transcript is empty")
	ErrInvalidCall     = statex.ErrInvalidSession
)

type GraphInput struct {
	CallID        string
	CustomerPhone string
	Transcript    string
}

type GraphOutput struct {
	Message    string
	Intent     contractx.Intent
	Confidence float64
	Action     contractx.DecisionAction
	Data       *contractx.FunctionData
	EndCall    bool
}

// GraphState is threaded through every node of one speech turn.
type GraphState struct {
	CallID        string
	CustomerPhone string
	Text          string
	Now           time.Time

	Session  *statex.CallSession
	Catalog  []erp.Product
	Decision contractx.IntentDecision
}

// ValidateTurn rejects turns that must not reach the session. Callers are
// expected to answer a blank transcript without invoking the graph; the check
// here keeps the graph safe on its own.
func ValidateTurn(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	callID := strings.TrimSpace(in.CallID)
	if callID == "" {
		return nil, ErrInvalidCall
	}

	text := strings.TrimSpace(in.Transcript)
	if text == "" {
		return nil, ErrBlankTranscript
	}

	return &GraphState{
		CallID:        callID,
		CustomerPhone: strings.TrimSpace(in.CustomerPhone),
		Text:          text,
		Now:           nowFn().UTC(),
	}, nil
}
