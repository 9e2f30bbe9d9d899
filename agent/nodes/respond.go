package orchestratornode

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/voice-order-agent/agent/contract"
	statex "github.com/tanpawarit/voice-order-agent/agent/state"
)

// ExecuteFunction runs the requested function; its message and data replace
// the classifier's provisional reply.
func ExecuteFunction(
	ctx context.Context,
	in *GraphState,
	executor contractx.FunctionExecutor,
	backend contractx.Backend,
) (GraphOutput, error) {
	if in == nil || in.Session == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	res := executor.Execute(ctx, in.Decision.FunctionCall, backend, in.Session)
	data := res.Data
	return FinalizeTurn(in, res.Message, &data)
}

func RespondDirect(in *GraphState) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	return FinalizeTurn(in, in.Decision.Message, nil)
}

// FinalizeTurn appends the agent turn and moves the session to its next stage.
func FinalizeTurn(in *GraphState, message string, data *contractx.FunctionData) (GraphOutput, error) {
	if in == nil || in.Session == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	dec := in.Decision
	message = strings.TrimSpace(message)
	if message == "" {
		message = strings.TrimSpace(dec.Message)
	}
	if message == "" {
		return GraphOutput{}, fmt.Errorf("%w: turn produced an empty reply", contractx.ErrValidation)
	}

	sess := in.Session
	sess.AppendAgentTurn(message, &statex.TurnMetadata{
		Intent:     string(dec.Intent),
		Confidence: dec.Confidence,
		Action:     string(dec.Action),
	}, in.Now)
	sess.CurrentIntent = string(dec.Intent)

	if dec.Intent == contractx.IntentCancellation {
		sess.ClearPendingDraft()
	}

	endCall := dec.Action == contractx.DecisionEndCall
	if endCall {
		sess.Stage = statex.StageEnding
	} else {
		sess.Stage = statex.StageListening
	}

	if err := sess.Validate(); err != nil {
		return GraphOutput{}, fmt.Errorf("session validation failed: %w", err)
	}

	return GraphOutput{
		Message:    message,
		Intent:     dec.Intent,
		Confidence: dec.Confidence,
		Action:     dec.Action,
		Data:       data,
		EndCall:    endCall,
	}, nil
}
