package orchestratornode

import (
	"fmt"

	contractx "github.com/tanpawarit/voice-order-agent/agent/contract"
	statex "github.com/tanpawarit/voice-order-agent/agent/state"
)

func RecordCustomerTurn(in *GraphState) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	in.Session.Stage = statex.StageProcessing
	in.Session.AppendCustomerTurn(in.Text, in.Now)
	return in, nil
}
