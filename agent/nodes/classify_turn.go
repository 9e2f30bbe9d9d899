package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/voice-order-agent/agent/contract"
)

func ClassifyTurn(
	ctx context.Context,
	in *GraphState,
	classifier contractx.Classifier,
	backend contractx.Backend,
	logger zerolog.Logger,
) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	if backend != nil {
		catalog, err := backend.ListProducts(ctx)
		if err != nil {
			logger.Warn().Err(err).Str("call_id", in.CallID).Msg("catalog unavailable for classification")
		} else {
			in.Catalog = catalog
		}
	}

	in.Decision = classifier.Classify(ctx, contractx.ClassifyRequest{
		Session:   in.Session,
		Utterance: in.Text,
		Catalog:   in.Catalog,
	})

	logger.Debug().
		Str("call_id", in.CallID).
		Str("intent", string(in.Decision.Intent)).
		Float64("confidence", in.Decision.Confidence).
		Bool("requires_backend_query", in.Decision.RequiresBackendQuery).
		Msg("turn classified")
	return in, nil
}

// NeedsFunction reports whether the decision must go through the dispatcher.
func NeedsFunction(in *GraphState) bool {
	return in != nil && in.Decision.RequiresBackendQuery && in.Decision.FunctionCall != nil
}
