package orchestrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
	contractx "github.com/tanpawarit/voice-order-agent/agent/contract"
	nodex "github.com/tanpawarit/voice-order-agent/agent/nodes"
)

func (o *Orchestrator) compileSpeechTurnGraph(
	ctx context.Context,
) (compose.Runnable[nodex.GraphInput, nodex.GraphOutput], error) {
	graph := compose.NewGraph[nodex.GraphInput, nodex.GraphOutput]()

	if err := graph.AddLambdaNode("validate_turn",
		compose.InvokableLambda(func(ctx context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
			return nodex.ValidateTurn(in, o.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_turn: %w", err)
	}

	if err := graph.AddLambdaNode("load_or_create_session",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.LoadOrCreateSession(ctx, in, o.store, o.backend, o.logger)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node load_or_create_session: %w", err)
	}

	if err := graph.AddLambdaNode("record_customer_turn",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RecordCustomerTurn(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node record_customer_turn: %w", err)
	}

	if err := graph.AddLambdaNode("classify_turn",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ClassifyTurn(ctx, in, o.classifier, o.backend, o.logger)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node classify_turn: %w", err)
	}

	if err := graph.AddLambdaNode("execute_function",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (nodex.GraphOutput, error) {
			return nodex.ExecuteFunction(ctx, in, o.executor, o.backend)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node execute_function: %w", err)
	}

	if err := graph.AddLambdaNode("respond_direct",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (nodex.GraphOutput, error) {
			return nodex.RespondDirect(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node respond_direct: %w", err)
	}

	branch := compose.NewGraphBranch(
		func(ctx context.Context, in *nodex.GraphState) (string, error) {
			if in == nil {
				return "", fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
			}
			if nodex.NeedsFunction(in) {
				return "execute_function", nil
			}
			return "respond_direct", nil
		},
		map[string]bool{
			"execute_function": true,
			"respond_direct":   true,
		},
	)
	if err := graph.AddBranch("classify_turn", branch); err != nil {
		return nil, fmt.Errorf("add classify branch: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_turn"},
		{"validate_turn", "load_or_create_session"},
		{"load_or_create_session", "record_customer_turn"},
		{"record_customer_turn", "classify_turn"},
		{"execute_function", compose.END},
		{"respond_direct", compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("orchestrator.speech_turn"))
	if err != nil {
		return nil, fmt.Errorf("compile orchestrator graph: %w", err)
	}
	return runner, nil
}
