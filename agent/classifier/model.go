package classifier

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/voice-order-agent/agent/contract"
	"github.com/tanpawarit/voice-order-agent/agent/erp"
	"github.com/tanpawarit/voice-order-agent/agent/prompt"
	statex "github.com/tanpawarit/voice-order-agent/agent/state"
)

const (
	defaultHistoryWindow = 6
	defaultCatalogLimit  = 10

	toolCallConfidence = 0.8
	replyConfidence    = 0.9
)

// ModelOption customizes ModelClassifier.
type ModelOption func(*ModelClassifier)

func WithModelLogger(logger zerolog.Logger) ModelOption {
	return func(c *ModelClassifier) {
		c.logger = logger
	}
}

func WithModelCompanyName(name string) ModelOption {
	return func(c *ModelClassifier) {
		if name = strings.TrimSpace(name); name != "" {
			c.company = name
		}
	}
}

// WithHistoryWindow sets how many prior turns are sent to the model.
func WithHistoryWindow(n int) ModelOption {
	return func(c *ModelClassifier) {
		if n > 0 {
			c.historyWindow = n
		}
	}
}

func WithCatalogLimit(n int) ModelOption {
	return func(c *ModelClassifier) {
		if n > 0 {
			c.catalogLimit = n
		}
	}
}

var _ contractx.Classifier = (*ModelClassifier)(nil)

// ModelClassifier asks a hosted chat model for either a spoken reply or one
// function call from the tool catalog.
type ModelClassifier struct {
	runner        compose.Runnable[map[string]any, *schema.Message]
	company       string
	historyWindow int
	catalogLimit  int
	logger        zerolog.Logger
}

func NewModelClassifier(
	ctx context.Context,
	chatModel einomodel.ToolCallingChatModel,
	systemPrompt string,
	tools []*schema.ToolInfo,
	opts ...ModelOption,
) (*ModelClassifier, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("%w: chat model is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, contractx.ErrPromptMissing
	}

	toolModel, err := chatModel.WithTools(tools)
	if err != nil {
		return nil, fmt.Errorf("%w: bind classifier tools: %v", contractx.ErrModelInvoke, err)
	}

	runner, err := compileClassifierGraph(ctx, toolModel, systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}

	c := &ModelClassifier{
		runner:        runner,
		company:       prompt.DefaultCompanyName,
		historyWindow: defaultHistoryWindow,
		catalogLimit:  defaultCatalogLimit,
		logger:        log.Logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

func compileClassifierGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
) (compose.Runnable[map[string]any, *schema.Message], error) {
	template := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{utterance}"),
	)

	graph := compose.NewGraph[map[string]any, *schema.Message]()
	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return nil, fmt.Errorf("add classifier prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add classifier model node: %w", err)
	}
	if err := graph.AddEdge(compose.START, "prompt"); err != nil {
		return nil, fmt.Errorf("add classifier edge start->prompt: %w", err)
	}
	if err := graph.AddEdge("prompt", "model"); err != nil {
		return nil, fmt.Errorf("add classifier edge prompt->model: %w", err)
	}
	if err := graph.AddEdge("model", compose.END); err != nil {
		return nil, fmt.Errorf("add classifier edge model->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("classifier.model_graph"))
	if err != nil {
		return nil, fmt.Errorf("compile classifier graph: %w", err)
	}
	return runner, nil
}

func (c *ModelClassifier) Classify(ctx context.Context, req contractx.ClassifyRequest) contractx.IntentDecision {
	callID := ""
	if req.Session != nil {
		callID = req.Session.CallID
	}

	msg, err := c.runner.Invoke(ctx, c.variables(req))
	if err != nil {
		c.logger.Error().Err(err).Str("call_id", callID).Msg("classifier model invoke failed")
		return ErrorDecision()
	}
	if msg == nil {
		c.logger.Error().Str("call_id", callID).Msg("classifier model returned no message")
		return ErrorDecision()
	}

	if len(msg.ToolCalls) > 0 {
		tc := msg.ToolCalls[0]
		call, err := contractx.DecodeFunctionCall(tc.Function.Name, tc.Function.Arguments)
		if err != nil {
			c.logger.Warn().Err(err).Str("call_id", callID).Str("function", tc.Function.Name).Msg("classifier requested an invalid function call")
			return ErrorDecision()
		}
		return contractx.IntentDecision{
			Intent:               intentForCall(call, req.Utterance),
			Confidence:           toolCallConfidence,
			Message:              MsgProcessing,
			Action:               contractx.DecisionSpeak,
			RequiresBackendQuery: true,
			FunctionCall:         call,
		}
	}

	reply := strings.TrimSpace(msg.Content)
	if reply == "" {
		c.logger.Warn().Str("call_id", callID).Msg("classifier model returned empty content")
		return ErrorDecision()
	}
	return contractx.IntentDecision{
		Intent:     ExtractIntent(req.Utterance),
		Confidence: replyConfidence,
		Message:    reply,
		Action:     ActionForReply(reply),
	}
}

func (c *ModelClassifier) variables(req contractx.ClassifyRequest) map[string]any {
	customer := erp.GuestCustomer("")
	var history []*schema.Message
	if req.Session != nil {
		customer = req.Session.Customer
		history = historyMessages(req.Session, req.Utterance, c.historyWindow)
	}
	phone := customer.Phone
	if phone == "" && req.Session != nil {
		phone = req.Session.CustomerPhone
	}

	return map[string]any{
		"company_name":     c.company,
		"customer_name":    customer.Name,
		"customer_phone":   phone,
		"discount_percent": fmt.Sprintf("%.0f", customer.DiscountRate*100),
		"available_credit": fmt.Sprintf("%.2f", customer.AvailableCredit),
		"catalog":          catalogLines(req.Catalog, c.catalogLimit),
		"history":          history,
		"utterance":        req.Utterance,
	}
}

// historyMessages converts the most recent turns to chat messages. The
// trailing customer turn is dropped when it is the utterance being classified.
func historyMessages(sess *statex.CallSession, utterance string, window int) []*schema.Message {
	turns := sess.RecentTurns(window + 1)
	if n := len(turns); n > 0 {
		last := turns[n-1]
		if last.Speaker == statex.SpeakerCustomer && strings.TrimSpace(last.Text) == strings.TrimSpace(utterance) {
			turns = turns[:n-1]
		}
	}
	if len(turns) > window {
		turns = turns[len(turns)-window:]
	}

	out := make([]*schema.Message, 0, len(turns))
	for _, t := range turns {
		if t.Speaker == statex.SpeakerAgent {
			out = append(out, schema.AssistantMessage(t.Text, nil))
			continue
		}
		out = append(out, schema.UserMessage(t.Text))
	}
	return out
}

func catalogLines(catalog []erp.Product, limit int) string {
	if len(catalog) == 0 {
		return "(catálogo no disponible)"
	}
	if len(catalog) > limit {
		catalog = catalog[:limit]
	}
	lines := make([]string, 0, len(catalog))
	for _, p := range catalog {
		lines = append(lines, fmt.Sprintf("- %s: %s - $%.2f (Stock: %d)", p.Code, p.Name, p.UnitPrice, p.Stock))
	}
	return strings.Join(lines, "\n")
}

func intentForCall(call contractx.FunctionCall, utterance string) contractx.Intent {
	if intent := ExtractIntent(utterance); intent != contractx.IntentGeneralInquiry {
		return intent
	}
	switch call.Name() {
	case contractx.FunctionSearchProducts:
		return contractx.IntentProductSearch
	case contractx.FunctionCreateOrderDraft:
		return contractx.IntentOrderCreation
	case contractx.FunctionConfirmOrder:
		return contractx.IntentConfirmation
	default:
		return contractx.IntentPriceInquiry
	}
}
