package classifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/voice-order-agent/agent/contract"
	"github.com/tanpawarit/voice-order-agent/agent/erp"
	statex "github.com/tanpawarit/voice-order-agent/agent/state"
	"github.com/tanpawarit/voice-order-agent/agent/tool"
)

type fakeToolCallingModel struct {
	mu        sync.Mutex
	responses []*schema.Message
	err       error
	idx       int
	inputs    [][]*schema.Message
	tools     []*schema.ToolInfo
}

func (f *fakeToolCallingModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return nil, f.err
	}
	if f.idx >= len(f.responses) {
		return nil, errors.New("no fake response left")
	}
	msg := f.responses[f.idx]
	f.idx++
	return msg, nil
}

func (f *fakeToolCallingModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

func (f *fakeToolCallingModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	f.tools = tools
	return f, nil
}

const testPrompt = "Eres el asistente de {company_name}. Cliente: {customer_name} ({customer_phone}), descuento {discount_percent}%, crédito ${available_credit}.\nCatálogo:\n{catalog}"

func newTestModelClassifier(t *testing.T, fake *fakeToolCallingModel) *ModelClassifier {
	t.Helper()
	c, err := NewModelClassifier(context.Background(), fake, testPrompt, tool.Infos(),
		WithModelLogger(zerolog.Nop()),
		WithModelCompanyName("Acme"),
	)
	if err != nil {
		t.Fatalf("NewModelClassifier() error = %v", err)
	}
	return c
}

func testSession() *statex.CallSession {
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	customer := erp.Customer{ID: "CUST001", Name: "Empresa ABC", Phone: "+1234567890", DiscountRate: 0.10, AvailableCredit: 50000}
	sess := statex.NewCallSession("call-1", customer.Phone, customer, now)
	sess.AppendAgentTurn("¡Hola Empresa ABC!", nil, now)
	sess.AppendCustomerTurn("busco algo", now)
	sess.AppendAgentTurn("¿Qué producto?", nil, now)
	sess.AppendCustomerTurn("cuánto cuesta la LAP001", now)
	return sess
}

func TestModelClassifierToolCall(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{{
			Role: schema.Assistant,
			ToolCalls: []schema.ToolCall{{
				ID:   "call_1",
				Type: "function",
				Function: schema.FunctionCall{
					Name:      "query_product_info",
					Arguments: `{"product_code":"lap001"}`,
				},
			}},
		}},
	}
	c := newTestModelClassifier(t, fake)

	dec := c.Classify(context.Background(), contractx.ClassifyRequest{
		Session:   testSession(),
		Utterance: "cuánto cuesta la LAP001",
		Catalog:   demoCatalog(),
	})
	if !dec.RequiresBackendQuery || dec.Confidence != 0.8 || dec.Message != MsgProcessing {
		t.Fatalf("decision = %#v", dec)
	}
	if dec.Intent != contractx.IntentPriceInquiry {
		t.Fatalf("intent = %s, want price_inquiry", dec.Intent)
	}
	call, ok := dec.FunctionCall.(contractx.QueryProductInfo)
	if !ok || call.ProductCode != "LAP001" {
		t.Fatalf("function call = %#v", dec.FunctionCall)
	}
	if len(fake.tools) != 4 {
		t.Fatalf("bound tools = %d, want 4", len(fake.tools))
	}
}

func TestModelClassifierPromptCarriesContext(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{{Role: schema.Assistant, Content: "El LAP001 cuesta $899.99."}},
	}
	c := newTestModelClassifier(t, fake)

	dec := c.Classify(context.Background(), contractx.ClassifyRequest{
		Session:   testSession(),
		Utterance: "cuánto cuesta la LAP001",
		Catalog:   demoCatalog(),
	})
	if dec.Message != "El LAP001 cuesta $899.99." || dec.Action != contractx.DecisionSpeak || dec.Confidence != 0.9 {
		t.Fatalf("decision = %#v", dec)
	}

	if len(fake.inputs) != 1 {
		t.Fatalf("model calls = %d, want 1", len(fake.inputs))
	}
	msgs := fake.inputs[0]
	system := msgs[0].Content
	for _, want := range []string{"Acme", "Empresa ABC", "+1234567890", "descuento 10%", "$50000.00", "LAP001: Laptop Dell Inspiron 15 - $899.99 (Stock: 25)"} {
		if !strings.Contains(system, want) {
			t.Fatalf("system prompt missing %q:\n%s", want, system)
		}
	}

	// system + 3 prior turns + current utterance; the duplicate trailing turn is dropped.
	if len(msgs) != 5 {
		t.Fatalf("messages = %d, want 5", len(msgs))
	}
	if msgs[1].Role != schema.Assistant || msgs[2].Role != schema.User {
		t.Fatalf("history roles = %s, %s", msgs[1].Role, msgs[2].Role)
	}
	if last := msgs[len(msgs)-1]; last.Role != schema.User || last.Content != "cuánto cuesta la LAP001" {
		t.Fatalf("last message = %#v", last)
	}
}

func TestModelClassifierBracesInValuesAreLiteral(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{{Role: schema.Assistant, Content: "Tenemos el kit."}},
	}
	c := newTestModelClassifier(t, fake)

	sess := testSession()
	sess.Customer.Name = "Taller {Norte}"
	catalog := []erp.Product{{Code: "KIT001", Name: "Kit {Pro} } edición", UnitPrice: 10, Stock: 3, Active: true}}

	dec := c.Classify(context.Background(), contractx.ClassifyRequest{
		Session:   sess,
		Utterance: "precio del kit {pro}",
		Catalog:   catalog,
	})
	if dec.Intent == contractx.IntentError || dec.Message != "Tenemos el kit." {
		t.Fatalf("decision = %#v", dec)
	}

	msgs := fake.inputs[0]
	for _, want := range []string{"- KIT001: Kit {Pro} } edición - $10.00 (Stock: 3)", "Taller {Norte}"} {
		if !strings.Contains(msgs[0].Content, want) {
			t.Fatalf("system prompt missing %q:\n%s", want, msgs[0].Content)
		}
	}
	if last := msgs[len(msgs)-1]; last.Content != "precio del kit {pro}" {
		t.Fatalf("utterance = %q", last.Content)
	}
}

func TestModelClassifierFarewellReplyEndsCall(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{{Role: schema.Assistant, Content: "Gracias por llamar, ¡que tenga buen día!"}},
	}
	dec := newTestModelClassifier(t, fake).Classify(context.Background(), contractx.ClassifyRequest{
		Session:   testSession(),
		Utterance: "eso es todo, gracias",
	})
	if dec.Action != contractx.DecisionEndCall || dec.Intent != contractx.IntentEndConversation {
		t.Fatalf("decision = %#v", dec)
	}
}

func TestModelClassifierFailuresBecomeErrorDecision(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fake *fakeToolCallingModel
	}{
		{name: "invoke error", fake: &fakeToolCallingModel{err: errors.New("rate limited")}},
		{name: "empty content", fake: &fakeToolCallingModel{responses: []*schema.Message{{Role: schema.Assistant, Content: "  "}}}},
		{
			name: "unknown function",
			fake: &fakeToolCallingModel{responses: []*schema.Message{{
				Role:      schema.Assistant,
				ToolCalls: []schema.ToolCall{{ID: "c1", Function: schema.FunctionCall{Name: "delete_everything", Arguments: `{}`}}},
			}}},
		},
		{
			name: "bad arguments",
			fake: &fakeToolCallingModel{responses: []*schema.Message{{
				Role:      schema.Assistant,
				ToolCalls: []schema.ToolCall{{ID: "c1", Function: schema.FunctionCall{Name: "create_order_draft", Arguments: `{"items":[]}`}}},
			}}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			dec := newTestModelClassifier(t, tc.fake).Classify(context.Background(), contractx.ClassifyRequest{
				Session:   testSession(),
				Utterance: "hola",
			})
			if dec != ErrorDecision() {
				t.Fatalf("decision = %#v, want ErrorDecision()", dec)
			}
		})
	}
}

func TestNewModelClassifierRequiresPrompt(t *testing.T) {
	t.Parallel()

	_, err := NewModelClassifier(context.Background(), &fakeToolCallingModel{}, " ", nil)
	if !errors.Is(err, contractx.ErrPromptMissing) {
		t.Fatalf("error = %v, want ErrPromptMissing", err)
	}
}
