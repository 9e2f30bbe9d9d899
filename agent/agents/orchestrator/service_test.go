package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/tanpawarit/voice-order-agent/agent/backend"
	"github.com/tanpawarit/voice-order-agent/agent/classifier"
	contractx "github.com/tanpawarit/voice-order-agent/agent/contract"
	"github.com/tanpawarit/voice-order-agent/agent/erp"
	"github.com/tanpawarit/voice-order-agent/agent/prompt"
	statex "github.com/tanpawarit/voice-order-agent/agent/state"
	"github.com/tanpawarit/voice-order-agent/agent/tool"
)

const knownPhone = "+1234567890"

type fakeRecorder struct {
	mu   sync.Mutex
	recs []contractx.CallRecord
	err  error
}

func (f *fakeRecorder) RecordCall(_ context.Context, rec contractx.CallRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return f.err
}

func (f *fakeRecorder) records() []contractx.CallRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]contractx.CallRecord(nil), f.recs...)
}

type countingClassifier struct {
	inner contractx.Classifier
	calls atomic.Int32
}

func (c *countingClassifier) Classify(ctx context.Context, req contractx.ClassifyRequest) contractx.IntentDecision {
	c.calls.Add(1)
	return c.inner.Classify(ctx, req)
}

type panicClassifier struct{}

func (panicClassifier) Classify(context.Context, contractx.ClassifyRequest) contractx.IntentDecision {
	panic("classifier exploded")
}

// lookupFailingBackend breaks only customer lookup.
type lookupFailingBackend struct {
	*backend.Memory
}

func (lookupFailingBackend) GetCustomerByPhone(context.Context, string) (erp.Customer, error) {
	return erp.Customer{}, fmt.Errorf("%w: connection refused", contractx.ErrBackend)
}

type harness struct {
	orch     *Orchestrator
	store    *statex.MemoryStore
	backend  *backend.Memory
	recorder *fakeRecorder
	cls      *countingClassifier
}

func newHarness(t *testing.T, opts ...func(*harnessConfig)) *harness {
	t.Helper()

	cfg := harnessConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	store := statex.NewMemoryStore()
	mem := backend.NewDemoMemory()
	var be contractx.Backend = mem
	if cfg.failLookup {
		be = lookupFailingBackend{Memory: mem}
	}
	var inner contractx.Classifier = classifier.NewRuleClassifier(classifier.WithCompanyName("Acme"))
	if cfg.classifier != nil {
		inner = cfg.classifier
	}
	cls := &countingClassifier{inner: inner}
	rec := &fakeRecorder{}

	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	var tick atomic.Int64
	clock := func() time.Time {
		return base.Add(time.Duration(tick.Add(1)) * time.Second)
	}

	orch, err := New(store, be, cls, tool.NewDispatcher(tool.WithLogger(zerolog.Nop()), tool.WithClock(clock)),
		WithLogger(zerolog.Nop()),
		WithClock(clock),
		WithRecorder(rec),
		WithWelcome(prompt.FixedWelcome{Company: "Acme"}),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &harness{orch: orch, store: store, backend: mem, recorder: rec, cls: cls}
}

type harnessConfig struct {
	failLookup bool
	classifier contractx.Classifier
}

func withFailingLookup(c *harnessConfig) { c.failLookup = true }

func (h *harness) say(t *testing.T, callID, text string) Result {
	t.Helper()
	res, err := h.orch.Handle(context.Background(), Event{
		Type:          EventSpeechRecognized,
		CallID:        callID,
		CustomerPhone: knownPhone,
		Transcript:    text,
	})
	if err != nil {
		t.Fatalf("Handle(%q) error = %v", text, err)
	}
	return res
}

// records waits for background record writes before reading them.
func (h *harness) records(t *testing.T) []contractx.CallRecord {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.orch.WaitRecords(ctx); err != nil {
		t.Fatalf("WaitRecords() error = %v", err)
	}
	return h.recorder.records()
}

func (h *harness) connect(t *testing.T, callID, phone string) Result {
	t.Helper()
	res, err := h.orch.Handle(context.Background(), Event{Type: EventConnected, CallID: callID, CustomerPhone: phone})
	if err != nil {
		t.Fatalf("connect error = %v", err)
	}
	return res
}

func (h *harness) session(t *testing.T, callID string) *statex.CallSession {
	t.Helper()
	sess, ok, err := h.orch.Session(context.Background(), callID)
	if err != nil || !ok {
		t.Fatalf("Session(%s) = %v, %v", callID, ok, err)
	}
	return sess
}

func TestConnectSearchFarewellHangsUp(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	res := h.connect(t, "call-1", knownPhone)
	if res.Action != ActionSpeak || !strings.Contains(res.Message, "Empresa ABC") {
		t.Fatalf("connect result = %#v", res)
	}

	res = h.say(t, "call-1", "necesito una laptop")
	if res.Action != ActionSpeak || res.Intent != contractx.IntentProductSearch {
		t.Fatalf("search result = %#v", res)
	}
	if !strings.Contains(res.Message, "LAP001: Laptop Dell Inspiron 15 - $899.99") {
		t.Fatalf("search message = %q", res.Message)
	}
	if res.Data == nil || len(res.Data.SearchResults) != 1 {
		t.Fatalf("search data = %#v", res.Data)
	}

	res = h.say(t, "call-1", "gracias")
	if res.Action != ActionHangup || res.Intent != contractx.IntentEndConversation {
		t.Fatalf("farewell result = %#v", res)
	}
	if h.store.Len() != 0 {
		t.Fatalf("sessions = %d, want 0 after hangup", h.store.Len())
	}
	if _, ok := h.store.Get("call-1"); ok {
		t.Fatal("session still present after hangup")
	}

	recs := h.records(t)
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if recs[0].EndReason != contractx.EndReasonHangup || len(recs[0].Turns) != 5 || recs[0].CustomerID != "CUST001" {
		t.Fatalf("record = %#v", recs[0])
	}
}

func TestHistoryGrowsTwoTurnsPerUtterance(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.connect(t, "call-1", knownPhone)
	utterances := []string{"hola", "¿cuánto cuesta el MON001?", "busco un teclado"}
	for _, u := range utterances {
		h.say(t, "call-1", u)
	}

	sess := h.session(t, "call-1")
	if want := 2*len(utterances) + 1; len(sess.History) != want {
		t.Fatalf("history = %d, want %d", len(sess.History), want)
	}
	for i, turn := range sess.History {
		wantSpeaker := statex.SpeakerAgent
		if i%2 == 1 {
			wantSpeaker = statex.SpeakerCustomer
		}
		if turn.Speaker != wantSpeaker {
			t.Fatalf("turn %d speaker = %s, want %s", i, turn.Speaker, wantSpeaker)
		}
		if i > 0 && turn.Timestamp.Before(sess.History[i-1].Timestamp) {
			t.Fatalf("turn %d timestamp goes backwards", i)
		}
	}
	if sess.Stage != statex.StageListening {
		t.Fatalf("stage = %s, want listening", sess.Stage)
	}
}

func TestDuplicateConnectRepeatsWelcome(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	first := h.connect(t, "call-1", knownPhone)
	second := h.connect(t, "call-1", knownPhone)
	if first.Message != second.Message || second.Action != ActionSpeak {
		t.Fatalf("second connect = %#v, want repeat of %q", second, first.Message)
	}
	if n := len(h.session(t, "call-1").History); n != 1 {
		t.Fatalf("history = %d, want 1", n)
	}
}

func TestBlankTranscriptNeverClassifies(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	for _, text := range []string{"", "   ", "\n\t"} {
		res := h.say(t, "call-9", text)
		if res.Action != ActionSpeak || res.Message != MsgNotHeard {
			t.Fatalf("blank result = %#v", res)
		}
	}
	if h.cls.calls.Load() != 0 {
		t.Fatalf("classifier calls = %d, want 0", h.cls.calls.Load())
	}
	if h.store.Len() != 0 {
		t.Fatal("blank transcript created a session")
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.connect(t, "call-1", knownPhone)
	for i := 0; i < 2; i++ {
		res, err := h.orch.Handle(context.Background(), Event{Type: EventDisconnected, CallID: "call-1"})
		if err != nil {
			t.Fatalf("disconnect %d error = %v", i, err)
		}
		if res.Action != ActionAcknowledge || res.Message != MsgCallEnded {
			t.Fatalf("disconnect %d result = %#v", i, res)
		}
	}
	if h.store.Len() != 0 {
		t.Fatal("session survived disconnect")
	}
	recs := h.records(t)
	if len(recs) != 1 || recs[0].EndReason != contractx.EndReasonDisconnect {
		t.Fatalf("records = %#v", recs)
	}
}

func TestGuestFallbackPricesWithoutDiscount(t *testing.T) {
	t.Parallel()
	h := newHarness(t, withFailingLookup)

	res := h.connect(t, "call-1", knownPhone)
	if strings.Contains(res.Message, "Empresa ABC") {
		t.Fatalf("guest welcome used customer name: %q", res.Message)
	}
	if sess := h.session(t, "call-1"); sess.Customer.ID != erp.GuestCustomerID || sess.Customer.DiscountRate != 0 {
		t.Fatalf("customer = %#v, want guest", sess.Customer)
	}

	res = h.say(t, "call-1", "quiero comprar 2 laptops")
	if res.Intent != contractx.IntentOrderCreation || res.Data == nil || res.Data.Totals == nil {
		t.Fatalf("draft result = %#v", res)
	}
	if res.Data.Totals.Discount != 0 || res.Data.Totals.Total != res.Data.Totals.Subtotal || res.Data.Totals.Total != 1799.98 {
		t.Fatalf("totals = %#v", res.Data.Totals)
	}
	if strings.Contains(res.Message, "Descuento") {
		t.Fatalf("guest draft mentions discount: %q", res.Message)
	}
}

func TestOrderDraftConfirmAndCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect(t, "call-1", knownPhone)

	res := h.say(t, "call-1", "quiero comprar 2 laptops")
	if !strings.Contains(res.Message, "Descuento: $180.00") || !strings.Contains(res.Message, "Total: $1619.98") {
		t.Fatalf("draft message = %q", res.Message)
	}
	if h.session(t, "call-1").PendingDraft == nil {
		t.Fatal("draft not kept on session")
	}
	if len(h.backend.Orders()) != 0 {
		t.Fatal("order persisted before confirmation")
	}

	res = h.say(t, "call-1", "sí, confirmo")
	if res.Data == nil || res.Data.OrderID != "ORD000001" {
		t.Fatalf("confirm result = %#v", res)
	}
	sess := h.session(t, "call-1")
	if sess.PendingDraft != nil || len(sess.OrderIDs) != 1 {
		t.Fatalf("session after confirm: draft=%v orders=%v", sess.PendingDraft, sess.OrderIDs)
	}

	h.say(t, "call-1", "quiero comprar un monitor")
	if h.session(t, "call-1").PendingDraft == nil {
		t.Fatal("second draft missing")
	}
	res = h.say(t, "call-1", "cancelar")
	if res.Intent != contractx.IntentCancellation {
		t.Fatalf("cancel result = %#v", res)
	}
	if h.session(t, "call-1").PendingDraft != nil {
		t.Fatal("cancellation kept the pending draft")
	}
	if len(h.backend.Orders()) != 1 {
		t.Fatalf("orders = %d, want 1", len(h.backend.Orders()))
	}
}

func TestRejectedDraftCannotConfirmEarlierDraft(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect(t, "call-1", knownPhone)

	h.say(t, "call-1", "quiero comprar 2 laptops")
	if h.session(t, "call-1").PendingDraft == nil {
		t.Fatal("first draft missing")
	}

	res := h.say(t, "call-1", "quiero comprar 90 laptops")
	if res.Data == nil || res.Data.OrderValid == nil || *res.Data.OrderValid {
		t.Fatalf("oversized draft result = %#v", res)
	}
	if !strings.Contains(res.Message, "Stock insuficiente") {
		t.Fatalf("oversized draft message = %q", res.Message)
	}
	if h.session(t, "call-1").PendingDraft != nil {
		t.Fatal("rejected draft left the earlier draft pending")
	}

	res = h.say(t, "call-1", "sí")
	if res.Data != nil && res.Data.OrderID != "" {
		t.Fatalf("confirmation persisted order %s", res.Data.OrderID)
	}
	if !strings.HasPrefix(res.Message, "No tengo un pedido pendiente") {
		t.Fatalf("confirm message = %q", res.Message)
	}
	if n := len(h.backend.Orders()); n != 0 {
		t.Fatalf("orders = %d, want 0", n)
	}
}

func TestSpeechWithoutConnectCreatesSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.say(t, "call-late", "hola")
	sess := h.session(t, "call-late")
	if len(sess.History) != 2 || sess.Customer.ID != "CUST001" {
		t.Fatalf("lazy session = %#v", sess)
	}
}

func TestClassifierPanicDegradesToApology(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *harnessConfig) { c.classifier = panicClassifier{} })
	h.connect(t, "call-1", knownPhone)

	res := h.say(t, "call-1", "hola")
	if res.Action != ActionSpeak || res.Message != classifier.MsgTechnicalIssue || res.Intent != contractx.IntentError {
		t.Fatalf("result = %#v", res)
	}
	if n := len(h.session(t, "call-1").History); n != 3 {
		t.Fatalf("history = %d, want 3", n)
	}
}

func TestCallerCancellationDoesNotAbortTurn(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect(t, "call-1", knownPhone)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := h.orch.HandleSpeechRecognized(ctx, "call-1", knownPhone, "necesito un monitor")
	if err != nil {
		t.Fatalf("HandleSpeechRecognized() error = %v", err)
	}
	if res.Intent != contractx.IntentProductSearch {
		t.Fatalf("result = %#v", res)
	}
	if n := len(h.session(t, "call-1").History); n != 3 {
		t.Fatalf("history = %d, want 3", n)
	}
}

func TestConcurrentTurnsOnOneCallStayPaired(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect(t, "call-1", knownPhone)
	h.connect(t, "call-2", knownPhone)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			callID := "call-1"
			if i%2 == 1 {
				callID = "call-2"
			}
			if _, err := h.orch.HandleSpeechRecognized(context.Background(), callID, knownPhone, "busco un teclado"); err != nil {
				t.Errorf("turn %d error = %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	for _, callID := range []string{"call-1", "call-2"} {
		sess := h.session(t, callID)
		if len(sess.History) != n+1 {
			t.Fatalf("%s history = %d, want %d", callID, len(sess.History), n+1)
		}
		for i := 1; i < len(sess.History); i += 2 {
			if sess.History[i].Speaker != statex.SpeakerCustomer || sess.History[i+1].Speaker != statex.SpeakerAgent {
				t.Fatalf("%s turns %d/%d not paired", callID, i, i+1)
			}
		}
	}
}

func TestHandleRejectsMalformedEvents(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	if _, err := h.orch.Handle(context.Background(), Event{Type: EventConnected, CallID: " "}); !errors.Is(err, ErrInvalidCall) {
		t.Fatalf("empty call id error = %v", err)
	}
	if _, err := h.orch.Handle(context.Background(), Event{Type: "Ringing", CallID: "c"}); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("unknown event error = %v", err)
	}
	if _, err := h.orch.Handle(context.Background(), Event{Type: EventDisconnected}); !errors.Is(err, ErrInvalidCall) {
		t.Fatalf("disconnect without id error = %v", err)
	}
}

func TestRecorderFailureIsNotSurfaced(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.recorder.err = errors.New("sink down")
	h.connect(t, "call-1", knownPhone)

	res := h.say(t, "call-1", "adiós")
	if res.Action != ActionHangup {
		t.Fatalf("result = %#v", res)
	}
	if h.orch.ActiveCalls() != 0 {
		t.Fatal("session kept after failed record")
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()

	store := statex.NewMemoryStore()
	mem := backend.NewDemoMemory()
	cls := classifier.NewRuleClassifier()
	exec := tool.NewDispatcher()

	if _, err := New(nil, mem, cls, exec); err == nil {
		t.Fatal("New() without store succeeded")
	}
	if _, err := New(store, nil, cls, exec); err == nil {
		t.Fatal("New() without backend succeeded")
	}
	if _, err := New(store, mem, nil, exec); err == nil {
		t.Fatal("New() without classifier succeeded")
	}
	if _, err := New(store, mem, cls, nil); err == nil {
		t.Fatal("New() without executor succeeded")
	}
}

type blockingRecorder struct {
	release chan struct{}
	done    chan error
}

func (b *blockingRecorder) RecordCall(ctx context.Context, _ contractx.CallRecord) error {
	select {
	case <-b.release:
		b.done <- nil
		return nil
	case <-ctx.Done():
		b.done <- ctx.Err()
		return ctx.Err()
	}
}

func newBlockingOrchestrator(t *testing.T, rec contractx.CallRecorder, opts ...Option) *Orchestrator {
	t.Helper()
	opts = append([]Option{
		WithLogger(zerolog.Nop()),
		WithRecorder(rec),
		WithWelcome(prompt.FixedWelcome{Company: "Acme"}),
	}, opts...)
	orch, err := New(statex.NewMemoryStore(), backend.NewDemoMemory(), classifier.NewRuleClassifier(),
		tool.NewDispatcher(tool.WithLogger(zerolog.Nop())), opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return orch
}

func TestSlowRecorderDoesNotDelayReply(t *testing.T) {
	t.Parallel()

	rec := &blockingRecorder{release: make(chan struct{}), done: make(chan error, 1)}
	orch := newBlockingOrchestrator(t, rec)
	ctx := context.Background()

	if _, err := orch.Handle(ctx, Event{Type: EventConnected, CallID: "call-1", CustomerPhone: knownPhone}); err != nil {
		t.Fatalf("connect error = %v", err)
	}

	replied := make(chan Result, 1)
	go func() {
		res, _ := orch.Handle(ctx, Event{Type: EventDisconnected, CallID: "call-1"})
		replied <- res
	}()
	select {
	case res := <-replied:
		if res.Action != ActionAcknowledge {
			t.Fatalf("disconnect result = %#v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect waited for the recorder")
	}

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := orch.WaitRecords(waitCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitRecords() while blocked = %v, want deadline exceeded", err)
	}

	close(rec.release)
	if err := orch.WaitRecords(context.Background()); err != nil {
		t.Fatalf("WaitRecords() error = %v", err)
	}
	if err := <-rec.done; err != nil {
		t.Fatalf("record error = %v", err)
	}
}

func TestRecordTimeoutBoundsSink(t *testing.T) {
	t.Parallel()

	rec := &blockingRecorder{release: make(chan struct{}), done: make(chan error, 1)}
	orch := newBlockingOrchestrator(t, rec, WithRecordTimeout(20*time.Millisecond))
	ctx := context.Background()

	orch.Handle(ctx, Event{Type: EventConnected, CallID: "call-1", CustomerPhone: knownPhone})
	orch.Handle(ctx, Event{Type: EventDisconnected, CallID: "call-1"})

	select {
	case err := <-rec.done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("record ctx error = %v, want deadline exceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("record timeout never fired")
	}
}
