package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tanpawarit/voice-order-agent/agent/classifier"
	contractx "github.com/tanpawarit/voice-order-agent/agent/contract"
	nodex "github.com/tanpawarit/voice-order-agent/agent/nodes"
	"github.com/tanpawarit/voice-order-agent/agent/prompt"
	"github.com/tanpawarit/voice-order-agent/agent/record"
	statex "github.com/tanpawarit/voice-order-agent/agent/state"
)

const (
	MsgNotHeard   = "No pude escuchar claramente. ¿Podría repetir por favor?"
	MsgCallEnded  = "Llamada finalizada"
	defaultTurnTO = 15 * time.Second
	defaultRecTO  = 10 * time.Second
)

var (
	ErrInvalidCall  = nodex.ErrInvalidCall
	ErrUnknownEvent = errors.New("unknown call event")
)

type EventType string

const (
	EventConnected        EventType = "CallConnected"
	EventSpeechRecognized EventType = "RecognizeCompleted"
	EventDisconnected     EventType = "CallDisconnected"
)

// Event is one telephony callback, already decoded by the transport.
type Event struct {
	Type          EventType `json:"eventType"`
	CallID        string    `json:"callId"`
	CustomerPhone string    `json:"customerPhone,omitempty"`
	Transcript    string    `json:"transcribedText,omitempty"`
}

type Action string

const (
	ActionSpeak       Action = "speak"
	ActionHangup      Action = "hangup"
	ActionAcknowledge Action = "acknowledge"
)

// Result tells the telephony layer what to say and whether to keep the line.
type Result struct {
	Action     Action                  `json:"action"`
	Message    string                  `json:"message"`
	CallID     string                  `json:"callId"`
	Intent     contractx.Intent        `json:"intent,omitempty"`
	Confidence float64                 `json:"confidence,omitempty"`
	Data       *contractx.FunctionData `json:"data,omitempty"`
}

// Option customizes Orchestrator.
type Option func(*Orchestrator)

func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithTurnTimeout bounds one event, including the wait for the call's slot.
// Zero disables the bound.
func WithTurnTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.turnTimeout = d
	}
}

func WithRecorder(rec contractx.CallRecorder) Option {
	return func(o *Orchestrator) {
		o.recorder = rec
	}
}

// WithRecordTimeout bounds each call record write. Zero disables the bound.
func WithRecordTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.recordTimeout = d
	}
}

func WithWelcome(w prompt.WelcomeSelector) Option {
	return func(o *Orchestrator) {
		if w != nil {
			o.welcome = w
		}
	}
}

type Orchestrator struct {
	store      statex.Store
	backend    contractx.Backend
	classifier contractx.Classifier
	executor   contractx.FunctionExecutor
	recorder   contractx.CallRecorder
	welcome    prompt.WelcomeSelector

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	logger        zerolog.Logger
	now           func() time.Time
	turnTimeout   time.Duration
	recordTimeout time.Duration
	records       sync.WaitGroup
}

func New(
	store statex.Store,
	backend contractx.Backend,
	cls contractx.Classifier,
	executor contractx.FunctionExecutor,
	opts ...Option,
) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if cls == nil {
		return nil, errors.New("classifier is required")
	}
	if executor == nil {
		return nil, errors.New("function executor is required")
	}

	o := &Orchestrator{
		store:       store,
		backend:     backend,
		executor:    executor,
		logger:      log.Logger,
		now:         time.Now,
		turnTimeout:   defaultTurnTO,
		recordTimeout: defaultRecTO,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	o.classifier = classifier.Guard(cls, o.logger)
	if o.welcome == nil {
		o.welcome = prompt.NewTemplateSelector(prompt.DefaultCompanyName, 0)
	}

	graphRunner, err := o.compileSpeechTurnGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// Handle routes an event to its handler. Only malformed events return an
// error; everything else degrades to a spoken reply.
func (o *Orchestrator) Handle(ctx context.Context, ev Event) (Result, error) {
	switch ev.Type {
	case EventConnected:
		return o.HandleConnected(ctx, ev.CallID, ev.CustomerPhone)
	case EventSpeechRecognized:
		return o.HandleSpeechRecognized(ctx, ev.CallID, ev.CustomerPhone, ev.Transcript)
	case EventDisconnected:
		return o.HandleDisconnected(ctx, ev.CallID)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}
}

func (o *Orchestrator) HandleConnected(ctx context.Context, callID, phone string) (Result, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return Result{}, ErrInvalidCall
	}

	ctx, cancel := o.turnContext(ctx)
	defer cancel()

	release, err := o.store.Acquire(ctx, callID)
	if err != nil {
		return o.slotUnavailable(callID, err), nil
	}
	defer release()

	if sess, ok := o.store.Get(callID); ok {
		msg := o.welcome.Welcome(sess.Customer)
		if first, ok := sess.FirstAgentTurn(); ok {
			msg = first.Text
		}
		o.logger.Debug().Str("call_id", callID).Str("event", string(EventConnected)).Msg("duplicate connect, repeating welcome")
		return Result{Action: ActionSpeak, Message: msg, CallID: callID, Intent: contractx.IntentGreeting, Confidence: 1}, nil
	}

	customer := nodex.ResolveCustomer(ctx, o.backend, o.logger, callID, phone)
	now := o.now()
	sess, err := o.store.Create(callID, phone, customer, now)
	if err != nil && !errors.Is(err, statex.ErrSessionExists) {
		return Result{}, err
	}

	msg := o.welcome.Welcome(customer)
	sess.AppendAgentTurn(msg, &statex.TurnMetadata{
		Intent:     string(contractx.IntentGreeting),
		Confidence: 1,
		Action:     string(contractx.DecisionSpeak),
	}, now)
	sess.CurrentIntent = string(contractx.IntentGreeting)
	sess.Stage = statex.StageListening

	o.logger.Info().
		Str("call_id", callID).
		Str("event", string(EventConnected)).
		Str("customer_id", customer.ID).
		Bool("guest", customer.IsGuest()).
		Msg("call connected")
	return Result{Action: ActionSpeak, Message: msg, CallID: callID, Intent: contractx.IntentGreeting, Confidence: 1}, nil
}

func (o *Orchestrator) HandleSpeechRecognized(ctx context.Context, callID, phone, transcript string) (Result, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return Result{}, ErrInvalidCall
	}
	if strings.TrimSpace(transcript) == "" {
		return Result{Action: ActionSpeak, Message: MsgNotHeard, CallID: callID}, nil
	}

	ctx, cancel := o.turnContext(ctx)
	defer cancel()

	release, err := o.store.Acquire(ctx, callID)
	if err != nil {
		return o.slotUnavailable(callID, err), nil
	}
	defer release()

	out, err := o.graphRunner.Invoke(ctx, nodex.GraphInput{
		CallID:        callID,
		CustomerPhone: phone,
		Transcript:    transcript,
	})
	if err != nil {
		o.logger.Error().Err(err).Str("call_id", callID).Str("event", string(EventSpeechRecognized)).Msg("speech turn failed")
		return o.turnFailed(callID), nil
	}

	o.logger.Info().
		Str("call_id", callID).
		Str("event", string(EventSpeechRecognized)).
		Str("intent", string(out.Intent)).
		Float64("confidence", out.Confidence).
		Bool("end_call", out.EndCall).
		Msg("speech turn handled")

	res := Result{
		Action:     ActionSpeak,
		Message:    out.Message,
		CallID:     callID,
		Intent:     out.Intent,
		Confidence: out.Confidence,
		Data:       out.Data,
	}
	if out.EndCall {
		o.endCall(ctx, callID, contractx.EndReasonHangup)
		res.Action = ActionHangup
	}
	return res, nil
}

// HandleDisconnected is idempotent: unknown calls are acknowledged too.
func (o *Orchestrator) HandleDisconnected(ctx context.Context, callID string) (Result, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return Result{}, ErrInvalidCall
	}

	ctx, cancel := o.turnContext(ctx)
	defer cancel()

	release, err := o.store.Acquire(ctx, callID)
	if err != nil {
		o.logger.Warn().Err(err).Str("call_id", callID).Msg("disconnect without slot, dropping session")
		o.store.Delete(callID)
		return Result{Action: ActionAcknowledge, Message: MsgCallEnded, CallID: callID}, nil
	}
	defer release()

	o.endCall(ctx, callID, contractx.EndReasonDisconnect)
	return Result{Action: ActionAcknowledge, Message: MsgCallEnded, CallID: callID}, nil
}

// Session returns a copy of a live call's session.
func (o *Orchestrator) Session(ctx context.Context, callID string) (*statex.CallSession, bool, error) {
	return o.store.Snapshot(ctx, strings.TrimSpace(callID))
}

func (o *Orchestrator) ActiveCalls() int {
	return o.store.Len()
}

// endCall drops the session and hands its record to the recorder in the
// background, so a slow sink never delays the telephony reply. The caller
// holds the call's slot.
func (o *Orchestrator) endCall(ctx context.Context, callID, reason string) {
	sess, ok := o.store.Get(callID)
	if !ok {
		return
	}
	o.store.Delete(callID)
	o.logger.Info().Str("call_id", callID).Str("end_reason", reason).Int("turns", len(sess.History)).Msg("call ended")

	if o.recorder == nil {
		return
	}
	rec := record.FromSession(sess, reason, o.now())
	recCtx := context.WithoutCancel(ctx)
	o.records.Add(1)
	go func() {
		defer o.records.Done()
		ctx, cancel := o.boundedContext(recCtx, o.recordTimeout)
		defer cancel()
		if err := o.recorder.RecordCall(ctx, rec); err != nil {
			o.logger.Error().Err(err).Str("call_id", rec.CallID).Str("record_id", rec.ID).Msg("call record failed")
		}
	}()
}

// WaitRecords blocks until every call record handed off so far is written
// or ctx is done. Call it after the transport stops delivering events.
func (o *Orchestrator) WaitRecords(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.records.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// turnFailed keeps history alternating when the pipeline broke after the
// customer turn was recorded.
func (o *Orchestrator) turnFailed(callID string) Result {
	dec := classifier.ErrorDecision()
	if sess, ok := o.store.Get(callID); ok && len(sess.History) > 0 {
		if last := sess.History[len(sess.History)-1]; last.Speaker == statex.SpeakerCustomer {
			sess.AppendAgentTurn(dec.Message, &statex.TurnMetadata{
				Intent:     string(dec.Intent),
				Confidence: dec.Confidence,
				Action:     string(dec.Action),
			}, o.now())
			sess.CurrentIntent = string(dec.Intent)
			sess.Stage = statex.StageListening
		}
	}
	return Result{Action: ActionSpeak, Message: dec.Message, CallID: callID, Intent: dec.Intent, Confidence: dec.Confidence}
}

func (o *Orchestrator) slotUnavailable(callID string, err error) Result {
	o.logger.Warn().Err(err).Str("call_id", callID).Msg("call slot unavailable")
	dec := classifier.ErrorDecision()
	return Result{Action: ActionSpeak, Message: dec.Message, CallID: callID, Intent: dec.Intent, Confidence: dec.Confidence}
}

func (o *Orchestrator) turnContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return o.boundedContext(context.WithoutCancel(ctx), o.turnTimeout)
}

func (o *Orchestrator) boundedContext(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
