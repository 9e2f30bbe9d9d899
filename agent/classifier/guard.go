package classifier

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/voice-order-agent/agent/contract"
)

const (
	MsgTechnicalIssue = "Disculpe, tengo problemas técnicos temporales. ¿Podría repetir su solicitud?"
	MsgProcessing     = "Procesando su solicitud..."

	errorConfidence = 0.1
)

// ErrorDecision is the caller-safe answer for any classifier failure.
func ErrorDecision() contractx.IntentDecision {
	return contractx.IntentDecision{
		Intent:     contractx.IntentError,
		Confidence: errorConfidence,
		Message:    MsgTechnicalIssue,
		Action:     contractx.DecisionSpeak,
	}
}

// Guard wraps a classifier so panics and malformed decisions never reach the
// orchestrator.
func Guard(inner contractx.Classifier, logger zerolog.Logger) contractx.Classifier {
	return &guarded{inner: inner, logger: logger}
}

type guarded struct {
	inner  contractx.Classifier
	logger zerolog.Logger
}

func (g *guarded) Classify(ctx context.Context, req contractx.ClassifyRequest) (dec contractx.IntentDecision) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error().Interface("panic", r).Msg("classifier panicked")
			dec = ErrorDecision()
		}
	}()

	if g.inner == nil {
		return ErrorDecision()
	}
	return Sanitize(g.inner.Classify(ctx, req))
}

// Sanitize fills or clamps decision fields so the orchestrator can trust them.
func Sanitize(d contractx.IntentDecision) contractx.IntentDecision {
	if d.FunctionCall == nil {
		d.RequiresBackendQuery = false
	}
	d.Message = strings.TrimSpace(d.Message)
	if d.Message == "" {
		if !d.RequiresBackendQuery {
			return ErrorDecision()
		}
		d.Message = MsgProcessing
	}
	if strings.TrimSpace(string(d.Intent)) == "" {
		d.Intent = contractx.IntentGeneralInquiry
	}
	switch {
	case d.Confidence < 0:
		d.Confidence = 0
	case d.Confidence > 1:
		d.Confidence = 1
	}
	if d.Action != contractx.DecisionEndCall {
		d.Action = contractx.DecisionSpeak
	}
	return d
}
