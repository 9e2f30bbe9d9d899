package record

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/voice-order-agent/agent/contract"
	statex "github.com/tanpawarit/voice-order-agent/agent/state"
)

// FromSession summarizes a finished call. The session is copied, so the
// record stays valid after the session is dropped.
func FromSession(sess *statex.CallSession, reason string, endedAt time.Time) contractx.CallRecord {
	snap := sess.Clone()
	if snap == nil {
		return contractx.CallRecord{ID: uuid.NewString(), EndReason: reason, EndedAt: endedAt.UTC()}
	}
	return contractx.CallRecord{
		ID:            uuid.NewString(),
		CallID:        snap.CallID,
		CustomerPhone: snap.CustomerPhone,
		CustomerID:    snap.Customer.ID,
		CustomerName:  snap.Customer.Name,
		FinalIntent:   snap.CurrentIntent,
		EndReason:     reason,
		OrderIDs:      snap.OrderIDs,
		Turns:         snap.History,
		StartedAt:     snap.CreatedAt,
		EndedAt:       endedAt.UTC(),
	}
}

var _ contractx.CallRecorder = Fanout(nil)

// Fanout hands each record to every sink and joins their errors.
type Fanout []contractx.CallRecorder

func (f Fanout) RecordCall(ctx context.Context, rec contractx.CallRecord) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.RecordCall(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Logged writes a structured line for every record and forwards it to next.
func Logged(next contractx.CallRecorder, logger zerolog.Logger) contractx.CallRecorder {
	return &logSink{next: next, logger: logger}
}

type logSink struct {
	next   contractx.CallRecorder
	logger zerolog.Logger
}

func (s *logSink) RecordCall(ctx context.Context, rec contractx.CallRecord) error {
	s.logger.Info().
		Str("call_id", rec.CallID).
		Str("record_id", rec.ID).
		Str("customer_id", rec.CustomerID).
		Str("end_reason", rec.EndReason).
		Str("intent", rec.FinalIntent).
		Int("turns", len(rec.Turns)).
		Strs("order_ids", rec.OrderIDs).
		Dur("duration", rec.EndedAt.Sub(rec.StartedAt)).
		Msg("call finished")
	if s.next == nil {
		return nil
	}
	if err := s.next.RecordCall(ctx, rec); err != nil {
		return fmt.Errorf("record call %s: %w", rec.CallID, err)
	}
	return nil
}
