package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/voice-order-agent/agent/contract"
	"github.com/tanpawarit/voice-order-agent/agent/erp"
	statex "github.com/tanpawarit/voice-order-agent/agent/state"
)

func LoadOrCreateSession(
	ctx context.Context,
	in *GraphState,
	store statex.Store,
	backend contractx.Backend,
	logger zerolog.Logger,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	sess, err := loadOrCreateSession(ctx, store, backend, logger, in.CallID, in.CustomerPhone, in.Now)
	if err != nil {
		return nil, err
	}
	in.Session = sess
	return in, nil
}

// loadOrCreateSession lazily opens a session for a call whose connect event
// was never seen.
func loadOrCreateSession(
	ctx context.Context,
	store statex.Store,
	backend contractx.Backend,
	logger zerolog.Logger,
	callID string,
	phone string,
	now time.Time,
) (*statex.CallSession, error) {
	if sess, ok := store.Get(callID); ok {
		return sess, nil
	}

	customer := ResolveCustomer(ctx, backend, logger, callID, phone)
	sess, err := store.Create(callID, phone, customer, now)
	if errors.Is(err, statex.ErrSessionExists) {
		return sess, nil
	}
	if err != nil {
		return nil, err
	}

	sess.Stage = statex.StageListening
	logger.Info().Str("call_id", callID).Str("customer_id", customer.ID).Msg("session created lazily")
	return sess, nil
}

// ResolveCustomer looks the caller up once per call. Any failure falls back
// to the guest customer so the call can continue.
func ResolveCustomer(
	ctx context.Context,
	backend contractx.Backend,
	logger zerolog.Logger,
	callID string,
	phone string,
) erp.Customer {
	phone = strings.TrimSpace(phone)
	if backend == nil {
		return erp.GuestCustomer(phone)
	}

	customer, err := backend.GetCustomerByPhone(ctx, phone)
	if err != nil {
		logger.Warn().Err(err).Str("call_id", callID).Msg("customer lookup failed, using guest")
		return erp.GuestCustomer(phone)
	}
	if strings.TrimSpace(customer.ID) == "" {
		return erp.GuestCustomer(phone)
	}
	if customer.Phone == "" {
		customer.Phone = phone
	}
	return customer
}
