package tool

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/voice-order-agent/agent/contract"
	"github.com/tanpawarit/voice-order-agent/agent/erp"
	statex "github.com/tanpawarit/voice-order-agent/agent/state"
)

const (
	MsgBackendApology = "Disculpe, tuve un problema consultando nuestro sistema. ¿Podría intentar de nuevo?"
	MsgUnprocessable  = "Disculpe, no pude procesar su solicitud. ¿Podría intentarlo de nuevo?"

	searchPreviewLimit = 3
)

// Option customizes Dispatcher.
type Option func(*Dispatcher)

func WithLogger(logger zerolog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

var _ contractx.FunctionExecutor = (*Dispatcher)(nil)

// Dispatcher executes classifier-requested functions against the backend and
// phrases the outcome for the caller. It never returns a raw backend error:
// failures become an apology with Data.Error set.
type Dispatcher struct {
	logger zerolog.Logger
	now    func() time.Time
}

func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger: log.Logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

func (d *Dispatcher) Execute(
	ctx context.Context,
	call contractx.FunctionCall,
	backend contractx.Backend,
	session *statex.CallSession,
) contractx.FunctionResult {
	if call == nil {
		return contractx.FunctionResult{Message: MsgUnprocessable}
	}
	if backend == nil {
		return d.backendFailure(session, call.Name(), fmt.Errorf("%w: backend is not configured", contractx.ErrBackend))
	}

	switch c := call.(type) {
	case contractx.QueryProductInfo:
		return d.queryProductInfo(ctx, c, backend, session)
	case contractx.SearchProducts:
		return d.searchProducts(ctx, c, backend, session)
	case contractx.CreateOrderDraft:
		return d.createOrderDraft(ctx, c, backend, session)
	case contractx.ConfirmOrder:
		return d.confirmOrder(ctx, backend, session)
	default:
		d.logger.Warn().Str("function", string(call.Name())).Msg("unsupported function call")
		return contractx.FunctionResult{Message: MsgUnprocessable}
	}
}

func (d *Dispatcher) queryProductInfo(
	ctx context.Context,
	call contractx.QueryProductInfo,
	backend contractx.Backend,
	session *statex.CallSession,
) contractx.FunctionResult {
	code := strings.TrimSpace(call.ProductCode)
	if code == "" {
		return contractx.FunctionResult{
			Message: "¿Podría indicarme el código o el nombre del producto?",
			Data:    contractx.FunctionData{ProductFound: contractx.BoolPtr(false)},
		}
	}

	product, err := backend.GetProduct(ctx, code)
	if err != nil {
		return d.backendFailure(session, call.Name(), err)
	}
	if product == nil {
		return contractx.FunctionResult{
			Message: fmt.Sprintf("Lo siento, no encontré el producto %s. ¿Podría verificar el código o decirme el nombre del producto?", code),
			Data:    contractx.FunctionData{ProductFound: contractx.BoolPtr(false)},
		}
	}

	var msg string
	if product.Stock <= 0 {
		msg = fmt.Sprintf("El producto %s (%s) no tiene stock disponible en este momento. Precio: %s. ¿Desea consultar otro producto?",
			product.Name, product.Code, money(product.UnitPrice))
	} else {
		msg = fmt.Sprintf("El producto %s (%s) está disponible. Precio: %s, Stock disponible: %d unidades. ¿Cuántas unidades necesita?",
			product.Name, product.Code, money(product.UnitPrice), product.Stock)
	}
	return contractx.FunctionResult{
		Message: msg,
		Data: contractx.FunctionData{
			ProductFound: contractx.BoolPtr(true),
			Product:      product,
		},
	}
}

func (d *Dispatcher) searchProducts(
	ctx context.Context,
	call contractx.SearchProducts,
	backend contractx.Backend,
	session *statex.CallSession,
) contractx.FunctionResult {
	term := strings.TrimSpace(call.SearchTerm)
	if term == "" {
		return contractx.FunctionResult{Message: "¿Qué producto está buscando?"}
	}

	results, err := backend.SearchProducts(ctx, term)
	if err != nil {
		return d.backendFailure(session, call.Name(), err)
	}
	if len(results) == 0 {
		return contractx.FunctionResult{
			Message: fmt.Sprintf("No encontré productos relacionados con %q. ¿Podría ser más específico o probar con otro término?", term),
			Data:    contractx.FunctionData{SearchResults: []erp.Product{}},
		}
	}

	preview := results
	if len(preview) > searchPreviewLimit {
		preview = preview[:searchPreviewLimit]
	}
	lines := make([]string, 0, len(preview))
	for _, p := range preview {
		lines = append(lines, fmt.Sprintf("%s: %s - %s", p.Code, p.Name, money(p.UnitPrice)))
	}

	return contractx.FunctionResult{
		Message: fmt.Sprintf("Encontré estos productos: %s. ¿Cuál le interesa?", strings.Join(lines, ", ")),
		Data:    contractx.FunctionData{SearchResults: results},
	}
}

// createOrderDraft validates and prices the order. The draft is kept on the
// session until a confirm_order call persists it. Any earlier draft is
// dropped first, so only the summary just spoken can be confirmed.
func (d *Dispatcher) createOrderDraft(
	ctx context.Context,
	call contractx.CreateOrderDraft,
	backend contractx.Backend,
	session *statex.CallSession,
) contractx.FunctionResult {
	if session != nil {
		session.ClearPendingDraft()
	}
	if len(call.Items) == 0 {
		return contractx.FunctionResult{
			Message: "¿Qué productos y cantidades desea incluir en su pedido?",
			Data:    contractx.FunctionData{OrderValid: contractx.BoolPtr(false)},
		}
	}
	for _, it := range call.Items {
		if strings.TrimSpace(it.ProductCode) == "" || it.Quantity <= 0 {
			return contractx.FunctionResult{
				Message: "¿Qué productos y cantidades desea incluir en su pedido?",
				Data:    contractx.FunctionData{OrderValid: contractx.BoolPtr(false)},
			}
		}
	}

	validation, err := backend.ValidateOrderItems(ctx, call.Items)
	if err != nil {
		return d.backendFailure(session, call.Name(), err)
	}
	if !validation.Valid || len(validation.ValidatedItems) == 0 {
		errs := validation.Errors
		if len(errs) == 0 {
			errs = []string{"no se pudo validar el pedido"}
		}
		return contractx.FunctionResult{
			Message: fmt.Sprintf("Hay algunos problemas con su pedido: %s. ¿Desea ajustar las cantidades?", strings.Join(errs, ", ")),
			Data: contractx.FunctionData{
				OrderValid: contractx.BoolPtr(false),
				Errors:     errs,
			},
		}
	}

	customer := erp.GuestCustomer("")
	if session != nil {
		customer = session.Customer
	}
	totals := ComputeTotals(validation.ValidatedItems, customer.DiscountRate)

	if session != nil {
		session.SetPendingDraft(&statex.OrderDraft{
			Items:     append([]erp.ValidatedItem(nil), validation.ValidatedItems...),
			Subtotal:  totals.Subtotal,
			Discount:  totals.Discount,
			Total:     totals.Total,
			CreatedAt: d.now().UTC(),
		})
	}

	return contractx.FunctionResult{
		Message: draftSummary(validation.ValidatedItems, totals),
		Data: contractx.FunctionData{
			OrderValid: contractx.BoolPtr(true),
			OrderItems: validation.ValidatedItems,
			Totals:     &totals,
		},
	}
}

func (d *Dispatcher) confirmOrder(
	ctx context.Context,
	backend contractx.Backend,
	session *statex.CallSession,
) contractx.FunctionResult {
	if session == nil || session.PendingDraft == nil {
		return contractx.FunctionResult{
			Message: "No tengo un pedido pendiente de confirmar. ¿Qué productos desea ordenar?",
		}
	}

	draft := session.PendingDraft
	res, err := backend.CreateOrder(ctx, session.Customer.ID, draft.OrderItems())
	if err != nil {
		return d.backendFailure(session, contractx.FunctionConfirmOrder, err)
	}
	if !res.Success {
		reason := strings.TrimSpace(res.Error)
		if reason == "" {
			reason = "error creando pedido"
		}
		d.logger.Warn().
			Str("call_id", session.CallID).
			Str("function", string(contractx.FunctionConfirmOrder)).
			Str("reason", reason).
			Msg("order rejected by backend")
		return contractx.FunctionResult{
			Message: fmt.Sprintf("No pude registrar su pedido: %s. ¿Desea intentar con otros productos o cantidades?", reason),
			Data: contractx.FunctionData{
				Error:      reason,
				OrderItems: draft.Items,
			},
		}
	}

	totals := contractx.OrderTotals{Subtotal: draft.Subtotal, Discount: draft.Discount, Total: draft.Total}
	session.RecordOrder(res.OrderID)
	session.ClearPendingDraft()

	return contractx.FunctionResult{
		Message: fmt.Sprintf("¡Listo! Su pedido %s ha sido registrado por un total de %s. ¿Hay algo más en lo que pueda ayudarle?",
			res.OrderID, money(totals.Total)),
		Data: contractx.FunctionData{
			OrderID:    res.OrderID,
			OrderItems: draft.Items,
			Totals:     &totals,
		},
	}
}

func (d *Dispatcher) backendFailure(session *statex.CallSession, fn contractx.FunctionName, err error) contractx.FunctionResult {
	callID := ""
	if session != nil {
		callID = session.CallID
	}
	d.logger.Warn().Err(err).Str("call_id", callID).Str("function", string(fn)).Msg("backend call failed")
	return contractx.FunctionResult{
		Message: MsgBackendApology,
		Data:    contractx.FunctionData{Error: err.Error()},
	}
}

// ComputeTotals prices validated lines: subtotal = Σ qty×price,
// discount = subtotal×rate, total = subtotal−discount, each rounded to cents.
func ComputeTotals(items []erp.ValidatedItem, discountRate float64) contractx.OrderTotals {
	if discountRate < 0 {
		discountRate = 0
	}
	subtotal := 0.0
	for _, it := range items {
		subtotal += float64(it.Quantity) * it.UnitPrice
	}
	subtotal = roundCents(subtotal)
	discount := roundCents(subtotal * discountRate)
	return contractx.OrderTotals{
		Subtotal: subtotal,
		Discount: discount,
		Total:    roundCents(subtotal - discount),
	}
}

func draftSummary(items []erp.ValidatedItem, totals contractx.OrderTotals) string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, fmt.Sprintf("%d x %s", it.Quantity, it.ProductName))
	}

	var b strings.Builder
	b.WriteString("Su pedido: ")
	b.WriteString(strings.Join(lines, ", "))
	b.WriteString(". Subtotal: ")
	b.WriteString(money(totals.Subtotal))
	if totals.Discount > 0 {
		b.WriteString(", Descuento: ")
		b.WriteString(money(totals.Discount))
	}
	b.WriteString(". Total: ")
	b.WriteString(money(totals.Total))
	b.WriteString(". ¿Confirma este pedido?")
	return b.String()
}

func money(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
