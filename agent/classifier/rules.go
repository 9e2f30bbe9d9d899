package classifier

import (
	"context"
	"strconv"
	"strings"

	contractx "github.com/tanpawarit/voice-order-agent/agent/contract"
	"github.com/tanpawarit/voice-order-agent/agent/erp"
	"github.com/tanpawarit/voice-order-agent/agent/prompt"
)

const (
	MsgClarify = "Entiendo. ¿Podría ser más específico sobre lo que necesita? Puedo ayudarle con información de productos, precios o crear pedidos."

	maxSpokenQuantity = 1000
)

var (
	numberWords = map[string]int{
		"un": 1, "uno": 1, "una": 1, "dos": 2, "tres": 3, "cuatro": 4, "cinco": 5,
		"seis": 6, "siete": 7, "ocho": 8, "nueve": 9, "diez": 10,
		"doce": 12, "quince": 15, "veinte": 20,
	}

	synonyms = map[string]string{
		"computadora":  "laptop",
		"computadoras": "laptop",
		"portatil":     "laptop",
		"notebook":     "laptop",
		"pantalla":     "monitor",
		"pantallas":    "monitor",
	}

	stopWords = newWordSet(
		"un", "unos", "unas", "el", "la", "los", "las", "de", "del", "para", "por",
		"favor", "me", "mi", "que", "y", "o", "a", "en", "con", "algo", "sobre",
		"quisiera", "hola", "buenos", "buenas", "dias", "tardes", "noches", "tiene",
		"usted", "ustedes", "le", "lo", "es", "una", "uno",
	)
)

// RuleOption customizes RuleClassifier.
type RuleOption func(*RuleClassifier)

func WithCompanyName(name string) RuleOption {
	return func(c *RuleClassifier) {
		if name = strings.TrimSpace(name); name != "" {
			c.company = name
		}
	}
}

var _ contractx.Classifier = (*RuleClassifier)(nil)

// RuleClassifier is a deterministic keyword classifier. It resolves product
// references against the catalog passed with each request and needs no
// network access.
type RuleClassifier struct {
	company string
}

func NewRuleClassifier(opts ...RuleOption) *RuleClassifier {
	c := &RuleClassifier{company: prompt.DefaultCompanyName}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *RuleClassifier) Classify(_ context.Context, req contractx.ClassifyRequest) contractx.IntentDecision {
	tokens := Tokens(req.Utterance)
	if len(tokens) == 0 {
		return contractx.IntentDecision{
			Intent:     contractx.IntentGeneralInquiry,
			Confidence: 0.5,
			Message:    MsgClarify,
			Action:     contractx.DecisionSpeak,
		}
	}

	idx := newCatalogIndex(req.Catalog)
	refs := idx.references(tokens)

	if items := orderItems(refs); orderWords.any(tokens) && len(items) > 0 {
		return backendDecision(contractx.IntentOrderCreation, 0.9, "Preparando su pedido...",
			contractx.CreateOrderDraft{Items: items})
	}

	if code, ok := explicitCode(refs); ok {
		intent := contractx.IntentPriceInquiry
		if stockWords.any(tokens) && !priceWords.any(tokens) {
			intent = contractx.IntentStockInquiry
		}
		return backendDecision(intent, 0.9, "Consultando información del producto...",
			contractx.QueryProductInfo{ProductCode: code})
	}

	if term := searchTerm(tokens, refs); term != "" && (searchWords.any(tokens) || len(refs) > 0) {
		return backendDecision(contractx.IntentProductSearch, 0.85, "Buscando productos...",
			contractx.SearchProducts{SearchTerm: term})
	}

	hasDraft := req.Session != nil && req.Session.PendingDraft != nil

	if confirmWords.any(tokens) {
		if hasDraft {
			return backendDecision(contractx.IntentConfirmation, 0.9, "Registrando su pedido...", contractx.ConfirmOrder{})
		}
		return contractx.IntentDecision{
			Intent:     contractx.IntentConfirmation,
			Confidence: 0.6,
			Message:    "No tengo un pedido pendiente de confirmar. ¿Qué productos desea ordenar?",
			Action:     contractx.DecisionSpeak,
		}
	}

	if cancelWords.any(tokens) {
		msg := "Entendido. ¿Hay algo más en lo que pueda ayudarle?"
		if hasDraft {
			msg = "Entendido, he cancelado el pedido en curso. ¿Hay algo más en lo que pueda ayudarle?"
		}
		return contractx.IntentDecision{
			Intent:     contractx.IntentCancellation,
			Confidence: 0.9,
			Message:    msg,
			Action:     contractx.DecisionSpeak,
		}
	}

	if farewellWords.any(tokens) || hasPhrase(tokens, "hasta", "luego") {
		return contractx.IntentDecision{
			Intent:     contractx.IntentEndConversation,
			Confidence: 0.9,
			Message:    "Gracias por llamar a " + c.company + ". ¡Que tenga un excelente día!",
			Action:     contractx.DecisionEndCall,
		}
	}

	if strongOrderWords.any(tokens) {
		return contractx.IntentDecision{
			Intent:     contractx.IntentOrderCreation,
			Confidence: 0.7,
			Message:    "Con gusto. ¿Qué productos y cuántas unidades desea pedir?",
			Action:     contractx.DecisionSpeak,
		}
	}

	return contractx.IntentDecision{
		Intent:     contractx.IntentGeneralInquiry,
		Confidence: 0.7,
		Message:    MsgClarify,
		Action:     contractx.DecisionSpeak,
	}
}

func backendDecision(intent contractx.Intent, confidence float64, msg string, call contractx.FunctionCall) contractx.IntentDecision {
	return contractx.IntentDecision{
		Intent:               intent,
		Confidence:           confidence,
		Message:              msg,
		Action:               contractx.DecisionSpeak,
		RequiresBackendQuery: true,
		FunctionCall:         call,
	}
}

// productRef is one product mention in an utterance, with the quantity
// spoken before it.
type productRef struct {
	code     string
	term     string
	explicit bool
	quantity int
}

type catalogIndex struct {
	codes map[string]string
	words map[string]string
}

func newCatalogIndex(catalog []erp.Product) catalogIndex {
	idx := catalogIndex{
		codes: make(map[string]string, len(catalog)),
		words: make(map[string]string, len(catalog)*3),
	}
	for _, p := range catalog {
		code := strings.ToUpper(strings.TrimSpace(p.Code))
		if code == "" {
			continue
		}
		idx.codes[Normalize(code)] = code
		for _, w := range Tokens(p.Name) {
			if len(w) < 4 || isNumber(w) {
				continue
			}
			if _, taken := idx.words[w]; !taken {
				idx.words[w] = code
			}
		}
	}
	return idx
}

// lookup resolves one token to a product code. Plurals and a few spoken
// synonyms fold onto catalog words.
func (idx catalogIndex) lookup(token string) (code, term string, explicit bool) {
	if c, ok := idx.codes[token]; ok {
		return c, c, true
	}
	if looksLikeCode(token) {
		return strings.ToUpper(token), strings.ToUpper(token), true
	}
	for _, cand := range wordForms(token) {
		if c, ok := idx.words[cand]; ok {
			return c, cand, false
		}
	}
	return "", "", false
}

func (idx catalogIndex) references(tokens []string) []productRef {
	var (
		refs    []productRef
		pending int
	)
	for _, t := range tokens {
		if n, ok := quantity(t); ok {
			pending = n
			continue
		}
		code, term, explicit := idx.lookup(t)
		if code == "" {
			if term := catalogTerm(t); term != "" && len(idx.words) == 0 {
				refs = append(refs, productRef{term: term, quantity: orOne(pending)})
				pending = 0
			}
			continue
		}
		refs = append(refs, productRef{code: code, term: term, explicit: explicit, quantity: orOne(pending)})
		pending = 0
	}
	return refs
}

func wordForms(token string) []string {
	forms := []string{token}
	if s, ok := synonyms[token]; ok {
		forms = append(forms, s)
	}
	if strings.HasSuffix(token, "es") && len(token) > 4 {
		forms = append(forms, strings.TrimSuffix(token, "es"))
	}
	if strings.HasSuffix(token, "s") && len(token) > 3 {
		forms = append(forms, strings.TrimSuffix(token, "s"))
	}
	return forms
}

// catalogTerm maps a spoken synonym to its catalog word when no catalog is
// available to resolve against.
func catalogTerm(token string) string {
	if s, ok := synonyms[token]; ok {
		return s
	}
	return ""
}

// looksLikeCode matches product codes such as LAP001: letters then digits.
func looksLikeCode(token string) bool {
	letters, digits := 0, 0
	for _, r := range token {
		switch {
		case r >= 'a' && r <= 'z' && digits == 0:
			letters++
		case r >= '0' && r <= '9' && letters > 0:
			digits++
		default:
			return false
		}
	}
	return letters >= 2 && digits >= 2
}

func quantity(token string) (int, bool) {
	if n, ok := numberWords[token]; ok {
		return n, true
	}
	if !isNumber(token) {
		return 0, false
	}
	n, err := strconv.Atoi(token)
	if err != nil || n <= 0 || n > maxSpokenQuantity {
		return 0, false
	}
	return n, true
}

func isNumber(token string) bool {
	if token == "" {
		return false
	}
	for _, r := range token {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func orOne(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func explicitCode(refs []productRef) (string, bool) {
	for _, r := range refs {
		if r.explicit {
			return r.code, true
		}
	}
	return "", false
}

// orderItems merges repeated mentions of the same product.
func orderItems(refs []productRef) []erp.OrderItem {
	items := make([]erp.OrderItem, 0, len(refs))
	pos := make(map[string]int, len(refs))
	for _, r := range refs {
		if r.code == "" {
			continue
		}
		if i, ok := pos[r.code]; ok {
			items[i].Quantity += r.quantity
			continue
		}
		pos[r.code] = len(items)
		items = append(items, erp.OrderItem{ProductCode: r.code, Quantity: r.quantity})
	}
	return items
}

// searchTerm prefers a resolved catalog word; otherwise it keeps the content
// words of the utterance.
func searchTerm(tokens []string, refs []productRef) string {
	for _, r := range refs {
		if r.term != "" {
			return r.term
		}
	}
	content := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if isKeyword(t) || stopWords.has(t) {
			continue
		}
		if _, ok := quantity(t); ok {
			continue
		}
		content = append(content, t)
	}
	return strings.Join(content, " ")
}

func isKeyword(token string) bool {
	for _, set := range []wordSet{priceWords, stockWords, orderWords, searchWords, confirmWords, cancelWords, farewellWords} {
		if set.has(token) {
			return true
		}
	}
	return token == "no" || token == "hasta" || token == "luego"
}
