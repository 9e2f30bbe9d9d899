package classifier

import (
	"strings"

	contractx "github.com/tanpawarit/voice-order-agent/agent/contract"
)

var (
	priceWords        = newWordSet("precio", "precios", "costo", "cuesta", "cuanto", "vale")
	stockWords        = newWordSet("stock", "disponible", "disponibles", "disponibilidad", "hay", "existencias", "inventario")
	orderWords        = newWordSet("pedido", "comprar", "compra", "quiero", "ordenar", "orden", "pedir")
	strongOrderWords  = newWordSet("pedido", "comprar", "ordenar", "orden", "pedir")
	searchWords       = newWordSet("buscar", "busco", "necesito", "informacion", "tienen", "catalogo", "productos")
	confirmWords      = newWordSet("si", "confirmo", "confirmar", "confirma", "correcto", "adelante", "claro")
	cancelWords       = newWordSet("cancelar", "cancela", "cancelo", "anular", "anula")
	farewellWords     = newWordSet("gracias", "adios", "terminar", "chao", "bye")
	extractCancelWord = newWordSet("cancelar", "cancela", "no")

	farewellReplies = []string{"gracias por llamar", "que tenga buen dia", "que tenga un excelente dia", "hasta luego"}
)

// ExtractIntent labels an utterance with the shared keyword taxonomy. It is
// used to tag hosted-model decisions, which carry no intent of their own.
func ExtractIntent(utterance string) contractx.Intent {
	tokens := Tokens(utterance)
	switch {
	case priceWords.any(tokens):
		return contractx.IntentPriceInquiry
	case stockWords.any(tokens):
		return contractx.IntentStockInquiry
	case strongOrderWords.any(tokens):
		return contractx.IntentOrderCreation
	case searchWords.any(tokens) || newWordSet("quiero").any(tokens):
		return contractx.IntentProductSearch
	case confirmWords.any(tokens):
		return contractx.IntentConfirmation
	case extractCancelWord.any(tokens):
		return contractx.IntentCancellation
	case farewellWords.any(tokens) || hasPhrase(tokens, "hasta", "luego"):
		return contractx.IntentEndConversation
	default:
		return contractx.IntentGeneralInquiry
	}
}

// ActionForReply ends the call when the agent's reply is a farewell.
func ActionForReply(reply string) contractx.DecisionAction {
	normalized := Normalize(reply)
	for _, phrase := range farewellReplies {
		if strings.Contains(normalized, phrase) {
			return contractx.DecisionEndCall
		}
	}
	return contractx.DecisionSpeak
}

func hasPhrase(tokens []string, first, second string) bool {
	for i := 0; i+1 < len(tokens); i++ {
		if tokens[i] == first && tokens[i+1] == second {
			return true
		}
	}
	return false
}
