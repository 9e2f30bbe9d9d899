package tool

import (
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/voice-order-agent/agent/contract"
)

// Infos describes the dispatcher's functions for tool-calling chat models.
// Names match contract.FunctionName so model tool calls decode directly.
func Infos() []*schema.ToolInfo {
	return []*schema.ToolInfo{
		{
			Name: string(contractx.FunctionQueryProductInfo),
			Desc: "Consultar información detallada de un producto específico por su código.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"product_code": {Type: schema.String, Desc: "Código del producto a consultar, por ejemplo LAP001", Required: true},
			}),
		},
		{
			Name: string(contractx.FunctionSearchProducts),
			Desc: "Buscar productos por nombre, código o descripción.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"search_term": {Type: schema.String, Desc: "Término de búsqueda para encontrar productos", Required: true},
			}),
		},
		{
			Name: string(contractx.FunctionCreateOrderDraft),
			Desc: "Crear un borrador de pedido con los productos seleccionados. No registra el pedido.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"items": {
					Type:     schema.Array,
					Desc:     "Líneas del pedido",
					Required: true,
					ElemInfo: &schema.ParameterInfo{
						Type: schema.Object,
						SubParams: map[string]*schema.ParameterInfo{
							"product_code": {Type: schema.String, Desc: "Código del producto", Required: true},
							"quantity":     {Type: schema.Integer, Desc: "Cantidad de unidades", Required: true},
						},
					},
				},
			}),
		},
		{
			Name:        string(contractx.FunctionConfirmOrder),
			Desc:        "Registrar en el ERP el borrador de pedido pendiente, solo después de que el cliente lo confirme explícitamente.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
		},
	}
}
