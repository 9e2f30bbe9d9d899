// Package erp holds the canonical product/order backend schema shared by the
// call agent. JSON keys follow the ERP wire format.
package erp

import "strings"

const (
	GuestCustomerID   = "GUEST"
	GuestCustomerName = "Cliente"
)

type Customer struct {
	ID              string  `json:"id"`
	Name            string  `json:"nombre"`
	Phone           string  `json:"telefono"`
	Email           string  `json:"email,omitempty"`
	DiscountRate    float64 `json:"descuento"`
	AvailableCredit float64 `json:"credito_disponible"`
}

// GuestCustomer is the zero-privilege record used when the caller cannot be
// resolved against the backend.
func GuestCustomer(phone string) Customer {
	return Customer{
		ID:    GuestCustomerID,
		Name:  GuestCustomerName,
		Phone: strings.TrimSpace(phone),
	}
}

func (c Customer) IsGuest() bool {
	return c.ID == "" || c.ID == GuestCustomerID
}

type Product struct {
	ID          string  `json:"id,omitempty"`
	Code        string  `json:"codigo"`
	Name        string  `json:"nombre"`
	Description string  `json:"descripcion,omitempty"`
	UnitPrice   float64 `json:"precio_unitario"`
	Stock       int     `json:"stock_disponible"`
	Category    string  `json:"categoria,omitempty"`
	Active      bool    `json:"activo"`
	Currency    string  `json:"moneda,omitempty"`
}

type OrderItem struct {
	ProductCode string `json:"product_code"`
	Quantity    int    `json:"quantity"`
}

type ValidatedItem struct {
	ProductCode string  `json:"product_code"`
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Total       float64 `json:"total"`
}

type OrderValidation struct {
	Valid          bool            `json:"valid"`
	Errors         []string        `json:"errors"`
	ValidatedItems []ValidatedItem `json:"validatedItems"`
}

type OrderResult struct {
	Success bool    `json:"success"`
	OrderID string  `json:"order_id,omitempty"`
	Total   float64 `json:"total,omitempty"`
	Error   string  `json:"error,omitempty"`
}
