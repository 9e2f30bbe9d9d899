package backend

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	contractx "github.com/tanpawarit/voice-order-agent/agent/contract"
	"github.com/tanpawarit/voice-order-agent/agent/erp"
)

// Order is a persisted order held by Memory.
type Order struct {
	OrderID      string          `json:"order_id"`
	CustomerID   string          `json:"customer_id"`
	CustomerName string          `json:"customer_name"`
	Items        []erp.OrderItem `json:"items"`
	Total        float64         `json:"total"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
}

var _ contractx.Backend = (*Memory)(nil)

// Memory is an in-process ERP used for local runs and tests.
type Memory struct {
	mu        sync.RWMutex
	customers []erp.Customer
	products  []erp.Product
	orders    []Order
	nextOrder int
	now       func() time.Time
}

func NewMemory(customers []erp.Customer, products []erp.Product) *Memory {
	return &Memory{
		customers: append([]erp.Customer(nil), customers...),
		products:  append([]erp.Product(nil), products...),
		nextOrder: 1,
		now:       time.Now,
	}
}

// NewDemoMemory returns a Memory seeded with the demo catalog.
func NewDemoMemory() *Memory {
	return NewMemory(DemoCustomers(), DemoProducts())
}

func DemoCustomers() []erp.Customer {
	return []erp.Customer{
		{
			ID:              "CUST001",
			Name:            "Empresa ABC",
			Phone:           "+1234567890",
			Email:           "contacto@empresaabc.com",
			DiscountRate:    0.10,
			AvailableCredit: 50000,
		},
		{
			ID:              "CUST002",
			Name:            "Distribuidora XYZ",
			Phone:           "+0987654321",
			Email:           "pedidos@xyz.com",
			DiscountRate:    0.15,
			AvailableCredit: 75000,
		},
	}
}

func DemoProducts() []erp.Product {
	return []erp.Product{
		{
			ID:          "PROD001",
			Code:        "LAP001",
			Name:        "Laptop Dell Inspiron 15",
			Description: "Laptop para oficina, 8GB RAM, 256GB SSD",
			UnitPrice:   899.99,
			Stock:       25,
			Category:    "Computadoras",
			Active:      true,
		},
		{
			ID:          "PROD002",
			Code:        "MON001",
			Name:        `Monitor Samsung 24"`,
			Description: "Monitor Full HD 1920x1080",
			UnitPrice:   199.99,
			Stock:       50,
			Category:    "Monitores",
			Active:      true,
		},
		{
			ID:          "PROD003",
			Code:        "TEC001",
			Name:        "Teclado Logitech MX Keys",
			Description: "Teclado inalámbrico retroiluminado",
			UnitPrice:   99.99,
			Stock:       100,
			Category:    "Accesorios",
			Active:      true,
		},
	}
}

// GetCustomerByPhone falls back to the guest record for unknown numbers.
func (m *Memory) GetCustomerByPhone(_ context.Context, phone string) (erp.Customer, error) {
	phone = strings.TrimSpace(phone)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.customers {
		if c.Phone == phone {
			return c, nil
		}
	}
	return erp.GuestCustomer(phone), nil
}

func (m *Memory) ListProducts(context.Context) ([]erp.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]erp.Product, 0, len(m.products))
	for _, p := range m.products {
		if p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) GetProduct(_ context.Context, code string) (*erp.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.findLocked(code)
	if !ok || !p.Active {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) SearchProducts(_ context.Context, term string) ([]erp.Product, error) {
	needle := strings.ToLower(strings.TrimSpace(term))
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]erp.Product, 0, 4)
	for _, p := range m.products {
		if !p.Active {
			continue
		}
		if strings.Contains(strings.ToLower(p.Name), needle) ||
			strings.Contains(strings.ToLower(p.Description), needle) ||
			strings.Contains(strings.ToLower(p.Code), needle) {
			out = append(out, p)
		}
	}
	return out, nil
}

// ValidateOrderItems reports every failing line, not only the first.
func (m *Memory) ValidateOrderItems(_ context.Context, items []erp.OrderItem) (erp.OrderValidation, error) {
	out := erp.OrderValidation{
		Errors:         []string{},
		ValidatedItems: []erp.ValidatedItem{},
	}
	if len(items) == 0 {
		out.Errors = append(out.Errors, "Items requeridos")
		return out, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	requested := make(map[string]int, len(items))
	for _, item := range items {
		p, ok := m.findLocked(item.ProductCode)
		if ok && item.Quantity > 0 {
			requested[p.Code] += item.Quantity
		}
		switch {
		case !ok:
			out.Errors = append(out.Errors, fmt.Sprintf("Producto %s no encontrado", item.ProductCode))
		case !p.Active:
			out.Errors = append(out.Errors, fmt.Sprintf("Producto %s no está activo", item.ProductCode))
		case item.Quantity <= 0:
			out.Errors = append(out.Errors, fmt.Sprintf("Cantidad inválida para %s", p.Name))
		case requested[p.Code] > p.Stock:
			out.Errors = append(out.Errors, fmt.Sprintf("Stock insuficiente para %s. Disponible: %d", p.Name, p.Stock))
		default:
			out.ValidatedItems = append(out.ValidatedItems, erp.ValidatedItem{
				ProductCode: p.Code,
				ProductName: p.Name,
				Quantity:    item.Quantity,
				UnitPrice:   p.UnitPrice,
				Total:       float64(item.Quantity) * p.UnitPrice,
			})
		}
	}
	out.Valid = len(out.Errors) == 0
	return out, nil
}

// CreateOrder checks every line before touching stock, so a rejected order
// leaves inventory unchanged. Lines repeating a code draw from the same stock.
// The stored total is net of the customer's discount.
func (m *Memory) CreateOrder(_ context.Context, customerID string, items []erp.OrderItem) (erp.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var customer *erp.Customer
	for i := range m.customers {
		if m.customers[i].ID == customerID {
			customer = &m.customers[i]
			break
		}
	}
	if customer == nil {
		return erp.OrderResult{Success: false, Error: "Cliente no encontrado"}, nil
	}
	if len(items) == 0 {
		return erp.OrderResult{Success: false, Error: "Items requeridos"}, nil
	}

	subtotal := 0.0
	requested := make(map[string]int, len(items))
	for _, item := range items {
		p, ok := m.findLocked(item.ProductCode)
		if !ok || !p.Active || item.Quantity <= 0 {
			return erp.OrderResult{Success: false, Error: fmt.Sprintf("Problema con producto %s", item.ProductCode)}, nil
		}
		requested[p.Code] += item.Quantity
		if requested[p.Code] > p.Stock {
			return erp.OrderResult{Success: false, Error: fmt.Sprintf("Problema con producto %s", item.ProductCode)}, nil
		}
		subtotal += float64(item.Quantity) * p.UnitPrice
	}
	for code, qty := range requested {
		p, _ := m.findLocked(code)
		p.Stock -= qty
	}

	total := netTotal(subtotal, customer.DiscountRate)

	order := Order{
		OrderID:      fmt.Sprintf("ORD%06d", m.nextOrder),
		CustomerID:   customer.ID,
		CustomerName: customer.Name,
		Items:        append([]erp.OrderItem(nil), items...),
		Total:        total,
		Status:       "confirmed",
		CreatedAt:    m.now().UTC(),
	}
	m.nextOrder++
	m.orders = append(m.orders, order)

	return erp.OrderResult{Success: true, OrderID: order.OrderID, Total: total}, nil
}

func (m *Memory) Orders() []Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Order(nil), m.orders...)
}

func (m *Memory) findLocked(code string) (*erp.Product, bool) {
	code = strings.TrimSpace(code)
	for i := range m.products {
		if strings.EqualFold(m.products[i].Code, code) {
			return &m.products[i], true
		}
	}
	return nil, false
}

// netTotal rounds to cents at each step, matching the draft summary.
func netTotal(subtotal, discountRate float64) float64 {
	if discountRate < 0 {
		discountRate = 0
	}
	subtotal = roundCents(subtotal)
	return roundCents(subtotal - roundCents(subtotal*discountRate))
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
