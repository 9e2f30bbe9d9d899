package prompt

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/tanpawarit/voice-order-agent/agent/erp"
)

const DefaultCompanyName = "nuestra empresa"

// WelcomeSelector picks the greeting spoken when a call connects.
type WelcomeSelector interface {
	Welcome(customer erp.Customer) string
}

var _ WelcomeSelector = (*TemplateSelector)(nil)

// TemplateSelector chooses among fixed templates with a seedable source.
// Known customers are greeted by name.
type TemplateSelector struct {
	company string
	guest   []string
	known   []string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewTemplateSelector seeds the selector; seed 0 uses the current time.
func NewTemplateSelector(company string, seed int64) *TemplateSelector {
	company = strings.TrimSpace(company)
	if company == "" {
		company = DefaultCompanyName
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	set := LoadPromptSet()
	return &TemplateSelector{
		company: company,
		guest:   set.GuestWelcomes,
		known:   set.KnownWelcomes,
		rng:     rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1|1)),
	}
}

func (s *TemplateSelector) Welcome(customer erp.Customer) string {
	templates := s.known
	if customer.IsGuest() || strings.TrimSpace(customer.Name) == "" {
		templates = s.guest
	}

	s.mu.Lock()
	idx := s.rng.IntN(len(templates))
	s.mu.Unlock()

	r := strings.NewReplacer("{company}", s.company, "{name}", strings.TrimSpace(customer.Name))
	return r.Replace(templates[idx])
}

// FixedWelcome always returns the first template; handy in tests.
type FixedWelcome struct {
	Company string
}

func (f FixedWelcome) Welcome(customer erp.Customer) string {
	company := strings.TrimSpace(f.Company)
	if company == "" {
		company = DefaultCompanyName
	}
	set := LoadPromptSet()
	tmpl := set.KnownWelcomes[0]
	if customer.IsGuest() || strings.TrimSpace(customer.Name) == "" {
		tmpl = set.GuestWelcomes[0]
	}
	return strings.NewReplacer("{company}", company, "{name}", strings.TrimSpace(customer.Name)).Replace(tmpl)
}
