package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/classifier.txt
	classifierRaw string

	//go:embed template/welcome_guest.txt
	welcomeGuestRaw string

	//go:embed template/welcome_known.txt
	welcomeKnownRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Classifier string

	// One template per line. {company} and {name} are substituted.
	GuestWelcomes []string
	KnownWelcomes []string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Classifier:    strings.TrimSpace(classifierRaw),
		GuestWelcomes: lines(welcomeGuestRaw),
		KnownWelcomes: lines(welcomeKnownRaw),
	}
}

func lines(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
