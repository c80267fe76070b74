package policy

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Default reply texts for the screened paths.
const (
	EscalationPreamble       = "I'm deeply sorry you're feeling this way. Unfortunately, I am not equipped to handle critical situations."
	DefaultEscalationContact = "Please immediately contact our Head Coach at +1 1234567890 for assistance."
	ClosingText              = "Please take care."
)

// DefaultFarewellTerms are the parting phrases that end a conversation.
var DefaultFarewellTerms = []string{"bye", "goodbye", "see you", "take care"}

// Screen matches lower-cased input against a fixed term list.
//
// Matching is a plain substring test, not a token match: "goodbye" also
// matches "bye", and a crisis term inside a longer word still triggers.
// A missed crisis is worse than a false alarm.
type Screen struct {
	terms []string
}

// NewScreen normalises terms (trim, lower-case, drop blanks and duplicates).
func NewScreen(terms []string) *Screen {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	return &Screen{terms: out}
}

// Match returns the first configured term found in text.
func (s *Screen) Match(text string) (string, bool) {
	if s == nil {
		return "", false
	}
	in := strings.ToLower(text)
	for _, term := range s.terms {
		if strings.Contains(in, term) {
			return term, true
		}
	}
	return "", false
}

// Len reports how many terms the screen holds.
func (s *Screen) Len() int {
	if s == nil {
		return 0
	}
	return len(s.terms)
}

// CrisisFilter flags utterances that need an escalation reply instead of generation.
type CrisisFilter struct {
	screen  *Screen
	contact string
}

func NewCrisisFilter(terms []string, contact string) *CrisisFilter {
	contact = strings.TrimSpace(contact)
	if contact == "" {
		contact = DefaultEscalationContact
	}
	return &CrisisFilter{screen: NewScreen(terms), contact: contact}
}

// IsCrisis reports whether any crisis term occurs in text.
func (f *CrisisFilter) IsCrisis(text string) bool {
	_, ok := f.screen.Match(text)
	return ok
}

// EscalationText is the fixed, non-generated crisis reply.
func (f *CrisisFilter) EscalationText() string {
	return EscalationPreamble + " " + f.contact
}

func (f *CrisisFilter) Len() int { return f.screen.Len() }

// FarewellDetector recognises parting phrases.
type FarewellDetector struct {
	screen *Screen
}

func NewFarewellDetector(terms []string) *FarewellDetector {
	return &FarewellDetector{screen: NewScreen(terms)}
}

func (d *FarewellDetector) IsFarewell(text string) bool {
	_, ok := d.screen.Match(text)
	return ok
}

func (d *FarewellDetector) ClosingText() string { return ClosingText }

func (d *FarewellDetector) Len() int { return d.screen.Len() }

// ReadTerms reads one term per line. Blank lines and lines starting with '#' are skipped.
func ReadTerms(r io.Reader) ([]string, error) {
	var terms []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		terms = append(terms, strings.ToLower(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read terms: %w", err)
	}
	return terms, nil
}

// LoadTermsFile reads a term list file.
func LoadTermsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open terms file: %w", err)
	}
	defer f.Close()
	return ReadTerms(f)
}
