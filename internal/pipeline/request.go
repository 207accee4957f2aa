package pipeline

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/snoozleEmily/transcriptor/pkg/transcriber"
)

// OutputKind selects the saved document format
type OutputKind int

const (
	OutputText OutputKind = iota
	OutputPDF
)

func (k OutputKind) String() string {
	if k == OutputPDF {
		return "pdf"
	}
	return "text"
}

// Extension returns the file extension including the dot
func (k OutputKind) Extension() string {
	if k == OutputPDF {
		return ".pdf"
	}
	return ".txt"
}

// ParseOutputKind accepts "text", "txt" or "pdf"
func ParseOutputKind(s string) (OutputKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return OutputText, nil
	case "pdf":
		return OutputPDF, nil
	default:
		return OutputText, fmt.Errorf("unknown output kind %q (expected text or pdf)", s)
	}
}

// ContentConfig describes what the recording contains. Words maps a domain
// to the terms expected in it.
type ContentConfig struct {
	Words          map[string][]string `json:"words,omitempty" yaml:"words"`
	IsTechnical    bool                `json:"isTechnical,omitempty" yaml:"is_technical"`
	IsMultilingual bool                `json:"isMultilingual,omitempty" yaml:"is_multilingual"`
	HasCode        bool                `json:"hasCode,omitempty" yaml:"has_code"`
	HasOddNames    bool                `json:"hasOddNames,omitempty" yaml:"has_odd_names"`
}

// Technical reports whether technical handling applies; code implies it
func (c ContentConfig) Technical() bool {
	return c.IsTechnical || c.HasCode
}

// IsSpecial reports whether any content flag or vocabulary is set
func (c ContentConfig) IsSpecial() bool {
	return c.Technical() || c.IsMultilingual || c.HasOddNames || len(c.Words) > 0
}

// VocabularySize counts the custom terms. A key listed with no terms is
// itself a term, so a plain word list counts one per word.
func (c ContentConfig) VocabularySize() int {
	n := 0
	for key, terms := range c.Words {
		switch {
		case len(terms) > 0:
			n += len(terms)
		case strings.TrimSpace(key) != "":
			n++
		}
	}
	return n
}

// Domains returns the vocabulary domains in sorted order
func (c ContentConfig) Domains() []string {
	domains := make([]string, 0, len(c.Words))
	for domain := range c.Words {
		if d := strings.TrimSpace(domain); d != "" {
			domains = append(domains, d)
		}
	}
	sort.Strings(domains)
	return domains
}

// ActiveCategories lists the enabled processing categories
func (c ContentConfig) ActiveCategories() []string {
	var active []string
	if c.Technical() {
		active = append(active, "technical")
	}
	if c.IsMultilingual {
		active = append(active, "multilingual")
	}
	if c.HasCode {
		active = append(active, "code")
	}
	if c.HasOddNames {
		active = append(active, "odd_names")
	}
	return active
}

// BuildPrompt renders the initial prompt handed to the engine, e.g.
// "Domains: databases, physics". It is empty without vocabulary.
func BuildPrompt(content ContentConfig) string {
	domains := content.Domains()
	if len(domains) == 0 {
		return ""
	}
	return transcriber.TrimPrompt("Domains: "+strings.Join(domains, ", "), transcriber.MaxPromptWords)
}

// Request is one pipeline run. It must not be modified after Start.
type Request struct {
	VideoPath  string
	Content    ContentConfig
	OutputKind OutputKind
	// Destination is optional; it defaults to the output directory plus
	// the video name with the output extension
	Destination string
}

func (r Request) destination(outputDir string) string {
	if r.Destination != "" {
		return r.Destination
	}
	base := filepath.Base(r.VideoPath)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" || name == "." {
		name = "transcript"
	}
	if outputDir == "" {
		outputDir = filepath.Dir(r.VideoPath)
	}
	return filepath.Join(outputDir, name+r.OutputKind.Extension())
}
