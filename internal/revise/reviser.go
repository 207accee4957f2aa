package revise

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/snoozleEmily/transcriptor/internal/logging"
)

var (
	horizontalSpace = regexp.MustCompile(`[ \t]+`)
	blankLines      = regexp.MustCompile(`\n{3,}`)
	spaceBeforeMark = regexp.MustCompile(` +([,.;:!?])`)
	sentenceStart   = regexp.MustCompile(`(^|[.!?]\s+)(\p{Ll})`)
	sentenceSplit   = regexp.MustCompile(`[.!?]+\s+`)
)

// Reviser cleans engine output before it is saved
type Reviser struct {
	logger *logrus.Entry
}

// New creates a reviser. A nil logger discards diagnostics.
func New(logger *logrus.Entry) *Reviser {
	return &Reviser{logger: logging.OrNop(logger).WithField("component", "reviser")}
}

// Revise normalizes whitespace, capitalizes sentence starts and restores
// the casing of every vocabulary term. vocabulary maps a domain to its
// terms; each term is written back exactly as given wherever it appears
// as a whole word, ignoring case.
func (r *Reviser) Revise(text string, vocabulary map[string][]string) string {
	text = normalizeWhitespace(text)
	if text == "" {
		return ""
	}

	// Sentence case first so vocabulary casing such as "iPhone" survives
	text = capitalizeSentences(text)

	terms := collectTerms(vocabulary)
	replaced := 0
	if pattern := termsPattern(terms); pattern != nil {
		canonical := make(map[string]string, len(terms))
		for _, term := range terms {
			key := strings.ToLower(term)
			if _, ok := canonical[key]; !ok {
				canonical[key] = term
			}
		}
		text = pattern.ReplaceAllStringFunc(text, func(match string) string {
			if term, ok := canonical[strings.ToLower(match)]; ok {
				replaced++
				return term
			}
			return match
		})
	}

	r.logger.WithFields(logrus.Fields{
		"terms":        len(terms),
		"replacements": replaced,
		"sentences":    len(SplitSentences(text)),
	}).Debug("Transcript revised")

	return text
}

// SplitSentences splits text after sentence-ending punctuation
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	last := 0
	for _, loc := range sentenceSplit.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[last:loc[1]]); s != "" {
			sentences = append(sentences, s)
		}
		last = loc[1]
	}
	if s := strings.TrimSpace(text[last:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func normalizeWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(horizontalSpace.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	text = spaceBeforeMark.ReplaceAllString(text, "$1")
	return strings.TrimSpace(text)
}

// collectTerms returns distinct terms, longest first. Alternation prefers
// the leftmost alternative, so multi-word terms win over their parts.
func collectTerms(vocabulary map[string][]string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, list := range vocabulary {
		for _, term := range list {
			term = strings.TrimSpace(term)
			if term == "" || seen[term] {
				continue
			}
			seen[term] = true
			terms = append(terms, term)
		}
	}
	sort.Slice(terms, func(i, j int) bool {
		if len(terms[i]) != len(terms[j]) {
			return len(terms[i]) > len(terms[j])
		}
		return terms[i] < terms[j]
	})
	return terms
}

// termsPattern matches any term case-insensitively in a single pass. Word
// boundaries are only required on edges that are word characters, so
// "C++" still matches.
func termsPattern(terms []string) *regexp.Regexp {
	if len(terms) == 0 {
		return nil
	}

	alternatives := make([]string, len(terms))
	for i, term := range terms {
		var b strings.Builder
		first, _ := utf8.DecodeRuneInString(term)
		last, _ := utf8.DecodeLastRuneInString(term)
		if isWordRune(first) {
			b.WriteString(`\b`)
		}
		b.WriteString(regexp.QuoteMeta(term))
		if isWordRune(last) {
			b.WriteString(`\b`)
		}
		alternatives[i] = b.String()
	}
	return regexp.MustCompile("(?i)(?:" + strings.Join(alternatives, "|") + ")")
}

func isWordRune(r rune) bool {
	return r == '_' || (r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r)))
}

func capitalizeSentences(text string) string {
	return sentenceStart.ReplaceAllStringFunc(text, func(match string) string {
		r, size := utf8.DecodeLastRuneInString(match)
		return match[:len(match)-size] + string(unicode.ToUpper(r))
	})
}
