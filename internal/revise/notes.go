package revise

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/snoozleEmily/transcriptor/pkg/transcriber"
)

const (
	maxKeyTerms       = 10
	maxQuestions      = 5
	maxHighlights     = 5
	highlightMinWords = 10
	highlightMaxRunes = 100
	summarySentences  = 2
	maxSummaryRunes   = 400
	noneFound         = "None found"
)

var keyTermPattern = regexp.MustCompile(`\b[A-Z][a-z]{3,}\b`)

// questionWords lists words that open a question, per language code
var questionWords = map[string][]string{
	"en": {"what", "why", "how", "when", "where", "who", "which",
		"do", "does", "did", "are", "was", "were",
		"can", "could", "will", "would", "should", "shall", "may", "might"},
	"pt": {"o que", "que", "por que", "como", "quando", "onde", "quem", "qual", "quais",
		"são", "está", "estão", "pode", "poderia", "deve", "será", "há", "têm",
		"que que", "cê", "cês", "tá", "tão", "né"},
	"es": {"qué", "por qué", "cómo", "cuándo", "dónde", "quién", "cuál", "cuáles",
		"son", "está", "están", "puede", "podría", "debe", "será", "hay", "tienen"},
	"it": {"che", "che cosa", "perché", "come", "quando", "dove", "chi", "quale", "quali",
		"sono", "sta", "stanno", "può", "potrebbe", "deve", "sarà", "c'è", "hanno"},
	"fr": {"qui", "que", "quoi", "qu'est-ce que", "comment", "pourquoi",
		"quand", "où", "quel", "quelle", "quels", "quelles", "lequel", "laquelle"},
	"ro": {"cine", "unde", "ce", "de ce", "cum", "care", "când", "câți", "câte"},
}

// definitionPatterns capture a capitalized term and what it is said to mean
var definitionPatterns = map[string]*regexp.Regexp{
	"en": regexp.MustCompile(`(?:^|[\s(])(\p{Lu}\p{Ll}+) (?:is defined as|is called) ([^.\n]+)`),
	"pt": regexp.MustCompile(`(?:^|[\s(])(\p{Lu}\p{Ll}+) (?:é definido como|é chamado de|significa) ([^.\n]+)`),
	"es": regexp.MustCompile(`(?:^|[\s(])(\p{Lu}\p{Ll}+) (?:es definido como|se define como|se llama) ([^.\n]+)`),
	"it": regexp.MustCompile(`(?:^|[\s(])(\p{Lu}\p{Ll}+) (?:è definito come|si chiama) ([^.\n]+)`),
}

var languageAliases = map[string]string{
	"english":    "en",
	"portuguese": "pt",
	"spanish":    "es",
	"italian":    "it",
	"french":     "fr",
	"romanian":   "ro",
}

// Notes are study notes derived from a transcript
type Notes struct {
	Summary     string
	KeyTerms    []string
	Questions   []TimedNote
	Definitions []Definition
	Highlights  []TimedNote
}

// TimedNote is a line of the transcript with the time it was spoken
type TimedNote struct {
	At   time.Duration
	Text string
}

// Definition is a term the speaker explained
type Definition struct {
	Term    string
	Meaning string
}

// Notes builds the summary, key terms, questions, definitions and long
// segment highlights of a transcript. Without segments the sentences of
// text stand in for them, all at time zero.
func (r *Reviser) Notes(text string, segments []transcriber.Segment, language string) Notes {
	lang := languageCode(language)
	if len(segments) == 0 {
		for _, sentence := range SplitSentences(text) {
			segments = append(segments, transcriber.Segment{Text: sentence})
		}
	}

	notes := Notes{
		Summary:     summarize(text),
		KeyTerms:    keyTerms(segments),
		Questions:   questions(segments, lang),
		Definitions: definitions(text, lang),
		Highlights:  highlights(segments),
	}

	r.logger.WithFields(logrus.Fields{
		"language":    lang,
		"key_terms":   len(notes.KeyTerms),
		"questions":   len(notes.Questions),
		"definitions": len(notes.Definitions),
		"highlights":  len(notes.Highlights),
	}).Debug("Notes generated")

	return notes
}

// Annotate returns the formatted notes, or "" when text is empty
func (r *Reviser) Annotate(text string, segments []transcriber.Segment, language string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	return r.Notes(text, segments, language).String()
}

// String renders the notes as headed sections separated by blank lines.
// Empty sections read "None found".
func (n Notes) String() string {
	var sections []string

	summary := n.Summary
	if strings.TrimSpace(summary) == "" {
		summary = noneFound
	}
	sections = append(sections, "# Summary\n"+summary)

	sections = append(sections, section("Key Terms", n.KeyTerms))

	lines := make([]string, len(n.Questions))
	for i, q := range n.Questions {
		lines[i] = formatTimestamp(q.At) + " " + q.Text
	}
	sections = append(sections, section("Questions", lines))

	lines = make([]string, len(n.Definitions))
	for i, d := range n.Definitions {
		lines[i] = d.Term + ": " + d.Meaning
	}
	sections = append(sections, section("Definitions", lines))

	lines = make([]string, len(n.Highlights))
	for i, h := range n.Highlights {
		lines[i] = formatTimestamp(h.At) + " " + h.Text
	}
	sections = append(sections, section("Timestamps", lines))

	return strings.Join(sections, "\n\n")
}

func section(title string, items []string) string {
	if len(items) == 0 {
		return "# " + title + "\n" + noneFound
	}
	return "# " + title + "\n- " + strings.Join(items, "\n- ")
}

func summarize(text string) string {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return ""
	}
	if len(sentences) > summarySentences {
		sentences = sentences[:summarySentences]
	}
	return truncate(strings.Join(sentences, " "), maxSummaryRunes)
}

func keyTerms(segments []transcriber.Segment) []string {
	skip := make(map[string]bool, len(questionWords["en"]))
	for _, w := range questionWords["en"] {
		skip[w] = true
	}

	seen := make(map[string]bool)
	var terms []string
	for _, seg := range segments {
		for _, w := range keyTermPattern.FindAllString(seg.Text, -1) {
			if seen[w] || skip[strings.ToLower(w)] {
				continue
			}
			seen[w] = true
			terms = append(terms, w)
		}
	}
	sort.Strings(terms)
	if len(terms) > maxKeyTerms {
		terms = terms[:maxKeyTerms]
	}
	return terms
}

func questions(segments []transcriber.Segment, lang string) []TimedNote {
	words := questionWords[lang]
	if len(words) == 0 {
		words = questionWords["en"]
	}

	var out []TimedNote
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if strings.HasSuffix(text, "?") || opensWith(text, words) {
			out = append(out, TimedNote{At: seg.Start, Text: text})
			if len(out) == maxQuestions {
				break
			}
		}
	}
	return out
}

// opensWith reports whether text starts with one of words as whole words
func opensWith(text string, words []string) bool {
	lower := strings.ToLower(text)
	for _, w := range words {
		if !strings.HasPrefix(lower, w) {
			continue
		}
		next, _ := utf8.DecodeRuneInString(lower[len(w):])
		if next == utf8.RuneError || !unicode.IsLetter(next) {
			return true
		}
	}
	return false
}

func definitions(text, lang string) []Definition {
	pattern, ok := definitionPatterns[lang]
	if !ok {
		return nil
	}

	var out []Definition
	for _, m := range pattern.FindAllStringSubmatch(text, -1) {
		out = append(out, Definition{Term: m[1], Meaning: strings.TrimSpace(m[2])})
	}
	return out
}

func highlights(segments []transcriber.Segment) []TimedNote {
	var out []TimedNote
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if len(strings.Fields(text)) <= highlightMinWords {
			continue
		}
		out = append(out, TimedNote{At: seg.Start, Text: truncate(text, highlightMaxRunes)})
		if len(out) == maxHighlights {
			break
		}
	}
	return out
}

func truncate(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}

func languageCode(language string) string {
	lang := strings.ToLower(strings.TrimSpace(language))
	if code, ok := languageAliases[lang]; ok {
		return code
	}
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if lang == "" {
		return "en"
	}
	return lang
}

func formatTimestamp(d time.Duration) string {
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total%3600/60, total%60)
}
