package transcriber

import "strings"

// MaxPromptWords caps the initial prompt. Whisper only attends to the tail
// of an over-long prompt, so the tail is what we keep.
const MaxPromptWords = 200

// TrimPrompt collapses whitespace and keeps the last maxWords words of
// prompt. maxWords <= 0 means MaxPromptWords.
func TrimPrompt(prompt string, maxWords int) string {
	if maxWords <= 0 {
		maxWords = MaxPromptWords
	}

	words := strings.Fields(prompt)
	if len(words) > maxWords {
		words = words[len(words)-maxWords:]
	}
	return strings.Join(words, " ")
}
