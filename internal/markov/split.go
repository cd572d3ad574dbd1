package markov

import (
	"regexp"
	"strings"
	"unicode"
)

// rejectInput drops sentences whose quoting or bracketing would make
// generated output unbalanced.
var rejectInput = regexp.MustCompile(`(^')|('$)|\s'|'\s|["()\[\]]`)

// splitSentences breaks a corpus into sentences on newlines and on terminal
// punctuation followed by whitespace and an upper-case letter.
func splitSentences(corpus string) []string {
	var out []string
	for _, line := range strings.Split(corpus, "\n") {
		for _, s := range splitLine(line) {
			s = strings.TrimSpace(s)
			if s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func splitLine(line string) []string {
	runes := []rune(line)
	var out []string
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminal(runes[i]) {
			continue
		}
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		if j == i+1 || j >= len(runes) || !unicode.IsUpper(runes[j]) {
			continue
		}
		out = append(out, string(runes[start:i+1]))
		start = j
		i = j - 1
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func acceptInput(sentence string) bool {
	return strings.TrimSpace(sentence) != "" && !rejectInput.MatchString(sentence)
}
