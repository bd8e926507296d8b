package planner

import (
	"errors"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"
)

// ErrNoPayload is returned when a response contains no JSON object or array.
var ErrNoPayload = errors.New("no JSON payload found in response")

var fenceRe = regexp.MustCompile("(?s)```[A-Za-z]*[ \t]*\r?\n(.*?)```")

// ExtractPayload finds the structured task payload inside a raw generator
// response. Markdown fences are preferred when present; otherwise the longest
// balanced JSON object or array in the text wins, so prose such as "here are
// [3] tasks:" around the payload is ignored. Comments and trailing commas are
// normalised away before the candidate is checked, and single-quoted strings
// are rewritten with double quotes.
func ExtractPayload(text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrNoPayload
	}

	for _, m := range fenceRe.FindAllStringSubmatch(text, -1) {
		if payload := longestJSON(m[1]); payload != nil {
			return payload, nil
		}
	}
	if payload := longestJSON(text); payload != nil {
		return payload, nil
	}
	return nil, ErrNoPayload
}

// longestJSON scans s for balanced {...} or [...] spans and returns the
// longest one that is valid JSON after normalisation.
func longestJSON(s string) []byte {
	var best []byte
	bestLen := 0
	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		end := matchClose(s, i)
		if end < 0 {
			continue
		}
		candidate := jsonc.ToJSON([]byte(s[i : end+1]))
		if !gjson.ValidBytes(candidate) {
			candidate = jsonc.ToJSON(doubleQuote(s[i : end+1]))
			if !gjson.ValidBytes(candidate) {
				continue
			}
		}
		if end+1-i > bestLen {
			best, bestLen = candidate, end+1-i
		}
		i = end
	}
	return best
}

// matchClose returns the index of the bracket closing the one at start,
// skipping brackets inside string literals and comments, or -1.
func matchClose(s string, start int) int {
	var stack []byte
	var quote byte
	for i := start; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '/':
			if i+1 < len(s) && s[i+1] == '/' {
				for i < len(s) && s[i] != '\n' {
					i++
				}
			} else if i+1 < len(s) && s[i+1] == '*' {
				end := strings.Index(s[i+2:], "*/")
				if end < 0 {
					return -1
				}
				i += end + 3
			}
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}

// doubleQuote rewrites single-quoted string literals as JSON strings.
// Double-quoted strings and comments are copied unchanged.
func doubleQuote(s string) []byte {
	out := make([]byte, 0, len(s)+8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			j := i + 1
			for j < len(s) && s[j] != '"' {
				if s[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(s) {
				j = len(s) - 1
			}
			out = append(out, s[i:j+1]...)
			i = j
		case c == '/' && i+1 < len(s) && s[i+1] == '/':
			end := strings.IndexByte(s[i:], '\n')
			if end < 0 {
				end = len(s)
			} else {
				end += i
			}
			out = append(out, s[i:end]...)
			i = end - 1
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				end = len(s)
			} else {
				end += i + 4
			}
			out = append(out, s[i:end]...)
			i = end - 1
		case c == '\'':
			out = append(out, '"')
			for i++; i < len(s) && s[i] != '\''; i++ {
				switch {
				case s[i] == '\\' && i+1 < len(s) && s[i+1] == '\'':
					out = append(out, '\'')
					i++
				case s[i] == '\\' && i+1 < len(s):
					out = append(out, s[i], s[i+1])
					i++
				case s[i] == '"':
					out = append(out, '\\', '"')
				default:
					out = append(out, s[i])
				}
			}
			out = append(out, '"')
		default:
			out = append(out, c)
		}
	}
	return out
}
