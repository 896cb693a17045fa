package agentfix

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ToolCall is one parsed tool invocation from a model reply. The expected
// syntax is NAME({json-args}); anything that does not parse is skipped.
type ToolCall struct {
	Name string
	Args map[string]any
	Raw  string
}

var toolNameRe = regexp.MustCompile(`\b(read_file|search_code|list_files|run_command|check_package|analyze_runtime_error|propose_changes)\s*\(`)

// parseToolCalls extracts every well-formed tool call from a reply, in order
// of appearance. Malformed calls are dropped rather than failing the turn.
func parseToolCalls(text string) []ToolCall {
	var calls []ToolCall
	for _, loc := range toolNameRe.FindAllStringSubmatchIndex(text, -1) {
		name := text[loc[2]:loc[3]]
		raw, ok := balancedObject(text[loc[1]:])
		if !ok {
			continue
		}
		args, ok := decodeArgs(raw)
		if !ok {
			continue
		}
		calls = append(calls, ToolCall{Name: name, Args: args, Raw: raw})
	}
	return calls
}

// balancedObject returns the first brace-balanced JSON object in s, honoring
// string literals and escapes.
func balancedObject(s string) (string, bool) {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	if i >= len(s) || s[i] != '{' {
		return "", false
	}
	depth := 0
	inString := false
	var quote byte
	for j := i; j < len(s); j++ {
		c := s[j]
		if inString {
			switch c {
			case '\\':
				j++
			case quote:
				inString = false
			}
			continue
		}
		switch c {
		case '"', '\'':
			inString = true
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[i : j+1], true
			}
		}
	}
	return "", false
}

// decodeArgs tries strict JSON first, then a lenient pass that fixes the two
// deviations models produce most often: single-quoted strings and unquoted
// object keys.
func decodeArgs(raw string) (map[string]any, bool) {
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args, true
	}
	if err := json.Unmarshal([]byte(normalizeLooseJSON(raw)), &args); err == nil {
		return args, true
	}
	return nil, false
}

var bareKeyRe = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)

func normalizeLooseJSON(raw string) string {
	var b strings.Builder
	inString := false
	var quote byte
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if inString {
			if c == '\\' && i+1 < len(raw) {
				b.WriteByte(c)
				i++
				b.WriteByte(raw[i])
				continue
			}
			if c == quote {
				inString = false
				b.WriteByte('"')
				continue
			}
			if c == '"' && quote == '\'' {
				b.WriteString(`\"`)
				continue
			}
			b.WriteByte(c)
			continue
		}
		if c == '"' || c == '\'' {
			inString = true
			quote = c
			b.WriteByte('"')
			continue
		}
		b.WriteByte(c)
	}
	return bareKeyRe.ReplaceAllString(b.String(), `$1"$2":`)
}
