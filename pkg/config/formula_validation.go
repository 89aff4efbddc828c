package config

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// supportedFunctions are the calls the mapper's formula transform evaluates
var supportedFunctions = map[string]bool{
	"sqrt": true,
	"abs":  true,
}

// ValidateFormula validates a transform formula's syntax and returns the
// sorted list of variable names it references
func ValidateFormula(formula string) ([]string, error) {
	if strings.TrimSpace(formula) == "" {
		return nil, fmt.Errorf("formula cannot be empty")
	}

	variables := make(map[string]bool)
	depth := 0
	lastWasOperator := false

	runes := []rune(formula)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			continue

		case r == '(':
			depth++
			lastWasOperator = false

		case r == ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced parentheses: extra closing parenthesis")
			}
			lastWasOperator = false

		case strings.ContainsRune("+-*/^", r):
			if lastWasOperator {
				return nil, fmt.Errorf("invalid syntax: multiple operators in sequence")
			}
			lastWasOperator = true

		case unicode.IsDigit(r) || r == '.':
			for i+1 < len(runes) && (unicode.IsDigit(runes[i+1]) || runes[i+1] == '.') {
				i++
			}
			lastWasOperator = false

		case unicode.IsLetter(r) || r == '_':
			start := i
			for i+1 < len(runes) && (unicode.IsLetter(runes[i+1]) || unicode.IsDigit(runes[i+1]) || runes[i+1] == '_') {
				i++
			}
			name := string(runes[start : i+1])

			next := i + 1
			for next < len(runes) && unicode.IsSpace(runes[next]) {
				next++
			}
			if next < len(runes) && runes[next] == '(' {
				if !supportedFunctions[name] {
					return nil, fmt.Errorf("unsupported function '%s' (only sqrt and abs are supported)", name)
				}
			} else if !supportedFunctions[name] {
				variables[name] = true
			}
			lastWasOperator = false

		default:
			return nil, fmt.Errorf("invalid operator or character '%c'", r)
		}
	}

	if depth != 0 {
		return nil, fmt.Errorf("unbalanced parentheses: %d unclosed", depth)
	}
	if lastWasOperator {
		return nil, fmt.Errorf("invalid syntax: formula ends with an operator")
	}
	if len(variables) == 0 {
		return nil, fmt.Errorf("formula contains no variables")
	}

	names := make([]string, 0, len(variables))
	for name := range variables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
