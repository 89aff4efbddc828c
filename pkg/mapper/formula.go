package mapper

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// formulaVariable is the only name a field formula may reference
const formulaVariable = "x"

var (
	variablePattern = regexp.MustCompile(`\b` + formulaVariable + `\b`)
	functionPattern = regexp.MustCompile(`(sqrt|abs)\(`)
)

// EvaluateFormula computes a field formula for the raw register value x.
// Supported operations: + - * / ^ sqrt() abs()
func EvaluateFormula(formula string, x float64) (float64, error) {
	if strings.TrimSpace(formula) == "" {
		return 0, fmt.Errorf("empty formula")
	}

	expr := variablePattern.ReplaceAllString(formula, "("+strconv.FormatFloat(x, 'f', -1, 64)+")")
	result, err := evaluate(expr)
	if err != nil {
		return 0, fmt.Errorf("error evaluating formula '%s': %w", formula, err)
	}
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, fmt.Errorf("formula '%s' is not finite for x=%v", formula, x)
	}
	return result, nil
}

func evaluate(expr string) (float64, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0, fmt.Errorf("missing operand")
	}

	// The rightmost call has no other call inside its argument, so calls
	// are reduced to numbers from the inside out
	if calls := functionPattern.FindAllStringSubmatchIndex(expr, -1); len(calls) > 0 {
		m := calls[len(calls)-1]
		name := expr[m[2]:m[3]]
		end := closingParen(expr, m[1]-1)
		if end == -1 {
			return 0, fmt.Errorf("unbalanced parentheses in %s()", name)
		}
		inner, err := evaluate(expr[m[1]:end])
		if err != nil {
			return 0, err
		}
		var value float64
		switch name {
		case "sqrt":
			if inner < 0 {
				return 0, fmt.Errorf("sqrt of negative number: %.6f", inner)
			}
			value = math.Sqrt(inner)
		case "abs":
			value = math.Abs(inner)
		}
		return evaluate(expr[:m[0]] + "(" + strconv.FormatFloat(value, 'f', -1, 64) + ")" + expr[end+1:])
	}

	if wrapped(expr) {
		return evaluate(expr[1 : len(expr)-1])
	}

	for _, ops := range []string{"+-", "*/", "^"} {
		idx := findOperator(expr, ops)
		if idx == -1 {
			continue
		}
		left, err := evaluate(expr[:idx])
		if err != nil {
			return 0, err
		}
		right, err := evaluate(expr[idx+1:])
		if err != nil {
			return 0, err
		}
		switch expr[idx] {
		case '+':
			return left + right, nil
		case '-':
			return left - right, nil
		case '*':
			return left * right, nil
		case '/':
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return left / right, nil
		default:
			return math.Pow(left, right), nil
		}
	}

	if strings.HasPrefix(expr, "-") {
		v, err := evaluate(expr[1:])
		return -v, err
	}

	value, err := strconv.ParseFloat(expr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number: '%s'", expr)
	}
	return value, nil
}

// closingParen returns the index of the parenthesis matching the one at open
func closingParen(expr string, open int) int {
	depth := 0
	for i := open; i < len(expr); i++ {
		switch expr[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// wrapped reports whether the outer parentheses enclose the whole expression
func wrapped(expr string) bool {
	if !strings.HasPrefix(expr, "(") || !strings.HasSuffix(expr, ")") {
		return false
	}
	depth := 0
	for i := 0; i < len(expr); i++ {
		switch expr[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 && i < len(expr)-1 {
				return false
			}
		}
	}
	return true
}

// findOperator finds the rightmost binary operator outside of parentheses.
// A sign directly after another operator, or at the start, is unary.
func findOperator(expr string, operators string) int {
	depth := 0
	for i := len(expr) - 1; i >= 0; i-- {
		switch expr[i] {
		case ')':
			depth++
		case '(':
			depth--
		default:
			if depth != 0 || !strings.ContainsRune(operators, rune(expr[i])) {
				continue
			}
			if (expr[i] == '-' || expr[i] == '+') && unary(expr, i) {
				continue
			}
			return i
		}
	}
	return -1
}

func unary(expr string, i int) bool {
	prev := strings.TrimRight(expr[:i], " \t")
	if prev == "" {
		return true
	}
	return strings.ContainsRune("+-*/^(", rune(prev[len(prev)-1]))
}
