package react

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/tmc/langchaingo/tools"
)

// CalculatorPrompt is the system prompt of the calculator agent.
const CalculatorPrompt = "你是一个计算助手，使用提供的工具来完成计算任务。"

// ErrDivisionByZero is reported by the divide tool.
var ErrDivisionByZero = errors.New("division by zero")

// arithmetic is a tool applying op to two numbers a and b.
type arithmetic struct {
	name string
	desc string
	op   func(a, b float64) (float64, error)
}

var _ Parameterized = arithmetic{}

func (t arithmetic) Name() string        { return t.name }
func (t arithmetic) Description() string { return t.desc }

func (t arithmetic) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number", "description": "First operand"},
			"b": map[string]any{"type": "number", "description": "Second operand"},
		},
		"required":             []string{"a", "b"},
		"additionalProperties": false,
	}
}

func (t arithmetic) Call(_ context.Context, input string) (string, error) {
	var args struct {
		A *float64 `json:"a"`
		B *float64 `json:"b"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("%s: invalid arguments %q: %w", t.name, input, err)
	}
	if args.A == nil || args.B == nil {
		return "", fmt.Errorf("%s: both a and b are required", t.name)
	}
	v, err := t.op(*args.A, *args.B)
	if err != nil {
		return "", err
	}
	return strconv.FormatFloat(v, 'f', -1, 64), nil
}

// Calculator returns the add, multiply and divide tools.
func Calculator() []tools.Tool {
	return []tools.Tool{
		arithmetic{name: "add", desc: "Adds a and b.", op: func(a, b float64) (float64, error) {
			return a + b, nil
		}},
		arithmetic{name: "multiply", desc: "Multiplies a and b.", op: func(a, b float64) (float64, error) {
			return a * b, nil
		}},
		arithmetic{name: "divide", desc: "Divides a by b.", op: func(a, b float64) (float64, error) {
			if b == 0 {
				return 0, ErrDivisionByZero
			}
			return a / b, nil
		}},
	}
}
