package autonomy

import (
	"fmt"
	"strconv"
	"strings"
)

// Context данные действия, против которых проверяются условия
type Context map[string]any

type condOp int

const (
	opInvalid condOp = iota
	opEq
	opNeq
	opGte
	opGt
	opIn
	opTruthy
)

// Condition разобранное условие правила. Разбирается один раз при загрузке документа.
type Condition struct {
	src     string
	op      condOp
	key     string
	literal string
	list    []string
	num     float64
	numOK   bool
}

// urgencyRank порядок срочности для сравнений по ключу urgency
var urgencyRank = map[string]int{
	"low":       1,
	"medium":    2,
	"high":      3,
	"critical":  4,
	"emergency": 5,
}

// ParseCondition определяет оператор в порядке ==, !=, >=, >, in. Строка без оператора
// проверяет истинность ключа. Некорректное выражение всегда ложно.
func ParseCondition(src string) Condition {
	c := Condition{src: src}
	switch {
	case strings.Contains(src, " == "):
		c.op = opEq
		c.key, c.literal = splitBinary(src, " == ", &c)
		c.literal = unquote(c.literal)
	case strings.Contains(src, " != "):
		c.op = opNeq
		c.key, c.literal = splitBinary(src, " != ", &c)
		c.literal = unquote(c.literal)
	case strings.Contains(src, " >= "):
		c.op = opGte
		c.key, c.literal = splitBinary(src, " >= ", &c)
		c.num, c.numOK = parseNumber(c.literal)
	case strings.Contains(src, " > "):
		c.op = opGt
		c.key, c.literal = splitBinary(src, " > ", &c)
		c.num, c.numOK = parseNumber(c.literal)
	case strings.Contains(src, " in ["):
		c.op = opIn
		var rest string
		c.key, rest = splitBinary(src, " in [", &c)
		for _, v := range strings.Split(strings.TrimRight(rest, "]"), ",") {
			c.list = append(c.list, unquote(strings.TrimSpace(v)))
		}
	default:
		c.op = opTruthy
		c.key = strings.TrimSpace(src)
	}
	return c
}

func splitBinary(src, sep string, c *Condition) (string, string) {
	parts := strings.Split(src, sep)
	if len(parts) != 2 {
		c.op = opInvalid
		return "", ""
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

func unquote(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"'`)
}

func (c Condition) String() string { return c.src }

// Eval никогда не паникует: отсутствие ключа или несовместимый тип дают false
// (кроме != и in, где отсутствующее значение сравнивается как литерал None).
func (c Condition) Eval(ctx Context) bool {
	switch c.op {
	case opEq:
		return stringify(ctx[c.key]) == c.literal
	case opNeq:
		return stringify(ctx[c.key]) != c.literal
	case opGte, opGt:
		v, ok := ctx[c.key]
		if !ok || v == nil {
			return false
		}
		var left, right float64
		// порядковая шкала срочности только для >=; для > значения сравниваются как числа
		if c.key == "urgency" && c.op == opGte {
			left = float64(urgencyRank[strings.ToLower(stringify(v))])
			right = float64(urgencyRank[strings.ToLower(c.literal)])
		} else {
			n, ok := toNumber(v)
			if !ok || !c.numOK {
				return false
			}
			left, right = n, c.num
		}
		if c.op == opGte {
			return left >= right
		}
		return left > right
	case opIn:
		s := stringify(ctx[c.key])
		for _, v := range c.list {
			if v == s {
				return true
			}
		}
		return false
	case opTruthy:
		return truthy(ctx[c.key])
	}
	return false
}

// stringify текстовое представление значения контекста для сравнения с литералом
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case string:
		return x
	case bool:
		if x {
			return "True"
		}
		return "False"
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return stringify(float64(x))
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	}
	return fmt.Sprint(v)
}

func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}

func toNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		return parseNumber(x)
	}
	return 0, false
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case int:
		return x != 0
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	return true
}
