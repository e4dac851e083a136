package templates

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/saiset-co/sai-og/types"
	"github.com/saiset-co/sai-og/utils"
)

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

type evaluator struct {
	data     map[string]interface{}
	locals   []map[string]interface{}
	guards   map[string]int
	strict   bool
	maxLoops int
	out      strings.Builder
}

func newEvaluator(data map[string]interface{}, strict bool, maxLoops int) *evaluator {
	return &evaluator{
		data:     data,
		guards:   make(map[string]int),
		strict:   strict,
		maxLoops: maxLoops,
	}
}

func (e *evaluator) run(nodes []node) error {
	for _, n := range nodes {
		var err error

		switch n := n.(type) {
		case *textNode:
			e.out.WriteString(n.text)
		case *varNode:
			err = e.writeVar(n)
		case *ifNode:
			err = e.runIf(n)
		case *forNode:
			err = e.runFor(n)
		}

		if err != nil {
			return err
		}
	}
	return nil
}

func (e *evaluator) writeVar(n *varNode) error {
	raw, found := e.lookup(n.expr.path)
	if !found && e.strict && !n.expr.hasDefault() && !e.guarded(n.expr.path) {
		return types.NewError(types.KindPlaceholderPolicyViolation,
			"line %d: %q is not set and has no default", n.line, strings.Join(n.expr.path, "."))
	}

	value := ""
	if found {
		value = stringify(raw)
	}

	for _, f := range n.expr.filters {
		value = applyFilter(f, value)
	}

	xmlEscaper.WriteString(&e.out, xmlText(value))
	return nil
}

// xmlText replaces invalid UTF-8 and drops runes XML 1.0 cannot carry.
func xmlText(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t', r == '\n', r == '\r':
			return r
		case r >= 0x20 && r <= 0xD7FF, r >= 0xE000 && r <= 0xFFFD, r >= 0x10000 && r <= 0x10FFFF:
			return r
		default:
			return -1
		}
	}, s)
}

func (e *evaluator) runIf(n *ifNode) error {
	for i, br := range n.branches {
		if e.test(br.cond) {
			return e.withGuards(n.branches[:i+1], br.body)
		}
	}
	return e.withGuards(n.branches, n.elseBody)
}

// withGuards renders body while every path tested by the if chain counts as
// guarded for the missing-variable policy.
func (e *evaluator) withGuards(tested []*branch, body []node) error {
	for _, br := range tested {
		e.guards[strings.Join(br.cond.path, ".")]++
	}
	defer func() {
		for _, br := range tested {
			key := strings.Join(br.cond.path, ".")
			if e.guards[key]--; e.guards[key] <= 0 {
				delete(e.guards, key)
			}
		}
	}()

	return e.run(body)
}

func (e *evaluator) guarded(path []string) bool {
	return e.guards[strings.Join(path, ".")] > 0
}

func (e *evaluator) test(c *condition) bool {
	raw, found := e.lookup(c.path)

	var result bool
	switch c.op {
	case "==":
		result = found && stringify(raw) == c.operand.String()
	case "!=":
		result = !found || stringify(raw) != c.operand.String()
	default:
		result = found && truthy(raw)
	}

	if c.negate {
		return !result
	}
	return result
}

func (e *evaluator) runFor(n *forNode) error {
	raw, found := e.lookup(n.path)
	if !found {
		if e.strict && !e.guarded(n.path) {
			return types.NewError(types.KindPlaceholderPolicyViolation,
				"line %d: %q is not set", n.line, strings.Join(n.path, "."))
		}
		return nil
	}

	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil
	}

	count := rv.Len()
	if n.limit > 0 && count > n.limit {
		count = n.limit
	}
	if e.maxLoops > 0 && count > e.maxLoops {
		count = e.maxLoops
	}

	frame := make(map[string]interface{}, 2)
	e.locals = append(e.locals, frame)
	defer func() { e.locals = e.locals[:len(e.locals)-1] }()

	for i := 0; i < count; i++ {
		frame[n.name] = rv.Index(i).Interface()
		frame["loop"] = map[string]interface{}{
			"index":  i + 1,
			"index0": i,
			"first":  i == 0,
			"last":   i == count-1,
			"length": count,
		}

		if err := e.run(n.body); err != nil {
			return err
		}
	}

	return nil
}

func (e *evaluator) lookup(path []string) (interface{}, bool) {
	var current interface{}
	found := false

	for i := len(e.locals) - 1; i >= 0; i-- {
		if v, ok := e.locals[i][path[0]]; ok {
			current, found = v, true
			break
		}
	}
	if !found {
		current, found = e.data[path[0]]
	}
	if !found {
		return nil, false
	}

	for _, segment := range path[1:] {
		next, ok := child(current, segment)
		if !ok {
			return nil, false
		}
		current = next
	}

	return current, true
}

func child(value interface{}, segment string) (interface{}, bool) {
	switch v := value.(type) {
	case map[string]interface{}:
		c, ok := v[segment]
		return c, ok
	case map[string]string:
		c, ok := v[segment]
		return c, ok
	case []interface{}:
		idx, err := strconv.Atoi(segment)
		if err != nil || idx < 0 || idx >= len(v) {
			return nil, false
		}
		return v[idx], true
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		c := rv.MapIndex(reflect.ValueOf(segment).Convert(rv.Type().Key()))
		if !c.IsValid() {
			return nil, false
		}
		return c.Interface(), true
	case reflect.Slice, reflect.Array:
		idx, err := strconv.Atoi(segment)
		if err != nil || idx < 0 || idx >= rv.Len() {
			return nil, false
		}
		return rv.Index(idx).Interface(), true
	}

	return nil, false
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case []byte:
		return string(v)
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		encoded, err := utils.MarshalCanonical(value)
		if err != nil {
			return ""
		}
		return string(encoded)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.String:
		return rv.String()
	}

	return ""
}

func truthy(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	case int:
		return v != 0
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.String:
		return rv.Len() > 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil()
	}

	return true
}
