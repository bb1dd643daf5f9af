package host

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dop251/goja"
)

const (
	reprMaxDepth = 2
	reprMaxItems = 100
	reprMaxLen   = 10000
)

// formatter renders values the way an interactive console shows them.
type formatter struct {
	vm *goja.Runtime
	// objectToString is the original Object.prototype.toString, used to tell
	// custom toString implementations apart.
	objectToString goja.Value
	arrayFrom      goja.Callable
	seen           []*goja.Object
}

// typeName is the type reported next to a value.
func (f *formatter) typeName(v goja.Value) string {
	switch {
	case v == nil || goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	case goja.IsString(v):
		return "string"
	case goja.IsNumber(v):
		return "number"
	case goja.IsBigInt(v):
		return "bigint"
	}
	switch v := v.(type) {
	case *goja.Symbol:
		return "symbol"
	case *goja.Object:
		if _, ok := goja.AssertFunction(v); ok {
			return "function"
		}
		if name := f.constructorName(v); name != "" {
			return name
		}
		return v.ClassName()
	}
	if _, ok := v.Export().(bool); ok {
		return "boolean"
	}
	return "unknown"
}

func (f *formatter) constructorName(o *goja.Object) string {
	ctor, ok := o.Get("constructor").(*goja.Object)
	if !ok {
		return ""
	}
	name := ctor.Get("name")
	if name == nil || goja.IsUndefined(name) {
		return ""
	}
	return name.String()
}

// repr renders v. It may call back into user code (getters and custom
// toString), so callers run it under Try.
func (f *formatter) repr(v goja.Value) string {
	s := f.format(v, 0, true)
	return truncate(s, reprMaxLen)
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("... (%d more bytes)", len(s)-cut)
}

// text renders v for print and console output, where strings stay raw.
func (f *formatter) text(v goja.Value) string {
	if v != nil && goja.IsString(v) {
		return v.String()
	}
	return f.format(v, 0, true)
}

func (f *formatter) format(v goja.Value, depth int, top bool) string {
	switch {
	case v == nil || goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	case goja.IsString(v):
		return strconv.Quote(v.String())
	case goja.IsBigInt(v):
		return v.String() + "n"
	}
	switch v := v.(type) {
	case *goja.Symbol:
		return "Symbol(" + v.String() + ")"
	case *goja.Object:
		return f.object(v, depth, top)
	}
	return v.String()
}

func (f *formatter) object(o *goja.Object, depth int, top bool) string {
	for _, s := range f.seen {
		if s == o {
			return "[Circular]"
		}
	}

	if fn, ok := goja.AssertFunction(o); ok && fn != nil {
		name := ""
		if n := o.Get("name"); n != nil && !goja.IsUndefined(n) {
			name = n.String()
		}
		if strings.HasPrefix(o.String(), "class") {
			return "[class " + fallback(name, "(anonymous)") + "]"
		}
		return "[Function: " + fallback(name, "(anonymous)") + "]"
	}

	switch o.ClassName() {
	case "Error":
		if stack := o.Get("stack"); stack != nil && !goja.IsUndefined(stack) && top {
			return strings.TrimRight(stack.String(), "\n")
		}
		return o.String()
	case "Date", "RegExp":
		return o.String()
	case "Promise":
		return f.promise(o, depth)
	}

	if !top && depth > reprMaxDepth {
		if o.ClassName() == "Array" {
			return "[Array]"
		}
		return "[" + fallback(f.constructorName(o), "Object") + "]"
	}

	f.seen = append(f.seen, o)
	defer func() { f.seen = f.seen[:len(f.seen)-1] }()

	switch o.ClassName() {
	case "Array":
		return f.array(o, depth)
	case "Map":
		return f.collection(o, "Map", depth, true)
	case "Set":
		return f.collection(o, "Set", depth, false)
	}

	if ts := o.Get("toString"); ts != nil && f.objectToString != nil && !ts.SameAs(f.objectToString) {
		if call, ok := goja.AssertFunction(ts); ok {
			res, err := call(o)
			if err != nil {
				panic(err)
			}
			return res.String()
		}
	}
	return f.plain(o, depth)
}

func (f *formatter) promise(o *goja.Object, depth int) string {
	p, ok := o.Export().(*goja.Promise)
	if !ok {
		return "Promise {}"
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return "Promise { " + f.format(p.Result(), depth+1, false) + " }"
	case goja.PromiseStateRejected:
		return "Promise { <rejected> " + f.format(p.Result(), depth+1, false) + " }"
	default:
		return "Promise { <pending> }"
	}
}

func (f *formatter) array(o *goja.Object, depth int) string {
	n := int(o.Get("length").ToInteger())
	shown := min(n, reprMaxItems)
	items := make([]string, 0, shown+1)
	for i := 0; i < shown; i++ {
		el := o.Get(strconv.Itoa(i))
		if el == nil {
			items = append(items, "<empty>")
			continue
		}
		items = append(items, f.format(el, depth+1, false))
	}
	if n > shown {
		items = append(items, fmt.Sprintf("... %d more items", n-shown))
	}
	return "[" + strings.Join(items, ", ") + "]"
}

func (f *formatter) collection(o *goja.Object, kind string, depth int, pairs bool) string {
	if f.arrayFrom == nil {
		return kind + " {}"
	}
	listVal, err := f.arrayFrom(goja.Undefined(), o)
	if err != nil {
		panic(err)
	}
	list := listVal.ToObject(f.vm)
	n := int(list.Get("length").ToInteger())
	shown := min(n, reprMaxItems)
	items := make([]string, 0, shown+1)
	for i := 0; i < shown; i++ {
		entry := list.Get(strconv.Itoa(i))
		if pairs {
			kv := entry.ToObject(f.vm)
			items = append(items, f.format(kv.Get("0"), depth+1, false)+" => "+f.format(kv.Get("1"), depth+1, false))
			continue
		}
		items = append(items, f.format(entry, depth+1, false))
	}
	if n > shown {
		items = append(items, fmt.Sprintf("... %d more items", n-shown))
	}
	if len(items) == 0 {
		return fmt.Sprintf("%s(0) {}", kind)
	}
	return fmt.Sprintf("%s(%d) { %s }", kind, n, strings.Join(items, ", "))
}

func (f *formatter) plain(o *goja.Object, depth int) string {
	keys := o.Keys()
	prefix := ""
	if name := f.constructorName(o); name != "" && name != "Object" {
		prefix = name + " "
	} else if name == "" && o.Prototype() == nil {
		prefix = "[Object: null prototype] "
	}
	if len(keys) == 0 {
		return prefix + "{}"
	}
	shown := min(len(keys), reprMaxItems)
	items := make([]string, 0, shown+1)
	for _, k := range keys[:shown] {
		items = append(items, propertyKey(k)+": "+f.format(o.Get(k), depth+1, false))
	}
	if len(keys) > shown {
		items = append(items, fmt.Sprintf("... %d more properties", len(keys)-shown))
	}
	return prefix + "{ " + strings.Join(items, ", ") + " }"
}

func propertyKey(k string) string {
	if k == "" {
		return `""`
	}
	for i, r := range k {
		if !(r == '_' || r == '$' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || i > 0 && r >= '0' && r <= '9') {
			return strconv.Quote(k)
		}
	}
	return k
}

func fallback(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
