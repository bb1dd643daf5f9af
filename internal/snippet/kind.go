// Package snippet splits a raw submission into classified top-level units.
//
// Classification is purely syntactic. It never consults the live symbol
// table, so unknown identifiers are reported later by the compiler and not
// here.
package snippet

// Kind is the syntactic kind of a snippet unit.
type Kind int

const (
	KindImport Kind = iota
	KindType
	KindMethod
	KindVariable
	KindStatement
	KindExpression
)

func (k Kind) String() string {
	switch k {
	case KindImport:
		return "import"
	case KindType:
		return "type"
	case KindMethod:
		return "method"
	case KindVariable:
		return "variable"
	case KindStatement:
		return "statement"
	case KindExpression:
		return "expression"
	default:
		return "unknown"
	}
}

// Declares reports whether units of this kind introduce named entities.
func (k Kind) Declares() bool {
	switch k {
	case KindImport, KindType, KindMethod, KindVariable:
		return true
	}
	return false
}
