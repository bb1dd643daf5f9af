package compiler

import (
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/token"

	"github.com/itsmostafa/gocell/internal/snippet"
)

// reference is a use of a free identifier inside a unit.
type reference struct {
	name   string
	start  int
	end    int
	assign bool
	// typeofOnly marks `typeof x`, which is legal for undeclared names.
	typeofOnly bool
}

type bindMode int

const (
	bindLocal bindMode = iota
	bindTop
	bindAssign
)

// scan collects the identifiers a unit references and the names it binds
// in nested scopes. Scoping is deliberately coarse: a name bound anywhere
// inside the unit is treated as local everywhere in it.
type scan struct {
	locals map[string]bool
	refs   []reference
}

func scanUnit(u snippet.Unit) *scan {
	s := &scan{locals: make(map[string]bool)}
	switch n := u.Node.(type) {
	case nil:
	case *ast.FunctionDeclaration:
		s.function(n.Function, false)
	case *ast.ClassDeclaration:
		s.class(n.Class, false)
	case *ast.VariableStatement:
		s.bindings(n.List, bindTop)
	case *ast.LexicalDeclaration:
		s.bindings(n.List, bindTop)
	default:
		s.stmt(n)
	}
	return s
}

// free returns the references that are not bound inside the unit.
func (s *scan) free() []reference {
	var out []reference
	for _, r := range s.refs {
		if !s.locals[r.name] {
			out = append(out, r)
		}
	}
	return out
}

func (s *scan) ref(id *ast.Identifier, assign, typeofOnly bool) {
	start := int(id.Idx) - 1
	s.refs = append(s.refs, reference{
		name:       id.Name.String(),
		start:      start,
		end:        start + len(id.Name),
		assign:     assign,
		typeofOnly: typeofOnly,
	})
}

func (s *scan) bindings(list []*ast.Binding, mode bindMode) {
	for _, b := range list {
		s.target(b.Target, mode)
		s.expr(b.Initializer)
	}
}

// target walks a binding or assignment target.
func (s *scan) target(e ast.Expression, mode bindMode) {
	switch t := e.(type) {
	case nil:
	case *ast.Identifier:
		switch mode {
		case bindLocal:
			s.locals[t.Name.String()] = true
		case bindAssign:
			s.ref(t, true, false)
		}
	case *ast.AssignExpression:
		s.target(t.Left, mode)
		s.expr(t.Right)
	case *ast.ObjectPattern:
		for _, p := range t.Properties {
			switch p := p.(type) {
			case *ast.PropertyShort:
				s.target(&p.Name, mode)
				s.expr(p.Initializer)
			case *ast.PropertyKeyed:
				if p.Computed {
					s.expr(p.Key)
				}
				s.target(p.Value, mode)
			case *ast.SpreadElement:
				s.target(p.Expression, mode)
			}
		}
		s.target(t.Rest, mode)
	case *ast.ArrayPattern:
		for _, el := range t.Elements {
			s.target(el, mode)
		}
		s.target(t.Rest, mode)
	case *ast.Binding:
		s.target(t.Target, mode)
		s.expr(t.Initializer)
	default:
		// member expressions and anything else assignable
		s.expr(e)
	}
}

func (s *scan) stmts(list []ast.Statement) {
	for _, st := range list {
		s.stmt(st)
	}
}

func (s *scan) stmt(st ast.Statement) {
	switch n := st.(type) {
	case nil:
	case *ast.BlockStatement:
		if n != nil {
			s.stmts(n.List)
		}
	case *ast.ExpressionStatement:
		s.expr(n.Expression)
	case *ast.VariableStatement:
		s.bindings(n.List, bindLocal)
	case *ast.LexicalDeclaration:
		s.bindings(n.List, bindLocal)
	case *ast.FunctionDeclaration:
		s.function(n.Function, true)
	case *ast.ClassDeclaration:
		s.class(n.Class, true)
	case *ast.IfStatement:
		s.expr(n.Test)
		s.stmt(n.Consequent)
		s.stmt(n.Alternate)
	case *ast.WhileStatement:
		s.expr(n.Test)
		s.stmt(n.Body)
	case *ast.DoWhileStatement:
		s.stmt(n.Body)
		s.expr(n.Test)
	case *ast.ForStatement:
		switch init := n.Initializer.(type) {
		case *ast.ForLoopInitializerExpression:
			s.expr(init.Expression)
		case *ast.ForLoopInitializerVarDeclList:
			s.bindings(init.List, bindLocal)
		case *ast.ForLoopInitializerLexicalDecl:
			s.bindings(init.LexicalDeclaration.List, bindLocal)
		}
		s.expr(n.Test)
		s.expr(n.Update)
		s.stmt(n.Body)
	case *ast.ForInStatement:
		s.forInto(n.Into)
		s.expr(n.Source)
		s.stmt(n.Body)
	case *ast.ForOfStatement:
		s.forInto(n.Into)
		s.expr(n.Source)
		s.stmt(n.Body)
	case *ast.LabelledStatement:
		s.stmt(n.Statement)
	case *ast.ReturnStatement:
		s.expr(n.Argument)
	case *ast.ThrowStatement:
		s.expr(n.Argument)
	case *ast.SwitchStatement:
		s.expr(n.Discriminant)
		for _, c := range n.Body {
			s.expr(c.Test)
			s.stmts(c.Consequent)
		}
	case *ast.TryStatement:
		s.stmt(n.Body)
		if n.Catch != nil {
			s.target(n.Catch.Parameter, bindLocal)
			s.stmt(n.Catch.Body)
		}
		if n.Finally != nil {
			s.stmt(n.Finally)
		}
	case *ast.WithStatement:
		s.expr(n.Object)
		s.stmt(n.Body)
	}
}

func (s *scan) forInto(into ast.ForInto) {
	switch n := into.(type) {
	case *ast.ForIntoVar:
		s.target(n.Binding.Target, bindLocal)
		s.expr(n.Binding.Initializer)
	case *ast.ForDeclaration:
		s.target(n.Target, bindLocal)
	case *ast.ForIntoExpression:
		s.target(n.Expression, bindAssign)
	}
}

func (s *scan) function(fn *ast.FunctionLiteral, bindName bool) {
	if fn == nil {
		return
	}
	if bindName && fn.Name != nil {
		s.locals[fn.Name.Name.String()] = true
	}
	s.params(fn.ParameterList)
	if fn.Body != nil {
		s.stmts(fn.Body.List)
	}
}

func (s *scan) params(pl *ast.ParameterList) {
	if pl == nil {
		return
	}
	for _, b := range pl.List {
		s.target(b.Target, bindLocal)
		s.expr(b.Initializer)
	}
	s.target(pl.Rest, bindLocal)
}

func (s *scan) class(cl *ast.ClassLiteral, bindName bool) {
	if cl == nil {
		return
	}
	if bindName && cl.Name != nil {
		s.locals[cl.Name.Name.String()] = true
	}
	s.expr(cl.SuperClass)
	for _, el := range cl.Body {
		switch el := el.(type) {
		case *ast.FieldDefinition:
			if el.Computed {
				s.expr(el.Key)
			}
			s.expr(el.Initializer)
		case *ast.MethodDefinition:
			if el.Computed {
				s.expr(el.Key)
			}
			s.function(el.Body, false)
		case *ast.ClassStaticBlock:
			s.stmt(el.Block)
		}
	}
}

func (s *scan) exprs(list []ast.Expression) {
	for _, e := range list {
		s.expr(e)
	}
}

func (s *scan) expr(e ast.Expression) {
	switch n := e.(type) {
	case nil:
	case *ast.Identifier:
		s.ref(n, false, false)
	case *ast.ArrayLiteral:
		s.exprs(n.Value)
	case *ast.ObjectLiteral:
		for _, p := range n.Value {
			switch p := p.(type) {
			case *ast.PropertyShort:
				s.ref(&p.Name, false, false)
				s.expr(p.Initializer)
			case *ast.PropertyKeyed:
				if p.Computed {
					s.expr(p.Key)
				}
				s.expr(p.Value)
			case *ast.SpreadElement:
				s.expr(p.Expression)
			}
		}
	case *ast.AssignExpression:
		s.target(n.Left, bindAssign)
		s.expr(n.Right)
	case *ast.UnaryExpression:
		if id, ok := n.Operand.(*ast.Identifier); ok {
			switch n.Operator {
			case token.TYPEOF:
				s.ref(id, false, true)
				return
			case token.INCREMENT, token.DECREMENT:
				s.ref(id, true, false)
				return
			}
		}
		s.expr(n.Operand)
	case *ast.BinaryExpression:
		s.expr(n.Left)
		s.expr(n.Right)
	case *ast.ConditionalExpression:
		s.expr(n.Test)
		s.expr(n.Consequent)
		s.expr(n.Alternate)
	case *ast.SequenceExpression:
		s.exprs(n.Sequence)
	case *ast.CallExpression:
		s.expr(n.Callee)
		s.exprs(n.ArgumentList)
	case *ast.NewExpression:
		s.expr(n.Callee)
		s.exprs(n.ArgumentList)
	case *ast.DotExpression:
		s.expr(n.Left)
	case *ast.PrivateDotExpression:
		s.expr(n.Left)
	case *ast.BracketExpression:
		s.expr(n.Left)
		s.expr(n.Member)
	case *ast.OptionalChain:
		s.expr(n.Expression)
	case *ast.Optional:
		s.expr(n.Expression)
	case *ast.SpreadElement:
		s.expr(n.Expression)
	case *ast.TemplateLiteral:
		s.expr(n.Tag)
		s.exprs(n.Expressions)
	case *ast.YieldExpression:
		s.expr(n.Argument)
	case *ast.AwaitExpression:
		s.expr(n.Argument)
	case *ast.FunctionLiteral:
		s.function(n, true)
	case *ast.ArrowFunctionLiteral:
		s.params(n.ParameterList)
		switch body := n.Body.(type) {
		case *ast.BlockStatement:
			s.stmts(body.List)
		case *ast.ExpressionBody:
			s.expr(body.Expression)
		}
	case *ast.ClassLiteral:
		s.class(n, true)
	case *ast.ObjectPattern, *ast.ArrayPattern:
		s.target(n, bindAssign)
	case *ast.Binding:
		s.target(n.Target, bindLocal)
		s.expr(n.Initializer)
	}
}
