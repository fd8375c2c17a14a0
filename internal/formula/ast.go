package formula

// The condition language is deliberately small: assignments, if/else, and
// side-effect-free expressions over snapshot fields and indicator values.
// There are no loops, no function definitions, and no ambient I/O, so every
// program halts and the interpreter stays auditable.

// Stmt is a statement node.
type Stmt interface{ stmtNode() }

// Assign binds the result of an expression to a name. The output binding
// consumed by the evaluator is the conventional name "signal".
type Assign struct {
	Name  string
	Value Expr
}

// If executes Then when Cond is true, otherwise Else (which may be empty).
type If struct {
	Cond Expr
	Then []Stmt
	Else []Stmt
}

func (*Assign) stmtNode() {}
func (*If) stmtNode()     {}

// Expr is an expression node.
type Expr interface{ exprNode() }

// NumberLit is a numeric literal.
type NumberLit struct{ Value float64 }

// StringLit is a string literal.
type StringLit struct{ Value string }

// BoolLit is true or false.
type BoolLit struct{ Value bool }

// Ident references a binding: a snapshot field (price, close, volume, ...),
// an indicator (rsi14, sma25, ...), or a previously assigned name.
type Ident struct{ Name string }

// FieldRef references a field of a specific symbol's snapshot, e.g.
// ETHUSDT.close in a formula that declares more than one symbol.
type FieldRef struct {
	Symbol string
	Field  string
}

// Unary applies "not" or numeric negation.
type Unary struct {
	Op string
	X  Expr
}

// Binary applies an arithmetic, comparison, or boolean operator.
type Binary struct {
	Op   string
	X, Y Expr
}

// Call invokes one of the fixed builtin helpers (abs, min, max, round).
type Call struct {
	Name string
	Args []Expr
}

// MapLit builds a string-keyed mapping, used for the signal output binding.
type MapLit struct {
	Keys   []string
	Values []Expr
}

func (*NumberLit) exprNode() {}
func (*StringLit) exprNode() {}
func (*BoolLit) exprNode()   {}
func (*Ident) exprNode()     {}
func (*FieldRef) exprNode()  {}
func (*Unary) exprNode()     {}
func (*Binary) exprNode()    {}
func (*Call) exprNode()      {}
func (*MapLit) exprNode()    {}
