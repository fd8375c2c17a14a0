package formula

import (
	"context"
	"fmt"
	"math"

	"signal-engine/internal/market"
)

// Value is a runtime value: float64, string, bool, or map[string]Value.
type Value any

// interp walks the AST with a step budget and deadline so a hostile or
// degenerate formula cannot stall an evaluation worker.
type interp struct {
	ctx      context.Context
	env      map[string]Value
	snaps    map[string]*market.Snapshot
	steps    int
	maxSteps int
}

const defaultMaxSteps = 100_000

// checkBudget is called on every node visit. The deadline test is amortized
// to every 64 steps to keep the hot path cheap.
func (in *interp) checkBudget() error {
	in.steps++
	if in.steps > in.maxSteps {
		return fmt.Errorf("step budget exhausted after %d steps: %w", in.steps, context.DeadlineExceeded)
	}
	if in.steps%64 == 0 {
		if err := in.ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (in *interp) run(stmts []Stmt) error {
	for _, s := range stmts {
		if err := in.exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (in *interp) exec(s Stmt) error {
	if err := in.checkBudget(); err != nil {
		return err
	}
	switch st := s.(type) {
	case *Assign:
		v, err := in.eval(st.Value)
		if err != nil {
			return err
		}
		in.env[st.Name] = v
		return nil
	case *If:
		cond, err := in.eval(st.Cond)
		if err != nil {
			return err
		}
		b, ok := cond.(bool)
		if !ok {
			return fmt.Errorf("if condition is not boolean (got %T)", cond)
		}
		if b {
			return in.run(st.Then)
		}
		return in.run(st.Else)
	}
	return fmt.Errorf("unknown statement %T", s)
}

func (in *interp) eval(e Expr) (Value, error) {
	if err := in.checkBudget(); err != nil {
		return nil, err
	}
	switch ex := e.(type) {
	case *NumberLit:
		return ex.Value, nil
	case *StringLit:
		return ex.Value, nil
	case *BoolLit:
		return ex.Value, nil

	case *Ident:
		v, ok := in.env[ex.Name]
		if !ok {
			return nil, fmt.Errorf("unknown identifier %q", ex.Name)
		}
		return v, nil

	case *FieldRef:
		snap, ok := in.snaps[ex.Symbol]
		if !ok {
			return nil, fmt.Errorf("no market data for symbol %q", ex.Symbol)
		}
		return snapshotField(snap, ex.Field)

	case *Unary:
		x, err := in.eval(ex.X)
		if err != nil {
			return nil, err
		}
		switch ex.Op {
		case "not":
			b, ok := x.(bool)
			if !ok {
				return nil, fmt.Errorf("not applied to non-boolean %T", x)
			}
			return !b, nil
		case "-":
			f, ok := x.(float64)
			if !ok {
				return nil, fmt.Errorf("negation applied to non-number %T", x)
			}
			return -f, nil
		}
		return nil, fmt.Errorf("unknown unary operator %q", ex.Op)

	case *Binary:
		return in.evalBinary(ex)

	case *Call:
		return in.evalCall(ex)

	case *MapLit:
		m := make(map[string]Value, len(ex.Keys))
		for i, key := range ex.Keys {
			v, err := in.eval(ex.Values[i])
			if err != nil {
				return nil, err
			}
			m[key] = v
		}
		return m, nil
	}
	return nil, fmt.Errorf("unknown expression %T", e)
}

func (in *interp) evalBinary(ex *Binary) (Value, error) {
	// boolean operators short-circuit
	if ex.Op == "and" || ex.Op == "or" {
		xv, err := in.eval(ex.X)
		if err != nil {
			return nil, err
		}
		xb, ok := xv.(bool)
		if !ok {
			return nil, fmt.Errorf("%s applied to non-boolean %T", ex.Op, xv)
		}
		if ex.Op == "and" && !xb {
			return false, nil
		}
		if ex.Op == "or" && xb {
			return true, nil
		}
		yv, err := in.eval(ex.Y)
		if err != nil {
			return nil, err
		}
		yb, ok := yv.(bool)
		if !ok {
			return nil, fmt.Errorf("%s applied to non-boolean %T", ex.Op, yv)
		}
		return yb, nil
	}

	xv, err := in.eval(ex.X)
	if err != nil {
		return nil, err
	}
	yv, err := in.eval(ex.Y)
	if err != nil {
		return nil, err
	}

	// string equality
	if xs, ok := xv.(string); ok {
		ys, ok := yv.(string)
		if !ok {
			return nil, fmt.Errorf("cannot compare string with %T", yv)
		}
		switch ex.Op {
		case "==":
			return xs == ys, nil
		case "!=":
			return xs != ys, nil
		}
		return nil, fmt.Errorf("operator %q not defined on strings", ex.Op)
	}

	xf, ok := xv.(float64)
	if !ok {
		return nil, fmt.Errorf("operator %q applied to %T", ex.Op, xv)
	}
	yf, ok := yv.(float64)
	if !ok {
		return nil, fmt.Errorf("operator %q applied to %T", ex.Op, yv)
	}

	switch ex.Op {
	case "+":
		return xf + yf, nil
	case "-":
		return xf - yf, nil
	case "*":
		return xf * yf, nil
	case "/":
		if yf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return xf / yf, nil
	case "==":
		return xf == yf, nil
	case "!=":
		return xf != yf, nil
	case "<":
		return xf < yf, nil
	case "<=":
		return xf <= yf, nil
	case ">":
		return xf > yf, nil
	case ">=":
		return xf >= yf, nil
	}
	return nil, fmt.Errorf("unknown operator %q", ex.Op)
}

func (in *interp) evalCall(ex *Call) (Value, error) {
	args := make([]float64, 0, len(ex.Args))
	for _, a := range ex.Args {
		v, err := in.eval(a)
		if err != nil {
			return nil, err
		}
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("%s: argument is not a number (%T)", ex.Name, v)
		}
		args = append(args, f)
	}

	switch ex.Name {
	case "abs":
		if len(args) != 1 {
			return nil, fmt.Errorf("abs expects 1 argument, got %d", len(args))
		}
		return math.Abs(args[0]), nil
	case "round":
		if len(args) != 1 {
			return nil, fmt.Errorf("round expects 1 argument, got %d", len(args))
		}
		return math.Round(args[0]), nil
	case "min":
		if len(args) < 2 {
			return nil, fmt.Errorf("min expects at least 2 arguments, got %d", len(args))
		}
		out := args[0]
		for _, f := range args[1:] {
			out = math.Min(out, f)
		}
		return out, nil
	case "max":
		if len(args) < 2 {
			return nil, fmt.Errorf("max expects at least 2 arguments, got %d", len(args))
		}
		out := args[0]
		for _, f := range args[1:] {
			out = math.Max(out, f)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown function %q", ex.Name)
}

// snapshotField resolves a named field or indicator on a snapshot.
func snapshotField(snap *market.Snapshot, field string) (Value, error) {
	switch field {
	case "price":
		return snap.Price, nil
	case "volume":
		return snap.Volume, nil
	case "open":
		return snap.Open, nil
	case "high":
		return snap.High, nil
	case "low":
		return snap.Low, nil
	case "close":
		return snap.Close, nil
	case "symbol":
		return snap.Symbol, nil
	}
	if v, ok := snap.Indicators[field]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("unknown field %q for symbol %s", field, snap.Symbol)
}
