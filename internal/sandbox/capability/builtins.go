package capability

import (
	"fmt"
	"math"
	"math/big"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

type builtinFunc func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

var extraBuiltins = map[string]builtinFunc{
	"sum":    sum,
	"divmod": divmod,
	"pow":    pow,
	"round":  round,
	"hex":    radix("hex", 16, "0x"),
	"oct":    radix("oct", 8, "0o"),
	"bin":    radix("bin", 2, "0b"),
	"map":    mapFn,
	"filter": filter,
}

// sum(iterable, start=0)
func sum(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var iterable starlark.Iterable
	var start starlark.Value = starlark.MakeInt(0)
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "iterable", &iterable, "start?", &start); err != nil {
		return nil, err
	}
	if _, ok := start.(starlark.String); ok {
		return nil, fmt.Errorf("sum: can't sum strings, use ''.join(seq) instead")
	}
	iter := iterable.Iterate()
	defer iter.Done()

	acc := start
	var x starlark.Value
	for iter.Next(&x) {
		next, err := starlark.Binary(syntax.PLUS, acc, x)
		if err != nil {
			return nil, fmt.Errorf("sum: %w", err)
		}
		acc = next
	}
	return acc, nil
}

func divmod(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x, y starlark.Value
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &x, &y); err != nil {
		return nil, err
	}
	q, err := starlark.Binary(syntax.SLASHSLASH, x, y)
	if err != nil {
		return nil, fmt.Errorf("divmod: %w", err)
	}
	r, err := starlark.Binary(syntax.PERCENT, x, y)
	if err != nil {
		return nil, fmt.Errorf("divmod: %w", err)
	}
	return starlark.Tuple{q, r}, nil
}

// pow(base, exp, mod=None)
func pow(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var base, exp, mod starlark.Value = nil, nil, starlark.None
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &base, &exp, &mod); err != nil {
		return nil, err
	}

	bi, baseIsInt := base.(starlark.Int)
	ei, expIsInt := exp.(starlark.Int)
	if mod != starlark.None {
		mi, ok := mod.(starlark.Int)
		if !baseIsInt || !expIsInt || !ok {
			return nil, fmt.Errorf("pow: 3-argument form requires all arguments to be int")
		}
		if mi.Sign() == 0 {
			return nil, fmt.Errorf("pow: modulus must not be zero")
		}
		if ei.Sign() < 0 {
			return nil, fmt.Errorf("pow: exponent must not be negative with a modulus")
		}
		m := mi.BigInt()
		r := new(big.Int).Exp(bi.BigInt(), ei.BigInt(), new(big.Int).Abs(m))
		// Result takes the sign of the modulus.
		if r.Sign() != 0 && m.Sign() < 0 {
			r.Add(r, m)
		}
		return starlark.MakeBigInt(r), nil
	}

	if baseIsInt && expIsInt && ei.Sign() >= 0 {
		return starlark.MakeBigInt(new(big.Int).Exp(bi.BigInt(), ei.BigInt(), nil)), nil
	}

	b, ok := starlark.AsFloat(base)
	if !ok {
		return nil, fmt.Errorf("pow: unsupported base type %s", base.Type())
	}
	e, ok := starlark.AsFloat(exp)
	if !ok {
		return nil, fmt.Errorf("pow: unsupported exponent type %s", exp.Type())
	}
	if b == 0 && e < 0 {
		return nil, fmt.Errorf("pow: zero to a negative power")
	}
	res := math.Pow(b, e)
	if math.IsNaN(res) {
		return nil, fmt.Errorf("pow: result is not a real number")
	}
	return starlark.Float(res), nil
}

// round(number, ndigits=None) rounds half to even.
func round(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	var ndigits starlark.Value = starlark.None
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &x, &ndigits); err != nil {
		return nil, err
	}

	switch x := x.(type) {
	case starlark.Int:
		return x, nil
	case starlark.Float:
		f := float64(x)
		if ndigits == starlark.None {
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, fmt.Errorf("round: cannot convert %v to int", f)
			}
			return starlark.NumberToInt(starlark.Float(math.RoundToEven(f)))
		}
		n, err := starlark.AsInt32(ndigits)
		if err != nil {
			return nil, fmt.Errorf("round: %w", err)
		}
		scale := math.Pow(10, float64(n))
		return starlark.Float(math.RoundToEven(f*scale) / scale), nil
	default:
		return nil, fmt.Errorf("round: got %s, want int or float", x.Type())
	}
}

func radix(name string, base int, prefix string) builtinFunc {
	return func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var x starlark.Int
		if err := starlark.UnpackPositionalArgs(name, args, kwargs, 1, &x); err != nil {
			return nil, err
		}
		v := x.BigInt()
		if v.Sign() < 0 {
			return starlark.String("-" + prefix + new(big.Int).Neg(v).Text(base)), nil
		}
		return starlark.String(prefix + v.Text(base)), nil
	}
}

// map(function, iterable, ...) returns a list, stopping at the shortest iterable.
func mapFn(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("map: unexpected keyword arguments")
	}
	if len(args) < 2 {
		return nil, fmt.Errorf("map: got %d arguments, want at least 2", len(args))
	}
	callable, ok := args[0].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("map: %s is not callable", args[0].Type())
	}

	iters := make([]starlark.Iterator, 0, len(args)-1)
	defer func() {
		for _, it := range iters {
			it.Done()
		}
	}()
	for _, a := range args[1:] {
		it := starlark.Iterate(a)
		if it == nil {
			return nil, fmt.Errorf("map: %s is not iterable", a.Type())
		}
		iters = append(iters, it)
	}

	var out []starlark.Value
	for {
		call := make(starlark.Tuple, len(iters))
		for i, it := range iters {
			if !it.Next(&call[i]) {
				return starlark.NewList(out), nil
			}
		}
		v, err := starlark.Call(thread, callable, call, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
}

// filter(function or None, iterable) returns a list.
func filter(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pred, iterable starlark.Value
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &pred, &iterable); err != nil {
		return nil, err
	}
	iter := starlark.Iterate(iterable)
	if iter == nil {
		return nil, fmt.Errorf("filter: %s is not iterable", iterable.Type())
	}
	defer iter.Done()

	var out []starlark.Value
	var x starlark.Value
	for iter.Next(&x) {
		keep := x.Truth()
		if pred != starlark.None {
			v, err := starlark.Call(thread, pred, starlark.Tuple{x}, nil)
			if err != nil {
				return nil, err
			}
			keep = v.Truth()
		}
		if keep {
			out = append(out, x)
		}
	}
	return starlark.NewList(out), nil
}
