package capability

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"

	"go.starlark.net/starlark"
)

const maxValueDepth = 64

// FromJSON converts a decoded JSON value into an interpreter value.
// Numbers are expected as json.Number so integers keep full precision.
func FromJSON(v interface{}) (starlark.Value, error) {
	return fromJSON(v, 0)
}

func fromJSON(v interface{}, depth int) (starlark.Value, error) {
	if depth > maxValueDepth {
		return nil, fmt.Errorf("value nesting exceeds %d levels", maxValueDepth)
	}
	switch v := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(v), nil
	case string:
		return starlark.String(v), nil
	case json.Number:
		return numberFromJSON(v)
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			return starlark.MakeInt64(int64(v)), nil
		}
		return starlark.Float(v), nil
	case int:
		return starlark.MakeInt(v), nil
	case int64:
		return starlark.MakeInt64(v), nil
	case []interface{}:
		elems := make([]starlark.Value, 0, len(v))
		for _, e := range v {
			sv, err := fromJSON(e, depth+1)
			if err != nil {
				return nil, err
			}
			elems = append(elems, sv)
		}
		return starlark.NewList(elems), nil
	case map[string]interface{}:
		d := starlark.NewDict(len(v))
		for _, k := range sortedKeys(v) {
			sv, err := fromJSON(v[k], depth+1)
			if err != nil {
				return nil, err
			}
			if err := d.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unsupported value of type %T", v)
	}
}

func numberFromJSON(n json.Number) (starlark.Value, error) {
	s := n.String()
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return starlark.MakeInt64(i), nil
	}
	if b, ok := new(big.Int).SetString(s, 10); ok {
		return starlark.MakeBigInt(b), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	return starlark.Float(f), nil
}

// ToJSON converts an interpreter value into a value encoding/json can
// marshal. Values with no JSON form are rejected.
func ToJSON(v starlark.Value) (interface{}, error) {
	return toJSON(v, 0)
}

func toJSON(v starlark.Value, depth int) (interface{}, error) {
	if depth > maxValueDepth {
		return nil, fmt.Errorf("result nesting exceeds %d levels", maxValueDepth)
	}
	switch v := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(v), nil
	case starlark.String:
		return string(v), nil
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			return i, nil
		}
		return json.Number(v.String()), nil
	case starlark.Float:
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("result contains non-finite float %v", f)
		}
		return f, nil
	case *starlark.List:
		return sequenceToJSON(v, depth)
	case starlark.Tuple:
		return sequenceToJSON(v, depth)
	case *starlark.Dict:
		out := make(map[string]interface{}, v.Len())
		for _, item := range v.Items() {
			key, err := dictKey(item[0])
			if err != nil {
				return nil, err
			}
			val, err := toJSON(item[1], depth+1)
			if err != nil {
				return nil, err
			}
			out[key] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("result of type %s is not JSON serializable", v.Type())
	}
}

func sequenceToJSON(seq starlark.Indexable, depth int) (interface{}, error) {
	out := make([]interface{}, 0, seq.Len())
	for i := 0; i < seq.Len(); i++ {
		val, err := toJSON(seq.Index(i), depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, val)
	}
	return out, nil
}

func dictKey(k starlark.Value) (string, error) {
	switch k := k.(type) {
	case starlark.String:
		return string(k), nil
	case starlark.Int, starlark.Float:
		return k.String(), nil
	case starlark.Bool:
		return strconv.FormatBool(bool(k)), nil
	case starlark.NoneType:
		return "null", nil
	default:
		return "", fmt.Errorf("dict key of type %s is not JSON serializable", k.Type())
	}
}
