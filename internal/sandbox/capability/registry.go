// Package capability builds the restricted set of names a snippet can reach.
//
// The registry is assembled once at package init and frozen. Names that are
// not in the registry cannot be resolved by a snippet, including members of
// the interpreter's own universe that are left out on purpose.
package capability

import (
	"sort"

	"go.starlark.net/starlark"
)

// universeAllowed are the interpreter built-ins exposed to snippets.
// getattr, hasattr, dir and fail are left out.
var universeAllowed = []string{
	"None", "True", "False",
	"abs", "all", "any", "bool", "bytes", "chr", "dict", "enumerate",
	"float", "hash", "int", "len", "list", "max", "min", "ord", "print",
	"range", "repr", "reversed", "set", "sorted", "str", "tuple", "type", "zip",
}

var registry starlark.StringDict

func init() {
	registry = make(starlark.StringDict, len(universeAllowed)+len(extraBuiltins))
	for _, name := range universeAllowed {
		v, ok := starlark.Universe[name]
		if !ok {
			panic("capability: universe lacks " + name)
		}
		registry[name] = v
	}
	for name, fn := range extraBuiltins {
		registry[name] = starlark.NewBuiltin(name, fn)
	}
	registry.Freeze()
}

// Allowed reports whether name is part of the registry.
func Allowed(name string) bool {
	_, ok := registry[name]
	return ok
}

// Names returns the registry names in sorted order.
func Names() []string {
	return registry.Keys()
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
