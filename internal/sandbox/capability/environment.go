package capability

import (
	"fmt"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// FileOptions are the dialect options snippets are compiled with.
var FileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Environment holds the names visible to a single execution: the frozen
// registry plus the caller's params.
type Environment struct {
	Globals starlark.StringDict
	// Kwargs carries params in a stable order for the entry-point call.
	Kwargs []starlark.Tuple
}

// ParamError reports a param that cannot be bound into the environment.
type ParamError struct {
	Name   string
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid parameter '%s': %s", e.Name, e.Reason)
}

// BuildEnvironment returns a fresh environment for one execution.
// Params are converted to interpreter values and bound next to the registry.
func BuildEnvironment(params map[string]interface{}) (Environment, error) {
	globals := make(starlark.StringDict, len(registry)+len(params))
	for name, v := range registry {
		globals[name] = v
	}

	env := Environment{Globals: globals}
	for _, name := range sortedKeys(params) {
		if !isIdentifier(name) {
			return Environment{}, &ParamError{Name: name, Reason: "not an identifier"}
		}
		if _, ok := registry[name]; ok {
			return Environment{}, &ParamError{Name: name, Reason: "shadows a built-in name"}
		}
		v, err := FromJSON(params[name])
		if err != nil {
			return Environment{}, &ParamError{Name: name, Reason: err.Error()}
		}
		globals[name] = v
		env.Kwargs = append(env.Kwargs, starlark.Tuple{starlark.String(name), v})
	}
	return env, nil
}

// Has reports whether name is bound in the environment.
func (e Environment) Has(name string) bool {
	_, ok := e.Globals[name]
	return ok
}

// Confine parses and resolves src against the environment alone, so a use
// of any name outside it is rejected before compilation.
func (e Environment) Confine(filename, src string) error {
	f, err := FileOptions.Parse(filename, src, 0)
	if err != nil {
		return err
	}
	return resolve.File(f, e.Has, func(string) bool { return false })
}

// NewThread returns an interpreter thread with output discarded and no
// module loader installed.
func NewThread(name string) *starlark.Thread {
	return &starlark.Thread{
		Name:  name,
		Print: func(*starlark.Thread, string) {},
	}
}

func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return !syntaxKeywords[name]
}

var syntaxKeywords = map[string]bool{
	"and": true, "break": true, "continue": true, "def": true, "elif": true,
	"else": true, "for": true, "if": true, "in": true, "lambda": true,
	"load": true, "not": true, "or": true, "pass": true, "return": true, "while": true,
}
