package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Params holds parsed snippet parameters.
type Params map[string]interface{}

// ParseAssignment parses key=value. The value is read as JSON when it is
// valid JSON, so x=10 is a number and names=["a","b"] is a list; anything
// else is taken as a plain string.
func ParseAssignment(token string) (string, interface{}, error) {
	key, raw, ok := strings.Cut(token, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", nil, fmt.Errorf("invalid param %q, expected key=value", token)
	}
	return key, parseValue(raw), nil
}

func parseValue(raw string) interface{} {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return raw
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil || dec.More() {
		return raw
	}
	return v
}

// ParseAssignments parses every token into p.
func (p Params) ParseAssignments(tokens []string) error {
	for _, token := range tokens {
		key, value, err := ParseAssignment(token)
		if err != nil {
			return err
		}
		p[key] = value
	}
	return nil
}

// LoadFile merges a JSON object file into p.
func (p Params) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read params file failed: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return fmt.Errorf("params file must hold a JSON object: %w", err)
	}
	for k, v := range obj {
		p[k] = v
	}
	return nil
}

// Clone returns a shallow copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file failed: %w", err)
	}
	return string(data), nil
}
