package engine

import (
	"bytes"
	"encoding/json"
	"io"

	"codexec/internal/sandbox/limits"
	"codexec/internal/sandbox/security"
)

// InitRequest is written as one JSON document to the helper's stdin.
type InitRequest struct {
	ExecutionID    string                    `json:"executionId"`
	Code           string                    `json:"code"`
	Params         json.RawMessage           `json:"params"`
	Limits         limits.ResourceLimits     `json:"limits"`
	Isolation      security.IsolationProfile `json:"isolation"`
	MaxResultBytes int                       `json:"maxResultBytes"`
	EnableSeccomp  bool                      `json:"enableSeccomp"`
	EnableNs       bool                      `json:"enableNs"`
}

// MaxInitRequestBytes caps what the helper reads from stdin.
const MaxInitRequestBytes = 8 << 20

// DecodeInitRequest reads a request, keeping params raw.
func DecodeInitRequest(r io.Reader) (InitRequest, error) {
	var req InitRequest
	dec := json.NewDecoder(io.LimitReader(r, MaxInitRequestBytes))
	if err := dec.Decode(&req); err != nil {
		return InitRequest{}, err
	}
	return req, nil
}

// DecodeParams decodes the raw params with numbers kept as json.Number.
func (r InitRequest) DecodeParams() (map[string]interface{}, error) {
	params := map[string]interface{}{}
	if len(r.Params) == 0 || string(r.Params) == "null" {
		return params, nil
	}
	dec := json.NewDecoder(bytes.NewReader(r.Params))
	dec.UseNumber()
	if err := dec.Decode(&params); err != nil {
		return nil, err
	}
	return params, nil
}

func encodeRequest(req InitRequest) (io.Reader, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}
