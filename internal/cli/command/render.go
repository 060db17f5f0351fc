package command

import (
	"encoding/json"
	"fmt"
	"io"

	"codexec/internal/sandbox/outcome"
)

// Render writes a record for a human. With raw set the record is printed as
// JSON, indented when pretty is set.
func Render(w io.Writer, resp outcome.Response, raw, pretty bool) error {
	if raw {
		var data []byte
		var err error
		if pretty {
			data, err = json.MarshalIndent(resp, "", "  ")
		} else {
			data, err = json.Marshal(resp)
		}
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	if resp.Status == outcome.StatusSuccess {
		result := []byte(resp.Result)
		if pretty {
			var v interface{}
			if err := json.Unmarshal(resp.Result, &v); err == nil {
				if indented, err := json.MarshalIndent(v, "", "  "); err == nil {
					result = indented
				}
			}
		}
		_, err := fmt.Fprintf(w, "%s\n", result)
		return err
	}

	label := "error"
	if resp.Category != "" {
		label = fmt.Sprintf("error [%s]", resp.Category)
	}
	if _, err := fmt.Fprintf(w, "%s: %s\n", label, resp.Error); err != nil {
		return err
	}
	if resp.Trace != "" {
		if _, err := fmt.Fprintf(w, "%s\n", resp.Trace); err != nil {
			return err
		}
	}
	return nil
}

// Failed reports whether a record describes a failure.
func Failed(resp outcome.Response) bool {
	return resp.Status != outcome.StatusSuccess
}
