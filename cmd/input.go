package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/funnel-agent/internal/model"
)

// readInput reads a JSON document from path, or from stdin when path is
// empty or "-". The content is not validated here; the orchestrator
// rejects malformed payloads.
func readInput(path string, stdin io.Reader) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		if stdin == nil {
			return nil, eris.New("stdin is not available")
		}
		data, err = io.ReadAll(stdin)
		if err != nil {
			return nil, eris.Wrap(err, "read stdin")
		}
	} else {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "read %s", path)
		}
	}
	return json.RawMessage(bytes.TrimSpace(data)), nil
}

// stepDocument is the file layout for step optimization in batch mode.
type stepDocument struct {
	Step    json.RawMessage `json:"step"`
	Context json.RawMessage `json:"context,omitempty"`
}

// buildRequest turns a raw input document into a request of the given kind.
// Funnel analysis takes the document as the funnel; step optimization
// expects a {"step": ..., "context": ...} document.
func buildRequest(kind model.RequestKind, doc json.RawMessage) (model.AnalysisRequest, error) {
	if kind != model.KindStepOptimization {
		return model.NewAnalysisRequest(kind, doc, nil), nil
	}
	var sd stepDocument
	if err := json.Unmarshal(doc, &sd); err != nil {
		return model.AnalysisRequest{}, eris.Wrap(err, "parse step document")
	}
	return model.NewAnalysisRequest(kind, sd.Step, sd.Context), nil
}

// writeResult prints a result as indented JSON.
func writeResult(w io.Writer, res model.AnalysisResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(res), "write result")
}
