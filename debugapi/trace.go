package debugapi

import (
	"encoding/hex"
	"encoding/json"
	"strings"
)

// ExecutionResult is the default (struct logger) result of debug_traceTransaction.
type ExecutionResult struct {
	Gas         uint64      `json:"gas"`
	Failed      bool        `json:"failed"`
	ReturnValue string      `json:"returnValue"`
	StructLogs  []StructLog `json:"structLogs"`
}

// StructLog is a single execution step.
type StructLog struct {
	Pc      uint64            `json:"pc"`
	Op      string            `json:"op"`
	Gas     uint64            `json:"gas"`
	GasCost uint64            `json:"gasCost"`
	Depth   int               `json:"depth"`
	Error   json.RawMessage   `json:"error,omitempty"`
	Stack   []string          `json:"stack,omitempty"`
	Memory  []string          `json:"memory,omitempty"`
	Storage map[string]string `json:"storage,omitempty"`
}

// LastStep returns the final execution step, if any.
func (r *ExecutionResult) LastStep() (StructLog, bool) {
	if len(r.StructLogs) == 0 {
		return StructLog{}, false
	}
	return r.StructLogs[len(r.StructLogs)-1], true
}

// ReturnData decodes ReturnValue. Nodes differ on the encoding: older geth
// versions print bare hex, newer ones use a 0x prefix.
func (r *ExecutionResult) ReturnData() ([]byte, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(r.ReturnValue, "0x"), "0X")
	return hex.DecodeString(s)
}

// decodeResult unmarshals a callback result into v. Results coming from a
// provider are raw JSON; values produced by injected methods are re-encoded first.
func decodeResult(result interface{}, v interface{}) error {
	var data []byte
	switch r := result.(type) {
	case json.RawMessage:
		data = r
	case []byte:
		data = r
	default:
		enc, err := json.Marshal(result)
		if err != nil {
			return err
		}
		data = enc
	}
	return json.Unmarshal(data, v)
}
