package inference

import (
	"encoding/json"
	"strings"

	"diffgrid/internal/diffusion"
)

type startRequest struct {
	APIKey      string                `json:"apiKey"`
	ModelKey    string                `json:"modelKey"`
	StartOnly   bool                  `json:"startOnly"`
	ModelInputs diffusion.ModelInputs `json:"modelInputs"`
}

type checkRequest struct {
	APIKey   string `json:"apiKey"`
	CallID   string `json:"callId"`
	LongPoll bool   `json:"longPoll"`
}

type startResponse struct {
	Message *string `json:"message"`
	CallID  string  `json:"callID"`
}

type checkResponse struct {
	Message      *string                   `json:"message"`
	ModelOutputs *[]diffusion.ModelOutputs `json:"modelOutputs"`
}

func decodeStart(raw []byte) (message, callID string, err error) {
	var resp startResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", "", malformed("start: %v", err)
	}
	if resp.Message == nil {
		return "", "", malformed("start: missing message")
	}
	if strings.TrimSpace(resp.CallID) == "" {
		return "", "", malformed("start: missing callID")
	}
	return *resp.Message, resp.CallID, nil
}

// decodeCheck returns nil outputs while the job is still running. A present
// modelOutputs list must hold exactly one element.
func decodeCheck(raw []byte) (string, *diffusion.ModelOutputs, error) {
	var resp checkResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", nil, malformed("check: %v", err)
	}
	if resp.Message == nil {
		return "", nil, malformed("check: missing message")
	}
	if resp.ModelOutputs == nil {
		return *resp.Message, nil, nil
	}
	outputs := *resp.ModelOutputs
	if len(outputs) != 1 {
		return "", nil, malformed("check: expected exactly one modelOutputs entry, got %d", len(outputs))
	}
	return *resp.Message, &outputs[0], nil
}

// validateMessage catches errors the backend reports inside a 2xx body.
func validateMessage(message string) error {
	if strings.Contains(message, "error") {
		return &LogicalError{Message: message}
	}
	return nil
}
