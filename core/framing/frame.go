package framing

import (
	"encoding/json"
	"fmt"
)

// frame is the subset of a streamed generation response the decoder reads.
type frame struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *frameError `json:"error,omitempty"`
}

type frameError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (e frameError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("upstream error %d (%s): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("upstream error %d: %s", e.Code, e.Message)
}

// extractText returns the text of the first part of the first candidate.
// Frames without it (metadata-only frames, empty parts) report false.
func extractText(raw []byte) (string, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", fmt.Errorf("failed to parse frame: %w", err)
	}
	if f.Error != nil {
		return "", *f.Error
	}
	if len(f.Candidates) == 0 || len(f.Candidates[0].Content.Parts) == 0 {
		return "", nil
	}
	return f.Candidates[0].Content.Parts[0].Text, nil
}
