package orchestrator

import "encoding/json"

func renderStatusJSON(status Status) ([]byte, error) {
	return json.MarshalIndent(status, "", "  ")
}
