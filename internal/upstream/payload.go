package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// payload is the authentication response body after envelope unwrapping.
type payload struct {
	Token               string            `json:"token"`
	UserName            string            `json:"userName"`
	FullName            string            `json:"fullName"`
	UserEmail           string            `json:"userEmail"`
	UserSystemID        flexID            `json:"userSystemId"`
	URLsLookup          map[string]string `json:"urlsLookup"`
	Region              string            `json:"region"`
	PortalDefaultURL    string            `json:"portalDefaultUrl"`
	UserSpecialities    []string          `json:"userSpecialities"`
	UserSystemRoleTypes []string          `json:"userSystemRoleTypes"`
}

// flexID tolerates the upstream sending its user id as either a JSON number
// or a string.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("userSystemId is neither string nor number: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

// extractPayload unwraps the upstream response envelope. The real payload may
// be nested under a "data" field; when it is not, the whole body is the
// payload. Pure function, no network access.
func extractPayload(body []byte) (payload, error) {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return payload{}, fmt.Errorf("decode auth response: %w", err)
	}

	raw := body
	if isObject(envelope.Data) {
		raw = envelope.Data
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return payload{}, fmt.Errorf("decode auth payload: %w", err)
	}
	return p, nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
