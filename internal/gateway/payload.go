package gateway

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
)

var threeDTrxCodePattern = regexp.MustCompile(`threeDTrxCode=([^&]+)`)

// ThreeDPayload is the single redirect contract handed to the client for the 3-D Secure challenge.
type ThreeDPayload struct {
	RedirectURL string            `json:"redirectUrl,omitempty"`
	FormAction  string            `json:"formAction,omitempty"`
	FormFields  map[string]string `json:"formFields,omitempty"`
	HTML        string            `json:"html,omitempty"`
}

// Empty reports whether no rendering hint is present.
func (p ThreeDPayload) Empty() bool {
	return p.RedirectURL == "" && p.FormAction == "" && len(p.FormFields) == 0 && p.HTML == ""
}

// NormalizeThreeDData converts the gateway Data field (string or object) into a ThreeDPayload.
// The second return value is the gateway transaction code embedded in a redirect URL, if any.
func NormalizeThreeDData(data json.RawMessage) (ThreeDPayload, string, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return ThreeDPayload{}, "", invalidPayloadError()
	}

	var payload ThreeDPayload
	var trxCode string

	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return ThreeDPayload{}, "", pkgerrors.Wrap(pkgerrors.CodeGatewayProtocol, err, invalidPayloadMessage)
		}
		text = strings.TrimSpace(text)
		if strings.HasPrefix(text, "<") {
			payload.HTML = text
		} else {
			payload.RedirectURL = text
		}
		trxCode = extractThreeDTrxCode(text)
	case '{':
		var obj map[string]any
		if err := json.Unmarshal(data, &obj); err != nil {
			return ThreeDPayload{}, "", pkgerrors.Wrap(pkgerrors.CodeGatewayProtocol, err, invalidPayloadMessage)
		}
		payload.RedirectURL = firstText(obj, "Url", "RedirectUrl", "url", "redirectUrl")
		payload.FormAction = firstText(obj, "FormAction", "formAction")
		payload.HTML = firstText(obj, "Html", "html")
		payload.FormFields = formFields(obj, "FormFields", "formFields")
		trxCode = firstText(obj, "ThreeDTrxCode", "threeDTrxCode")
		if trxCode == "" {
			trxCode = extractThreeDTrxCode(payload.RedirectURL)
		}
	default:
		return ThreeDPayload{}, "", invalidPayloadError()
	}

	if payload.Empty() {
		return ThreeDPayload{}, "", invalidPayloadError()
	}
	return payload, trxCode, nil
}

const invalidPayloadMessage = "invalid 3DS payload"

func invalidPayloadError() error {
	return pkgerrors.New(pkgerrors.CodeGatewayProtocol, invalidPayloadMessage)
}

func extractThreeDTrxCode(text string) string {
	match := threeDTrxCodePattern.FindStringSubmatch(text)
	if len(match) < 2 {
		return ""
	}
	if decoded, err := url.QueryUnescape(match[1]); err == nil {
		return decoded
	}
	return match[1]
}

func firstText(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if text := asText(obj[key]); text != "" {
			return text
		}
	}
	return ""
}

func formFields(obj map[string]any, keys ...string) map[string]string {
	for _, key := range keys {
		raw, ok := obj[key].(map[string]any)
		if !ok || len(raw) == 0 {
			continue
		}
		fields := make(map[string]string, len(raw))
		for name, value := range raw {
			fields[name] = asText(value)
		}
		return fields
	}
	return nil
}
