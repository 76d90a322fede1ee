package validators

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

const (
	maxCallbackBody = 1 << 20
	maxMultipartMem = 1 << 20
)

// ParseCallbackFields flattens a gateway callback into string fields. Query parameters are read first
// and body fields override them. Form, multipart and JSON bodies are supported; unknown content types
// contribute nothing.
func ParseCallbackFields(r *http.Request) (map[string]string, error) {
	fields := map[string]string{}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			fields[key] = values[0]
		}
	}
	if r.Method != http.MethodPost || r.Body == nil {
		return fields, nil
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = ""
	}
	switch mediaType {
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return fields, fmt.Errorf("parse callback form: %w", err)
		}
		mergeValues(fields, r.PostForm)
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxMultipartMem); err != nil {
			return fields, fmt.Errorf("parse callback multipart: %w", err)
		}
		if r.MultipartForm != nil {
			mergeValues(fields, r.MultipartForm.Value)
		}
	case "application/json":
		body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
		if err != nil {
			return fields, fmt.Errorf("read callback body: %w", err)
		}
		var obj map[string]any
		if len(strings.TrimSpace(string(body))) > 0 {
			if err := json.Unmarshal(body, &obj); err != nil {
				return fields, fmt.Errorf("decode callback json: %w", err)
			}
		}
		for key, value := range obj {
			fields[key] = jsonText(value)
		}
	}
	return fields, nil
}

func mergeValues(dst map[string]string, src map[string][]string) {
	for key, values := range src {
		if len(values) > 0 {
			dst[key] = values[0]
		}
	}
}

func jsonText(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool, float64:
		return fmt.Sprint(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
