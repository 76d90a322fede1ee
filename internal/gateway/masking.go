package gateway

import (
	"bytes"
	"encoding/json"
)

var maskedRequestFields = map[string]string{
	"CardNumber":         "****MASKED****",
	"CvcNumber":          "***",
	"CardHolderFullName": "***MASKED***",
	"CardToken":          "***MASKED***",
}

var maskedAuthFields = []string{"Username", "Password", "CheckKey"}

// MaskRequest strips card data and dealer secrets from an encoded gateway request.
// Input that is not a JSON object is replaced wholesale so nothing sensitive leaks.
func MaskRequest(encoded []byte) json.RawMessage {
	var doc map[string]any
	decoder := json.NewDecoder(bytes.NewReader(encoded))
	decoder.UseNumber()
	if err := decoder.Decode(&doc); err != nil {
		return json.RawMessage(`{"masked":true}`)
	}

	if auth, ok := doc["PaymentDealerAuthentication"].(map[string]any); ok {
		for _, field := range maskedAuthFields {
			if _, present := auth[field]; present {
				auth[field] = "masked"
			}
		}
	}
	if req, ok := doc["PaymentDealerRequest"].(map[string]any); ok {
		for field, replacement := range maskedRequestFields {
			if _, present := req[field]; present {
				req[field] = replacement
			}
		}
	}

	masked, err := json.Marshal(doc)
	if err != nil {
		return json.RawMessage(`{"masked":true}`)
	}
	return masked
}
