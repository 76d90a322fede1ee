package validators

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
)

type sampleBody struct {
	Installments int          `json:"installments" validate:"gte=1,lte=12"`
	Method       string       `json:"method" validate:"required,oneof=card"`
	Lines        []sampleLine `json:"lines,omitempty" validate:"dive"`
}

type sampleLine struct {
	Quantity int `json:"quantity" validate:"gte=1"`
}

func TestDecodeJSONBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"installments":3,"method":"card"}`))
	var body sampleBody
	if err := DecodeJSONBody(req, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Installments != 3 {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestDecodeJSONBodyErrors(t *testing.T) {
	for name, raw := range map[string]string{
		"unknown field": `{"installments":1,"method":"card","extra":true}`,
		"bad json":      `{`,
		"out of range":  `{"installments":13,"method":"card"}`,
		"bad enum":      `{"installments":1,"method":"wire"}`,
		"trailing data": `{"installments":1,"method":"card"}{}`,
		"empty":         ``,
		"wrong type":    `{"installments":"three","method":"card"}`,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(raw))
			var body sampleBody
			err := DecodeJSONBody(req, &body)
			typed := pkgerrors.As(err)
			if typed == nil || typed.Code() != pkgerrors.CodeValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestDecodeJSONBodyDetails(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"installments":0,"method":"card","lines":[{"quantity":1},{"quantity":0}]}`))
	var body sampleBody
	typed := pkgerrors.As(DecodeJSONBody(req, &body))
	if typed == nil {
		t.Fatalf("expected typed error")
	}
	details, ok := typed.Details().(map[string]string)
	if !ok {
		t.Fatalf("unexpected details %T", typed.Details())
	}
	if details["installments"] != "must be >= 1" || details["lines[1].quantity"] != "must be >= 1" {
		t.Fatalf("unexpected details %v", details)
	}
}

func TestDecodeJSONBodyTooLarge(t *testing.T) {
	raw := `{"installments":1,"method":"card","pad":"` + strings.Repeat("x", MaxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(raw))
	var body sampleBody
	typed := pkgerrors.As(DecodeJSONBody(req, &body))
	if typed == nil || typed.Code() != pkgerrors.CodeValidation || typed.Message() != "request body too large" {
		t.Fatalf("expected size error, got %v", typed)
	}
}

func TestParseCallbackFieldsForm(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/3d-return?intentId=abc&isSuccessful=true",
		strings.NewReader("isSuccessful=False&resultCode=PaymentDealer.Failed&trxCode=T1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	fields, err := ParseCallbackFields(req)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fields["intentId"] != "abc" || fields["isSuccessful"] != "False" || fields["trxCode"] != "T1" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestParseCallbackFieldsJSONAndMultipart(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"isSuccessful":true,"bankResultCode":0,"extra":{"a":1}}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	fields, err := ParseCallbackFields(req)
	if err != nil {
		t.Fatalf("parse json: %v", err)
	}
	if fields["isSuccessful"] != "true" || fields["bankResultCode"] != "0" || fields["extra"] != `{"a":1}` {
		t.Fatalf("unexpected json fields %v", fields)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("resultCode", "Success")
	_ = mw.Close()
	req = httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	fields, err = ParseCallbackFields(req)
	if err != nil {
		t.Fatalf("parse multipart: %v", err)
	}
	if fields["resultCode"] != "Success" {
		t.Fatalf("unexpected multipart fields %v", fields)
	}
}

func TestParseCallbackFieldsGetUsesQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?intentId=xyz", nil)
	fields, err := ParseCallbackFields(req)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fields["intentId"] != "xyz" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestParseUUIDParam(t *testing.T) {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("intentID", "not-a-uuid")
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	if _, err := ParseUUIDParam(req, "intentID"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseQueryIntAndClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=500", nil)
	if _, err := ParseQueryInt(req, "limit", 50, 1, 200); err == nil {
		t.Fatalf("expected range error")
	}
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	if v, err := ParseQueryInt(req, "limit", 50, 1, 200); err != nil || v != 50 {
		t.Fatalf("expected default, got %d %v", v, err)
	}

	req.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")
	if ip := ClientIP(req); ip != "203.0.113.9" {
		t.Fatalf("unexpected ip %s", ip)
	}
	req.Header.Set("X-Forwarded-For", "unknown, 198.51.100.77")
	if ip := ClientIP(req); ip != "198.51.100.77" {
		t.Fatalf("expected malformed hop to be skipped, got %s", ip)
	}
	req.Header.Del("X-Forwarded-For")
	req.RemoteAddr = "198.51.100.4:5555"
	if ip := ClientIP(req); ip != "198.51.100.4" {
		t.Fatalf("unexpected ip %s", ip)
	}
}
