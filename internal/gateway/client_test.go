package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/paycore/pkg/config"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func testConfig() config.GatewayConfig {
	return config.GatewayConfig{
		BaseURL:      "http://gateway.test",
		DealerCode:   "1234",
		Username:     "api-user",
		Password:     "api-pass",
		Software:     "paycore",
		IntegratorID: 1,
		Timeout:      time.Second,
	}
}

func newTestClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	client, err := NewClient(testConfig(), WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func sampleThreeDRequest() ThreeDRequest {
	return ThreeDRequest{
		IntentID:     "4f5c8a2e-1b3d-4c6e-9f7a-0b1c2d3e4f50",
		AmountCents:  12345,
		Installments: 3,
		RedirectURL:  "https://api.example.com/api/v1/payments/3d-return",
		UIOrigin:     "https://shop.example.com",
		ClientIP:     "10.1.2.3",
		Description:  "Online payment",
		Card: Card{
			HolderName: "Ada Lovelace",
			Number:     "4111 1111 1111 1111",
			ExpMonth:   "07",
			ExpYear:    "2029",
			CVC:        "1 23",
		},
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.Password = ""
	if _, err := NewClient(cfg); err == nil {
		t.Fatal("expected missing credentials to fail")
	}
}

func TestCheckKey(t *testing.T) {
	// sha256("1234MKapi-userPDapi-pass")
	got := CheckKey("1234", "api-user", "api-pass")
	if len(got) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(got))
	}
	if got != CheckKey("1234", "api-user", "api-pass") {
		t.Fatal("check key must be deterministic")
	}
	if got == CheckKey("1234", "api-user", "other") {
		t.Fatal("check key must depend on password")
	}
}

func TestInitThreeDSendsDealerRequest(t *testing.T) {
	var captured map[string]map[string]any
	var capturedPath string

	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		capturedPath = req.URL.Path
		body, _ := io.ReadAll(req.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Fatalf("unmarshal request: %v", err)
		}
		return jsonResponse(http.StatusOK, `{"ResultCode":"Success","ResultMessage":"","Data":"https://acs.bank.test/challenge?threeDTrxCode=TRX-998&x=1"}`), nil
	})

	result, err := client.InitThreeD(context.Background(), sampleThreeDRequest())
	if err != nil {
		t.Fatalf("InitThreeD: %v", err)
	}

	if capturedPath != "/PaymentDealer/DoDirectPaymentThreeD" {
		t.Fatalf("unexpected path %s", capturedPath)
	}
	auth := captured["PaymentDealerAuthentication"]
	if auth["CheckKey"] != CheckKey("1234", "api-user", "api-pass") {
		t.Fatalf("unexpected check key %v", auth["CheckKey"])
	}
	dealer := captured["PaymentDealerRequest"]
	if dealer["Amount"] != 123.45 {
		t.Fatalf("expected amount 123.45, got %v", dealer["Amount"])
	}
	if dealer["Currency"] != "TL" || dealer["InstallmentNumber"] != float64(3) {
		t.Fatalf("unexpected currency/installments %v/%v", dealer["Currency"], dealer["InstallmentNumber"])
	}
	if dealer["OtherTrxCode"] != "4f5c8a2e1b3d4c6e9f7a" {
		t.Fatalf("unexpected other trx code %v", dealer["OtherTrxCode"])
	}
	if dealer["CardNumber"] != "4111111111111111" || dealer["CvcNumber"] != "123" {
		t.Fatalf("card fields not normalized: %v %v", dealer["CardNumber"], dealer["CvcNumber"])
	}
	if dealer["CardHolderFullName"] != "ADA LOVELACE" {
		t.Fatalf("unexpected holder %v", dealer["CardHolderFullName"])
	}
	redirect, err := url.Parse(dealer["RedirectUrl"].(string))
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	if redirect.Query().Get("intentId") != "4f5c8a2e-1b3d-4c6e-9f7a-0b1c2d3e4f50" || redirect.Query().Get("uiOrigin") != "https://shop.example.com" {
		t.Fatalf("unexpected redirect query %s", redirect.RawQuery)
	}

	if result.TrxCode != "TRX-998" {
		t.Fatalf("expected trx code TRX-998, got %q", result.TrxCode)
	}
	if result.Payload.RedirectURL == "" {
		t.Fatal("expected redirect payload")
	}
	if strings.Contains(string(result.Exchange.Request), "4111111111111111") || strings.Contains(string(result.Exchange.Request), "api-pass") {
		t.Fatalf("request log leaked secrets: %s", result.Exchange.Request)
	}
}

func TestInitThreeDWithTokenOmitsCardFields(t *testing.T) {
	var dealer map[string]any
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		var body map[string]map[string]any
		raw, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(raw, &body)
		dealer = body["PaymentDealerRequest"]
		return jsonResponse(http.StatusOK, `{"ResultCode":"Success","Data":{"Html":"<form></form>"}}`), nil
	})

	req := sampleThreeDRequest()
	req.Card = Card{Token: "tok_123"}
	req.ClientIP = ""
	result, err := client.InitThreeD(context.Background(), req)
	if err != nil {
		t.Fatalf("InitThreeD: %v", err)
	}
	if dealer["CardToken"] != "tok_123" {
		t.Fatalf("expected token, got %v", dealer["CardToken"])
	}
	if _, ok := dealer["CardNumber"]; ok {
		t.Fatal("card number must be omitted in token mode")
	}
	if dealer["ClientIP"] != "127.0.0.1" {
		t.Fatalf("expected default client ip, got %v", dealer["ClientIP"])
	}
	if result.Payload.HTML != "<form></form>" {
		t.Fatalf("unexpected payload %+v", result.Payload)
	}
}

func TestInitThreeDDeclineSurfacesProviderMessage(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"ResultCode":"PaymentDealer.DoDirectPayment3dRequest.InvalidCard","ResultMessage":"Kart gecersiz","Data":null}`), nil
	})

	result, err := client.InitThreeD(context.Background(), sampleThreeDRequest())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeDeclined {
		t.Fatalf("expected declined error, got %v", err)
	}
	if typed.Message() != "Kart gecersiz" {
		t.Fatalf("expected provider message, got %q", typed.Message())
	}
	if result == nil || len(result.Exchange.Response) == 0 {
		t.Fatal("expected exchange to be captured for the transaction log")
	}
}

func TestInitThreeDInvalidPayloadIsProtocolError(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "unrelated object", data: `{"Unrelated":"x"}`},
		{name: "empty object", data: `{}`},
		{name: "empty string", data: `""`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusOK, `{"ResultCode":"Success","Data":`+tt.data+`}`), nil
			})

			_, err := client.InitThreeD(context.Background(), sampleThreeDRequest())
			typed := pkgerrors.As(err)
			if typed == nil || typed.Code() != pkgerrors.CodeGatewayProtocol {
				t.Fatalf("expected protocol error, got %v", err)
			}
			if typed.Message() != "invalid 3DS payload" {
				t.Fatalf("unexpected message %q", typed.Message())
			}
		})
	}
}

func TestInitThreeDSuccessWithoutDataIsDecline(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"ResultCode":"Success"}`), nil
	})

	_, err := client.InitThreeD(context.Background(), sampleThreeDRequest())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeDeclined {
		t.Fatalf("expected declined error, got %v", err)
	}
	if typed.Message() != "3D gateway failure" {
		t.Fatalf("unexpected message %q", typed.Message())
	}
}

func TestInitThreeDTransportFailure(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection reset")
	})

	result, err := client.InitThreeD(context.Background(), sampleThreeDRequest())
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeGatewayProtocol {
		t.Fatalf("expected protocol error, got %v", err)
	}
	if result == nil || len(result.Exchange.Request) == 0 {
		t.Fatal("expected masked request to be captured")
	}
}

func TestInitThreeDNonJSONResponse(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusBadGateway, `<html>bad gateway</html>`), nil
	})

	result, err := client.InitThreeD(context.Background(), sampleThreeDRequest())
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeGatewayProtocol {
		t.Fatalf("expected protocol error, got %v", err)
	}
	if result.Exchange.ResultCode != "JSON_ERROR" {
		t.Fatalf("expected JSON_ERROR result code, got %q", result.Exchange.ResultCode)
	}
}

func TestListPaymentsFormatsWindow(t *testing.T) {
	var dealer map[string]any
	var host string
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		host = req.URL.Host
		var body map[string]map[string]any
		raw, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(raw, &body)
		dealer = body["PaymentDealerRequest"]
		return jsonResponse(http.StatusOK, `{"ResultCode":"Success","Data":{"PaymentList":[{"TrxCode":"T1","OtherTrxCode":"abc","Amount":"12,50"}]}}`), nil
	})

	start := time.Date(2026, 10, 1, 8, 30, 45, 0, time.FixedZone("TRT", 3*3600))
	page, err := client.ListPayments(context.Background(), ListPaymentsRequest{
		BaseURL: "http://prod.test",
		Start:   start,
		End:     start.Add(30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("ListPayments: %v", err)
	}
	if host != "prod.test" {
		t.Fatalf("expected base url override, got host %s", host)
	}
	if dealer["PaymentStartDate"] != "2026-10-01 05:30" || dealer["PaymentEndDate"] != "2026-10-01 06:00" {
		t.Fatalf("unexpected window %v - %v", dealer["PaymentStartDate"], dealer["PaymentEndDate"])
	}
	if !page.OK() || !page.Healthy() {
		t.Fatal("expected ok page")
	}
	if len(page.Records) != 1 || page.Records[0].AmountCents != 1250 {
		t.Fatalf("unexpected records %+v", page.Records)
	}
}

func TestListPaymentsNoData(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"ResultCode":"PaymentDealer.GetPaymentList.NoDataFound","Data":null}`), nil
	})

	page, err := client.ListPayments(context.Background(), ListPaymentsRequest{Start: time.Now().Add(-time.Hour), End: time.Now()})
	if err != nil {
		t.Fatalf("ListPayments: %v", err)
	}
	if page.OK() {
		t.Fatal("no-data page must not be OK")
	}
	if !page.NoData() || !page.Healthy() {
		t.Fatal("no-data page must be healthy")
	}
	if len(page.Records) != 0 {
		t.Fatalf("expected no records, got %d", len(page.Records))
	}
}

func TestVoidConfirmation(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		confirmed bool
	}{
		{name: "is successful", body: `{"ResultCode":"Success","Data":{"IsSuccessful":true}}`, confirmed: true},
		{name: "bank code 00", body: `{"ResultCode":"Success","Data":{"IsSuccessful":false,"ResultCode":"00"}}`, confirmed: true},
		{name: "pending", body: `{"ResultCode":"Success","Data":{"IsSuccessful":false,"ResultCode":"05"}}`, confirmed: false},
		{name: "rejected", body: `{"ResultCode":"PaymentDealer.DoVoid.VoidNotAllowed","Data":null}`, confirmed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dealer map[string]any
			client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
				var body map[string]map[string]any
				raw, _ := io.ReadAll(req.Body)
				_ = json.Unmarshal(raw, &body)
				dealer = body["PaymentDealerRequest"]
				return jsonResponse(http.StatusOK, tt.body), nil
			})
			result, err := client.Void(context.Background(), VoidRequest{VirtualPosOrderID: "VP-1", ClientIP: "1.1.1.1"})
			if err != nil {
				t.Fatalf("Void: %v", err)
			}
			if result.Confirmed != tt.confirmed {
				t.Fatalf("expected confirmed=%v", tt.confirmed)
			}
			if dealer["VoidRefundReason"] != float64(2) || dealer["VirtualPosOrderId"] != "VP-1" {
				t.Fatalf("unexpected void request %v", dealer)
			}
		})
	}
}

func TestRefundPartialAmount(t *testing.T) {
	var dealer map[string]any
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/PaymentDealer/DoCreateRefundRequest" {
			t.Fatalf("unexpected path %s", req.URL.Path)
		}
		var body map[string]map[string]any
		raw, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(raw, &body)
		dealer = body["PaymentDealerRequest"]
		return jsonResponse(http.StatusOK, `{"ResultCode":"Success","Data":{"IsSuccessful":true}}`), nil
	})

	if _, err := client.Refund(context.Background(), RefundRequest{VirtualPosOrderID: "VP-2", AmountCents: 500}); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if dealer["Amount"] != float64(5) {
		t.Fatalf("expected amount 5.00, got %v", dealer["Amount"])
	}

	if _, err := client.Refund(context.Background(), RefundRequest{VirtualPosOrderID: "VP-2"}); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if _, ok := dealer["Amount"]; ok {
		t.Fatal("full refund must omit amount")
	}
}

func TestCaptureSendsAmount(t *testing.T) {
	var dealer map[string]any
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/PaymentDealer/DoCapture" {
			t.Fatalf("unexpected path %s", req.URL.Path)
		}
		var body map[string]map[string]any
		raw, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(raw, &body)
		dealer = body["PaymentDealerRequest"]
		return jsonResponse(http.StatusOK, `{"ResultCode":"Success","Data":{"IsSuccessful":false,"ResultCode":"00"}}`), nil
	})

	result, err := client.Capture(context.Background(), CaptureRequest{VirtualPosOrderID: " VP-3 ", AmountCents: 12345})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if !result.Confirmed {
		t.Fatal("expected capture to be confirmed")
	}
	if result.Exchange.Operation != "capture" {
		t.Fatalf("unexpected operation %q", result.Exchange.Operation)
	}
	if dealer["VirtualPosOrderId"] != "VP-3" || dealer["Amount"] != 123.45 {
		t.Fatalf("unexpected capture request %v", dealer)
	}
}
