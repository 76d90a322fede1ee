package gateway

import (
	"context"
	"encoding/json"
	"strings"
)

const voidRefundReasonCustomer = 2

// VoidRequest cancels a same-day payment.
type VoidRequest struct {
	VirtualPosOrderID string
	ClientIP          string
}

// RefundRequest refunds a settled payment; AmountCents zero refunds the full amount.
type RefundRequest struct {
	VirtualPosOrderID string
	ClientIP          string
	AmountCents       int64
}

// CaptureRequest settles a pre-authorized payment; AmountCents zero captures the authorized amount.
type CaptureRequest struct {
	VirtualPosOrderID string
	AmountCents       int64
}

// OperationResult is the outcome of a void, refund or capture. Confirmed means the provider reported the
// operation as completed synchronously.
type OperationResult struct {
	Exchange  Exchange
	Confirmed bool
}

type voidDealerRequest struct {
	VirtualPosOrderID string `json:"VirtualPosOrderId"`
	VoidRefundReason  int    `json:"VoidRefundReason"`
	ClientIP          string `json:"ClientIP"`
}

type refundDealerRequest struct {
	VirtualPosOrderID string      `json:"VirtualPosOrderId"`
	ClientIP          string      `json:"ClientIP"`
	Amount            json.Number `json:"Amount,omitempty"`
}

// Void asks the provider to cancel the payment.
func (c *Client) Void(ctx context.Context, req VoidRequest) (*OperationResult, error) {
	body := voidDealerRequest{
		VirtualPosOrderID: strings.TrimSpace(req.VirtualPosOrderID),
		VoidRefundReason:  voidRefundReasonCustomer,
		ClientIP:          defaultClientIP(req.ClientIP),
	}
	return c.operation(ctx, "void", pathVoid, body)
}

// Refund asks the provider to refund the payment.
func (c *Client) Refund(ctx context.Context, req RefundRequest) (*OperationResult, error) {
	body := refundDealerRequest{
		VirtualPosOrderID: strings.TrimSpace(req.VirtualPosOrderID),
		ClientIP:          defaultClientIP(req.ClientIP),
	}
	if req.AmountCents > 0 {
		body.Amount = FormatAmount(req.AmountCents)
	}
	return c.operation(ctx, "refund", pathRefund, body)
}

type captureDealerRequest struct {
	VirtualPosOrderID string      `json:"VirtualPosOrderId"`
	Amount            json.Number `json:"Amount,omitempty"`
}

// Capture asks the provider to settle a pre-authorized payment.
func (c *Client) Capture(ctx context.Context, req CaptureRequest) (*OperationResult, error) {
	body := captureDealerRequest{VirtualPosOrderID: strings.TrimSpace(req.VirtualPosOrderID)}
	if req.AmountCents > 0 {
		body.Amount = FormatAmount(req.AmountCents)
	}
	return c.operation(ctx, "capture", pathCapture, body)
}

func (c *Client) operation(ctx context.Context, name, path string, body any) (*OperationResult, error) {
	exchange, resp, err := c.post(ctx, name, "", path, body)
	result := &OperationResult{}
	if exchange != nil {
		result.Exchange = *exchange
	}
	if err != nil {
		return result, err
	}
	result.Confirmed = exchange.Succeeded() && dataConfirmed(resp.Data)
	return result, nil
}

func dataConfirmed(data json.RawMessage) bool {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return false
	}
	if ok, isBool := obj["IsSuccessful"].(bool); isBool && ok {
		return true
	}
	return asText(obj["ResultCode"]) == "00"
}
