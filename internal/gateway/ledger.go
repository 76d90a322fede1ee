package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var recordListKeys = []string{
	"PaymentList", "DealerPaymentList", "TrxList", "PaymentTrxDetailList",
	"DealerPaymentTrxDetailList", "DealerPaymentTrxDetails", "Items", "List", "Payments",
}

// ListPaymentsRequest selects a ledger window. BaseURL overrides the client base (used by health probes).
type ListPaymentsRequest struct {
	BaseURL      string
	Start        time.Time
	End          time.Time
	OtherTrxCode string
}

type paymentListRequest struct {
	PaymentStartDate string `json:"PaymentStartDate"`
	PaymentEndDate   string `json:"PaymentEndDate"`
	OtherTrxCode     string `json:"OtherTrxCode,omitempty"`
}

type trxDetailRequest struct {
	OtherTrxCode string `json:"OtherTrxCode"`
}

// LedgerPage is one ledger response, normalized into records.
type LedgerPage struct {
	Exchange Exchange
	Records  []Record
}

// OK reports HTTP success with ResultCode Success.
func (p *LedgerPage) OK() bool {
	return p != nil && p.Exchange.Succeeded()
}

// NoData reports the gateway's empty-window result code.
func (p *LedgerPage) NoData() bool {
	return p != nil && strings.HasSuffix(p.Exchange.ResultCode, noDataSuffix)
}

// Healthy reports whether the ledger endpoint answered meaningfully.
func (p *LedgerPage) Healthy() bool {
	return p.OK() || p.NoData()
}

// Record is one provider-side payment.
type Record struct {
	TrxCode           string
	OtherTrxCode      string
	VirtualPosOrderID string
	AmountCents       int64
	HasAmount         bool
	TrxStatus         string
	PaymentStatus     string
	ResultCode        string
	BankResultCode    string
	ResultMessage     string
}

// DedupeKey identifies a record across overlapping ledger windows.
func (r Record) DedupeKey() string {
	amount := ""
	if r.HasAmount {
		amount = strconv.FormatInt(r.AmountCents, 10)
	}
	return r.TrxCode + ":" + r.OtherTrxCode + ":" + amount
}

// Settled reports a provider status of 1 or 2 on either status field.
func (r Record) Settled() bool {
	for _, status := range []string{r.TrxStatus, r.PaymentStatus} {
		if status == "1" || status == "2" {
			return true
		}
	}
	return false
}

// ListPayments fetches the dealer payment ledger for [Start, End].
func (c *Client) ListPayments(ctx context.Context, req ListPaymentsRequest) (*LedgerPage, error) {
	body := paymentListRequest{
		PaymentStartDate: FormatLedgerTime(req.Start),
		PaymentEndDate:   FormatLedgerTime(req.End),
		OtherTrxCode:     strings.TrimSpace(req.OtherTrxCode),
	}
	return c.ledgerCall(ctx, "inquiry", req.BaseURL, pathPaymentList, body)
}

// TrxDetail looks up transaction details by merchant reference; used to recover a missing gateway trx code.
func (c *Client) TrxDetail(ctx context.Context, otherTrxCode string) (*LedgerPage, error) {
	return c.ledgerCall(ctx, "inquiry", "", pathTrxDetail, trxDetailRequest{OtherTrxCode: otherTrxCode})
}

func (c *Client) ledgerCall(ctx context.Context, operation, baseURL, path string, body any) (*LedgerPage, error) {
	exchange, resp, err := c.post(ctx, operation, baseURL, path, body)
	page := &LedgerPage{}
	if exchange != nil {
		page.Exchange = *exchange
	}
	if err != nil {
		return page, err
	}
	page.Records = ParseRecords(resp.Data)
	return page, nil
}

// FormatLedgerTime renders a timestamp the way the ledger endpoint expects (UTC, minute precision).
func FormatLedgerTime(t time.Time) string {
	return t.UTC().Format(ledgerTimeLayout)
}

// ParseRecords extracts records from a ledger Data field: a bare array, an object holding one of the
// known list keys, or a single record object.
func ParseRecords(data json.RawMessage) []Record {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil
	}

	var items []map[string]any
	switch trimmed[0] {
	case '[':
		items = decodeObjects(data)
	case '{':
		var root map[string]any
		if err := json.Unmarshal(data, &root); err != nil {
			return nil
		}
		for _, key := range recordListKeys {
			if list, ok := root[key].([]any); ok {
				items = objectsFrom(list)
				break
			}
		}
		if items == nil && hasRecordShape(root) {
			items = []map[string]any{root}
		}
	}

	records := make([]Record, 0, len(items))
	for _, item := range items {
		records = append(records, recordFrom(item))
	}
	return records
}

func decodeObjects(data json.RawMessage) []map[string]any {
	var list []any
	if err := json.Unmarshal(data, &list); err != nil {
		return nil
	}
	return objectsFrom(list)
}

func objectsFrom(list []any) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, entry := range list {
		if obj, ok := entry.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

func hasRecordShape(obj map[string]any) bool {
	return firstText(obj, "TrxCode", "OtherTrxCode", "VirtualPosOrderId", "PaymentId", "DealerPaymentId") != ""
}

func recordFrom(item map[string]any) Record {
	rec := Record{
		TrxCode:           firstText(item, "TrxCode", "trxCode", "VirtualPosOrderId"),
		OtherTrxCode:      firstText(item, "OtherTrxCode", "otherTrxCode", "MerchantOrderId", "MerchantRef"),
		VirtualPosOrderID: firstText(item, "VirtualPosOrderId"),
		TrxStatus:         firstText(item, "TrxStatus", "trxStatus"),
		PaymentStatus:     firstText(item, "PaymentStatus", "paymentStatus"),
		ResultCode:        firstText(item, "ResultCode", "resultCode"),
		BankResultCode:    firstText(item, "BankResultCode", "BankCode"),
		ResultMessage:     firstText(item, "ResultMessage", "resultMessage"),
	}
	for _, key := range []string{"Amount", "amount"} {
		if cents, ok := amountCents(item[key]); ok {
			rec.AmountCents = cents
			rec.HasAmount = true
			break
		}
	}
	return rec
}

// amountCents converts a major-unit amount (number or string, comma or dot decimal) to minor units.
func amountCents(value any) (int64, bool) {
	var text string
	switch v := value.(type) {
	case float64:
		text = strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		text = v.String()
	case string:
		text = strings.ReplaceAll(strings.TrimSpace(v), ",", ".")
	default:
		return 0, false
	}
	if text == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return 0, false
	}
	return d.Shift(2).Round(0).IntPart(), true
}

func asText(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
