package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/shopspring/decimal"
)

var nonDigits = regexp.MustCompile(`\D`)

// Card carries either a stored token or raw card fields; Token wins when set.
type Card struct {
	Token      string
	HolderName string
	Number     string
	ExpMonth   string
	ExpYear    string
	CVC        string
}

// Buyer is the optional buyer block forwarded to the issuer.
type Buyer struct {
	FullName string
	Email    string
	GSM      string
	Address  string
}

// ThreeDRequest describes one 3-D Secure initiation.
type ThreeDRequest struct {
	IntentID     string
	AmountCents  int64
	Installments int
	RedirectURL  string
	UIOrigin     string
	ClientIP     string
	Description  string
	Card         Card
	Buyer        Buyer
}

// ThreeDResult is the outcome of a 3-D Secure initiation. Exchange is populated even on failure
// whenever a request was attempted.
type ThreeDResult struct {
	Exchange Exchange
	Payload  ThreeDPayload
	TrxCode  string
}

type buyerInformation struct {
	BuyerFullName  string `json:"BuyerFullName,omitempty"`
	BuyerEmail     string `json:"BuyerEmail,omitempty"`
	BuyerGsmNumber string `json:"BuyerGsmNumber,omitempty"`
	BuyerAddress   string `json:"BuyerAddress,omitempty"`
}

type threeDDealerRequest struct {
	Amount             json.Number       `json:"Amount"`
	Currency           string            `json:"Currency"`
	InstallmentNumber  int               `json:"InstallmentNumber"`
	OtherTrxCode       string            `json:"OtherTrxCode"`
	RedirectURL        string            `json:"RedirectUrl"`
	Description        string            `json:"Description,omitempty"`
	Software           string            `json:"Software,omitempty"`
	IntegratorID       int               `json:"IntegratorId,omitempty"`
	ClientIP           string            `json:"ClientIP"`
	BuyerInformation   *buyerInformation `json:"BuyerInformation,omitempty"`
	CardToken          string            `json:"CardToken,omitempty"`
	CardHolderFullName string            `json:"CardHolderFullName,omitempty"`
	CardNumber         string            `json:"CardNumber,omitempty"`
	ExpMonth           string            `json:"ExpMonth,omitempty"`
	ExpYear            string            `json:"ExpYear,omitempty"`
	CvcNumber          string            `json:"CvcNumber,omitempty"`
}

// InitThreeD starts a 3-D Secure payment and normalizes the challenge payload.
func (c *Client) InitThreeD(ctx context.Context, req ThreeDRequest) (*ThreeDResult, error) {
	if req.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	redirect, err := buildRedirectURL(req.RedirectURL, req.IntentID, req.UIOrigin)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build 3DS redirect url")
	}

	dealerReq := threeDDealerRequest{
		Amount:            FormatAmount(req.AmountCents),
		Currency:          Currency,
		InstallmentNumber: req.Installments,
		OtherTrxCode:      ShortTrxCode(req.IntentID),
		RedirectURL:       redirect,
		Description:       req.Description,
		Software:          c.software,
		IntegratorID:      c.integratorID,
		ClientIP:          defaultClientIP(req.ClientIP),
		BuyerInformation:  buyerBlock(req.Buyer),
	}
	if token := strings.TrimSpace(req.Card.Token); token != "" {
		dealerReq.CardToken = token
	} else {
		dealerReq.CardHolderFullName = strings.ToUpper(strings.TrimSpace(req.Card.HolderName))
		dealerReq.CardNumber = strings.Join(strings.Fields(req.Card.Number), "")
		dealerReq.ExpMonth = req.Card.ExpMonth
		dealerReq.ExpYear = req.Card.ExpYear
		dealerReq.CvcNumber = nonDigits.ReplaceAllString(req.Card.CVC, "")
	}

	exchange, resp, err := c.post(ctx, "init_3d", "", pathThreeD, dealerReq)
	result := &ThreeDResult{}
	if exchange != nil {
		result.Exchange = *exchange
	}
	if err != nil {
		return result, err
	}

	if !exchange.Succeeded() || isEmptyData(resp.Data) {
		msg := exchange.ResultMessage
		if msg == "" {
			msg = "3D gateway failure"
		}
		return result, pkgerrors.New(pkgerrors.CodeDeclined, msg).WithDetails(map[string]any{
			"result_code": exchange.ResultCode,
		})
	}

	payload, trxCode, err := NormalizeThreeDData(resp.Data)
	if err != nil {
		return result, err
	}
	result.Payload = payload
	result.TrxCode = trxCode
	return result, nil
}

// Failure reasons stored on an intent whose 3DS init failed. Declines carry the provider result code.
const (
	FailureTimeout        = "timeout"
	FailureInvalidPayload = "invalid_3ds_payload"
	FailureDeclined       = "declined"
	FailureInit           = "init_failed"
)

// FailureReason condenses a failed InitThreeD call into a short gateway status.
func FailureReason(result *ThreeDResult, err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
		return FailureTimeout
	}
	typed := pkgerrors.As(err)
	switch {
	case typed == nil:
		return FailureInit
	case typed.Code() == pkgerrors.CodeGatewayProtocol && typed.Message() == invalidPayloadMessage:
		return FailureInvalidPayload
	case typed.Code() == pkgerrors.CodeDeclined:
		if result != nil && result.Exchange.ResultCode != "" {
			return FailureDeclined + ":" + result.Exchange.ResultCode
		}
		return FailureDeclined
	}
	return FailureInit
}

// ShortTrxCodeLength is the width of the merchant reference derived from an intent id.
const ShortTrxCodeLength = 20

// ShortTrxCode is the merchant reference sent to the gateway: the intent id without dashes, first 20 characters.
func ShortTrxCode(intentID string) string {
	compact := strings.ReplaceAll(strings.TrimSpace(intentID), "-", "")
	if len(compact) > ShortTrxCodeLength {
		compact = compact[:ShortTrxCodeLength]
	}
	return strings.ToLower(compact)
}

// FormatAmount renders minor units as a two-decimal major-unit number.
func FormatAmount(cents int64) json.Number {
	return json.Number(decimal.New(cents, -2).StringFixed(2))
}

// ParseExpiry accepts MM/YY or MM/YYYY and returns a zero-padded month and a four digit year.
func ParseExpiry(value string) (string, string, error) {
	parts := strings.Split(strings.TrimSpace(value), "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("expiry must be MM/YY or MM/YYYY")
	}
	monthText := strings.TrimSpace(parts[0])
	yearText := strings.TrimSpace(parts[1])

	month, err := strconv.Atoi(monthText)
	if err != nil || len(monthText) < 1 || len(monthText) > 2 || month < 1 || month > 12 {
		return "", "", fmt.Errorf("expiry month must be 01-12")
	}
	if _, err := strconv.Atoi(yearText); err != nil {
		return "", "", fmt.Errorf("expiry year must be numeric")
	}
	switch len(yearText) {
	case 2:
		yearText = "20" + yearText
	case 4:
	default:
		return "", "", fmt.Errorf("expiry year must be YY or YYYY")
	}
	return fmt.Sprintf("%02d", month), yearText, nil
}

func buildRedirectURL(base, intentID, uiOrigin string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("redirect url %q must be absolute", base)
	}
	q := parsed.Query()
	q.Set("intentId", intentID)
	if uiOrigin != "" {
		q.Set("uiOrigin", uiOrigin)
	}
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

func buyerBlock(b Buyer) *buyerInformation {
	info := &buyerInformation{
		BuyerFullName:  truncate(strings.ToUpper(strings.TrimSpace(b.FullName)), 50),
		BuyerEmail:     strings.TrimSpace(b.Email),
		BuyerGsmNumber: normalizeGSM(b.GSM),
		BuyerAddress:   strings.TrimSpace(b.Address),
	}
	if *info == (buyerInformation{}) {
		return nil
	}
	return info
}

func normalizeGSM(value string) string {
	digits := nonDigits.ReplaceAllString(value, "")
	if len(digits) == 10 {
		return "0" + digits
	}
	return digits
}

func defaultClientIP(ip string) string {
	if trimmed := strings.TrimSpace(ip); trimmed != "" {
		return trimmed
	}
	return "127.0.0.1"
}

func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max])
}

func isEmptyData(data json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(data))
	return trimmed == "" || trimmed == "null"
}
