package payment

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/xendit/xendit-go/v6"
	"github.com/xendit/xendit-go/v6/invoice"

	"github.com/kirinyoku/eventbook/internal/domain"
)

type XenditConfig struct {
	SecretKey string
	Currency  string
}

// XenditProvider opens hosted invoices. The invoice id is the session id.
// The booking contract travels in the external id and in a single line item
// whose reference id is the event id.
type XenditProvider struct {
	client   *xendit.APIClient
	currency string
}

func NewXenditProvider(cfg XenditConfig) *XenditProvider {
	if cfg.Currency == "" {
		cfg.Currency = "IDR"
	}

	return &XenditProvider{
		client:   xendit.NewClient(cfg.SecretKey),
		currency: cfg.Currency,
	}
}

func (p *XenditProvider) CreateSession(ctx context.Context, params CreateParams) (*Session, error) {
	const op = "payment.XenditProvider.CreateSession"

	req := invoiceRequest(params, p.currency)

	inv, _, xerr := p.client.InvoiceApi.CreateInvoice(ctx).
		CreateInvoiceRequest(*req).
		Execute()
	if xerr != nil {
		return nil, fmt.Errorf("%s: %s", op, xerr.Error())
	}

	return &Session{
		ID:     inv.GetId(),
		URL:    inv.GetInvoiceUrl(),
		Amount: domain.MoneyFromMajor(inv.GetAmount()),
	}, nil
}

func (p *XenditProvider) VerifySession(ctx context.Context, sessionID string) (*Verification, error) {
	const op = "payment.XenditProvider.VerifySession"

	inv, resp, xerr := p.client.InvoiceApi.GetInvoiceById(ctx, sessionID).Execute()
	if xerr != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%s:%w", op, ErrSessionNotFound)
		}
		return nil, fmt.Errorf("%s: %s", op, xerr.Error())
	}

	v, err := verificationFromInvoice(inv)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return v, nil
}

func invoiceRequest(params CreateParams, currency string) *invoice.CreateInvoiceRequest {
	req := invoice.NewCreateInvoiceRequest(params.ExternalID, params.Amount.Major())
	req.SetCurrency(currency)
	req.SetDescription(params.Description)
	if params.CustomerEmail != "" {
		req.SetPayerEmail(params.CustomerEmail)
	}
	if params.SuccessURL != "" {
		req.SetSuccessRedirectUrl(params.SuccessURL)
	}

	item := invoice.NewInvoiceItem(params.Description, float32(params.UnitPrice.Major()), float32(params.Quantity))
	item.SetReferenceId(strconv.FormatInt(params.EventID, 10))
	req.SetItems([]invoice.InvoiceItem{*item})

	return req
}

// verificationFromInvoice reads the booking contract back from an invoice.
// The event in the external id and in the line item must agree.
func verificationFromInvoice(inv *invoice.Invoice) (*Verification, error) {
	eventID, userID, err := ParseExternalID(inv.GetExternalId())
	if err != nil {
		return nil, err
	}

	items := inv.GetItems()
	if len(items) != 1 {
		return nil, fmt.Errorf("%w: %d line items", ErrInvalidContract, len(items))
	}

	ref, err := strconv.ParseInt(items[0].GetReferenceId(), 10, 64)
	if err != nil || ref != eventID {
		return nil, fmt.Errorf("%w: item reference %q", ErrInvalidContract, items[0].GetReferenceId())
	}

	qty := items[0].GetQuantity()
	if qty < 1 || qty != float32(math.Trunc(float64(qty))) {
		return nil, fmt.Errorf("%w: item quantity %v", ErrInvalidContract, qty)
	}

	return &Verification{
		SessionID: inv.GetId(),
		Status:    invoiceStatus(string(inv.GetStatus())),
		Amount:    domain.MoneyFromMajor(inv.GetAmount()),
		EventID:   eventID,
		UserID:    userID,
		Quantity:  int(qty),
	}, nil
}

func invoiceStatus(s string) Status {
	switch s {
	case "PAID", "SETTLED":
		return StatusPaid
	case "EXPIRED":
		return StatusExpired
	default:
		return StatusPending
	}
}
