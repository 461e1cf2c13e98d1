package lightning

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
)

// InvoiceResult is returned by CreateInvoice.
type InvoiceResult struct {
	Bolt11      string
	PaymentHash string
	ExpiresAt   time.Time
}

// InvoiceState describes LookupInvoice's view of settlement.
type InvoiceState string

const (
	InvoiceLookupPending InvoiceState = "pending"
	InvoiceLookupPaid    InvoiceState = "paid"
	InvoiceLookupExpired InvoiceState = "expired"
)

// InvoiceLookupResult is returned by LookupInvoice. It is pure and
// idempotent: it only ever reports what LND's own settlement record says.
type InvoiceLookupResult struct {
	State             InvoiceState
	SettledAmountSats int64
	SettledAt         *time.Time
}

// CreateInvoice creates a BOLT-11 invoice for amountSats, expiring after
// expirySeconds. Used by the Lightning Gateway for both session payment
// and wallet deposit invoices.
func (c *Client) CreateInvoice(ctx context.Context, amountSats int64, memo string, expirySeconds int64) (*InvoiceResult, error) {
	resp, err := c.lnClient.AddInvoice(ctx, &lnrpc.Invoice{
		Value:  amountSats,
		Memo:   memo,
		Expiry: expirySeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}

	decoded, err := c.lnClient.DecodePayReq(ctx, &lnrpc.PayReqString{PayReq: resp.PaymentRequest})
	if err != nil {
		return nil, fmt.Errorf("failed to decode created invoice: %w", err)
	}

	return &InvoiceResult{
		Bolt11:      resp.PaymentRequest,
		PaymentHash: fmt.Sprintf("%x", resp.RHash),
		ExpiresAt:   time.Unix(decoded.Timestamp+decoded.Expiry, 0),
	}, nil
}

// LookupInvoice reports LND's own settlement record for a payment hash.
// It never reports paid until the daemon's own record shows settlement,
// and tolerates daemon restarts since it re-derives state from LND on
// every call rather than caching.
func (c *Client) LookupInvoice(ctx context.Context, paymentHashHex string) (*InvoiceLookupResult, error) {
	hashBytes, err := hex.DecodeString(paymentHashHex)
	if err != nil {
		return nil, fmt.Errorf("invalid payment hash: %w", err)
	}

	inv, err := c.lnClient.LookupInvoice(ctx, &lnrpc.PaymentHash{RHash: hashBytes})
	if err != nil {
		return nil, fmt.Errorf("failed to look up invoice: %w", err)
	}

	switch inv.State {
	case lnrpc.Invoice_SETTLED:
		settledAt := time.Unix(inv.SettleDate, 0)
		return &InvoiceLookupResult{
			State:             InvoiceLookupPaid,
			SettledAmountSats: inv.AmtPaidSat,
			SettledAt:         &settledAt,
		}, nil
	case lnrpc.Invoice_CANCELED:
		return &InvoiceLookupResult{State: InvoiceLookupExpired}, nil
	default:
		expiresAt := time.Unix(inv.CreationDate+inv.Expiry, 0)
		if time.Now().After(expiresAt) {
			return &InvoiceLookupResult{State: InvoiceLookupExpired}, nil
		}
		return &InvoiceLookupResult{State: InvoiceLookupPending}, nil
	}
}
