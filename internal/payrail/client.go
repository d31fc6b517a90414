// Package payrail wraps the payment rail used to settle affiliate payouts.
package payrail

import (
	"context"
	"errors"
	"time"

	"github.com/clinicware/affiliate-engine/internal/httpclient"
)

// ErrDeclined signals that the rail rejected the transfer. The payout
// batcher records the reason and releases the linked commissions.
var ErrDeclined = errors.New("transfer declined")

// TransferRequest asks the rail to move net funds to an affiliate. The
// idempotency key is the payout id, so a retried call cannot double-pay.
type TransferRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	ClinicID       string `json:"clinic_id"`
	AffiliateID    string `json:"affiliate_id"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
	Description    string `json:"description,omitempty"`
}

type TransferResponse struct {
	Approved   bool   `json:"approved"`
	PaymentRef string `json:"payment_ref,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type Client struct {
	http *httpclient.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		http: httpclient.NewClient(baseURL, 15*time.Second),
	}
}

// Transfer executes one payout transfer. A declined transfer returns
// ErrDeclined with the rail's reason attached; transport errors come back
// as-is.
func (c *Client) Transfer(ctx context.Context, req TransferRequest) (*TransferResponse, error) {
	var resp TransferResponse
	if err := c.http.Post(ctx, "/v1/transfers", req, &resp); err != nil {
		return nil, err
	}

	if !resp.Approved {
		if resp.Reason == "" {
			resp.Reason = "declined"
		}
		return &resp, ErrDeclined
	}

	return &resp, nil
}
