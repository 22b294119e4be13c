// Package driver implements a client for the token-issuance ("driver")
// service that mints blockchain-backed tokens for registry units. The gateway
// submits token-creation requests to it, polls it for transaction
// confirmation, and asks it to parse detokenization payloads.
package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is an HTTP client for the driver service.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a driver client for the given base address.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// TokenDetails describes the token the driver is minting.
type TokenDetails struct {
	OrgUID             string `json:"org_uid"`
	WarehouseProjectID string `json:"warehouse_project_id"`
	VintageYear        int    `json:"vintage_year"`
	SequenceNum        int    `json:"sequence_num"`
}

// Payment carries the on-chain payment parameters for a token creation.
type Payment struct {
	Amount int `json:"amount"`
	Fee    int `json:"fee"`
}

// CreateTokenRequest is the driver's token-creation payload.
type CreateTokenRequest struct {
	Token     TokenDetails `json:"token"`
	Payment   Payment      `json:"payment"`
	ToAddress string       `json:"to_address"`
}

// Token is the driver's description of a minted token.
type Token struct {
	AssetID            string `json:"asset_id"`
	OrgUID             string `json:"org_uid,omitempty"`
	WarehouseProjectID string `json:"warehouse_project_id,omitempty"`
	VintageYear        int    `json:"vintage_year,omitempty"`
	SequenceNum        int    `json:"sequence_num,omitempty"`
	Index              string `json:"index,omitempty"`
	PublicKey          string `json:"public_key,omitempty"`
	AssetIDHash        string `json:"asset_id_hash,omitempty"`
}

// Transaction is the submitted on-chain transaction reference.
type Transaction struct {
	ID string `json:"id"`
}

// TokenCreationRecord is the driver's reply to a create-token request: the
// token descriptor plus the pending transaction, or an error message.
type TokenCreationRecord struct {
	Token *Token       `json:"token"`
	Tx    *Transaction `json:"tx"`
	Error string       `json:"error,omitempty"`
}

// Pending reports whether the record carries a submitted-transaction marker,
// meaning the mint is in flight and must be confirmed by polling.
func (r *TokenCreationRecord) Pending() bool {
	return r.Tx != nil && r.Tx.ID != ""
}

// CreateToken submits a token-creation request. A reply without a pending
// transaction id is returned as an error carrying the driver's reported
// message so the caller can surface it synchronously.
func (c *Client) CreateToken(ctx context.Context, createReq *CreateTokenRequest) (*TokenCreationRecord, error) {
	payload, err := json.Marshal(createReq)
	if err != nil {
		return nil, fmt.Errorf("failed to encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/tokens", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to submit token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var record TokenCreationRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	if !record.Pending() {
		msg := record.Error
		if msg == "" {
			msg = "driver did not return a pending transaction"
		}
		return nil, fmt.Errorf("token creation rejected: %s", msg)
	}
	if record.Token == nil || record.Token.AssetID == "" {
		return nil, fmt.Errorf("token creation rejected: driver returned no asset id")
	}

	return &record, nil
}

// transactionStatusResponse is the driver's transaction status reply.
type transactionStatusResponse struct {
	Confirmed bool `json:"confirmed"`
}

// TransactionConfirmed reports whether the submitted transaction has been
// confirmed on chain. An absent confirmed flag decodes as false, which the
// polling loop treats as "no progress yet".
func (c *Client) TransactionConfirmed(ctx context.Context, txID string) (bool, error) {
	statusURL := fmt.Sprintf("%s/v1/transactions/%s", c.BaseURL, url.PathEscape(txID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create transaction status request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to fetch transaction status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("transaction status request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var status transactionStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return false, fmt.Errorf("failed to decode transaction status response: %w", err)
	}
	return status.Confirmed, nil
}

// ParseDetokenizationPayload forwards a decoded detokenization string to the
// driver's parse endpoint verbatim and returns the parsed result unmodified.
func (c *Client) ParseDetokenizationPayload(ctx context.Context, content string) (json.RawMessage, error) {
	parseURL := fmt.Sprintf("%s/v1/tokens/parse?content=%s", c.BaseURL, url.QueryEscape(content))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create parse request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to parse detokenization payload: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read parse response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("parse request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return json.RawMessage(body), nil
}
