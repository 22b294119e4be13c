// Package registry implements a client for the registry/warehouse service
// that tracks organizations, units, and the staging area. The gateway talks
// to it for the /connect handshake (store-id lookup), the proxied unit and
// project listings, and the final reconciliation steps of the tokenization
// workflow (metadata registration, unit update, staging commit).
//
// All calls use a single HTTP client with a 30-second timeout: registry calls
// are small JSON exchanges, so a 30-second hang is a clear misconfiguration
// signal rather than a legitimate slow response.
package registry

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

// Client is an HTTP client for the registry service.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a registry client for the given base address.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Organization is one entry in the registry's organization listing.
type Organization struct {
	OrgUID   string   `json:"orgUid"`
	Name     string   `json:"name"`
	StoreIDs []string `json:"storeIds"`
}

// Unit is a registry-tracked inventory record eligible for tokenization.
// Only the fields the gateway reads or writes are modelled; the registry is
// the system of record for everything else.
type Unit struct {
	WarehouseUnitID                    string    `json:"warehouseUnitId"`
	IssuanceID                         string    `json:"issuanceId,omitempty"`
	OrgUID                             string    `json:"orgUid,omitempty"`
	SerialNumberBlock                  string    `json:"serialNumberBlock,omitempty"`
	MarketplaceIdentifier              string    `json:"marketplaceIdentifier,omitempty"`
	ProjectLocationID                  string    `json:"projectLocationId,omitempty"`
	UnitOwner                          string    `json:"unitOwner,omitempty"`
	CountryJurisdictionOfOwner         string    `json:"countryJurisdictionOfOwner,omitempty"`
	UnitStatus                         string    `json:"unitStatus,omitempty"`
	UnitRegistryLink                   string    `json:"unitRegistryLink,omitempty"`
	UnitType                           string    `json:"unitType,omitempty"`
	VintageYear                        int       `json:"vintageYear,omitempty"`
	UnitBlockStart                     string    `json:"unitBlockStart,omitempty"`
	UnitBlockEnd                       string    `json:"unitBlockEnd,omitempty"`
	UnitCount                          int       `json:"unitCount,omitempty"`
	CorrespondingAdjustmentDeclaration string    `json:"correspondingAdjustmentDeclaration,omitempty"`
	CorrespondingAdjustmentStatus      string    `json:"correspondingAdjustmentStatus,omitempty"`
	Issuance                           *Issuance `json:"issuance,omitempty"`
}

// Issuance is the issuance record embedded in a unit.
type Issuance struct {
	ID                   string `json:"id,omitempty"`
	OrgUID               string `json:"orgUid,omitempty"`
	WarehouseProjectID   string `json:"warehouseProjectId,omitempty"`
	StartDate            string `json:"startDate,omitempty"`
	EndDate              string `json:"endDate,omitempty"`
	VerificationApproach string `json:"verificationApproach,omitempty"`
}

// UnitPatch is the update payload for a tokenized unit. It is a typed
// allow-list: registry-internal linkage fields (issuanceId, orgUid,
// serialNumberBlock, issuance.orgUid) have no counterpart here, so they can
// never be sent back, and omitempty drops anything the source unit left null.
type UnitPatch struct {
	WarehouseUnitID                    string        `json:"warehouseUnitId"`
	MarketplaceIdentifier              string        `json:"marketplaceIdentifier"`
	ProjectLocationID                  string        `json:"projectLocationId,omitempty"`
	UnitOwner                          string        `json:"unitOwner,omitempty"`
	CountryJurisdictionOfOwner         string        `json:"countryJurisdictionOfOwner,omitempty"`
	UnitStatus                         string        `json:"unitStatus,omitempty"`
	UnitRegistryLink                   string        `json:"unitRegistryLink,omitempty"`
	UnitType                           string        `json:"unitType,omitempty"`
	VintageYear                        int           `json:"vintageYear,omitempty"`
	UnitBlockStart                     string        `json:"unitBlockStart,omitempty"`
	UnitBlockEnd                       string        `json:"unitBlockEnd,omitempty"`
	UnitCount                          int           `json:"unitCount,omitempty"`
	CorrespondingAdjustmentDeclaration string        `json:"correspondingAdjustmentDeclaration,omitempty"`
	CorrespondingAdjustmentStatus      string        `json:"correspondingAdjustmentStatus,omitempty"`
	Issuance                           *IssuancePatch `json:"issuance,omitempty"`
}

// IssuancePatch is the issuance sub-patch with the org linkage stripped.
type IssuancePatch struct {
	ID                   string `json:"id,omitempty"`
	WarehouseProjectID   string `json:"warehouseProjectId,omitempty"`
	StartDate            string `json:"startDate,omitempty"`
	EndDate              string `json:"endDate,omitempty"`
	VerificationApproach string `json:"verificationApproach,omitempty"`
}

// NewUnitPatch builds the tokenization patch for a unit: the marketplace
// identifier is set to the minted token's asset id and every registry-internal
// linkage field is left out of the payload.
func NewUnitPatch(unit *Unit, assetID string) *UnitPatch {
	patch := &UnitPatch{
		WarehouseUnitID:                    unit.WarehouseUnitID,
		MarketplaceIdentifier:              assetID,
		ProjectLocationID:                  unit.ProjectLocationID,
		UnitOwner:                          unit.UnitOwner,
		CountryJurisdictionOfOwner:         unit.CountryJurisdictionOfOwner,
		UnitStatus:                         unit.UnitStatus,
		UnitRegistryLink:                   unit.UnitRegistryLink,
		UnitType:                           unit.UnitType,
		VintageYear:                        unit.VintageYear,
		UnitBlockStart:                     unit.UnitBlockStart,
		UnitBlockEnd:                       unit.UnitBlockEnd,
		UnitCount:                          unit.UnitCount,
		CorrespondingAdjustmentDeclaration: unit.CorrespondingAdjustmentDeclaration,
		CorrespondingAdjustmentStatus:      unit.CorrespondingAdjustmentStatus,
	}
	if unit.Issuance != nil {
		patch.Issuance = &IssuancePatch{
			ID:                   unit.Issuance.ID,
			WarehouseProjectID:   unit.Issuance.WarehouseProjectID,
			StartDate:            unit.Issuance.StartDate,
			EndDate:              unit.Issuance.EndDate,
			VerificationApproach: unit.Issuance.VerificationApproach,
		}
	}
	return patch
}

// GetStoreIDs returns the flattened set of store ids across all organizations
// known to the registry. The /connect handshake checks candidate org ids for
// exact membership in this set.
func (c *Client) GetStoreIDs(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/organizations", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create organizations request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch organizations: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("organizations request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var orgs map[string]Organization
	if err := json.NewDecoder(resp.Body).Decode(&orgs); err != nil {
		return nil, fmt.Errorf("failed to decode organizations response: %w", err)
	}

	var storeIDs []string
	for _, org := range orgs {
		storeIDs = append(storeIDs, org.StoreIDs...)
	}
	return storeIDs, nil
}

// GetUnitByWarehouseID fetches a single unit record by its warehouse unit id.
func (c *Client) GetUnitByWarehouseID(ctx context.Context, warehouseUnitID string) (*Unit, error) {
	unitURL := fmt.Sprintf("%s/v1/units?warehouseUnitId=%s", c.BaseURL, url.QueryEscape(warehouseUnitID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, unitURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create unit request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unit request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var unit Unit
	if err := json.NewDecoder(resp.Body).Decode(&unit); err != nil {
		return nil, fmt.Errorf("failed to decode unit response: %w", err)
	}
	if unit.WarehouseUnitID == "" {
		return nil, fmt.Errorf("no unit found for warehouseUnitId %s", warehouseUnitID)
	}

	return &unit, nil
}

// UpdateUnit submits a unit patch to the registry.
func (c *Client) UpdateUnit(ctx context.Context, patch *UnitPatch) error {
	payload, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to encode unit patch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.BaseURL+"/v1/units", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create unit update request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to update unit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unit update failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// metadataResponse is the registry's reply to a metadata registration.
type metadataResponse struct {
	Message string `json:"message"`
}

// RegisterTokenMetadata stores the minted token's metadata on the home
// organization, keyed by the token's asset id. The returned message is
// inspected by the workflow: a reply that the home org is currently being
// updated means the write landed in the staging area and the caller must wait
// for staging confirmation before patching the unit.
func (c *Client) RegisterTokenMetadata(ctx context.Context, assetID string, tokenJSON string) (string, error) {
	payload, err := json.Marshal(map[string]string{assetID: tokenJSON})
	if err != nil {
		return "", fmt.Errorf("failed to encode token metadata: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/organizations/metadata", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create metadata request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to register token metadata: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read metadata response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("metadata registration failed with status %d: %s", resp.StatusCode, string(body))
	}

	var meta metadataResponse
	if err := json.Unmarshal(body, &meta); err != nil {
		// Some registry builds reply with a bare string; treat the raw body
		// as the message rather than failing the workflow on decode.
		return string(body), nil
	}
	return meta.Message, nil
}

// stagingStatusResponse is the registry's staging pending-transactions reply.
type stagingStatusResponse struct {
	Confirmed bool `json:"confirmed"`
}

// StagingConfirmed reports whether the registry's staging area has confirmed
// all pending transactions.
func (c *Client) StagingConfirmed(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/staging/hasPendingTransactions", nil)
	if err != nil {
		return false, fmt.Errorf("failed to create staging status request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to fetch staging status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("staging status request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var status stagingStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return false, fmt.Errorf("failed to decode staging status response: %w", err)
	}
	return status.Confirmed, nil
}

// CommitStaging finalizes the registry's staging area, applying the pending
// unit update as a batch.
func (c *Client) CommitStaging(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/staging/commit", nil)
	if err != nil {
		return fmt.Errorf("failed to create staging commit request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to commit staging: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("staging commit failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
