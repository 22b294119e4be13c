package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRegistry creates a test HTTP server and a client pointed at it.
func newTestRegistry(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL)
}

// ---------------------------------------------------------------------------
// GetStoreIDs
// ---------------------------------------------------------------------------

func TestGetStoreIDs_FlattensAcrossOrganizations(t *testing.T) {
	client := newTestRegistry(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/organizations", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"org-a": map[string]any{"orgUid": "org-a", "storeIds": []string{"s1", "s2"}},
			"org-b": map[string]any{"orgUid": "org-b", "storeIds": []string{"s3"}},
			"org-c": map[string]any{"orgUid": "org-c"},
		})
	}))

	ids, err := client.GetStoreIDs(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"s1", "s2", "s3"}, ids)
}

func TestGetStoreIDs_SurfacesUpstreamError(t *testing.T) {
	client := newTestRegistry(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "registry melted", http.StatusInternalServerError)
	}))

	_, err := client.GetStoreIDs(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "registry melted")
}

// ---------------------------------------------------------------------------
// Units
// ---------------------------------------------------------------------------

func TestGetUnitByWarehouseID(t *testing.T) {
	client := newTestRegistry(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/units", r.URL.Path)
		assert.Equal(t, "unit-42", r.URL.Query().Get("warehouseUnitId"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Unit{
			WarehouseUnitID: "unit-42",
			UnitOwner:       "Test Owner",
			UnitCount:       100,
		})
	}))

	unit, err := client.GetUnitByWarehouseID(context.Background(), "unit-42")
	require.NoError(t, err)
	assert.Equal(t, "unit-42", unit.WarehouseUnitID)
	assert.Equal(t, 100, unit.UnitCount)
}

func TestGetUnitByWarehouseID_EmptyRecordIsAnError(t *testing.T) {
	client := newTestRegistry(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))

	_, err := client.GetUnitByWarehouseID(context.Background(), "unit-missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no unit found")
}

func TestNewUnitPatch_StripsRegistryLinkageFields(t *testing.T) {
	unit := &Unit{
		WarehouseUnitID:   "unit-42",
		IssuanceID:        "issuance-1",
		OrgUID:            "org-1",
		SerialNumberBlock: "A100-A200",
		UnitOwner:         "Test Owner",
		UnitCount:         100,
		Issuance: &Issuance{
			ID:                 "issuance-1",
			OrgUID:             "org-1",
			WarehouseProjectID: "project-1",
		},
	}

	raw, err := json.Marshal(NewUnitPatch(unit, "asset-abc123"))
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))

	assert.Equal(t, "asset-abc123", body["marketplaceIdentifier"])
	assert.Equal(t, "unit-42", body["warehouseUnitId"])
	assert.NotContains(t, body, "issuanceId")
	assert.NotContains(t, body, "orgUid")
	assert.NotContains(t, body, "serialNumberBlock")

	// Null/zero fields are dropped entirely, not sent as empty strings.
	assert.NotContains(t, body, "unitStatus")
	assert.NotContains(t, body, "vintageYear")

	issuance, ok := body["issuance"].(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, issuance, "orgUid")
	assert.Equal(t, "issuance-1", issuance["id"])
	assert.Equal(t, "project-1", issuance["warehouseProjectId"])
}

// ---------------------------------------------------------------------------
// Metadata and staging
// ---------------------------------------------------------------------------

func TestRegisterTokenMetadata_KeyedByAssetID(t *testing.T) {
	client := newTestRegistry(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/organizations/metadata", r.URL.Path)

		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, `{"asset_id":"asset-abc123"}`, payload["asset-abc123"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message": "Home org is being updated"})
	}))

	message, err := client.RegisterTokenMetadata(context.Background(), "asset-abc123", `{"asset_id":"asset-abc123"}`)
	require.NoError(t, err)
	assert.Equal(t, "Home org is being updated", message)
}

func TestRegisterTokenMetadata_BareStringReply(t *testing.T) {
	client := newTestRegistry(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Metadata registered"))
	}))

	message, err := client.RegisterTokenMetadata(context.Background(), "asset-abc123", "{}")
	require.NoError(t, err)
	assert.Equal(t, "Metadata registered", message)
}

func TestStagingConfirmed(t *testing.T) {
	confirmed := false
	client := newTestRegistry(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/staging/hasPendingTransactions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"confirmed": confirmed})
	}))

	got, err := client.StagingConfirmed(context.Background())
	require.NoError(t, err)
	assert.False(t, got)

	confirmed = true
	got, err = client.StagingConfirmed(context.Background())
	require.NoError(t, err)
	assert.True(t, got)
}

func TestCommitStaging_SurfacesFailure(t *testing.T) {
	client := newTestRegistry(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/staging/commit", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		http.Error(w, "nothing to commit", http.StatusBadRequest)
	}))

	err := client.CommitStaging(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to commit")
}
