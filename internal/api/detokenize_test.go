package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahwei/Climate-Tokenization-Engine/internal/bundle"
)

// fakeUnlocker returns a canned payload or error regardless of input.
type fakeUnlocker struct {
	payload string
	err     error
}

func (f fakeUnlocker) Unlock(data []byte, password string) (string, error) {
	return f.payload, f.err
}

func postDetokenize(t *testing.T, router http.Handler, file []byte, password string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if file != nil {
		fw, err := mw.CreateFormFile("file", "bundle.bin")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	if password != "" {
		require.NoError(t, mw.WriteField("password", password))
	}
	require.NoError(t, mw.Close())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/detokenize", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	router.ServeHTTP(w, req)
	return w
}

func TestDetokenize_ForwardsDecodedPayloadVerbatim(t *testing.T) {
	sealed, err := bundle.Seal("detok:1:asset-abc123:50", "hunter2")
	require.NoError(t, err)

	driverSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/tokens/parse", r.URL.Path)
		assert.Equal(t, "detok:1:asset-abc123:50", r.URL.Query().Get("content"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"org_uid":"org-1","asset_id":"asset-abc123","amount":50}`))
	}))
	defer driverSrv.Close()

	router := newTestRouter(t, connectedStore("http://localhost:0", driverSrv.URL), bundle.NewPasswordUnlocker())

	w := postDetokenize(t, router, sealed, "hunter2")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"org_uid":"org-1","asset_id":"asset-abc123","amount":50}`, w.Body.String())
}

func TestDetokenize_SentinelMismatchNeverReachesDriver(t *testing.T) {
	driverCalled := false
	driverSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		driverCalled = true
	}))
	defer driverSrv.Close()

	router := newTestRouter(t, connectedStore("http://localhost:0", driverSrv.URL), fakeUnlocker{payload: "definitely not a token"})

	w := postDetokenize(t, router, []byte("whatever"), "hunter2")

	require.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Uploaded file not valid.", body["message"])
	assert.False(t, driverCalled)
}

func TestDetokenize_WrongPassword(t *testing.T) {
	sealed, err := bundle.Seal("detok:1:asset-abc123:50", "hunter2")
	require.NoError(t, err)

	router := newTestRouter(t, connectedStore("http://localhost:0", "http://localhost:0"), bundle.NewPasswordUnlocker())

	w := postDetokenize(t, router, sealed, "wrong")

	require.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Uploaded file not valid.", body["message"])
}

func TestDetokenize_MissingParts(t *testing.T) {
	router := newTestRouter(t, connectedStore("http://localhost:0", "http://localhost:0"), bundle.NewPasswordUnlocker())

	t.Run("no file", func(t *testing.T) {
		w := postDetokenize(t, router, nil, "hunter2")
		require.Equal(t, http.StatusBadRequest, w.Code)

		var body struct {
			Message string   `json:"message"`
			Errors  []string `json:"errors"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "Data Validation error", body.Message)
		assert.Contains(t, body.Errors[0], "file")
	})

	t.Run("no password", func(t *testing.T) {
		w := postDetokenize(t, router, []byte("data"), "")
		require.Equal(t, http.StatusBadRequest, w.Code)

		var body struct {
			Message string   `json:"message"`
			Errors  []string `json:"errors"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "Data Validation error", body.Message)
		assert.Contains(t, body.Errors[0], "password")
	})
}

func TestDetokenize_DriverParseFailure(t *testing.T) {
	driverSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unparseable content", http.StatusBadRequest)
	}))
	defer driverSrv.Close()

	router := newTestRouter(t, connectedStore("http://localhost:0", driverSrv.URL), fakeUnlocker{payload: "detok:garbage"})

	w := postDetokenize(t, router, []byte("data"), "hunter2")

	require.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Uploaded file not valid.", body["message"])
	assert.Contains(t, body["error"], "unparseable content")
}
