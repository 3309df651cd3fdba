package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FairForge/datasetd/internal/config"
	"github.com/FairForge/datasetd/internal/dataset"
	"github.com/FairForge/datasetd/internal/policy"
	"github.com/FairForge/datasetd/internal/storage"
)

const testSecret = "test-secret"

type testEnv struct {
	server   *Server
	repo     *dataset.MemoryRepository
	issuer   *fakeIssuer
	store    *fakeStore
	notifier *fakeNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Auth.JWTSecret = testSecret
	cfg.Dispatcher.CallbackToken = "cb-token"

	env := &testEnv{
		repo:     dataset.NewMemoryRepository(),
		issuer:   &fakeIssuer{},
		store:    newFakeStore(),
		notifier: &fakeNotifier{},
	}
	env.server = NewServer(cfg, zap.NewNop(), env.repo, env.issuer, env.store, env.notifier)
	return env
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (e *testEnv) request(t *testing.T, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, userID))
	}
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seed(t *testing.T, d *dataset.Dataset) {
	t.Helper()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
		d.UpdatedAt = d.CreatedAt
	}
	require.NoError(t, e.repo.Create(context.Background(), d))
}

func privateDataset(id, owner string) *dataset.Dataset {
	return &dataset.Dataset{
		ID:      id,
		OwnerID: owner,
		Title:   "sales",
		Visibility: policy.Visibility{
			Owner:   owner,
			Editors: []string{owner},
			Viewers: []string{},
		},
	}
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t)

	t.Run("missing token is 401", func(t *testing.T) {
		rec := env.request(t, http.MethodGet, "/datasets/", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token is 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/datasets/", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		rec := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("health needs no token", func(t *testing.T) {
		rec := env.request(t, http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestMakeUploadURL(t *testing.T) {
	t.Run("creates record after capability succeeds", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.request(t, http.MethodPost, "/datasets/make_dataset_upload_url", "u1",
			map[string]string{"title": "Sales"})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp capabilityResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotEmpty(t, resp.DatasetID)
		assert.Equal(t, resp.DatasetID+"/0", resp.Fields["key"])

		d, err := env.repo.FindByID(context.Background(), resp.DatasetID)
		require.NoError(t, err)
		assert.Equal(t, "Sales", d.Title)
		assert.Equal(t, "u1", d.Visibility.Owner)
		assert.False(t, d.IsProcessing)

		issued := env.issuer.issued()
		require.Len(t, issued, 1)
		assert.Equal(t, "text/", issued[0].ContentTypePrefix)
		assert.Equal(t, time.Hour, issued[0].TTL)
	})

	t.Run("missing title is 400 with no side effects", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.request(t, http.MethodPost, "/datasets/make_dataset_upload_url", "u1",
			map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, env.issuer.issued())
	})

	t.Run("issuance failure persists nothing", func(t *testing.T) {
		env := newTestEnv(t)
		env.issuer.fail = true
		rec := env.request(t, http.MethodPost, "/datasets/make_dataset_upload_url", "u1",
			map[string]string{"title": "Sales"})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)

		mine, err := env.repo.ListByOwner(context.Background(), "u1")
		require.NoError(t, err)
		assert.Empty(t, mine)
	})
}

func TestMakeAppendURL(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, privateDataset("d1", "u1"))

	t.Run("owner gets a short-lived capability", func(t *testing.T) {
		rec := env.request(t, http.MethodPost, "/datasets/make_dataset_append_url/d1", "u1", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		issued := env.issuer.issued()
		require.Len(t, issued, 1)
		assert.Equal(t, "d1/0", issued[0].Key)
		assert.Equal(t, 30*time.Second, issued[0].TTL)
		assert.Equal(t, env.server.config.Storage.Buckets.Appends, issued[0].Bucket)
	})

	t.Run("viewer is forbidden", func(t *testing.T) {
		viewers := []string{"u-viewer"}
		require.NoError(t, env.repo.UpdateByID(context.Background(), "d1",
			dataset.Patch{Viewers: &viewers}))

		rec := env.request(t, http.MethodPost, "/datasets/make_dataset_append_url/d1", "u-viewer", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("missing dataset is 404", func(t *testing.T) {
		rec := env.request(t, http.MethodPost, "/datasets/make_dataset_append_url/ghost", "u1", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestMakePreviewURL(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodPost, "/datasets/make_dataset_preview_url", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp capabilityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, resp.ID, resp.Fields["key"])

	// Preview content is independent of any persisted dataset.
	_, err := env.repo.FindByID(context.Background(), resp.ID)
	assert.ErrorIs(t, err, dataset.ErrNotFound)
}

func TestProcessDataset(t *testing.T) {
	t.Run("missing key is 400", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.request(t, http.MethodPost, "/datasets/process_dataset", "u1", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("responds before dispatch completes", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.request(t, http.MethodPost, "/datasets/process_dataset", "u1",
			map[string]string{"key": "d1/0"})
		assert.Equal(t, http.StatusOK, rec.Code)

		assert.Eventually(t, func() bool {
			calls := env.notifier.notifications()
			return len(calls) == 1 && calls[0].kind == "process" &&
				calls[0].key == "d1/0" && calls[0].user == "u1"
		}, time.Second, 10*time.Millisecond)
	})
}

func TestGetDataset(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, privateDataset("d1", "u1"))
	env.store.put(env.server.config.Storage.Buckets.Datasets, "d1/columns/0",
		&storage.ObjectInfo{Key: "d1/columns/0", Size: 42, ContentType: "text/csv"})

	t.Run("stranger is forbidden on private dataset", func(t *testing.T) {
		rec := env.request(t, http.MethodGet, "/datasets/d1", "u2", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("patching public opens reads", func(t *testing.T) {
		rec := env.request(t, http.MethodPatch, "/datasets/d1", "u1",
			map[string]interface{}{"isPublic": true})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = env.request(t, http.MethodGet, "/datasets/d1", "u2", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Dataset dataset.Dataset    `json:"dataset"`
			Head    storage.ObjectInfo `json:"head"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "d1", resp.Dataset.ID)
		assert.Equal(t, int64(42), resp.Head.Size)
	})

	t.Run("missing primary object is 404", func(t *testing.T) {
		env.seed(t, &dataset.Dataset{
			ID: "d2", OwnerID: "u1", Title: "no object",
			Visibility: policy.Visibility{Owner: "u1", Editors: []string{"u1"}},
		})
		rec := env.request(t, http.MethodGet, "/datasets/d2", "u1", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestPatchDataset(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, privateDataset("d1", "u1"))

	t.Run("unknown fields are rejected", func(t *testing.T) {
		rec := env.request(t, http.MethodPatch, "/datasets/d1", "u1",
			map[string]interface{}{"ownerId": "u-evil"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		d, err := env.repo.FindByID(context.Background(), "d1")
		require.NoError(t, err)
		assert.Equal(t, "u1", d.OwnerID)
	})

	t.Run("viewer cannot patch", func(t *testing.T) {
		viewers := []string{"u-viewer"}
		require.NoError(t, env.repo.UpdateByID(context.Background(), "d1",
			dataset.Patch{Viewers: &viewers}))

		rec := env.request(t, http.MethodPatch, "/datasets/d1", "u-viewer",
			map[string]interface{}{"title": "hijacked"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("editor patches title", func(t *testing.T) {
		editors := []string{"u1", "u-editor"}
		require.NoError(t, env.repo.UpdateByID(context.Background(), "d1",
			dataset.Patch{Editors: &editors}))

		rec := env.request(t, http.MethodPatch, "/datasets/d1", "u-editor",
			map[string]interface{}{"title": "renamed"})
		require.Equal(t, http.StatusOK, rec.Code)

		d, err := env.repo.FindByID(context.Background(), "d1")
		require.NoError(t, err)
		assert.Equal(t, "renamed", d.Title)
	})
}

func TestDeleteDataset(t *testing.T) {
	t.Run("editor cannot delete", func(t *testing.T) {
		env := newTestEnv(t)
		d := privateDataset("d1", "u1")
		d.Visibility.Editors = []string{"u1", "u-editor"}
		env.seed(t, d)
		env.store.put(env.server.config.Storage.Buckets.Datasets, "d1",
			&storage.ObjectInfo{Key: "d1"})

		rec := env.request(t, http.MethodDelete, "/datasets/d1", "u-editor", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		// Neither the record nor the object went anywhere.
		_, err := env.repo.FindByID(context.Background(), "d1")
		assert.NoError(t, err)
		assert.Empty(t, env.store.deleted)
	})

	t.Run("owner delete removes record then object", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, privateDataset("d1", "u1"))
		env.store.put(env.server.config.Storage.Buckets.Datasets, "d1",
			&storage.ObjectInfo{Key: "d1"})

		rec := env.request(t, http.MethodDelete, "/datasets/d1", "u1", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = env.request(t, http.MethodGet, "/datasets/d1", "u1", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, env.store.deleted, env.server.config.Storage.Buckets.Datasets+"/d1")
	})

	t.Run("storage failure after metadata delete is surfaced", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, privateDataset("d1", "u1"))
		env.store.failDelete = true

		rec := env.request(t, http.MethodDelete, "/datasets/d1", "u1", nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)

		// Metadata delete is not rolled back.
		_, err := env.repo.FindByID(context.Background(), "d1")
		assert.ErrorIs(t, err, dataset.ErrNotFound)
	})
}

func TestDuplicateDataset(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, privateDataset("d1", "u1"))

	rec := env.request(t, http.MethodPost, "/datasets/duplicate/d1", "u1",
		map[string]string{"newTitle": "Sales v2"})
	require.Equal(t, http.StatusOK, rec.Code)

	var clone dataset.Dataset
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &clone))
	assert.NotEqual(t, "d1", clone.ID)
	assert.Equal(t, "Sales v2", clone.Title)
	assert.True(t, clone.IsProcessing)

	assert.Eventually(t, func() bool {
		calls := env.notifier.notifications()
		return len(calls) == 1 && calls[0].kind == "duplicate" &&
			calls[0].oldID == "d1" && calls[0].newID == clone.ID
	}, time.Second, 10*time.Millisecond)

	t.Run("completion callback clears the flag", func(t *testing.T) {
		body, err := json.Marshal(map[string]string{"datasetId": clone.ID})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/internal/jobs/dataset_ready", bytes.NewReader(body))
		req.Header.Set("X-Callback-Token", "cb-token")
		res := httptest.NewRecorder()
		env.server.Router().ServeHTTP(res, req)
		require.Equal(t, http.StatusOK, res.Code)

		d, err := env.repo.FindByID(context.Background(), clone.ID)
		require.NoError(t, err)
		assert.False(t, d.IsProcessing)
	})

	t.Run("callback without token is 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/internal/jobs/dataset_ready", bytes.NewReader(nil))
		res := httptest.NewRecorder()
		env.server.Router().ServeHTTP(res, req)
		assert.Equal(t, http.StatusUnauthorized, res.Code)
	})
}

func TestListDatasets(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, privateDataset("d1", "u1"))
	env.seed(t, privateDataset("d2", "u2"))

	rec := env.request(t, http.MethodGet, "/datasets/", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list []dataset.Dataset
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "d1", list[0].ID)

	t.Run("empty list is a JSON array", func(t *testing.T) {
		rec := env.request(t, http.MethodGet, "/datasets/", "u3", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, "[]", rec.Body.String())
	})
}
