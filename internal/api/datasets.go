package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/FairForge/datasetd/internal/capability"
	"github.com/FairForge/datasetd/internal/dataset"
	"github.com/FairForge/datasetd/internal/events"
	"github.com/FairForge/datasetd/internal/gateway"
	"github.com/FairForge/datasetd/internal/policy"
)

const dispatchTimeout = 15 * time.Second

// datasetGate authorizes one canonical verb against the {datasetID}
// route parameter. On allow the record rides the request context so
// handlers never look it up twice; on deny or miss no handler runs.
func (s *Server) datasetGate(verb policy.Verb) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			datasetID := chi.URLParam(r, "datasetID")

			d, err := s.gateway.Authorize(r.Context(), datasetID, callerID(r.Context()), verb)
			switch {
			case errors.Is(err, dataset.ErrNotFound):
				respondError(w, http.StatusNotFound, "not found")
				return
			case errors.Is(err, gateway.ErrForbidden):
				respondError(w, http.StatusForbidden, "forbidden")
				return
			case err != nil:
				s.logger.Error("authorize failed", zap.String("dataset_id", datasetID), zap.Error(err))
				respondError(w, http.StatusInternalServerError, "internal error")
				return
			}

			ctx := context.WithValue(r.Context(), datasetKey, d)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func contextDataset(ctx context.Context) *dataset.Dataset {
	d, _ := ctx.Value(datasetKey).(*dataset.Dataset)
	return d
}

// capabilityResponse is the wire shape of an issued capability. The
// preview flow additionally carries the generated id.
type capabilityResponse struct {
	ID        string            `json:"id,omitempty"`
	DatasetID string            `json:"datasetId,omitempty"`
	URL       string            `json:"url"`
	Fields    map[string]string `json:"fields"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	datasets, err := s.repo.ListByOwner(r.Context(), callerID(r.Context()))
	if err != nil {
		s.logger.Error("list datasets", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if datasets == nil {
		datasets = []*dataset.Dataset{}
	}
	respondJSON(w, http.StatusOK, datasets)
}

func (s *Server) handleMakeUploadURL(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Title == "" {
		respondError(w, http.StatusBadRequest, "title is required")
		return
	}

	caller := callerID(r.Context())
	id := uuid.New().String()

	// Capability first: the record is persisted only once an upload
	// target exists, so a signing failure leaves nothing behind.
	grant, err := s.issuer.Issue(r.Context(), capability.IssueRequest{
		Bucket:            s.config.Storage.Buckets.Uploads,
		Key:               capability.ObjectKey(id, capability.SlotPrimary),
		ContentTypePrefix: "text/",
		TTL:               s.config.Capability.UploadTTL,
	})
	if err != nil {
		s.logger.Error("issue upload capability", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "upload error")
		return
	}

	now := time.Now()
	d := &dataset.Dataset{
		ID:      id,
		OwnerID: caller,
		Title:   body.Title,
		Visibility: policy.Visibility{
			Owner:   caller,
			Editors: []string{caller},
			Viewers: []string{},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(r.Context(), d); err != nil {
		s.logger.Error("create dataset", zap.String("dataset_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.events.Log(events.Event{Type: events.DatasetCreated, DatasetID: id, UserID: caller})
	s.events.Log(events.Event{Type: events.CapabilityIssued, DatasetID: id, UserID: caller,
		Data: map[string]interface{}{"flow": "upload"}})

	respondJSON(w, http.StatusOK, capabilityResponse{
		DatasetID: id,
		URL:       grant.URL,
		Fields:    grant.Fields,
		ExpiresAt: grant.ExpiresAt,
	})
}

func (s *Server) handleMakeAppendURL(w http.ResponseWriter, r *http.Request) {
	d := contextDataset(r.Context())

	grant, err := s.issuer.Issue(r.Context(), capability.IssueRequest{
		Bucket:            s.config.Storage.Buckets.Appends,
		Key:               capability.ObjectKey(d.ID, capability.SlotPrimary),
		ContentTypePrefix: "text/",
		TTL:               s.config.Capability.AppendTTL,
	})
	if err != nil {
		s.logger.Error("issue append capability", zap.String("dataset_id", d.ID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "upload error")
		return
	}

	s.events.Log(events.Event{Type: events.CapabilityIssued, DatasetID: d.ID,
		UserID: callerID(r.Context()), Data: map[string]interface{}{"flow": "append"}})

	respondJSON(w, http.StatusOK, capabilityResponse{
		URL:       grant.URL,
		Fields:    grant.Fields,
		ExpiresAt: grant.ExpiresAt,
	})
}

func (s *Server) handleMakePreviewURL(w http.ResponseWriter, r *http.Request) {
	// Preview content belongs to no persisted dataset; the key is a
	// fresh id returned alongside the capability.
	id := uuid.New().String()

	grant, err := s.issuer.Issue(r.Context(), capability.IssueRequest{
		Bucket:            s.config.Storage.Buckets.Previews,
		Key:               id,
		ContentTypePrefix: "text/",
		TTL:               s.config.Capability.PreviewTTL,
	})
	if err != nil {
		s.logger.Error("issue preview capability", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "upload error")
		return
	}

	respondJSON(w, http.StatusOK, capabilityResponse{
		ID:        id,
		URL:       grant.URL,
		Fields:    grant.Fields,
		ExpiresAt: grant.ExpiresAt,
	})
}

func (s *Server) handleProcessDataset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Key == "" {
		respondError(w, http.StatusBadRequest, "key is required")
		return
	}

	caller := callerID(r.Context())

	// Respond before dispatching: the notification is best-effort and
	// its outcome never reaches this response.
	respondJSON(w, http.StatusOK, map[string]string{"status": "accepted"})

	s.events.Log(events.Event{Type: events.ProcessDispatched, UserID: caller,
		Data: map[string]interface{}{"key": body.Key}})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		// At-most-once; a failure is logged by the dispatcher and lost.
		_ = s.notifier.ProcessDataset(ctx, body.Key, caller)
	}()
}

func (s *Server) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	d := contextDataset(r.Context())

	// The record and the object are provisioned independently; a
	// missing primary object reads as not-found, same as a missing
	// record.
	head, err := s.store.Head(r.Context(), s.config.Storage.Buckets.Datasets,
		capability.ColumnsKey(d.ID))
	if err != nil {
		s.logger.Debug("primary object probe failed",
			zap.String("dataset_id", d.ID), zap.Error(err))
		respondError(w, http.StatusNotFound, "not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"dataset": d,
		"head":    head,
	})
}

// patchRequest is the allow-list of externally mutable fields. Decoding
// rejects unknown fields, so a payload naming anything else is a 400
// before any write happens.
type patchRequest struct {
	Title    *string   `json:"title"`
	Editors  *[]string `json:"editors"`
	Viewers  *[]string `json:"viewers"`
	IsPublic *bool     `json:"isPublic"`
}

func (s *Server) handlePatchDataset(w http.ResponseWriter, r *http.Request) {
	d := contextDataset(r.Context())

	var body patchRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "malformed patch")
		return
	}

	err := s.repo.UpdateByID(r.Context(), d.ID, dataset.Patch{
		Title:    body.Title,
		Editors:  body.Editors,
		Viewers:  body.Viewers,
		IsPublic: body.IsPublic,
	})
	if err != nil {
		if errors.Is(err, dataset.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not found")
			return
		}
		s.logger.Error("patch dataset", zap.String("dataset_id", d.ID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.events.Log(events.Event{Type: events.DatasetPatched, DatasetID: d.ID,
		UserID: callerID(r.Context())})
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	d := contextDataset(r.Context())
	caller := callerID(r.Context())

	if err := s.repo.DeleteByID(r.Context(), d.ID); err != nil {
		if errors.Is(err, dataset.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not found")
			return
		}
		s.logger.Error("delete dataset", zap.String("dataset_id", d.ID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Second step of the two-step delete. There is no transaction
	// across metadata and storage: if this fails the object is
	// orphaned and the key is logged for out-of-band reconciliation.
	if err := s.store.Delete(r.Context(), s.config.Storage.Buckets.Datasets, d.ID); err != nil {
		s.logger.Error("storage delete failed, object orphaned",
			zap.String("dataset_id", d.ID),
			zap.String("bucket", s.config.Storage.Buckets.Datasets),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "storage delete failed")
		return
	}

	s.events.Log(events.Event{Type: events.DatasetDeleted, DatasetID: d.ID, UserID: caller})
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDuplicateDataset clones a dataset via the asynchronous
// duplication job.
//
// Deprecated: kept for existing clients; duplication is moving into the
// processing service entirely.
func (s *Server) handleDuplicateDataset(w http.ResponseWriter, r *http.Request) {
	src := contextDataset(r.Context())
	caller := callerID(r.Context())

	var body struct {
		NewTitle string `json:"newTitle"`
	}
	// Body is optional; a missing title falls back to "<title> (copy)".
	_ = json.NewDecoder(r.Body).Decode(&body)

	title := body.NewTitle
	if title == "" {
		title = src.Title + " (copy)"
	}

	now := time.Now()
	clone := &dataset.Dataset{
		ID:      uuid.New().String(),
		OwnerID: caller,
		Title:   title,
		Visibility: policy.Visibility{
			Owner:   caller,
			Editors: []string{caller},
			Viewers: []string{},
		},
		// Stays true until the processing service calls the completion
		// callback; never cleared optimistically.
		IsProcessing: true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Create(r.Context(), clone); err != nil {
		s.logger.Error("create clone record", zap.String("dataset_id", clone.ID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.events.Log(events.Event{Type: events.DatasetCreated, DatasetID: clone.ID, UserID: caller,
		Data: map[string]interface{}{"duplicatedFrom": src.ID}})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		_ = s.notifier.DuplicateDataset(ctx, src.ID, clone.ID)
	}()

	respondJSON(w, http.StatusOK, clone)
}

func (s *Server) handleDatasetReady(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DatasetID string `json:"datasetId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DatasetID == "" {
		respondError(w, http.StatusBadRequest, "datasetId is required")
		return
	}

	done := false
	err := s.repo.UpdateByID(r.Context(), body.DatasetID, dataset.Patch{IsProcessing: &done})
	if err != nil {
		if errors.Is(err, dataset.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not found")
			return
		}
		s.logger.Error("mark dataset ready", zap.String("dataset_id", body.DatasetID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.events.Log(events.Event{Type: events.ProcessCompleted, DatasetID: body.DatasetID})
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
