// Package gateway is the single choke point for dataset-scoped requests:
// it resolves the record and asks the policy engine for a verdict before
// any handler logic runs.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/FairForge/datasetd/internal/dataset"
	"github.com/FairForge/datasetd/internal/policy"
)

// ErrForbidden means the dataset exists but the caller lacks the
// required relationship to it. Never returned for a missing dataset;
// lookup misses surface dataset.ErrNotFound so existence is not leaked.
var ErrForbidden = errors.New("forbidden")

// Gateway authorizes dataset operations.
type Gateway struct {
	repo   dataset.Repository
	logger *zap.Logger
}

// New creates a Gateway over the given repository.
func New(repo dataset.Repository, logger *zap.Logger) *Gateway {
	return &Gateway{repo: repo, logger: logger}
}

// Authorize loads the dataset and evaluates the visibility policy.
// On allow it returns the record so handlers avoid a second lookup.
func (g *Gateway) Authorize(ctx context.Context, datasetID, callerID string, verb policy.Verb) (*dataset.Dataset, error) {
	d, err := g.repo.FindByID(ctx, datasetID)
	if err != nil {
		if errors.Is(err, dataset.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load dataset %s: %w", datasetID, err)
	}

	if !policy.Decide(d.Visibility, callerID, verb) {
		g.logger.Debug("policy deny",
			zap.String("dataset_id", datasetID),
			zap.String("caller_id", callerID),
			zap.String("verb", string(verb)),
		)
		return nil, ErrForbidden
	}

	return d, nil
}
