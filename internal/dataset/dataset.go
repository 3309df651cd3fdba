package dataset

import (
	"context"
	"errors"
	"time"

	"github.com/FairForge/datasetd/internal/policy"
)

// ErrNotFound means the dataset id does not resolve. Callers must keep
// this distinct from a policy deny: not-found hides existence, forbidden
// confirms it.
var ErrNotFound = errors.New("dataset not found")

// Dataset is the metadata record for one tabular dataset. The backing
// objects live in object storage under keys derived from ID; the record
// and the objects are provisioned independently.
type Dataset struct {
	ID           string            `json:"id"`
	OwnerID      string            `json:"ownerId"`
	Title        string            `json:"title"`
	Visibility   policy.Visibility `json:"visibilitySettings"`
	IsProcessing bool              `json:"isProcessing"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// Patch is the full set of mutable fields. Anything not named here is
// not patchable: id and owner are immutable, and handlers reject
// payloads carrying unknown fields before this struct is ever built.
type Patch struct {
	Title        *string   `json:"title,omitempty"`
	Editors      *[]string `json:"editors,omitempty"`
	Viewers      *[]string `json:"viewers,omitempty"`
	IsPublic     *bool     `json:"isPublic,omitempty"`
	IsProcessing *bool     `json:"isProcessing,omitempty"`
}

// Repository is keyed CRUD over dataset records. Updates are
// last-write-wins; there is no version token.
type Repository interface {
	Create(ctx context.Context, d *Dataset) error
	FindByID(ctx context.Context, id string) (*Dataset, error)
	UpdateByID(ctx context.Context, id string, p Patch) error
	DeleteByID(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID string) ([]*Dataset, error)
}
