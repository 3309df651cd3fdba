// Package capability issues scoped, time-limited credentials for direct
// client-to-storage uploads. File bytes never pass through the service:
// a caller receives a presigned POST and talks to the object store itself.
package capability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// ErrIssuance wraps every failure of the underlying storage service to
// sign a capability. Callers must not create or mutate metadata records
// when they see it: metadata persistence is ordered strictly after
// successful issuance.
var ErrIssuance = errors.New("issue capability")

// Capability is a transient upload credential. It is never persisted;
// it is returned to the caller and consumed by a direct upload.
type Capability struct {
	URL       string            `json:"url"`
	Fields    map[string]string `json:"fields"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// IssueRequest scopes a capability to one exact key in one bucket, a
// content-type family, and an expiry window.
type IssueRequest struct {
	Bucket            string
	Key               string
	ContentTypePrefix string
	TTL               time.Duration
}

// Issuer produces upload capabilities.
type Issuer interface {
	Issue(ctx context.Context, req IssueRequest) (*Capability, error)
}

// MinioIssuer signs presigned-POST capabilities with an S3-compatible
// credential set. Signing is local; the storage service is only
// contacted when the client uses the capability.
type MinioIssuer struct {
	client *minio.Client
	logger *zap.Logger
}

// NewMinioIssuer creates an issuer against the given endpoint.
func NewMinioIssuer(endpoint, accessKey, secretKey, region string, useSSL bool, logger *zap.Logger) (*MinioIssuer, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &MinioIssuer{client: client, logger: logger}, nil
}

// Issue signs a capability. The TTL is passed through unmodified;
// enforcement past expiry belongs to the storage service.
func (i *MinioIssuer) Issue(ctx context.Context, req IssueRequest) (*Capability, error) {
	expiresAt := time.Now().UTC().Add(req.TTL)

	post := minio.NewPostPolicy()
	if err := post.SetBucket(req.Bucket); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIssuance, err)
	}
	if err := post.SetKey(req.Key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIssuance, err)
	}
	if err := post.SetExpires(expiresAt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIssuance, err)
	}
	if req.ContentTypePrefix != "" {
		if err := post.SetContentTypeStartsWith(req.ContentTypePrefix); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIssuance, err)
		}
	}

	url, fields, err := i.client.PresignedPostPolicy(ctx, post)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIssuance, err)
	}

	i.logger.Debug("capability issued",
		zap.String("bucket", req.Bucket),
		zap.String("key", req.Key),
		zap.Duration("ttl", req.TTL),
	)

	return &Capability{
		URL:       url.String(),
		Fields:    fields,
		ExpiresAt: expiresAt,
	}, nil
}
