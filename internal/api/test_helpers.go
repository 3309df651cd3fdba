package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/FairForge/datasetd/internal/capability"
	"github.com/FairForge/datasetd/internal/storage"
)

// Fakes shared by the api tests.

type fakeIssuer struct {
	mu       sync.Mutex
	requests []capability.IssueRequest
	fail     bool
}

func (f *fakeIssuer) Issue(_ context.Context, req capability.IssueRequest) (*capability.Capability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		return nil, capability.ErrIssuance
	}
	f.requests = append(f.requests, req)
	return &capability.Capability{
		URL:       "https://storage.test/" + req.Bucket,
		Fields:    map[string]string{"key": req.Key},
		ExpiresAt: time.Now().UTC().Add(req.TTL),
	}, nil
}

func (f *fakeIssuer) issued() []capability.IssueRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capability.IssueRequest(nil), f.requests...)
}

type fakeStore struct {
	mu         sync.Mutex
	objects    map[string]*storage.ObjectInfo // bucket + "/" + key
	deleted    []string
	failDelete bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string]*storage.ObjectInfo)}
}

func (f *fakeStore) put(bucket, key string, info *storage.ObjectInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[bucket+"/"+key] = info
}

func (f *fakeStore) Head(_ context.Context, bucket, key string) (*storage.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	info, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.New("head object: not found")
	}
	return info, nil
}

func (f *fakeStore) Delete(_ context.Context, bucket, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failDelete {
		return errors.New("delete object: upstream failure")
	}
	delete(f.objects, bucket+"/"+key)
	f.deleted = append(f.deleted, bucket+"/"+key)
	return nil
}

type notification struct {
	kind  string
	key   string
	user  string
	oldID string
	newID string
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notification
}

func (f *fakeNotifier) ProcessDataset(_ context.Context, key, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, notification{kind: "process", key: key, user: userID})
	return nil
}

func (f *fakeNotifier) DuplicateDataset(_ context.Context, oldID, newID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, notification{kind: "duplicate", oldID: oldID, newID: newID})
	return nil
}

func (f *fakeNotifier) notifications() []notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notification(nil), f.calls...)
}
