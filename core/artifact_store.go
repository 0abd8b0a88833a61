package core

import "context"

// ArtifactStore persists named binary artifacts per session. Each Save
// creates a new version starting at 1; version 0 in Load means latest.
type ArtifactStore interface {
	Save(ctx context.Context, key SessionKey, name string, data []byte) (int, error)
	Load(ctx context.Context, key SessionKey, name string, version int) ([]byte, error)
	List(ctx context.Context, key SessionKey) ([]string, error)
	Delete(ctx context.Context, key SessionKey, name string) error
}
