package memory

import (
	"encoding/json"
	"fmt"

	"github.com/poudelalish/blockchain-inventory/pkg/domain"
)

// Bucket names used by the durable stores' state(bucket, payload) table.
const (
	BucketMeta       = "meta"
	BucketRoles      = "roles"
	BucketProducts   = "products"
	BucketTimestamps = "timestamps"
)

// Buckets lists every bucket in write order.
var Buckets = []string{BucketMeta, BucketRoles, BucketProducts, BucketTimestamps}

type meta struct {
	Owner         domain.Address `json:"owner"`
	SchemaVersion int            `json:"schema_version"`
}

// EncodeBuckets splits a snapshot into per-bucket JSON payloads.
func EncodeBuckets(snap Snapshot) (map[string][]byte, error) {
	parts := map[string]any{
		BucketMeta:       meta{Owner: snap.Owner, SchemaVersion: snap.SchemaVersion},
		BucketRoles:      nonNilRoles(snap.Roles),
		BucketProducts:   nonNil(snap.Products),
		BucketTimestamps: nonNil(snap.Timestamps),
	}
	out := make(map[string][]byte, len(parts))
	for _, bucket := range Buckets {
		data, err := json.Marshal(parts[bucket])
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		out[bucket] = data
	}
	return out, nil
}

// DecodeBuckets reassembles a snapshot from bucket payloads. Unknown buckets
// are ignored; missing buckets decode as empty.
func DecodeBuckets(payloads map[string][]byte) (Snapshot, error) {
	var snap Snapshot
	var m meta
	targets := map[string]any{
		BucketMeta:       &m,
		BucketRoles:      &snap.Roles,
		BucketProducts:   &snap.Products,
		BucketTimestamps: &snap.Timestamps,
	}
	for _, bucket := range Buckets {
		payload := payloads[bucket]
		if len(payload) == 0 {
			continue
		}
		if err := json.Unmarshal(payload, targets[bucket]); err != nil {
			return Snapshot{}, fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	snap.Owner = m.Owner
	snap.SchemaVersion = m.SchemaVersion
	return snap, nil
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func nonNilRoles(in map[domain.RoleKind][]domain.Role) map[domain.RoleKind][]domain.Role {
	if in == nil {
		return map[domain.RoleKind][]domain.Role{}
	}
	return in
}
