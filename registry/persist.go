package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// KeyValueStore is durable keyed byte storage. Load returns (nil, nil) for a
// missing key. Save must replace the value atomically.
type KeyValueStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
}

const registryVersion = 1

type registryEnvelope struct {
	Version int                 `json:"version"`
	Records map[AnchorID]Record `json:"records"`
}

// RegistryStore saves and loads the whole registry under a single key.
type RegistryStore struct {
	kv     KeyValueStore
	key    string
	logger *zap.Logger
}

// NewRegistryStore creates a store writing to key in kv.
func NewRegistryStore(kv KeyValueStore, key string, logger *zap.Logger) *RegistryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistryStore{kv: kv, key: key, logger: logger.Named("store")}
}

// LoadAll reads the registry. Missing data yields an empty map; undecodable
// data yields ErrCorruptedRegistry.
//
// Both the versioned envelope and the older bare {id: record} map are
// accepted.
func (s *RegistryStore) LoadAll(ctx context.Context) (map[AnchorID]Record, error) {
	data, err := s.kv.Load(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("loading registry %q: %w", s.key, err)
	}
	if len(data) == 0 {
		s.logger.Info("no saved registry", zap.String("key", s.key))
		return map[AnchorID]Record{}, nil
	}

	records, version, err := decodeRegistry(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptedRegistry, s.key, err)
	}
	s.logger.Info("registry loaded",
		zap.String("key", s.key), zap.Int("version", version), zap.Int("records", len(records)))
	return records, nil
}

// SaveAll overwrites the registry with records. The encoding is
// deterministic, so saving what was loaded reproduces the same bytes.
func (s *RegistryStore) SaveAll(ctx context.Context, records map[AnchorID]Record) error {
	if records == nil {
		records = map[AnchorID]Record{}
	}
	data, err := encodeRegistry(records)
	if err != nil {
		return fmt.Errorf("encoding registry: %w", err)
	}
	if err := s.kv.Save(ctx, s.key, data); err != nil {
		return fmt.Errorf("saving registry %q: %w", s.key, err)
	}
	s.logger.Info("registry saved", zap.String("key", s.key), zap.Int("records", len(records)))
	return nil
}

// Key is the key the registry is stored under.
func (s *RegistryStore) Key() string { return s.key }

// Quarantine copies the raw registry bytes to "<key>.corrupt" so that a
// later SaveAll cannot destroy them, and returns that key. An earlier
// quarantined copy holding different bytes is never replaced.
func (s *RegistryStore) Quarantine(ctx context.Context) (string, error) {
	dst := s.key + ".corrupt"
	data, err := s.kv.Load(ctx, s.key)
	if err != nil {
		return "", fmt.Errorf("reading registry %q: %w", s.key, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("registry %q is empty, nothing to quarantine", s.key)
	}
	existing, err := s.kv.Load(ctx, dst)
	if err != nil {
		return "", fmt.Errorf("reading %q: %w", dst, err)
	}
	if len(existing) > 0 && !bytes.Equal(existing, data) {
		return "", fmt.Errorf("%q already holds an earlier corrupted registry", dst)
	}
	if err := s.kv.Save(ctx, dst, data); err != nil {
		return "", fmt.Errorf("saving %q: %w", dst, err)
	}
	s.logger.Warn("corrupted registry copied aside",
		zap.String("key", s.key), zap.String("copy", dst), zap.Int("bytes", len(data)))
	return dst, nil
}

func encodeRegistry(records map[AnchorID]Record) ([]byte, error) {
	return json.MarshalIndent(registryEnvelope{Version: registryVersion, Records: records}, "", "  ")
}

func decodeRegistry(data []byte) (map[AnchorID]Record, int, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, 0, err
	}

	version := 0
	body := data
	if raw, ok := probe["version"]; ok {
		if err := json.Unmarshal(raw, &version); err != nil {
			return nil, 0, fmt.Errorf("version: %w", err)
		}
		if version < 1 || version > registryVersion {
			return nil, version, fmt.Errorf("unsupported registry version %d", version)
		}
		body = probe["records"]
		if body == nil {
			return nil, version, fmt.Errorf("missing records")
		}
	}

	var records map[AnchorID]Record
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, version, err
	}
	if records == nil {
		records = map[AnchorID]Record{}
	}
	for id, r := range records {
		switch {
		case r.ID == "":
			r.ID = id
			records[id] = r
		case r.ID != id:
			return nil, version, fmt.Errorf("record keyed %q carries id %q", id, r.ID)
		}
		if err := r.Primitive.Validate(); err != nil {
			return nil, version, fmt.Errorf("record %q: %w", id, err)
		}
	}
	return records, version, nil
}
