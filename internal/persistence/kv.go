package persistence

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	ferrors "git.home.luguber.info/inful/livedocs/internal/foundation/errors"
	"git.home.luguber.info/inful/livedocs/internal/logfields"
)

// KVStore implements Store on a NATS JetStream key-value bucket so edits can be
// shared between runtimes pointed at the same server.
type KVStore struct {
	conn *nats.Conn
	kv   jetstream.KeyValue
}

// NewKVStore connects to url and opens (or creates) bucket.
func NewKVStore(ctx context.Context, url, bucket string) (*KVStore, error) {
	conn, err := nats.Connect(url, nats.Name("livedocs-persistence"))
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryPersistence, "connect to NATS").
			WithContext("url", url).Build()
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, ferrors.WrapError(err, ferrors.CategoryPersistence, "create JetStream context").Build()
	}

	kv, err := openBucket(ctx, js, bucket)
	if err != nil {
		conn.Close()
		return nil, err
	}

	slog.Info("NATS KV persistence initialized", logfields.Endpoint(url), slog.String("bucket", bucket))
	return &KVStore{conn: conn, kv: kv}, nil
}

// NewKVStoreFromBucket wraps an already opened bucket. Close leaves the connection open.
func NewKVStoreFromBucket(kv jetstream.KeyValue) *KVStore {
	return &KVStore{kv: kv}
}

func openBucket(ctx context.Context, js jetstream.JetStream, bucket string) (jetstream.KeyValue, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	kv, err := js.KeyValue(ctx, bucket)
	if err == nil {
		return kv, nil
	}

	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "livedocs edited block code",
		History:     1,
	})
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryPersistence, "create KV bucket").
			WithContext("bucket", bucket).Build()
	}
	return kv, nil
}

// kvKey encodes both parts so arbitrary page keys stay within the KV key alphabet.
func kvKey(pageKey, blockID string) string {
	return kvPrefix(pageKey) + base64.RawURLEncoding.EncodeToString([]byte(blockID))
}

func kvPrefix(pageKey string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(pageKey)) + "."
}

func (s *KVStore) Save(ctx context.Context, pageKey, blockID, code, fingerprint string) error {
	if err := validateKey(pageKey, blockID); err != nil {
		return err
	}
	data, err := json.Marshal(Record{
		PageKey:     pageKey,
		BlockID:     blockID,
		Code:        code,
		Fingerprint: fingerprint,
		SavedAt:     time.Now().UTC(),
	})
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryPersistence, "marshal record").Build()
	}
	if _, err := s.kv.Put(ctx, kvKey(pageKey, blockID), data); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryPersistence, "put record").
			WithContext("page_key", pageKey).WithContext("block_id", blockID).Build()
	}
	return nil
}

func (s *KVStore) Load(ctx context.Context, pageKey, blockID string) (Record, bool, error) {
	if err := validateKey(pageKey, blockID); err != nil {
		return Record{}, false, err
	}
	return s.get(ctx, kvKey(pageKey, blockID))
}

func (s *KVStore) get(ctx context.Context, key string) (Record, bool, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return Record{}, false, nil
		}
		return Record{}, false, ferrors.WrapError(err, ferrors.CategoryPersistence, "get record").Build()
	}
	var rec Record
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return Record{}, false, ferrors.WrapError(err, ferrors.CategoryPersistence, "unmarshal record").Build()
	}
	return rec, true, nil
}

func (s *KVStore) Delete(ctx context.Context, pageKey, blockID string) error {
	if err := validateKey(pageKey, blockID); err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, kvKey(pageKey, blockID)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return ferrors.WrapError(err, ferrors.CategoryPersistence, "delete record").Build()
	}
	return nil
}

func (s *KVStore) keys(ctx context.Context) ([]string, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryPersistence, "list keys").Build()
	}
	defer func() { _ = lister.Stop() }()

	var keys []string
	for k := range lister.Keys() {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *KVStore) List(ctx context.Context, pageKey string) ([]Record, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return nil, err
	}
	prefix := kvPrefix(pageKey)
	out := make([]Record, 0)
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rec, ok, err := s.get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *KVStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, k := range keys {
		rec, ok, err := s.get(ctx, k)
		if err != nil || !ok || !rec.SavedAt.Before(cutoff) {
			continue
		}
		if err := s.kv.Delete(ctx, k); err != nil {
			return n, ferrors.WrapError(err, ferrors.CategoryPersistence, "prune record").Build()
		}
		n++
	}
	return n, nil
}

// Close closes the NATS connection when the store owns it.
func (s *KVStore) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}
