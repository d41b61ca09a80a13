// Package storage provides durable throttle-state stores for deployments
// that must survive restarts without re-alerting every watched class.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"

	"seatwatch/pkg/watch"
)

const statePrefix = "seat-state-"

// Store persists per-class alert state as small JSON objects, either in a
// local directory or a Cloud Storage bucket.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
}

// New creates a state store. When localPath is non-empty the store writes
// to the local filesystem and the client may be nil; otherwise it writes
// to the named bucket.
func New(client *storage.Client, bucket, localPath string, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
	}
}

// StateKey generates a stable object name from a class id. Class ids are
// numeric upstream; anything else is rejected before it can reach the
// filesystem or bucket namespace.
func StateKey(classID string) string {
	if classID == "" || len(classID) > 32 {
		return ""
	}
	for _, c := range classID {
		if c < '0' || c > '9' {
			return ""
		}
	}
	return statePrefix + classID + ".json"
}

func classIDFromKey(key string) string {
	return strings.TrimSuffix(strings.TrimPrefix(key, statePrefix), ".json")
}

// Get loads the alert state for a class. ok=false when no state has been
// recorded.
func (s *Store) Get(ctx context.Context, classID string) (watch.AlertState, bool, error) {
	key := StateKey(classID)
	if key == "" {
		return watch.AlertState{}, false, errors.New("invalid class id")
	}

	var data []byte

	if s.localPath != "" {
		var err error
		data, err = os.ReadFile(filepath.Join(s.localPath, key))
		if err != nil {
			if os.IsNotExist(err) {
				return watch.AlertState{}, false, nil
			}
			return watch.AlertState{}, false, fmt.Errorf("read from local storage: %w", err)
		}
	} else {
		var readData []byte
		err := retry.Do(
			func() error {
				r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
				if openErr != nil {
					if errors.Is(openErr, storage.ErrObjectNotExist) {
						return retry.Unrecoverable(openErr)
					}
					return fmt.Errorf("open storage reader: %w", openErr)
				}
				defer func() {
					if closeErr := r.Close(); closeErr != nil {
						s.logger.Warn("Failed to close storage reader", "error", closeErr)
					}
				}()

				var readErr error
				readData, readErr = io.ReadAll(r)
				if readErr != nil {
					return fmt.Errorf("read from storage: %w", readErr)
				}
				return nil
			},
			retry.Attempts(3),
			retry.Delay(time.Second),
			retry.MaxDelay(30*time.Second),
			retry.MaxJitter(2*time.Second),
			retry.Context(ctx),
			retry.OnRetry(func(n uint, retryErr error) {
				s.logger.Info("Retrying state load after error", "attempt", n, "key", key, "error", retryErr)
			}),
		)
		if errors.Is(err, storage.ErrObjectNotExist) {
			return watch.AlertState{}, false, nil
		}
		if err != nil {
			return watch.AlertState{}, false, fmt.Errorf("load after retries: %w", err)
		}
		data = readData
	}

	var state watch.AlertState
	if err := json.Unmarshal(data, &state); err != nil {
		return watch.AlertState{}, false, fmt.Errorf("unmarshal state: %w", err)
	}
	return state, true, nil
}

// Put saves the alert state for a class.
func (s *Store) Put(ctx context.Context, classID string, state watch.AlertState) error {
	key := StateKey(classID)
	if key == "" {
		return errors.New("invalid class id")
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if s.localPath != "" {
		path := filepath.Join(s.localPath, key)
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		s.logger.Debug("State saved to local storage", "path", path, "class_id", classID)
		return nil
	}

	err = retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(2*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying state save after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}

	s.logger.Debug("State saved", "key", key, "class_id", classID)
	return nil
}

// Delete removes the state for a class. Deletion is idempotent.
func (s *Store) Delete(ctx context.Context, classID string) error {
	key := StateKey(classID)
	if key == "" {
		return errors.New("invalid class id")
	}

	if s.localPath != "" {
		if err := os.Remove(filepath.Join(s.localPath, key)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete from local storage: %w", err)
		}
		return nil
	}

	err := retry.Do(
		func() error {
			if deleteErr := s.client.Bucket(s.bucket).Object(key).Delete(ctx); deleteErr != nil {
				if errors.Is(deleteErr, storage.ErrObjectNotExist) {
					return nil
				}
				return fmt.Errorf("delete from storage: %w", deleteErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(2*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying state delete after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("delete after retries: %w", err)
	}
	return nil
}

// ClassIDs lists every class with recorded state. Used at startup to
// forget classes that left the watch-set.
func (s *Store) ClassIDs(ctx context.Context) ([]string, error) {
	var ids []string

	if s.localPath != "" {
		entries, err := os.ReadDir(s.localPath)
		if err != nil {
			return nil, fmt.Errorf("read local storage directory: %w", err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasPrefix(name, statePrefix) || !strings.HasSuffix(name, ".json") {
				continue
			}
			ids = append(ids, classIDFromKey(name))
		}
		return ids, nil
	}

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: statePrefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}
		ids = append(ids, classIDFromKey(attrs.Name))
	}
	return ids, nil
}
