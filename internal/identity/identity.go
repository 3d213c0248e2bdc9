// Package identity manages the identity of one estream writer instance.
// Every writer has a persistent ULID generated on first start and stored in
// the data directory. The checkpoint store is stamped under WriterKey with
// the generation that owns it and every log line carries the ID, so segment
// metadata written by different writer generations stays traceable.
package identity

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const writerIDFile = "writer_id"

// WriterKey is the checkpoint-store key under which the owning writer
// generation is stamped.
const WriterKey = "writer_id"

// ID is a ULID string that uniquely identifies one estream writer process.
// It is stable across restarts within the same data directory.
type ID string

func (id ID) String() string { return string(id) }

// IsZero reports whether the ID is the zero value.
func (id ID) IsZero() bool { return id == "" }

// Writer holds the persistent identity of this writer instance.
type Writer struct {
	id      ID
	dataDir string
}

// New returns a Writer whose ID is loaded from dataDir/writer_id.
// If the file does not exist a new ULID is generated and written.
// A non-empty override other than "auto" is used verbatim after validation.
func New(dataDir string, override string) (*Writer, error) {
	if dataDir == "" {
		return nil, errors.New("identity: dataDir must not be empty")
	}

	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("identity: create data dir: %w", err)
	}

	// Explicit override takes precedence (useful in tests / container envs).
	if override != "" && override != "auto" {
		if err := validateULID(override); err != nil {
			return nil, fmt.Errorf("identity: invalid id override %q: %w", override, err)
		}
		return &Writer{id: ID(override), dataDir: dataDir}, nil
	}

	id, err := loadOrGenerate(dataDir)
	if err != nil {
		return nil, err
	}
	return &Writer{id: id, dataDir: dataDir}, nil
}

// ID returns the writer's stable ULID string.
func (w *Writer) ID() ID { return w.id }

// DataDir returns the root data directory for this writer.
func (w *Writer) DataDir() string { return w.dataDir }

// loadOrGenerate reads the writer ID from disk, creating a new one if absent.
func loadOrGenerate(dataDir string) (ID, error) {
	path := filepath.Join(dataDir, writerIDFile)

	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if err := validateULID(id); err != nil {
			return "", fmt.Errorf("identity: persisted id %q is invalid: %w", id, err)
		}
		return ID(id), nil
	}

	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("identity: read id file: %w", err)
	}

	id, err := generateULID()
	if err != nil {
		return "", fmt.Errorf("identity: generate id: %w", err)
	}

	if err := os.WriteFile(path, []byte(id.String()+"\n"), 0o640); err != nil {
		return "", fmt.Errorf("identity: persist id: %w", err)
	}

	return id, nil
}

// monoEntropy is a package-level monotone entropy source shared across all
// generateULID calls, keeping IDs lexicographically ordered even when
// generated within the same millisecond.
var (
	monoMu      sync.Mutex
	monoEntropy io.Reader = ulid.Monotonic(rand.Reader, 0)
)

func generateULID() (ID, error) {
	monoMu.Lock()
	defer monoMu.Unlock()
	ms := ulid.Timestamp(time.Now())
	id, err := ulid.New(ms, monoEntropy)
	if err != nil {
		return "", err
	}
	return ID(id.String()), nil
}

// validateULID returns an error if s is not a well-formed ULID string.
func validateULID(s string) error {
	_, err := ulid.ParseStrict(s)
	return err
}
