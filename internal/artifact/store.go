// Package artifact persists trained model bundles on disk. Writes are
// versioned and switched with an atomic pointer-file rename so a reader
// always sees either the previous bundle or the complete new one.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/ml"
)

// ErrNoArtifact indicates no trained bundle has been persisted yet.
var ErrNoArtifact = errors.New("artifact: no trained bundle available")

const (
	pointerFile  = "current"
	modelFile    = "model.json"
	scalerFile   = "scaler.json"
	anomalyFile  = "anomaly.json"
	metadataFile = "metadata.json"
)

// Store reads and writes bundles under one root directory.
type Store struct {
	root string
}

// NewStore creates the root directory if needed.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("artifact: empty store root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create store root: %w", err)
	}
	return &Store{root: root}, nil
}

// Save persists the bundle into a fresh version directory, then atomically
// repoints the current marker at it. Older versions are pruned afterwards.
func (s *Store) Save(bundle *ml.Bundle) error {
	if bundle == nil || bundle.Classifier == nil || bundle.Scaler == nil {
		return fmt.Errorf("artifact: incomplete bundle")
	}

	version := fmt.Sprintf("v%d", time.Now().UnixNano())
	tmpDir := filepath.Join(s.root, version+".tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return fmt.Errorf("artifact: create version dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	modelData, err := ml.MarshalClassifier(bundle.Classifier)
	if err != nil {
		return fmt.Errorf("artifact: %w", err)
	}
	files := map[string]interface{}{
		scalerFile:   bundle.Scaler,
		anomalyFile:  bundle.Anomaly,
		metadataFile: bundle.Metadata,
	}
	if err := os.WriteFile(filepath.Join(tmpDir, modelFile), modelData, 0o644); err != nil {
		return fmt.Errorf("artifact: write model: %w", err)
	}
	for name, v := range files {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("artifact: encode %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(tmpDir, name), data, 0o644); err != nil {
			return fmt.Errorf("artifact: write %s: %w", name, err)
		}
	}

	versionDir := filepath.Join(s.root, version)
	if err := os.Rename(tmpDir, versionDir); err != nil {
		return fmt.Errorf("artifact: publish version: %w", err)
	}

	// Pointer switch is the commit point.
	pointerTmp := filepath.Join(s.root, pointerFile+".tmp")
	if err := os.WriteFile(pointerTmp, []byte(version), 0o644); err != nil {
		return fmt.Errorf("artifact: write pointer: %w", err)
	}
	if err := os.Rename(pointerTmp, filepath.Join(s.root, pointerFile)); err != nil {
		return fmt.Errorf("artifact: switch pointer: %w", err)
	}

	s.prune(version)
	return nil
}

// Load reads the bundle the current pointer names. A missing pointer or a
// missing component file fails cleanly so callers can retrain.
func (s *Store) Load() (*ml.Bundle, error) {
	data, err := os.ReadFile(filepath.Join(s.root, pointerFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoArtifact
		}
		return nil, fmt.Errorf("artifact: read pointer: %w", err)
	}
	versionDir := filepath.Join(s.root, strings.TrimSpace(string(data)))

	modelData, err := os.ReadFile(filepath.Join(versionDir, modelFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoArtifact
		}
		return nil, fmt.Errorf("artifact: read model: %w", err)
	}
	classifier, err := ml.UnmarshalClassifier(modelData)
	if err != nil {
		return nil, err
	}

	bundle := &ml.Bundle{Classifier: classifier}
	targets := map[string]interface{}{
		scalerFile:   &bundle.Scaler,
		anomalyFile:  &bundle.Anomaly,
		metadataFile: &bundle.Metadata,
	}
	for name, target := range targets {
		raw, err := os.ReadFile(filepath.Join(versionDir, name))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ErrNoArtifact
			}
			return nil, fmt.Errorf("artifact: read %s: %w", name, err)
		}
		if err := json.Unmarshal(raw, target); err != nil {
			return nil, fmt.Errorf("artifact: decode %s: %w", name, err)
		}
	}
	if bundle.Scaler == nil {
		return nil, fmt.Errorf("artifact: bundle missing scaler")
	}
	return bundle, nil
}

// prune removes version directories strictly older than keep. Newer
// directories may belong to an in-flight Save from another Store on the
// same root, so they are left alone. Best effort, a leftover directory
// is harmless.
func (s *Store) prune(keep string) {
	keepSeq, err := versionSeq(keep)
	if err != nil {
		return
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || name == keep {
			continue
		}
		seq, err := versionSeq(name)
		if err != nil || seq >= keepSeq {
			continue
		}
		os.RemoveAll(filepath.Join(s.root, name))
	}
}

// versionSeq parses the ordering a v<unixnano> directory name carries.
// Anything else, a pointer tmp file or an unfinished version dir, is
// not a version and never pruned.
func versionSeq(name string) (int64, error) {
	if !strings.HasPrefix(name, "v") {
		return 0, fmt.Errorf("artifact: not a version dir: %s", name)
	}
	return strconv.ParseInt(name[1:], 10, 64)
}
