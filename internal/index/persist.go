package index

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/philippgille/chromem-go"

	"rag_assistant/internal/chunker"
)

// FileInfo identifies one version of the source document.
type FileInfo struct {
	Path         string    `json:"path"`
	LastModified time.Time `json:"last_modified"`
	Size         int64     `json:"size"`
}

// Manifest describes what a saved index was built from. Fingerprint hashes
// the ordered chunk ids and texts, so a change in segmentation settings
// invalidates the saved vectors.
type Manifest struct {
	Source      FileInfo `json:"source"`
	DataPath    string   `json:"data_path"`
	Provider    string   `json:"provider"`
	Chunker     string   `json:"chunker"`
	Chunks      int      `json:"chunks"`
	Fingerprint string   `json:"fingerprint"`
}

// Store persists the vector collection and its manifest in a data directory.
type Store struct {
	DataDir      string
	MetadataFile string
	DBFile       string

	log *slog.Logger
}

// NewStore prepares the data directory.
func NewStore(dataDir, metadataFile, dbFile string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute data dir: %w", err)
	}
	if metadataFile == "" {
		metadataFile = filepath.Join(dataDir, "index_meta.json")
	}
	if dbFile == "" {
		dbFile = filepath.Join(dataDir, "index.gob.gz")
	}
	return &Store{DataDir: absDataDir, MetadataFile: metadataFile, DBFile: dbFile, log: log}, nil
}

// Valid reports whether the saved index was built from the same source,
// provider and chunks in the same data directory.
func (s *Store) Valid(want Manifest) bool {
	got, err := s.loadManifest()
	if err != nil {
		s.log.Debug("no usable manifest", "error", err)
		return false
	}
	if _, err := os.Stat(s.DBFile); err != nil {
		return false
	}

	if got.DataPath != "" && got.DataPath != s.DataDir {
		s.log.Info("data directory changed, invalidating saved index", "from", got.DataPath, "to", s.DataDir)
		s.Invalidate()
		return false
	}
	return got.Source.Path == want.Source.Path &&
		got.Source.Size == want.Source.Size &&
		got.Source.LastModified.Equal(want.Source.LastModified) &&
		got.Provider == want.Provider &&
		got.Chunker == want.Chunker &&
		got.Chunks == want.Chunks &&
		got.Fingerprint == want.Fingerprint
}

// Fingerprint returns a sha256 over the chunk ids and texts in order.
func Fingerprint(chunks []chunker.Chunk) string {
	h := sha256.New()
	for _, ch := range chunks {
		h.Write([]byte(chunker.ID(ch)))
		h.Write([]byte{0})
		h.Write([]byte(ch.Text))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Invalidate removes the saved manifest and collection.
func (s *Store) Invalidate() {
	_ = os.Remove(s.MetadataFile)
	_ = os.Remove(s.DBFile)
}

// Load imports the saved collection into db.
func (s *Store) Load(db *chromem.DB) error {
	s.log.Info("loading vector database", "path", s.DBFile)
	if err := db.ImportFromFile(s.DBFile, "", collectionName); err != nil {
		return fmt.Errorf("failed to import DB: %w", err)
	}
	return nil
}

// Save exports the collection and then writes the manifest, so a manifest
// never points at a missing export.
func (s *Store) Save(db *chromem.DB, m Manifest) error {
	if err := db.ExportToFile(s.DBFile, true, "", collectionName); err != nil {
		return fmt.Errorf("failed to export DB: %w", err)
	}
	m.DataPath = s.DataDir
	return s.saveManifest(m)
}

func (s *Store) loadManifest() (*Manifest, error) {
	f, err := os.Open(s.MetadataFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("manifest %s not found", s.MetadataFile)
	} else if err != nil {
		return nil, err
	}
	defer f.Close()

	var m Manifest
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

func (s *Store) saveManifest(m Manifest) error {
	f, err := os.Create(s.MetadataFile)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}
