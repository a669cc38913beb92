package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"strings"

	"github.com/philippgille/chromem-go"

	"rag_assistant/internal/chunker"
	"rag_assistant/internal/embedding"
	"rag_assistant/internal/metrics"
)

const collectionName = "docs"

// Result is one retrieved chunk with its cosine similarity to the query.
type Result struct {
	Chunk      chunker.Chunk
	Similarity float32
}

// Index is an immutable vector index over the chunks of one source document.
// It is safe for concurrent searches.
type Index struct {
	db       *chromem.DB
	coll     *chromem.Collection
	chunks   map[string]chunker.Chunk
	provider string
	log      *slog.Logger
}

// Options control how the index is built.
type Options struct {
	// Store enables on-disk persistence. Nil means in-memory only.
	Store *Store
	// Source describes the document the chunks came from; it is compared with
	// the stored manifest to decide whether the saved index is still valid.
	Source FileInfo
	// Chunker names the segmentation strategy, part of the manifest.
	Chunker string
	// Reindex forces re-embedding even when the manifest matches.
	Reindex bool
	Logger  *slog.Logger
}

// Build embeds every chunk once and returns the ready index. When a store is
// configured and its manifest matches the source, the saved vectors are
// imported instead.
func Build(ctx context.Context, chunks []chunker.Chunk, provider embedding.Provider, opts Options) (*Index, error) {
	if len(chunks) == 0 {
		return nil, errors.New("no chunks to index")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	corpus := make([]string, len(chunks))
	byID := make(map[string]chunker.Chunk, len(chunks))
	for i, ch := range chunks {
		corpus[i] = ch.Text
		byID[chunker.ID(ch)] = ch
	}
	if len(byID) != len(chunks) {
		return nil, errors.New("duplicate chunk ids")
	}
	if err := provider.Prepare(ctx, corpus); err != nil {
		return nil, fmt.Errorf("prepare embeddings: %w", err)
	}

	idx := &Index{
		db:       chromem.NewDB(),
		chunks:   byID,
		provider: provider.Name(),
		log:      log,
	}

	manifest := Manifest{
		Source:      opts.Source,
		Provider:    provider.Name(),
		Chunker:     opts.Chunker,
		Chunks:      len(chunks),
		Fingerprint: Fingerprint(chunks),
	}

	if opts.Store != nil && !opts.Reindex {
		ok, err := idx.restore(opts.Store, manifest, provider.Func())
		if err != nil {
			log.Warn("saved index unusable, rebuilding", "error", err)
		}
		if ok {
			metrics.IndexedChunks.Set(float64(idx.coll.Count()))
			return idx, nil
		}
	}

	coll, err := idx.db.CreateCollection(collectionName, map[string]string{}, provider.Func())
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	idx.coll = coll

	docs := make([]chromem.Document, 0, len(chunks))
	for _, ch := range chunks {
		docs = append(docs, chromem.Document{
			ID:       chunker.ID(ch),
			Content:  ch.Text,
			Metadata: encodeMetadata(ch.Metadata),
		})
	}

	log.Info("embedding chunks", "chunks", len(docs), "provider", provider.Name())
	if err := coll.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	metrics.IndexedChunks.Set(float64(coll.Count()))

	if opts.Store != nil {
		if err := opts.Store.Save(idx.db, manifest); err != nil {
			log.Warn("failed to save index", "error", err)
		} else {
			log.Info("index saved", "path", opts.Store.DBFile)
		}
	}
	return idx, nil
}

func (idx *Index) restore(store *Store, manifest Manifest, ef chromem.EmbeddingFunc) (bool, error) {
	if !store.Valid(manifest) {
		return false, nil
	}
	if err := store.Load(idx.db); err != nil {
		return false, err
	}
	coll := idx.db.GetCollection(collectionName, ef)
	if coll == nil {
		return false, fmt.Errorf("collection %q not found after import", collectionName)
	}
	if coll.Count() != manifest.Chunks {
		return false, fmt.Errorf("saved index has %d chunks, expected %d", coll.Count(), manifest.Chunks)
	}
	idx.coll = coll
	idx.log.Info("restored saved index", "chunks", coll.Count(), "path", store.DBFile)
	return true, nil
}

// Len is the number of indexed chunks.
func (idx *Index) Len() int {
	return idx.coll.Count()
}

// Provider names the embedding provider the index was built with.
func (idx *Index) Provider() string {
	return idx.provider
}

// Search returns the k chunks most similar to query, most similar first.
// The result holds min(k, Len()) chunks; a blank query yields no chunks.
func (idx *Index) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if k < 1 {
		return nil, fmt.Errorf("k must be at least 1, got %d", k)
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if n := idx.coll.Count(); k > n {
		k = n
	}

	found, err := idx.coll.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	results := make([]Result, 0, len(found))
	for _, r := range found {
		ch, ok := idx.chunks[r.ID]
		if !ok {
			ch = chunker.Chunk{Text: r.Content, Metadata: decodeMetadata(r.Metadata)}
		}
		results = append(results, Result{Chunk: ch, Similarity: r.Similarity})
	}
	return results, nil
}

// Retrieve returns only the chunks of Search.
func (idx *Index) Retrieve(ctx context.Context, query string, k int) ([]chunker.Chunk, error) {
	results, err := idx.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	chunks := make([]chunker.Chunk, len(results))
	for i, r := range results {
		chunks[i] = r.Chunk
	}
	return chunks, nil
}

func encodeMetadata(m chunker.Metadata) map[string]string {
	out := map[string]string{
		"source":   m.Source,
		"chunk_id": strconv.Itoa(m.ChunkID),
	}
	if m.Section != "" {
		out["section"] = m.Section
	}
	if m.HasArticle {
		out["article"] = strconv.Itoa(m.Article)
	}
	return out
}

func decodeMetadata(in map[string]string) chunker.Metadata {
	m := chunker.Metadata{Source: in["source"], Section: in["section"]}
	m.ChunkID, _ = strconv.Atoi(in["chunk_id"])
	if a, ok := in["article"]; ok {
		if n, err := strconv.Atoi(a); err == nil {
			m.Article, m.HasArticle = n, true
		}
	}
	return m
}
