package kb

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

// Snippet is a retrieved knowledge-base passage with its similarity score.
type Snippet struct {
	ChunkID    int64   `json:"chunk_id"`
	DocumentID int64   `json:"document_id"`
	Title      string  `json:"title"`
	Source     string  `json:"source,omitempty"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// Document describes an ingested knowledge-base document.
type Document struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Source    string    `json:"source,omitempty"`
	Chunks    int       `json:"chunks"`
	CreatedAt time.Time `json:"created_at"`
}

// Store manages Bitcoin reference documents and their chunk embeddings in a
// local SQLite database. ANN search runs through the sqlite-vec vec0 virtual
// table when the extension is available; otherwise a brute-force cosine scan
// over the stored blobs serves as fallback.
type Store struct {
	db       *sql.DB
	embedder Embedder
	dbPath   string
	vecReady bool
	mu       sync.RWMutex
}

// NewStore creates or opens the knowledge-base store and ensures its schema.
func NewStore(dbPath string, embedder Embedder) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("kb: database path required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("kb: embedder required")
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("kb: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("kb: open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("kb: verify database connection: %w", err)
	}

	store := &Store{db: db, embedder: embedder, dbPath: dbPath}
	if err = store.initializeSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Infof("knowledge base ready at %s (vector search: %t)", dbPath, store.vecReady)
	return store, nil
}

func (s *Store) initializeSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		source TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		embedding BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("kb: create schema: %w", err)
	}

	vecTable := fmt.Sprintf(`
	CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
		embedding float[%d],
		chunk_id INTEGER
	);
	`, s.embedder.Dimensions())

	if _, err := s.db.Exec(vecTable); err != nil {
		log.Warnf("kb: vec_chunks table unavailable, falling back to brute-force search: %v", err)
	} else {
		s.vecReady = true
	}
	return nil
}

// AddDocument chunks, embeds, and stores a document. It returns the stored
// document metadata including the number of chunks produced.
func (s *Store) AddDocument(ctx context.Context, title, source, content string) (*Document, error) {
	if title == "" {
		return nil, fmt.Errorf("kb: document title required")
	}
	texts := ChunkText(content)
	if len(texts) == 0 {
		return nil, fmt.Errorf("kb: document %q has no content", title)
	}

	embeddings, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("kb: embedding count %d does not match chunk count %d", len(embeddings), len(texts))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("kb: begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		"INSERT INTO documents (title, source) VALUES (?, ?)", title, source)
	if err != nil {
		return nil, fmt.Errorf("kb: insert document: %w", err)
	}
	docID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("kb: document id: %w", err)
	}

	for i, text := range texts {
		blob := encodeFloat32SliceToBlob(embeddings[i])
		chunkResult, errInsert := tx.ExecContext(ctx,
			"INSERT INTO chunks (document_id, content, embedding) VALUES (?, ?, ?)",
			docID, text, blob)
		if errInsert != nil {
			return nil, fmt.Errorf("kb: insert chunk: %w", errInsert)
		}
		if s.vecReady {
			chunkID, _ := chunkResult.LastInsertId()
			if _, errVec := tx.ExecContext(ctx,
				"INSERT INTO vec_chunks (embedding, chunk_id) VALUES (?, ?)",
				blob, chunkID); errVec != nil {
				// Non-fatal: the chunks table stays the source of truth and
				// search falls back to scanning it when vec rows are missing.
				log.Warnf("kb: vec_chunks insert failed: %v", errVec)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("kb: commit document: %w", err)
	}

	log.Debugf("kb: stored document %q with %d chunks", title, len(texts))
	return &Document{ID: docID, Title: title, Source: source, Chunks: len(texts), CreatedAt: time.Now()}, nil
}

// Search embeds the query and returns the topK most similar snippets.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]Snippet, error) {
	if topK <= 0 {
		topK = 5
	}

	queryEmbedding, err := s.embedder.Embed(ctx, query, true)
	if err != nil {
		return nil, err
	}
	return s.SearchByEmbedding(ctx, queryEmbedding, topK)
}

// SearchByEmbedding returns the topK snippets nearest to the given embedding.
func (s *Store) SearchByEmbedding(ctx context.Context, queryEmbedding []float32, topK int) ([]Snippet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.vecReady {
		snippets, err := s.searchVec(ctx, queryEmbedding, topK)
		if err != nil {
			log.Debugf("kb: vec search failed, falling back to brute force: %v", err)
		} else if len(snippets) > 0 {
			return snippets, nil
		}
		// An empty vec result also falls through: vec_chunks may have
		// rejected inserts (e.g. a dimension mismatch) while the chunks
		// table still holds valid embeddings.
	}
	return s.searchBruteForce(ctx, queryEmbedding, topK)
}

func (s *Store) searchVec(ctx context.Context, queryEmbedding []float32, topK int) ([]Snippet, error) {
	queryBlob := encodeFloat32SliceToBlob(queryEmbedding)
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, d.title, COALESCE(d.source, ''), c.content,
			vec_distance_cosine(vc.embedding, ?) AS distance
		FROM vec_chunks vc
		JOIN chunks c ON vc.chunk_id = c.id
		JOIN documents d ON c.document_id = d.id
		ORDER BY distance ASC
		LIMIT ?
	`, queryBlob, topK)
	if err != nil {
		return nil, fmt.Errorf("kb: vec search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snippets []Snippet
	for rows.Next() {
		var snippet Snippet
		var distance float64
		if errScan := rows.Scan(&snippet.ChunkID, &snippet.DocumentID, &snippet.Title,
			&snippet.Source, &snippet.Content, &distance); errScan != nil {
			log.Warnf("kb: failed to scan snippet row: %v", errScan)
			continue
		}
		snippet.Similarity = 1.0 - distance
		snippets = append(snippets, snippet)
	}
	return snippets, rows.Err()
}

func (s *Store) searchBruteForce(ctx context.Context, queryEmbedding []float32, topK int) ([]Snippet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, d.title, COALESCE(d.source, ''), c.content, c.embedding
		FROM chunks c
		JOIN documents d ON c.document_id = d.id
	`)
	if err != nil {
		return nil, fmt.Errorf("kb: scan chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snippets []Snippet
	for rows.Next() {
		var snippet Snippet
		var blob []byte
		if errScan := rows.Scan(&snippet.ChunkID, &snippet.DocumentID, &snippet.Title,
			&snippet.Source, &snippet.Content, &blob); errScan != nil {
			log.Warnf("kb: failed to scan chunk row: %v", errScan)
			continue
		}
		embedding := decodeBlobToFloat32Slice(blob)
		snippet.Similarity = cosineSimilarity(queryEmbedding, embedding)
		snippets = append(snippets, snippet)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(snippets, func(i, j int) bool {
		return snippets[i].Similarity > snippets[j].Similarity
	})
	if len(snippets) > topK {
		snippets = snippets[:topK]
	}
	return snippets, nil
}

// Documents lists ingested documents with their chunk counts.
func (s *Store) Documents(ctx context.Context) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.title, COALESCE(d.source, ''), COUNT(c.id), d.created_at
		FROM documents d
		LEFT JOIN chunks c ON c.document_id = d.id
		GROUP BY d.id
		ORDER BY d.created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("kb: list documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []Document
	for rows.Next() {
		var doc Document
		if errScan := rows.Scan(&doc.ID, &doc.Title, &doc.Source, &doc.Chunks, &doc.CreatedAt); errScan != nil {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// encodeFloat32SliceToBlob packs a float32 slice into a little-endian blob,
// the layout sqlite-vec expects for float[] columns.
func encodeFloat32SliceToBlob(values []float32) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, values)
	return buf.Bytes()
}

func decodeBlobToFloat32Slice(blob []byte) []float32 {
	if len(blob)%4 != 0 {
		return nil
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		af := float64(a[i])
		bf := float64(b[i])
		dot += af * bf
		na += af * af
		nb += bf * bf
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
