package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"

	_ "modernc.org/sqlite"

	"taxrag/internal/domain"
	"taxrag/internal/embedding"
)

const formatVersion = "1"

// ErrIndexNotFound is returned by Load when no persisted index exists.
var ErrIndexNotFound = errors.New("persisted index not found")

var schema = []string{
	`CREATE TABLE meta (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`,
	`CREATE TABLE entries (
		ordinal INTEGER PRIMARY KEY,
		id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		source TEXT NOT NULL,
		page INTEGER NOT NULL,
		start INTEGER NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		vector BLOB NOT NULL
	)`,
}

// Persist writes the index to a SQLite file at path, replacing any
// existing file once the new one is complete.
func (ix *Index) Persist(ctx context.Context, path string) error {
	tmp := path + ".tmp"
	_ = os.Remove(tmp)

	db, err := sql.Open("sqlite", tmp)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	if err := ix.write(ctx, db); err != nil {
		db.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := db.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close sqlite: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	ix.log.Info("index persisted", "path", path, "entries", len(ix.chunks))
	return nil
}

func (ix *Index) write(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	var state []byte
	if st, ok := ix.embedder.(embedding.Stateful); ok && len(ix.chunks) > 0 {
		var err error
		if state, err = st.MarshalState(); err != nil {
			return fmt.Errorf("embedder state: %w", err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	meta := map[string][]byte{
		"format":    []byte(formatVersion),
		"embedder":  []byte(ix.embedder.Name()),
		"dimension": []byte(strconv.Itoa(ix.dimension())),
		"state":     state,
	}
	for k, v := range meta {
		if v == nil {
			v = []byte{}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("write meta %s: %w", k, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO entries
		(ordinal, id, document_id, source, page, start, chunk_index, text, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, ch := range ix.chunks {
		if _, err := stmt.ExecContext(ctx, i, ch.ID, ch.DocumentID, ch.Source, ch.Page, ch.Start, ch.Index, ch.Text, encodeVector(ix.vectors[i])); err != nil {
			return fmt.Errorf("write entry %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Load reads an index written by Persist. emb must be the same kind of
// embedder used at build time; its prepared state is restored from the file.
func Load(ctx context.Context, path string, emb embedding.Embedder, opts Options) (*Index, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, path)
		}
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	defer db.Close()

	meta, err := readMeta(ctx, db)
	if err != nil {
		return nil, err
	}
	if v := string(meta["format"]); v != formatVersion {
		return nil, fmt.Errorf("index %s: unsupported format %q", path, v)
	}
	if name := string(meta["embedder"]); name != emb.Name() {
		return nil, fmt.Errorf("index %s was built with embedder %q, configured %q", path, name, emb.Name())
	}
	if st, ok := emb.(embedding.Stateful); ok && len(meta["state"]) > 0 {
		if err := st.UnmarshalState(meta["state"]); err != nil {
			return nil, err
		}
	}
	dim, _ := strconv.Atoi(string(meta["dimension"]))

	ix, err := newIndex(emb, opts)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT id, document_id, source, page, start, chunk_index, text, vector
		FROM entries ORDER BY ordinal`)
	if err != nil {
		return nil, fmt.Errorf("read entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ch domain.Chunk
		var blob []byte
		if err := rows.Scan(&ch.ID, &ch.DocumentID, &ch.Source, &ch.Page, &ch.Start, &ch.Index, &ch.Text, &blob); err != nil {
			return nil, err
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", ch.ID, err)
		}
		if len(vec) != dim {
			return nil, fmt.Errorf("entry %s: dimension %d, want %d", ch.ID, len(vec), dim)
		}
		ix.chunks = append(ix.chunks, ch)
		ix.vectors = append(ix.vectors, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	ix.log.Info("index loaded", "path", path, "embedder", emb.Name(), "entries", len(ix.chunks))
	return ix, nil
}

func readMeta(ctx context.Context, db *sql.DB) (map[string][]byte, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return nil, fmt.Errorf("read meta: %w", err)
	}
	defer rows.Close()
	meta := make(map[string][]byte)
	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

func (ix *Index) dimension() int {
	if len(ix.vectors) == 0 {
		return 0
	}
	return len(ix.vectors[0])
}

// encodeVector stores each component as its exact IEEE-754 bits so a
// reloaded index ranks identically.
func encodeVector(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(x))
	}
	return buf
}

func decodeVector(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("vector blob of %d bytes", len(b))
	}
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return v, nil
}
