package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQL is the relational Store. Entities are persisted as JSON documents with
// the columns needed for querying promoted alongside. Supported dialects:
// sqlite, postgres, mysql.
type SQL struct {
	db      *sql.DB
	dialect string
}

const sqlSchema = `
CREATE TABLE IF NOT EXISTS session_snapshots (
    id VARCHAR(255) PRIMARY KEY,
    user_id VARCHAR(255),
    name VARCHAR(255),
    data TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS archive_nodes (
    id VARCHAR(255) PRIMARY KEY,
    has_embedding INTEGER NOT NULL DEFAULT 0,
    data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS embeddings (
    node_id VARCHAR(255) PRIMARY KEY,
    model VARCHAR(255) NOT NULL,
    vector TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS clusters (
    id VARCHAR(255) PRIMARY KEY,
    created_at TIMESTAMP NOT NULL,
    data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS books (
    id VARCHAR(255) PRIMARY KEY,
    user_id VARCHAR(255),
    created_at TIMESTAMP NOT NULL,
    data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS artifacts (
    id VARCHAR(255) PRIMARY KEY,
    book_id VARCHAR(255),
    created_at TIMESTAMP NOT NULL,
    data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS personas (
    id VARCHAR(255) PRIMARY KEY,
    user_id VARCHAR(255),
    is_default INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS styles (
    id VARCHAR(255) PRIMARY KEY,
    persona_id VARCHAR(255),
    created_at TIMESTAMP NOT NULL,
    data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cost_entries (
    id VARCHAR(255) PRIMARY KEY,
    ts TIMESTAMP NOT NULL,
    data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_records (
    user_id VARCHAR(255) NOT NULL,
    period VARCHAR(32) NOT NULL,
    data TEXT NOT NULL,
    PRIMARY KEY (user_id, period)
);
`

// NewSQL opens a connection for the given dialect and bootstraps the schema.
func NewSQL(dialect, dsn string) (*SQL, error) {
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	driverName := dialect
	if driverName == "sqlite" {
		driverName = "sqlite3"
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQL{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// NewSQLWithDB wraps an existing connection, used by tests.
func NewSQLWithDB(db *sql.DB, dialect string) (*SQL, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	s := &SQL{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQL) initSchema() error {
	for _, stmt := range strings.Split(sqlSchema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders into the dialect's positional form.
func (s *SQL) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQL) upsertSuffix(conflictCols string, updateCols []string) string {
	sets := make([]string, len(updateCols))
	switch s.dialect {
	case "mysql":
		for i, c := range updateCols {
			sets[i] = fmt.Sprintf("%s = VALUES(%s)", c, c)
		}
		return " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	default: // sqlite and postgres share the ON CONFLICT form
		for i, c := range updateCols {
			sets[i] = fmt.Sprintf("%s = excluded.%s", c, c)
		}
		return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", conflictCols, strings.Join(sets, ", "))
	}
}

func marshalDoc(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}
	return string(raw), nil
}

func (s *SQL) getDoc(ctx context.Context, kind, table, id string, out interface{}) error {
	var data string
	query := s.rebind("SELECT data FROM " + table + " WHERE id = ?")
	err := s.db.QueryRowContext(ctx, query, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(kind, id)
	}
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", kind, err)
	}
	return json.Unmarshal([]byte(data), out)
}

func (s *SQL) listDocs(ctx context.Context, query string, decode func(data string) error, args ...interface{}) error {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return err
		}
		if err := decode(data); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ---------------------------------------------------------------------------
// Sessions

func (s *SQL) SaveSessionSnapshot(ctx context.Context, snap *SessionSnapshot) error {
	doc, err := marshalDoc(snap)
	if err != nil {
		return err
	}
	query := "INSERT INTO session_snapshots (id, user_id, name, data, updated_at, expires_at) VALUES (?, ?, ?, ?, ?, ?)" +
		s.upsertSuffix("id", []string{"user_id", "name", "data", "updated_at", "expires_at"})
	_, err = s.db.ExecContext(ctx, s.rebind(query), snap.ID, snap.UserID, snap.Name, doc, snap.UpdatedAt, snap.ExpiresAt)
	return err
}

func (s *SQL) GetSessionSnapshot(ctx context.Context, id string) (*SessionSnapshot, error) {
	var snap SessionSnapshot
	if err := s.getDoc(ctx, "session snapshot", "session_snapshots", id, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *SQL) DeleteSessionSnapshot(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM session_snapshots WHERE id = ?"), id)
	return err
}

// ---------------------------------------------------------------------------
// Archive nodes and embeddings

func (s *SQL) AddNode(ctx context.Context, node *ArchiveNode) error {
	copied := *node
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	doc, err := marshalDoc(&copied)
	if err != nil {
		return err
	}
	hasEmb := 0
	if copied.HasEmbedding {
		hasEmb = 1
	}
	query := "INSERT INTO archive_nodes (id, has_embedding, data) VALUES (?, ?, ?)" +
		s.upsertSuffix("id", []string{"has_embedding", "data"})
	_, err = s.db.ExecContext(ctx, s.rebind(query), copied.ID, hasEmb, doc)
	return err
}

func (s *SQL) GetNode(ctx context.Context, id string) (*ArchiveNode, error) {
	var node ArchiveNode
	if err := s.getDoc(ctx, "archive node", "archive_nodes", id, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *SQL) CountNodes(ctx context.Context) (int, int, error) {
	var total, embedded int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM archive_nodes").Scan(&total); err != nil {
		return 0, 0, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM archive_nodes WHERE has_embedding = 1").Scan(&embedded); err != nil {
		return 0, 0, err
	}
	return total, embedded, nil
}

func (s *SQL) GetNodesNeedingEmbeddings(ctx context.Context, limit int) ([]*ArchiveNode, error) {
	query := "SELECT data FROM archive_nodes WHERE has_embedding = 0 ORDER BY id"
	if limit > 0 {
		query += " LIMIT " + strconv.Itoa(limit)
	}
	var out []*ArchiveNode
	err := s.listDocs(ctx, query, func(data string) error {
		var node ArchiveNode
		if err := json.Unmarshal([]byte(data), &node); err != nil {
			return err
		}
		out = append(out, &node)
		return nil
	})
	return out, err
}

func (s *SQL) GetRandomEmbeddedNodeIDs(ctx context.Context, n int) ([]string, error) {
	orderBy := "RANDOM()"
	if s.dialect == "mysql" {
		orderBy = "RAND()"
	}
	query := "SELECT id FROM archive_nodes WHERE has_embedding = 1 ORDER BY " + orderBy
	if n > 0 {
		query += " LIMIT " + strconv.Itoa(n)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQL) StoreEmbedding(ctx context.Context, nodeID string, vec []float32, model string) error {
	node, err := s.GetNode(ctx, nodeID)
	if err != nil {
		return err
	}
	vecDoc, err := marshalDoc(vec)
	if err != nil {
		return err
	}
	query := "INSERT INTO embeddings (node_id, model, vector) VALUES (?, ?, ?)" +
		s.upsertSuffix("node_id", []string{"model", "vector"})
	if _, err := s.db.ExecContext(ctx, s.rebind(query), nodeID, model, vecDoc); err != nil {
		return err
	}
	node.HasEmbedding = true
	node.EmbeddingModel = model
	return s.AddNode(ctx, node)
}

func (s *SQL) GetEmbedding(ctx context.Context, nodeID string) ([]float32, error) {
	var data string
	query := s.rebind("SELECT vector FROM embeddings WHERE node_id = ?")
	err := s.db.QueryRowContext(ctx, query, nodeID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("embedding", nodeID)
	}
	if err != nil {
		return nil, err
	}
	var vec []float32
	if err := json.Unmarshal([]byte(data), &vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// SearchByEmbedding scans all stored vectors and ranks by cosine similarity.
// Adequate for the archive sizes the SQL store targets; larger corpora should
// front this with a dedicated vector index.
func (s *SQL) SearchByEmbedding(ctx context.Context, vec []float32, limit int, threshold float64) ([]Neighbor, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT node_id, vector FROM embeddings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Neighbor
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		var candidate []float32
		if err := json.Unmarshal([]byte(data), &candidate); err != nil {
			return nil, err
		}
		sim := cosineSimilarity(vec, candidate)
		if sim < threshold {
			continue
		}
		hits = append(hits, Neighbor{NodeID: id, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ---------------------------------------------------------------------------
// Clusters

func (s *SQL) SaveCluster(ctx context.Context, c *Cluster) error {
	doc, err := marshalDoc(c)
	if err != nil {
		return err
	}
	query := "INSERT INTO clusters (id, created_at, data) VALUES (?, ?, ?)" +
		s.upsertSuffix("id", []string{"created_at", "data"})
	_, err = s.db.ExecContext(ctx, s.rebind(query), c.ID, c.CreatedAt, doc)
	return err
}

func (s *SQL) GetCluster(ctx context.Context, id string) (*Cluster, error) {
	var c Cluster
	if err := s.getDoc(ctx, "cluster", "clusters", id, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQL) ListClusters(ctx context.Context) ([]*Cluster, error) {
	var out []*Cluster
	err := s.listDocs(ctx, "SELECT data FROM clusters ORDER BY created_at DESC", func(data string) error {
		var c Cluster
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return err
		}
		out = append(out, &c)
		return nil
	})
	return out, err
}

// ---------------------------------------------------------------------------
// Books and artifacts

func (s *SQL) SaveBook(ctx context.Context, b *Book) error {
	doc, err := marshalDoc(b)
	if err != nil {
		return err
	}
	query := "INSERT INTO books (id, user_id, created_at, data) VALUES (?, ?, ?, ?)" +
		s.upsertSuffix("id", []string{"user_id", "created_at", "data"})
	_, err = s.db.ExecContext(ctx, s.rebind(query), b.ID, b.UserID, b.CreatedAt, doc)
	return err
}

func (s *SQL) GetBook(ctx context.Context, id string) (*Book, error) {
	var b Book
	if err := s.getDoc(ctx, "book", "books", id, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *SQL) ListBooks(ctx context.Context, userID string) ([]*Book, error) {
	query := "SELECT data FROM books ORDER BY created_at DESC"
	args := []interface{}{}
	if userID != "" {
		query = "SELECT data FROM books WHERE user_id = ? ORDER BY created_at DESC"
		args = append(args, userID)
	}
	var out []*Book
	err := s.listDocs(ctx, query, func(data string) error {
		var b Book
		if err := json.Unmarshal([]byte(data), &b); err != nil {
			return err
		}
		out = append(out, &b)
		return nil
	}, args...)
	return out, err
}

func (s *SQL) SaveArtifact(ctx context.Context, a *Artifact) error {
	doc, err := marshalDoc(a)
	if err != nil {
		return err
	}
	query := "INSERT INTO artifacts (id, book_id, created_at, data) VALUES (?, ?, ?, ?)" +
		s.upsertSuffix("id", []string{"book_id", "created_at", "data"})
	_, err = s.db.ExecContext(ctx, s.rebind(query), a.ID, a.BookID, a.CreatedAt, doc)
	return err
}

func (s *SQL) GetArtifact(ctx context.Context, id string) (*Artifact, error) {
	var a Artifact
	if err := s.getDoc(ctx, "artifact", "artifacts", id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQL) ListArtifacts(ctx context.Context, bookID string) ([]*Artifact, error) {
	query := "SELECT data FROM artifacts ORDER BY created_at DESC"
	args := []interface{}{}
	if bookID != "" {
		query = "SELECT data FROM artifacts WHERE book_id = ? ORDER BY created_at DESC"
		args = append(args, bookID)
	}
	var out []*Artifact
	err := s.listDocs(ctx, query, func(data string) error {
		var a Artifact
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			return err
		}
		out = append(out, &a)
		return nil
	}, args...)
	return out, err
}

// ---------------------------------------------------------------------------
// Personas and styles

func (s *SQL) SavePersona(ctx context.Context, p *PersonaProfile) error {
	if p.IsDefault {
		// Demote any other default for this user, in both the column and the doc.
		others, err := s.ListPersonas(ctx, p.UserID)
		if err != nil {
			return err
		}
		for _, other := range others {
			if other.ID == p.ID || !other.IsDefault {
				continue
			}
			other.IsDefault = false
			doc, err := marshalDoc(other)
			if err != nil {
				return err
			}
			update := "UPDATE personas SET is_default = 0, data = ? WHERE id = ?"
			if _, err := s.db.ExecContext(ctx, s.rebind(update), doc, other.ID); err != nil {
				return err
			}
		}
	}
	doc, err := marshalDoc(p)
	if err != nil {
		return err
	}
	isDefault := 0
	if p.IsDefault {
		isDefault = 1
	}
	query := "INSERT INTO personas (id, user_id, is_default, created_at, data) VALUES (?, ?, ?, ?, ?)" +
		s.upsertSuffix("id", []string{"user_id", "is_default", "created_at", "data"})
	_, err = s.db.ExecContext(ctx, s.rebind(query), p.ID, p.UserID, isDefault, p.CreatedAt, doc)
	return err
}

func (s *SQL) GetPersona(ctx context.Context, id string) (*PersonaProfile, error) {
	var p PersonaProfile
	if err := s.getDoc(ctx, "persona", "personas", id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQL) GetDefaultPersona(ctx context.Context, userID string) (*PersonaProfile, error) {
	var data string
	query := s.rebind("SELECT data FROM personas WHERE user_id = ? AND is_default = 1 LIMIT 1")
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("default persona for user", userID)
	}
	if err != nil {
		return nil, err
	}
	var p PersonaProfile
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQL) ListPersonas(ctx context.Context, userID string) ([]*PersonaProfile, error) {
	query := "SELECT data FROM personas ORDER BY created_at DESC"
	args := []interface{}{}
	if userID != "" {
		query = "SELECT data FROM personas WHERE user_id = ? ORDER BY created_at DESC"
		args = append(args, userID)
	}
	var out []*PersonaProfile
	err := s.listDocs(ctx, query, func(data string) error {
		var p PersonaProfile
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return err
		}
		out = append(out, &p)
		return nil
	}, args...)
	return out, err
}

func (s *SQL) SaveStyle(ctx context.Context, style *StyleProfile) error {
	doc, err := marshalDoc(style)
	if err != nil {
		return err
	}
	query := "INSERT INTO styles (id, persona_id, created_at, data) VALUES (?, ?, ?, ?)" +
		s.upsertSuffix("id", []string{"persona_id", "created_at", "data"})
	_, err = s.db.ExecContext(ctx, s.rebind(query), style.ID, style.PersonaID, style.CreatedAt, doc)
	return err
}

func (s *SQL) ListStyles(ctx context.Context, personaID string) ([]*StyleProfile, error) {
	query := "SELECT data FROM styles ORDER BY created_at"
	args := []interface{}{}
	if personaID != "" {
		query = "SELECT data FROM styles WHERE persona_id = ? ORDER BY created_at"
		args = append(args, personaID)
	}
	var out []*StyleProfile
	err := s.listDocs(ctx, query, func(data string) error {
		var style StyleProfile
		if err := json.Unmarshal([]byte(data), &style); err != nil {
			return err
		}
		out = append(out, &style)
		return nil
	}, args...)
	return out, err
}

// ---------------------------------------------------------------------------
// Cost entries and usage

func (s *SQL) SaveCostEntry(ctx context.Context, e *CostEntry) error {
	doc, err := marshalDoc(e)
	if err != nil {
		return err
	}
	query := "INSERT INTO cost_entries (id, ts, data) VALUES (?, ?, ?)" +
		s.upsertSuffix("id", []string{"ts", "data"})
	_, err = s.db.ExecContext(ctx, s.rebind(query), e.ID, e.Timestamp, doc)
	return err
}

func (s *SQL) ListCostEntries(ctx context.Context, from, to time.Time) ([]*CostEntry, error) {
	query := "SELECT data FROM cost_entries"
	var conds []string
	var args []interface{}
	if !from.IsZero() {
		conds = append(conds, "ts >= ?")
		args = append(args, from)
	}
	if !to.IsZero() {
		conds = append(conds, "ts <= ?")
		args = append(args, to)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY ts"

	var out []*CostEntry
	err := s.listDocs(ctx, query, func(data string) error {
		var e CostEntry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return err
		}
		out = append(out, &e)
		return nil
	}, args...)
	return out, err
}

func (s *SQL) PruneCostEntries(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM cost_entries WHERE ts < ?"), before)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

func (s *SQL) AddUsage(ctx context.Context, userID, period string, delta UsageDelta) error {
	// Read-modify-write inside a transaction; usage rows are small JSON docs.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	record := &UsageRecord{
		UserID:      userID,
		Period:      period,
		ByModel:     make(map[string]int64),
		ByOperation: make(map[string]int64),
	}

	var data string
	query := s.rebind("SELECT data FROM usage_records WHERE user_id = ? AND period = ?")
	err = tx.QueryRowContext(ctx, query, userID, period).Scan(&data)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return err
	default:
		if err := json.Unmarshal([]byte(data), record); err != nil {
			return err
		}
		if record.ByModel == nil {
			record.ByModel = make(map[string]int64)
		}
		if record.ByOperation == nil {
			record.ByOperation = make(map[string]int64)
		}
	}

	record.InputTokens += delta.InputTokens
	record.OutputTokens += delta.OutputTokens
	record.TokensUsed += delta.InputTokens + delta.OutputTokens
	record.RequestCount += delta.Requests
	record.CostCents += delta.CostCents
	if delta.Model != "" {
		record.ByModel[delta.Model] += delta.InputTokens + delta.OutputTokens
	}
	if delta.Operation != "" {
		record.ByOperation[delta.Operation] += delta.InputTokens + delta.OutputTokens
	}
	record.UpdatedAt = time.Now()

	doc, err := marshalDoc(record)
	if err != nil {
		return err
	}
	upsert := "INSERT INTO usage_records (user_id, period, data) VALUES (?, ?, ?)" +
		s.upsertSuffix("user_id, period", []string{"data"})
	if _, err := tx.ExecContext(ctx, s.rebind(upsert), userID, period, doc); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQL) GetUsage(ctx context.Context, userID, period string) (*UsageRecord, error) {
	var data string
	query := s.rebind("SELECT data FROM usage_records WHERE user_id = ? AND period = ?")
	err := s.db.QueryRowContext(ctx, query, userID, period).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("usage", usageKey(userID, period))
	}
	if err != nil {
		return nil, err
	}
	var record UsageRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *SQL) ListUsage(ctx context.Context, fromPeriod, toPeriod string) ([]*UsageRecord, error) {
	query := "SELECT data FROM usage_records"
	var conds []string
	var args []interface{}
	if fromPeriod != "" {
		conds = append(conds, "period >= ?")
		args = append(args, fromPeriod)
	}
	if toPeriod != "" {
		conds = append(conds, "period <= ?")
		args = append(args, toPeriod)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY user_id, period"

	var out []*UsageRecord
	err := s.listDocs(ctx, query, func(data string) error {
		var record UsageRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			return err
		}
		out = append(out, &record)
		return nil
	}, args...)
	return out, err
}

func (s *SQL) Close() error { return s.db.Close() }

var _ Store = (*SQL)(nil)
