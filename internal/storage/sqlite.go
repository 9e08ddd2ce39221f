package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AvaPrime/recall-engine/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
	// ErrOrdinalConflict is returned when a message ordinal is already taken
	ErrOrdinalConflict = errors.New("ordinal already exists in thread")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// Thread operations

// upsertThreadWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) upsertThreadWithQuerier(ctx context.Context, q querier, thread *types.Thread) error {
	query := `
		INSERT INTO threads (id, title, source, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			source = excluded.source
	`
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, query, thread.ID, thread.Title, thread.Source, thread.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert thread: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) UpsertThread(ctx context.Context, thread *types.Thread) error {
	return s.upsertThreadWithQuerier(ctx, s.querier(), thread)
}

// getThreadWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getThreadWithQuerier(ctx context.Context, q querier, threadID string) (*types.Thread, error) {
	query := `SELECT id, title, source, created_at FROM threads WHERE id = ?`
	var thread types.Thread
	err := q.QueryRowContext(ctx, query, threadID).Scan(
		&thread.ID, &thread.Title, &thread.Source, &thread.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

func (s *SQLiteStorage) GetThread(ctx context.Context, threadID string) (*types.Thread, error) {
	return s.getThreadWithQuerier(ctx, s.querier(), threadID)
}

// Message operations

// insertMessageWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) insertMessageWithQuerier(ctx context.Context, q querier, msg *types.Message) error {
	query := `
		INSERT INTO messages (id, thread_id, ordinal, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, query,
		msg.ID, msg.ThreadID, msg.Ordinal, string(msg.Role), msg.Content, msg.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("message ordinal %d in thread %s: %w", msg.Ordinal, msg.ThreadID, ErrOrdinalConflict)
		}
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) InsertMessage(ctx context.Context, msg *types.Message) error {
	return s.insertMessageWithQuerier(ctx, s.querier(), msg)
}

// getMessageWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getMessageWithQuerier(ctx context.Context, q querier, messageID string) (*types.Message, error) {
	query := `
		SELECT id, thread_id, ordinal, role, content, created_at
		FROM messages
		WHERE id = ?
	`
	var msg types.Message
	var role string
	err := q.QueryRowContext(ctx, query, messageID).Scan(
		&msg.ID, &msg.ThreadID, &msg.Ordinal, &role, &msg.Content, &msg.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	msg.Role = types.Role(role)
	return &msg, nil
}

func (s *SQLiteStorage) GetMessage(ctx context.Context, messageID string) (*types.Message, error) {
	return s.getMessageWithQuerier(ctx, s.querier(), messageID)
}

// maxOrdinalWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) maxOrdinalWithQuerier(ctx context.Context, q querier, threadID string) (int, error) {
	var max int
	err := q.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(ordinal), -1) FROM messages WHERE thread_id = ?", threadID).Scan(&max)
	if err != nil {
		return -1, fmt.Errorf("failed to read max ordinal: %w", err)
	}
	return max, nil
}

// MaxOrdinal returns the highest ordinal in a thread, -1 when the thread is empty
func (s *SQLiteStorage) MaxOrdinal(ctx context.Context, threadID string) (int, error) {
	return s.maxOrdinalWithQuerier(ctx, s.querier(), threadID)
}

// threadWindowWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) threadWindowWithQuerier(ctx context.Context, q querier, threadID string, center, window int) ([]types.Message, error) {
	if window < 0 {
		window = 0
	}
	query := `
		SELECT id, thread_id, ordinal, role, content, created_at
		FROM messages
		WHERE thread_id = ? AND ordinal BETWEEN ? AND ?
		ORDER BY ordinal
	`
	rows, err := q.QueryContext(ctx, query, threadID, center-window, center+window)
	if err != nil {
		return nil, fmt.Errorf("failed to query thread window: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []types.Message
	for rows.Next() {
		var msg types.Message
		var role string
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.Ordinal, &role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.Role = types.Role(role)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// ThreadWindow returns the messages at ordinals [center-window, center+window]
// within a single thread, in ordinal order. Boundaries clip, never wrap.
func (s *SQLiteStorage) ThreadWindow(ctx context.Context, threadID string, center, window int) ([]types.Message, error) {
	return s.threadWindowWithQuerier(ctx, s.querier(), threadID, center, window)
}

// Artifact operations

// upsertArtifactWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) upsertArtifactWithQuerier(ctx context.Context, q querier, artifact *types.Artifact) (string, error) {
	if artifact.Fingerprint == "" {
		artifact.Fingerprint = types.Fingerprint(artifact.Content)
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}

	// Identical fingerprints collapse to the first stored copy
	query := `
		INSERT INTO artifacts (id, message_id, kind, content, fingerprint, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO NOTHING
	`
	_, err := q.ExecContext(ctx, query,
		artifact.ID, artifact.MessageID, string(artifact.Kind),
		artifact.Content, artifact.Fingerprint, artifact.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to upsert artifact: %w", err)
	}

	var canonicalID string
	err = q.QueryRowContext(ctx,
		"SELECT id FROM artifacts WHERE fingerprint = ?", artifact.Fingerprint).Scan(&canonicalID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve artifact fingerprint: %w", err)
	}
	return canonicalID, nil
}

// UpsertArtifact stores an artifact, collapsing exact duplicates by content
// fingerprint. The returned ID is the canonical stored copy, which may
// differ from artifact.ID when the fingerprint already existed.
func (s *SQLiteStorage) UpsertArtifact(ctx context.Context, artifact *types.Artifact) (string, error) {
	return s.upsertArtifactWithQuerier(ctx, s.querier(), artifact)
}

// getArtifactWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getArtifactWithQuerier(ctx context.Context, q querier, artifactID string) (*types.Artifact, error) {
	query := `
		SELECT id, message_id, kind, content, fingerprint, COALESCE(duplicate_of, ''), created_at
		FROM artifacts
		WHERE id = ?
	`
	var artifact types.Artifact
	var kind string
	err := q.QueryRowContext(ctx, query, artifactID).Scan(
		&artifact.ID, &artifact.MessageID, &kind, &artifact.Content,
		&artifact.Fingerprint, &artifact.DuplicateOf, &artifact.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	artifact.Kind = types.ArtifactKind(kind)
	return &artifact, nil
}

func (s *SQLiteStorage) GetArtifact(ctx context.Context, artifactID string) (*types.Artifact, error) {
	return s.getArtifactWithQuerier(ctx, s.querier(), artifactID)
}

// markDuplicateWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) markDuplicateWithQuerier(ctx context.Context, q querier, artifactID, canonicalID string) error {
	result, err := q.ExecContext(ctx,
		"UPDATE artifacts SET duplicate_of = ? WHERE id = ?", canonicalID, artifactID)
	if err != nil {
		return fmt.Errorf("failed to mark duplicate: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkDuplicate flags an artifact as a near-duplicate of a canonical copy.
// Flagged artifacts are excluded from search but never deleted.
func (s *SQLiteStorage) MarkDuplicate(ctx context.Context, artifactID, canonicalID string) error {
	return s.markDuplicateWithQuerier(ctx, s.querier(), artifactID, canonicalID)
}

// Summary card operations

// insertSummaryCardWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) insertSummaryCardWithQuerier(ctx context.Context, q querier, card *types.SummaryCard) error {
	tags, err := json.Marshal(card.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	sources, err := json.Marshal(card.SourceIDs)
	if err != nil {
		return fmt.Errorf("failed to encode source IDs: %w", err)
	}
	if card.CreatedAt.IsZero() {
		card.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO summary_cards (id, cluster_id, generation, summary, tags, source_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = q.ExecContext(ctx, query,
		card.ID, card.ClusterID, card.Generation, card.Summary,
		string(tags), string(sources), card.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert summary card: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) InsertSummaryCard(ctx context.Context, card *types.SummaryCard) error {
	return s.insertSummaryCardWithQuerier(ctx, s.querier(), card)
}

// getSummaryCardWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getSummaryCardWithQuerier(ctx context.Context, q querier, cardID string) (*types.SummaryCard, error) {
	query := `
		SELECT id, cluster_id, generation, summary, tags, source_ids, superseded_at, created_at
		FROM summary_cards
		WHERE id = ?
	`
	var card types.SummaryCard
	var tags, sources string
	var superseded sql.NullTime
	err := q.QueryRowContext(ctx, query, cardID).Scan(
		&card.ID, &card.ClusterID, &card.Generation, &card.Summary,
		&tags, &sources, &superseded, &card.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &card.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	if err := json.Unmarshal([]byte(sources), &card.SourceIDs); err != nil {
		return nil, fmt.Errorf("failed to decode source IDs: %w", err)
	}
	card.Superseded = superseded.Valid
	return &card, nil
}

func (s *SQLiteStorage) GetSummaryCard(ctx context.Context, cardID string) (*types.SummaryCard, error) {
	return s.getSummaryCardWithQuerier(ctx, s.querier(), cardID)
}

// supersedeCardsWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) supersedeCardsWithQuerier(ctx context.Context, q querier, beforeGeneration int64) (int64, error) {
	result, err := q.ExecContext(ctx,
		"UPDATE summary_cards SET superseded_at = ? WHERE generation < ? AND superseded_at IS NULL",
		time.Now().UTC(), beforeGeneration)
	if err != nil {
		return 0, fmt.Errorf("failed to supersede cards: %w", err)
	}
	return result.RowsAffected()
}

// SupersedeCards marks all active cards from generations before the given
// one as superseded. Superseded cards stay readable but leave search.
func (s *SQLiteStorage) SupersedeCards(ctx context.Context, beforeGeneration int64) (int64, error) {
	return s.supersedeCardsWithQuerier(ctx, s.querier(), beforeGeneration)
}

// Embedding operations

// upsertEmbeddingWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) upsertEmbeddingWithQuerier(ctx context.Context, q querier, embedding *Embedding) error {
	query := `
		INSERT INTO embeddings (target_kind, target_id, vector, dimension, provider, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(target_kind, target_id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			provider = excluded.provider,
			model = excluded.model,
			created_at = excluded.created_at
	`
	if embedding.CreatedAt.IsZero() {
		embedding.CreatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, query,
		string(embedding.Kind), embedding.RecordID, embedding.Vector,
		embedding.Dimension, embedding.Provider, embedding.Model, embedding.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) UpsertEmbedding(ctx context.Context, embedding *Embedding) error {
	return s.upsertEmbeddingWithQuerier(ctx, s.querier(), embedding)
}

// getEmbeddingWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getEmbeddingWithQuerier(ctx context.Context, q querier, kind types.RecordKind, recordID string) (*Embedding, error) {
	query := `
		SELECT target_kind, target_id, vector, dimension, provider, model, created_at
		FROM embeddings
		WHERE target_kind = ? AND target_id = ?
	`
	var emb Embedding
	var k string
	err := q.QueryRowContext(ctx, query, string(kind), recordID).Scan(
		&k, &emb.RecordID, &emb.Vector, &emb.Dimension, &emb.Provider, &emb.Model, &emb.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	emb.Kind = types.RecordKind(k)
	return &emb, nil
}

func (s *SQLiteStorage) GetEmbedding(ctx context.Context, kind types.RecordKind, recordID string) (*Embedding, error) {
	return s.getEmbeddingWithQuerier(ctx, s.querier(), kind, recordID)
}

// listEmbeddingsWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) listEmbeddingsWithQuerier(ctx context.Context, q querier, kinds []types.RecordKind) ([]*Embedding, error) {
	query := `
		SELECT target_kind, target_id, vector, dimension, provider, model, created_at
		FROM embeddings
	`
	args := make([]interface{}, 0, len(kinds))
	if len(kinds) > 0 {
		query += " WHERE target_kind IN (" + placeholders(len(kinds)) + ")"
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}
	query += " ORDER BY target_kind, target_id"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var embeddings []*Embedding
	for rows.Next() {
		var emb Embedding
		var k string
		if err := rows.Scan(&k, &emb.RecordID, &emb.Vector, &emb.Dimension, &emb.Provider, &emb.Model, &emb.CreatedAt); err != nil {
			return nil, err
		}
		emb.Kind = types.RecordKind(k)
		embeddings = append(embeddings, &emb)
	}
	return embeddings, rows.Err()
}

// ListEmbeddings returns stored embeddings for the given kinds in
// deterministic (kind, record ID) order.
func (s *SQLiteStorage) ListEmbeddings(ctx context.Context, kinds []types.RecordKind) ([]*Embedding, error) {
	return s.listEmbeddingsWithQuerier(ctx, s.querier(), kinds)
}

// listUnembeddedWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) listUnembeddedWithQuerier(ctx context.Context, q querier, kind types.RecordKind, limit int) ([]PendingRecord, error) {
	var query string
	switch kind {
	case types.KindMessage:
		query = `
			SELECT m.id, m.content FROM messages m
			LEFT JOIN embeddings e ON e.target_kind = 'message' AND e.target_id = m.id
			WHERE e.target_id IS NULL
			ORDER BY m.id LIMIT ?
		`
	case types.KindArtifact:
		query = `
			SELECT a.id, a.content FROM artifacts a
			LEFT JOIN embeddings e ON e.target_kind = 'artifact' AND e.target_id = a.id
			WHERE e.target_id IS NULL AND a.duplicate_of IS NULL
			ORDER BY a.id LIMIT ?
		`
	case types.KindSummaryCard:
		query = `
			SELECT sc.id, sc.summary FROM summary_cards sc
			LEFT JOIN embeddings e ON e.target_kind = 'summary_card' AND e.target_id = sc.id
			WHERE e.target_id IS NULL AND sc.superseded_at IS NULL
			ORDER BY sc.id LIMIT ?
		`
	default:
		return nil, fmt.Errorf("unembedded listing for kind %q: %w", kind, types.ErrInvalidParameter)
	}

	rows, err := q.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unembedded records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pending []PendingRecord
	for rows.Next() {
		p := PendingRecord{Kind: kind}
		if err := rows.Scan(&p.ID, &p.Content); err != nil {
			return nil, err
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// ListUnembedded returns records of one kind that have no stored embedding
func (s *SQLiteStorage) ListUnembedded(ctx context.Context, kind types.RecordKind, limit int) ([]PendingRecord, error) {
	return s.listUnembeddedWithQuerier(ctx, s.querier(), kind, limit)
}

// Search operations

func (s *SQLiteStorage) SearchLexical(ctx context.Context, query string, kinds []types.RecordKind, limit int, filters *SearchFilters) ([]LexicalResult, error) {
	return searchLexical(ctx, s.querier(), query, kinds, limit, filters)
}

func (s *SQLiteStorage) SearchVector(ctx context.Context, vector []float32, kinds []types.RecordKind, limit int, filters *SearchFilters) ([]VectorResult, error) {
	return searchVector(ctx, s.querier(), vector, kinds, limit, filters)
}

func (s *SQLiteStorage) TermTimeline(ctx context.Context, term string, from, to time.Time, limit int) ([]types.TimelineEntry, error) {
	return termTimeline(ctx, s.querier(), term, from, to, limit)
}

// Consolidation operations

// insertClusterWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) insertClusterWithQuerier(ctx context.Context, q querier, cluster *types.Cluster) error {
	if cluster.CreatedAt.IsZero() {
		cluster.CreatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx,
		"INSERT INTO clusters (id, generation, canonical_id, coherence, created_at) VALUES (?, ?, ?, ?, ?)",
		cluster.ID, cluster.Generation, cluster.CanonicalID, cluster.Coherence, cluster.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert cluster: %w", err)
	}

	for _, member := range cluster.Members {
		_, err := q.ExecContext(ctx,
			"INSERT INTO cluster_members (cluster_id, record_kind, record_id) VALUES (?, ?, ?)",
			cluster.ID, string(member.Kind), member.ID)
		if err != nil {
			return fmt.Errorf("failed to insert cluster member: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStorage) InsertCluster(ctx context.Context, cluster *types.Cluster) error {
	return s.insertClusterWithQuerier(ctx, s.querier(), cluster)
}

// getClusterWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getClusterWithQuerier(ctx context.Context, q querier, clusterID string) (*types.Cluster, error) {
	query := `SELECT id, generation, canonical_id, coherence, created_at FROM clusters WHERE id = ?`
	var cluster types.Cluster
	err := q.QueryRowContext(ctx, query, clusterID).Scan(
		&cluster.ID, &cluster.Generation, &cluster.CanonicalID, &cluster.Coherence, &cluster.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	members, err := s.clusterMembersWithQuerier(ctx, q, clusterID)
	if err != nil {
		return nil, err
	}
	cluster.Members = members
	return &cluster, nil
}

func (s *SQLiteStorage) GetCluster(ctx context.Context, clusterID string) (*types.Cluster, error) {
	return s.getClusterWithQuerier(ctx, s.querier(), clusterID)
}

// clusterMembersWithQuerier loads members in deterministic order
func (s *SQLiteStorage) clusterMembersWithQuerier(ctx context.Context, q querier, clusterID string) ([]types.ClusterMember, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT record_kind, record_id FROM cluster_members WHERE cluster_id = ? ORDER BY record_kind, record_id",
		clusterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cluster members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var members []types.ClusterMember
	for rows.Next() {
		var kind string
		var member types.ClusterMember
		if err := rows.Scan(&kind, &member.ID); err != nil {
			return nil, err
		}
		member.Kind = types.RecordKind(kind)
		members = append(members, member)
	}
	return members, rows.Err()
}

// listClustersWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) listClustersWithQuerier(ctx context.Context, q querier, generation int64, afterID string, limit int) ([]*types.Cluster, error) {
	if generation <= 0 {
		latest, err := s.latestGenerationWithQuerier(ctx, q)
		if err != nil {
			return nil, err
		}
		generation = latest
	}

	query := `
		SELECT id, generation, canonical_id, coherence, created_at
		FROM clusters
		WHERE generation = ? AND id > ?
		ORDER BY id
		LIMIT ?
	`
	rows, err := q.QueryContext(ctx, query, generation, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var clusters []*types.Cluster
	for rows.Next() {
		var cluster types.Cluster
		if err := rows.Scan(&cluster.ID, &cluster.Generation, &cluster.CanonicalID, &cluster.Coherence, &cluster.CreatedAt); err != nil {
			return nil, err
		}
		clusters = append(clusters, &cluster)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, cluster := range clusters {
		members, err := s.clusterMembersWithQuerier(ctx, q, cluster.ID)
		if err != nil {
			return nil, err
		}
		cluster.Members = members
	}
	return clusters, nil
}

// ListClusters pages clusters of one generation ordered by ID. A
// generation of zero selects the latest generation.
func (s *SQLiteStorage) ListClusters(ctx context.Context, generation int64, afterID string, limit int) ([]*types.Cluster, error) {
	return s.listClustersWithQuerier(ctx, s.querier(), generation, afterID, limit)
}

// latestGenerationWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) latestGenerationWithQuerier(ctx context.Context, q querier) (int64, error) {
	var gen int64
	err := q.QueryRowContext(ctx, "SELECT COALESCE(MAX(generation), 0) FROM consolidation_runs").Scan(&gen)
	if err != nil {
		return 0, fmt.Errorf("failed to read latest generation: %w", err)
	}
	return gen, nil
}

func (s *SQLiteStorage) LatestGeneration(ctx context.Context) (int64, error) {
	return s.latestGenerationWithQuerier(ctx, s.querier())
}

// insertConsolidationRunWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) insertConsolidationRunWithQuerier(ctx context.Context, q querier, run *types.ConsolidationRun) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO consolidation_runs
			(id, generation, window_start, window_end, records_seen, records_skipped,
			 clusters_created, cards_created, duplicates_found, coverage, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		run.ID, run.Generation, run.WindowStart, run.WindowEnd,
		run.RecordsSeen, run.RecordsSkipped, run.ClustersCreated, run.CardsCreated,
		run.DuplicatesFound, run.Coverage, run.Duration.Milliseconds(), run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert consolidation run: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) InsertConsolidationRun(ctx context.Context, run *types.ConsolidationRun) error {
	return s.insertConsolidationRunWithQuerier(ctx, s.querier(), run)
}

// listConsolidationRunsWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) listConsolidationRunsWithQuerier(ctx context.Context, q querier, limit int) ([]*types.ConsolidationRun, error) {
	query := `
		SELECT id, generation, window_start, window_end, records_seen, records_skipped,
		       clusters_created, cards_created, duplicates_found, coverage, duration_ms, created_at
		FROM consolidation_runs
		ORDER BY generation DESC
		LIMIT ?
	`
	rows, err := q.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list consolidation runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*types.ConsolidationRun
	for rows.Next() {
		var run types.ConsolidationRun
		var durationMS int64
		if err := rows.Scan(&run.ID, &run.Generation, &run.WindowStart, &run.WindowEnd,
			&run.RecordsSeen, &run.RecordsSkipped, &run.ClustersCreated, &run.CardsCreated,
			&run.DuplicatesFound, &run.Coverage, &durationMS, &run.CreatedAt); err != nil {
			return nil, err
		}
		run.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStorage) ListConsolidationRuns(ctx context.Context, limit int) ([]*types.ConsolidationRun, error) {
	return s.listConsolidationRunsWithQuerier(ctx, s.querier(), limit)
}

// Status operations

// getStatsWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getStatsWithQuerier(ctx context.Context, q querier) (*types.Stats, error) {
	var stats types.Stats
	counts := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM threads", &stats.Threads},
		{"SELECT COUNT(*) FROM messages", &stats.Messages},
		{"SELECT COUNT(*) FROM artifacts WHERE duplicate_of IS NULL", &stats.Artifacts},
		{"SELECT COUNT(*) FROM summary_cards WHERE superseded_at IS NULL", &stats.SummaryCards},
		{"SELECT COUNT(*) FROM embeddings", &stats.Embeddings},
		{"SELECT COUNT(*) FROM clusters", &stats.Clusters},
	}
	for _, c := range counts {
		if err := q.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to read stats: %w", err)
		}
	}

	gen, err := s.latestGenerationWithQuerier(ctx, q)
	if err != nil {
		return nil, err
	}
	stats.Generation = gen
	return &stats, nil
}

func (s *SQLiteStorage) GetStats(ctx context.Context) (*types.Stats, error) {
	return s.getStatsWithQuerier(ctx, s.querier())
}

// Transaction delegates

func (t *sqliteTx) UpsertThread(ctx context.Context, thread *types.Thread) error {
	return t.storage.upsertThreadWithQuerier(ctx, t.tx, thread)
}

func (t *sqliteTx) GetThread(ctx context.Context, threadID string) (*types.Thread, error) {
	return t.storage.getThreadWithQuerier(ctx, t.tx, threadID)
}

func (t *sqliteTx) InsertMessage(ctx context.Context, msg *types.Message) error {
	return t.storage.insertMessageWithQuerier(ctx, t.tx, msg)
}

func (t *sqliteTx) GetMessage(ctx context.Context, messageID string) (*types.Message, error) {
	return t.storage.getMessageWithQuerier(ctx, t.tx, messageID)
}

func (t *sqliteTx) MaxOrdinal(ctx context.Context, threadID string) (int, error) {
	return t.storage.maxOrdinalWithQuerier(ctx, t.tx, threadID)
}

func (t *sqliteTx) ThreadWindow(ctx context.Context, threadID string, center, window int) ([]types.Message, error) {
	return t.storage.threadWindowWithQuerier(ctx, t.tx, threadID, center, window)
}

func (t *sqliteTx) UpsertArtifact(ctx context.Context, artifact *types.Artifact) (string, error) {
	return t.storage.upsertArtifactWithQuerier(ctx, t.tx, artifact)
}

func (t *sqliteTx) GetArtifact(ctx context.Context, artifactID string) (*types.Artifact, error) {
	return t.storage.getArtifactWithQuerier(ctx, t.tx, artifactID)
}

func (t *sqliteTx) MarkDuplicate(ctx context.Context, artifactID, canonicalID string) error {
	return t.storage.markDuplicateWithQuerier(ctx, t.tx, artifactID, canonicalID)
}

func (t *sqliteTx) InsertSummaryCard(ctx context.Context, card *types.SummaryCard) error {
	return t.storage.insertSummaryCardWithQuerier(ctx, t.tx, card)
}

func (t *sqliteTx) GetSummaryCard(ctx context.Context, cardID string) (*types.SummaryCard, error) {
	return t.storage.getSummaryCardWithQuerier(ctx, t.tx, cardID)
}

func (t *sqliteTx) SupersedeCards(ctx context.Context, beforeGeneration int64) (int64, error) {
	return t.storage.supersedeCardsWithQuerier(ctx, t.tx, beforeGeneration)
}

func (t *sqliteTx) UpsertEmbedding(ctx context.Context, embedding *Embedding) error {
	return t.storage.upsertEmbeddingWithQuerier(ctx, t.tx, embedding)
}

func (t *sqliteTx) GetEmbedding(ctx context.Context, kind types.RecordKind, recordID string) (*Embedding, error) {
	return t.storage.getEmbeddingWithQuerier(ctx, t.tx, kind, recordID)
}

func (t *sqliteTx) ListEmbeddings(ctx context.Context, kinds []types.RecordKind) ([]*Embedding, error) {
	return t.storage.listEmbeddingsWithQuerier(ctx, t.tx, kinds)
}

func (t *sqliteTx) ListUnembedded(ctx context.Context, kind types.RecordKind, limit int) ([]PendingRecord, error) {
	return t.storage.listUnembeddedWithQuerier(ctx, t.tx, kind, limit)
}

func (t *sqliteTx) SearchLexical(ctx context.Context, query string, kinds []types.RecordKind, limit int, filters *SearchFilters) ([]LexicalResult, error) {
	return searchLexical(ctx, t.tx, query, kinds, limit, filters)
}

func (t *sqliteTx) SearchVector(ctx context.Context, vector []float32, kinds []types.RecordKind, limit int, filters *SearchFilters) ([]VectorResult, error) {
	return searchVector(ctx, t.tx, vector, kinds, limit, filters)
}

func (t *sqliteTx) TermTimeline(ctx context.Context, term string, from, to time.Time, limit int) ([]types.TimelineEntry, error) {
	return termTimeline(ctx, t.tx, term, from, to, limit)
}

func (t *sqliteTx) InsertCluster(ctx context.Context, cluster *types.Cluster) error {
	return t.storage.insertClusterWithQuerier(ctx, t.tx, cluster)
}

func (t *sqliteTx) GetCluster(ctx context.Context, clusterID string) (*types.Cluster, error) {
	return t.storage.getClusterWithQuerier(ctx, t.tx, clusterID)
}

func (t *sqliteTx) ListClusters(ctx context.Context, generation int64, afterID string, limit int) ([]*types.Cluster, error) {
	return t.storage.listClustersWithQuerier(ctx, t.tx, generation, afterID, limit)
}

func (t *sqliteTx) LatestGeneration(ctx context.Context) (int64, error) {
	return t.storage.latestGenerationWithQuerier(ctx, t.tx)
}

func (t *sqliteTx) InsertConsolidationRun(ctx context.Context, run *types.ConsolidationRun) error {
	return t.storage.insertConsolidationRunWithQuerier(ctx, t.tx, run)
}

func (t *sqliteTx) ListConsolidationRuns(ctx context.Context, limit int) ([]*types.ConsolidationRun, error) {
	return t.storage.listConsolidationRunsWithQuerier(ctx, t.tx, limit)
}

func (t *sqliteTx) GetStats(ctx context.Context) (*types.Stats, error) {
	return t.storage.getStatsWithQuerier(ctx, t.tx)
}

func (t *sqliteTx) Close() error {
	return nil // Transaction lifetime is Commit/Rollback
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, errors.New("nested transactions are not supported")
}

// Helpers

// placeholders returns n comma-separated SQL placeholders
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	out := "?"
	for i := 1; i < n; i++ {
		out += ",?"
	}
	return out
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure
// from either SQLite driver
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}
