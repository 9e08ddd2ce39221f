package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/AvaPrime/recall-engine/pkg/types"
)

// snippetTokens bounds the FTS snippet length returned with search hits
const snippetTokens = 16

// expandKinds resolves the requested record kinds to the concrete set
func expandKinds(kinds []types.RecordKind) []types.RecordKind {
	all := []types.RecordKind{types.KindMessage, types.KindArtifact, types.KindSummaryCard}
	if len(kinds) == 0 {
		return all
	}
	for _, k := range kinds {
		if k == types.KindAny {
			return all
		}
	}
	return kinds
}

// searchLexical performs BM25 full-text search across record tables using FTS5
func searchLexical(ctx context.Context, q querier, query string, kinds []types.RecordKind, limit int, filters *SearchFilters) ([]LexicalResult, error) {
	sanitized := sanitizeFTSQuery(query)
	if sanitized == "" {
		return nil, fmt.Errorf("empty search query")
	}
	if limit <= 0 {
		return []LexicalResult{}, nil
	}

	var merged []LexicalResult
	for _, kind := range expandKinds(kinds) {
		results, err := searchLexicalKind(ctx, q, kind, sanitized, limit, filters)
		if err != nil {
			return nil, err
		}
		merged = append(merged, results...)
	}

	// Merge across kinds: best score first, recency then ID break ties
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].BM25Score != merged[j].BM25Score {
			return merged[i].BM25Score > merged[j].BM25Score
		}
		if !merged[i].CreatedAt.Equal(merged[j].CreatedAt) {
			return merged[i].CreatedAt.After(merged[j].CreatedAt)
		}
		return merged[i].ID < merged[j].ID
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// searchLexicalKind runs the FTS query for one record kind
func searchLexicalKind(ctx context.Context, q querier, kind types.RecordKind, match string, limit int, filters *SearchFilters) ([]LexicalResult, error) {
	var sqlQuery string
	args := []interface{}{match}

	switch kind {
	case types.KindMessage:
		sqlQuery = fmt.Sprintf(`
			SELECT m.id, bm25(messages_fts) AS score,
			       snippet(messages_fts, 0, '', '', '…', %d),
			       m.thread_id, m.created_at
			FROM messages_fts
			INNER JOIN messages m ON m.rowid = messages_fts.rowid
			WHERE messages_fts MATCH ?
		`, snippetTokens)
		if filters != nil {
			if filters.ThreadID != "" {
				sqlQuery += " AND m.thread_id = ?"
				args = append(args, filters.ThreadID)
			}
			sqlQuery, args = appendTimeFilters(sqlQuery, args, "m.created_at", filters)
		}
	case types.KindArtifact:
		sqlQuery = fmt.Sprintf(`
			SELECT a.id, bm25(artifacts_fts) AS score,
			       snippet(artifacts_fts, 0, '', '', '…', %d),
			       m.thread_id, a.created_at
			FROM artifacts_fts
			INNER JOIN artifacts a ON a.rowid = artifacts_fts.rowid
			INNER JOIN messages m ON m.id = a.message_id
			WHERE artifacts_fts MATCH ? AND a.duplicate_of IS NULL
		`, snippetTokens)
		if filters != nil {
			if filters.ThreadID != "" {
				sqlQuery += " AND m.thread_id = ?"
				args = append(args, filters.ThreadID)
			}
			sqlQuery, args = appendTimeFilters(sqlQuery, args, "a.created_at", filters)
		}
	case types.KindSummaryCard:
		sqlQuery = fmt.Sprintf(`
			SELECT sc.id, bm25(summary_cards_fts) AS score,
			       snippet(summary_cards_fts, 0, '', '', '…', %d),
			       '', sc.created_at
			FROM summary_cards_fts
			INNER JOIN summary_cards sc ON sc.rowid = summary_cards_fts.rowid
			WHERE summary_cards_fts MATCH ? AND sc.superseded_at IS NULL
		`, snippetTokens)
		if filters != nil {
			sqlQuery, args = appendTimeFilters(sqlQuery, args, "sc.created_at", filters)
			if len(filters.Tags) > 0 {
				sqlQuery += " AND EXISTS (SELECT 1 FROM json_each(sc.tags) WHERE value IN (" + placeholders(len(filters.Tags)) + "))"
				for _, tag := range filters.Tags {
					args = append(args, tag)
				}
			}
		}
	default:
		return nil, fmt.Errorf("lexical search for kind %q: %w", kind, types.ErrInvalidParameter)
	}

	// BM25 rank is lower-is-better
	sqlQuery += " ORDER BY score LIMIT ?"
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]LexicalResult, 0, limit)
	for rows.Next() {
		result := LexicalResult{Kind: kind}
		if err := rows.Scan(&result.ID, &result.BM25Score, &result.Snippet, &result.ThreadID, &result.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		// Convert BM25 rank (negative, lower is better) to a positive score
		result.BM25Score = 1.0 / (1.0 + math.Abs(result.BM25Score)/50.0)
		results = append(results, result)
	}
	return results, rows.Err()
}

// searchVector performs vector similarity search using cosine similarity
func searchVector(ctx context.Context, q querier, queryVector []float32, kinds []types.RecordKind, limit int, filters *SearchFilters) ([]VectorResult, error) {
	if limit <= 0 {
		return []VectorResult{}, nil
	}
	if len(queryVector) == 0 {
		return []VectorResult{}, nil
	}

	var merged []VectorResult
	for _, kind := range expandKinds(kinds) {
		var (
			results []VectorResult
			err     error
		)
		// sqlite-vec computes distance at the database layer when available
		if VectorExtensionAvailable {
			results, err = searchVectorKindOptimized(ctx, q, kind, queryVector, limit, filters)
		} else {
			results, err = searchVectorKindFallback(ctx, q, kind, queryVector, limit, filters)
		}
		if err != nil {
			return nil, err
		}
		merged = append(merged, results...)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].SimilarityScore != merged[j].SimilarityScore {
			return merged[i].SimilarityScore > merged[j].SimilarityScore
		}
		if !merged[i].CreatedAt.Equal(merged[j].CreatedAt) {
			return merged[i].CreatedAt.After(merged[j].CreatedAt)
		}
		return merged[i].ID < merged[j].ID
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// vectorKindQuery builds the candidate SELECT for one kind. The scoreExpr
// column is either the raw vector blob (fallback) or a SQL similarity.
func vectorKindQuery(kind types.RecordKind, scoreExpr string, args []interface{}, filters *SearchFilters) (string, []interface{}, error) {
	var sqlQuery string
	switch kind {
	case types.KindMessage:
		sqlQuery = fmt.Sprintf(`
			SELECT m.id, %s, substr(m.content, 1, 240), m.thread_id, m.created_at
			FROM embeddings e
			INNER JOIN messages m ON m.id = e.target_id
			WHERE e.target_kind = 'message'
		`, scoreExpr)
		if filters != nil {
			if filters.ThreadID != "" {
				sqlQuery += " AND m.thread_id = ?"
				args = append(args, filters.ThreadID)
			}
			sqlQuery, args = appendTimeFilters(sqlQuery, args, "m.created_at", filters)
		}
	case types.KindArtifact:
		sqlQuery = fmt.Sprintf(`
			SELECT a.id, %s, substr(a.content, 1, 240), m.thread_id, a.created_at
			FROM embeddings e
			INNER JOIN artifacts a ON a.id = e.target_id
			INNER JOIN messages m ON m.id = a.message_id
			WHERE e.target_kind = 'artifact' AND a.duplicate_of IS NULL
		`, scoreExpr)
		if filters != nil {
			if filters.ThreadID != "" {
				sqlQuery += " AND m.thread_id = ?"
				args = append(args, filters.ThreadID)
			}
			sqlQuery, args = appendTimeFilters(sqlQuery, args, "a.created_at", filters)
		}
	case types.KindSummaryCard:
		sqlQuery = fmt.Sprintf(`
			SELECT sc.id, %s, substr(sc.summary, 1, 240), '', sc.created_at
			FROM embeddings e
			INNER JOIN summary_cards sc ON sc.id = e.target_id
			WHERE e.target_kind = 'summary_card' AND sc.superseded_at IS NULL
		`, scoreExpr)
		if filters != nil {
			sqlQuery, args = appendTimeFilters(sqlQuery, args, "sc.created_at", filters)
			if len(filters.Tags) > 0 {
				sqlQuery += " AND EXISTS (SELECT 1 FROM json_each(sc.tags) WHERE value IN (" + placeholders(len(filters.Tags)) + "))"
				for _, tag := range filters.Tags {
					args = append(args, tag)
				}
			}
		}
	default:
		return "", nil, fmt.Errorf("vector search for kind %q: %w", kind, types.ErrInvalidParameter)
	}
	return sqlQuery, args, nil
}

// searchVectorKindOptimized uses the sqlite-vec extension for SQL-based similarity
func searchVectorKindOptimized(ctx context.Context, q querier, kind types.RecordKind, queryVector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	blob := serializeVector(queryVector)
	sqlQuery, args, err := vectorKindQuery(kind,
		"1.0 - vec_distance_cosine(e.vector, ?) AS similarity",
		[]interface{}{blob}, filters)
	if err != nil {
		return nil, err
	}

	sqlQuery += " ORDER BY similarity DESC LIMIT ?"
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]VectorResult, 0, limit)
	for rows.Next() {
		result := VectorResult{Kind: kind}
		if err := rows.Scan(&result.ID, &result.SimilarityScore, &result.Snippet, &result.ThreadID, &result.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// searchVectorKindFallback computes cosine similarity in Go for purego builds
func searchVectorKindFallback(ctx context.Context, q querier, kind types.RecordKind, queryVector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	sqlQuery, args, err := vectorKindQuery(kind, "e.vector", nil, filters)
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []VectorResult
	for rows.Next() {
		result := VectorResult{Kind: kind}
		var blob []byte
		if err := rows.Scan(&result.ID, &blob, &result.Snippet, &result.ThreadID, &result.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}

		vector := deserializeVector(blob)
		if len(vector) != len(queryVector) {
			continue // Dimension mismatch, skip
		}
		result.SimilarityScore = cosineSimilarity(queryVector, vector)
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].SimilarityScore > results[j].SimilarityScore
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// termTimeline returns chronological lexical appearances of a term in
// messages within the time window, oldest first
func termTimeline(ctx context.Context, q querier, term string, from, to time.Time, limit int) ([]types.TimelineEntry, error) {
	sanitized := sanitizeFTSQuery(term)
	if sanitized == "" {
		return nil, fmt.Errorf("empty timeline term")
	}

	sqlQuery := fmt.Sprintf(`
		SELECT m.id, m.thread_id,
		       snippet(messages_fts, 0, '', '', '…', %d),
		       m.created_at
		FROM messages_fts
		INNER JOIN messages m ON m.rowid = messages_fts.rowid
		WHERE messages_fts MATCH ? AND m.created_at >= ? AND m.created_at <= ?
		ORDER BY m.created_at, m.id
		LIMIT ?
	`, snippetTokens)

	rows, err := q.QueryContext(ctx, sqlQuery, sanitized, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []types.TimelineEntry
	for rows.Next() {
		var entry types.TimelineEntry
		if err := rows.Scan(&entry.RecordID, &entry.ThreadID, &entry.Snippet, &entry.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// appendTimeFilters adds creation-time bounds to a WHERE clause
func appendTimeFilters(query string, args []interface{}, column string, filters *SearchFilters) (string, []interface{}) {
	if filters == nil {
		return query, args
	}
	if !filters.From.IsZero() {
		query += " AND " + column + " >= ?"
		args = append(args, filters.From)
	}
	if !filters.To.IsZero() {
		query += " AND " + column + " <= ?"
		args = append(args, filters.To)
	}
	return query, args
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// FTS5 operator pattern for escaping Boolean operators
var ftsOperatorPattern = regexp.MustCompile(`\b(AND|OR|NOT|NEAR)\b`)

// sanitizeFTSQuery sanitizes a search query for FTS5 to prevent injection attacks.
// Escapes special FTS5 operators and characters that could be used for SQL injection.
func sanitizeFTSQuery(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return ""
	}

	replacer := strings.NewReplacer(
		`"`, `\"`, // Quote
		`*`, `\*`, // Wildcard
		`(`, `\(`, // Grouping
		`)`, `\)`, // Grouping
	)
	escaped := replacer.Replace(query)

	// Escape Boolean operators to prevent injection
	escaped = ftsOperatorPattern.ReplaceAllStringFunc(escaped, func(match string) string {
		return `\` + match
	})

	return escaped
}

// SerializeVector is an exported helper for embedding storage and tests
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for embedding storage and tests
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity is an exported helper for similarity computations
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
