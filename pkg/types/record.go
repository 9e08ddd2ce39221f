package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// RecordKind identifies which record family a recall hit refers to.
type RecordKind string

const (
	KindMessage     RecordKind = "message"
	KindArtifact    RecordKind = "artifact"
	KindSummaryCard RecordKind = "summary_card"
	// KindAny matches every record kind in a search request.
	KindAny RecordKind = "any"
)

// Valid reports whether k is a known record kind.
func (k RecordKind) Valid() bool {
	switch k {
	case KindMessage, KindArtifact, KindSummaryCard, KindAny:
		return true
	}
	return false
}

// Role identifies the author of a message turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ArtifactKind classifies an extracted artifact.
type ArtifactKind string

const (
	ArtifactCode    ArtifactKind = "code"
	ArtifactDoc     ArtifactKind = "doc"
	ArtifactList    ArtifactKind = "list"
	ArtifactDiagram ArtifactKind = "diagram"
	ArtifactOther   ArtifactKind = "other"
)

// Valid reports whether k is a known artifact kind.
func (k ArtifactKind) Valid() bool {
	switch k {
	case ArtifactCode, ArtifactDoc, ArtifactList, ArtifactDiagram, ArtifactOther:
		return true
	}
	return false
}

// Thread groups messages from one conversation in ordinal order.
type Thread struct {
	ID        string
	Title     string
	Source    string // originating assistant/export, informational only
	CreatedAt time.Time
}

// Message is a single conversational turn. Ordinals are unique and
// contiguous within a thread; they define chronological order for
// context stitching.
type Message struct {
	ID        string
	ThreadID  string
	Ordinal   int
	Role      Role
	Content   string
	CreatedAt time.Time
}

// Validate checks structural invariants before storage.
func (m *Message) Validate() error {
	if m.ThreadID == "" {
		return ErrMissingThread
	}
	if m.Ordinal < 0 {
		return ErrInvalidOrdinal
	}
	if !m.Role.Valid() {
		return ErrInvalidRole
	}
	if strings.TrimSpace(m.Content) == "" {
		return ErrEmptyContent
	}
	return nil
}

// Artifact is a unit of content extracted from a message. Fingerprint is
// the hex SHA-256 of the normalized content; identical fingerprints
// collapse to one stored copy. DuplicateOf is set when consolidation
// identifies the artifact as a near-duplicate of another.
type Artifact struct {
	ID          string
	MessageID   string
	Kind        ArtifactKind
	Content     string
	Fingerprint string
	DuplicateOf string
	CreatedAt   time.Time
}

// Validate checks structural invariants before storage.
func (a *Artifact) Validate() error {
	if a.MessageID == "" {
		return ErrMissingMessage
	}
	if !a.Kind.Valid() {
		return ErrInvalidArtifactKind
	}
	if strings.TrimSpace(a.Content) == "" {
		return ErrEmptyContent
	}
	return nil
}

// SummaryCard is a consolidation product: a summary over a cluster of
// source records. Cards belong to a generation; a later generation that
// re-clusters the same sources supersedes earlier cards rather than
// deleting them.
type SummaryCard struct {
	ID         string
	ClusterID  string
	Generation int64
	Summary    string
	Tags       []string
	SourceIDs  []string
	Superseded bool
	CreatedAt  time.Time
}

// Cluster is a group of semantically related records discovered by the
// consolidation engine. CanonicalID names the member with the highest
// mean similarity to the rest of the cluster. Coherence is the mean
// pairwise cosine similarity across members.
type Cluster struct {
	ID          string          `json:"id"`
	Generation  int64           `json:"generation"`
	CanonicalID string          `json:"canonical_id"`
	Members     []ClusterMember `json:"members"`
	Coherence   float64         `json:"coherence"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ClusterMember identifies one record inside a cluster.
type ClusterMember struct {
	Kind RecordKind `json:"kind"`
	ID   string     `json:"id"`
}

// ConsolidationRun records one completed consolidation pass for audit.
// Coverage is the fraction of snapshot records that participated; runs
// with failed embedding lookups commit with coverage below 1.0.
type ConsolidationRun struct {
	ID              string        `json:"id"`
	Generation      int64         `json:"generation"`
	WindowStart     time.Time     `json:"window_start"`
	WindowEnd       time.Time     `json:"window_end"`
	RecordsSeen     int           `json:"records_seen"`
	RecordsSkipped  int           `json:"records_skipped"`
	ClustersCreated int           `json:"clusters_created"`
	CardsCreated    int           `json:"cards_created"`
	DuplicatesFound int           `json:"duplicates_found"`
	Coverage        float64       `json:"coverage"`
	Duration        time.Duration `json:"-"`
	CreatedAt       time.Time     `json:"created_at"`
}

// MarshalJSON reports the run duration in milliseconds, the same unit
// the run is stored with.
func (r ConsolidationRun) MarshalJSON() ([]byte, error) {
	type alias ConsolidationRun
	return json.Marshal(struct {
		alias
		DurationMS int64 `json:"duration_ms"`
	}{alias(r), r.Duration.Milliseconds()})
}

// Fingerprint returns the hex SHA-256 of content with surrounding
// whitespace trimmed, the canonical exact-dedup key for artifacts.
func Fingerprint(content string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(content)))
	return hex.EncodeToString(sum[:])
}
