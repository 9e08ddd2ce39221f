package consolidate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/AvaPrime/recall-engine/internal/storage"
	"github.com/AvaPrime/recall-engine/pkg/types"
)

const (
	// DefaultEpsilon is the cosine-distance neighborhood radius
	DefaultEpsilon = 0.35
	// DefaultMinClusterSize is the minimum members for a dense cluster
	DefaultMinClusterSize = 2
	// DefaultNearDupThreshold flags artifact pairs at or above this
	// cosine similarity as near-duplicates
	DefaultNearDupThreshold = 0.92
)

// Config tunes a consolidation run. Zero values take the defaults.
type Config struct {
	Epsilon          float64
	MinClusterSize   int
	NearDupThreshold float64
}

// Engine batches stored embeddings into clusters, flags near-duplicate
// artifacts, and emits a new generation of summary cards
type Engine struct {
	storage storage.Storage
	config  Config
}

// New creates an Engine with defaults filled in
func New(store storage.Storage, config Config) *Engine {
	if config.Epsilon <= 0 {
		config.Epsilon = DefaultEpsilon
	}
	if config.MinClusterSize <= 0 {
		config.MinClusterSize = DefaultMinClusterSize
	}
	if config.NearDupThreshold <= 0 {
		config.NearDupThreshold = DefaultNearDupThreshold
	}
	return &Engine{storage: store, config: config}
}

// clusterKinds are the record kinds consolidation clusters over. Cards
// are products of a run, never inputs to one.
var clusterKinds = []types.RecordKind{types.KindMessage, types.KindArtifact}

// Run executes one consolidation pass over a snapshot of stored
// embeddings taken at call time. Records whose vectors cannot be used
// are skipped and reported through the run's coverage, never aborting
// the pass. The new generation commits even when coverage is below 1.0;
// earlier generations' cards are superseded, not deleted.
func (e *Engine) Run(ctx context.Context) (*types.ConsolidationRun, error) {
	startTime := time.Now()

	lastGen, err := e.storage.LatestGeneration(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve latest generation: %w", err)
	}
	generation := lastGen + 1

	embeddings, err := e.storage.ListEmbeddings(ctx, clusterKinds)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot embeddings: %w", err)
	}

	run := &types.ConsolidationRun{
		ID:          uuid.NewString(),
		Generation:  generation,
		WindowEnd:   startTime,
		RecordsSeen: len(embeddings),
	}

	points := make([]point, 0, len(embeddings))
	dimension := 0
	for _, emb := range embeddings {
		vector := storage.DeserializeVector(emb.Vector)
		if len(vector) == 0 || len(vector) != emb.Dimension {
			run.RecordsSkipped++
			continue
		}
		if dimension == 0 {
			dimension = len(vector)
		}
		if len(vector) != dimension {
			// Mixed providers leave incomparable vectors behind
			run.RecordsSkipped++
			continue
		}
		points = append(points, point{kind: emb.Kind, id: emb.RecordID, vector: vector})
	}

	clusters := densityCluster(points, e.config.Epsilon, e.config.MinClusterSize)
	for _, members := range clusters {
		if err := e.commitCluster(ctx, points, members, generation); err != nil {
			return nil, err
		}
		run.ClustersCreated++
		run.CardsCreated++

		dups, err := e.markNearDuplicates(ctx, points, members)
		if err != nil {
			return nil, err
		}
		run.DuplicatesFound += dups
	}

	if generation > 1 {
		if _, err := e.storage.SupersedeCards(ctx, generation); err != nil {
			return nil, fmt.Errorf("failed to supersede prior cards: %w", err)
		}
	}

	run.Coverage = 1.0
	if run.RecordsSeen > 0 {
		run.Coverage = float64(run.RecordsSeen-run.RecordsSkipped) / float64(run.RecordsSeen)
	}
	run.Duration = time.Since(startTime)

	if err := e.storage.InsertConsolidationRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record consolidation run: %w", err)
	}

	if run.Coverage < 1.0 {
		slog.Warn("consolidation completed with partial coverage",
			"generation", run.Generation,
			"coverage", run.Coverage,
			"skipped", run.RecordsSkipped)
	} else {
		slog.Info("consolidation completed",
			"generation", run.Generation,
			"clusters", run.ClustersCreated,
			"duplicates", run.DuplicatesFound)
	}

	return run, nil
}

// commitCluster stores one cluster and its summary card
func (e *Engine) commitCluster(ctx context.Context, points []point, members []int, generation int64) error {
	canonical := canonicalMember(points, members)

	cluster := &types.Cluster{
		ID:          uuid.NewString(),
		Generation:  generation,
		CanonicalID: points[canonical].id,
		Coherence:   clusterCoherence(points, members),
		Members:     make([]types.ClusterMember, 0, len(members)),
	}
	for _, i := range members {
		cluster.Members = append(cluster.Members, types.ClusterMember{
			Kind: points[i].kind,
			ID:   points[i].id,
		})
	}
	if err := e.storage.InsertCluster(ctx, cluster); err != nil {
		return fmt.Errorf("failed to store cluster: %w", err)
	}

	card, err := e.buildCard(ctx, points, members, canonical, cluster.ID, generation)
	if err != nil {
		return err
	}
	if err := e.storage.InsertSummaryCard(ctx, card); err != nil {
		return fmt.Errorf("failed to store summary card: %w", err)
	}
	return nil
}

// buildCard assembles the extractive summary card for a cluster. The
// summary comes from the canonical member; tags from every member whose
// content is still loadable.
func (e *Engine) buildCard(ctx context.Context, points []point, members []int, canonical int, clusterID string, generation int64) (*types.SummaryCard, error) {
	var contents []string
	var canonicalContent string
	sourceIDs := make([]string, 0, len(members))

	for _, i := range members {
		sourceIDs = append(sourceIDs, points[i].id)
		content, err := e.recordContent(ctx, points[i].kind, points[i].id)
		if err != nil {
			continue
		}
		contents = append(contents, content)
		if i == canonical {
			canonicalContent = content
		}
	}
	if canonicalContent == "" && len(contents) > 0 {
		canonicalContent = contents[0]
	}

	return &types.SummaryCard{
		ID:         uuid.NewString(),
		ClusterID:  clusterID,
		Generation: generation,
		Summary:    extractSummary(canonicalContent),
		Tags:       extractTags(contents),
		SourceIDs:  sourceIDs,
	}, nil
}

// recordContent loads the text behind a clustered point
func (e *Engine) recordContent(ctx context.Context, kind types.RecordKind, id string) (string, error) {
	switch kind {
	case types.KindMessage:
		msg, err := e.storage.GetMessage(ctx, id)
		if err != nil {
			return "", err
		}
		return msg.Content, nil
	case types.KindArtifact:
		art, err := e.storage.GetArtifact(ctx, id)
		if err != nil {
			return "", err
		}
		return art.Content, nil
	}
	return "", fmt.Errorf("no content source for kind %q", kind)
}

// markNearDuplicates flags artifact members whose similarity to an
// earlier artifact in the same cluster meets the threshold. The member
// with the lowest record ID in each near-duplicate group stays
// canonical; later ones point at it via duplicate_of.
func (e *Engine) markNearDuplicates(ctx context.Context, points []point, members []int) (int, error) {
	var artifacts []int
	for _, i := range members {
		if points[i].kind == types.KindArtifact {
			artifacts = append(artifacts, i)
		}
	}
	if len(artifacts) < 2 {
		return 0, nil
	}
	sort.Slice(artifacts, func(a, b int) bool {
		return points[artifacts[a]].id < points[artifacts[b]].id
	})

	marked := 0
	flagged := make(map[int]struct{})
	for a := 0; a < len(artifacts); a++ {
		if _, dup := flagged[artifacts[a]]; dup {
			continue
		}
		for b := a + 1; b < len(artifacts); b++ {
			if _, dup := flagged[artifacts[b]]; dup {
				continue
			}
			sim := storage.CosineSimilarity(points[artifacts[a]].vector, points[artifacts[b]].vector)
			if sim < e.config.NearDupThreshold {
				continue
			}
			if err := e.storage.MarkDuplicate(ctx, points[artifacts[b]].id, points[artifacts[a]].id); err != nil {
				return marked, fmt.Errorf("failed to flag near-duplicate %s: %w", points[artifacts[b]].id, err)
			}
			flagged[artifacts[b]] = struct{}{}
			marked++
		}
	}
	return marked, nil
}
