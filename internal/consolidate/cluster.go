package consolidate

import (
	"sort"

	"github.com/AvaPrime/recall-engine/internal/storage"
	"github.com/AvaPrime/recall-engine/pkg/types"
)

// point is one embedded record prepared for clustering. Vectors are
// unit-normalized at ingest, so cosine similarity is a dot product.
type point struct {
	kind   types.RecordKind
	id     string
	vector []float32
}

// sortKey orders points deterministically across runs
func (p point) sortKey() string {
	return string(p.kind) + "\x00" + p.id
}

// densityCluster runs DBSCAN over the points using cosine distance
// (1 - similarity). Points are visited in sorted key order so the same
// input set always yields the same clusters regardless of arrival
// order. Noise points (fewer than minSize neighbors within epsilon)
// are left unclustered.
func densityCluster(points []point, epsilon float64, minSize int) [][]int {
	sort.Slice(points, func(i, j int) bool {
		return points[i].sortKey() < points[j].sortKey()
	})

	const (
		unvisited = 0
		noise     = -1
	)
	labels := make([]int, len(points)) // 0 unvisited, -1 noise, >0 cluster
	nextLabel := 0

	neighborsOf := func(i int) []int {
		var out []int
		for j := range points {
			if j == i {
				continue
			}
			if 1-storage.CosineSimilarity(points[i].vector, points[j].vector) <= epsilon {
				out = append(out, j)
			}
		}
		return out
	}

	for i := range points {
		if labels[i] != unvisited {
			continue
		}
		neighbors := neighborsOf(i)
		if len(neighbors)+1 < minSize {
			labels[i] = noise
			continue
		}

		nextLabel++
		labels[i] = nextLabel

		// Expand the cluster; noise points reachable from a core point
		// are claimed as border members
		queue := append([]int(nil), neighbors...)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			if labels[j] == noise {
				labels[j] = nextLabel
				continue
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = nextLabel
			jNeighbors := neighborsOf(j)
			if len(jNeighbors)+1 >= minSize {
				queue = append(queue, jNeighbors...)
			}
		}
	}

	clusters := make([][]int, nextLabel)
	for i, label := range labels {
		if label > 0 {
			clusters[label-1] = append(clusters[label-1], i)
		}
	}
	for _, members := range clusters {
		sort.Ints(members)
	}
	return clusters
}

// canonicalMember returns the index of the member with the highest mean
// similarity to the rest of the cluster, lowest sort key on ties
func canonicalMember(points []point, members []int) int {
	best := members[0]
	bestScore := -2.0
	for _, i := range members {
		score := meanSimilarity(points, members, i)
		if score > bestScore || (score == bestScore && points[i].sortKey() < points[best].sortKey()) {
			best = i
			bestScore = score
		}
	}
	return best
}

// meanSimilarity averages cosine similarity from member i to the others
func meanSimilarity(points []point, members []int, i int) float64 {
	if len(members) < 2 {
		return 1.0
	}
	var sum float64
	for _, j := range members {
		if j == i {
			continue
		}
		sum += storage.CosineSimilarity(points[i].vector, points[j].vector)
	}
	return sum / float64(len(members)-1)
}

// clusterCoherence is the mean pairwise similarity across all members
func clusterCoherence(points []point, members []int) float64 {
	if len(members) < 2 {
		return 1.0
	}
	var sum float64
	var pairs int
	for a := 0; a < len(members); a++ {
		for b := a + 1; b < len(members); b++ {
			sum += storage.CosineSimilarity(points[members[a]].vector, points[members[b]].vector)
			pairs++
		}
	}
	return sum / float64(pairs)
}
