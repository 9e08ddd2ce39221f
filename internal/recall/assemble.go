package recall

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/AvaPrime/recall-engine/pkg/types"
)

const (
	// DefaultMaxTokens is the prompt budget when the caller gives none
	DefaultMaxTokens = 2000
	// charsPerToken is the estimation heuristic for budget packing
	charsPerToken = 4
)

// AssembleParams drive one RAG prompt assembly
type AssembleParams struct {
	Query     string
	K         int
	Alpha     float64
	MaxTokens int
	Bypass    bool
}

// Assemble runs a fused search, expands message hits into thread
// windows, and packs the blocks into a token-budgeted prompt. Blocks
// are consumed in rank order; when the budget runs out, lower-ranked
// contexts are dropped first and Truncated is set. Every included block
// appears in Citations.
func (s *Service) Assemble(ctx context.Context, params AssembleParams) (*types.Assembly, error) {
	if params.MaxTokens <= 0 {
		params.MaxTokens = DefaultMaxTokens
	}

	result, err := s.Search(ctx, SearchParams{
		Query:  params.Query,
		Kind:   types.KindAny,
		K:      params.K,
		Alpha:  params.Alpha,
		Bypass: params.Bypass,
	})
	if err != nil {
		return nil, err
	}

	stitched, err := s.stitcher.Stitch(ctx, result.Hits)
	if err != nil {
		return nil, err
	}
	windows := make(map[string]types.StitchedContext, len(stitched))
	for _, sc := range stitched {
		windows[sc.HitID] = sc
	}

	assembly := &types.Assembly{
		Citations: make([]types.Citation, 0, len(result.Hits)),
		Degraded:  result.Degraded,
		Cached:    result.Cached,
	}

	var blocks []string
	used := 0
	for _, hit := range result.Hits {
		block, ok := s.renderBlock(ctx, hit, windows)
		if !ok {
			continue
		}

		tokens := estimateTokens(block)
		if used+tokens > params.MaxTokens {
			assembly.Truncated = true
			if len(blocks) > 0 {
				break
			}
			// The top-ranked block alone overflows the budget; trim it
			// so the prompt is never empty when results exist
			block = trimToTokens(block, params.MaxTokens)
			tokens = estimateTokens(block)
		}

		blocks = append(blocks, block)
		used += tokens
		assembly.Citations = append(assembly.Citations, types.Citation{
			Kind:     hit.Kind,
			ID:       hit.ID,
			ThreadID: hit.ThreadID,
			Score:    hit.Score,
		})
		if assembly.Truncated {
			break
		}
	}

	assembly.Prompt = strings.Join(blocks, "\n\n")
	return assembly, nil
}

// renderBlock formats one hit as a prompt context block
func (s *Service) renderBlock(ctx context.Context, hit types.FusionHit, windows map[string]types.StitchedContext) (string, bool) {
	switch hit.Kind {
	case types.KindMessage:
		window, ok := windows[hit.ID]
		if !ok {
			return "", false
		}
		return renderWindow(hit.ID, window), true

	case types.KindArtifact:
		art, err := s.storage.GetArtifact(ctx, hit.ID)
		if err != nil {
			return "", false
		}
		return fmt.Sprintf("[artifact:%s]\n%s", art.Kind, art.Content), true

	case types.KindSummaryCard:
		card, err := s.storage.GetSummaryCard(ctx, hit.ID)
		if err != nil {
			return "", false
		}
		block := fmt.Sprintf("[summary]\n%s", card.Summary)
		if len(card.Tags) > 0 {
			block += "\ntags: " + strings.Join(card.Tags, ", ")
		}
		return block, true
	}
	return "", false
}

// renderWindow lays out a stitched thread window with the matched turn
// marked and its neighbors labeled as surrounding context
func renderWindow(hitID string, window types.StitchedContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[thread %s]", window.ThreadID)
	for _, msg := range window.Messages {
		marker := "context"
		if msg.ID == hitID {
			marker = "match"
		}
		fmt.Fprintf(&b, "\n[%s] %s: %s", marker, msg.Role, msg.Content)
	}
	return b.String()
}

// estimateTokens approximates the token cost of text for budget packing
func estimateTokens(text string) int {
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// trimToTokens cuts text to fit a token budget, backing up to a rune
// boundary so the trimmed prompt stays valid UTF-8
func trimToTokens(text string, maxTokens int) string {
	maxChars := maxTokens * charsPerToken
	if len(text) <= maxChars {
		return text
	}
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return strings.TrimSpace(text[:cut])
}
