// Package ranker implements fused hybrid recall: a lexical full-text
// lookup and a vector similarity lookup run in parallel and are joined
// into one ranked result set.
//
// Each backend's raw scores are min-max normalized into [0,1] within
// its own result set, then blended per record as
//
//	fused = alpha*vector + (1-alpha)*lexical
//
// so alpha=0 reproduces pure lexical order and alpha=1 pure vector
// order. Ties break on most-recent creation time, then record ID, so
// rankings are deterministic.
//
// The vector lookup runs under its own time budget inside the caller's
// deadline. If it fails, times out, or returns no candidates, the
// request completes lexical-only and the result carries degraded=true
// with a reason. The reverse fallback applies when the lexical side
// fails. Only both backends failing surfaces types.ErrRecallUnavailable.
package ranker
