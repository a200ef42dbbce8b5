// Package assemble builds size-bounded textual contexts for tasks from
// artifact summaries.
package assemble

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/jshapiro/conveyor/pkg/models"
)

// maxPointsPerBlock bounds the key points quoted per artifact.
const maxPointsPerBlock = 3

// SummarySource is the slice of the artifact store the assembler reads.
// Full content is never loaded; summaries are the unit of reuse.
type SummarySource interface {
	Summary(id string) (*models.ArtifactSummary, error)
	Get(id string) (*models.Artifact, error)
}

// Assembler builds contexts from required artifact IDs, caching results for
// the lifetime of one scheduling call so identical context sets are
// assembled once.
type Assembler struct {
	source SummarySource

	mu     sync.Mutex
	cache  map[string]string
	hits   int
	misses int

	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates an assembler over the given summary source.
func New(source SummarySource) *Assembler {
	return &Assembler{
		source:   source,
		cache:    make(map[string]string),
		debugLog: func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (a *Assembler) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		a.debugLog = fn
	}
}

// Assemble returns a context for the task's required artifacts, never
// exceeding maxSize bytes. Missing or unreadable artifacts are logged and
// skipped; the task still runs with whatever context could be built.
// The second return value is false when no context was produced.
func (a *Assembler) Assemble(task *models.Task, maxSize int) (string, bool) {
	if len(task.RequiredContext) == 0 || maxSize <= 0 {
		return "", false
	}

	// Cache key is the exact ordered set of required IDs.
	key := strings.Join(task.RequiredContext, "\x1f")

	a.mu.Lock()
	if cached, ok := a.cache[key]; ok {
		a.hits++
		a.mu.Unlock()
		a.debugLog("[assemble] cache hit for task %s (%d ids)", task.ID, len(task.RequiredContext))
		return cached, cached != ""
	}
	a.misses++
	a.mu.Unlock()

	var b strings.Builder
	for _, id := range task.RequiredContext {
		summary, err := a.source.Summary(id)
		if err != nil {
			a.debugLog("[assemble] task %s: artifact %s unavailable: %v", task.ID, id, err)
			continue
		}
		owner := "unknown"
		if meta, err := a.source.Get(id); err == nil {
			owner = meta.OwnerID
		}

		block := renderBlock(owner, summary)
		remaining := maxSize - b.Len()
		if remaining <= 0 {
			break
		}
		if len(block) > remaining {
			// Truncate the final block rather than dropping it, backing
			// off to a rune boundary.
			cut := block[:remaining]
			for !utf8.ValidString(cut) {
				cut = cut[:len(cut)-1]
			}
			b.WriteString(cut)
			break
		}
		b.WriteString(block)
	}

	out := b.String()

	a.mu.Lock()
	a.cache[key] = out
	a.mu.Unlock()

	return out, out != ""
}

// Stats returns cache hit and miss counts for this run.
func (a *Assembler) Stats() (hits, misses int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hits, a.misses
}

// renderBlock formats one artifact's summary as a context block. The
// artifact ID is included so the executor can look up the full content.
func renderBlock(owner string, summary *models.ArtifactSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### from %s (artifact %s)\n", owner, summary.ArtifactID)
	b.WriteString(summary.Digest)
	b.WriteString("\n")
	for i, point := range summary.KeyPoints {
		if i >= maxPointsPerBlock {
			break
		}
		fmt.Fprintf(&b, "- %s\n", point)
	}
	b.WriteString("\n")
	return b.String()
}
