// Package fixhistory implements the Fix History: a
// persistent JSON store of past fix outcomes, keyed by
// (error_signature, fix_kind), used to suggest historically successful
// fixes before falling back to the planner or the LLM oracle.
package fixhistory

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.buildorc.dev/internal/log"
	"go.buildorc.dev/internal/model"
)

// maxEntries bounds how many distinct signatures are retained before new
// ones stop being appended.
const maxEntries = 1000

type key struct {
	signature string
	kind      model.FixActionKind
}

// Store is the persistent fix-history table.
type Store struct {
	mu      sync.Mutex
	path    string
	entries map[key]*model.FixHistoryEntry
	log     log.Logger
}

// Load reads the JSON document at path, creating an empty store if the file
// does not yet exist.
func Load(path string, logger log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Nop()
	}
	s := &Store{path: path, entries: make(map[key]*model.FixHistoryEntry), log: logger}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fixhistory: reading %q: %w", path, err)
	}

	var doc model.FixHistoryDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("fixhistory: parsing %q: %w", path, err)
	}
	for i := range doc.Entries {
		e := doc.Entries[i]
		s.entries[key{e.ErrorSignature, e.FixKind}] = &e
	}
	return s, nil
}

// Save writes the current entries back to path as
// {"entries": [...]}, round-tripping field-for-field with Load.
func (s *Store) Save() error {
	s.mu.Lock()
	doc := model.FixHistoryDocument{Entries: make([]model.FixHistoryEntry, 0, len(s.entries))}
	for _, e := range s.entries {
		doc.Entries = append(doc.Entries, *e)
	}
	s.mu.Unlock()

	sort.Slice(doc.Entries, func(i, j int) bool {
		if doc.Entries[i].ErrorSignature != doc.Entries[j].ErrorSignature {
			return doc.Entries[i].ErrorSignature < doc.Entries[j].ErrorSignature
		}
		return doc.Entries[i].FixKind < doc.Entries[j].FixKind
	})

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("fixhistory: marshaling: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("fixhistory: creating parent dir: %w", err)
	}
	return os.WriteFile(s.path, data, 0o644)
}

var whitespaceRun = regexp.MustCompile(`\s+`)
var digitsRun = regexp.MustCompile(`\d+`)
var quotedRun = regexp.MustCompile(`['"][^'"]*['"]`)

// Signature computes the error_signature used as half of the composite key:
// "<pattern>:<normalized error message>". Normalization collapses
// whitespace, digits, and quoted substrings so near-identical messages
// (differing only in a line number or a specific symbol name) collapse to
// the same signature.
func Signature(pattern model.ErrorPatternType, message string) string {
	normalized := strings.ToLower(message)
	normalized = quotedRun.ReplaceAllString(normalized, "<q>")
	normalized = digitsRun.ReplaceAllString(normalized, "<n>")
	normalized = whitespaceRun.ReplaceAllString(normalized, " ")
	normalized = strings.TrimSpace(normalized)
	return pattern.String() + ":" + normalized
}

// Record updates (or creates) the entry for (signature, kind) with a new
// outcome.
func (s *Store) Record(signature string, kind model.FixActionKind, success bool, durationMs float64, projectType, buildSystem, command, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{signature, kind}
	now := time.Now()
	e, ok := s.entries[k]
	if !ok {
		if len(s.entries) >= maxEntries {
			s.log.Warnw("fix history at capacity, dropping new entry", "signature", signature)
			return
		}
		e = &model.FixHistoryEntry{
			ErrorSignature: signature,
			FixKind:        kind,
			FixCommand:     command,
			FixTarget:      target,
			ProjectType:    projectType,
			BuildSystem:    buildSystem,
			FirstSeen:      now,
		}
		s.entries[k] = e
	}

	total := e.SuccessCount + e.FailureCount
	e.AvgFixTimeMs = (e.AvgFixTimeMs*float64(total) + durationMs) / float64(total+1)
	if success {
		e.SuccessCount++
	} else {
		e.FailureCount++
	}
	e.LastSeen = now
}

// Lookup returns deep clones of all entries matching pattern.
func (s *Store) Lookup(pattern model.ErrorPatternType) []model.FixHistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := pattern.String() + ":"
	var out []model.FixHistoryEntry
	for k, e := range s.entries {
		if strings.HasPrefix(k.signature, prefix) {
			out = append(out, *e)
		}
	}
	return out
}

// suggestionThreshold is the minimum score for Suggest to propose an action.
const suggestionThreshold = 0.5

// Suggest scores every entry matching diagnosis's signature and returns the
// best one as a FixAction with RequiresConfirmation=true and Source=history,
// if its score clears suggestionThreshold.
func (s *Store) Suggest(diagnosis model.ErrorDiagnosis) (model.FixAction, bool) {
	signature := Signature(diagnosis.Pattern, diagnosis.Description)

	s.mu.Lock()
	var best *model.FixHistoryEntry
	var bestScore float64
	for k, e := range s.entries {
		if k.signature != signature {
			continue
		}
		score := score(e)
		if best == nil || score > bestScore {
			cp := *e
			best = &cp
			bestScore = score
		}
	}
	s.mu.Unlock()

	if best == nil || bestScore < suggestionThreshold {
		return model.FixAction{}, false
	}

	return model.FixAction{
		Kind:                 best.FixKind,
		Target:               best.FixTarget,
		Description:          fmt.Sprintf("historically successful fix for %q (score %.2f)", best.ErrorSignature, bestScore),
		RequiresConfirmation: true,
		Source:               model.SourceHistory,
	}, true
}

func score(e *model.FixHistoryEntry) float64 {
	successRate := e.SuccessRate()
	daysSinceLastSeen := math.Max(0, time.Since(e.LastSeen).Hours()/24)
	recency := 1 / (1 + daysSinceLastSeen)
	return 0.7*successRate + 0.3*recency
}
