// Package transcript persists debate transcripts as JSON files and supports
// listing and partial-ID lookup.
//
// File naming convention: <YYYY-MM-DD>_<short-id>.json, where the date is the
// UTC day of the transcript's creation and the short ID is the first 8 hex
// characters of the transcript ID.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rspicer/dissent/pkg/types"
)

// MinPrefixLen is the shortest accepted lookup prefix.
const MinPrefixLen = 4

// ErrAmbiguous is returned when a lookup prefix matches more than one
// transcript.
var ErrAmbiguous = errors.New("transcript: ambiguous ID prefix, use a longer prefix")

// ErrShortPrefix is returned when a lookup prefix is shorter than
// MinPrefixLen.
var ErrShortPrefix = fmt.Errorf("transcript: ID prefix must be at least %d characters", MinPrefixLen)

// Store reads and writes transcript files in a single directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir. The directory is created on first
// save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store's directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes a transcript as indented JSON and returns the file path.
func (s *Store) Save(t *types.DebateTranscript) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("transcript: create dir %q: %w", s.dir, err)
	}

	filename := fmt.Sprintf("%s_%s.json", t.CreatedAt.UTC().Format("2006-01-02"), t.ShortID())
	path := filepath.Join(s.dir, filename)

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return "", fmt.Errorf("transcript: marshal %s: %w", t.ShortID(), err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("transcript: write %q: %w", path, err)
	}
	return path, nil
}

// Load finds a transcript by full ID or prefix (minimum 4 characters).
// Candidates are matched in two passes: filename short-ID prefix first, then
// the full ID inside each candidate file. Returns nil without error when
// nothing matches, and ErrAmbiguous when more than one transcript does.
func (s *Store) Load(idOrPrefix string) (*types.DebateTranscript, error) {
	if len(idOrPrefix) < MinPrefixLen {
		return nil, ErrShortPrefix
	}

	files, err := s.jsonFiles()
	if err != nil {
		return nil, err
	}

	shortPrefix := idOrPrefix
	if len(shortPrefix) > 8 {
		shortPrefix = shortPrefix[:8]
	}

	var matches []*types.DebateTranscript
	for _, path := range files {
		shortID, ok := shortIDFromFilename(path)
		if !ok || !strings.HasPrefix(shortID, shortPrefix) {
			continue
		}
		t, err := readTranscript(path)
		if err != nil {
			// Unreadable files are skipped, not fatal.
			continue
		}
		if strings.HasPrefix(t.TranscriptID, idOrPrefix) {
			matches = append(matches, t)
		}
	}

	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%w: %q matches %d transcripts", ErrAmbiguous, idOrPrefix, len(matches))
	}
}

// Summary is one row of a transcript listing.
type Summary struct {
	ID           string
	ShortID      string
	Date         string
	Query        string
	File         string
	Panel        string
	Synthesizer  string
	Tokens       int
	Cost         *float64
	Rounds       int
	ExperimentID string
}

// List returns transcript summaries, most recent first by filename sort.
// limit caps the result; 0 means no cap. Unreadable files are skipped.
func (s *Store) List(limit int) ([]Summary, error) {
	files, err := s.jsonFiles()
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}

	var out []Summary
	for _, path := range files {
		t, err := readTranscript(path)
		if err != nil {
			continue
		}
		summary := Summary{
			ID:          t.TranscriptID,
			ShortID:     t.ShortID(),
			Date:        t.CreatedAt.UTC().Format("2006-01-02"),
			Query:       truncate(t.Query, 80),
			File:        filepath.Base(path),
			Panel:       strings.Join(t.Panel, ", "),
			Synthesizer: t.SynthesizerID,
			Rounds:      len(t.Rounds),
		}
		for _, r := range t.AllResponses() {
			if r.TokenCount != nil {
				summary.Tokens += *r.TokenCount
			}
		}
		if stats, ok := t.Metadata[types.MetaStats].(map[string]any); ok {
			if cost, ok := stats["total_cost_usd"].(float64); ok {
				summary.Cost = &cost
			}
		}
		if exp := t.Experiment(); exp != nil {
			summary.ExperimentID = exp.ExperimentID
		}
		out = append(out, summary)
	}
	return out, nil
}

// jsonFiles returns the store's *.json file paths. A missing directory is an
// empty store, not an error.
func (s *Store) jsonFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("transcript: read dir %q: %w", s.dir, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			files = append(files, filepath.Join(s.dir, e.Name()))
		}
	}
	return files, nil
}

// shortIDFromFilename extracts the short-ID segment from a
// <date>_<short-id>.json filename.
func shortIDFromFilename(path string) (string, bool) {
	stem := strings.TrimSuffix(filepath.Base(path), ".json")
	_, shortID, ok := strings.Cut(stem, "_")
	return shortID, ok
}

func readTranscript(path string) (*types.DebateTranscript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("transcript: read %q: %w", path, err)
	}
	t := &types.DebateTranscript{}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("transcript: parse %q: %w", path, err)
	}
	return t, nil
}

// truncate shortens text to at most maxLen bytes, cutting on a rune boundary
// so a multi-byte character is never split.
func truncate(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	cut := maxLen - 3
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}
