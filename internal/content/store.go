package content

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Quertz/joker/internal/logging"
)

var log = logging.L("content")

// preloadConcurrency caps concurrent file reads during Preload.
const preloadConcurrency = 4

// ErrUnsupported is returned for a language or category outside the configured set.
var ErrUnsupported = errors.New("unsupported language or category")

// CountObserver is told how many jokes a file holds each time it is loaded.
type CountObserver interface {
	SetJokeCount(lang, category string, n int)
}

// Stats summarises the jokes available per language and category.
type Stats struct {
	TotalLanguages   int                       `json:"total_languages"`
	TotalCategories  int                       `json:"total_categories"`
	JokesPerLanguage map[string]map[string]int `json:"jokes_per_language"`
	TotalJokes       int                       `json:"total_jokes"`
}

// Store loads jokes from <dir>/<lang>_<category>.txt and caches them.
// Missing files are not cached, so a file that appears later is picked up on
// the next request.
type Store struct {
	dir        string
	languages  []string
	categories []string
	observer   CountObserver

	mu    sync.RWMutex
	cache map[string][]string
}

// NewStore creates a Store. observer may be nil.
func NewStore(dir string, languages, categories []string, observer CountObserver) *Store {
	return &Store{
		dir:        dir,
		languages:  slices.Clone(languages),
		categories: slices.Clone(categories),
		observer:   observer,
		cache:      make(map[string][]string),
	}
}

// Key is the cache key and file stem for a language and category.
func Key(lang, category string) string {
	return lang + "_" + category
}

// Languages returns the configured languages.
func (s *Store) Languages() []string { return slices.Clone(s.languages) }

// Categories returns the configured categories.
func (s *Store) Categories() []string { return slices.Clone(s.categories) }

func (s *Store) SupportsLanguage(lang string) bool { return slices.Contains(s.languages, lang) }

func (s *Store) SupportsCategory(category string) bool {
	return slices.Contains(s.categories, category)
}

// Jokes returns the jokes for lang and category, reading the file on a cache
// miss. An unreadable or missing file yields an empty list.
func (s *Store) Jokes(lang, category string) ([]string, error) {
	if !s.SupportsLanguage(lang) || !s.SupportsCategory(category) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, Key(lang, category))
	}

	key := Key(lang, category)
	s.mu.RLock()
	jokes, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return jokes, nil
	}
	return s.load(lang, category), nil
}

func (s *Store) load(lang, category string) []string {
	key := Key(lang, category)
	path := filepath.Join(s.dir, key+".txt")

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn("joke file not found", "path", path)
		} else {
			log.Error("failed to read joke file", "path", path, logging.KeyError, err)
		}
		s.mu.Lock()
		delete(s.cache, key)
		s.mu.Unlock()
		s.reportCount(lang, category, 0)
		return nil
	}

	jokes := Parse(string(data))
	s.mu.Lock()
	s.cache[key] = jokes
	s.mu.Unlock()
	s.reportCount(lang, category, len(jokes))

	log.Info("loaded jokes", "path", path, "count", len(jokes))
	return jokes
}

func (s *Store) reportCount(lang, category string, n int) {
	if s.observer != nil {
		s.observer.SetJokeCount(lang, category, n)
	}
}

// Parse splits file content into jokes. Jokes are separated by a blank line,
// so a joke may span several lines.
func Parse(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	var jokes []string
	for _, block := range strings.Split(content, "\n\n") {
		if joke := strings.TrimSpace(block); joke != "" {
			jokes = append(jokes, joke)
		}
	}
	return jokes
}

// Preload reads every language and category into the cache concurrently.
func (s *Store) Preload(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(preloadConcurrency)

	for _, lang := range s.languages {
		for _, category := range s.categories {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				s.load(lang, category)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("joke cache filled", "keys", s.CacheSize())
	return nil
}

// Random returns a random joke, or false if none are available.
func (s *Store) Random(lang, category string) (string, bool, error) {
	jokes, err := s.Jokes(lang, category)
	if err != nil {
		return "", false, err
	}
	if len(jokes) == 0 {
		return "", false, nil
	}
	return jokes[rand.IntN(len(jokes))], true, nil
}

// Count returns the number of jokes for lang and category.
func (s *Store) Count(lang, category string) int {
	jokes, _ := s.Jokes(lang, category)
	return len(jokes)
}

// Stats counts jokes across every configured language and category.
func (s *Store) Stats() Stats {
	st := Stats{
		TotalLanguages:   len(s.languages),
		TotalCategories:  len(s.categories),
		JokesPerLanguage: make(map[string]map[string]int, len(s.languages)),
	}
	for _, lang := range s.languages {
		per := make(map[string]int, len(s.categories))
		for _, category := range s.categories {
			n := s.Count(lang, category)
			per[category] = n
			st.TotalJokes += n
		}
		st.JokesPerLanguage[lang] = per
	}
	return st
}

// CacheSize returns the number of cached files.
func (s *Store) CacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// Invalidate drops the cached jokes for one file.
func (s *Store) Invalidate(lang, category string) {
	s.mu.Lock()
	delete(s.cache, Key(lang, category))
	s.mu.Unlock()
}

// keyForPath maps a file path in the store directory back to its language
// and category.
func (s *Store) keyForPath(path string) (lang, category string, ok bool) {
	name := filepath.Base(path)
	stem, found := strings.CutSuffix(name, ".txt")
	if !found {
		return "", "", false
	}
	lang, category, found = strings.Cut(stem, "_")
	if !found || !s.SupportsLanguage(lang) || !s.SupportsCategory(category) {
		return "", "", false
	}
	return lang, category, true
}
