package prefabs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Prefab is one entry of the local catalogue: a pre-built capability
// package addressable by id@version and exposing named functions.
type Prefab struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Version     string           `json:"version"`
	Author      string           `json:"author,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	Functions   []PrefabFunction `json:"functions,omitempty"`
}

// PrefabFunction describes one callable function of a prefab.
type PrefabFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// SearchQuery filters the catalogue. Empty fields match everything.
type SearchQuery struct {
	Query  string
	Tags   []string
	Author string
	Limit  int
}

// Catalog is a JSON-file backed prefab catalogue with fuzzy search and
// optional hot reload. Always available, unlike the vector-backed
// recommender.
type Catalog struct {
	path string

	mu      sync.RWMutex
	prefabs []Prefab

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	closed  bool
}

// LoadCatalog reads the catalogue file. The file holds either a bare JSON
// array of prefabs or an object with a "prefabs" key.
func LoadCatalog(path string) (*Catalog, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve catalog path: %w", err)
	}

	c := &Catalog{path: absPath}
	if err := c.reload(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("failed to read prefab catalog %s: %w", c.path, err)
	}

	var prefabs []Prefab
	if err := json.Unmarshal(data, &prefabs); err != nil {
		var wrapped struct {
			Prefabs []Prefab `json:"prefabs"`
		}
		if err2 := json.Unmarshal(data, &wrapped); err2 != nil {
			return fmt.Errorf("failed to parse prefab catalog %s: %w", c.path, err)
		}
		prefabs = wrapped.Prefabs
	}

	c.mu.Lock()
	c.prefabs = prefabs
	c.mu.Unlock()

	slog.Debug("Loaded prefab catalog", "path", c.path, "count", len(prefabs))
	return nil
}

// All returns a snapshot of the catalogue.
func (c *Catalog) All() []Prefab {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Prefab, len(c.prefabs))
	copy(out, c.prefabs)
	return out
}

// Get finds one prefab by id, optionally constrained to a version.
func (c *Catalog) Get(id, version string) (Prefab, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.prefabs {
		if p.ID == id && (version == "" || p.Version == version) {
			return p, true
		}
	}
	return Prefab{}, false
}

// Search ranks prefabs by a simple token-overlap score against name,
// description, and tags. Tag and author filters are exact
// (case-insensitive); the query is fuzzy.
func (c *Catalog) Search(q SearchQuery) []Prefab {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	type scored struct {
		prefab Prefab
		score  int
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	matches := make([]scored, 0, len(c.prefabs))
	for _, p := range c.prefabs {
		if q.Author != "" && !strings.EqualFold(p.Author, q.Author) {
			continue
		}
		if !hasAllTags(p.Tags, q.Tags) {
			continue
		}

		score := 1
		if q.Query != "" {
			score = matchScore(p, q.Query)
			if score == 0 {
				continue
			}
		}
		matches = append(matches, scored{prefab: p, score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]Prefab, len(matches))
	for i, m := range matches {
		out[i] = m.prefab
	}
	return out
}

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if strings.EqualFold(h, w) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// matchScore counts query tokens found in the prefab's searchable text.
// Full-phrase hits in the name weigh highest.
func matchScore(p Prefab, query string) int {
	query = strings.ToLower(strings.TrimSpace(query))
	name := strings.ToLower(p.Name)
	haystack := name + " " + strings.ToLower(p.ID) + " " +
		strings.ToLower(p.Description) + " " + strings.ToLower(strings.Join(p.Tags, " "))

	score := 0
	if strings.Contains(name, query) {
		score += 10
	} else if strings.Contains(haystack, query) {
		score += 5
	}
	for _, token := range strings.Fields(query) {
		if strings.Contains(haystack, token) {
			score++
		}
	}
	return score
}

// Watch reloads the catalogue whenever the file changes, until ctx is
// cancelled. Rapid successive writes are debounced.
func (c *Catalog) Watch(ctx context.Context) error {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()

	if c.closed {
		return fmt.Errorf("catalog is closed")
	}
	if c.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create catalog watcher: %w", err)
	}

	// Watch the directory; editors often replace the file on save.
	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch catalog directory: %w", err)
	}
	c.watcher = watcher

	go c.watchLoop(ctx, watcher)

	slog.Info("Watching prefab catalog", "path", c.path)
	return nil
}

func (c *Catalog) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var debounce *time.Timer
	const debounceDelay = 100 * time.Millisecond
	base := filepath.Base(c.path)

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				if err := c.reload(); err != nil {
					slog.Error("Failed to reload prefab catalog", "error", err)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Catalog watcher error", "error", err)
		}
	}
}

func (c *Catalog) Close() error {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()

	c.closed = true
	if c.watcher != nil {
		err := c.watcher.Close()
		c.watcher = nil
		return err
	}
	return nil
}
