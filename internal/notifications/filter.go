package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fentz26/pocketd/internal/store"
)

type filterDoc struct {
	Packages []string `json:"packages"`
}

// Filter is the package whitelist. Only notifications from listed packages
// reach the triage queue.
type Filter struct {
	docs   store.Documents
	logger *slog.Logger

	mu       sync.RWMutex
	packages map[string]struct{}
}

// NewFilter loads the whitelist from docs. A missing or unreadable document
// yields an empty whitelist.
func NewFilter(docs store.Documents, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Filter{
		docs:     docs,
		logger:   logger.With("component", "notification-filter"),
		packages: make(map[string]struct{}),
	}
	if err := f.Reload(); err != nil {
		f.logger.Warn("could not load whitelist, starting empty", "error", err)
	}
	return f
}

// IsAllowed reports whether pkg is whitelisted.
func (f *Filter) IsAllowed(pkg string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.packages[pkg]
	return ok
}

// List returns the whitelist sorted.
func (f *Filter) List() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return sortedKeys(f.packages)
}

// Len returns the number of whitelisted packages.
func (f *Filter) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.packages)
}

// Add whitelists pkg.
func (f *Filter) Add(pkg string) error {
	pkg = strings.TrimSpace(pkg)
	if pkg == "" {
		return fmt.Errorf("empty package name")
	}
	return f.mutate(func(set map[string]struct{}) { set[pkg] = struct{}{} })
}

// Remove drops pkg from the whitelist. Removing an absent package succeeds.
func (f *Filter) Remove(pkg string) error {
	return f.mutate(func(set map[string]struct{}) { delete(set, pkg) })
}

// Set replaces the whole whitelist.
func (f *Filter) Set(packages []string) error {
	return f.mutate(func(set map[string]struct{}) {
		clear(set)
		for _, p := range packages {
			if p = strings.TrimSpace(p); p != "" {
				set[p] = struct{}{}
			}
		}
	})
}

// mutate applies fn to a copy, persists it and only then makes it visible.
func (f *Filter) mutate(fn func(map[string]struct{})) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := make(map[string]struct{}, len(f.packages))
	for p := range f.packages {
		next[p] = struct{}{}
	}
	fn(next)

	if err := f.docs.Save(store.DocNotificationFilter, filterDoc{Packages: sortedKeys(next)}); err != nil {
		return fmt.Errorf("persist whitelist: %w", err)
	}
	f.packages = next
	return nil
}

// Reload re-reads the whitelist from storage. On error the current
// whitelist is kept.
func (f *Filter) Reload() error {
	var doc filterDoc
	found, err := f.docs.Load(store.DocNotificationFilter, &doc)
	if err != nil {
		return err
	}

	next := make(map[string]struct{}, len(doc.Packages))
	if found {
		for _, p := range doc.Packages {
			if p = strings.TrimSpace(p); p != "" {
				next[p] = struct{}{}
			}
		}
	}

	f.mu.Lock()
	f.packages = next
	f.mu.Unlock()
	return nil
}

// Watch reloads the whitelist whenever the file at path changes on disk,
// until ctx is done. It watches the parent directory so atomic replaces are
// seen.
func (f *Filter) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	go f.watchLoop(ctx, watcher, filepath.Base(path))
	return nil
}

func (f *Filter) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, name string) {
	defer watcher.Close()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(100*time.Millisecond, func() {
				if err := f.Reload(); err != nil {
					f.logger.Warn("whitelist reload failed, keeping previous", "error", err)
					return
				}
				f.logger.Info("whitelist reloaded", "packages", f.Len())
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("whitelist watcher error", "error", err)
		}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
