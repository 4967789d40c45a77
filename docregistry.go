package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gamma-omg/pdf-qa/docstore"
)

type Ingester interface {
	CanRead(path string) bool
	Checksum(path string) (uint32, error)
	IngestFile(ctx context.Context, path string) (int, error)
	Ingested(ctx context.Context) ([]docstore.IngestedDoc, error)
	Forget(ctx context.Context, source string) error
}

// DocRegistry keeps a document root in sync with the index. Checksums of the
// ingested files are read back from the index, so a restart only touches
// files that changed while it was down.
type DocRegistry struct {
	log              *slog.Logger
	root             string
	mergeEventsDelay time.Duration
	ingester         Ingester

	mu   sync.Mutex
	crcs map[string]uint32
}

func NewDocRegistry(log *slog.Logger, root string, delay time.Duration, ingester Ingester) *DocRegistry {
	return &DocRegistry{
		log:              log,
		root:             root,
		mergeEventsDelay: delay,
		ingester:         ingester,
		crcs:             make(map[string]uint32),
	}
}

// Sync ingests every supported file under the root that is new or changed
// and forgets the documents under the root that no longer exist. Failures of
// single files are logged and do not stop the walk.
func (dr *DocRegistry) Sync(ctx context.Context) error {
	files, err := collectDocs(dr.root, dr.ingester.CanRead)
	if err != nil {
		return err
	}

	db, err := dr.ingester.Ingested(ctx)
	if err != nil {
		return err
	}

	dr.mu.Lock()
	for _, d := range db {
		dr.crcs[d.Source] = d.Checksum
	}
	dr.mu.Unlock()

	disk := make(map[string]struct{}, len(files))
	for _, f := range files {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		disk[f] = struct{}{}
		dr.ingest(ctx, f)
	}

	return dr.forgetRemovedDocuments(ctx, disk, db)
}

func (dr *DocRegistry) forgetRemovedDocuments(ctx context.Context, disk map[string]struct{}, db []docstore.IngestedDoc) error {
	for _, d := range db {
		if _, ok := disk[d.Source]; ok || !dr.owns(d.Source) {
			continue
		}

		if err := dr.forget(ctx, d.Source); err != nil {
			return fmt.Errorf("failed to remove document %s from store: %w", d.Source, err)
		}
	}

	return nil
}

// owns reports whether path lies under the root. Documents ingested from
// elsewhere share the collection and are left alone.
func (dr *DocRegistry) owns(path string) bool {
	rel, err := filepath.Rel(dr.root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Watch starts watching the root recursively and returns once the watcher is
// set up. Events for a file are merged until it has been quiet for the
// configured delay. Watching stops when ctx is done.
func (dr *DocRegistry) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	err = filepath.WalkDir(dr.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
	if err != nil {
		w.Close()
		return fmt.Errorf("failed to watch %s: %w", dr.root, err)
	}

	go dr.watchLoop(ctx, w)
	return nil
}

func (dr *DocRegistry) watchLoop(ctx context.Context, w *fsnotify.Watcher) {
	defer w.Close()

	fire := make(chan string)
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			dr.log.Error("watcher failure", "error", err)

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			dr.handleEvent(ctx, w, ev, timers, fire)

		case path := <-fire:
			delete(timers, path)
			dr.ingest(ctx, path)
		}
	}
}

func (dr *DocRegistry) handleEvent(ctx context.Context, w *fsnotify.Watcher, ev fsnotify.Event, timers map[string]*time.Timer, fire chan<- string) {
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		for _, path := range dr.cachedUnder(ev.Name) {
			if t, ok := timers[path]; ok {
				t.Stop()
				delete(timers, path)
			}
			if err := dr.forget(ctx, path); err != nil {
				dr.log.Error("failed to forget document", "path", path, "error", err)
			}
		}
		return
	}

	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if err := w.Add(ev.Name); err != nil {
			dr.log.Warn("failed to watch new directory", "path", ev.Name, "error", err)
		}
		return
	}
	if !dr.ingester.CanRead(ev.Name) {
		return
	}

	if t, ok := timers[ev.Name]; ok {
		t.Reset(dr.mergeEventsDelay)
		return
	}

	path := ev.Name
	timers[path] = time.AfterFunc(dr.mergeEventsDelay, func() {
		select {
		case fire <- path:
		case <-ctx.Done():
		}
	})
}

// ingest replaces the chunks of path when its checksum differs from the one
// last stored. Chunks of a failed ingest are dropped so a retry starts clean.
func (dr *DocRegistry) ingest(ctx context.Context, path string) {
	crc, err := dr.ingester.Checksum(path)
	if err != nil {
		dr.log.Warn("failed to read document", "path", path, "error", err)
		return
	}

	dr.mu.Lock()
	prev, seen := dr.crcs[path]
	dr.mu.Unlock()
	if seen && prev == crc {
		return
	}

	if seen {
		if err = dr.forget(ctx, path); err != nil {
			dr.log.Error("failed to forget outdated document", "path", path, "error", err)
			return
		}
	}

	n, err := dr.ingester.IngestFile(ctx, path)
	if err != nil {
		dr.log.Error("failed to ingest document", "path", path, "stored", n, "error", err)
		if err := dr.ingester.Forget(ctx, path); err != nil {
			dr.log.Error("failed to drop partially ingested document", "path", path, "error", err)
		}
		return
	}

	dr.mu.Lock()
	dr.crcs[path] = crc
	dr.mu.Unlock()
	dr.log.Info("document synced", "path", path, "chunks", n)
}

func (dr *DocRegistry) forget(ctx context.Context, path string) error {
	if err := dr.ingester.Forget(ctx, path); err != nil {
		return err
	}

	dr.mu.Lock()
	delete(dr.crcs, path)
	dr.mu.Unlock()
	dr.log.Info("document forgotten", "path", path)
	return nil
}

// cachedUnder lists the known documents at path or below it, so removing a
// directory forgets everything it held.
func (dr *DocRegistry) cachedUnder(path string) []string {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	var res []string
	prefix := path + string(filepath.Separator)
	for p := range dr.crcs {
		if p == path || strings.HasPrefix(p, prefix) {
			res = append(res, p)
		}
	}
	return res
}

// collectDocs lists the readable files under root, or root itself when it is
// a file.
func collectDocs(root string, canRead func(string) bool) (docs []string, err error) {
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !canRead(path) {
			return nil
		}

		docs = append(docs, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to collect documents in %s: %w", root, err)
	}

	return
}
