package backend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/mvp-joe/cortex-lsp/internal/discovery"
	"github.com/mvp-joe/cortex-lsp/internal/document"
	luaplugin "github.com/mvp-joe/cortex-lsp/internal/plugin/lua"
	"github.com/mvp-joe/cortex-lsp/internal/watcher"
	"github.com/mvp-joe/cortex-lsp/internal/workspace"
)

var errNotOnDisk = errors.New("file not on disk")

// PluginDir is where a workspace keeps its own Lua plugins, relative to the
// root.
const PluginDir = ".cortex-lsp/plugins"

// Initialize sets the workspace root, loads Lua plugins and, when preloading,
// opens every source file under root from disk and builds its symbol table
// so imports resolve into files the editor never opened.
func (b *Backend) Initialize(ctx context.Context, root string) error {
	disc, err := discovery.New(root, b.config.Include, b.config.Ignore)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.disc = disc
	b.mu.Unlock()

	dirs := append(append([]string(nil), b.config.PluginDirs...), filepath.Join(disc.Root(), filepath.FromSlash(PluginDir)))
	b.loadPlugins(ctx, dirs)

	if !b.config.Preload {
		return nil
	}
	paths, err := disc.Discover()
	if err != nil {
		return fmt.Errorf("failed to discover files: %w", err)
	}

	var opened []string
	for _, path := range paths {
		uri := document.URIOf(path)
		if _, err := b.ws.Status(uri); err == nil {
			continue
		}
		if _, err := b.loadFromDisk(uri); err != nil {
			log.Warningf("skipping %s: %v", path, err)
			continue
		}
		opened = append(opened, uri)
	}
	log.Infof("loaded %d of %d files under %s", len(opened), len(paths), disc.Root())
	return b.warm(ctx, opened)
}

func (b *Backend) loadPlugins(ctx context.Context, dirs []string) {
	plugins, err := luaplugin.Discover(dirs)
	if err != nil {
		log.Warningf("plugin discovery: %v", err)
	}
	for _, p := range plugins {
		if err := b.plugins.Register(ctx, p); err != nil {
			_ = p.Close()
		}
	}
}

// loadFromDisk opens uri with origin disk.
func (b *Backend) loadFromDisk(uri string) (*document.Revision, error) {
	data, err := os.ReadFile(filepath.FromSlash(document.PathOf(uri)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errNotOnDisk
	}
	if err != nil {
		return nil, err
	}
	return b.ws.OpenFile(uri, string(data), workspace.WithOrigin(document.OriginDisk))
}

// warm builds the symbol tables of uris, which also indexes them. Build
// failures are logged; only ctx's error is returned.
func (b *Backend) warm(ctx context.Context, uris []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.config.SymbolWorkers)
	for _, uri := range uris {
		g.Go(func() error {
			if _, err := b.GetSymbolTable(gctx, uri, -1); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Warningf("failed to build symbols for %s: %v", uri, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// SyncFromDisk brings disk-origin files in line with the given paths on
// disk: changed files get a new version, removed files are closed and new
// source files are opened. Files open in the editor are left alone.
func (b *Backend) SyncFromDisk(ctx context.Context, paths []string) error {
	disc := b.discovery()
	if disc == nil {
		return ErrNotInitialized
	}

	var (
		errs    []error
		touched []string
	)
	for _, path := range paths {
		uri := document.URIOf(path)
		st, err := b.ws.Status(uri)
		open := err == nil
		if open && st.Origin == document.OriginEditor {
			continue
		}

		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			if open {
				if err := b.drop(uri); err != nil && !errors.Is(err, workspace.ErrUnknownFile) {
					errs = append(errs, err)
				}
				log.Debugf("removed %s", uri)
			}
			continue
		case err != nil:
			errs = append(errs, fmt.Errorf("failed to read %s: %w", path, err))
			continue
		}

		if !open {
			if !disc.Match(path) {
				continue
			}
			if _, err := b.ws.OpenFile(uri, string(data), workspace.WithOrigin(document.OriginDisk)); err != nil && !errors.Is(err, workspace.ErrDuplicateFile) {
				errs = append(errs, err)
				continue
			}
			touched = append(touched, uri)
			continue
		}

		rev, err := b.ws.Revision(uri)
		if err != nil || rev.Text == string(data) {
			continue
		}
		if _, err := b.ws.ChangeFile(uri, []document.Edit{document.Replace(string(data))}); err != nil {
			errs = append(errs, err)
			continue
		}
		touched = append(touched, uri)
	}

	b.refreshStale()
	if err := b.warm(ctx, touched); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Watch keeps disk-origin files in sync with the workspace root until
// Shutdown.
func (b *Backend) Watch(ctx context.Context) error {
	disc := b.discovery()
	if disc == nil {
		return ErrNotInitialized
	}
	w, err := watcher.New(disc.Root(), disc, b.config.WatchDebounce)
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", disc.Root(), err)
	}

	b.mu.Lock()
	if b.watcher != nil {
		b.mu.Unlock()
		_ = w.Stop()
		return nil
	}
	b.watcher = w
	b.mu.Unlock()

	return w.Start(ctx, func(paths []string) {
		log.Debugf("disk changes: %d files", len(paths))
		if err := b.SyncFromDisk(b.ctx, paths); err != nil && b.ctx.Err() == nil {
			log.Warningf("sync from disk: %v", err)
		}
	})
}
