package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/storage"
	"github.com/viant/afs/url"

	"github.com/tmineno/pipeit/internal/registry"
)

// loadRegistry assembles the actor registry a compilation needs: either
// a single --actor-meta manifest (hermetic build, spec.md §6), or the
// union of --include files and --actor-path directories, each holding
// manifest-shaped actor metadata. actorMeta and the other two sources
// are mutually exclusive at the flag-parsing layer (see root.go).
func loadRegistry(ctx context.Context, fs afs.Service, includes, actorPaths []string, actorMeta string) (*registry.Registry, error) {
	if actorMeta != "" {
		data, err := fs.DownloadWithURL(ctx, actorMeta)
		if err != nil {
			return nil, fmt.Errorf("loading --actor-meta %s: %w", actorMeta, err)
		}
		return registry.FromManifestJSON(data)
	}

	merged := registry.New()
	for _, inc := range includes {
		if err := mergeManifestFile(ctx, fs, inc, merged); err != nil {
			return nil, err
		}
	}
	for _, dir := range actorPaths {
		if err := walkActorPath(ctx, fs, dir, merged); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

func mergeManifestFile(ctx context.Context, fs afs.Service, path string, into *registry.Registry) error {
	data, err := fs.DownloadWithURL(ctx, path)
	if err != nil {
		return fmt.Errorf("loading --include %s: %w", path, err)
	}
	reg, err := registry.FromManifestJSON(data)
	if err != nil {
		return fmt.Errorf("parsing --include %s: %w", path, err)
	}
	for _, name := range reg.Names() {
		meta, _ := reg.Lookup(name)
		into.Add(meta)
	}
	return nil
}

func walkActorPath(ctx context.Context, fs afs.Service, root string, into *registry.Registry) error {
	var visitor storage.OnVisit = func(ctx context.Context, baseURL, parent string, info os.FileInfo, reader io.Reader) (bool, error) {
		if info.IsDir() {
			return true, nil
		}
		if !strings.HasSuffix(info.Name(), ".json") {
			return true, nil
		}
		fileURL := url.Join(baseURL, filepath.Base(info.Name()))
		if err := mergeManifestFile(ctx, fs, fileURL, into); err != nil {
			return false, err
		}
		return true, nil
	}
	return fs.Walk(ctx, root, visitor)
}
