// Package bridge wires the bridge's components together into a single
// owning struct (spec §9's redesign of the source's classmethod-singleton
// "WB" class) and drives its lifecycle.
package bridge

import (
	"context"

	"github.com/cs3org/wopibridge/internal/adapter"
	"github.com/cs3org/wopibridge/internal/config"
	"github.com/cs3org/wopibridge/internal/coordinator"
	"github.com/cs3org/wopibridge/internal/registry"
	"github.com/cs3org/wopibridge/internal/wopi"
)

// Bridge owns the registry, the WOPI client, the adapter tables, and the
// save coordinator.
type Bridge struct {
	Config   *config.Config
	Registry *registry.Registry
	WOPI     *wopi.Client

	// ExtensionAdapters resolves a new document's adapter by the file
	// extension of its BaseFileName (spec §4.6.1 step 2).
	ExtensionAdapters map[string]adapter.Adapter
	// TagAdapters resolves an open document's adapter by the app tag
	// recorded in its lock (spec §4.5 step a, "the adapter named by
	// lock.app").
	TagAdapters map[string]adapter.Adapter

	Coordinator *coordinator.Coordinator
}

// New builds a Bridge from configuration. Adapters are registered
// separately via RegisterAdapter before Start.
func New(cfg *config.Config) *Bridge {
	reg := registry.New()
	wopiClient := wopi.NewClient(cfg.SkipSSLVerify)
	tagAdapters := make(map[string]adapter.Adapter)
	return &Bridge{
		Config:            cfg,
		Registry:          reg,
		WOPI:              wopiClient,
		ExtensionAdapters: make(map[string]adapter.Adapter),
		TagAdapters:       tagAdapters,
		Coordinator:       coordinator.New(reg, wopiClient, tagAdapters, cfg.SaveInterval, cfg.UnlockInterval),
	}
}

// RegisterAdapter makes a plugin reachable by both the file extensions it
// handles on open and the app tags it writes into a lock on save.
func (b *Bridge) RegisterAdapter(a adapter.Adapter, extensions, tags []string) {
	for _, ext := range extensions {
		b.ExtensionAdapters[ext] = a
	}
	for _, tag := range tags {
		b.TagAdapters[tag] = a
	}
}

// Start launches the save coordinator in the background.
func (b *Bridge) Start(ctx context.Context) {
	go b.Coordinator.Run(ctx)
}

// Stop requests the coordinator to finish its current cycle and exit
// (spec §5's atexit-style shutdown hook).
func (b *Bridge) Stop() {
	b.Coordinator.Stop()
}
