// Package lifecycle creates, deletes, and aliases the two physical
// indices of a corpus, and drives the engine's write-optimization
// settings around bulk loads.
//
// Physical index names carry a timestamp suffix; readers only ever see
// the corpus aliases, so a recreate can build the new indices completely
// before swapping.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/eklundh/strandr/internal/corpusconf"
	"github.com/eklundh/strandr/internal/engine"
	"github.com/eklundh/strandr/pkg/config"
	"github.com/eklundh/strandr/pkg/logger"
)

// Manager owns index lifecycle operations for all corpora.
type Manager struct {
	engine *engine.Client
	cfg    config.EngineConfig
	log    *slog.Logger
}

// NewManager creates a Manager.
func NewManager(client *engine.Client, cfg config.EngineConfig) *Manager {
	return &Manager{
		engine: client,
		cfg:    cfg,
		log:    logger.WithComponent("lifecycle"),
	}
}

// CreateIndices creates fresh document and position indices for a corpus
// and points the corpus aliases at them.
func (m *Manager) CreateIndices(ctx context.Context, schema *corpusconf.Schema) error {
	corpusID := schema.Config.CorpusID

	docIndex, err := m.uniqueName(ctx, corpusID, "")
	if err != nil {
		return err
	}
	if err := m.engine.CreateIndex(ctx, docIndex, m.documentIndexBody(schema)); err != nil {
		return fmt.Errorf("creating document index %s: %w", docIndex, err)
	}
	if err := m.setAlias(ctx, engine.DocumentAlias(corpusID), docIndex); err != nil {
		return err
	}

	posIndex, err := m.uniqueName(ctx, corpusID, "terms")
	if err != nil {
		return err
	}
	if err := m.engine.CreateIndex(ctx, posIndex, m.positionIndexBody()); err != nil {
		return fmt.Errorf("creating position index %s: %w", posIndex, err)
	}
	if err := m.setAlias(ctx, engine.PositionAlias(corpusID), posIndex); err != nil {
		return err
	}

	m.log.Info("created corpus indices",
		slog.String("corpus", corpusID),
		slog.String("documents", docIndex),
		slog.String("positions", posIndex))
	return nil
}

// DeleteIndices removes every physical index behind a corpus' aliases.
func (m *Manager) DeleteIndices(ctx context.Context, corpusID string) error {
	for _, alias := range []string{engine.DocumentAlias(corpusID), engine.PositionAlias(corpusID)} {
		names, err := m.engine.ResolveAlias(ctx, alias)
		if err != nil {
			return fmt.Errorf("resolving alias %s: %w", alias, err)
		}
		for _, name := range names {
			if err := m.engine.DeleteIndex(ctx, name); err != nil {
				return fmt.Errorf("deleting index %s: %w", name, err)
			}
			m.log.Info("deleted index", slog.String("corpus", corpusID), slog.String("index", name))
		}
	}
	return nil
}

// EnableInsertSettings relaxes write settings before a bulk load:
// refreshes are disabled so segments are not churned mid-run.
func (m *Manager) EnableInsertSettings(ctx context.Context, corpusID string) error {
	return m.setRefreshInterval(ctx, corpusID, "-1")
}

// FinishInsertSettings restores read-serving settings after a bulk load:
// replicas are attached, segments force-merged, and refreshing resumed.
// Called even after a partially failed run, so whatever did land is
// served consistently.
func (m *Manager) FinishInsertSettings(ctx context.Context, corpusID string) error {
	for _, target := range []struct {
		alias    string
		replicas int
	}{
		{engine.DocumentAlias(corpusID), m.cfg.Replicas},
		{engine.PositionAlias(corpusID), m.cfg.Replicas},
	} {
		err := m.engine.PutSettings(ctx, target.alias, map[string]any{
			"index.number_of_replicas": target.replicas,
		})
		if err != nil {
			return fmt.Errorf("restoring replicas on %s: %w", target.alias, err)
		}
		if err := m.engine.ForceMerge(ctx, target.alias, 1); err != nil {
			return fmt.Errorf("merging %s: %w", target.alias, err)
		}
	}
	return m.setRefreshInterval(ctx, corpusID, "1s")
}

func (m *Manager) setRefreshInterval(ctx context.Context, corpusID, interval string) error {
	for _, alias := range []string{engine.DocumentAlias(corpusID), engine.PositionAlias(corpusID)} {
		err := m.engine.PutSettings(ctx, alias, map[string]any{
			"index.refresh_interval": interval,
		})
		if err != nil {
			return fmt.Errorf("setting refresh interval on %s: %w", alias, err)
		}
	}
	return nil
}

func (m *Manager) setAlias(ctx context.Context, alias, index string) error {
	err := m.engine.UpdateAliases(ctx, []engine.AliasAction{
		{Add: &engine.AliasTarget{Index: index, Alias: alias}},
	})
	if err != nil {
		return fmt.Errorf("aliasing %s to %s: %w", alias, index, err)
	}
	return nil
}

// uniqueName builds a timestamped physical index name, suffixing until it
// does not collide with an existing index.
func (m *Manager) uniqueName(ctx context.Context, corpusID, kind string) (string, error) {
	base := corpusID + "_"
	if kind != "" {
		base += kind + "_"
	}
	name := base + time.Now().Format("20060102-1504")
	for {
		exists, err := m.engine.IndexExists(ctx, name)
		if err != nil {
			return "", fmt.Errorf("checking index name %s: %w", name, err)
		}
		if !exists {
			return name, nil
		}
		name += "1"
	}
}
