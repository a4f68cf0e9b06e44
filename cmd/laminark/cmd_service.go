package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/noobynull/laminark/internal/config"
	"github.com/noobynull/laminark/internal/curation"
	"github.com/noobynull/laminark/internal/embedding"
	"github.com/noobynull/laminark/internal/logging"
	"github.com/noobynull/laminark/internal/project"
	"github.com/noobynull/laminark/internal/store"
)

// serviceCmd runs the long-lived background loop: periodic curation,
// fallback promotion, embedding backfill, and WAL checkpointing. Entity
// extraction is not part of this loop. It
// watches the config file for live reload and the database directory
// for externally-triggered checkpoint markers, so operators and
// ephemeral hook processes can nudge it without a restart. A file lock
// next to the database keeps two service processes from running
// against the same store at once.
var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "run the background curation, embedding, and checkpoint loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runService(cmd.Context())
	},
}

func runService(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	lock := flock.New(cfg.Store.DatabasePath + ".service.lock")
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire service lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another laminark service is already running against %s", cfg.Store.DatabasePath)
	}
	defer lock.Unlock()

	s, err := store.Open(cfg.Store.DatabasePath, cfg.Store.RequireVector)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	textAgent, err := newTextAgent(cfg)
	if err != nil {
		return fmt.Errorf("build text agent: %w", err)
	}
	pipeline := curation.New(s, textAgent, curation.Config{
		BatchSize:       cfg.Curation.BatchSize,
		FallbackTimeout: cfg.Curation.FallbackTimeout(),
		TimeoutMS:       int(cfg.Agent.AgentTimeout().Milliseconds()),
	})

	embedEngine, err := embedding.NewEngine(embeddingConfigFrom(cfg))
	if err != nil {
		logging.EmbeddingWarn("embedding engine unavailable, search stays lexical-only: %v", err)
	}

	watcher, err := startConfigWatcher(cfg.Store.DatabasePath)
	if err != nil {
		logging.Get(logging.CategoryBoot).Warn("config/checkpoint watcher unavailable: %v", err)
	} else {
		defer watcher.Close()
	}

	projectHashes, err := knownProjectHashes(ctx, s)
	if err != nil {
		return fmt.Errorf("discover known projects: %w", err)
	}

	ticker := time.NewTicker(cfg.Curation.CurationInterval())
	defer ticker.Stop()

	fmt.Printf("laminark service started: db=%s interval=%s\n", cfg.Store.DatabasePath, cfg.Curation.CurationInterval())

	for {
		select {
		case <-ctx.Done():
			fmt.Println("laminark service shutting down")
			return s.Checkpoint()

		case <-ticker.C:
			runTick(ctx, s, pipeline, embedEngine, projectHashes)

		case event, ok := <-watcherEvents(watcher):
			if !ok {
				continue
			}
			if event.Op&fsnotify.Write == fsnotify.Write {
				logging.BootDebug("service: detected write on %s", event.Name)
				if filepath.Base(event.Name) == "config.yaml" {
					if reloaded, err := loadConfig(); err == nil {
						cfg = reloaded
						ticker.Reset(cfg.Curation.CurationInterval())
					}
				} else {
					_ = s.Checkpoint()
				}
			}
		}
	}
}

// runTick runs one curation + fallback + embedding + checkpoint cycle
// across every known project, fanning the per-project work out with
// errgroup since projects are independent. It does not call
// ExtractEntities.
func runTick(ctx context.Context, s *store.Store, pipeline *curation.Pipeline, embedEngine embedding.EmbeddingEngine, projectHashes []string) {
	g, gctx := errgroup.WithContext(ctx)

	for _, hash := range projectHashes {
		hash := hash
		g.Go(func() error {
			if _, err := pipeline.RunOnce(gctx, hash); err != nil {
				logging.CurationWarn("curation pass failed for project %s: %v", hash, err)
			}
			if _, err := pipeline.RunFallback(gctx, hash); err != nil {
				logging.CurationWarn("fallback pass failed for project %s: %v", hash, err)
			}
			if embedEngine != nil {
				if err := backfillEmbeddings(gctx, s, embedEngine, hash); err != nil {
					logging.Get(logging.CategoryEmbedding).Warn("embedding backfill failed for project %s: %v", hash, err)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logging.Get(logging.CategoryBoot).Warn("service tick encountered an error: %v", err)
	}
	if err := s.Checkpoint(); err != nil {
		logging.StoreWarn("checkpoint failed: %v", err)
	}
}

// backfillEmbeddings embeds observations that have been classified but
// don't yet carry a vector.
func backfillEmbeddings(ctx context.Context, s *store.Store, engine embedding.EmbeddingEngine, projectHash string) error {
	rows, err := s.List(ctx, projectHash, store.ListOptions{Limit: 50})
	if err != nil {
		return err
	}
	for _, obs := range rows {
		if len(obs.Embedding) > 0 {
			continue
		}
		taskType := embedding.GetOptimalTaskType(obs.Content, map[string]interface{}{"source": obs.Source}, false)
		logging.EmbeddingDebug("backfill: observation %d classified as task_type=%s for embedding", obs.ID, taskType)
		vec, err := engine.Embed(ctx, obs.Content)
		if err != nil {
			return err
		}
		if err := s.SetEmbedding(ctx, obs.ID, vec, engine.Name(), 1); err != nil {
			return err
		}
	}
	return nil
}

// knownProjectHashes resolves the set of projects this service
// instance curates on each tick. The service runs against one
// workspace at a time, matching the CLI's own --project/--workspace
// scoping, so today that's always a single hash.
func knownProjectHashes(ctx context.Context, s *store.Store) ([]string, error) {
	dir, err := resolveProjectDir()
	if err != nil {
		return nil, err
	}
	hash, err := project.Hash(dir)
	if err != nil {
		return nil, err
	}
	return []string{hash}, nil
}

func startConfigWatcher(dbPath string) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Join(config.DefaultConfigDir(), "config.yaml")); err != nil {
		logging.Get(logging.CategoryBoot).Warn("cannot watch config.yaml: %v", err)
	}
	if err := watcher.Add(filepath.Dir(dbPath)); err != nil {
		watcher.Close()
		return nil, err
	}
	return watcher, nil
}

func watcherEvents(w *fsnotify.Watcher) chan fsnotify.Event {
	if w == nil {
		return nil
	}
	return w.Events
}
