package main

import (
	"path/filepath"

	"dialectica/internal/artifact"
	"dialectica/internal/config"
	"dialectica/internal/embedding"
	"dialectica/internal/gather"
	"dialectica/internal/indexing"
	"dialectica/internal/model"
	"dialectica/internal/planner"
	"dialectica/internal/prompt"
	"dialectica/internal/recipe"
	"dialectica/internal/stage"
	"dialectica/internal/store"
	"dialectica/internal/types"
	"dialectica/internal/usage"
	"dialectica/internal/worker"
)

// app wires the full service graph for one CLI invocation.
type app struct {
	cfg      *config.Config
	store    *store.Store
	files    *artifact.FileStore
	template *recipe.ProcessTemplate

	assembler *prompt.Assembler
	gatherer  *gather.Gatherer
	planner   *planner.Planner
	service   *stage.Service
	tracker   *usage.Tracker

	// indexer is nil when embedding is disabled.
	indexer *indexing.Indexer
}

func newApp() (*app, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dbPath := cfg.Storage.DatabasePath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(workspace, dbPath)
	}
	artifactRoot := cfg.Storage.ArtifactRoot
	if !filepath.IsAbs(artifactRoot) {
		artifactRoot = filepath.Join(workspace, artifactRoot)
	}

	s, err := store.New(dbPath)
	if err != nil {
		return nil, err
	}
	files, err := artifact.NewFileStore(artifactRoot)
	if err != nil {
		s.Close()
		return nil, err
	}

	recipePath := cfg.Storage.RecipePath
	if recipePath != "" && !filepath.IsAbs(recipePath) {
		recipePath = filepath.Join(workspace, recipePath)
	}
	template, err := recipe.LoadOrDefault(recipePath)
	if err != nil {
		s.Close()
		return nil, err
	}
	assembler := prompt.New()
	gatherer := gather.New(s, files)
	p := planner.New(s, template)
	p.SetMaxRetries(cfg.Models.MaxRetries)
	service := stage.NewService(s, files, p, assembler, gatherer, template)

	tracker, err := usage.NewTracker(filepath.Dir(dbPath))
	if err != nil {
		s.Close()
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		store:     s,
		files:     files,
		template:  template,
		assembler: assembler,
		gatherer:  gatherer,
		planner:   p,
		service:   service,
		tracker:   tracker,
	}

	if cfg.Embedding.Enabled {
		engine, err := embedding.NewEngine(cfg.Embedding, cfg.Models.APIKey)
		if err != nil {
			s.Close()
			return nil, err
		}
		a.indexer = indexing.New(s, engine, cfg.Embedding.ChunkSize)
	}
	return a, nil
}

func (a *app) close() {
	_ = a.tracker.Save()
	_ = a.store.Close()
}

// newPool builds the worker pool. The model adapter needs credentials, so
// this is only called by commands that actually generate.
func (a *app) newPool() (*worker.Pool, error) {
	if a.cfg.Models.APIKey == "" {
		return nil, types.NewConfigError("no API key configured; set GEMINI_API_KEY")
	}
	adapter, err := model.NewGeminiAdapter(a.cfg.Models.APIKey, a.cfg.Models.MaxOutputTokens)
	if err != nil {
		return nil, err
	}

	var indexer types.DocumentIndexer
	if a.indexer != nil {
		indexer = a.indexer
	}
	exec := worker.NewExecutor(a.store, a.files, a.gatherer, a.assembler, a.template, adapter, indexer)
	exec.SetCallTimeout(a.cfg.GetCallTimeout())

	pool := worker.NewPool(a.store, exec, a.planner, worker.NewWatcher(a.store, a.planner))
	pool.SetWorkers(a.cfg.Workers.Count)
	pool.SetTiming(a.cfg.GetPollInterval(), a.cfg.GetBackoffBase())
	return pool, nil
}

// withApp wraps a command body with app construction and teardown.
func withApp(fn func(a *app) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}
