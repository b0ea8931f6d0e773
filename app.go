package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"gorm.io/gorm"

	"p9e.in/wsm/config"
	"p9e.in/wsm/pkg/access"
	"p9e.in/wsm/pkg/artifacts"
	"p9e.in/wsm/pkg/projects"
	"p9e.in/wsm/pkg/report"
	"p9e.in/wsm/pkg/schema"
	"p9e.in/wsm/pkg/workflow"
)

// app is the wired service graph shared by every command.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *gorm.DB
	registry  *schema.Registry
	workflow  *workflow.Workflow
	projects  *projects.Store
	access    *access.Service
	templates *report.Templates
	renderer  *report.Renderer

	closers []io.Closer
}

// bootstrap loads configuration, connects and migrates the database and
// seeds the admin account.
func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: config.InitLogger(cfg.LogLevel)}

	if a.db, err = config.Connect(cfg); err != nil {
		return nil, err
	}
	if sqlDB, err := a.db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB)
	}
	if err := config.Migrations(a.db); err != nil {
		a.Close()
		return nil, err
	}

	if a.registry, err = loadRegistry(cfg.SchemaDir); err != nil {
		a.Close()
		return nil, err
	}
	a.workflow = workflow.New(cfg.WorkflowPolicy, cfg.StatusChangeGate)
	a.projects = projects.NewStore(a.db, a.registry, projects.NewNumberer(cfg.Numbering), a.workflow, projects.WithLogger(a.logger))
	a.access = access.NewService(a.db, nil, a.workflow, a.logger)

	if err := config.SeedAdmin(ctx, a.access, cfg); err != nil {
		a.Close()
		return nil, err
	}
	a.logger.Info("✅ database ready",
		"policy", a.workflow.Policy().Name(),
		"status_gate", a.workflow.Gate(),
		"variants", len(a.registry.Variants()),
	)
	return a, nil
}

func loadRegistry(dir string) (*schema.Registry, error) {
	if dir == "" {
		return schema.Default(), nil
	}
	return schema.Load(schema.DefaultFS(), os.DirFS(dir))
}

// withRenderer adds the report chain: headless Chrome when enabled, the
// built-in flow engine, then the plain writer.
func (a *app) withRenderer(ctx context.Context) error {
	var err error
	if a.templates, err = report.NewTemplates(a.cfg.TemplateDir); err != nil {
		return err
	}

	sink, err := artifacts.Open(ctx, a.cfg.ArtifactBackend, a.cfg.ArtifactDir, a.cfg.GCSBucket, a.cfg.GCSPrefix)
	if err != nil {
		return err
	}
	if c, ok := sink.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	var engines []report.Engine
	if a.cfg.PDFPrimary {
		chrome := &report.ChromeEngine{Bin: a.cfg.ChromeBin, ControlURL: a.cfg.ChromeURL, Logger: a.logger}
		a.closers = append(a.closers, chrome)
		engines = append(engines, chrome)
	}
	engines = append(engines, report.FlowEngine{Compress: a.cfg.PDFCompress})

	a.renderer, err = report.NewRenderer(a.projects, a.registry, a.templates, report.Options{
		Engines:      engines,
		Plain:        report.PlainWriter{Compress: a.cfg.PDFCompress},
		Sink:         sink,
		StageTimeout: a.cfg.RenderStageTimeout,
		CacheSize:    a.cfg.ReportCacheSize,
		Logger:       a.logger,
	})
	return err
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("close failed", "err", err)
		}
	}
	a.closers = nil
}
