// Package report renders a project into a PDF worksheet. Rendering runs a
// chain of stages: template substitution, markup engines in order of fidelity,
// then a plain label: value layout. The first stage to produce bytes wins.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"p9e.in/wsm/models"
	"p9e.in/wsm/pkg/apperr"
	"p9e.in/wsm/pkg/artifacts"
	"p9e.in/wsm/pkg/schema"
)

// Stage names as they appear in logs and RenderError failures.
const (
	StageTemplate = "template"
	StagePlain    = "plain"
)

const contentTypePDF = "application/pdf"

// ProjectSource loads a project with all of its sections.
type ProjectSource interface {
	GetProject(ctx context.Context, projectNo string) (*models.Project, error)
}

// Document is a rendered report.
type Document struct {
	ProjectNo   string
	Filename    string
	ContentType string
	Engine      string
	Data        []byte
	Lines       []Line
	Failures    []apperr.StageFailure
}

// Options configures a Renderer. Zero values select defaults.
type Options struct {
	Engines      []Engine
	Plain        PlainWriter
	Sink         artifacts.Sink
	StageTimeout time.Duration
	CacheSize    int
	Logger       *slog.Logger
	Now          func() time.Time
}

// Renderer produces project reports.
type Renderer struct {
	projects  ProjectSource
	registry  *schema.Registry
	templates *Templates
	engines   []Engine
	plain     PlainWriter
	sink      artifacts.Sink
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time

	cache *lru.Cache[string, *Document]
	group singleflight.Group
}

// NewRenderer wires the render chain.
func NewRenderer(projects ProjectSource, registry *schema.Registry, templates *Templates, opts Options) (*Renderer, error) {
	r := &Renderer{
		projects:  projects,
		registry:  registry,
		templates: templates,
		engines:   opts.Engines,
		plain:     opts.Plain,
		sink:      opts.Sink,
		timeout:   opts.StageTimeout,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if r.sink == nil {
		r.sink = artifacts.Nop{}
	}
	if r.timeout <= 0 {
		r.timeout = 30 * time.Second
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if opts.CacheSize > 0 {
		c, err := lru.New[string, *Document](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("report cache: %w", err)
		}
		r.cache = c
	}
	return r, nil
}

// Render returns the project's report. An unknown project is a RenderError
// wrapping the NotFoundError; a RenderError without cause means every stage failed.
func (r *Renderer) Render(ctx context.Context, projectNo string) (*Document, error) {
	p, err := r.projects.GetProject(ctx, projectNo)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, &apperr.RenderError{ProjectNo: projectNo, Err: err}
		}
		return nil, err
	}

	key := r.cacheKey(p)
	if r.cache != nil {
		if doc, ok := r.cache.Get(key); ok {
			return doc, nil
		}
	}

	// shared by every caller waiting on key, so one client leaving must not cancel it
	rctx := context.WithoutCancel(ctx)
	v, err, _ := r.group.Do(key, func() (any, error) {
		doc, err := r.render(rctx, p)
		if err == nil && r.cache != nil {
			r.cache.Add(key, doc)
		}
		return doc, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*Document), nil
}

// cacheKey changes when the project is saved, the schemas are reloaded or the
// variant's template is edited.
func (r *Renderer) cacheKey(p *models.Project) string {
	key := fmt.Sprintf("%s@%s#%d", p.ProjectNo, p.UpdatedAt.UTC().Format(time.RFC3339Nano), r.registry.Generation())
	if r.templates != nil {
		key += "#" + r.templates.Fingerprint(p.Variant)
	}
	return key
}

func (r *Renderer) render(ctx context.Context, p *models.Project) (*Document, error) {
	log := r.logger.With("project_no", p.ProjectNo)
	data := BuildData(p, r.registry, r.now())
	doc := &Document{
		ProjectNo:   p.ProjectNo,
		Filename:    p.ProjectNo + ".pdf",
		ContentType: contentTypePDF,
		Lines:       data.Lines(),
	}
	fail := func(stage string, err error) {
		log.Warn("⚠️ render stage failed", "stage", stage, "err", err)
		doc.Failures = append(doc.Failures, apperr.StageFailure{Stage: stage, Err: err})
	}

	markup, err := runStage(ctx, r.timeout, func(context.Context) (string, error) {
		return r.templates.Execute(p.Variant, data)
	})
	if err != nil {
		fail(StageTemplate, err)
		r.put(ctx, log, p.ProjectNo+"_debug.html", "text/html; charset=utf-8",
			[]byte(fmt.Sprintf("<!-- template stage failed: %s -->\n", err)))
	} else {
		r.put(ctx, log, p.ProjectNo+"_debug.html", "text/html; charset=utf-8", []byte(markup))

		for _, e := range r.engines {
			if !e.Available() {
				fail(e.Name(), errors.New("engine unavailable"))
				continue
			}
			conv, err := runStage(ctx, r.timeout, func(sctx context.Context) (*Conversion, error) {
				return e.Convert(sctx, markup)
			})
			if conv != nil && conv.Log != "" {
				r.put(ctx, log, p.ProjectNo+"_conversion.log", "text/plain; charset=utf-8", []byte(conv.Log))
			}
			if err == nil && (conv == nil || len(conv.PDF) == 0) {
				err = errors.New("engine returned an empty document")
			}
			if err != nil {
				fail(e.Name(), err)
				continue
			}
			doc.Engine = e.Name()
			doc.Data = conv.PDF
			break
		}
	}

	if doc.Data == nil {
		pdf, err := runStage(ctx, r.timeout, func(context.Context) ([]byte, error) {
			return r.plain.Write(doc.Lines)
		})
		if err == nil && len(pdf) == 0 {
			err = errors.New("plain writer returned an empty document")
		}
		if err != nil {
			fail(StagePlain, err)
			log.Error("❌ all render stages failed", "stages", len(doc.Failures))
			return nil, &apperr.RenderError{ProjectNo: p.ProjectNo, Failures: doc.Failures}
		}
		doc.Engine = StagePlain
		doc.Data = pdf
	}

	r.put(ctx, log, doc.Filename, doc.ContentType, doc.Data)
	log.Info("✅ report rendered", "engine", doc.Engine, "bytes", len(doc.Data), "failed_stages", len(doc.Failures))
	return doc, nil
}

// put stores an artifact; failures are logged and never abort rendering.
func (r *Renderer) put(ctx context.Context, log *slog.Logger, name, contentType string, data []byte) {
	if err := r.sink.Put(ctx, name, contentType, data); err != nil {
		log.Warn("⚠️ failed to store artifact", "name", name, "err", err)
	}
}

// runStage runs fn under its own deadline. A stage that ignores its context is
// abandoned when the deadline passes and its result discarded.
func runStage[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				var zero T
				done <- result{zero, fmt.Errorf("stage panicked: %v", rec)}
			}
		}()
		v, err := fn(sctx)
		done <- result{v, err}
	}()

	select {
	case res := <-done:
		return res.v, res.err
	case <-sctx.Done():
		var zero T
		return zero, fmt.Errorf("stage timed out after %s: %w", timeout, sctx.Err())
	}
}
