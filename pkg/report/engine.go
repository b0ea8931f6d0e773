package report

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/pkg/errors"
)

// Conversion is the output of a markup engine. Log holds the engine's
// diagnostics and may be set even when conversion failed.
type Conversion struct {
	PDF []byte
	Log string
}

// Engine converts substituted markup into a paginated PDF.
type Engine interface {
	Name() string
	Available() bool
	Convert(ctx context.Context, html string) (*Conversion, error)
}

// A4 with half-inch margins, in inches.
var (
	a4Width  = 8.27
	a4Height = 11.69
	margin   = 0.5
)

// ChromeEngine prints pages through headless Chrome. It connects to ControlURL
// when set, otherwise launches Bin (or the browser found on PATH) on first use.
type ChromeEngine struct {
	Bin        string
	ControlURL string
	Logger     *slog.Logger

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

func (e *ChromeEngine) Name() string { return "chrome" }

// Available reports whether a browser can be reached or launched.
func (e *ChromeEngine) Available() bool {
	if e.ControlURL != "" || e.Bin != "" {
		return true
	}
	_, found := launcher.LookPath()
	return found
}

func (e *ChromeEngine) connect() (*rod.Browser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.browser != nil {
		if _, err := e.browser.Version(); err == nil {
			return e.browser, nil
		}
		e.logger().Warn("stale browser connection, reconnecting")
		_ = e.browser.Close()
		e.browser = nil
	}

	controlURL := e.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(true).Leakless(false)
		if e.Bin != "" {
			l = l.Bin(e.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, errors.Wrap(err, "launch chrome")
		}
		e.launcher = l
		controlURL = u
	}

	// the browser outlives any single render, so it gets no request context
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, errors.Wrap(err, "connect to chrome")
	}
	e.browser = b
	return b, nil
}

// Convert loads html into a fresh page and prints it to PDF.
func (e *ChromeEngine) Convert(ctx context.Context, html string) (*Conversion, error) {
	b, err := e.connect()
	if err != nil {
		return nil, err
	}

	page, err := b.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, errors.Wrap(err, "open page")
	}
	defer page.Close()

	if err := page.SetDocumentContent(html); err != nil {
		return nil, errors.Wrap(err, "set content")
	}
	if err := page.WaitLoad(); err != nil {
		return nil, errors.Wrap(err, "wait load")
	}

	r, err := page.PDF(&proto.PagePrintToPDF{
		PaperWidth:        &a4Width,
		PaperHeight:       &a4Height,
		MarginTop:         &margin,
		MarginBottom:      &margin,
		MarginLeft:        &margin,
		MarginRight:       &margin,
		PrintBackground:   true,
		PreferCSSPageSize: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "print to pdf")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read pdf stream")
	}
	return &Conversion{PDF: data}, nil
}

// Close shuts the browser down, and the process if this engine launched it.
func (e *ChromeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.browser != nil {
		err = e.browser.Close()
		e.browser = nil
	}
	if e.launcher != nil {
		e.launcher.Kill()
		e.launcher = nil
	}
	return err
}

func (e *ChromeEngine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
