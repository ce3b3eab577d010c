// Package crawl orchestrates an archiving run end to end: entry-point
// discovery, URL admission, dispatch through the task queue, rendering,
// artifact generation, and progress bookkeeping.
package crawl

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/docs-archiver/internal/events"
	"github.com/JakeFAU/docs-archiver/internal/hash/sha256"
	iduuid "github.com/JakeFAU/docs-archiver/internal/id/uuid"
	"github.com/JakeFAU/docs-archiver/internal/policy"
	"github.com/JakeFAU/docs-archiver/internal/progress"
	"github.com/JakeFAU/docs-archiver/internal/publisher"
	"github.com/JakeFAU/docs-archiver/internal/render"
	"github.com/JakeFAU/docs-archiver/internal/state"
	"github.com/JakeFAU/docs-archiver/internal/storage"
	"github.com/JakeFAU/docs-archiver/internal/store"
	"github.com/JakeFAU/docs-archiver/internal/taskq"
)

// Event names emitted on the bus.
const (
	EventInitialized      = "initialized"
	EventURLsCollected    = "urls-collected"
	EventPageScraped      = "page-scraped"
	EventURLProcessed     = "url-processed"
	EventURLFailed        = "url-failed"
	EventURLSkipped       = "url-skipped"
	EventImageLoadFailure = "image-load-failure"
)

// ErrAlreadyRunning reports a Run or RetryFailedURLs call while another run
// is active.
var ErrAlreadyRunning = errors.New("crawl run already active")

// ErrNotInitialized reports URL collection before Initialize.
var ErrNotInitialized = errors.New("crawl engine not initialized")

// URLsCollected is the payload for EventURLsCollected.
type URLsCollected struct {
	TotalURLs  int
	Duplicates int
	Sections   int
}

// PageScraped is the payload for EventPageScraped and EventURLProcessed.
type PageScraped struct {
	URL        string
	Index      int
	OutputPath string
}

// URLFailure is the payload for EventURLFailed.
type URLFailure struct {
	URL      string
	Section  string
	Category string
	Reason   string
}

// ImageFailure is the payload for EventImageLoadFailure.
type ImageFailure struct {
	URL    string
	Images []string
}

// EntryPoint seeds discovery for one documentation section.
type EntryPoint struct {
	URL     string
	Section string
}

// LinkCollector harvests candidate links from an entry-point page.
// *discover.Collector satisfies it.
type LinkCollector interface {
	Links(ctx context.Context, pageURL string) ([]string, error)
}

// Config tunes one engine instance.
type Config struct {
	EntryPoints []EntryPoint
	// NavTimeout bounds each navigation attempt. Every wait strategy in the
	// fallback ladder gets its own full allotment.
	NavTimeout time.Duration
	// RetryFailed enables the automatic second pass over failed URLs at the
	// end of Run.
	RetryFailed bool
	// MarkdownArtifacts/PDFArtifacts select which artifacts each archived
	// page produces.
	MarkdownArtifacts bool
	PDFArtifacts      bool
	PDFOptions        render.PDFOptions
	// ObjectPrefix namespaces artifact object names within the provider.
	ObjectPrefix string
	// TranslateScript, when set, runs in the page after extraction. Failures
	// are classified and retried like extraction failures.
	TranslateScript string
}

// Deps carries the engine's collaborators. Renderer, Collector, Queue, and
// State are required; the rest default to inert implementations.
type Deps struct {
	Renderer  render.Renderer
	Collector LinkCollector
	Admission *policy.Admission
	Queue     *taskq.Queue
	State     *state.State
	Metadata  store.MetadataRepository
	Artifacts storage.Provider
	Publisher publisher.Publisher
	Bus       *events.Bus
	Progress  progress.Emitter
	IDs       *iduuid.Generator
	Hasher    *sha256.Hasher
	Logger    *zap.Logger
}

type runCounters struct {
	succeeded int
	failed    int
	skipped   int
}

// Engine drives archiving runs. A single Engine supports sequential runs;
// concurrent runs are rejected.
type Engine struct {
	cfg Config

	renderer  render.Renderer
	collector LinkCollector
	admission *policy.Admission
	queue     *taskq.Queue
	state     *state.State
	repo      store.MetadataRepository
	artifacts storage.Provider
	publisher publisher.Publisher
	bus       *events.Bus
	emitter   progress.Emitter
	ids       *iduuid.Generator
	hasher    *sha256.Hasher
	logger    *zap.Logger

	running     atomic.Bool
	initialized atomic.Bool

	mu           sync.Mutex
	runID        uuid.UUID
	counts       runCounters
	pendingRetry map[string]struct{}
	plan         []PlannedURL
	planSections map[string]string
}

// New validates the collaborators and builds an Engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Renderer == nil {
		return nil, errors.New("crawl engine requires a renderer")
	}
	if deps.Collector == nil {
		return nil, errors.New("crawl engine requires a link collector")
	}
	if deps.Queue == nil {
		return nil, errors.New("crawl engine requires a task queue")
	}
	if deps.State == nil {
		return nil, errors.New("crawl engine requires crawl state")
	}
	if deps.Metadata == nil {
		deps.Metadata = store.NoOp{}
	}
	if deps.Artifacts == nil {
		deps.Artifacts = storage.NoOp{}
	}
	if deps.Publisher == nil {
		deps.Publisher = publisher.NoOp{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Bus == nil {
		deps.Bus = events.NewBus(deps.Logger)
	}
	if deps.IDs == nil {
		deps.IDs = iduuid.New()
	}
	if deps.Hasher == nil {
		deps.Hasher = sha256.New()
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	return &Engine{
		cfg:          cfg,
		renderer:     deps.Renderer,
		collector:    deps.Collector,
		admission:    deps.Admission,
		queue:        deps.Queue,
		state:        deps.State,
		repo:         deps.Metadata,
		artifacts:    deps.Artifacts,
		publisher:    deps.Publisher,
		bus:          deps.Bus,
		emitter:      deps.Progress,
		ids:          deps.IDs,
		hasher:       deps.Hasher,
		logger:       deps.Logger,
		pendingRetry: make(map[string]struct{}),
		planSections: make(map[string]string),
	}, nil
}

// Initialize loads persisted crawl state and starts the autosave loop.
// Calling it again warns and does nothing.
func (e *Engine) Initialize(ctx context.Context) {
	if !e.initialized.CompareAndSwap(false, true) {
		e.logger.Warn("crawl engine already initialized")
		return
	}
	e.state.Load(ctx)
	e.state.StartAutosave(ctx)
	e.bus.Emit(EventInitialized, nil)
	e.logger.Info("crawl engine initialized",
		zap.Int("entry_points", len(e.cfg.EntryPoints)))
}

// Running reports whether a run is currently active.
func (e *Engine) Running() bool {
	return e.running.Load()
}

func (e *Engine) sectionFor(pageURL string) (string, bool) {
	key := pageURL
	if norm, err := policy.NormalizeURL(pageURL); err == nil {
		key = norm
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	section, ok := e.planSections[key]
	return section, ok
}

func (e *Engine) snapshotCounts() runCounters {
	e.mu.Lock()
	defer e.mu.Unlock()
	counts := e.counts
	// URLs still awaiting their retry pass count as failed; they are already
	// recorded that way in persisted state.
	counts.failed += len(e.pendingRetry)
	return counts
}

func (e *Engine) currentRunID() uuid.UUID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runID
}

func (e *Engine) emitProgress(evt progress.Event) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}
