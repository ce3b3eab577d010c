// Package state tracks per-URL crawl outcomes and persists them as JSON
// documents so an interrupted crawl resumes exactly where it stopped.
//
// The orchestrator is the only writer; everything else reads. One invariant
// holds at every persistence boundary: a URL is never recorded as both
// processed and failed. Conflicts found in loaded or about-to-be-saved
// state are repaired with the failure winning, since claiming success for
// a page we may not have archived is the worse lie.
package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docs-archiver/internal/docstore"
	"github.com/JakeFAU/docs-archiver/internal/events"
)

// EventLoadError is emitted when hydrating from storage fails; the crawl
// proceeds from empty defaults rather than aborting.
const EventLoadError = "load-error"

// LoadError is the EventLoadError payload.
type LoadError struct {
	Document string
	Err      error
}

// Document names under the state directory.
const (
	progressDoc      = "progress.json"
	imageFailuresDoc = "image-load-failures.json"
	urlMappingDoc    = "url-mapping.json"
)

// Clock supplies time for debounce and stats; injected so tests can steer it.
type Clock interface {
	Now() time.Time
}

// Config tunes persistence cadence.
type Config struct {
	// SaveDebounce suppresses an unforced Save within this window of the
	// previous one. Defaults to 5s.
	SaveDebounce time.Duration
	// AutosaveInterval is the periodic save cadence. Defaults to 30s.
	AutosaveInterval time.Duration
}

// Stats is a point-in-time summary of crawl progress.
type Stats struct {
	Total             int
	Processed         int
	Failed            int
	Pending           int
	ImageLoadFailures int
	SuccessRate       float64
	Elapsed           time.Duration
}

// State is the durable crawl record.
type State struct {
	mu sync.RWMutex

	processed     map[string]struct{}
	failed        map[string]string
	urlToIndex    map[string]int
	indexToURL    map[int]string
	nextIndex     int
	imageFailures map[string]time.Time
	outputPaths   map[string]string
	total         int
	startTime     time.Time
	lastSaveAt    time.Time

	store  *docstore.Store
	bus    *events.Bus
	clock  Clock
	logger *zap.Logger
	cfg    Config

	autosaveStop chan struct{}
	autosaveDone chan struct{}
}

// New builds an empty State against the given document store.
func New(store *docstore.Store, bus *events.Bus, clock Clock, logger *zap.Logger, cfg Config) *State {
	if cfg.SaveDebounce <= 0 {
		cfg.SaveDebounce = 5 * time.Second
	}
	if cfg.AutosaveInterval <= 0 {
		cfg.AutosaveInterval = 30 * time.Second
	}
	if bus == nil {
		bus = events.NewBus(logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &State{
		store:  store,
		bus:    bus,
		clock:  clock,
		logger: logger,
		cfg:    cfg,
	}
	s.resetLocked()
	return s
}

// persisted document shapes; field names match the on-disk format consumed
// by downstream tooling.

type progressFile struct {
	ProcessedURLs []string       `json:"processedUrls"`
	FailedURLs    []failedURL    `json:"failedUrls"`
	URLToIndex    map[string]int `json:"urlToIndex"`
	StartTime     time.Time      `json:"startTime"`
	SavedAt       time.Time      `json:"savedAt"`
	Stats         persistedStats `json:"stats"`
}

type failedURL struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

type persistedStats struct {
	Total             int     `json:"total"`
	Processed         int     `json:"processed"`
	Failed            int     `json:"failed"`
	Pending           int     `json:"pending"`
	ImageLoadFailures int     `json:"imageLoadFailures"`
	SuccessRate       float64 `json:"successRate"`
	ElapsedMs         int64   `json:"elapsedMs"`
}

type imageFailure struct {
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
}

type mappingEntry struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

// Load hydrates from storage. Missing or corrupt documents leave the
// corresponding fields at empty defaults and surface on the bus as
// EventLoadError; Load itself never fails the caller.
func (s *State) Load(ctx context.Context) {
	var progress progressFile
	progressOK := s.loadDoc(ctx, progressDoc, &progress)

	var failures []imageFailure
	failuresOK := s.loadDoc(ctx, imageFailuresDoc, &failures)

	mapping := map[string]mappingEntry{}
	mappingOK := s.loadDoc(ctx, urlMappingDoc, &mapping)

	s.mu.Lock()
	if progressOK {
		s.processed = make(map[string]struct{}, len(progress.ProcessedURLs))
		for _, u := range progress.ProcessedURLs {
			s.processed[u] = struct{}{}
		}
		s.failed = make(map[string]string, len(progress.FailedURLs))
		for _, f := range progress.FailedURLs {
			s.failed[f.URL] = f.Error
		}
		s.urlToIndex = make(map[string]int, len(progress.URLToIndex))
		s.indexToURL = make(map[int]string, len(progress.URLToIndex))
		s.nextIndex = 0
		for u, idx := range progress.URLToIndex {
			s.urlToIndex[u] = idx
			s.indexToURL[idx] = u
			if idx >= s.nextIndex {
				s.nextIndex = idx + 1
			}
		}
		if !progress.StartTime.IsZero() {
			s.startTime = progress.StartTime
		}
	}
	if failuresOK {
		s.imageFailures = make(map[string]time.Time, len(failures))
		for _, f := range failures {
			s.imageFailures[f.URL] = f.Timestamp
		}
	}
	if mappingOK {
		s.outputPaths = make(map[string]string, len(mapping))
		for u, entry := range mapping {
			s.outputPaths[u] = entry.Path
		}
	}
	repaired := s.reconcileLocked()
	processed, failed := len(s.processed), len(s.failed)
	s.mu.Unlock()

	if repaired > 0 {
		s.logger.Warn("repaired processed/failed overlap in loaded state",
			zap.Int("conflicts", repaired))
	}
	s.logger.Info("crawl state loaded",
		zap.Int("processed", processed),
		zap.Int("failed", failed))
}

func (s *State) loadDoc(ctx context.Context, name string, out any) bool {
	err := s.store.ReadJSON(ctx, name, out)
	if err == nil {
		return true
	}
	s.logger.Warn("state document unavailable, starting empty",
		zap.String("document", name),
		zap.Error(err))
	s.bus.Emit(EventLoadError, LoadError{Document: name, Err: err})
	return false
}

// Save persists all documents. Unless forced, a call within the debounce
// window of the previous successful save is a no-op.
func (s *State) Save(ctx context.Context, force bool) error {
	s.mu.Lock()
	now := s.clock.Now()
	if !force && !s.lastSaveAt.IsZero() && now.Sub(s.lastSaveAt) < s.cfg.SaveDebounce {
		s.mu.Unlock()
		return nil
	}
	repaired := s.reconcileLocked()

	progress := progressFile{
		ProcessedURLs: sortedKeys(s.processed),
		URLToIndex:    copyMap(s.urlToIndex),
		StartTime:     s.startTime,
		SavedAt:       now,
		Stats:         s.persistedStatsLocked(now),
	}
	for _, u := range sortedStringKeys(s.failed) {
		progress.FailedURLs = append(progress.FailedURLs, failedURL{URL: u, Error: s.failed[u]})
	}

	failures := make([]imageFailure, 0, len(s.imageFailures))
	for _, u := range sortedTimeKeys(s.imageFailures) {
		failures = append(failures, imageFailure{URL: u, Timestamp: s.imageFailures[u]})
	}

	mapping := make(map[string]mappingEntry, len(s.outputPaths))
	for u, p := range s.outputPaths {
		mapping[u] = mappingEntry{Path: p, Timestamp: now}
	}

	if err := s.store.WriteJSON(ctx, progressDoc, progress); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("persist progress: %w", err)
	}
	if err := s.store.WriteJSON(ctx, imageFailuresDoc, failures); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("persist image failures: %w", err)
	}
	if err := s.store.WriteJSON(ctx, urlMappingDoc, mapping); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("persist url mapping: %w", err)
	}
	s.lastSaveAt = now
	s.mu.Unlock()

	if repaired > 0 {
		s.logger.Warn("repaired processed/failed overlap before save",
			zap.Int("conflicts", repaired))
	}
	return nil
}

// reconcileLocked removes any URL recorded as both processed and failed,
// dropping it from the processed set and its output-path record. Returns
// the number of conflicts repaired.
func (s *State) reconcileLocked() int {
	conflicts := 0
	for u := range s.failed {
		if _, ok := s.processed[u]; ok {
			delete(s.processed, u)
			delete(s.outputPaths, u)
			conflicts++
		}
	}
	return conflicts
}

// MarkProcessed records a successful URL, clearing any failure record.
func (s *State) MarkProcessed(url, outputPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[url] = struct{}{}
	delete(s.failed, url)
	if outputPath != "" {
		s.outputPaths[url] = outputPath
	}
	s.ensureIndexLocked(url)
}

// MarkFailed records a failed URL, removing it from the processed set. The
// cause is reduced to a message before persistence.
func (s *State) MarkFailed(url string, cause error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.processed, url)
	delete(s.outputPaths, url)
	s.failed[url] = msg
}

// MarkImageLoadFailure records that images on a page failed to load. This is
// independent of page success or failure.
func (s *State) MarkImageLoadFailure(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.imageFailures[url]; !ok {
		s.imageFailures[url] = s.clock.Now()
	}
}

// EnsureIndex returns the URL's stable index, assigning the next free one
// on first sight.
func (s *State) EnsureIndex(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureIndexLocked(url)
}

func (s *State) ensureIndexLocked(url string) int {
	if idx, ok := s.urlToIndex[url]; ok {
		return idx
	}
	idx := s.nextIndex
	s.nextIndex++
	s.urlToIndex[url] = idx
	s.indexToURL[idx] = url
	return idx
}

// Index reports the URL's index if assigned.
func (s *State) Index(url string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.urlToIndex[url]
	return idx, ok
}

// URLAt reports the URL behind an index.
func (s *State) URLAt(index int) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.indexToURL[index]
	return u, ok
}

// IsProcessed reports whether the URL already completed successfully.
func (s *State) IsProcessed(url string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.processed[url]
	return ok
}

// FailedURLs returns the currently-failed URLs in stable order.
func (s *State) FailedURLs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedStringKeys(s.failed)
}

// FailureMessage returns the recorded failure for a URL.
func (s *State) FailureMessage(url string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.failed[url]
	return msg, ok
}

// OutputPath returns the artifact location recorded for a processed URL.
func (s *State) OutputPath(url string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.outputPaths[url]
	return p, ok
}

// SetTotal records how many URLs this run intends to process.
func (s *State) SetTotal(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = n
}

// Stats summarizes progress. Pending is clamped at zero: resumed runs can
// legitimately have processed more URLs than the current collection found.
func (s *State) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statsLocked(s.clock.Now())
}

func (s *State) statsLocked(now time.Time) Stats {
	st := Stats{
		Total:             s.total,
		Processed:         len(s.processed),
		Failed:            len(s.failed),
		ImageLoadFailures: len(s.imageFailures),
	}
	if pending := st.Total - st.Processed - st.Failed; pending > 0 {
		st.Pending = pending
	}
	if attempts := st.Processed + st.Failed; attempts > 0 {
		st.SuccessRate = float64(st.Processed) / float64(attempts) * 100
	}
	if !s.startTime.IsZero() {
		st.Elapsed = now.Sub(s.startTime)
	}
	return st
}

func (s *State) persistedStatsLocked(now time.Time) persistedStats {
	st := s.statsLocked(now)
	return persistedStats{
		Total:             st.Total,
		Processed:         st.Processed,
		Failed:            st.Failed,
		Pending:           st.Pending,
		ImageLoadFailures: st.ImageLoadFailures,
		SuccessRate:       st.SuccessRate,
		ElapsedMs:         st.Elapsed.Milliseconds(),
	}
}

// Reset clears all in-memory fields for a fresh run against the same
// backing documents.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *State) resetLocked() {
	s.processed = make(map[string]struct{})
	s.failed = make(map[string]string)
	s.urlToIndex = make(map[string]int)
	s.indexToURL = make(map[int]string)
	s.nextIndex = 0
	s.imageFailures = make(map[string]time.Time)
	s.outputPaths = make(map[string]string)
	s.total = 0
	s.startTime = s.clock.Now()
	s.lastSaveAt = time.Time{}
}

// StartAutosave begins periodic unforced saves until StopAutosave is called
// or ctx ends. Save errors are logged, never propagated.
func (s *State) StartAutosave(ctx context.Context) {
	s.mu.Lock()
	if s.autosaveStop != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.autosaveStop = stop
	s.autosaveDone = done
	interval := s.cfg.AutosaveInterval
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.Save(ctx, false); err != nil {
					s.logger.Warn("periodic state save failed", zap.Error(err))
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StopAutosave halts the periodic saver and waits for it to exit.
func (s *State) StopAutosave() {
	s.mu.Lock()
	stop := s.autosaveStop
	done := s.autosaveDone
	s.autosaveStop = nil
	s.autosaveDone = nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedStringKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedTimeKeys(m map[string]time.Time) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func copyMap(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
