// Package lifecycle defers destructive cleanup of a job's files until the
// interaction after the one that handed out its result.
package lifecycle

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// State of a cleanup controller.
type State int

const (
	Idle State = iota
	Pending
)

func (s State) String() string {
	if s == Pending {
		return "pending"
	}
	return "idle"
}

// Footprint lists everything a job owns on disk.
type Footprint struct {
	Root        string
	ExtractDir  string
	ArchivePath string
	ResultDir   string
}

// FootprintFor derives a job's paths from its upload name.
func FootprintFor(root, uploadName string) Footprint {
	return Footprint{
		Root:        root,
		ExtractDir:  filepath.Join(root, uploadName),
		ArchivePath: filepath.Join(root, uploadName+".zip"),
		ResultDir:   filepath.Join(root, uploadName+"_ocr"),
	}
}

// Paths returns the job-owned paths in deletion order.
func (f Footprint) Paths() []string {
	return []string{f.ResultDir, f.ExtractDir, f.ArchivePath}
}

// Overlaps reports whether any path of f equals or contains a path of other.
func (f Footprint) Overlaps(other Footprint) bool {
	for _, a := range f.Paths() {
		for _, b := range other.Paths() {
			if within(a, b) || within(b, a) {
				return true
			}
		}
	}
	return false
}

func within(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Controller is the Idle/Pending cleanup state machine for one job.
// It is safe for concurrent use.
type Controller struct {
	mu        sync.Mutex
	state     State
	footprint Footprint
	logger    *slog.Logger

	// remove and removeDir are swapped in tests.
	remove    func(string) error
	removeDir func(string) error
}

// NewController returns an Idle controller for footprint.
func NewController(footprint Footprint, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		footprint: footprint,
		logger:    logger,
		remove:    os.RemoveAll,
		removeDir: os.Remove,
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// MarkConsumed schedules cleanup. It never deletes anything itself.
func (c *Controller) MarkConsumed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Idle {
		c.logger.Info("Result consumed. Cleanup scheduled for next tick.")
	}
	c.state = Pending
}

// Tick runs a scheduled cleanup. It reports whether cleanup ran, and any
// deletion failures as a single non-fatal error. The controller is Idle
// afterwards in every case.
func (c *Controller) Tick() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Pending {
		return false, nil
	}
	defer func() { c.state = Idle }()

	var errs []error
	for _, path := range c.footprint.Paths() {
		if path == "" {
			continue
		}
		if err := c.remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
		}
	}
	if err := c.removeRootIfEmpty(); err != nil {
		errs = append(errs, err)
	}

	warn := errors.Join(errs...)
	if warn != nil {
		c.logger.Warn("Cleanup finished with errors.", "error", warn)
	} else {
		c.logger.Info("Cleanup complete.")
	}
	return true, warn
}

func (c *Controller) removeRootIfEmpty() error {
	root := c.footprint.Root
	if root == "" {
		return nil
	}
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("inspect %s: %w", root, err)
	}
	if len(entries) > 0 {
		return nil
	}
	if err := c.removeDir(root); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", root, err)
	}
	return nil
}
