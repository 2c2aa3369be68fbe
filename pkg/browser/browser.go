// Package browser manages the pool of Playwright browser contexts the engine
// drives. Each workflow owns at most one live context at a time; a global
// ceiling bounds how many contexts run in parallel.
package browser

import (
	"errors"
	"time"
)

var (
	// ErrAlreadyOpen is returned when a context already exists for the
	// workflow.
	ErrAlreadyOpen = errors.New("browser context already open for workflow")

	// ErrCapacityExceeded is returned when the global context ceiling is
	// reached.
	ErrCapacityExceeded = errors.New("browser context capacity exceeded")

	// ErrNotOpen is returned for operations on workflows without a context.
	ErrNotOpen = errors.New("no open browser context for workflow")
)

const (
	DefaultMaxContexts     = 5
	DefaultNavigateTimeout = 30 * time.Second
	DefaultSelectorTimeout = 10 * time.Second
)

// LaunchOptions control how one workflow's browser context is opened.
type LaunchOptions struct {
	// Headed renders on a virtual display instead of running headless; the
	// display handle comes from the display session manager.
	Headed    bool
	Display   string
	UserAgent string
	// Stealth applies an init script that masks common automation markers.
	Stealth bool
}

// Page is the subset of page operations the engine needs. It is an interface
// so the editing and execution state machines can be exercised without a
// running browser.
type Page interface {
	Goto(url string, timeout time.Duration) error
	WaitForSelector(selector string, timeout time.Duration) error
	// WaitForLoad blocks until the page reaches network idle after a
	// navigation or submit. Load-signal driven, never a blind timer.
	WaitForLoad(timeout time.Duration) error
	Click(selector string) error
	Fill(selector, value string) error
	Check(selector string) error
	Uncheck(selector string) error
	SelectOption(selector, value string) error
	SetInputFiles(selector, path string) error
	SetValueDirect(selector, value string) error
	Evaluate(expression string) (any, error)
	ExposeFunction(name string, fn func(args ...any) any) error
	OnLoad(handler func())
	MatchCount(selector string) (int, error)
	Content() (string, error)
	URL() string
	Title() (string, error)
	Screenshot(path string) error
}

// Context is one workflow's isolated browser context with a single page.
type Context interface {
	Page() Page
	Close() error
}
