package browser

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Manager owns the Playwright runtime and all open contexts, keyed by
// workflow id.
type Manager struct {
	mu          sync.Mutex
	pw          *playwright.Playwright
	contexts    map[string]Context
	maxContexts int
	logger      *slog.Logger
	initialized bool

	// launch is swappable so the pool bookkeeping is testable without a
	// browser install.
	launch func(opts LaunchOptions) (Context, error)
}

func NewManager(maxContexts int, logger *slog.Logger) *Manager {
	if maxContexts <= 0 {
		maxContexts = DefaultMaxContexts
	}

	m := &Manager{
		contexts:    make(map[string]Context),
		maxContexts: maxContexts,
		logger:      logger.With("module", "browser_manager"),
	}
	m.launch = m.launchPlaywright

	return m
}

// Initialize installs (if needed) and starts the Playwright driver. Must be
// called before any context is opened.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	err := playwright.Install(opts)
	if err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	m.pw = pw
	m.initialized = true

	return nil
}

// Open creates the browser context for a workflow. At most one context per
// workflow; the total is bounded by the global ceiling.
func (m *Manager) Open(workflowID string, opts LaunchOptions) (Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.contexts[workflowID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyOpen, workflowID)
	}

	if len(m.contexts) >= m.maxContexts {
		return nil, fmt.Errorf("%w: limit %d", ErrCapacityExceeded, m.maxContexts)
	}

	browserCtx, err := m.launch(opts)
	if err != nil {
		return nil, err
	}

	m.contexts[workflowID] = browserCtx

	m.logger.Info("Opened browser context",
		"workflow_id", workflowID, "headed", opts.Headed, "display", opts.Display)

	return browserCtx, nil
}

// Get returns the open context for a workflow.
func (m *Manager) Get(workflowID string) (Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	browserCtx, exists := m.contexts[workflowID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotOpen, workflowID)
	}

	return browserCtx, nil
}

// Close tears down a workflow's context. Idempotent.
func (m *Manager) Close(workflowID string) error {
	m.mu.Lock()
	browserCtx, exists := m.contexts[workflowID]
	delete(m.contexts, workflowID)
	m.mu.Unlock()

	if !exists {
		return nil
	}

	return browserCtx.Close()
}

// OpenCount returns the number of live contexts.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.contexts)
}

// Shutdown closes every context and stops the Playwright driver.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, browserCtx := range m.contexts {
		_ = browserCtx.Close()
		delete(m.contexts, id)
	}

	if m.initialized && m.pw != nil {
		err := m.pw.Stop()
		if err != nil {
			return fmt.Errorf("failed to stop playwright: %w", err)
		}

		m.initialized = false
	}

	return nil
}

func (m *Manager) launchPlaywright(opts LaunchOptions) (Context, error) {
	if !m.initialized {
		return nil, fmt.Errorf("browser manager not initialized")
	}

	headless := !opts.Headed
	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &headless,
		Args:     []string{"--no-sandbox", "--disable-setuid-sandbox"},
	}

	if opts.Headed && opts.Display != "" {
		launchOpts.Env = map[string]string{"DISPLAY": opts.Display}
	}

	browser, err := m.pw.Chromium.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{}
	if opts.UserAgent != "" {
		contextOpts.UserAgent = &opts.UserAgent
	}

	context, err := browser.NewContext(contextOpts)
	if err != nil {
		_ = browser.Close()

		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	if opts.Stealth {
		err = context.AddInitScript(playwright.Script{Content: playwright.String(stealthScript)})
		if err != nil {
			_ = context.Close()
			_ = browser.Close()

			return nil, fmt.Errorf("failed to add stealth script: %w", err)
		}
	}

	page, err := context.NewPage()
	if err != nil {
		_ = context.Close()
		_ = browser.Close()

		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	page.SetDefaultTimeout(float64(DefaultSelectorTimeout.Milliseconds()))

	return &playwrightContext{
		browser: browser,
		context: context,
		page:    &playwrightPage{page: page},
		opened:  time.Now(),
	}, nil
}

type playwrightContext struct {
	browser playwright.Browser
	context playwright.BrowserContext
	page    *playwrightPage
	opened  time.Time
}

func (c *playwrightContext) Page() Page { return c.page }

func (c *playwrightContext) Close() error {
	_ = c.page.page.Close()
	_ = c.context.Close()

	return c.browser.Close()
}
