// internal/browser/session/manager.go
package session

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/focusfix/api/schemas"
	"github.com/xkilldash9x/focusfix/internal/config"
)

// tabRegistry hands out numeric tab ids that stay stable for the lifetime of
// the manager, and tracks which ids currently have an owning session.
type tabRegistry struct {
	mu       sync.Mutex
	next     int
	ids      map[target.ID]int
	targets  map[int]target.ID
	attached map[int]bool
}

func newTabRegistry() *tabRegistry {
	return &tabRegistry{
		next:     1,
		ids:      make(map[target.ID]int),
		targets:  make(map[int]target.ID),
		attached: make(map[int]bool),
	}
}

func (r *tabRegistry) assign(tid target.ID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.ids[tid]; ok {
		return id
	}
	id := r.next
	r.next++
	r.ids[tid] = id
	r.targets[id] = tid
	return id
}

func (r *tabRegistry) lookup(id int) (target.ID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tid, ok := r.targets[id]
	return tid, ok
}

// claim marks id as owned. A second claim fails instead of queuing.
func (r *tabRegistry) claim(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.targets[id]; !ok {
		return fmt.Errorf("tab %d: %w", id, schemas.ErrSessionUnavailable)
	}
	if r.attached[id] {
		return fmt.Errorf("tab %d: %w", id, schemas.ErrTargetAttached)
	}
	r.attached[id] = true
	return nil
}

func (r *tabRegistry) release(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.attached, id)
}

func (r *tabRegistry) isAttached(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attached[id]
}

// forget drops a target that no longer exists. Its id is never reused.
func (r *tabRegistry) forget(tid target.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.ids[tid]; ok {
		delete(r.targets, id)
		delete(r.attached, id)
	}
}

// Manager owns the browser connection and the sessions attached to its tabs.
type Manager struct {
	logger *zap.Logger
	cfg    config.Interface

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	tabs     *tabRegistry
	mu       sync.Mutex
	sessions map[int]*Session
	wg       sync.WaitGroup
}

// NewManager connects to the browser at browser.devtools_url, or launches a
// local Chrome when no URL is configured.
func NewManager(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		logger:   logger.Named("session_manager"),
		cfg:      cfg,
		tabs:     newTabRegistry(),
		sessions: make(map[int]*Session),
	}

	bcfg := cfg.Browser()
	if bcfg.DevToolsURL != "" {
		m.logger.Info("Connecting to remote browser.", zap.String("devtools_url", bcfg.DevToolsURL))
		m.allocCtx, m.allocCancel = chromedp.NewRemoteAllocator(ctx, bcfg.DevToolsURL)
	} else {
		m.logger.Info("Launching local browser.", zap.Bool("headless", bcfg.Headless))
		m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(ctx, buildAllocatorOptions(bcfg)...)
	}

	m.browserCtx, m.browserCancel = chromedp.NewContext(m.allocCtx)

	// The first Run allocates the browser and binds it to the context it is
	// given, so it must be the long-lived browser context itself.
	if err := chromedp.Run(m.browserCtx); err != nil {
		m.browserCancel()
		m.allocCancel()
		return nil, fmt.Errorf("browser failed to start or respond: %w: %v", schemas.ErrSessionUnavailable, err)
	}

	chromedp.ListenBrowser(m.browserCtx, m.onBrowserEvent)
	m.logger.Info("Browser connection established.")
	return m, nil
}

func buildAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", cfg.Headless),
		chromedp.Flag("disable-extensions", true),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)

	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}
	return opts
}

func (m *Manager) onBrowserEvent(ev interface{}) {
	var tid target.ID
	switch e := ev.(type) {
	case *target.EventTargetDestroyed:
		tid = e.TargetID
	case *target.EventTargetCrashed:
		tid = e.TargetID
	default:
		return
	}

	id, known := m.tabIDFor(tid)
	if !known {
		return
	}
	m.mu.Lock()
	s := m.sessions[id]
	m.mu.Unlock()
	if s != nil {
		s.markLost("target destroyed")
	}
	m.tabs.forget(tid)
}

func (m *Manager) tabIDFor(tid target.ID) (int, bool) {
	m.tabs.mu.Lock()
	defer m.tabs.mu.Unlock()
	id, ok := m.tabs.ids[tid]
	return id, ok
}

// ListTabs lists attachable page targets. Ids are stable for the manager's
// lifetime.
func (m *Manager) ListTabs(ctx context.Context) ([]schemas.TabInfo, error) {
	listCtx, cancel := CombineContext(m.browserCtx, ctx)
	defer cancel()

	infos, err := chromedp.Targets(listCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}

	var tabs []schemas.TabInfo
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		id := m.tabs.assign(info.TargetID)
		tabs = append(tabs, schemas.TabInfo{
			ID:       id,
			TargetID: string(info.TargetID),
			URL:      info.URL,
			Title:    info.Title,
			Attached: m.tabs.isAttached(id),
		})
	}
	sort.Slice(tabs, func(i, j int) bool { return tabs[i].ID < tabs[j].ID })
	return tabs, nil
}

// Connect attaches to a tab by numeric id. It fails with ErrSessionUnavailable
// when the tab does not exist and ErrTargetAttached when another session
// already owns it.
func (m *Manager) Connect(ctx context.Context, tabID int) (*Session, error) {
	if _, ok := m.tabs.lookup(tabID); !ok {
		// Refresh once; the tab may have been opened after the last listing.
		if _, err := m.ListTabs(ctx); err != nil {
			return nil, err
		}
	}
	if err := m.tabs.claim(tabID); err != nil {
		return nil, err
	}
	tid, _ := m.tabs.lookup(tabID)

	tabCtx, tabCancel := chromedp.NewContext(m.browserCtx, chromedp.WithTargetID(tid))
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		m.tabs.release(tabID)
		return nil, fmt.Errorf("attach to tab %d: %w: %v", tabID, schemas.ErrSessionUnavailable, err)
	}
	s, err := m.attach(ctx, tabID, tid, tabCtx, tabCancel)
	if err != nil {
		m.tabs.release(tabID)
		return nil, err
	}
	return s, nil
}

// Launch opens a new tab at url, registers it and attaches to it.
func (m *Manager) Launch(ctx context.Context, url string) (*Session, error) {
	tabCtx, tabCancel := chromedp.NewContext(m.browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open tab: %w: %v", schemas.ErrSessionUnavailable, err)
	}

	runCtx, cancel := CombineContext(tabCtx, ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Navigate(url)); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open tab at %q: %w", url, err)
	}

	c := chromedp.FromContext(tabCtx)
	if c == nil || c.Target == nil {
		tabCancel()
		return nil, fmt.Errorf("new tab has no target: %w", schemas.ErrSessionUnavailable)
	}
	tid := c.Target.TargetID
	tabID := m.tabs.assign(tid)
	if err := m.tabs.claim(tabID); err != nil {
		tabCancel()
		return nil, err
	}

	s, err := m.attach(ctx, tabID, tid, tabCtx, tabCancel)
	if err != nil {
		m.tabs.release(tabID)
		return nil, err
	}
	return s, nil
}

func (m *Manager) attach(ctx context.Context, tabID int, tid target.ID, tabCtx context.Context, tabCancel context.CancelFunc) (*Session, error) {
	s := newSession(tabCtx, tabCancel, tabID, tid, m.cfg.Browser(), m.logger)
	if err := s.initialize(ctx); err != nil {
		tabCancel()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("attach to tab %d: %w", tabID, err)
		}
		return nil, fmt.Errorf("attach to tab %d: %w: %v", tabID, schemas.ErrSessionUnavailable, err)
	}

	m.mu.Lock()
	m.sessions[tabID] = s
	m.mu.Unlock()
	m.wg.Add(1)

	s.onClose = func() {
		m.mu.Lock()
		delete(m.sessions, tabID)
		m.mu.Unlock()
		m.tabs.release(tabID)
		m.wg.Done()
	}
	return s, nil
}

// Shutdown closes every session, waits for them to finish and tears down the
// browser connection.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	for _, s := range open {
		if err := s.Close(ctx); err != nil {
			m.logger.Warn("Error closing session during shutdown.", zap.String("session_id", s.ID()), zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	m.browserCancel()
	m.allocCancel()
	m.logger.Info("Session manager shut down.")
	return err
}
