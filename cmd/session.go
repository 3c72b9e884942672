// cmd/session.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/focusfix/api/schemas"
	"github.com/xkilldash9x/focusfix/internal/browser/session"
	"github.com/xkilldash9x/focusfix/internal/config"
)

// attachTarget selects the tab a command works on. A zero TabID launches a
// new tab at URL; otherwise the existing tab is attached and, when URL is
// set, navigated there.
type attachTarget struct {
	URL   string
	TabID int
}

func (t attachTarget) validate() error {
	if t.TabID < 0 {
		return fmt.Errorf("invalid --tab %d", t.TabID)
	}
	if t.TabID == 0 && t.URL == "" {
		return errors.New("a page url or --tab is required")
	}
	return nil
}

// attachment is an attached tab plus the teardown for everything opened to
// reach it.
type attachment struct {
	Channel schemas.ControlChannel
	// Release closes the session and the browser connection. Safe to call
	// more than once.
	Release func(ctx context.Context) error
}

// Function variables so tests can substitute an in-memory page.
var (
	openSession = openBrowserSession
	listTabs    = listBrowserTabs
)

const shutdownTimeout = 15 * time.Second

func openBrowserSession(ctx context.Context, cfg *config.Config, target attachTarget, logger *zap.Logger) (*attachment, error) {
	manager, err := session.NewManager(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize browser manager: %w", err)
	}
	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during browser manager shutdown", zap.Error(err))
		}
	}

	var sess *session.Session
	if target.TabID > 0 {
		sess, err = manager.Connect(ctx, target.TabID)
		if err == nil && target.URL != "" {
			if navErr := sess.Navigate(ctx, target.URL); navErr != nil {
				_ = sess.Close(ctx)
				err = fmt.Errorf("navigate tab %d to %s: %w", target.TabID, target.URL, navErr)
			}
		}
	} else {
		sess, err = manager.Launch(ctx, target.URL)
	}
	if err != nil {
		shutdown()
		return nil, err
	}

	logger.Info("Attached to tab",
		zap.Int("tab_id", sess.TabID()),
		zap.String("session_id", sess.ID()),
		zap.Any("capabilities", sess.Capabilities()))

	var once sync.Once
	return &attachment{
		Channel: sess,
		Release: func(ctx context.Context) error {
			var err error
			once.Do(func() {
				err = sess.Close(ctx)
				shutdown()
			})
			return err
		},
	}, nil
}

func listBrowserTabs(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]schemas.TabInfo, error) {
	manager, err := session.NewManager(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize browser manager: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during browser manager shutdown", zap.Error(err))
		}
	}()
	return manager.ListTabs(ctx)
}

// normalizeURL adds an https scheme to bare hosts.
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Contains(raw, "://") || strings.HasPrefix(raw, "about:") || strings.HasPrefix(raw, "data:") {
		return raw
	}
	return "https://" + raw
}
