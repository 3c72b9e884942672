// cmd/main_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/focusfix/internal/browser/fakepage"
	"github.com/xkilldash9x/focusfix/internal/config"
)

// resetForTest silences logging, disables input timing and restores the
// session openers once the test ends.
func resetForTest(t *testing.T) {
	t.Helper()
	t.Setenv("FOCUSFIX_LOGGER_LEVEL", "error")
	t.Setenv("FOCUSFIX_HUMANOID_ENABLED", "false")
	t.Setenv("FOCUSFIX_PERCEPTION_DEBOUNCE_WINDOW", "20ms")
	t.Setenv("FOCUSFIX_PERCEPTION_STABILITY_POLL", "5ms")

	origOpen, origList := openSession, listTabs
	t.Cleanup(func() {
		openSession, listTabs = origOpen, origList
	})
}

// executeCommand runs a fresh command tree and captures stdout and stderr
// separately.
func executeCommand(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err = root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

// fakeOpener records how openSession was called.
type fakeOpener struct {
	page     *fakepage.Page
	cfg      *config.Config
	target   attachTarget
	released int
	err      error
}

// useFakePage routes openSession to page.
func useFakePage(t *testing.T, page *fakepage.Page) *fakeOpener {
	t.Helper()
	f := &fakeOpener{page: page}
	openSession = func(ctx context.Context, cfg *config.Config, target attachTarget, logger *zap.Logger) (*attachment, error) {
		f.cfg = cfg
		f.target = target
		if f.err != nil {
			return nil, f.err
		}
		return &attachment{
			Channel: page,
			Release: func(ctx context.Context) error {
				f.released++
				return nil
			},
		}, nil
	}
	return f
}

func formPage() *fakepage.Page {
	return fakepage.New("https://example.test/form",
		fakepage.Button("ok", "OK"),
		fakepage.Button("bare", "Bare").WithoutFocusRing(),
	)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
