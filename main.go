// main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/focusfix/cmd"
	"github.com/xkilldash9x/focusfix/internal/observability"
)

const panicLogFile = "focusfix-panic.log"

// Function variables so tests can observe exits and panic logging.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
)

func main() {
	defer handlePanic()

	// Cancelling on SIGINT/SIGTERM lets an in-flight action finish and the
	// report be written before exit.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()
	osExit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return 130
	default:
		return 1
	}
}

// handlePanic records an unrecovered panic with its stack and exits 2.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	msg := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(msg), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: failed to write panic log: %v\n%s\n", err, msg)
		osExit(2)
		return
	}
	fmt.Fprintf(os.Stderr, "focusfix crashed; details written to %s\n", panicLogFile)
	osExit(2)
}
