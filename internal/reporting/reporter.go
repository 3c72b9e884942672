// internal/reporting/reporter.go
package reporting

import (
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/xkilldash9x/focusfix/api/schemas"
	"github.com/xkilldash9x/focusfix/internal/remediation"
)

// Reporter writes audit and remediation results to an output. Writes are
// buffered; Close renders the report and releases the output.
type Reporter interface {
	// WriteLoop adds the findings of one PRAR loop.
	WriteLoop(result *schemas.LoopResult) error
	// WriteRemediation adds a remediation engine summary.
	WriteRemediation(report remediation.Report) error
	// Close finalizes the report and closes any underlying file.
	Close() error
}

// Supported output formats.
const (
	FormatSARIF    = "sarif"
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("reporter is closed")

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for format writing to outputPath, or to stdout when
// the path is empty or "stdout".
func New(format, outputPath, toolVersion string, logger *zap.Logger) (Reporter, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	switch format {
	case FormatSARIF, FormatJSON, FormatMarkdown, "md", "text":
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		// Wrap Stdout so Close() is a no-op.
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	switch format {
	case FormatSARIF:
		return NewSARIFReporter(writer, toolVersion, logger), nil
	case FormatJSON:
		return NewJSONReporter(writer, toolVersion, logger), nil
	default:
		return NewMarkdownReporter(writer, logger), nil
	}
}
