package streaming

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	colorReset  = "\033[0m"
	colorDim    = "\033[2m"
	colorGray   = "\033[90m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// TerminalHandler renders stream events for an interactive console: chunks
// inline, tool lifecycle with icons, a spinner for long-running generations,
// and generated documents saved under the output directory.
type TerminalHandler struct {
	out        io.Writer
	outputDir  string
	isTerminal bool

	mu          sync.Mutex
	spinnerStop chan struct{}
	now         func() time.Time
}

type TerminalOption func(*TerminalHandler)

func WithTerminalOutput(w io.Writer) TerminalOption {
	return func(h *TerminalHandler) {
		h.out = w
		h.isTerminal = false
	}
}

func WithDocumentDir(dir string) TerminalOption {
	return func(h *TerminalHandler) { h.outputDir = dir }
}

func NewTerminalHandler(opts ...TerminalOption) *TerminalHandler {
	h := &TerminalHandler{
		out:        os.Stdout,
		outputDir:  "output",
		isTerminal: term.IsTerminal(int(os.Stdout.Fd())),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *TerminalHandler) HandleEvent(ctx context.Context, event StreamEvent) error {
	h.stopSpinner()

	switch event.Kind {
	case EventConversationStart, EventAssistantMessageStart, EventHeartbeat:
		// Nothing to render.

	case EventAssistantMessageChunk:
		fmt.Fprint(h.out, event.Content)

	case EventAssistantMessageEnd:
		fmt.Fprintln(h.out)

	case EventConversationEnd:
		fmt.Fprintln(h.out)

	case EventToolCallStart:
		fmt.Fprintf(h.out, "\n%s⚙ %s running...%s\n", h.color(colorDim), event.ToolName, h.color(colorReset))

	case EventToolCallProgress:
		fmt.Fprintf(h.out, "%s  %s: %s%s\n", h.color(colorDim), event.ToolName, event.Status, h.color(colorReset))

	case EventToolCallEnd:
		if event.Success != nil && *event.Success {
			fmt.Fprintf(h.out, "%s✓ %s done%s\n", h.color(colorGreen), event.ToolName, h.color(colorReset))
		} else {
			fmt.Fprintf(h.out, "%s✗ %s failed%s\n", h.color(colorRed), event.ToolName, h.color(colorReset))
		}

	case EventProcessingStatus:
		if event.LongRunning && h.isTerminal {
			h.startSpinner(event.Status)
		} else if event.Status != "" {
			fmt.Fprintf(h.out, "%s[%s]%s\n", h.color(colorGray), event.Status, h.color(colorReset))
		}

	case EventError:
		fmt.Fprintf(h.out, "%sError (%s): %s%s\n", h.color(colorRed), event.ErrorKind, event.ErrorMessage, h.color(colorReset))

	case EventDesignDocumentGenerated, EventPrefabsInfo:
		path, err := h.saveDocument(event.Filename, event.Content)
		if err != nil {
			return err
		}
		fmt.Fprintf(h.out, "%s📄 Saved %s%s\n", h.color(colorYellow), path, h.color(colorReset))

	case EventDocumentEditProposal:
		if event.EditProposal != nil {
			fmt.Fprintf(h.out, "%s✎ Edit proposal %s for %s: %s (%d edits)%s\n",
				h.color(colorYellow), event.ProposalID, event.DocumentFilename,
				event.Summary, len(event.Edits), h.color(colorReset))
		}
	}

	return nil
}

func (h *TerminalHandler) HandleError(ctx context.Context, event StreamEvent, err error) {
	slog.Warn("Terminal handler failed", "event", string(event.Kind), "error", err)
}

func (h *TerminalHandler) Close() error {
	h.stopSpinner()
	return nil
}

func (h *TerminalHandler) color(code string) string {
	if h.isTerminal {
		return code
	}
	return ""
}

// saveDocument writes content under the output directory with a timestamp
// inserted before the extension, e.g. design_20260824_153000.md.
func (h *TerminalHandler) saveDocument(filename, content string) (string, error) {
	if err := os.MkdirAll(h.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	stamped := fmt.Sprintf("%s_%s%s", base, h.now().Format("20060102_150405"), ext)

	path := filepath.Join(h.outputDir, stamped)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to save document: %w", err)
	}
	return path, nil
}

func (h *TerminalHandler) startSpinner(status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.spinnerStop != nil {
		return
	}

	stop := make(chan struct{})
	h.spinnerStop = stop

	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		frame := 0
		for {
			select {
			case <-stop:
				fmt.Fprint(h.out, "\r\033[K")
				return
			case <-ticker.C:
				fmt.Fprintf(h.out, "\r%s%s %s%s", colorDim, spinnerFrames[frame%len(spinnerFrames)], status, colorReset)
				frame++
			}
		}
	}()
}

func (h *TerminalHandler) stopSpinner() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.spinnerStop != nil {
		close(h.spinnerStop)
		h.spinnerStop = nil
	}
}
