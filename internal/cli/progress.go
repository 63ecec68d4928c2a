package cli

import (
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/roach88/matchdb/internal/events"
)

// progressRenderer draws a bar for each bulk operation a store announces.
// It is disabled for JSON output and when w is not a terminal.
type progressRenderer struct {
	enabled bool
	w       io.Writer
	noColor bool
	bars    map[uuid.UUID]*progressbar.ProgressBar
}

func newProgressRenderer(w io.Writer, format string, noColor bool) *progressRenderer {
	return &progressRenderer{
		enabled: format != "json" && isTerminal(w),
		w:       w,
		noColor: noColor,
		bars:    make(map[uuid.UUID]*progressbar.ProgressBar),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Handle is an events.Handler.
func (p *progressRenderer) Handle(e events.Event) {
	if !p.enabled {
		return
	}

	switch e.Kind {
	case events.OperationStarted:
		if e.Total <= 0 {
			return
		}
		p.bars[e.Operation] = p.newBar(int64(e.Total), e.Label)
	case events.StepDone:
		if bar, ok := p.bars[e.Operation]; ok {
			_ = bar.Set(e.Step)
		}
	case events.OperationEnded:
		if bar, ok := p.bars[e.Operation]; ok {
			_ = bar.Finish()
			delete(p.bars, e.Operation)
		}
	}
}

func (p *progressRenderer) newBar(total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionEnableColorCodes(!p.noColor),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
