package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// CLIProgressReporter draws a progress bar for batch commands. A quiet
// reporter draws nothing.
type CLIProgressReporter struct {
	quiet bool
	out   io.Writer
	bar   *progressbar.ProgressBar
}

// NewCLIProgressReporter creates a reporter drawing on out.
func NewCLIProgressReporter(out io.Writer, quiet bool) *CLIProgressReporter {
	return &CLIProgressReporter{quiet: quiet, out: out}
}

// OnStart begins a bar of total steps.
func (c *CLIProgressReporter) OnStart(description string, total int) {
	if c.quiet {
		return
	}
	c.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(c.out),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("files/s"),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(c.out)
		}),
	)
}

// OnStep advances the bar by one.
func (c *CLIProgressReporter) OnStep() {
	if c.quiet || c.bar == nil {
		return
	}
	_ = c.bar.Add(1)
}

// OnComplete finishes the bar.
func (c *CLIProgressReporter) OnComplete() {
	if c.quiet || c.bar == nil {
		return
	}
	_ = c.bar.Finish()
	c.bar = nil
}
