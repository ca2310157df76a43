package main

import (
	"fmt"
	"io"
	"os"

	"github.com/distr1/whey/internal/bootstrap"
	"github.com/gookit/color"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// writerHook writes the entries of its levels to w.
type writerHook struct {
	w         io.Writer
	levels    []logrus.Level
	formatter logrus.Formatter
}

func (h *writerHook) Levels() []logrus.Level { return h.levels }

func (h *writerHook) Fire(e *logrus.Entry) error {
	b, err := h.formatter.Format(e)
	if err != nil {
		return err
	}
	_, err = h.w.Write(b)
	return err
}

// newLogger logs Info and above (Debug with verbose) to stderr, and every
// level to logFile, if set.
func newLogger(verbose bool, logFile string) (*logrus.Logger, error) {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.DebugLevel)

	stderrLevel := logrus.InfoLevel
	if verbose {
		stderrLevel = logrus.DebugLevel
	}
	tty := isatty.IsTerminal(os.Stderr.Fd())
	l.AddHook(&writerHook{
		w:      os.Stderr,
		levels: logrus.AllLevels[:stderrLevel+1],
		formatter: &logrus.TextFormatter{
			ForceColors:      tty,
			DisableColors:    !tty,
			FullTimestamp:    true,
			TimestampFormat:  "15:04:05",
			DisableQuote:     true,
			PadLevelText:     true,
			QuoteEmptyFields: true,
		},
	})

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		l.AddHook(&writerHook{
			w:         f,
			levels:    logrus.AllLevels,
			formatter: &logrus.TextFormatter{DisableColors: true, FullTimestamp: true},
		})
	}
	return l, nil
}

// stepColors are used for the status lines of a bootstrap run.
var stepColors = map[bootstrap.StepKind]color.Color{
	bootstrap.StepBuilt:    color.Green,
	bootstrap.StepPrebuilt: color.Cyan,
	bootstrap.StepReused:   color.Gray,
}

// printSteps writes one status line per step to w, colored if w is a
// terminal.
func printSteps(w io.Writer, order []bootstrap.Step) {
	tty := false
	if f, ok := w.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd())
	}
	for _, step := range order {
		status := fmt.Sprintf("%-8s", step.Kind)
		if c, ok := stepColors[step.Kind]; ok && tty {
			status = c.Render(status)
		}
		fmt.Fprintf(w, "%s %s==%s\n", status, step.Name, step.Version)
	}
}
