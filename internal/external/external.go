// Package external runs the external tools a build is composed of (Python,
// pip, build backends) with captured output.
package external

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/kballard/go-shellquote"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// NetworkIsolationCommand is prepended to commands when network isolation is
// requested.
var NetworkIsolationCommand = []string{"unshare", "--net", "--map-current-user"}

// Cmd describes one command invocation.
type Cmd struct {
	Args []string
	Dir  string

	// Env is added to the process environment, overriding existing values.
	Env map[string]string

	// LogFile, if non-empty, receives a copy of the combined output.
	LogFile string

	// NetworkIsolation runs the command without network access.
	NetworkIsolation bool
}

// CommandError is returned when a command exits unsuccessfully. Output holds
// the combined stdout and stderr of the command.
type CommandError struct {
	Args     []string
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v", shellquote.Join(e.Args...), e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Runner runs commands.
type Runner struct {
	Log logrus.FieldLogger
}

// Environ returns the environment for a command: the process environment
// followed by extra in sorted key order.
func Environ(extra map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// Run runs c and returns its combined output. The command is killed when ctx
// is canceled.
func (r *Runner) Run(ctx context.Context, c Cmd) (string, error) {
	args := c.Args
	if c.NetworkIsolation {
		args = append(append([]string{}, NetworkIsolationCommand...), args...)
	}
	if len(args) == 0 {
		return "", xerrors.New("BUG: empty command")
	}
	if r.Log != nil {
		r.Log.WithField("dir", c.Dir).Debugf("running %s", shellquote.Join(args...))
	}

	var out bytes.Buffer
	var w io.Writer = &out
	if c.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(c.LogFile), 0755); err != nil {
			return "", err
		}
		f, err := os.Create(c.LogFile)
		if err != nil {
			return "", err
		}
		defer f.Close()
		w = io.MultiWriter(&out, f)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = Environ(c.Env)
	cmd.Stdout = w
	cmd.Stderr = w
	err := cmd.Run()
	if r.Log != nil && out.Len() > 0 {
		r.Log.Debugf("output of %s:\n%s", filepath.Base(args[0]), out.String())
	}
	if err != nil {
		cerr := &CommandError{
			Args:     args,
			ExitCode: -1,
			Output:   out.String(),
			Err:      err,
		}
		var exitErr *exec.ExitError
		if xerrors.As(err, &exitErr) {
			cerr.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			cerr.Err = ctxErr
		}
		return out.String(), cerr
	}
	return out.String(), nil
}
