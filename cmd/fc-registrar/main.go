// fc-registrar registers places on fc.jl-db.jp by driving Chrome through the
// site's entry form: login, image upload, geocoding, image selection and
// save.
package main

import (
	"context"
	"errors"
	"os"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/fpang/fc-registrar/internal/cli"
)

// Set at build time with -ldflags "-X main.version=... -X main.commitHash=...".
var (
	version    = "dev"
	commitHash = ""
)

func main() {
	root := newRootCmd()
	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt, syscall.SIGTERM),
	); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitError carries a process exit code out of a command. The failure has
// already been reported when it is returned.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return cli.ExitFailed
}
