// veil - autologging for experiment tracking
//
// veil runs commands as tracked runs inside a session, tagged with the
// repository's remote, commit and branch:
//
//	veil run --session sweep --param lr=0.01 -- python train.py
//
// Runs go to an in-memory store (memory://) or an MLflow tracking server
// (http://, https://).
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/veil-org/veil/internal/cli"
	verrors "github.com/veil-org/veil/pkg/errors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.Execute(ctx, os.Args[1:])
	stop()

	if err == nil {
		return
	}
	var exitErr *cli.ExitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.Code)
	}
	verrors.Display(err)
	os.Exit(1)
}
