package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/pkg/errors"
)

func init() {
	// HighGUI windows only work from the main thread.
	runtime.LockOSThread()
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
