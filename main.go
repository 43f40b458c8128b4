// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"soundscope/cmd"
	"soundscope/internal/log"
	"soundscope/pkg/build"
)

// main wires process concerns around the command tree: build metadata,
// signal handling and the exit status. Everything else happens in cmd.
func main() {
	if err := build.Initialize(); err != nil {
		// Development builds carry no linker flags.
		log.Debugf("build info incomplete: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		stop()
		log.Fatalf("%v", err)
	}
}
