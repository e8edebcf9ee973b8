package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rusq/krun"
)

// trapSigInfo prints a live status report on SIGINFO (Ctrl-T) or SIGUSR1.
func trapSigInfo(g *krun.Governor) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINFO, syscall.SIGUSR1)
	go func() {
		for range ch {
			fmt.Fprint(os.Stderr, "KRUN STATUS REPORT\n")
			g.Report(os.Stderr)
		}
	}()
}
