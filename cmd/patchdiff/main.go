package main

import (
	"log/slog"
	"net/http"
	"os"

	_ "net/http/pprof" // profiling

	"patchdiff/internal/patchdiff/cmd"
	"patchdiff/internal/patchdiff/log"
)

func main() {
	defer log.RecoverPanic("main", func() {
		slog.Error("Diff aborted by unhandled panic")
	})

	if addr := os.Getenv("PATCHDIFF_PROFILE"); addr != "" {
		if addr == "1" {
			addr = "localhost:6060"
		}
		go func() {
			slog.Info("Serving pprof", "addr", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				slog.Error("Failed to serve pprof", "error", err)
			}
		}()
	}

	cmd.Execute()
}
