// Package telemetry exposes the sequencer's diagnostics endpoints. The
// pprof server binds to localhost only; it is an operator tool, not part
// of the public API.
package telemetry

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/astrokit/sequencer/common/logger"
)

// Diagnostics holds the debug-surface components
type Diagnostics struct {
	log       *logger.Logger
	pprofAddr string
}

// New creates the diagnostics components. A non-positive port disables
// the pprof server.
func New(pprofPort int, log *logger.Logger) *Diagnostics {
	d := &Diagnostics{log: log}
	if pprofPort > 0 {
		d.pprofAddr = fmt.Sprintf("localhost:%d", pprofPort)
	}
	return d
}

// Start launches the pprof server, if enabled
func (d *Diagnostics) Start() {
	if d.pprofAddr == "" {
		return
	}
	go func() {
		d.log.Info("pprof server starting", "addr", d.pprofAddr)
		if err := http.ListenAndServe(d.pprofAddr, nil); err != nil {
			d.log.Error("pprof server error", "error", err)
		}
	}()
}

// RecordDuration logs an operation duration at debug level
func (d *Diagnostics) RecordDuration(operation string, start time.Time) {
	d.log.Debug("operation completed",
		"operation", operation,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
