package main

import (
	"log/slog"

	"roverswarm/internal/config"
	"roverswarm/internal/sink"
)

// eventSink receives both connectivity transitions and dispatch rows.
type eventSink interface {
	sink.EventWriter
	sink.DispatchWriter
}

// newSinks sets up the event and dispatch writers from flags and config.
// GreptimeDB is used when an endpoint is configured and printOnly is off;
// otherwise events go to STDOUT unless quiet is set. logFile adds JSONL
// export. The returned MultiWriter accepts more writers before the
// coordinator starts.
func newSinks(cfg *config.Config, printOnly, quiet bool, logFile string, log *slog.Logger) (*sink.MultiWriter, func(), error) {
	cleanup := func() {}
	mw := sink.NewMultiWriter(nil, nil)

	base, err := baseSink(cfg, printOnly, quiet, log)
	if err != nil {
		return nil, nil, err
	}
	if base != nil {
		mw.Add(base, base)
	}
	if logFile == "" {
		return mw, cleanup, nil
	}

	fw, err := sink.NewFileWriter(logFile, logFile+".dispatch")
	if err != nil {
		return nil, nil, err
	}
	mw.Add(fw, fw)
	cleanup = func() { fw.Close() }
	return mw, cleanup, nil
}

// baseSink chooses GreptimeDB or STDOUT. It returns nil when quiet and no
// database is configured.
func baseSink(cfg *config.Config, printOnly, quiet bool, log *slog.Logger) (eventSink, error) {
	if !printOnly && cfg.Greptime.Endpoint != "" {
		return sink.NewGreptimeDBWriter(cfg.Greptime.Endpoint, cfg.Greptime.Database,
			cfg.Greptime.ConnectivityTable, cfg.Greptime.DispatchTable, log)
	}
	if quiet {
		return nil, nil
	}
	return sink.NewStdoutWriter(), nil
}
