// Command bridge runs the ASTM<->HL7 analyzer bridge: it loads a flat
// key=value configuration file and a LIVD-style result mapping table,
// then opens the analyzer connection (client or server, per config) and
// drives LAB-27/28/29 against the configured LIS upstream endpoints.
//
// Usage:
//
//	bridge -config /etc/bridge/bridge.conf
//
// Flags:
//
//	-config  path to the flat key=value configuration file (required)
//	-debug   enable debug-level logging
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sysmex-bridge/astmhl7/archive"
	"github.com/sysmex-bridge/astmhl7/astm"
	"github.com/sysmex-bridge/astmhl7/config"
	"github.com/sysmex-bridge/astmhl7/coordinator"
	"github.com/sysmex-bridge/astmhl7/logger"
	"github.com/sysmex-bridge/astmhl7/mapping"
	"github.com/sysmex-bridge/astmhl7/upstream"
)

func main() {
	configPath := flag.String("config", "", "path to the bridge's key=value configuration file")
	debug := flag.Bool("debug", false, "enable debug-level logging")
	flag.Parse()

	log := logger.NewSlog(logger.InfoLevel, false)
	if *debug {
		log.SetLevel(logger.DebugLevel)
	}

	if *configPath == "" {
		log.Fatal("bridge: -config is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("bridge: failed to load configuration", "error", err)
	}

	table, err := mapping.LoadTable(cfg.MappingPath)
	if err != nil {
		log.Fatal("bridge: failed to load mapping table", "path", cfg.MappingPath, "error", err)
	}

	log.Info("bridge: loaded mapping table", "rows", len(table.Rows))

	var archiver coordinator.Archiver = archive.NoopArchiver{}
	if cfg.ArchiveMsg {
		fileArchiver, err := archive.NewFileArchiver(archivePath(cfg), log)
		if err != nil {
			log.Fatal("bridge: failed to open archive file", "error", err)
		}
		defer fileArchiver.Close()

		archiver = fileArchiver
	}

	mllp := upstream.NewMLLPClient(log)

	coord := coordinator.New(
		coordinator.Config{
			URLUpstreamLAB27: cfg.URLUpstreamLAB27,
			URLUpstreamLAB29: cfg.URLUpstreamLAB29,
		},
		table,
		mllp,
		archiver,
		log,
		nil,
	)

	astmOpts := []astm.ConnOption{astm.WithLogger(log)}
	if cfg.Mode == config.ModeServer {
		astmOpts = append(astmOpts, astm.WithPassive())
	} else {
		astmOpts = append(astmOpts, astm.WithActive())
	}

	astmCfg := astm.NewConnectionConfig(cfg.IPAnalyzer, int(cfg.PortAnalyzer), astmOpts...)

	conn := astm.NewConnection(astmCfg, func(msg string) string {
		return coord.HandleASTM(context.Background(), msg)
	})

	if err := conn.Listen(); err != nil {
		log.Fatal("bridge: failed to start analyzer connection", "error", err)
	}
	defer conn.StopListening()

	log.Info("bridge: analyzer connection started",
		"analyzer", cfg.IDAnalyzer,
		"mode", cfg.Mode,
		"addr", fmt.Sprintf("%s:%d", cfg.IPAnalyzer, cfg.PortAnalyzer),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	<-ctx.Done()
	log.Info("bridge: shutting down")
}

// archivePath derives the audit log path from the configured analyzer ID.
func archivePath(cfg *config.Config) string {
	if cfg.IDAnalyzer == "" {
		return "bridge-archive.log"
	}

	return fmt.Sprintf("bridge-archive-%s.log", cfg.IDAnalyzer)
}
