// Command leech downloads the content of a single .torrent file from the
// BitTorrent swarm and exits once every piece has been verified. It never
// seeds: once a download completes, the process stops.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/schollz/progressbar/v3"

	"github.com/example/leech/internal/config"
	"github.com/example/leech/internal/engine"
	"github.com/example/leech/internal/logging"
	"github.com/example/leech/internal/metainfo"
)

var cli struct {
	FilePath  string `arg:"" name:"file_path" help:"Path to the .torrent file." type:"existingfile"`
	OutputDir string `help:"Directory to write downloaded files into." short:"o" required:""`
	NumPeers  int    `help:"Target number of concurrent peer connections to maintain." short:"n" default:"30"`
	Verbose   bool   `help:"Enable debug logging."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("leech"),
		kong.Description("A minimal BitTorrent v1 leeching client."),
	)

	opts := logging.DefaultOptions()
	if cli.Verbose {
		opts.Level = slog.LevelDebug
	}
	log := slog.New(logging.New(os.Stdout, opts))
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("leech failed", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	data, err := os.ReadFile(cli.FilePath)
	if err != nil {
		return fmt.Errorf("read torrent file: %w", err)
	}

	m, err := metainfo.Parse(data)
	if err != nil {
		return fmt.Errorf("parse torrent file: %w", err)
	}

	if err := os.MkdirAll(cli.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	cfg := config.Default()
	cfg.OutputDir = cli.OutputDir
	if cli.NumPeers > 0 {
		cfg.MinPeers = cli.NumPeers
	}

	bar := progressbar.NewOptions(len(m.PieceHashes),
		progressbar.OptionSetDescription(m.Info.Name),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)

	eng, err := engine.New(cfg, m, cli.OutputDir, log, func(completed, total int) {
		bar.Set(completed)
	})
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting download", "name", m.Info.Name, "pieces", len(m.PieceHashes), "size", m.TotalSize())

	if err := eng.Run(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("interrupted before download completed: %w", ctx.Err())
	}

	bar.Finish()
	log.Info("download complete", "name", m.Info.Name)
	return nil
}
