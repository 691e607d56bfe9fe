// Command uploadctl is a small demonstration CLI for the resumable upload
// engine: add a file, watch it upload with live progress, or inspect/resume
// uploads left over from a previous run. Grounded on cmd/onemount/main.go's
// flag-parsing and signal-handling style.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/auriora/uploadengine/internal/config"
	"github.com/auriora/uploadengine/internal/store"
	"github.com/auriora/uploadengine/internal/upload"
	"github.com/auriora/uploadengine/pkg/logging"
	"github.com/auriora/uploadengine/pkg/retry"
)

func usage() {
	fmt.Printf(`uploadctl - demonstration CLI for the resumable upload engine.

Usage:
  uploadctl [options] add <file>       Upload a file and watch it to completion.
  uploadctl [options] list             List all known uploads.
  uploadctl [options] status <id>      Show one upload's current state.
  uploadctl [options] resume <id>       Resume a paused or interrupted upload.
  uploadctl [options] cancel <id>       Cancel an upload, server-side and locally.

Valid options:
`)
	flag.PrintDefaults()
}

func main() {
	configPath := flag.StringP("config-file", "f", config.DefaultConfigPath(),
		"A YAML-formatted configuration file.")
	baseURL := flag.StringP("server", "s", "",
		"Override the upload server's base URL.")
	logLevel := flag.StringP("log", "l", "info",
		"Logging level: fatal, error, warn, info, debug, trace.")
	flag.Usage = usage
	flag.Parse()

	if level, err := logging.ParseLevel(*logLevel); err == nil {
		logging.SetGlobalLevel(level)
	}

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	cfg := config.Load(*configPath)
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}

	facade, closeFn, err := buildFacade(cfg)
	if err != nil {
		logging.Error().Err(err).Msg("failed to initialize upload engine")
		os.Exit(1)
	}
	defer closeFn()

	ctx, cancel := context.WithCancel(context.Background())
	setupSignalHandler(cancel)

	if err := facade.Start(ctx); err != nil {
		logging.Error().Err(err).Msg("failed to start upload engine")
		os.Exit(1)
	}
	defer facade.Shutdown(ctx)

	command, rest := args[0], args[1:]
	if err := dispatch(ctx, facade, command, rest); err != nil {
		logging.Error().Err(err).Msg(command)
		os.Exit(1)
	}
}

func buildFacade(cfg *config.Config) (*upload.Facade, func(), error) {
	meta := store.NewMetaStore(cfg.MetaStorePath)
	blobs := store.NewBlobStore(cfg.BlobStorePath)

	retryConfig := retry.Config{
		MaxRetries:      cfg.RetryMaxAttempts,
		BaseDelay:       cfg.RetryBaseDelay,
		MaxDelay:        cfg.RetryMaxDelay,
		RetryableErrors: retry.DefaultConfig().RetryableErrors,
	}
	transport := upload.NewTransportClient(cfg.BaseURL, cfg.RequestTimeout, cfg.ChunkTimeout, retryConfig)
	engine := upload.NewEngine(meta, blobs, transport, cfg.MaxConcurrentUploads)
	supervisor := upload.NewSupervisor(meta, engine, cfg.AutoResumeOnReload, cfg.GracefulShutdownTimeout)
	facade := upload.NewFacade(meta, engine, supervisor)

	closeFn := func() {
		_ = meta.Close()
		_ = blobs.Close()
	}
	return facade, closeFn, nil
}

func dispatch(ctx context.Context, facade *upload.Facade, command string, args []string) error {
	switch command {
	case "add":
		if len(args) != 1 {
			return fmt.Errorf("add requires exactly one file path")
		}
		return runAdd(ctx, facade, args[0])
	case "list":
		return runList(facade)
	case "status":
		if len(args) != 1 {
			return fmt.Errorf("status requires an upload id")
		}
		return runStatus(facade, args[0])
	case "resume":
		if len(args) != 1 {
			return fmt.Errorf("resume requires an upload id")
		}
		return facade.ResumeUpload(ctx, args[0])
	case "cancel":
		if len(args) != 1 {
			return fmt.Errorf("cancel requires an upload id")
		}
		return facade.CancelUpload(ctx, args[0])
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func runAdd(ctx context.Context, facade *upload.Facade, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	filename := path
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		filename = path[idx+1:]
	}

	if err := facade.ClearStaleUploads(filename, int64(len(data))); err != nil {
		logging.Warn().Err(err).Msg("could not clear stale uploads")
	}

	id, err := facade.AddUpload(ctx, filename, "application/octet-stream", data)
	if err != nil {
		return err
	}
	fmt.Printf("upload registered: %s\n", id)

	ch, unsubscribe := facade.Subscribe()
	defer unsubscribe()

	if err := facade.StartUpload(ctx, id); err != nil {
		return err
	}

	for {
		select {
		case ev := <-ch:
			if ev.UploadID != id || ev.Record == nil {
				continue
			}
			fmt.Printf("\r%s: %6.2f%% (%s)", id, ev.Record.Progress, ev.Record.Status)
			if ev.Record.Status.IsTerminal() {
				fmt.Println()
				return nil
			}
		case <-ctx.Done():
			fmt.Println("\ninterrupted; upload state was persisted and can be resumed later")
			return nil
		case <-time.After(30 * time.Second):
			return fmt.Errorf("timed out waiting for upload %s to finish", id)
		}
	}
}

func runList(facade *upload.Facade) error {
	records := facade.GetUploads()
	if len(records) == 0 {
		fmt.Println("no uploads found")
		return nil
	}
	for _, r := range records {
		fmt.Printf("%s\t%-10s\t%6.2f%%\t%s\n", r.UploadID, r.Status, r.Progress, r.Filename)
	}
	return nil
}

func runStatus(facade *upload.Facade, id string) error {
	record, ok := facade.GetUpload(id)
	if !ok {
		return fmt.Errorf("no such upload: %s", id)
	}
	fmt.Printf("uploadId:  %s\n", record.UploadID)
	fmt.Printf("filename:  %s\n", record.Filename)
	fmt.Printf("status:    %s\n", record.Status)
	fmt.Printf("progress:  %.2f%%\n", record.Progress)
	fmt.Printf("chunks:    %d/%d\n", len(record.UploadedChunks), record.TotalChunks)
	if record.LastError != "" {
		fmt.Printf("lastError: %s\n", record.LastError)
	}
	return nil
}

// setupSignalHandler cancels ctx on SIGINT/SIGTERM, which ends the command's
// wait and lets main run its deferred shutdown, the same shape as
// cmd/onemount/main.go's setupSignalHandler. Chunk loops do not run under
// ctx; progress already acknowledged is persisted, and a chunk in flight
// when the process exits is not completed.
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logging.Info().Str("signal", strings.ToUpper(sig.String())).Msg("signal received, shutting down")
		cancel()
	}()
}
