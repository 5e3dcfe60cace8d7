package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/websynth/patchbay/server"
	"github.com/websynth/patchbay/session"
	"github.com/websynth/patchbay/store"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve [description.yml]",
	Short: "Start the HTTP server",
	Long:  `Starts a session, optionally loaded from a description file, and exposes it as a JSON API over HTTP.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("listen") {
			cfg.Listen, _ = flags.GetString("listen")
		}
		if flags.Changed("redis") {
			cfg.Redis.Addr, _ = flags.GetString("redis")
		}
		if flags.Changed("store-dir") {
			cfg.StoreDir, _ = flags.GetString("store-dir")
		}
		if flags.Changed("midi") {
			cfg.MIDIInput, _ = flags.GetString("midi")
		}
		audio, _ := flags.GetBool("audio")
		run, _ := flags.GetBool("run")
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		s := newSession(cfg, logger, session.WithMetrics(session.NewMetrics(reg)))
		defer s.Close()
		if len(args) == 1 {
			d, err := readDescription(args[0])
			if err != nil {
				return err
			}
			if err := s.Load(d); err != nil {
				return err
			}
		}

		st, closeStore := newStore(cfg)
		defer closeStore()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if audio {
			stopAudio, err := startAudio(cfg, s, logger)
			if err != nil {
				return err
			}
			defer stopAudio()
		}
		stopMIDI := startMIDI(ctx, cfg, s, logger)
		defer stopMIDI()
		if run {
			go s.RunSequencer(ctx, rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)))
		}

		srv := &http.Server{
			Addr: cfg.Listen,
			Handler: server.NewHandler(&server.Server{
				Session:  s,
				Store:    st,
				Gatherer: reg,
				Logger:   logger,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("starting server", "addr", srv.Addr)
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
		case <-ctx.Done():
			logger.Info("shutting down")
			// Give outstanding requests a deadline for completion.
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				logger.Warn("graceful shutdown did not complete", "timeout", shutdownTimeout, "error", err)
				if err := srv.Close(); err != nil {
					logger.Error("could not close server", "error", err)
				}
			}
			logger.Info("server stopped")
		}
		return nil
	},
}

// newStore returns a Redis store if an address is configured and a file
// store under cfg.StoreDir otherwise.
func newStore(cfg Config) (store.Store, func()) {
	if cfg.Redis.Addr == "" {
		return store.NewFile(cfg.StoreDir), func() {}
	}
	var opts []store.RedisOption
	if cfg.Redis.Prefix != "" {
		opts = append(opts, store.WithPrefix(cfg.Redis.Prefix))
	}
	if cfg.Redis.TTL > 0 {
		opts = append(opts, store.WithTTL(cfg.Redis.TTL))
	}
	r := store.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, opts...)
	return r, func() { r.Close() }
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("listen", "l", ":8080", "Address to listen on")
	serveCmd.Flags().String("redis", "", "Redis address for saved sessions; a directory is used if empty")
	serveCmd.Flags().String("store-dir", ".patchbay/sessions", "Directory for saved sessions")
	serveCmd.Flags().String("midi", "", `MIDI input name prefix, or "*" for the first input`)
	serveCmd.Flags().Bool("audio", false, "Play the session on the default audio device")
	serveCmd.Flags().Bool("run", false, "Run the step sequencer")
}
