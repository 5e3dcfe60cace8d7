package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/websynth/patchbay"
)

var playCmd = &cobra.Command{
	Use:   "play description.yml",
	Short: "Play a description with its step sequencer running",
	Long: `Loads a description and plays it on the default audio device until interrupted or
until --duration has passed. With --wav, the audio is rendered offline to a .wav file instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("midi") {
			cfg.MIDIInput, _ = flags.GetString("midi")
		}
		wavOut, _ := flags.GetString("wav")
		pcm, _ := flags.GetBool("pcm")
		duration, _ := flags.GetDuration("duration")
		seed, _ := flags.GetUint64("seed")
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}

		d, err := readDescription(args[0])
		if err != nil {
			return err
		}
		s := newSession(cfg, logger)
		defer s.Close()
		if err := s.Load(d); err != nil {
			return err
		}
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		rnd := rand.New(rand.NewPCG(seed, 0))

		if wavOut != "" {
			if duration <= 0 {
				return fmt.Errorf("--wav needs a positive --duration")
			}
			length := int(duration.Seconds() * float64(cfg.SampleRate))
			buffer := patchbay.Stereo(s.Bounce(length, cfg.BlockSize, rnd))
			contents, err := patchbay.Wav(buffer, cfg.SampleRate, pcm)
			if err != nil {
				return err
			}
			if dir := filepath.Dir(wavOut); dir != "" {
				if err := os.MkdirAll(dir, os.ModePerm); err != nil {
					return fmt.Errorf("could not create output directory %v: %w", dir, err)
				}
			}
			if err := os.WriteFile(wavOut, contents, 0644); err != nil {
				return fmt.Errorf("could not write %v: %w", wavOut, err)
			}
			logger.Info("rendered", "file", wavOut, "samples", length)
			return nil
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if duration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, duration)
			defer cancel()
		}
		stopAudio, err := startAudio(cfg, s, logger)
		if err != nil {
			return err
		}
		defer stopAudio()
		stopMIDI := startMIDI(ctx, cfg, s, logger)
		defer stopMIDI()
		s.RunSequencer(ctx, rnd)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(playCmd)
	playCmd.Flags().StringP("wav", "w", "", "Render to this .wav file instead of playing")
	playCmd.Flags().BoolP("pcm", "c", false, "Write 16-bit signed PCM instead of float32")
	playCmd.Flags().DurationP("duration", "d", 0, "Stop after this long; required with --wav")
	playCmd.Flags().Uint64("seed", 0, "Seed of the random step timing; 0 picks one")
	playCmd.Flags().String("midi", "", `MIDI input name prefix, or "*" for the first input`)
}
