package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/prismplay/audio"
	"github.com/zsiec/prismplay/connection"
	"github.com/zsiec/prismplay/internal/config"
	"github.com/zsiec/prismplay/internal/metrics"
	"github.com/zsiec/prismplay/media"
	"github.com/zsiec/prismplay/player"
	"github.com/zsiec/prismplay/scheduler"
	"github.com/zsiec/prismplay/transport"
)

const statsInterval = 5 * time.Second

func newPlayCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Connect to a channel and present it",
		Example: `  prismplay play --transport rush --server https://localhost:4443 --channel demo --cert-hash <base64>
  prismplay play --transport websocket --server http://localhost:4444 --channel demo
  prismplay play --transport srt --server localhost:6000 --channel demo`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			setupLogging(cfg.Debug)
			return play(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.String("transport", "rush", "transport: websocket, webtransport, rush or srt")
	f.String("server", "https://localhost:4443", "server base URL")
	f.String("channel", "", "channel name")
	f.String("cert-hash", "", "base64 SHA-256 fingerprint of the server certificate")
	f.Bool("insecure", false, "skip server certificate verification")
	f.Int("audio-timescale", 1, "audio timescale sent in the RUSH handshake")
	f.Int("video-timescale", 1, "video timescale sent in the RUSH handshake")
	f.Float64("frame-rate", 30, "nominal frame rate used to time video frames")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	f.String("audio-out", "", "write received audio payloads to this file")

	bindFlags(v, cmd, map[string]string{
		"transport":       "transport",
		"server":          "server",
		"channel":         "channel",
		"cert-hash":       "cert_hash",
		"insecure":        "insecure",
		"audio-timescale": "audio_timescale",
		"video-timescale": "video_timescale",
		"frame-rate":      "frame_rate",
		"metrics-addr":    "metrics_addr",
		"audio-out":       "audio_out",
	})
	return cmd
}

func play(ctx context.Context, cfg *config.Config) error {
	addr, err := cfg.Address()
	if err != nil {
		return err
	}
	opts, err := cfg.TransportOptions(slog.Default())
	if err != nil {
		return err
	}
	t, err := transport.New(cfg.Kind(), opts)
	if err != nil {
		return err
	}
	conn := connection.New(t, slog.Default())
	log := conn.Logger()

	collector := metrics.New()
	surface := newLogSurface(log, int64(cfg.FrameRate))
	sched := scheduler.New(surface, scheduler.Config{
		Logger:        log,
		Observer:      collector,
		QueueCapacity: media.VideoBufferSize,
	})
	defer sched.Close()

	audioCache, closeAudio, err := openAudio(cfg)
	if err != nil {
		return err
	}
	defer closeAudio()

	p, err := player.New(player.Config{
		Connection: conn,
		Scheduler:  sched,
		Decoder:    &media.SequenceDecoder{FrameRate: cfg.FrameRate},
		Raw:        rawDecoder(cfg.Kind()),
		Audio:      audioCache,
		Metrics:    collector,
		Logger:     log,
	})
	if err != nil {
		return err
	}

	log.Info("prismplay starting",
		"version", version,
		"transport", cfg.Kind(),
		"addr", addr,
		"metrics", cfg.MetricsAddr,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(collector)}
		g.Go(func() error {
			log.Info("metrics server listening", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				s := sched.Stats()
				ps := p.Stats()
				log.Info("playback",
					"presented", s.Presented,
					"dropped", s.Dropped,
					"underflows", s.Underflows,
					"pending", s.Pending,
					"position", s.LastTimestamp,
					"units", ps.Units,
					"audio_dropped", ps.AudioDropped,
				)
			}
		}
	})

	g.Go(func() error {
		// Ending playback stops the metrics server and stats loop.
		defer cancel()
		err := p.Run(ctx, addr)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	return g.Wait()
}

// rawDecoder returns the decoder for units that are not RUSH messages. SRT
// carries an MPEG transport stream.
func rawDecoder(kind transport.Kind) player.RawDecoder {
	if kind == transport.KindSRT {
		return media.NewTSDecoder()
	}
	return nil
}

func metricsMux(c *metrics.Collector) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	return mux
}

// openAudio returns the process audio cache, backed by the configured
// output file or a discarding handle.
func openAudio(cfg *config.Config) (*audio.Cache, func(), error) {
	if cfg.AudioOut == "" {
		return audio.Process(func(context.Context) (audio.Handle, error) {
			return audio.Discard{Rate: cfg.AudioSampleRate}, nil
		}), func() {}, nil
	}

	f, err := os.Create(cfg.AudioOut)
	if err != nil {
		return nil, nil, fmt.Errorf("open audio output: %w", err)
	}
	cache := audio.Process(func(context.Context) (audio.Handle, error) {
		return audio.NewWriterHandle(f, cfg.AudioSampleRate), nil
	})
	return cache, func() {
		if err := f.Close(); err != nil {
			slog.Warn("closing audio output", "error", err)
		}
	}, nil
}
