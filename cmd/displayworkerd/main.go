// displayworkerd is the display worker process for one graphics
// adapter (spec.md §2): it owns the surface registry, the per-client
// pipes, the shared caches, and the command loop, and exposes an admin
// socket for displayctl.
//
// Logging/signal-handling shape is grounded on
// api/cmd/helix-drm-manager/main.go: load config, build a context that
// cancels on SIGINT/SIGTERM, construct the long-running component, log
// its startup fields, run it, log shutdown.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/spicectl/displaycore/internal/admin"
	"github.com/spicectl/displaycore/internal/cache"
	"github.com/spicectl/displaycore/internal/canvas"
	"github.com/spicectl/displaycore/internal/clientreg"
	"github.com/spicectl/displaycore/internal/compress"
	"github.com/spicectl/displaycore/internal/config"
	"github.com/spicectl/displaycore/internal/dispatch"
	"github.com/spicectl/displaycore/internal/pipe"
	"github.com/spicectl/displaycore/internal/region"
	"github.com/spicectl/displaycore/internal/stats"
	"github.com/spicectl/displaycore/internal/stream"
	"github.com/spicectl/displaycore/internal/surface"
	"github.com/spicectl/displaycore/internal/tree"
	"github.com/spicectl/displaycore/internal/wire"
	"github.com/spicectl/displaycore/internal/worker"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	driverLog := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	counters := stats.NewTree()

	pixmapCache, err := cache.New("pixmap", int64(cfg.Cache.PixmapCacheSize.Bytes()))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create pixmap cache")
	}
	paletteCache, err := cache.NewPaletteCache(cfg.Cache.PaletteEntries)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create palette cache")
	}
	glzDict := cache.NewDictionary(int(cfg.Cache.GlzWindowSize.Bytes()))

	clients := clientreg.New(driverLog, clientreg.DefaultGracePeriod)
	defer clients.Stop()

	var dispatcher dispatch.Interface
	if transport := buildTransport(cfg.Dispatcher); transport != nil {
		dispatcher = dispatch.New(transport)
	} else {
		dispatcher = &dispatch.NoopDispatcher{}
	}

	surfaces := surface.NewRegistry(driverLog, cfg.Surfaces.MaxSurfaces)
	surfaces.NotifyPrimaryCreated = func() {
		log.Info().Msg("primary surface created, notifying connected clients")
		if err := dispatcher.Send(ctx, cfg.Dispatcher.ControlSubject+".primary-created", nil); err != nil {
			log.Warn().Err(err).Msg("failed to publish primary-created notification")
		}
	}

	primaryWidth, primaryHeight := int32(1920), int32(1080)
	primaryStride := primaryWidth * 4
	primaryCanvas := canvas.NewSoftCanvas(driverLog, canvas.Format32bpp, primaryWidth, primaryHeight, primaryStride, make([]byte, int(primaryStride)*int(primaryHeight)))

	primaryTree := tree.New()
	if _, err := surfaces.Create(surface.Primary, primaryWidth, primaryHeight, primaryStride, canvas.Format32bpp, primaryCanvas, func() surface.Tree { return primaryTree }, false); err != nil {
		log.Fatal().Err(err).Msg("failed to create primary surface")
	}

	source := worker.NewChanSource(256)
	defer source.Close()

	chooser := compress.NewChooser(cfg.Compression.Mode, glzDict, int64(cfg.Compression.ZlibGlzThreshold.Bytes()), cfg.Compression.JPEGQuality)
	detector := stream.NewDetector()

	loop := &worker.Loop{
		Trees:       map[uint32]*tree.Tree{uint32(surface.Primary): primaryTree},
		Canvases:    map[uint32]canvas.Canvas{uint32(surface.Primary): primaryCanvas},
		Source:      source,
		Dict:        glzDict,
		Chooser:     chooser,
		Detector:    detector,
		MaxPipeSize: cfg.Pipe.MaxPipeSize,
		GetImage: func(surfaceID uint32, rect region.Rect) (*canvas.Image, error) {
			return surfaces.GetArea(surface.ID(surfaceID), rect, nil, 0, true)
		},
		OnFlushResources: func() {
			pixmapCache.Destroy()
			paletteCache.Destroy()
		},
	}
	loop.BindDetector()

	// Every connected client gets its own outbound pipeline (pipe,
	// lossy-resend state, compression buffer pool) and its own
	// goroutine driving pipe.Run; conc.WaitGroup keeps that fan-out
	// panic-safe across clients without serializing their sends
	// against each other, since each client's own Run already
	// serializes its own sends (spec.md §5).
	var clientPool conc.WaitGroup
	defer clientPool.Wait()
	clientCtx, cancelClients := context.WithCancel(ctx)
	defer cancelClients()

	clients.OnConnect = func(id uint32, ch wire.Channel) {
		cl := &worker.ClientOutbound{
			ID:    id,
			Pipe:  pipe.New(false),
			Lossy: pipe.NewLossyTracker(),
			Bufs:  compress.NewBufferList(),
		}
		loop.AddClient(cl)

		sender := &wire.PipeSender{Channel: ch, Encode: wire.EncodeDrawItem}
		clientPool.Go(func() {
			if err := pipe.Run(clientCtx, cl.Pipe, sender); err != nil && err != context.Canceled {
				log.Warn().Err(err).Uint32("client", id).Msg("client pipe exited")
			}
		})
	}
	clients.OnRemove = func(id uint32) {
		loop.RemoveClient(id)
	}

	adminSrv := &admin.Server{
		SocketPath: adminSocketPath(),
		Snapshot: func() admin.Report {
			clientStats := clients.Stats()
			return admin.Report{
				Surfaces:       surfaces.Len(),
				Counters:       counters.Snapshot(),
				GLZBytes:       glzDict.Size(),
				Pixmap:         pixmapCache.Len(),
				Palette:        paletteCache.Len(),
				ActiveClients:  clientStats.ActiveClients,
				ReconnectGrace: clientStats.GracePeriodEntries,
			}
		},
	}
	go func() {
		if err := adminSrv.ListenAndServe(); err != nil {
			log.Warn().Err(err).Msg("admin socket stopped")
		}
	}()
	defer adminSrv.Close()

	log.Info().
		Int("max_surfaces", cfg.Surfaces.MaxSurfaces).
		Int("max_pipe_size", loop.MaxPipeSize).
		Uint64("pixmap_cache_bytes", cfg.Cache.PixmapCacheSize.Bytes()).
		Uint64("glz_window_bytes", cfg.Cache.GlzWindowSize.Bytes()).
		Str("compression_mode", cfg.Compression.Mode).
		Msg("starting displayworkerd")

	oomTicker := time.NewTicker(30 * time.Second)
	defer oomTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-oomTicker.C:
				// Real memory-pressure detection belongs to the
				// platform allocator; here we only run eviction if the
				// GLZ window is already at its configured ceiling,
				// which is the cheap proxy spec.md §4.9 assumes a
				// caller already has when it triggers HandleOOM.
				if glzDict.Size() >= int(cfg.Cache.GlzWindowSize.Bytes()) {
					report := loop.HandleOOM()
					log.Warn().
						Int("glz_bytes_freed", report.GLZBytesFreed).
						Int("items_evicted", report.ItemsEvicted).
						Int("flush_calls", report.FlushCalls).
						Msg("OOM recovery ran")
				}
			}
		}
	}()

	if err := loop.Run(ctx); err != nil && err != context.Canceled && err != worker.ErrSourceClosed {
		log.Error().Err(err).Msg("command loop exited with error")
	}

	log.Info().Msg("displayworkerd shutdown complete")
}

func buildTransport(cfg config.Dispatcher) dispatch.Transport {
	nc, err := nats.Connect(cfg.NatsURL)
	if err != nil {
		log.Warn().Err(err).Str("url", cfg.NatsURL).Msg("nats unavailable, dispatcher running in noop mode")
		return nil
	}
	log.Info().Str("url", cfg.NatsURL).Msg("connected to nats")
	return dispatch.NewNatsTransport(nc)
}

func adminSocketPath() string {
	if v := os.Getenv("DISPLAY_ADMIN_SOCKET"); v != "" {
		return v
	}
	return "/run/displaycore/admin.sock"
}
