// Package config loads the display worker's configuration: a small
// envconfig-tagged struct with sane defaults, loaded once at process
// start via godotenv + envconfig.
package config

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	bytesize "github.com/inhies/go-bytesize"
)

// WorkerConfig configures one display-worker instance (one graphics
// adapter, spec.md §2).
type WorkerConfig struct {
	Surfaces    Surfaces
	Pipe        Pipe
	Cache       Cache
	Compression Compression
	OOM         OOM
	Dispatcher  Dispatcher
}

type Surfaces struct {
	MaxSurfaces int `envconfig:"DISPLAY_MAX_SURFACES" default:"256"`
}

type Pipe struct {
	AckWindowLowLatency  int `envconfig:"DISPLAY_PIPE_ACK_WINDOW_LOW_LATENCY" default:"40"`
	AckWindowHighLatency int `envconfig:"DISPLAY_PIPE_ACK_WINDOW_HIGH_LATENCY" default:"20"`
	MaxPipeSize          int `envconfig:"DISPLAY_MAX_PIPE_SIZE" default:"50"`
}

// Cache holds the pixmap/palette cache byte budgets. ByteSize comes
// from github.com/inhies/go-bytesize so operators can write "32MB"
// rather than a raw integer.
type Cache struct {
	PixmapCacheSize ByteSize `envconfig:"DISPLAY_PIXMAP_CACHE_SIZE" default:"32MB"`
	PaletteEntries  int      `envconfig:"DISPLAY_PALETTE_CACHE_ENTRIES" default:"128"`
	GlzWindowSize   ByteSize `envconfig:"DISPLAY_GLZ_WINDOW_SIZE" default:"16MB"`
}

type Compression struct {
	// Mode is one of off|auto-glz|auto-lz|quic|glz|lz (spec.md §4.6).
	Mode             string   `envconfig:"DISPLAY_COMPRESSION_MODE" default:"auto-glz"`
	BufferSize       ByteSize `envconfig:"DISPLAY_COMPRESS_BUFFER_SIZE" default:"64KB"`
	ZlibGlzThreshold ByteSize `envconfig:"DISPLAY_ZLIB_GLZ_THRESHOLD" default:"100B"`
	JPEGQuality      int      `envconfig:"DISPLAY_JPEG_QUALITY" default:"80"`
}

type OOM struct {
	MaxTreeEvictionPerPass int `envconfig:"DISPLAY_OOM_MAX_EVICT" default:"64"`
	MaxFlushResourceCalls  int `envconfig:"DISPLAY_OOM_MAX_FLUSH_CALLS" default:"2"`
}

type Dispatcher struct {
	ControlSubject string `envconfig:"DISPLAY_DISPATCH_SUBJECT" default:"display.worker"`
	NatsURL        string `envconfig:"DISPLAY_NATS_URL" default:"nats://127.0.0.1:4222"`
}

// ByteSize wraps bytesize.ByteSize so envconfig can decode it directly
// (bytesize.ByteSize already implements encoding.TextUnmarshaler via
// its Set method through this thin alias's Decode hook).
type ByteSize bytesize.ByteSize

func (b *ByteSize) Decode(value string) error {
	parsed, err := bytesize.Parse(value)
	if err != nil {
		return err
	}
	*b = ByteSize(parsed)
	return nil
}

func (b ByteSize) Bytes() uint64 { return uint64(b) }

func LoadWorkerConfig() (WorkerConfig, error) {
	_ = godotenv.Load()

	var cfg WorkerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return WorkerConfig{}, err
	}
	return cfg, nil
}
