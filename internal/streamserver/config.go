package streamserver

import (
	"time"

	"github.com/herohan/thermal-stream-server/pkg/types"
)

// Config defines the runtime configuration for the stream server.
type Config struct {
	Addr       string // listen address for both wire protocols
	StreamPath string // multipart HTTP endpoint
	SocketPath string // websocket endpoint

	MaxClients int
	Format     types.Format

	// FrameWait bounds how long a delivery loop blocks waiting for a new
	// frame before re-checking liveness.
	FrameWait time.Duration

	// WriteTimeout bounds each websocket write so a stalled peer is dropped
	// instead of pinning its delivery loop.
	WriteTimeout time.Duration
}

// DefaultConfig mirrors the deployment the server was built for.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		StreamPath:   "/stream",
		SocketPath:   "/ws",
		MaxClients:   5,
		Format:       types.DefaultFormat(),
		FrameWait:    500 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.StreamPath == "" {
		c.StreamPath = def.StreamPath
	}
	if c.SocketPath == "" {
		c.SocketPath = def.SocketPath
	}
	if c.MaxClients <= 0 {
		c.MaxClients = def.MaxClients
	}
	if !c.Format.Valid() {
		c.Format = def.Format
	}
	if c.FrameWait <= 0 {
		c.FrameWait = def.FrameWait
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	return c
}
