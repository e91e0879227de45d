package main

import (
	"flag"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // enable pprof when -pprof is set
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/herohan/thermal-stream-server/internal/logger"
	"github.com/herohan/thermal-stream-server/internal/metrics"
	"github.com/herohan/thermal-stream-server/internal/source"
	"github.com/herohan/thermal-stream-server/internal/streamserver"
	"github.com/herohan/thermal-stream-server/pkg/types"
)

var (
	addr        = flag.String("addr", ":8080", "Listen address for both stream protocols")
	metricsAddr = flag.String("metrics", ":9090", "Metrics server address (empty to disable)")
	pprofAddr   = flag.String("pprof", "", "pprof server address (empty to disable)")
	maxClients  = flag.Int("max-clients", 5, "Maximum concurrent clients")

	width          = flag.Int("width", 256, "Frame width in pixels")
	height         = flag.Int("height", 192, "Streamed frame height in pixels")
	originalHeight = flag.Int("original-height", 384, "Sensor frame height before crop")
	bytesPerPixel  = flag.Int("bytes-per-pixel", 2, "Bytes per pixel")
	pixelFormat    = flag.String("pixel-format", "YUV422", "Pixel format tag")

	simFPS = flag.Int("sim-fps", 0, "Feed synthetic frames at this rate instead of a real capture source (0 = off)")

	logLevel = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor = flag.Bool("log-color", true, "Enable colored log output")
)

// statusLogger surfaces lifecycle callbacks to the log; a UI layer would hang
// its own implementation here instead.
type statusLogger struct{}

func (statusLogger) OnServerStarted(url string) {
	logger.Info("Status", "streaming at %s", url)
}

func (statusLogger) OnServerError(msg string) {
	logger.Error("Status", "server error: %s", msg)
}

func (statusLogger) OnClientConnected(count int) {
	logger.Info("Status", "clients: %d", count)
}

func (statusLogger) OnClientDisconnected(count int) {
	logger.Info("Status", "clients: %d", count)
}

func main() {
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor)

	format := types.Format{
		Width:          *width,
		Height:         *height,
		OriginalHeight: *originalHeight,
		BytesPerPixel:  *bytesPerPixel,
		PixelFormat:    *pixelFormat,
	}
	if !format.Valid() {
		log.Fatalf("Invalid frame geometry: %+v", format)
	}

	m := metrics.New()
	cfg := streamserver.DefaultConfig()
	cfg.Addr = *addr
	cfg.MaxClients = *maxClients
	cfg.Format = format

	srv := streamserver.New(cfg, statusLogger{}, m)

	if *pprofAddr != "" {
		go func() {
			logger.Info("Main", "pprof on %s", *pprofAddr)
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				logger.Warn("Main", "pprof server: %v", err)
			}
		}()
	}

	if *metricsAddr != "" {
		go func() {
			logger.Info("Main", "metrics on %s", *metricsAddr)
			if err := m.StartServer(*metricsAddr); err != nil {
				logger.Warn("Main", "metrics server: %v", err)
			}
		}()
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	stopSim := make(chan struct{})
	if *simFPS > 0 {
		go simulate(srv.Source(), format, *simFPS, stopSim)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "shutting down...")
	close(stopSim)
	srv.Close()
}

// simulate feeds synthetic full-size sensor buffers at the given rate, for
// running the server without capture hardware.
func simulate(src *source.Source, format types.Format, fps int, stop <-chan struct{}) {
	logger.Info("Sim", "synthetic source at %d fps", fps)
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	buf := make([]byte, format.OriginalBytesPerFrame())
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// Drifting gradient plus noise, so clients see motion.
			base := byte(time.Now().UnixMilli() / 50)
			for i := range buf {
				buf[i] = base + byte(i%251) + byte(rng.Intn(8))
			}
			src.Push(buf)
		}
	}
}
