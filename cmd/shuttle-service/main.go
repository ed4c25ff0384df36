package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shuttle-service/internal/core"
	"shuttle-service/internal/hardware"
	"shuttle-service/internal/logger"
	"shuttle-service/internal/messaging"
)

func main() {
	var serviceLogLevel int
	var redisHost string
	var redisPort int
	var scanTimeout time.Duration

	flag.IntVar(&serviceLogLevel, "log", 3, "Service log level (0=NONE, 1=ERROR, 2=WARN, 3=INFO, 4=DEBUG)")
	flag.StringVar(&redisHost, "redis-host", "127.0.0.1", "Redis host")
	flag.IntVar(&redisPort, "redis-port", 6379, "Redis port")
	flag.DurationVar(&scanTimeout, "scan-timeout", 60*time.Second, "Auto-cancel for an abandoned QR scan (0 disables)")

	flag.Parse()

	// Under systemd the journal adds its own timestamps
	flags := log.LstdFlags | log.Lmicroseconds | log.Lmsgprefix
	if os.Getenv("INVOCATION_ID") != "" {
		flags = 0
	}
	l := logger.New(os.Stdout, flags, logger.LogLevel(serviceLogLevel))

	l.Infof("Starting shuttle service...")

	io := hardware.NewLinuxPanelIO(l)
	// Callbacks are wired in system.Start once the handlers exist
	redis := messaging.NewRedisClient(redisHost, redisPort, l, messaging.Callbacks{})
	system := core.NewShuttleSystem(io, redis, l)
	system.SetScanTimeout(scanTimeout)

	if err := system.Start(); err != nil {
		l.Fatalf("Failed to start system: %v", err)
	}

	l.Infof("System started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	l.Infof("Received signal %v, shutting down...", sig)
	system.Shutdown()
	l.Infof("Shutdown complete")
}
