package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	secmon "github.com/oarkflow/secmon"
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "HTTP listen address")
		rulesPath   = flag.String("rules", "configs/rules.json", "detection and alert rule catalog")
		credentials = flag.String("credentials", "configs/credentials.json", "notification channel credentials")
		authLog     = flag.String("auth-log", "/var/log/auth.log", "auth log to watch for security events")
		interval    = flag.Duration("interval", 5*time.Second, "monitoring loop interval")
		logLevel    = flag.String("log-level", "info", "log level (debug, info, warn, error)")
		watch       = flag.Bool("watch", true, "reload the rule catalog when the file changes")
	)
	flag.Parse()

	logger := secmon.NewLogger(*logLevel)

	catalog, err := secmon.LoadCatalog(*rulesPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *rulesPath).Msg("failed to load rule catalog")
	}
	if *watch {
		if err := catalog.Watch(*rulesPath); err != nil {
			logger.Warn().Err(err).Msg("rule catalog hot reload unavailable")
		}
	}
	defer catalog.Close()

	creds, err := secmon.LoadCredentials(*credentials)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *credentials).Msg("failed to load credentials")
	}

	metrics := secmon.NewInMemoryMetricsCollector()
	notifier := secmon.NewNotificationRegistry(logger, creds)

	detector := secmon.NewDetector(catalog, logger)
	detector.SetMetrics(metrics)

	manager := secmon.NewManager(catalog, logger, notifier)
	manager.SetMetrics(metrics)

	monitor := secmon.NewMonitor(
		detector,
		manager,
		secmon.NewSystemCollector(logger, "/"),
		secmon.NewNetworkCollector(logger),
		secmon.NewGatedLogSource(secmon.NewAuthLogSource(logger, *authLog), 10*time.Second),
		*interval,
		logger,
	)
	monitor.Start()

	server := secmon.NewServer(manager, detector, monitor, metrics, notifier.Dashboard(), logger)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-shutdown
		logger.Info().Msg("shutting down")
		monitor.Stop()
		if err := server.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("error shutting down http server")
		}
	}()

	if err := server.Listen(*addr); err != nil {
		logger.Fatal().Err(err).Msg("http server exited")
	}
}
