package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"github.com/yeremiapane/waiter-call/config"
	"github.com/yeremiapane/waiter-call/database"
	"github.com/yeremiapane/waiter-call/fanout"
	"github.com/yeremiapane/waiter-call/router"
	"github.com/yeremiapane/waiter-call/services"
	"github.com/yeremiapane/waiter-call/utils"
)

const shutdownTimeout = 10 * time.Second

func serveCommand(v *viper.Viper, load func() (*config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, realtime hub and shift monitor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
	cmd.Flags().String("port", "", "listen port (overrides PORT)")
	if err := v.BindPFlag("server.port", cmd.Flags().Lookup("port")); err != nil {
		panic(err)
	}
	return cmd
}

func runServer(ctx context.Context, cfg *config.Config) error {
	infoLog, errLog := utils.Loggers()

	flush, err := utils.InitSentry(cfg.SentryDSN, cfg.Environment, Version)
	if err != nil {
		return fmt.Errorf("init sentry: %w", err)
	}
	defer flush()

	db, err := config.InitDB(cfg)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := database.Migrate(db); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := fanout.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	hub := fanout.NewHub(infoLog)
	opts := []fanout.Option{
		fanout.WithMirror(hub),
		fanout.WithDevices(services.NewDeviceStore(db)),
		fanout.WithPusher(fanout.NewShoutrrrPusher(cfg.ShoutrrrTimeout)),
		fanout.WithTimeout(cfg.FanoutTimeout),
		fanout.WithMetrics(metrics),
		fanout.WithLogger(errLog),
	}
	sideOpts, closeSide := sideChannels(ctx, cfg, infoLog, errLog)
	defer closeSide()
	dispatcher := fanout.NewDispatcher(append(opts, sideOpts...)...)

	clock := services.SystemClock()
	calls := services.NewCallService(db, clock, dispatcher, infoLog)
	silences := services.NewSilenceService(db, clock, dispatcher, infoLog)
	assignments := services.NewAssignmentService(db, clock, calls, dispatcher, infoLog)
	staff := services.NewStaffService(db, clock, assignments, infoLog)
	dashboard := services.NewDashboardService(db, clock)

	if cfg.ShiftMaxDuration > 0 {
		monitor := services.NewShiftMonitor(assignments, cfg.ShiftMaxDuration, cfg.ShiftSweepInterval, infoLog)
		monitor.Start()
		defer monitor.Stop()
	}

	r := router.SetupRouter(router.Deps{
		Calls:               calls,
		Silences:            silences,
		Assignments:         assignments,
		Staff:               staff,
		Dashboard:           dashboard,
		Hub:                 hub,
		Gatherer:            registry,
		CORSOrigins:         cfg.CORSOrigins,
		PublicRatePerMinute: cfg.PublicRatePerMinute,
		PublicPollPerMinute: cfg.PublicPollPerMinute,
		StrictTransport:     cfg.Environment == "production",
		TokenTTL:            cfg.JWTTTL,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		infoLog.WithField("port", cfg.Port).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		infoLog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		hub.Close()
		if derr := dispatcher.Close(shutdownCtx); derr != nil {
			errLog.WithError(derr).Error("fan-out did not drain")
		}
		return err
	})
	return g.Wait()
}

// sideChannels builds the optional mirrors and push providers that have
// configuration. A channel that fails to start is logged and skipped.
func sideChannels(ctx context.Context, cfg *config.Config, infoLog, errLog *logrus.Logger) ([]fanout.Option, func()) {
	var (
		opts    []fanout.Option
		closers []func()
	)

	if cfg.MirrorRESTURL != "" {
		client := &http.Client{Timeout: cfg.FanoutTimeout}
		opts = append(opts, fanout.WithMirror(fanout.NewRESTMirror(cfg.MirrorRESTURL, cfg.MirrorRESTSecret, client)))
		infoLog.WithField("url", cfg.MirrorRESTURL).Info("rest mirror enabled")
	}

	if cfg.MQTTBroker != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		mirror, err := fanout.NewMQTTMirror(connectCtx, fanout.MQTTConfig{
			Broker:      cfg.MQTTBroker,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
		})
		cancel()
		if err != nil {
			// paho keeps retrying in the background
			errLog.WithError(err).Warn("mqtt broker not reachable yet")
		}
		opts = append(opts, fanout.WithMirror(mirror))
		closers = append(closers, mirror.Close)
		infoLog.WithField("broker", cfg.MQTTBroker).Info("mqtt mirror enabled")
	}

	if cfg.FCMProjectID != "" {
		pusher, err := fanout.NewFCMPusher(ctx, cfg.FCMProjectID, option.WithCredentialsFile(cfg.FCMCredentialsFile))
		if err != nil {
			errLog.WithError(err).Error("fcm push disabled")
		} else {
			opts = append(opts, fanout.WithPusher(pusher))
			infoLog.WithField("project", cfg.FCMProjectID).Info("fcm push enabled")
		}
	}

	return opts, func() {
		for _, c := range closers {
			c()
		}
	}
}
