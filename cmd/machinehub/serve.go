package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"machinehub"
	"machinehub/internal/api"
	"machinehub/internal/config"
	"machinehub/internal/connector"
	"machinehub/internal/connector/dsf"
	"machinehub/internal/connector/poll"
	"machinehub/internal/event"
	"machinehub/internal/logging"
	"machinehub/internal/machine"
	"machinehub/internal/metrics"
	"machinehub/internal/notify"
	"machinehub/internal/otel"
	"machinehub/internal/version"
)

const (
	shutdownTimeout   = 15 * time.Second
	eventHistorySize  = 256
	readHeaderTimeout = 5 * time.Second
)

type serveOptions struct {
	ConfigPath string
	Port       int
	Listener   net.Listener
	Ready      func(addr string)
}

func newServeCmd(stderr io.Writer) *cobra.Command {
	opts := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the machinehub server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, stderr)
		},
	}
	cmd.Flags().StringVar(&opts.ConfigPath, "config", config.DefaultPath(), "settings file")
	cmd.Flags().IntVar(&opts.Port, "port", 0, "listen port (overrides server.port)")
	return cmd
}

func loadSettings(path string) (config.Settings, error) {
	defaults, err := fs.ReadFile(machinehub.EmbeddedConfigFS, config.DefaultsPath)
	if err != nil {
		return config.Settings{}, fmt.Errorf("read embedded defaults: %w", err)
	}
	return config.LoadSettings(path, defaults, config.EnvOverrides(os.Environ()))
}

// hub is everything serve wires together.
type hub struct {
	settings config.Settings
	logger   *logging.Logger
	metrics  *metrics.Registry
	events   *event.Bus[event.Event]
	manager  *machine.Manager
	kafka    *notify.KafkaSink
	handler  http.Handler
}

func buildHub(ctx context.Context, settings config.Settings, output io.Writer, registry *metrics.Registry) (*hub, error) {
	logger := logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), settings.Log.Level, output)
	events := event.NewBus[event.Event](ctx, event.BusOptions{
		Name:        "machine_events",
		HistorySize: eventHistorySize,
		Registry:    registry,
		Logger:      logger,
		EmitOTel:    settings.OTel.Enabled,
	})

	sinks := notify.Multi{notify.NewLoggerSink(logger), notify.NewBusSink(events)}
	if settings.OTel.Enabled {
		sinks = append(sinks, notify.NewOTelSink(nil))
	}
	var kafka *notify.KafkaSink
	if len(settings.Notify.KafkaBrokers) > 0 {
		sink, err := notify.NewKafkaSink(settings.Notify.KafkaBrokers, settings.Notify.KafkaTopic)
		if err != nil {
			events.Close()
			return nil, fmt.Errorf("kafka notifications: %w", err)
		}
		kafka = sink
		sinks = append(sinks, sink)
	}

	connectorOptions := connector.Options{
		RequestTimeout:    settings.Machine.RequestTimeout,
		StatusInterval:    settings.Machine.StatusInterval,
		MaxStatusFailures: settings.Machine.MaxStatusFailures,
		Logger:            logger,
	}
	manager := machine.NewManager(machine.ManagerOptions{
		Connector:       connector.Chain{dsf.New(connectorOptions), poll.New(connectorOptions)},
		Notifier:        sinks,
		Mirror:          machine.NewBusMirror(events),
		Logger:          logger,
		Metrics:         registry,
		DefaultUser:     settings.Machine.DefaultUser,
		DefaultPassword: settings.Machine.DefaultPassword,
		ConnectTimeout:  settings.Machine.ConnectTimeout,
	})

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, api.Options{
		Machines:  manager,
		Logger:    logger,
		Events:    events,
		Metrics:   registry,
		AuthToken: settings.Server.Token,
	})

	return &hub{
		settings: settings,
		logger:   logger,
		metrics:  registry,
		events:   events,
		manager:  manager,
		kafka:    kafka,
		handler:  mux,
	}, nil
}

// autoconnect connects the configured endpoints one after another. The last
// one that succeeds ends up selected.
func (h *hub) autoconnect(ctx context.Context) {
	for _, endpoint := range h.settings.Machine.Autoconnect {
		if ctx.Err() != nil {
			return
		}
		if err := h.manager.Connect(ctx, machine.ConnectRequest{Endpoint: endpoint}); err != nil {
			h.logger.Warn("autoconnect skipped", map[string]string{
				logging.FieldEndpoint: endpoint,
				logging.FieldError:    err.Error(),
			})
			continue
		}
		if !h.manager.IsConnected(endpoint) {
			h.logger.Warn("autoconnect failed", map[string]string{logging.FieldEndpoint: endpoint})
		}
	}
}

// applySettings takes over what can change without a restart.
func (h *hub) applySettings(path string, settings config.Settings, err error) {
	h.events.Publish(event.NewConfigEvent(path, err))
	if err != nil {
		return
	}
	if settings.Log.Level != h.logger.Level() {
		h.logger.SetLevel(settings.Log.Level)
		h.logger.Info("log level changed", map[string]string{"level": string(settings.Log.Level)})
	}
	if settings.Server.Port != h.settings.Server.Port || settings.Server.Token != h.settings.Server.Token {
		h.logger.Warn("server settings change needs a restart", nil)
	}
}

func runServe(ctx context.Context, opts serveOptions, output io.Writer) error {
	settings, err := loadSettings(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.Port > 0 {
		settings.Server.Port = opts.Port
	}

	shutdownOTel, err := otel.SetupSDK(ctx, otel.SDKOptions{
		Enabled:            settings.OTel.Enabled,
		HTTPEndpoint:       settings.OTel.Endpoint,
		ServiceName:        settings.OTel.ServiceName,
		ServiceVersion:     version.Get().Version,
		ResourceAttributes: otel.ParseResourceAttributes(settings.OTel.ResourceAttributes),
	})
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}

	h, err := buildHub(ctx, settings, output, metrics.Default)
	if err != nil {
		_ = shutdownOTel(context.Background())
		return err
	}

	listener := opts.Listener
	if listener == nil {
		listener, err = net.Listen("tcp", ":"+strconv.Itoa(settings.Server.Port))
		if err != nil {
			h.events.Close()
			_ = shutdownOTel(context.Background())
			return err
		}
	}
	server := &http.Server{
		Handler:           h.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	shutdown := newShutdownCoordinator(h.logger)
	shutdown.Add("http", server.Shutdown)
	shutdown.Add("machines", h.manager.Close)
	if h.kafka != nil {
		shutdown.Add("kafka", func(context.Context) error { return h.kafka.Close() })
	}
	shutdown.Add("events", func(context.Context) error {
		h.events.Close()
		return nil
	})
	shutdown.Add("otel", shutdownOTel)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		h.logger.Info("machinehub listening", map[string]string{"addr": listener.Addr().String()})
		if opts.Ready != nil {
			opts.Ready(listener.Addr().String())
		}
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		path := opts.ConfigPath
		if path == "" {
			<-groupCtx.Done()
			return nil
		}
		return config.Watch(groupCtx, config.WatchOptions{
			Path:   path,
			Logger: h.logger,
			Load: func() (config.Settings, error) {
				return loadSettings(path)
			},
			OnChange: func(settings config.Settings, err error) {
				h.applySettings(path, settings, err)
			},
		})
	})
	group.Go(func() error {
		h.autoconnect(groupCtx)
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(groupCtx), shutdownTimeout)
		defer cancel()
		return shutdown.Run(stopCtx)
	})
	return group.Wait()
}
