package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kwv/anchormesh/registry"
)

// App wires the registry components for one configuration.
type App struct {
	Config    *registry.Config
	Logger    *zap.Logger
	Session   *registry.Session
	Pipeline  *registry.Pipeline
	Renderer  *registry.OverviewRenderer
	MQTT      *registry.MQTTConnection
	Publisher *registry.Publisher

	closeStore func()
	kvCloser   io.Closer

	// detections tracks requests arriving over MQTT that are still being
	// processed; they may be waiting on a prompt.
	detections sync.WaitGroup
	baseCtx    context.Context

	// listening is closed once the HTTP listener is bound; addr is valid
	// after that.
	listening chan struct{}
	addr      string
}

// shutdownTimeout bounds draining the HTTP server and, separately, the final
// registry save.
const shutdownTimeout = 10 * time.Second

// NewApp builds the app. Without a broker the anchor store is in-memory and
// confirms every anchor immediately.
func NewApp(config *registry.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	kv, closer, err := openKV(config.Storage)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:   config,
		Logger:   logger,
		Renderer: registry.NewOverviewRenderer(),
		kvCloser:  closer,
		baseCtx:   context.Background(),
		listening: make(chan struct{}),
	}

	var store registry.AnchorStore
	if config.MQTT.Broker == "" {
		mem := registry.NewMemoryAnchorStore(true)
		store, a.closeStore = mem, mem.Close
	} else {
		conn, err := registry.NewMQTTConnection(config.MQTT, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		remote := registry.NewMQTTAnchorStore(conn.Client(), config.MQTT.TopicPrefix, logger)
		store, a.closeStore = remote, remote.Close
		a.MQTT = conn
		a.Publisher = registry.NewPublisher(conn.Client(), config.MQTT.TopicPrefix, logger)
		conn.AddSubscriber(remote.Subscribe)
	}

	engine := registry.NewEngine(store, logger)
	prompts := registry.NewPromptBoard(config.PromptTimeout, logger)
	a.Session = registry.NewSession(engine, prompts,
		registry.NewRegistryStore(kv, config.Storage.Key, logger), logger)
	a.Pipeline = registry.NewPipeline(engine, prompts, config.Conversion, logger).WithFitConfig(config.Fit)

	if a.Publisher != nil {
		engine.AddListener(a.Publisher.OnRecord)
		prompts.AddListener(a.Publisher.OnPrompt)
		a.MQTT.AddSubscriber(a.Publisher.ResolutionSubscriber(prompts))
		a.MQTT.AddSubscriber(a.Publisher.DetectionSubscriber(a.HandleDetection))
	}
	return a, nil
}

// openKV opens the configured durable backend. The closer is nil when the
// backend holds no resources.
func openKV(config registry.StorageConfig) (registry.KeyValueStore, io.Closer, error) {
	switch config.Driver {
	case registry.DriverFile:
		return registry.NewFileKV(config.Path), nil, nil
	case registry.DriverSQLite:
		kv, err := registry.OpenSQLiteKV(config.Path)
		if err != nil {
			return nil, nil, err
		}
		return kv, kv, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", config.Driver)
	}
}

// HandleDetection processes a detection in the background. Detections can
// wait on a prompt, so the MQTT delivery goroutine must not run them.
func (a *App) HandleDetection(req registry.DetectionRequest) {
	a.detections.Add(1)
	go func() {
		defer a.detections.Done()
		out, err := a.Pipeline.Process(a.baseCtx, req)
		if err != nil {
			a.Logger.Warn("detection failed", zap.Stringer("target", req.Target), zap.Error(err))
			return
		}
		a.Logger.Info("detection processed",
			zap.Bool("accepted", out.Accepted),
			zap.String("id", string(out.ID)),
			zap.Stringer("kind", out.Kind),
			zap.String("reason", string(out.Reason)))
	}()
}

// RunService loads the saved registry and serves until ctx ends, then
// abandons open prompts, saves the registry and stops.
func (a *App) RunService(ctx context.Context) error {
	a.Logger.Info("starting anchormesh service", zap.String("version", Version))

	if err := a.Session.Load(ctx); err != nil && !errors.Is(err, registry.ErrCorruptedRegistry) {
		return fmt.Errorf("loading registry: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Config.HTTP.Port),
		Handler:           newHTTPServer(a),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	a.addr = ln.Addr().String()
	close(a.listening)

	// The engine outlives the request context so the final save can run.
	engineCtx, stopEngine := context.WithCancel(context.WithoutCancel(ctx))
	defer stopEngine()
	a.baseCtx = engineCtx

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Session.Engine.Run(engineCtx)
	})

	if a.MQTT != nil {
		g.Go(func() error {
			if err := a.MQTT.Connect(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("mqtt: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		a.Logger.Info("http server listening", zap.String("addr", a.addr))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("shutting down service")
		return a.shutdown(srv, stopEngine)
	})

	return g.Wait()
}

func (a *App) shutdown(srv *http.Server, stopEngine context.CancelFunc) error {
	defer stopEngine()

	// Handlers and MQTT detections may be waiting on prompts; release them
	// so the server can drain.
	a.Session.Prompts.Close()

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelDrain()
	if err := srv.Shutdown(drainCtx); err != nil {
		a.Logger.Warn("http shutdown", zap.Error(err))
	}
	a.detections.Wait()

	saveCtx, cancelSave := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelSave()
	err := a.Session.Close(saveCtx)
	if err != nil {
		a.Logger.Error("saving registry", zap.Error(err))
	}
	if a.MQTT != nil {
		a.Publisher.Flush()
		a.MQTT.Disconnect()
	}
	a.Logger.Info("service stopped")
	return err
}

// Inspect prints the saved registry, one summary per line or as JSON.
func (a *App) Inspect(ctx context.Context, w io.Writer, asJSON bool) error {
	records, err := a.savedRecords(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	fmt.Fprintf(w, "%d saved record(s)\n", len(records))
	for _, r := range records {
		fmt.Fprintf(w, "  %s  %s\n", r.ID, r.Summary())
	}
	return nil
}

// Render writes an overview of the saved registry.
func (a *App) Render(ctx context.Context, w io.Writer, format string) error {
	records, err := a.savedRecords(ctx)
	if err != nil {
		return err
	}
	switch format {
	case "svg":
		return a.Renderer.RenderSVG(w, records)
	case "png":
		return a.Renderer.RenderPNG(w, records)
	default:
		return fmt.Errorf("invalid format %q: must be svg or png", format)
	}
}

func (a *App) savedRecords(ctx context.Context) ([]registry.Record, error) {
	saved, err := a.Session.Registry.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]registry.Record, 0, len(saved))
	for _, r := range saved {
		records = append(records, r)
	}
	registry.SortRecords(records)
	return records, nil
}

// Close releases the anchor store and the durable backend.
func (a *App) Close() error {
	if a.closeStore != nil {
		a.closeStore()
	}
	if a.kvCloser != nil {
		return a.kvCloser.Close()
	}
	return nil
}
