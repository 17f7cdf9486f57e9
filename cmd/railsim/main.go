package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/yohamta/donburi"
	"golang.org/x/time/rate"

	"github.com/hcsp/railsim/internal/active"
	"github.com/hcsp/railsim/internal/camera"
	"github.com/hcsp/railsim/internal/components"
	"github.com/hcsp/railsim/internal/config"
	"github.com/hcsp/railsim/internal/gravity"
	"github.com/hcsp/railsim/internal/logging"
	intOtel "github.com/hcsp/railsim/internal/otel"
	"github.com/hcsp/railsim/internal/physics"
	"github.com/hcsp/railsim/internal/sim"
)

// BuildDate can be set at build time via ldflags
var (
	Version   string = "0.0.1"
	BuildDate string = "unknown"

	AppName string = "railsim"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "railsim:", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (string, error) {
	flags := pflag.NewFlagSet(AppName, pflag.ContinueOnError)
	configDir := flags.StringP("config", "c", ".", "directory containing "+config.FileName)
	flags.Int("ticks", 0, "number of ticks to run")
	flags.Float64("tick-rate", 0, "fixed update rate in hertz")
	flags.Bool("realtime", false, "pace ticks to the wall clock")
	flags.String("log-level", "", "debug, info, warn or error")
	flags.String("log-format", "", "text or json")
	flags.String("logs-dir", "", "directory for log files; empty logs to stdout")
	flags.String("gravity-mode", "", "velocity or force")
	flags.String("physics-engine", "", "reference or box2d")

	if err := flags.Parse(args); err != nil {
		return "", err
	}

	bindings := map[string]string{
		"sim.ticks":      "ticks",
		"sim.tickRate":   "tick-rate",
		"sim.realtime":   "realtime",
		"logLevel":       "log-level",
		"logFormat":      "log-format",
		"logsDir":        "logs-dir",
		"gravity.mode":   "gravity-mode",
		"physics.engine": "physics-engine",
	}
	for key, name := range bindings {
		if f := flags.Lookup(name); f.Changed {
			if err := viper.BindPFlag(key, f); err != nil {
				return "", fmt.Errorf("binding flag %s: %w", name, err)
			}
		}
	}
	return *configDir, nil
}

func run(args []string) error {
	sessionStart := time.Now()

	configDir, err := parseFlags(args)
	if err != nil {
		return err
	}
	if err := config.Load(configDir); err != nil {
		return err
	}
	simCfg := config.Simulation()

	var logOut io.Writer
	if dir := config.GetString("logsDir"); dir != "" {
		f, err := logging.OpenLogFile(dir, AppName, sessionStart)
		if err != nil {
			return err
		}
		defer f.Close()
		logOut = f
	}

	otelCfg := config.OTel()
	var otelLogs io.Writer
	if dir := config.GetString("logsDir"); otelCfg.Enabled && otelCfg.Logs && dir != "" {
		f, err := logging.OpenLogFile(dir, AppName+"-otel", sessionStart)
		if err != nil {
			return err
		}
		defer f.Close()
		otelLogs = f
	}
	provider, err := intOtel.New(intOtel.Config{
		Enabled:        otelCfg.Enabled,
		ServiceName:    otelCfg.ServiceName,
		ExportInterval: otelCfg.ExportInterval,
		LogWriter:      otelLogs,
		Endpoint:       otelCfg.Endpoint,
		Insecure:       otelCfg.Insecure,
	})
	if err != nil {
		return fmt.Errorf("setting up OTel: %w", err)
	}

	var tick atomic.Uint64
	slogManager := logging.NewSlogManager(func() []slog.Attr {
		return []slog.Attr{slog.Uint64("tick", tick.Load())}
	})

	var extra []slog.Handler
	if config.GetBool("graylog.enabled") {
		h, closer, err := logging.NewGraylogHandler(config.GetString("graylog.address"), config.GetString("logLevel"))
		if err != nil {
			fmt.Fprintln(os.Stderr, "railsim: graylog disabled:", err)
		} else {
			defer closer.Close()
			extra = append(extra, h)
		}
	}
	extra = append(extra, logging.NewOTelHandler(otelCfg.ServiceName, config.GetString("logLevel"), provider.LoggerProvider()))
	slogManager.Setup(logOut, config.GetString("logLevel"), config.GetString("logFormat"), extra...)
	logger := slogManager.Logger()
	logger.Info("Starting up", "version", Version, "buildDate", BuildDate, "configDir", configDir)

	zlOut := io.Writer(os.Stdout)
	if logOut != nil {
		zlOut = logOut
	}
	zl := logging.NewZerolog(zlOut, config.GetString("logLevel"), config.GetString("logFormat"))

	// the pipeline logs through slog unless zerolog is asked for
	var pipelineLogger sim.Logger = logger
	if strings.EqualFold(config.GetString("logBackend"), "zerolog") {
		pipelineLogger = logging.NewZerologLogger(zl)
	}

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			logger.Warn("OTel shutdown failed", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sinks := setupSinks(ctx, sinkConfig{
		Influx:     config.Influx(),
		Prometheus: config.Prometheus(),
		Stream:     config.Stream(),
		TickRate:   simCfg.TickRate,
		Epoch:      sessionStart.UTC(),
	}, provider.MeterProvider(), zl, logger)
	defer func() {
		if err := sinks.Close(); err != nil {
			logger.Warn("Closing telemetry failed", "error", err)
		}
	}()

	mode, err := gravity.ParseMode(simCfg.GravityMode)
	if err != nil {
		return err
	}
	gravCfg := gravity.Config{Mode: mode, G: gravity.G, MinDistanceSquared: simCfg.MinDistanceSquared}

	engine, err := physics.New(simCfg.PhysicsEngine, float32(simCfg.ContactTolerance))
	if err != nil {
		return err
	}

	w := donburi.NewWorld()
	demo, err := buildScene(w, gravCfg.G)
	if err != nil {
		return err
	}

	tracker := active.NewTracker(pipelineLogger)
	if err := tracker.Switch(w, demo.Shuttle); err != nil {
		return err
	}
	cam := camera.New(camera.Attached(demo.Shuttle, components.RootPosition.GetValue(w.Entry(demo.Shuttle)), mgl64.Vec2{}))
	if simCfg.ZoomSpeed > 0 {
		cam.ZoomSpeed = simCfg.ZoomSpeed
	}

	s, err := sim.New(sim.Dependencies{
		World:         w,
		Engine:        engine,
		Active:        tracker,
		Camera:        cam,
		Sink:          sinks.Sink,
		Logger:        pipelineLogger,
		MeterProvider: provider.MeterProvider(),
		Config: sim.Config{
			TickRate: simCfg.TickRate,
			Gravity:  gravCfg,
			Epoch:    sessionStart.UTC(),
		},
	})
	if err != nil {
		return err
	}

	tickRate := simCfg.TickRate
	if tickRate <= 0 {
		tickRate = sim.DefaultTickRate
	}

	logger.Info("Running", "ticks", simCfg.Ticks, "tickRate", tickRate, "realtime", simCfg.Realtime, "gravity", mode.String(), "physics", simCfg.PhysicsEngine)

	var pace *rate.Limiter
	if simCfg.Realtime {
		pace = rate.NewLimiter(rate.Limit(tickRate), 1)
	}

	perSecond := uint64(max(tickRate, 1))
	for i := 0; i < simCfg.Ticks; i++ {
		if pace != nil {
			if err := pace.Wait(ctx); err != nil {
				logger.Info("Interrupted", "tick", tick.Load())
				break
			}
		}
		rep, err := s.Step(ctx)
		if errors.Is(err, context.Canceled) {
			logger.Info("Interrupted", "tick", tick.Load())
			break
		}
		if err != nil {
			return err
		}
		tick.Store(rep.Clock.Tick)
		if rep.Clock.Tick%perSecond == 0 {
			logStates(logger, w, demo)
		}
	}
	if err := sinks.Sink.Flush(); err != nil {
		logger.Warn("Telemetry flush failed", "error", err)
	}

	logStates(logger, w, demo)
	if last, ok := sinks.Memory.Last(); ok {
		logger.Info("Finished",
			"ticks", last.Tick,
			"elapsed", last.Elapsed,
			"lastTickDuration", last.Duration,
			"wall", time.Since(sessionStart).Round(time.Millisecond))
	}
	return nil
}

// logStates logs every vessel's and body's root state vector and rail mode.
func logStates(logger *slog.Logger, w donburi.World, demo demoScene) {
	for _, e := range []donburi.Entity{demo.Shuttle, demo.Satellite, demo.Moon, demo.Lander} {
		if !w.Valid(e) {
			continue
		}
		entry := w.Entry(e)
		pos := components.RootPosition.GetValue(entry)
		vel := components.RootVelocity.GetValue(entry)
		logger.Info("State",
			"entity", components.NameOf(entry),
			"x", pos[0], "y", pos[1],
			"vx", vel[0], "vy", vel[1],
			"rail", components.RailModeOf(entry).String())
	}
}
