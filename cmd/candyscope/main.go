package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/image/font/basicfont"

	"candyscope/internal/analysis"
	"candyscope/internal/annotate"
	"candyscope/internal/camera"
	"candyscope/internal/codec"
	"candyscope/internal/config"
	"candyscope/internal/detection"
	"candyscope/internal/live"
	"candyscope/internal/logging"
	"candyscope/internal/nutrition"
	"candyscope/internal/pipeline"
	"candyscope/internal/report"
	"candyscope/internal/server"
	"candyscope/internal/services"
	"candyscope/internal/stream"
	"candyscope/internal/ws"
)

const (
	flagImage    = "image"
	flagOut      = "out"
	flagJSON     = "json"
	flagSource   = "source"
	flagDuration = "duration"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	app := &cli.App{
		Name:  "candyscope",
		Usage: "count candies in images and camera feeds and estimate their calories",
		Flags: config.Flags(),
		Commands: []*cli.Command{
			{
				Name:      "analyze",
				Usage:     "analyze one image, a folder of images, or one frame of a camera",
				UsageText: "candyscope analyze --image PATH|DIR [--out FILE|DIR] [--json]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagImage, Aliases: []string{"i"}, Required: true, Usage: "image file, folder or source"},
					&cli.StringFlag{Name: flagOut, Aliases: []string{"o"}, Usage: "write the annotated image to `FILE` (a directory for folders)"},
					&cli.BoolFlag{Name: flagJSON, Usage: "print JSON instead of tables"},
				},
				Action: analyzeAction,
			},
			{
				Name:      "live",
				Usage:     "analyze a camera or stream periodically until interrupted",
				UsageText: "candyscope live --source usb0|/dev/videoN|rtsp://...|FILE [--duration D] [--out FILE]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagSource, Aliases: []string{"s"}, Required: true, Usage: "live source"},
					&cli.DurationFlag{Name: flagDuration, Usage: "stop after this long, 0 runs until interrupted"},
					&cli.StringFlag{Name: flagOut, Aliases: []string{"o"}, Usage: "write the last annotated frame to `FILE` on exit"},
				},
				Action: liveAction,
			},
			{
				Name:   "serve",
				Usage:  "serve the HTTP API and live views",
				Action: serveAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// components are shared by every command
type components struct {
	cfg       *config.Config
	logger    *zap.SugaredLogger
	store     *nutrition.Store
	client    *detection.Client
	chain     *analysis.Chain
	annotator *annotate.Annotator
	phases    *pipeline.PhaseTracker
	analyzer  *analysis.Analyzer
	closeLog  func()
}

func setup(c *cli.Context) (*components, error) {
	cfg, err := config.FromContext(c)
	if err != nil {
		return nil, err
	}

	logger, closeLog := logging.New(logging.Options{
		Debug:     cfg.Debug,
		File:      cfg.LogFile,
		MaxSizeMB: cfg.LogMaxSizeMB,
	})

	store, err := nutrition.LoadStore(cfg.NutritionFile, logger.Named("nutrition"))
	if err != nil {
		closeLog()
		return nil, err
	}

	var annotator *annotate.Annotator
	if cfg.LabelFont == config.FontBasic {
		annotator = annotate.NewAnnotatorWithFace(basicfont.Face7x13)
	} else if annotator, err = annotate.NewAnnotator(); err != nil {
		closeLog()
		return nil, err
	}

	client := detection.NewClient(detection.Config{
		Endpoint:      cfg.DetectorURL,
		Timeout:       time.Duration(cfg.RequestTimeout),
		MinConfidence: cfg.MinConfidence,
	}, logger)
	chain := analysis.NewChain(codec.NewEncoder(), client, store, logger.Named("chain"))
	phases := pipeline.NewPhaseTracker()
	analyzer := analysis.NewAnalyzer(chain, annotator, analysis.AnalyzerOptions{
		Quality:      cfg.SingleShotQuality,
		SummaryPanel: cfg.SummaryPanel,
		Phases:       phases,
		Logger:       logger,
	})

	return &components{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		client:    client,
		chain:     chain,
		annotator: annotator,
		phases:    phases,
		analyzer:  analyzer,
		closeLog:  closeLog,
	}, nil
}

func (app *components) cameraOptions() camera.Options {
	w, h := app.cfg.ResolutionSize()
	return camera.Options{Width: w, Height: h, Logger: app.logger.Named("camera")}
}

func (app *components) openSource(source string) (pipeline.FrameSource, error) {
	return camera.Open(source, app.cameraOptions())
}

func (app *components) newLoop(opts ...live.Option) *live.Loop {
	cfg := live.Config{
		Interval:        time.Duration(app.cfg.Interval),
		RefreshInterval: time.Duration(app.cfg.RefreshInterval),
		Quality:         app.cfg.LiveQuality,
		MediaType:       pipeline.MediaTypeJPEG,
		MaxInFlight:     int64(app.cfg.MaxInFlight),
		DiscardStale:    app.cfg.DiscardStale,
		SummaryPanel:    app.cfg.SummaryPanel,
	}
	opts = append([]live.Option{live.WithLogger(app.logger)}, opts...)
	return live.NewLoop(cfg, app.chain, app.annotator, annotate.NewSurface(0, 0), opts...)
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func analyzeAction(c *cli.Context) error {
	app, err := setup(c)
	if err != nil {
		return err
	}
	defer app.closeLog()

	ctx, cancel := signalContext()
	defer cancel()

	target := c.String(flagImage)
	if info, statErr := os.Stat(target); statErr == nil && info.IsDir() {
		return analyzeFolder(ctx, c, app, target)
	}

	src, err := app.openSource(target)
	if err != nil {
		return err
	}
	res, err := app.analyzer.Analyze(ctx, src)
	if err != nil {
		return errors.Wrapf(err, "analyze %s (%s)", target, pipeline.Kind(err))
	}

	if c.Bool(flagJSON) {
		if err := printJSON(res); err != nil {
			return err
		}
	} else {
		fmt.Println(report.Analysis(res))
	}
	if out := c.String(flagOut); out != "" {
		return writePNG(out, res.Overlay)
	}
	return nil
}

func analyzeFolder(ctx context.Context, c *cli.Context, app *components, dir string) error {
	items, err := app.analyzer.AnalyzeFolder(ctx, dir, app.cfg.FolderConcurrency)
	if err != nil {
		return err
	}

	if c.Bool(flagJSON) {
		if err := printJSON(items); err != nil {
			return err
		}
	} else {
		fmt.Println(report.Folder(items))
	}

	out := c.String(flagOut)
	if out == "" {
		return nil
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		return err
	}
	var errs error
	for _, item := range items {
		if item.Analysis == nil {
			continue
		}
		name := strings.TrimSuffix(filepath.Base(item.Path), filepath.Ext(item.Path)) + ".png"
		errs = multierr.Append(errs, writePNG(filepath.Join(out, name), item.Analysis.Overlay))
	}
	return errs
}

func liveAction(c *cli.Context) error {
	app, err := setup(c)
	if err != nil {
		return err
	}
	defer app.closeLog()

	if app.cfg.NutritionFile != "" {
		watchCtx, stopWatch := context.WithCancel(context.Background())
		defer stopWatch()
		if err := app.store.Watch(watchCtx); err != nil {
			app.logger.Warnw("nutrition hot reload disabled", "error", err)
		}
	}

	src, err := app.openSource(c.String(flagSource))
	if err != nil {
		return err
	}

	bus := pipeline.NewEventBus()
	defer bus.Close()
	ticks, unsubscribe := bus.SubscribeChannel(32)
	logged := make(chan struct{})
	go func() {
		defer close(logged)
		for r := range ticks {
			app.logger.Infow("tick",
				"seq", r.Seq,
				"candies", r.Aggregate.TotalCount,
				"calories", r.Aggregate.TotalCalories,
				"sugar_g", r.Aggregate.TotalSugar,
				"risk", r.Aggregate.RiskLevel,
				"latency", r.Latency,
			)
		}
	}()

	loop := app.newLoop(live.WithResultHandler(bus))

	ctx, cancel := signalContext()
	defer cancel()
	if d := c.Duration(flagDuration); d > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, d)
		defer cancelTimeout()
	}

	if _, err := loop.Start(ctx, src); err != nil {
		unsubscribe()
		return err
	}
	if err := app.phases.Transition(pipeline.PhaseLive); err != nil {
		unsubscribe()
		return multierr.Append(err, loop.Stop())
	}
	<-ctx.Done()

	var errs error
	if out := c.String(flagOut); out != "" {
		previewCtx, cancelPreview := context.WithTimeout(context.Background(), 5*time.Second)
		img, err := loop.Preview(previewCtx)
		cancelPreview()
		if err != nil {
			errs = multierr.Append(errs, errors.Wrap(err, "capture final frame"))
		} else {
			errs = multierr.Append(errs, writePNG(out, img))
		}
	}

	status := loop.Status()
	errs = multierr.Append(errs, loop.Stop())
	_ = app.phases.Transition(pipeline.PhaseIdle)
	loop.WaitIdle()
	unsubscribe()
	<-logged

	fmt.Println(report.Status(status))
	return errs
}

func serveAction(c *cli.Context) error {
	app, err := setup(c)
	if err != nil {
		return err
	}
	defer app.closeLog()

	hub := ws.NewHub(app.logger)
	defer hub.Close()
	mjpeg := stream.NewBroadcaster(app.cfg.StreamFPS, codec.JPEGQuality(app.cfg.LiveQuality), app.logger)

	bus := pipeline.NewEventBus()
	defer bus.Close()
	bus.Subscribe(hub)

	var loop *live.Loop
	preview := func(ctx context.Context) (*image.RGBA, error) { return loop.Preview(ctx) }
	loop = app.newLoop(
		live.WithResultHandler(bus),
		live.WithRefreshHook(mjpeg.RefreshHook(preview)),
	)

	svcs := server.Services{
		Health:   services.NewHealthService(app.cfg.DetectorURL),
		Analysis: services.NewAnalysisService(app.analyzer, app.logger),
		Live:     services.NewLiveService(loop, app.phases, app.openSource, hub, mjpeg, app.logger),
		System:   services.NewSystemService(app.phases, loop, hub),
		Config:   services.NewConfigService(app.cfg, app.store, app.logger),
		Stream:   mjpeg,
		Snapshot: stream.NewSnapshotHandler(mjpeg),
		Push:     ws.NewHandler(hub),
	}

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop the server.
	errc := make(chan error)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-sig)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	if app.cfg.NutritionFile != "" {
		if err := app.store.Watch(ctx); err != nil {
			app.logger.Warnw("nutrition hot reload disabled", "error", err)
		}
	}

	handleHTTPServer(ctx, app.cfg.Addr, svcs, &wg, errc, app.logger, app.cfg.Debug)

	// Wait for signal.
	app.logger.Infof("exiting (%v)", <-errc)

	// Send cancellation signal to the goroutines.
	cancel()
	err = loop.Stop()

	wg.Wait()
	app.logger.Info("exited")
	return err
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writePNG(path string, img image.Image) error {
	if img == nil {
		return errors.Errorf("no image to write to %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		return multierr.Append(err, f.Close())
	}
	return f.Close()
}
