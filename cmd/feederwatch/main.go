package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/feederwatch/classifier/internal/classify"
	"github.com/feederwatch/classifier/internal/infer"
	"github.com/feederwatch/classifier/internal/labels"
	"github.com/feederwatch/classifier/internal/logger"
	"github.com/feederwatch/classifier/internal/metrics"
	"github.com/feederwatch/classifier/internal/notify"
	"github.com/feederwatch/classifier/internal/policy"
	"github.com/feederwatch/classifier/internal/source"
	"github.com/feederwatch/classifier/internal/storage"
)

// labelList is a repeatable flag collecting label strings.
type labelList []string

func (l *labelList) String() string { return strings.Join(*l, ";") }

func (l *labelList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

var (
	// Command-line flags
	modelURL      = flag.String("model", "http://127.0.0.1:8600", "Inference daemon base URL")
	labelPath     = flag.String("labels", "", "Label file path (required)")
	topK          = flag.Int("top-k", 3, "Number of classes with highest score to keep")
	threshold     = flag.Float64("threshold", 0.1, "Class score threshold for displayed results")
	storageDir    = flag.String("storage", "", "Directory to store images and results (required)")
	printResults  = flag.Bool("print", false, "Print inference results to terminal")
	trainingMode  = flag.Bool("training", false, "Training mode for image collection")
	streamURL     = flag.String("stream-url", "", "RTSP URL for an external camera source")
	device        = flag.String("device", "/dev/video0", "Local camera device (when no stream URL)")
	captureWidth  = flag.Int("capture-width", 1280, "Capture width in pixels")
	captureHeight = flag.Int("capture-height", 720, "Capture height in pixels")
	inputSize     = flag.Int("input-size", 224, "Model input edge size in pixels")
	frameDir      = flag.String("frame-dir", "", "Replay frames from a directory instead of a camera")
	frameInterval = flag.Duration("frame-interval", 500*time.Millisecond, "Replay interval between frames")
	pushoverUser  = flag.String("pushover-user", "", "Pushover user key for notifications")
	pushoverToken = flag.String("pushover-token", "", "Pushover API token for notifications")
	httpAddr      = flag.String("http", ":8081", "HTTP status server address")
	metricsAddr   = flag.String("metrics", ":9090", "Metrics server address")
	logLevel      = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor      = flag.Bool("log-color", true, "Enable colored log output")

	printIgnore  labelList
	actionIgnore labelList
)

func init() {
	flag.Var(&printIgnore, "print-ignore", "Background label suppressed from terminal output (repeatable)")
	flag.Var(&actionIgnore, "action-ignore", "Background label suppressed from persistence and alerting (repeatable)")
}

// App wires the decision loop to its collaborators.
type App struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics  *metrics.Metrics
	engine   classify.Engine
	labelMap map[int]string
	policy   *policy.Policy
	saver    *storage.Saver
	alerter  *notify.Alerter
	source   source.Source

	httpServer *http.Server
	startTime  time.Time
	lastFrame  time.Time
}

func main() {
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor)

	if *labelPath == "" {
		log.Fatal("A label file is required (-labels)")
	}
	if *storageDir == "" {
		log.Fatal("A storage directory is required (-storage)")
	}

	app, err := NewApp()
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	sourceDone := app.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Println("Shutting down...")
	case err := <-sourceDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Main", "Frame source stopped: %v", err)
		}
	}

	if err := app.Shutdown(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	log.Println("Stopped")
}

// NewApp validates the configuration and constructs all collaborators.
// Any failure here is fatal: the frame loop never starts against a
// half-wired system.
func NewApp() (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	logger.Info("Main", "Loading %s with %s labels", *modelURL, *labelPath)
	labelMap, err := labels.Load(*labelPath)
	if err != nil {
		cancel()
		return nil, err
	}

	engine := infer.NewClient(*modelURL, *topK)
	if err := engine.Ping(ctx); err != nil {
		cancel()
		return nil, err
	}

	saver, err := storage.NewSaver(*storageDir)
	if err != nil {
		cancel()
		return nil, err
	}

	var alerter *notify.Alerter
	if *pushoverUser != "" && *pushoverToken != "" {
		logger.Info("Main", "Initializing pushover")
		alerter, err = notify.NewAlerter(*pushoverUser, *pushoverToken)
		if err != nil {
			cancel()
			return nil, err
		}
	} else {
		logger.Info("Main", "Pushover credentials not configured, alerting disabled")
	}

	cfg := policy.DefaultConfig()
	cfg.TopK = *topK
	cfg.PrintEnabled = *printResults
	cfg.TrainingMode = *trainingMode
	cfg.AlertConfigured = alerter != nil
	if len(printIgnore) > 0 {
		cfg.PrintIgnore = printIgnore
	}
	if len(actionIgnore) > 0 {
		cfg.ActionIgnore = actionIgnore
	}

	src, err := newSource()
	if err != nil {
		cancel()
		return nil, err
	}

	app := &App{
		ctx:       ctx,
		cancel:    cancel,
		metrics:   metrics.New(),
		engine:    engine,
		labelMap:  labelMap,
		policy:    policy.New(cfg),
		saver:     saver,
		alerter:   alerter,
		source:    src,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	app.setupRoutes(mux)
	app.httpServer = &http.Server{Addr: *httpAddr, Handler: mux}

	return app, nil
}

func newSource() (source.Source, error) {
	if *frameDir != "" {
		return source.NewDirSource(*frameDir, *frameInterval, *inputSize, *inputSize, false)
	}
	return source.NewGStreamerSource(source.GStreamerConfig{
		StreamURL:   *streamURL,
		Device:      *device,
		Width:       *captureWidth,
		Height:      *captureHeight,
		InputWidth:  *inputSize,
		InputHeight: *inputSize,
	})
}

// Start launches the HTTP servers and the frame loop. The returned
// channel reports when the frame source stops.
func (a *App) Start() <-chan error {
	logger.Info("Main", "Storage: %s", a.saver.Dir())
	logger.Info("Main", "HTTP server: %s", *httpAddr)
	logger.Info("Main", "Metrics server: %s", *metricsAddr)
	if *trainingMode {
		logger.Info("Main", "Training mode enabled")
	}

	go func() {
		if err := a.metrics.StartServer(*metricsAddr); err != nil {
			logger.Error("Main", "Metrics server error: %v", err)
		}
	}()

	go func() {
		if err := a.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	done := make(chan error, 1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		done <- a.source.Run(a.ctx, a.handleFrame)
	}()
	return done
}

// handleFrame is the per-frame decision loop: classify, interpret,
// evaluate the policy, execute the resulting effects. Frames are
// delivered strictly one at a time, so no locking is needed here.
func (a *App) handleFrame(frame source.Frame) {
	a.metrics.FramesReceived.Add(1)
	if !a.lastFrame.IsZero() {
		a.metrics.UpdateFrameInterval(frame.Timestamp.Sub(a.lastFrame))
	}
	a.lastFrame = frame.Timestamp

	start := time.Now()
	raw, err := a.engine.Invoke(a.ctx, frame.Processed)
	latency := time.Since(start)
	now := time.Now()

	if err != nil {
		a.metrics.InferenceErrors.Add(1)
		logger.Warn("Classify", "Inference failed (frame %d, trace %s): %v", frame.Seq, frame.TraceID, err)
		a.policy.Evaluate(nil, latency, now)
		return
	}

	result, err := classify.Interpret(raw, a.labelMap, *topK)
	if err != nil {
		a.metrics.InferenceErrors.Add(1)
		logger.Warn("Classify", "Uninterpretable result (frame %d): %v", frame.Seq, err)
		a.policy.Evaluate(nil, latency, now)
		return
	}

	a.metrics.FramesClassified.Add(1)
	a.metrics.UpdateInferenceLatency(latency)
	if len(result) > 0 {
		a.metrics.UpdateLastScore(result[0].Score)
	}

	effects := a.policy.Evaluate(result, latency, now)
	if len(effects) == 0 {
		a.metrics.FramesSkipped.Add(1)
		return
	}

	for _, e := range effects {
		switch e.Kind {
		case policy.EffectPrint:
			a.printResult(frame, e)
		case policy.EffectPersist:
			a.persistFrame(frame, e, storage.SampleEvent)
		case policy.EffectAlert:
			a.sendAlert(frame, e)
		case policy.EffectMarkTraining:
			logger.Info("Policy", "Difference detected, collecting frame %d for training", frame.Seq)
			a.persistFrame(frame, e, storage.SampleTraining)
		}
	}
}

func (a *App) printResult(frame source.Frame, e policy.Effect) {
	fmt.Printf("\nInference: %.2f ms, FPS: %.2f fps\n",
		float64(e.InferenceLatency.Microseconds())/1000, e.FPS)
	for _, c := range classify.FilterScores(e.Result, *threshold) {
		fmt.Printf(" %s, score=%.2f\n", c.Label, c.Score)
	}
	logger.Debug("Classify", "Trace: %s Results: %v", frame.TraceID, e.Result)
	a.metrics.EventsPrinted.Add(1)
}

func (a *App) persistFrame(frame source.Frame, e policy.Effect, kind storage.SampleKind) {
	path, err := a.saver.Save(frame.Full, e.Result, kind)
	if err != nil {
		// Not retried: the cool-down timer has already advanced, so a
		// failing disk cannot cause a write storm.
		a.metrics.StorageErrors.Add(1)
		logger.Error("Storage", "Failed to save frame %d: %v", frame.Seq, err)
		return
	}
	logger.Info("Storage", "Frame saved as: %s", path)
	if kind == storage.SampleTraining {
		a.metrics.TrainingSamples.Add(1)
	} else {
		a.metrics.ImagesPersisted.Add(1)
	}
}

func (a *App) sendAlert(frame source.Frame, e policy.Effect) {
	logger.Info("Notify", "Sending alert for %q", e.Top.Label)
	if err := a.alerter.Send(frame.Processed, e.Top.Label); err != nil {
		a.metrics.NotifyErrors.Add(1)
		logger.Error("Notify", "%v", err)
		return
	}
	a.metrics.AlertsSent.Add(1)
}

// setupRoutes sets up HTTP routes
func (a *App) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", a.handleHealth)
	mux.HandleFunc("/status", a.handleStatus)
}

// handleHealth handles health check
func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":           "ok",
		"training":         *trainingMode,
		"alerting":         a.alerter != nil,
		"frames_received":  a.metrics.FramesReceived.Load(),
		"images_persisted": a.metrics.ImagesPersisted.Load(),
	})
}

// handleStatus handles status request
func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := a.policy.Status()
	json.NewEncoder(w).Encode(map[string]interface{}{
		"uptime_seconds":   int(time.Since(a.startTime).Seconds()),
		"policy":           status,
		"frames_saved":     a.saver.Saved(),
		"frames_received":  a.metrics.FramesReceived.Load(),
		"frames_skipped":   a.metrics.FramesSkipped.Load(),
		"alerts_sent":      a.metrics.AlertsSent.Load(),
		"training_samples": a.metrics.TrainingSamples.Load(),
		"inference_errors": a.metrics.InferenceErrors.Load(),
	})
}

// Shutdown gracefully stops the loop and the servers.
func (a *App) Shutdown() error {
	a.cancel()
	a.wg.Wait()

	if err := a.saver.Close(); err != nil {
		logger.Error("Storage", "Close: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.httpServer.Shutdown(ctx)
}
