package source

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/feederwatch/classifier/internal/logger"
)

// GStreamerConfig configures a GStreamer-backed frame source.
type GStreamerConfig struct {
	// StreamURL is an optional RTSP source. Empty means local camera
	// via v4l2.
	StreamURL string
	// Device is the v4l2 device used when StreamURL is empty.
	Device string
	// Width and Height set the capture resolution (the "full" frame).
	Width  int
	Height int
	// InputWidth and InputHeight set the model input size the processed
	// frame is scaled to.
	InputWidth  int
	InputHeight int
}

// GStreamerSource captures frames through a GStreamer pipeline and
// delivers them decoded as RGB images.
//
// Pipeline (RTSP):  rtspsrc → rtph264depay → avdec_h264 → videoconvert →
// videoscale → capsfilter(RGB) → appsink
// Pipeline (local): v4l2src → videoconvert → videoscale →
// capsfilter(RGB) → appsink
type GStreamerSource struct {
	cfg GStreamerConfig
}

// rawFrame is the appsink callback's output: copied RGB pixels only,
// conversion to image.Image happens on the consumer side.
type rawFrame struct {
	data []byte
	ts   time.Time
}

// NewGStreamerSource validates the config; the pipeline itself is built
// in Run.
func NewGStreamerSource(cfg GStreamerConfig) (*GStreamerSource, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid capture resolution %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.InputWidth <= 0 || cfg.InputHeight <= 0 {
		return nil, fmt.Errorf("invalid model input size %dx%d", cfg.InputWidth, cfg.InputHeight)
	}
	if cfg.Device == "" {
		cfg.Device = "/dev/video0"
	}
	return &GStreamerSource{cfg: cfg}, nil
}

// Run builds and starts the pipeline, then delivers frames to cb until
// the context is cancelled or the pipeline fails. Frames arriving while
// cb is busy are dropped in the appsink callback.
func (g *GStreamerSource) Run(ctx context.Context, cb Callback) error {
	gst.Init(nil)

	pipeline, appsink, err := g.buildPipeline()
	if err != nil {
		return err
	}
	defer pipeline.SetState(gst.StateNull)

	// Capacity 1: the callback model is strictly serial, anything the
	// loop has not picked up yet is stale.
	frames := make(chan rawFrame, 1)

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			sample := sink.PullSample()
			if sample == nil {
				logger.Warn("Source", "Failed to pull sample, skipping frame")
				return gst.FlowOK
			}
			buffer := sample.GetBuffer()
			if buffer == nil {
				logger.Warn("Source", "Sample without buffer, skipping frame")
				return gst.FlowOK
			}

			mapInfo := buffer.Map(gst.MapRead)
			data := mapInfo.Bytes()
			if len(data) == 0 {
				buffer.Unmap()
				return gst.FlowOK
			}
			// Copy before unmap: GStreamer reuses the buffer.
			cp := make([]byte, len(data))
			copy(cp, data)
			buffer.Unmap()

			select {
			case frames <- rawFrame{data: cp, ts: time.Now()}:
			default:
				// Loop still busy with the previous frame.
			}
			return gst.FlowOK
		},
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	logger.Info("Source", "GStreamer pipeline playing (%dx%d RGB)", g.cfg.Width, g.cfg.Height)

	busErr := make(chan error, 1)
	go g.watchBus(ctx, pipeline, busErr)

	expected := g.cfg.Width * g.cfg.Height * 3
	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-busErr:
			return err
		case rf := <-frames:
			if len(rf.data) < expected {
				logger.Warn("Source", "Short frame: got %d bytes, want %d", len(rf.data), expected)
				continue
			}
			full := rgbToImage(rf.data, g.cfg.Width, g.cfg.Height)
			seq++
			cb(Frame{
				Processed: scaleRGBA(full, g.cfg.InputWidth, g.cfg.InputHeight),
				Full:      full,
				Seq:       seq,
				Timestamp: rf.ts,
				TraceID:   uuid.New().String(),
			})
		}
	}
}

func (g *GStreamerSource) buildPipeline() (*gst.Pipeline, *app.Sink, error) {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create videoscale: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsStr := fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d", g.cfg.Width, g.cfg.Height)
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsStr))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)

	if g.cfg.StreamURL != "" {
		rtspsrc, err := gst.NewElement("rtspsrc")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create rtspsrc: %w", err)
		}
		rtspsrc.SetProperty("location", g.cfg.StreamURL)
		rtspsrc.SetProperty("latency", 200)

		depay, err := gst.NewElement("rtph264depay")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create rtph264depay: %w", err)
		}
		decoder, err := gst.NewElement("avdec_h264")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create avdec_h264: %w", err)
		}

		pipeline.AddMany(rtspsrc, depay, decoder, converter, scaler, capsfilter, appsink.Element)
		if err := gst.ElementLinkMany(depay, decoder, converter, scaler, capsfilter, appsink.Element); err != nil {
			return nil, nil, fmt.Errorf("failed to link pipeline elements: %w", err)
		}

		// rtspsrc pads are dynamic: link to the depayloader when they
		// appear.
		rtspsrc.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
			sinkPad := depay.GetStaticPad("sink")
			if sinkPad == nil {
				logger.Error("Source", "No sink pad on depayloader")
				return
			}
			if ret := srcPad.Link(sinkPad); ret != gst.PadLinkOK {
				logger.Error("Source", "Failed to link rtspsrc pad: %v", ret)
			}
		})
	} else {
		src, err := gst.NewElement("v4l2src")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create v4l2src: %w", err)
		}
		src.SetProperty("device", g.cfg.Device)

		pipeline.AddMany(src, converter, scaler, capsfilter, appsink.Element)
		if err := gst.ElementLinkMany(src, converter, scaler, capsfilter, appsink.Element); err != nil {
			return nil, nil, fmt.Errorf("failed to link pipeline elements: %w", err)
		}
	}

	return pipeline, appsink, nil
}

// watchBus polls the pipeline bus and reports EOS or pipeline errors.
func (g *GStreamerSource) watchBus(ctx context.Context, pipeline *gst.Pipeline, out chan<- error) {
	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(100 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			out <- fmt.Errorf("end of stream")
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			out <- fmt.Errorf("pipeline error: %s", gerr.Error())
			return
		}
	}
}

// rgbToImage wraps packed RGB pixels into an image.RGBA.
func rgbToImage(data []byte, w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		src := y * w * 3
		dst := y * img.Stride
		for x := 0; x < w; x++ {
			img.Pix[dst] = data[src]
			img.Pix[dst+1] = data[src+1]
			img.Pix[dst+2] = data[src+2]
			img.Pix[dst+3] = 0xff
			src += 3
			dst += 4
		}
	}
	return img
}
