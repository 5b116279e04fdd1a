package capture

import (
	"fmt"
	"image"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/deskcast/deskcast/internal/logger"
)

// pipewireDuplicator captures a PipeWire screencast node through a GStreamer
// pipeline. The appsink is the duplication interface (TryPullSample is the
// bounded wait) and an owned byte slice acts as the staging surface: the
// sample buffer is copied into it device-side of the session, then the
// session reads it out like any other mapped staging memory.
type pipewireDuplicator struct {
	pipeline *gst.Pipeline
	sink     *app.Sink
	width    int
	height   int
	staged   []byte
}

// NewPipeWireDuplicator builds and starts a
// pipewiresrc -> videoconvert -> BGRx -> appsink pipeline for the given
// node. The node id comes from configuration; portal negotiation is the
// host's problem.
func NewPipeWireDuplicator(nodeID uint32, width, height int) (Duplicator, error) {
	gst.Init(nil)

	// emit-signals=false with polling pulls avoids CGO callback
	// re-entrancy; drop=true keeps the sink from backing up the source.
	pipelineStr := fmt.Sprintf(
		"pipewiresrc path=%d do-timestamp=true ! "+
			"videoconvert ! "+
			"video/x-raw,format=BGRx,width=%d,height=%d ! "+
			"appsink name=sink emit-signals=false max-buffers=2 drop=true",
		nodeID, width, height,
	)

	pipeline, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		return nil, fmt.Errorf("creating pipeline: %w", err)
	}

	sinkElement, err := pipeline.GetElementByName("sink")
	if err != nil {
		pipeline.Unref()
		return nil, fmt.Errorf("locating appsink: %w", err)
	}

	d := &pipewireDuplicator{
		pipeline: pipeline,
		sink:     app.SinkFromElement(sinkElement),
		width:    width,
		height:   height,
		staged:   make([]byte, width*height*4),
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.Unref()
		return nil, fmt.Errorf("starting pipeline: %w", err)
	}

	logger.WithComponent("pipewire").Info().
		Uint32("node_id", nodeID).
		Int("width", width).
		Int("height", height).
		Msg("PipeWire duplicator ready")
	return d, nil
}

func (d *pipewireDuplicator) Bounds() image.Rectangle {
	return image.Rect(0, 0, d.width, d.height)
}

func (d *pipewireDuplicator) AcquireFrame(timeout time.Duration) (AcquiredFrame, error) {
	if d.sink.IsEOS() {
		return nil, fmt.Errorf("%w: pipeline reached end of stream", ErrDeviceLost)
	}
	sample := d.sink.TryPullSample(timeout)
	if sample == nil {
		if d.sink.IsEOS() {
			return nil, fmt.Errorf("%w: pipeline reached end of stream", ErrDeviceLost)
		}
		return nil, ErrTimeout
	}
	return &pipewireFrame{d: d, sample: sample}, nil
}

func (d *pipewireDuplicator) MapStaging() ([]byte, int, error) {
	return d.staged, d.width * 4, nil
}

func (d *pipewireDuplicator) UnmapStaging() {}

func (d *pipewireDuplicator) Close() error {
	if d.pipeline != nil {
		if err := d.pipeline.SetState(gst.StateNull); err != nil {
			logger.WithComponent("pipewire").Warn().Err(err).Msg("stopping pipeline")
		}
		d.pipeline.Unref()
		d.pipeline = nil
	}
	return nil
}

// pipewireFrame wraps one pulled sample until it has been staged.
type pipewireFrame struct {
	d      *pipewireDuplicator
	sample *gst.Sample
}

func (f *pipewireFrame) CopyToStaging() error {
	buffer := f.sample.GetBuffer()
	if buffer == nil {
		return fmt.Errorf("sample carries no buffer")
	}
	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return fmt.Errorf("mapping sample buffer")
	}
	defer buffer.Unmap()

	data := mapInfo.Bytes()
	if len(data) < len(f.d.staged) {
		return fmt.Errorf("sample %d bytes, staging needs %d", len(data), len(f.d.staged))
	}
	copy(f.d.staged, data[:len(f.d.staged)])
	return nil
}

// Release drops the sample reference; go-gst reclaims it internally.
func (f *pipewireFrame) Release() {
	f.sample = nil
}
