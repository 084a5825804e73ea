// Package gstsource reads a PipeWire node through an in-process GStreamer
// pipeline.
package gstsource

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/screen-recorder/screen-recorder/internal/capture/pipewire"
	"github.com/screen-recorder/screen-recorder/internal/logger"
)

// Source pulls samples from pipewiresrc through an appsink. The appsink is
// polled rather than driven by signals, so no Go callback runs on a
// GStreamer thread.
type Source struct {
	remote *os.File
	nodeID uint32

	pipeline *gst.Pipeline
	appsink  *app.Sink
	bus      *gst.Bus
}

// New creates a source for the node. remote may be nil.
func New(remote *os.File, stream pipewire.StreamInfo) (pipewire.Source, error) {
	return &Source{remote: remote, nodeID: stream.NodeID}, nil
}

// PipelineString builds the launch description for a node.
func PipelineString(fd int, nodeID uint32) string {
	src := fmt.Sprintf("pipewiresrc path=%d do-timestamp=true", nodeID)
	if fd >= 0 {
		src = fmt.Sprintf("pipewiresrc fd=%d path=%d do-timestamp=true", fd, nodeID)
	}
	return src + " ! " +
		"videoconvert ! " +
		"video/x-raw,format=BGRA ! " +
		"appsink name=sink emit-signals=false max-buffers=2 drop=false sync=false"
}

// Start builds the pipeline and sets it playing.
func (s *Source) Start() error {
	log := logger.WithComponent("gstreamer")

	gst.Init(nil)

	fd := -1
	if s.remote != nil {
		fd = int(s.remote.Fd())
	}
	pipelineStr := PipelineString(fd, s.nodeID)
	log.Debug().Str("pipeline", pipelineStr).Msg("Creating GStreamer pipeline")

	pipeline, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	sinkElement, err := pipeline.GetElementByName("sink")
	if err != nil {
		pipeline.Unref()
		return fmt.Errorf("failed to get appsink: %w", err)
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		pipeline.Unref()
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	s.pipeline = pipeline
	s.appsink = app.SinkFromElement(sinkElement)
	s.bus = pipeline.GetPipelineBus()

	log.Info().Uint32("node_id", s.nodeID).Msg("GStreamer pipeline started")
	return nil
}

// Pull waits for one sample and passes it, still mapped, to fn.
func (s *Source) Pull(timeout time.Duration, fn func(pipewire.Sample) error) (bool, error) {
	if s.appsink == nil {
		return false, errors.New("gstreamer: pipeline not started")
	}

	// Note: Don't call Unref() on the sample - go-gst handles this internally
	sample := s.appsink.TryPullSample(timeout)
	if sample == nil {
		if err := s.busError(); err != nil {
			return false, err
		}
		if s.appsink.IsEOS() {
			return false, pipewire.ErrEndOfStream
		}
		return false, nil
	}

	smp, buffer, err := describe(sample)
	if err != nil {
		return false, err
	}

	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return false, errors.New("gstreamer: failed to map buffer")
	}
	defer buffer.Unmap()

	smp.Data = mapInfo.Bytes()
	if smp.Height > 0 && len(smp.Data)/smp.Height > smp.Stride {
		smp.Stride = len(smp.Data) / smp.Height
	}
	return true, fn(smp)
}

// describe reads size and format from the sample's caps.
func describe(sample *gst.Sample) (pipewire.Sample, *gst.Buffer, error) {
	buffer := sample.GetBuffer()
	if buffer == nil {
		return pipewire.Sample{}, nil, errors.New("gstreamer: sample without buffer")
	}
	caps := sample.GetCaps()
	if caps == nil {
		return pipewire.Sample{}, nil, errors.New("gstreamer: sample without caps")
	}
	structure := caps.GetStructureAt(0)
	if structure == nil {
		return pipewire.Sample{}, nil, errors.New("gstreamer: empty caps")
	}

	width, _ := structure.GetValue("width")
	height, _ := structure.GetValue("height")
	w, ok := width.(int)
	if !ok {
		return pipewire.Sample{}, nil, fmt.Errorf("gstreamer: width has type %T", width)
	}
	h, ok := height.(int)
	if !ok {
		return pipewire.Sample{}, nil, fmt.Errorf("gstreamer: height has type %T", height)
	}

	format := pipewire.FormatBGRA
	if f, err := structure.GetValue("format"); err == nil {
		if name, ok := f.(string); ok && name != "" {
			format = pipewire.PixelFormat(name)
		}
	}

	return pipewire.Sample{Width: w, Height: h, Stride: w * 4, Format: format}, buffer, nil
}

// busError drains the bus and reports the first error or end-of-stream.
func (s *Source) busError() error {
	if s.bus == nil {
		return nil
	}
	for {
		msg := s.bus.Pop()
		if msg == nil {
			return nil
		}
		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			logger.WithComponent("gstreamer").Error().
				Str("debug", gerr.DebugString()).
				Msg(gerr.Error())
			return fmt.Errorf("gstreamer: %s", gerr.Error())
		case gst.MessageEOS:
			return pipewire.ErrEndOfStream
		}
	}
}

// Close stops the pipeline and drops the remote.
func (s *Source) Close() error {
	if s.pipeline != nil {
		s.pipeline.SetState(gst.StateNull)
		s.pipeline.Unref()
		s.pipeline = nil
		s.appsink = nil
		s.bus = nil
		logger.WithComponent("gstreamer").Info().Msg("GStreamer pipeline stopped")
	}
	return nil
}
