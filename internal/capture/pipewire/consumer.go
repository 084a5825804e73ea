package pipewire

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/screen-recorder/screen-recorder/internal/capture"
	"github.com/screen-recorder/screen-recorder/internal/capture/geometry"
	"github.com/screen-recorder/screen-recorder/internal/logger"
)

// DefaultPollTimeout is how long one Pull may wait before the worker checks
// for a stop request.
const DefaultPollTimeout = 20 * time.Millisecond

// ConsumerConfig describes one stream subscription.
type ConsumerConfig struct {
	Source Source
	Stream *capture.FrameStream
	// Region crops every frame. Nil delivers the full frame.
	Region *capture.CaptureRegion
	// FollowResize lets the frame size change mid-stream (window capture).
	// Otherwise a size change ends the stream with ErrStreamDisconnected.
	FollowResize bool
	PollTimeout  time.Duration
	// Release runs after the source is closed, e.g. to close the portal
	// session that owns the node.
	Release func() error
}

// Consumer pulls samples on a dedicated OS thread, converts them to BGRA
// frames and pushes them into a FrameStream.
type Consumer struct {
	cfg ConsumerConfig

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	releaseOnce sync.Once
	releaseErr  error

	// worker-owned
	seq    uint64
	width  int
	height int
	region *capture.CaptureRegion
}

// StartConsumer starts the worker and waits until the source is connected.
// On error the source and Release have already run, nothing is left
// running and the stream is untouched.
func StartConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if cfg.Source == nil || cfg.Stream == nil {
		return nil, errors.New("consumer: source and stream are required")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}

	c := &Consumer{
		cfg:  cfg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if cfg.Region != nil {
		r := *cfg.Region
		c.region = &r
	}

	started := make(chan error, 1)
	go c.run(started)

	if err := <-started; err != nil {
		<-c.done
		return nil, capture.NewError(capture.KindStreamDisconnected, "start stream", err)
	}
	return c, nil
}

func (c *Consumer) run(started chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(c.done)

	log := logger.WithComponent("stream-consumer")

	if err := c.cfg.Source.Start(); err != nil {
		c.release()
		started <- err
		return
	}
	started <- nil
	log.Debug().Msg("Stream consumer started")

	for {
		select {
		case <-c.stop:
			err := c.release()
			log.Debug().Uint64("frames", c.seq).Uint64("dropped", c.cfg.Stream.Dropped()).Msg("Stream consumer stopped")
			if err != nil {
				log.Warn().Err(err).Msg("Releasing stream failed")
			}
			return
		default:
		}

		if _, err := c.cfg.Source.Pull(c.cfg.PollTimeout, c.deliver); err != nil {
			terminal := terminalError(err)
			log.Warn().Err(terminal).Uint64("frames", c.seq).Msg("Stream ended")
			c.release()
			c.cfg.Stream.Close(terminal)
			return
		}
	}
}

// deliver turns one sample into a uniform frame.
func (c *Consumer) deliver(s Sample) error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("sample has empty size %dx%d", s.Width, s.Height)
	}
	if c.width == 0 {
		if err := c.lockSize(s.Width, s.Height); err != nil {
			return err
		}
	} else if s.Width != c.width || s.Height != c.height {
		if !c.cfg.FollowResize {
			return capture.NewError(capture.KindStreamDisconnected,
				fmt.Sprintf("resolution changed from %dx%d to %dx%d", c.width, c.height, s.Width, s.Height), nil)
		}
		c.width, c.height = s.Width, s.Height
	}

	convert, err := s.Format.Converter()
	if err != nil {
		return err
	}
	stride := s.Stride
	if stride == 0 {
		stride = s.Width * capture.BytesPerPixel
	}

	r := geometry.FullFrame(s.Width, s.Height)
	if c.region != nil {
		r = *c.region
	}
	frame, err := geometry.CropBuffer(s.Data, s.Width, s.Height, stride, r, convert)
	if err != nil {
		return err
	}

	c.seq++
	frame.Sequence = c.seq
	frame.Timestamp = time.Now()
	c.cfg.Stream.Push(frame)
	return nil
}

// lockSize records the stream's size from the first sample and fits the
// crop region to it.
func (c *Consumer) lockSize(w, h int) error {
	c.width, c.height = w, h
	if c.region == nil {
		return nil
	}

	bounds := capture.MonitorInfo{ID: c.region.MonitorID, Width: w, Height: h}
	clipped, ok := geometry.Clip(*c.region, bounds)
	if !ok {
		return capture.NewError(capture.KindInvalidRegion,
			fmt.Sprintf("%s lies outside the %dx%d stream", c.region, w, h), nil)
	}
	if clipped != *c.region {
		logger.WithComponent("stream-consumer").Warn().
			Str("requested", c.region.String()).
			Str("clipped", clipped.String()).
			Msg("Stream is smaller than the monitor, clipping region")
		c.region = &clipped
	}
	return nil
}

// terminalError maps a worker failure onto the stream's terminal error.
func terminalError(err error) error {
	var ce *capture.CaptureError
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, ErrEndOfStream) {
		return capture.NewError(capture.KindStreamDisconnected, "compositor ended the stream", nil)
	}
	return capture.NewError(capture.KindStreamDisconnected, "", err)
}

func (c *Consumer) release() error {
	c.releaseOnce.Do(func() {
		err := c.cfg.Source.Close()
		if c.cfg.Release != nil {
			err = errors.Join(err, c.cfg.Release())
		}
		c.releaseErr = err
	})
	return c.releaseErr
}

// Stop signals the worker, waits for it to release the source and closes
// the stream. After Stop returns no further frames are delivered.
func (c *Consumer) Stop() error {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
	c.cfg.Stream.Close(nil)
	return c.releaseErr
}

// Done is closed when the worker has exited.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}
