package pipewire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/screen-recorder/screen-recorder/internal/capture"
	"github.com/screen-recorder/screen-recorder/internal/logger"
)

// GstLaunch is the gst-launch binary used by SubprocessSource.
var GstLaunch = "gst-launch-1.0"

// SubprocessSource runs the pipeline in a gst-launch-1.0 child process and
// reads raw BGRA frames from a pipe. It avoids cgo entirely. gst-launch runs
// verbose so the negotiated caps arrive on stdout; the first caps size the
// frames and a later size change ends the stream.
type SubprocessSource struct {
	remote *os.File
	nodeID uint32

	cmd    *exec.Cmd
	frames *os.File
	reader *frameReader
}

// NewSubprocessSource creates a source for the stream.
func NewSubprocessSource(remote *os.File, stream StreamInfo) (Source, error) {
	return &SubprocessSource{
		remote: remote,
		nodeID: stream.NodeID,
	}, nil
}

// Start launches gst-launch.
func (g *SubprocessSource) Start() error {
	log := logger.WithComponent("gstreamer-subprocess")

	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create frame pipe: %w", err)
	}

	cmd := exec.Command(GstLaunch)
	if g.remote != nil {
		cmd.ExtraFiles = append(cmd.ExtraFiles, g.remote)
	}
	cmd.ExtraFiles = append(cmd.ExtraFiles, pw)
	frameFD := 2 + len(cmd.ExtraFiles)

	args := append([]string{"-v"}, g.sourceArgs()...)
	args = append(args, "!", "videoconvert", "!", "video/x-raw,format=BGRA",
		"!", "fdsink", fmt.Sprintf("fd=%d", frameFD), "sync=false")
	cmd.Args = append(cmd.Args, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		pr.Close()
		pw.Close()
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		pr.Close()
		pw.Close()
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	log.Debug().Strs("args", args).Msg("Starting GStreamer subprocess")
	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return fmt.Errorf("failed to start gst-launch: %w", err)
	}
	// The child holds the write end now; EOF follows its exit.
	pw.Close()

	g.cmd = cmd
	g.frames = pr
	g.reader = newFrameReader(pr)

	go watchCaps(stdout, g.reader)
	go logStderr(stderr)

	log.Info().Uint32("node_id", g.nodeID).Int("pid", cmd.Process.Pid).Msg("GStreamer subprocess started")
	return nil
}

// sourceArgs is the pipewiresrc element. The remote, if any, is fd 3 in
// the child.
func (g *SubprocessSource) sourceArgs() []string {
	args := []string{"pipewiresrc"}
	if g.remote != nil {
		args = append(args, "fd=3")
	}
	return append(args, fmt.Sprintf("path=%d", g.nodeID), "do-timestamp=true")
}

// capsSize reads the frame size from a verbose caps line, e.g.
// "caps = video/x-raw, format=(string)BGRx, width=(int)2560, height=(int)1440".
func capsSize(line string) (int, int, bool) {
	if !strings.Contains(line, "video/x-raw") || !strings.Contains(line, "width=") {
		return 0, 0, false
	}
	width := extractIntFromCaps(line, "width")
	height := extractIntFromCaps(line, "height")
	if width <= 0 || height <= 0 {
		return 0, 0, false
	}
	return width, height, true
}

// extractIntFromCaps extracts an integer value from GStreamer caps string
func extractIntFromCaps(caps, key string) int {
	// Look for patterns like "width=(int)1920" or "width=1920"
	for _, pattern := range []string{key + "=(int)", key + "="} {
		idx := strings.Index(caps, pattern)
		if idx < 0 {
			continue
		}
		start := idx + len(pattern)
		end := start
		for end < len(caps) && caps[end] >= '0' && caps[end] <= '9' {
			end++
		}
		if end > start {
			if val, err := strconv.Atoi(caps[start:end]); err == nil {
				return val
			}
		}
	}
	return 0
}

// watchCaps feeds every caps size gst-launch prints to fr. The child's
// stdout closing ends the stream.
func watchCaps(r io.Reader, fr *frameReader) {
	log := logger.WithComponent("gstreamer-subprocess")
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if w, h, ok := capsSize(line); ok {
			fr.setCaps(w, h)
			continue
		}
		log.Debug().Str("gst", line).Msg("GStreamer output")
	}
	fr.fail(ErrEndOfStream)
}

// Pull waits for the next frame from the child's stdout.
func (g *SubprocessSource) Pull(timeout time.Duration, fn func(Sample) error) (bool, error) {
	if g.reader == nil {
		return false, errors.New("gstreamer-subprocess: not started")
	}
	return g.reader.pull(timeout, fn)
}

// Close kills the child and waits for it.
func (g *SubprocessSource) Close() error {
	if g.cmd == nil || g.cmd.Process == nil {
		return nil
	}
	log := logger.WithComponent("gstreamer-subprocess")
	log.Debug().Int("pid", g.cmd.Process.Pid).Msg("Killing GStreamer subprocess")

	g.cmd.Process.Kill()
	g.cmd.Wait()
	g.frames.Close()
	g.reader.close()
	g.cmd = nil

	log.Info().Msg("GStreamer subprocess stopped")
	return nil
}

// logStderr logs any errors from the GStreamer subprocess
func logStderr(r io.Reader) {
	log := logger.WithComponent("gstreamer-subprocess")
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "ERROR") || strings.Contains(line, "WARN") {
			log.Warn().Str("gst", line).Msg("GStreamer message")
		} else {
			log.Debug().Str("gst", line).Msg("GStreamer output")
		}
	}
}

// frameReader splits a raw BGRA byte stream into frames on a background
// goroutine so Pull can time out. It waits for setCaps before reading. Two
// buffers alternate between the reader and the consumer.
type frameReader struct {
	frames chan []byte
	free   chan []byte
	sized  chan struct{}
	ended  chan struct{}
	done   chan struct{}

	mu            sync.Mutex
	width, height int
	err           error

	endOnce  sync.Once
	stopOnce sync.Once
	stop     chan struct{}
}

func newFrameReader(r io.Reader) *frameReader {
	fr := &frameReader{
		frames: make(chan []byte, 1),
		free:   make(chan []byte, 2),
		sized:  make(chan struct{}),
		ended:  make(chan struct{}),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
	go fr.loop(r)
	return fr
}

// setCaps reports the negotiated frame size. The first size starts the
// reader; a different size later ends the stream.
func (fr *frameReader) setCaps(width, height int) {
	fr.mu.Lock()
	switch {
	case fr.width == 0:
		fr.width, fr.height = width, height
		close(fr.sized)
		fr.mu.Unlock()
		return
	case width == fr.width && height == fr.height:
		fr.mu.Unlock()
		return
	}
	reason := fmt.Sprintf("resolution changed from %dx%d to %dx%d", fr.width, fr.height, width, height)
	fr.mu.Unlock()
	fr.fail(capture.NewError(capture.KindStreamDisconnected, reason, nil))
}

// fail ends the stream with err unless it already ended.
func (fr *frameReader) fail(err error) {
	fr.mu.Lock()
	if fr.err == nil {
		fr.err = err
	}
	fr.mu.Unlock()
	fr.endOnce.Do(func() { close(fr.ended) })
}

func (fr *frameReader) size() (int, int) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return fr.width, fr.height
}

func (fr *frameReader) loop(r io.Reader) {
	defer close(fr.done)
	select {
	case <-fr.sized:
	case <-fr.stop:
		return
	}
	w, h := fr.size()
	n := w * h * 4
	fr.free <- make([]byte, n)
	fr.free <- make([]byte, n)
	br := bufio.NewReaderSize(r, n)

	for {
		var buf []byte
		select {
		case buf = <-fr.free:
		case <-fr.stop:
			return
		}
		if _, err := io.ReadFull(br, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				err = ErrEndOfStream
			}
			fr.mu.Lock()
			if fr.err == nil {
				fr.err = err
			}
			fr.mu.Unlock()
			return
		}
		select {
		case fr.frames <- buf:
		case <-fr.stop:
			return
		}
	}
}

func (fr *frameReader) pull(timeout time.Duration, fn func(Sample) error) (bool, error) {
	// Bytes after a size change no longer split into whole frames.
	select {
	case <-fr.ended:
		return false, fr.endErr()
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case buf := <-fr.frames:
		return true, fr.deliver(buf, fn)
	case <-fr.ended:
		return false, fr.endErr()
	case <-fr.done:
		// Frames read before the end are still delivered.
		select {
		case buf := <-fr.frames:
			return true, fr.deliver(buf, fn)
		default:
		}
		return false, fr.endErr()
	case <-timer.C:
		return false, nil
	}
}

func (fr *frameReader) deliver(buf []byte, fn func(Sample) error) error {
	w, h := fr.size()
	err := fn(Sample{Width: w, Height: h, Stride: w * 4, Format: FormatBGRA, Data: buf})
	fr.free <- buf
	return err
}

func (fr *frameReader) endErr() error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if fr.err == nil {
		return ErrEndOfStream
	}
	return fr.err
}

func (fr *frameReader) close() {
	fr.stopOnce.Do(func() { close(fr.stop) })
	<-fr.done
}
