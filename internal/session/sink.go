package session

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/screen-recorder/screen-recorder/internal/capture"
)

// Sink consumes finished frames. It stands in for the encoder.
type Sink interface {
	WriteFrame(f *capture.CapturedFrame) error
	// Finish flushes whatever was written. It is called exactly once, also
	// when the recording ended early.
	Finish() error
}

// MultiSink writes every frame to each sink in order. The first WriteFrame
// error is returned; Finish finishes all sinks and returns the first error.
func MultiSink(sinks ...Sink) Sink {
	return multiSink(sinks)
}

type multiSink []Sink

func (m multiSink) WriteFrame(f *capture.CapturedFrame) error {
	for _, s := range m {
		if err := s.WriteFrame(f); err != nil {
			return err
		}
	}
	return nil
}

func (m multiSink) Finish() error {
	var first error
	for _, s := range m {
		if err := s.Finish(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// RawMagic starts every frame record written by RawFileSink.
const RawMagic = "SRF1"

// RawHeaderSize is magic + width + height + sequence + unix nanos.
const RawHeaderSize = 4 + 4 + 4 + 8 + 8

// RawFileSink appends frames to a file as
//
//	"SRF1" | width u32 | height u32 | sequence u64 | unix-nanos i64 | BGRA pixels
//
// all little-endian.
type RawFileSink struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	w      *bufio.Writer
	frames uint64
	done   bool
}

// NewRawFileSink creates (or truncates) path.
func NewRawFileSink(path string) (*RawFileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return &RawFileSink{path: path, file: f, w: bufio.NewWriterSize(f, 1<<20)}, nil
}

// Path returns the output file.
func (s *RawFileSink) Path() string { return s.path }

// Frames returns how many frames were written.
func (s *RawFileSink) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *RawFileSink) WriteFrame(f *capture.CapturedFrame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return fmt.Errorf("raw sink %s already finished", s.path)
	}

	var hdr [RawHeaderSize]byte
	copy(hdr[0:4], RawMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(f.Width))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(f.Height))
	binary.LittleEndian.PutUint64(hdr[12:20], f.Sequence)
	binary.LittleEndian.PutUint64(hdr[20:28], uint64(f.Timestamp.UnixNano()))

	if _, err := s.w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := s.w.Write(f.Data); err != nil {
		return err
	}
	s.frames++
	return nil
}

// Finish flushes and closes the file.
func (s *RawFileSink) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	if err := s.w.Flush(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

// ReadRawHeader decodes one record header.
func ReadRawHeader(b []byte) (width, height int, seq uint64, err error) {
	if len(b) < RawHeaderSize || string(b[0:4]) != RawMagic {
		return 0, 0, 0, fmt.Errorf("not a raw frame record")
	}
	width = int(binary.LittleEndian.Uint32(b[4:8]))
	height = int(binary.LittleEndian.Uint32(b[8:12]))
	seq = binary.LittleEndian.Uint64(b[12:20])
	return width, height, seq, nil
}
