package capture

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

func frame(seq uint64) *CapturedFrame {
	f := NewFrame(2, 2)
	f.Sequence = seq
	return f
}

func TestFrameStreamDropsOldest(t *testing.T) {
	s := NewFrameStream(2)
	for i := uint64(1); i <= 5; i++ {
		if !s.Push(frame(i)) {
			t.Fatalf("push %d rejected", i)
		}
	}
	if got := s.Dropped(); got != 3 {
		t.Fatalf("dropped = %d, want 3", got)
	}

	s.Close(nil)

	var seqs []uint64
	for f := range s.Frames() {
		seqs = append(seqs, f.Sequence)
	}
	if len(seqs) != 2 || seqs[0] != 4 || seqs[1] != 5 {
		t.Fatalf("delivered %v, want [4 5]", seqs)
	}
}

func TestFrameStreamPreservesOrder(t *testing.T) {
	s := NewFrameStream(3)
	const n = 500

	var got []uint64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for f := range s.Frames() {
			got = append(got, f.Sequence)
		}
	}()

	for i := uint64(1); i <= n; i++ {
		s.Push(frame(i))
	}
	s.Close(nil)
	wg.Wait()

	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Fatalf("out of order at %d: %d after %d", i, got[i], got[i-1])
		}
	}
	if uint64(len(got))+s.Dropped() != n {
		t.Fatalf("delivered %d + dropped %d != %d", len(got), s.Dropped(), n)
	}
}

func TestFrameStreamCloseOnce(t *testing.T) {
	s := NewFrameStream(1)
	s.Close(ErrStreamDisconnected)
	s.Close(nil)

	if !errors.Is(s.Err(), ErrStreamDisconnected) {
		t.Fatalf("err = %v, want stream disconnected", s.Err())
	}
	if s.Push(frame(1)) {
		t.Fatal("push after close should be rejected")
	}
}

func TestFrameStreamNext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	s := NewFrameStream(2)
	s.Push(frame(7))
	s.Close(nil)

	f, err := s.Next(ctx)
	if err != nil || f.Sequence != 7 {
		t.Fatalf("Next = %v, %v", f, err)
	}
	if _, err := s.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after clean stop, got %v", err)
	}

	s2 := NewFrameStream(2)
	s2.Close(NewError(KindStreamDisconnected, "resolution changed", nil))
	if _, err := s2.Next(ctx); !errors.Is(err, ErrStreamDisconnected) {
		t.Fatalf("expected disconnect, got %v", err)
	}
}

func TestStopHandleRunsOnce(t *testing.T) {
	calls := 0
	h := NewStopHandle(func() error {
		calls++
		return nil
	})
	for i := 0; i < 3; i++ {
		if err := h.Stop(); err != nil {
			t.Fatalf("stop: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("teardown ran %d times", calls)
	}
}

func TestCaptureErrorIs(t *testing.T) {
	err := NewError(KindPortalDenied, "response code 1", nil)
	if !errors.Is(err, ErrPortalDenied) {
		t.Fatal("expected PortalDenied match")
	}
	if errors.Is(err, ErrPortalTimeout) {
		t.Fatal("unexpected PortalTimeout match")
	}

	enum := &EnumerationError{Unavailable: true, Reason: "no socket"}
	if !errors.Is(enum, ErrCompositorUnavailable) {
		t.Fatal("expected CompositorUnavailable match")
	}
}

func TestFrameValidate(t *testing.T) {
	f := NewFrame(3, 2)
	if err := f.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	f.Data = f.Data[:len(f.Data)-1]
	if err := f.Validate(); err == nil {
		t.Fatal("expected length mismatch error")
	}
}

func TestFrameToRGBA(t *testing.T) {
	f := NewFrame(2, 1)
	copy(f.Data, []byte{0x10, 0x20, 0x30, 0xFF, 0x01, 0x02, 0x03, 0x80})
	img := f.ToRGBA()
	if img.Bounds().Dx() != 2 || img.Bounds().Dy() != 1 {
		t.Fatalf("bounds = %v", img.Bounds())
	}
	want := []byte{0x30, 0x20, 0x10, 0xFF, 0x03, 0x02, 0x01, 0x80}
	for i, b := range want {
		if img.Pix[i] != b {
			t.Fatalf("pix = % x, want % x", img.Pix, want)
		}
	}
}
