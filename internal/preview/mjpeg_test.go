package preview

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/screen-recorder/screen-recorder/internal/capture"
)

func redFrame(w, h int) *capture.CapturedFrame {
	f := capture.NewFrame(w, h)
	for i := 0; i < len(f.Data); i += 4 {
		f.Data[i+0], f.Data[i+1], f.Data[i+2], f.Data[i+3] = 0x00, 0x00, 0xFF, 0xFF
	}
	return f
}

func waitClients(t *testing.T, m *MJPEG, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.Stats().Clients != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", m.Stats().Clients, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStreamDeliversJPEGParts(t *testing.T) {
	m := New(Config{FPS: 30, Quality: 80})
	srv := httptest.NewServer(m.StreamHandler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "multipart/x-mixed-replace; boundary=frame" {
		t.Fatalf("Content-Type = %q", ct)
	}

	waitClients(t, m, 1)
	if err := m.WriteFrame(redFrame(16, 8)); err != nil {
		t.Fatal(err)
	}

	part, err := multipart.NewReader(bufio.NewReader(resp.Body), "frame").NextPart()
	if err != nil {
		t.Fatalf("NextPart: %v", err)
	}
	if ct := part.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("part Content-Type = %q", ct)
	}
	// The stream never ends, so read exactly one JPEG.
	n, err := strconv.Atoi(part.Header.Get("Content-Length"))
	if err != nil || n <= 0 {
		t.Fatalf("Content-Length = %q", part.Header.Get("Content-Length"))
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(part, data); err != nil {
		t.Fatalf("read part: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("jpeg.Decode: %v", err)
	}
	if img.Bounds().Dx() != 16 || img.Bounds().Dy() != 8 {
		t.Fatalf("bounds = %v", img.Bounds())
	}
	r, g, b, _ := img.At(8, 4).RGBA()
	if r < 0xE000 || g > 0x2000 || b > 0x2000 {
		t.Fatalf("pixel = %x,%x,%x, want red", r, g, b)
	}

	cancel()
	waitClients(t, m, 0)
}

func TestFrameRateLimit(t *testing.T) {
	m := New(Config{FPS: 1})
	for i := 0; i < 5; i++ {
		if err := m.WriteFrame(redFrame(4, 4)); err != nil {
			t.Fatal(err)
		}
	}
	if st := m.Stats(); st.Frames != 1 || st.FPS != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestStillHandler(t *testing.T) {
	m := New(DefaultConfig)

	rec := httptest.NewRecorder()
	m.StillHandler()(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("before first frame: %d", rec.Code)
	}

	if err := m.WriteFrame(redFrame(10, 10)); err != nil {
		t.Fatal(err)
	}
	rec = httptest.NewRecorder()
	m.StillHandler()(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/jpeg" {
		t.Fatalf("still: %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if _, err := jpeg.Decode(rec.Body); err != nil {
		t.Fatalf("jpeg.Decode: %v", err)
	}

	rec = httptest.NewRecorder()
	m.StatsHandler()(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	var st Stats
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Frames != 1 || st.FPS != DefaultConfig.FPS {
		t.Fatalf("stats = %+v", st)
	}
}

func TestNewClampsConfig(t *testing.T) {
	m := New(Config{FPS: -1, Quality: 400})
	if m.config.FPS != DefaultConfig.FPS || m.config.Quality != DefaultConfig.Quality {
		t.Fatalf("config = %+v", m.config)
	}
	if err := m.Finish(); err != nil {
		t.Fatal(err)
	}
}

func TestRecLabel(t *testing.T) {
	got := recLabel(time.Hour+2*time.Minute+3*time.Second+900*time.Millisecond, 800, 600)
	if got != "REC 01:02:03  800x600" {
		t.Fatalf("recLabel = %q", got)
	}
}

func TestDrawLabel(t *testing.T) {
	img := redFrame(200, 40).ToRGBA()
	drawLabel(img, "REC 00:00:01  200x40")

	// The box darkens the corner; the far side of the frame is untouched.
	if r, _, _, _ := img.At(1, 1).RGBA(); r > 0x8000 {
		t.Fatalf("corner not covered, r = %x", r)
	}
	if c := img.RGBAAt(199, 39); c.R != 0xFF || c.G != 0 || c.B != 0 {
		t.Fatalf("outside box = %v", c)
	}

	// Too small for the box.
	small := redFrame(20, 10).ToRGBA()
	drawLabel(small, "REC 00:00:01  20x10")
	if c := small.RGBAAt(1, 1); c.R != 0xFF {
		t.Fatalf("small frame changed: %v", c)
	}
}
