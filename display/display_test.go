package display

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"gonum.org/v1/plot/vg"

	"github.com/peragwin/dasview/stream"
	"github.com/peragwin/dasview/transform"
	"github.com/peragwin/dasview/util"
)

func TestFit(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 4, 2))
	for x := 0; x < 4; x++ {
		src.SetGray(x, 0, color.Gray{uint8(10 * x)})
		src.SetGray(x, 1, color.Gray{uint8(100 + x)})
	}
	if Fit(src, image.Point{}) != image.Image(src) {
		t.Fatal("zero size should not scale")
	}
	if Fit(src, image.Pt(4, 2)) != image.Image(src) {
		t.Fatal("matching size should not scale")
	}

	out, ok := Fit(src, image.Pt(8, 6)).(*image.Gray)
	if !ok {
		t.Fatal("gray input should stay gray")
	}
	if out.Bounds().Size() != image.Pt(8, 6) {
		t.Fatal("unexpected size", out.Bounds())
	}
	// each axis is stretched independently
	if out.GrayAt(7, 0).Y != 30 || out.GrayAt(0, 5).Y != 100 || out.GrayAt(3, 4).Y != 101 {
		t.Fatal("unexpected nearest neighbour sampling", out.Pix)
	}

	rgba := image.NewRGBA(image.Rect(0, 0, 2, 2))
	if _, ok := Fit(rgba, image.Pt(3, 1)).(*image.RGBA); !ok {
		t.Fatal("color input should give rgba")
	}
}

type capture struct {
	sync.Mutex
	frames []image.Image
	fail   bool
}

func (c *capture) Present(img image.Image) error {
	c.Lock()
	defer c.Unlock()
	if c.fail {
		panic("surface exploded")
	}
	c.frames = append(c.frames, img)
	return nil
}

func (c *capture) count() int {
	c.Lock()
	defer c.Unlock()
	return len(c.frames)
}

func testBlock(key stream.Key, lines, points int) *stream.Block {
	b := &stream.Block{
		Key: key, Lines: lines, Points: points,
		Samples:  make([]float32, lines*points),
		Snapshot: stream.Snapshot{ScanRate: "1k", Mode: "Coherent Suppression", PulseWidth: 100, ScaleDown: 2},
	}
	for i := range b.Samples {
		b.Samples[i] = float32(i % points)
	}
	return b
}

func TestGridTimeAbsorbsJitter(t *testing.T) {
	cache := stream.NewCache()
	var surf capture
	interval := 30 * time.Millisecond
	s := NewScheduler(cache, &surf, Options{Height: 10, Interval: interval})
	key := stream.Keys[0]
	start := time.Unix(100, 0)

	// delivery delays that shrink from one tick to the next would look early on raw times
	delays := []time.Duration{9, 1, 7, 0, 12, 2, 5, 1}
	for i, d := range delays {
		now := start.Add(time.Duration(i+1)*interval + d*time.Millisecond)
		if g := gridTime(start, now, interval); !g.Equal(start.Add(time.Duration(i+1) * interval)) {
			t.Fatal(start.Add(time.Duration(i+1)*interval), g)
		}
		cache.Publish(key, testBlock(key, 2, 8))
		if !s.Tick(gridTime(start, now, interval)) {
			t.Fatal("tick", i, "should render")
		}
	}
	if surf.count() != len(delays) {
		t.Fatal(len(delays), surf.count())
	}
}

func TestSchedulerThrottle(t *testing.T) {
	cache := stream.NewCache()
	var surf capture
	s := NewScheduler(cache, &surf, Options{Height: 50, Interval: 30 * time.Millisecond})
	key := stream.Keys[0]
	t0 := time.Unix(100, 0)

	if s.Tick(t0) {
		t.Fatal("tick without a fresh frame should not render")
	}

	cache.Publish(key, testBlock(key, 5, 16))
	if !s.Tick(t0) {
		t.Fatal("expected a render")
	}
	if s.Tick(t0.Add(time.Millisecond)) {
		t.Fatal("no new frame, no render")
	}

	cache.Publish(key, testBlock(key, 5, 16))
	if s.Tick(t0.Add(10 * time.Millisecond)) {
		t.Fatal("render within the interval should be throttled")
	}
	if !s.Tick(t0.Add(30 * time.Millisecond)) {
		t.Fatal("a throttled frame should still be rendered later")
	}

	cache.Publish(key, testBlock(key, 5, 16))
	s.Poke()
	if !s.Tick(t0.Add(31 * time.Millisecond)) {
		t.Fatal("poke should bypass the throttle")
	}
	cache.Publish(key, testBlock(key, 5, 16))
	if s.Tick(t0.Add(32 * time.Millisecond)) {
		t.Fatal("poke should only bypass the throttle once")
	}

	if surf.count() != 3 {
		t.Fatal(3, surf.count())
	}
	img := surf.frames[0]
	if img.Bounds().Size() != image.Pt(16, 50) {
		t.Fatal("unexpected frame size", img.Bounds())
	}
}

func TestSchedulerSelection(t *testing.T) {
	cache := stream.NewCache()
	var surf capture
	pal, _ := util.PaletteByName("ramp")
	s := NewScheduler(cache, &surf, Options{Height: 20, Size: image.Pt(64, 40), Palette: pal})

	if err := s.Select(stream.Key{Channel: 3}); err == nil {
		t.Fatal("invalid stream should be rejected")
	}
	phase := stream.Key{Channel: 2, Kind: stream.Phase}
	if err := s.Select(phase); err != nil {
		t.Fatal(err)
	}

	// only the selected stream is rendered, others stay cached
	cache.Publish(stream.Keys[0], testBlock(stream.Keys[0], 4, 10))
	if s.Tick(time.Now()) {
		t.Fatal("unselected stream should not render")
	}
	if _, ok := cache.Take(stream.Keys[0]); !ok {
		t.Fatal("unselected stream should stay cached")
	}

	cfg := transform.DefaultConfig()
	cfg.Mode = transform.EnergyLog
	cfg.Gamma = -1
	if got := s.SetConfig(cfg); got.Gamma != 1 {
		t.Fatal("config should be sanitized", got)
	}
	s.SelectPixel(63, 64)

	cache.Publish(phase, testBlock(phase, 4, 10))
	if !s.Tick(time.Now()) {
		t.Fatal("expected a render")
	}
	img := surf.frames[0]
	if _, ok := img.(*image.RGBA); !ok || img.Bounds().Size() != image.Pt(64, 40) {
		t.Fatal("expected a fitted color frame", img.Bounds())
	}

	st := s.Status()
	if st.Stream != "ch2/phase" || st.Lines != 4 || st.Points != 10 || st.Mode != transform.EnergyLog {
		t.Fatal("unexpected status", st)
	}
	if !strings.Contains(st.String(), "1k Coherent Suppression pw 100 sd 2") {
		t.Fatal("unexpected status line", st.String())
	}

	// the pixel was selected before the width was known, so it applies from the next tick
	s.SelectPixel(63, 64)
	cache.Publish(phase, testBlock(phase, 4, 10))
	s.Poke()
	s.Tick(time.Now())
	pts := s.Series()
	if s.Status().Column != 9 || len(pts) != 4 || pts[0].V != 9 {
		t.Fatal("time series should follow the selected pixel", s.Status().Column, pts)
	}

	var buf bytes.Buffer
	if err := s.PlotSeries(&buf, 4*vg.Inch, 2*vg.Inch); err != nil {
		t.Fatal(err)
	}
}

func TestSchedulerRecovers(t *testing.T) {
	cache := stream.NewCache()
	surf := capture{fail: true}
	s := NewScheduler(cache, &surf, Options{Height: 10})
	key := stream.Keys[0]

	cache.Publish(key, testBlock(key, 2, 4))
	if s.Tick(time.Now()) {
		t.Fatal("panicking surface should not count as rendered")
	}

	bad := testBlock(key, 2, 4)
	bad.Samples = bad.Samples[:3]
	cache.Publish(key, bad)
	s.Poke()
	if s.Tick(time.Now()) {
		t.Fatal("malformed block should be dropped")
	}

	surf.fail = false
	cache.Publish(key, testBlock(key, 2, 4))
	s.Poke()
	if !s.Tick(time.Now()) {
		t.Fatal("tick should keep working after errors")
	}
}

func TestHub(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer srv.Close()

	rec := httptest.NewRecorder()
	hub.ServePNG(rec, httptest.NewRequest("GET", "/frame.png", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatal("expected no frame yet", rec.Code)
	}

	img := image.NewGray(image.Rect(0, 0, 3, 2))
	img.Pix[0] = 200
	if err := hub.Present(img); err != nil {
		t.Fatal(err)
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	read := func() image.Image {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		mt, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		if mt != websocket.BinaryMessage {
			t.Fatal("expected a binary frame", mt)
		}
		out, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			t.Fatal(err)
		}
		return out
	}

	if got := read(); got.Bounds().Size() != image.Pt(3, 2) {
		t.Fatal("new clients should get the latest frame", got.Bounds())
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	img2 := image.NewGray(image.Rect(0, 0, 5, 5))
	hub.Present(img2)
	if got := read(); got.Bounds().Size() != image.Pt(5, 5) {
		t.Fatal("expected the broadcast frame", got.Bounds())
	}

	rec = httptest.NewRecorder()
	hub.ServePNG(rec, httptest.NewRequest("GET", "/frame.png", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Fatal("expected the latest frame", rec.Code)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for hub.Clients() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if hub.Clients() != 0 {
		t.Fatal("closed client should be unregistered")
	}

	rec = httptest.NewRecorder()
	hub.ServeHTTP(rec, httptest.NewRequest("GET", "/ws", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatal("plain requests should be rejected", rec.Code)
	}
}
