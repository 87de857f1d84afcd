package control

import (
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/peragwin/dasview/device"
	"github.com/peragwin/dasview/display"
	"github.com/peragwin/dasview/pipeline"
	"github.com/peragwin/dasview/stream"
	"github.com/peragwin/dasview/transform"
)

func newController(t *testing.T, path string) (*Controller, *pipeline.Pipeline, *display.Scheduler) {
	sim := device.NewSimulator(10, 32, 1)
	sim.Interval = time.Millisecond
	p := pipeline.New(sim, pipeline.Options{PollTimeout: 10 * time.Millisecond})
	s := display.NewScheduler(p.Cache(), display.SurfaceFunc(func(image.Image) error { return nil }),
		display.Options{Height: 20})
	c, err := New(p, s, path)
	if err != nil {
		t.Fatal(err)
	}
	return c, p, s
}

func data(t *testing.T, c *Controller, query string, vars map[string]interface{}) map[string]interface{} {
	res := c.Query(query, vars)
	if len(res.Errors) > 0 {
		t.Fatal(query, res.Errors)
	}
	return res.Data.(map[string]interface{})
}

func field(m map[string]interface{}, path ...string) interface{} {
	var v interface{} = m
	for _, k := range path {
		v = v.(map[string]interface{})[k]
	}
	return v
}

func TestTransformQueries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transform.json")
	c, _, s := newController(t, path)

	d := data(t, c, `{ transform { mode pLo pHi gamma invert window } }`, nil)
	if field(d, "transform", "mode") != "Linear" || field(d, "transform", "pHi") != 95.0 ||
		field(d, "transform", "window") != 32 || field(d, "transform", "invert") != true {
		t.Fatal("unexpected defaults", d)
	}

	d = data(t, c, `mutation { transform(params: {mode: "EnergyLog(MSE)", gamma: 2, pLo: 50, pHi: 10}) { mode gamma pLo pHi } }`, nil)
	if field(d, "transform", "mode") != "EnergyLog(MSE)" || field(d, "transform", "gamma") != 2.0 {
		t.Fatal("unexpected transform", d)
	}
	if hi := field(d, "transform", "pHi").(float64); hi <= 50 {
		t.Fatal("percentiles should be sanitized", hi)
	}
	if s.Config().Mode != transform.EnergyLog {
		t.Fatal("scheduler should use the new config")
	}
	saved, err := transform.LoadConfig(path)
	if err != nil || saved.Mode != transform.EnergyLog || saved.Gamma != 2 {
		t.Fatal("config should be saved", saved, err)
	}

	res := c.Query(`mutation { transform(params: {mode: "Sepia"}) { mode } }`, nil)
	if len(res.Errors) == 0 {
		t.Fatal("unknown mode should be rejected")
	}
	if s.Config().Mode != transform.EnergyLog {
		t.Fatal("rejected change should not apply")
	}

	d = data(t, c, `{ modes }`, nil)
	if len(d["modes"].([]interface{})) != len(transform.Modes) {
		t.Fatal("unexpected modes", d)
	}
}

func TestSelection(t *testing.T) {
	c, _, s := newController(t, "")

	d := data(t, c, `mutation { select(channel: 2, kind: "phase") { channel kind } }`, nil)
	if field(d, "select", "channel") != 2 || field(d, "select", "kind") != "phase" {
		t.Fatal("unexpected selection", d)
	}
	if s.Selected() != (stream.Key{Channel: 2, Kind: stream.Phase}) {
		t.Fatal("scheduler selection not updated", s.Selected())
	}

	for _, q := range []string{
		`mutation { select(channel: 5, kind: "amp") { channel } }`,
		`mutation { select(channel: 1, kind: "heat") { channel } }`,
		`mutation { column(index: -1) }`,
		`mutation { pixel(x: 3, width: 0) }`,
		`mutation { palette(name: "plaid") }`,
	} {
		if res := c.Query(q, nil); len(res.Errors) == 0 {
			t.Fatal("expected an error", q)
		}
	}

	d = data(t, c, `mutation { column(index: 7) pixel(x: 10, width: 100) palette(name: "gray") }`, nil)
	if d["column"] != 7 || d["pixel"] != true || d["palette"] != "gray" {
		t.Fatal("unexpected result", d)
	}

	d = data(t, c, `{ palettes selection { kind } }`, nil)
	if len(d["palettes"].([]interface{})) < 3 || field(d, "selection", "kind") != "phase" {
		t.Fatal("unexpected result", d)
	}
}

func TestStartStop(t *testing.T) {
	c, p, _ := newController(t, "")
	defer p.Stop()

	res := c.Query(`mutation { start(params: {scanRate: "3k"}) { running } }`, nil)
	if len(res.Errors) == 0 || p.Running() {
		t.Fatal("bad scan rate should fail to start")
	}

	d := data(t, c, `mutation Start($p: inputAcquisition) { start(params: $p) { running } }`,
		map[string]interface{}{"p": map[string]interface{}{
			"scanRate": "1k", "pulseWidth": 5000, "aom": 200,
		}})
	if field(d, "start", "running") != true || !p.Running() {
		t.Fatal("expected a running pipeline", d)
	}
	params := p.Params()
	if params.ScanRate != "1k" || params.PulseWidth != device.MaxPulseWidth || params.AOM != device.AOM200 {
		t.Fatal("unexpected params", params)
	}

	deadline := time.Now().Add(2 * time.Second)
	for p.Stats().Published == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	d = data(t, c, `{ stats { received published } acquisition { scanRate mode } status { running line } }`, nil)
	if field(d, "stats", "published").(int) == 0 {
		t.Fatal("expected published blocks", d)
	}
	if field(d, "acquisition", "mode") != device.Modes[0] || field(d, "status", "running") != true {
		t.Fatal("unexpected status", d)
	}

	d = data(t, c, `mutation { stop { running } }`, nil)
	if field(d, "stop", "running") != false || p.Running() {
		t.Fatal("expected a stopped pipeline", d)
	}
}

func TestHTTP(t *testing.T) {
	c, _, _ := newController(t, "")
	mux := http.NewServeMux()
	c.Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	decode := func(resp *http.Response) map[string]interface{} {
		defer resp.Body.Close()
		var out struct {
			Data map[string]interface{} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatal(err)
		}
		return out.Data
	}

	resp, err := http.Get(srv.URL + "/api/v1/graphql?query=" + url.QueryEscape(`{ selection { channel kind } }`))
	if err != nil {
		t.Fatal(err)
	}
	if d := decode(resp); field(d, "selection", "kind") != "amp" || field(d, "selection", "channel") != 1.0 {
		t.Fatal("unexpected response", d)
	}

	body := `{"query": "mutation Col($i: Int!) { column(index: $i) }", "variables": {"i": 12}}`
	resp, err = http.Post(srv.URL+"/api/v2/graphql", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if d := decode(resp); d["column"] != 12.0 {
		t.Fatal("unexpected response", d)
	}

	resp, err = http.Post(srv.URL+"/api/v2/graphql", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatal("malformed body should be rejected", resp.StatusCode)
	}
}
