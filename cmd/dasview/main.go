package main

import (
	"bytes"
	"context"
	"flag"
	"image"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"
	"github.com/golang/glog"
	"gonum.org/v1/plot/vg"

	"github.com/peragwin/dasview/config"
	"github.com/peragwin/dasview/control"
	"github.com/peragwin/dasview/device"
	"github.com/peragwin/dasview/device/portaudio"
	"github.com/peragwin/dasview/display"
	"github.com/peragwin/dasview/pipeline"
	"github.com/peragwin/dasview/transform"
	"github.com/peragwin/dasview/util"
)

var (
	configPath = flag.String("config", "", "path to the yaml config file")
	driver     = flag.String("driver", "", "device driver: sim, wav or portaudio")
	wavPath    = flag.String("wav", "", "wav recording to replay, implies -driver=wav")
	addr       = flag.String("addr", "", "http listen address")
	httpDir    = flag.String("http-dir", "", "where to host static client gui files")
	palette    = flag.String("palette", "", "waterfall palette: "+paletteList())
	noStart    = flag.Bool("no-start", false, "wait for a start request before acquiring")

	listDevices = flag.Bool("list-devices", false, "print audio devices and exit")
	statsAddr   = flag.String("statsview", "", "serve runtime statistics on this address")
)

func paletteList() string {
	s := "none"
	for _, n := range util.PaletteNames() {
		s += ", " + n
	}
	return s
}

// overrides applies the command line to the loaded config.
func overrides(cfg *config.Config) {
	if *driver != "" {
		cfg.Device.Driver = *driver
	}
	if *wavPath != "" {
		cfg.Device.Driver = config.DriverWAV
		cfg.Device.WAVPath = *wavPath
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if *httpDir != "" {
		cfg.HTTP.Static = *httpDir
	}
	if *palette != "" {
		cfg.Display.Palette = *palette
	}
}

func newDriver(cfg *config.Config) device.Driver {
	d := cfg.Device
	switch d.Driver {
	case config.DriverWAV:
		w := device.NewWAV(d.WAVPath, d.Lines, d.Points)
		w.Format = cfg.Format()
		return w
	case config.DriverPortAudio:
		return portaudio.New(portaudio.Config{
			Channels:   d.Channels,
			SampleRate: d.SampleRate,
			Lines:      d.Lines,
			Points:     d.Points,
			Format:     cfg.Format(),
		})
	}
	sim := device.NewSimulator(d.Lines, d.Points, d.Seed)
	sim.Format = cfg.Format()
	return sim
}

func main() {
	flag.Parse()
	defer glog.Flush()

	if *listDevices {
		if err := portaudio.PrintDevices(); err != nil {
			glog.Fatal(err)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		glog.Fatal(err)
	}
	overrides(cfg)
	if err := cfg.Validate(); err != nil {
		glog.Fatal(err)
	}

	if *statsAddr != "" {
		go func() {
			viewer.SetConfiguration(viewer.WithAddr(*statsAddr))
			mgr := statsview.New()
			mgr.Start()
		}()
		glog.Infof("stats server available at %s/debug/statsview", *statsAddr)
	}

	tcfg := cfg.Transform
	if cfg.HTTP.TransformPath != "" {
		if _, err := os.Stat(cfg.HTTP.TransformPath); err == nil {
			if tcfg, err = transform.LoadConfig(cfg.HTTP.TransformPath); err != nil {
				glog.Fatal(err)
			}
		}
	}
	pal, err := util.PaletteByName(cfg.Display.Palette)
	if err != nil {
		glog.Fatal(err)
	}

	p := pipeline.New(newDriver(cfg), pipeline.Options{
		QueueCapacity: cfg.Pipeline.QueueCapacity,
		PollTimeout:   cfg.Pipeline.PollTimeout,
		Format:        cfg.Format(),
	})

	hub := display.NewHub()
	sched := display.NewScheduler(p.Cache(), hub, display.Options{
		Height:   cfg.Display.Height,
		Interval: cfg.TickInterval(),
		Size:     image.Pt(cfg.Display.SurfaceWidth, cfg.Display.SurfaceHeight),
		Palette:  pal,
		History:  cfg.TimeSeries.History,
		Budget:   cfg.TimeSeries.Budget,
	})
	sched.SetConfig(tcfg)
	sched.SelectColumn(cfg.TimeSeries.Column)

	ctrl, err := control.New(p, sched, cfg.HTTP.TransformPath)
	if err != nil {
		glog.Fatal(err)
	}

	mux := http.NewServeMux()
	ctrl.Register(mux)
	mux.Handle("/ws", hub)
	mux.HandleFunc("/frame.png", hub.ServePNG)
	mux.HandleFunc("/timeseries.png", func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := sched.PlotSeries(&buf, 8*vg.Inch, 3*vg.Inch); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		buf.WriteTo(w)
	})
	if cfg.HTTP.Static != "" {
		mux.Handle("/", http.FileServer(http.Dir(cfg.HTTP.Static)))
	}

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: mux}
	go func() {
		glog.Infof("serving on %s", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Fatal(err)
		}
	}()

	if !*noStart {
		if err := p.Start(cfg.Acquisition); err != nil {
			glog.Errorf("start acquisition: %v", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	sched.Run(ctx)

	glog.Info("shutting down")
	if err := p.Stop(); err != nil {
		glog.Errorf("stop acquisition: %v", err)
	}
	srv.Close()
}
