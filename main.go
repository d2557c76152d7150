package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/atotto/clipboard"
	"golang.org/x/sync/errgroup"

	"parley/audio"
	"parley/config"
	"parley/conversation"
	"parley/doctor"
	"parley/hotkey"
	"parley/log"
	"parley/session"
	"parley/shutdown"
)

var version = "dev"

// cliFlags holds the flags that override configuration file values.
type cliFlags struct {
	endpoint    string
	device      string
	format      string
	metrics     string
	indicatorWS string
	hotkey      string
	logLevel    string
}

// applyFlags copies every flag the user actually set onto cfg.
func applyFlags(cfg *config.Config, fs *flag.FlagSet, f cliFlags) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "endpoint":
			cfg.Endpoint = f.endpoint
		case "device":
			cfg.Audio.Device = f.device
		case "format":
			cfg.Audio.Format = f.format
		case "metrics":
			cfg.Metrics.Addr = f.metrics
		case "indicator-ws":
			cfg.Indicator.WebsocketAddr = f.indicatorWS
		case "hotkey":
			cfg.Hotkey.Binding = f.hotkey
		case "loglevel":
			cfg.Log.Level = f.logLevel
		}
	})
}

// stderrNotifier reports failed turns when no TUI is attached.
type stderrNotifier struct{}

func (stderrNotifier) Notify(err error) {
	fmt.Fprintf(os.Stderr, "parley: %s\n", conversation.Describe(err))
}

func run() int {
	var f cliFlags
	configFlag := flag.String("config", "", "Path to YAML configuration file")
	flag.StringVar(&f.endpoint, "endpoint", "", "Voice endpoint URL (overrides config)")
	flag.StringVar(&f.device, "device", "", "Use named microphone device")
	setupFlag := flag.Bool("setup", false, "Select microphone device interactively")
	flag.StringVar(&f.format, "format", "flac", "Upload format: flac or pcm")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	flag.StringVar(&f.logLevel, "loglevel", "info", "Diagnostics log level: debug, info, warn, error")
	tuiFlag := flag.Bool("tui", true, "Run with terminal UI")
	flag.StringVar(&f.metrics, "metrics", "", "Serve Prometheus metrics on this address (e.g. localhost:9090)")
	flag.StringVar(&f.indicatorWS, "indicator-ws", "", "Serve indicator frames over WebSocket on this address")
	flag.StringVar(&f.hotkey, "hotkey", hotkey.DefaultBinding, "Global toggle hotkey")
	resetFlag := flag.Bool("reset-session", false, "Start a new conversation session, print its id and exit")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	testFlag := flag.Bool("test", false, "Test mode (headless, stdin-driven): parley -test <wav-file>")
	profileFlag := flag.String("profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("parley %s\n", version)
		return 0
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	applyFlags(cfg, flag.CommandLine, f)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		return 1
	}
	binding, err := hotkey.Parse(cfg.Hotkey.Binding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	} else if err := log.InitCrashLog(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not open crash log: %v\n", err)
	}
	log.SetLevel(cfg.Log.Level)

	if *doctorFlag {
		return doctor.Run(doctor.Options{
			Endpoint:     cfg.Endpoint,
			Device:       cfg.Audio.Device,
			Hotkey:       binding,
			PlaybackRate: cfg.Audio.PlaybackRate,
		})
	}

	if *resetFlag {
		store, err := sessionStore(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		id, err := session.NewManager(store).Reset()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(id)
		return 0
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	if *testFlag {
		if flag.NArg() == 0 {
			fmt.Fprintln(os.Stderr, "Usage: parley -test <wav-file>")
			return 1
		}
		return runTestMode(cfg, flag.Arg(0))
	}

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	actx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Fprintf(os.Stderr, "Error initializing audio: %v\n", err)
		return 1
	}
	defer actx.Close()

	if *setupFlag && cfg.Audio.Device == "" {
		dev, err := audio.SelectDevice(actx)
		if err != nil {
			fmt.Printf("Warning: device selection failed: %v\n", err)
			fmt.Println("Falling back to default device")
		} else if dev != nil {
			cfg.Audio.Device = dev.Name
		}
	}

	var a *app
	opts := appOptions{}
	if *tuiFlag {
		opts.indicators = append(opts.indicators, tuiIndicator{turns: func() int { return a.conv.Turns() }})
		opts.notifiers = append(opts.notifiers, tuiIndicator{})
	} else {
		opts.notifiers = append(opts.notifiers, stderrNotifier{})
	}
	a, err = newApp(actx, cfg, opts)
	if err != nil {
		log.Errorf("startup failed: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	log.SessionStart(cfg.Endpoint, a.deviceName(), cfg.Audio.Format)

	g, gctx := errgroup.WithContext(ctx)
	a.serve(gctx, g)
	if *profileFlag != "" {
		serveHTTP(gctx, g, "pprof", *profileFlag, http.DefaultServeMux)
	}

	isToggle := func() bool { return true }
	var startupErr string
	hk := hotkey.New(binding)
	if err := hk.Register(); err != nil {
		log.Errorf("hotkey register error: %v", err)
		if !*tuiFlag {
			fmt.Fprintf(os.Stderr, "Error registering hotkey: %v\n", err)
			a.close()
			return 1
		}
		startupErr = "hotkey unavailable: " + err.Error()
	} else {
		defer hk.Unregister()
		hy := hotkey.NewHybrid(hk, cfg.Hotkey.LongPress)
		defer hy.Close()
		isToggle = hy.IsToggle
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case t := <-hy.Toggles():
					log.Info("hotkey_toggle_" + string(t.Mode))
					if err := a.conv.Toggle(); err != nil {
						log.Warnf("hotkey toggle: %v", err)
					}
				}
			}
		})
	}

	watch := newSilenceWatch(a.conv, isToggle, func(ev SilenceEvent) {
		tuiSend(SilenceMsg{Event: ev})
		if (ev == SilenceWarn || ev == SilenceRepeat) && a.cues != nil {
			a.cues.Error()
		}
	})
	g.Go(func() error {
		watch.run(gctx)
		return nil
	})

	if *tuiFlag {
		p := NewTUIProgram(tuiActions{
			toggle:  a.conv.Toggle,
			reset:   a.conv.Reset,
			copy:    clipboard.WriteAll,
			hotkey:  binding.String(),
			version: version,
		}, a.conv.Frame(), deviceLineText(a.device), startupErr)
		tuiMu.Lock()
		tuiProgram = p
		tuiMu.Unlock()

		go func() {
			<-gctx.Done()
			p.Quit()
		}()
		if _, err := p.Run(); err != nil {
			log.Errorf("TUI error: %v", err)
		}
		tuiMu.Lock()
		tuiProgram = nil
		tuiMu.Unlock()
	} else {
		fmt.Printf("parley %s: press %s to talk, Ctrl+C to quit\n", version, binding)
		<-gctx.Done()
	}

	stop()
	a.close()
	if err := g.Wait(); err != nil {
		log.Errorf("server error: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	log.SessionEnd(a.conv.Turns())
	return 0
}

func deviceLineText(dev *audio.DeviceInfo) string {
	name := "system default"
	suffix := ""
	if dev != nil {
		name = dev.Name
		if audio.IsBluetooth(dev.Name) {
			suffix = " (BT!)"
		}
	}
	return "mic: " + name + suffix
}
