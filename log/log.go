package log

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog   zerolog.Logger
	diagFile  *os.File
	turnsFile *os.File
	crashFile *os.File
	logMu     sync.Mutex
	logReady  atomic.Bool
	level     = zerolog.InfoLevel
	pid       int
	dir       string
)

// TurnMetrics describes one record, send, play cycle.
type TurnMetrics struct {
	SessionID    string
	RequestID    string
	Outcome      string
	Error        string
	RecordS      float64
	UploadKB     float64
	ResponseKB   float64
	ExchangeMs   float64
	DNSTimeMs    float64
	TLSTimeMs    float64
	TTFBMs       float64
	PlaybackS    float64
	ConnReused   bool
	UploadFormat string
}

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absPath(flagPath)
	}

	// Priority 2: PARLEY_LOG_PATH environment variable
	if envPath := os.Getenv("PARLEY_LOG_PATH"); envPath != "" {
		return absPath(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

// SetLevel accepts zerolog level names ("debug", "info", "warn", "error").
func SetLevel(name string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}
	logMu.Lock()
	level = lvl
	if logReady.Load() {
		diagLog = diagLog.Level(lvl)
	}
	logMu.Unlock()
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	turnsPath := filepath.Join(dir, "turns_log.txt")
	turnsFile, err = os.OpenFile(turnsPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).Level(level).With().Timestamp().Int("pid", pid).Logger()

	logReady.Store(true)
	return nil
}

// InitCrashLog routes fatal runtime output to crash_log.txt in the log dir.
func InitCrashLog() error {
	logMu.Lock()
	defer logMu.Unlock()
	f, err := os.OpenFile(filepath.Join(dir, "crash_log.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if err := debug.SetCrashOutput(f, debug.CrashOptions{}); err != nil {
		f.Close()
		return err
	}
	crashFile = f
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	logReady.Store(false)
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if turnsFile != nil {
		turnsFile.Close()
		turnsFile = nil
	}
	if crashFile != nil {
		debug.SetCrashOutput(nil, debug.CrashOptions{})
		crashFile.Close()
		crashFile = nil
	}
}

func Info(msg string) {
	if logReady.Load() {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady.Load() {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Debugf(format string, args ...any) {
	if logReady.Load() {
		diagLog.Debug().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady.Load() {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady.Load() {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady.Load() {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady.Load() {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func Turn(m TurnMetrics) {
	if !logReady.Load() {
		return
	}

	connStatus := "new"
	if m.ConnReused {
		connStatus = "reused"
	}

	ev := diagLog.Info().
		Str("session", m.SessionID).
		Str("outcome", m.Outcome).
		Str("format", m.UploadFormat).
		Str("conn", connStatus)
	if m.RequestID != "" {
		ev = ev.Str("request_id", m.RequestID)
	}
	if m.Error != "" {
		ev = ev.Str("error", m.Error)
	}
	ev.Float64("record_s", m.RecordS).
		Float64("upload_kb", m.UploadKB).
		Float64("response_kb", m.ResponseKB).
		Float64("exchange_ms", m.ExchangeMs).
		Float64("dns_ms", m.DNSTimeMs).
		Float64("tls_ms", m.TLSTimeMs).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("playback_s", m.PlaybackS).
		Msg("turn")

	TurnText(fmt.Sprintf("%s\t%s\t%.2fs\t%.1fKB\t%.1fKB", m.SessionID, m.Outcome, m.RecordS, m.UploadKB, m.ResponseKB))
}

// TurnText appends one line to turns_log.txt.
func TurnText(text string) {
	if !logReady.Load() {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	if turnsFile == nil {
		return
	}
	line := fmt.Sprintf("%s\t[%d]\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, text)
	turnsFile.WriteString(line)
}

func SessionStart(endpoint, device, format string) {
	if !logReady.Load() {
		return
	}
	diagLog.Info().
		Str("endpoint", endpoint).
		Str("device", device).
		Str("format", format).
		Msg("session_start")
}

func SessionEnd(turns int) {
	if !logReady.Load() {
		return
	}
	diagLog.Info().
		Int("turns", turns).
		Msg("session_end")
}
