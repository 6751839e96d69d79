package core

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

var once sync.Once

type logger struct {
	*log.Logger
}

var singleton *logger

// LogConfig controls the process wide logger.
type LogConfig struct {
	// One of debug, info, warn, error, fatal.
	Level string `toml:"level"`
	// One of text, json, logfmt.
	Formatter string `toml:"formatter"`
	// Prefix printed before every line.
	Prefix string `toml:"prefix"`
}

func getLogger() *logger {
	if singleton == nil {
		once.Do(
			func() {
				l := log.NewWithOptions(os.Stderr, log.Options{
					ReportCaller:    true,
					ReportTimestamp: true,
					TimeFormat:      time.RFC3339,
					Prefix:          "Engine 🏎️ ",
				})
				l.SetLevel(log.DebugLevel)
				l.SetStyles(levelStyles())
				singleton = &logger{l}
			})
	}
	return singleton
}

func levelStyles() *log.Styles {
	styles := log.DefaultStyles()
	styles.Levels[log.DebugLevel] = lipgloss.NewStyle().SetString("DEBU").Foreground(lipgloss.Color("63"))
	styles.Levels[log.WarnLevel] = lipgloss.NewStyle().SetString("WARN").Bold(true).Foreground(lipgloss.Color("214"))
	styles.Levels[log.ErrorLevel] = lipgloss.NewStyle().SetString("ERRO").Bold(true).Foreground(lipgloss.Color("204"))
	return styles
}

// ConfigureLogging applies the level, formatter and prefix from the configuration.
func ConfigureLogging(cfg LogConfig) error {
	l := getLogger()
	if cfg.Level != "" {
		lvl, err := log.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return Wrapf(err, "invalid log level %q", cfg.Level)
		}
		l.SetLevel(lvl)
	}
	switch strings.ToLower(cfg.Formatter) {
	case "", "text":
		l.SetFormatter(log.TextFormatter)
	case "json":
		l.SetFormatter(log.JSONFormatter)
	case "logfmt":
		l.SetFormatter(log.LogfmtFormatter)
	default:
		return Newf("invalid log formatter %q", cfg.Formatter)
	}
	if cfg.Prefix != "" {
		l.SetPrefix(cfg.Prefix)
	}
	return nil
}

// SetLogOutput redirects the logger, mostly useful for tests.
func SetLogOutput(w io.Writer) {
	getLogger().SetOutput(w)
}

func LogDebug(msg string, args ...interface{}) {
	getLogger().Debugf(msg, args...)
}

func LogInfo(msg string, args ...interface{}) {
	getLogger().Infof(msg, args...)
}

func LogWarn(msg string, args ...interface{}) {
	getLogger().Warnf(msg, args...)
}

func LogError(msg string, args ...interface{}) {
	getLogger().Errorf(msg, args...)
}

func LogFatal(msg string, args ...interface{}) {
	getLogger().Fatalf(msg, args...)
}
