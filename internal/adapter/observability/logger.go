package observability

import (
	"io"
	"log/slog"
	"log/syslog"
	"os"

	"github.com/rebase-inc/knowledge-scanner/internal/config"
)

// SetupLogger configures a JSON slog logger with environment fields. When
// cfg.SyslogAddr is set, log records are additionally mirrored to a syslog
// endpoint (UDP), matching the original rebase-inc rsyslog shipping setup
// (SPEC_FULL.md §6 supplement #3) on top of the teacher's stdout JSON
// handler.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{}
	// In dev, show debug level; in prod, default to info
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}

	w := io.Writer(os.Stdout)
	if cfg.SyslogAddr != "" {
		sw, err := syslog.Dial("udp", cfg.SyslogAddr, syslog.LOG_INFO|syslog.LOG_DAEMON, cfg.OTELServiceName)
		if err != nil {
			slog.Warn("syslog dial failed; logging to stdout only", slog.String("addr", cfg.SyslogAddr), slog.Any("error", err))
		} else {
			w = io.MultiWriter(w, sw)
		}
	}

	h := slog.NewJSONHandler(w, opts)
	logger := slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
	return logger
}
