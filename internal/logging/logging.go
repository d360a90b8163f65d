// Package logging builds the invclient process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/grafana/loki-client-go/loki"
	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"

	"github.com/fridgeinv/dbsock/internal/config"
)

const defaultApp = "invclient"

// Setup creates a logger for component (the subcommand being run) writing to stderr and,
// when enabled, to Loki. The returned cleanup flushes pending Loki entries.
func Setup(cfg config.LoggingConfig, component string) (zerolog.Logger, func(), error) {
	var sink entrySink
	cleanup := func() {}
	if cfg.Loki.Enabled {
		client, err := newLokiClient(cfg.Loki)
		if err != nil {
			return zerolog.Logger{}, nil, err
		}
		sink, cleanup = client, client.Stop
	}
	logger, err := build(cfg, component, os.Stderr, sink)
	if err != nil {
		cleanup()
		return zerolog.Logger{}, nil, err
	}
	return logger, cleanup, nil
}

// build assembles the logger. sink may be nil.
func build(cfg config.LoggingConfig, component string, out io.Writer, sink entrySink) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	if cfg.Format == "text" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	w := zerolog.MultiLevelWriter(out)
	if sink != nil {
		w = zerolog.MultiLevelWriter(out, newLokiWriter(sink, cfg.Loki.Labels, component))
	}

	ctx := zerolog.New(w).With().Timestamp()
	if component != "" {
		ctx = ctx.Str("component", component)
	}
	return ctx.Logger().Level(level), nil
}

func newLokiClient(cfg config.LokiConfig) (*loki.Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("loki url is required")
	}
	lokiCfg, err := loki.NewDefaultConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("prepare loki config: %w", err)
	}
	client, err := loki.New(lokiCfg)
	if err != nil {
		return nil, fmt.Errorf("create loki client: %w", err)
	}
	return client, nil
}

// -----------------------------------------------------------------------------------------------

// entrySink receives log lines with their stream labels; *loki.Client implements it
type entrySink interface {
	Handle(labels model.LabelSet, t time.Time, entry string) error
}

// lokiWriter ships JSON log lines to a stream per level, so Loki can select on severity
// without parsing the line
type lokiWriter struct {
	sink   entrySink
	labels model.LabelSet
}

func newLokiWriter(sink entrySink, labels map[string]string, component string) *lokiWriter {
	set := model.LabelSet{"app": defaultApp}
	for k, v := range labels {
		set[model.LabelName(k)] = model.LabelValue(v)
	}
	if component != "" {
		set["component"] = model.LabelValue(component)
	}
	return &lokiWriter{sink: sink, labels: set}
}

func (l *lokiWriter) Write(p []byte) (int, error) {
	return l.WriteLevel(zerolog.NoLevel, p)
}

func (l *lokiWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	entry := strings.TrimSpace(string(p))
	if entry == "" {
		return len(p), nil
	}
	labels := l.labels
	if level != zerolog.NoLevel {
		labels = l.labels.Merge(model.LabelSet{"level": model.LabelValue(level.String())})
	}
	return len(p), l.sink.Handle(labels, time.Now(), entry)
}
