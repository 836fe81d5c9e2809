package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/encodeous/lsnet/state"
	"github.com/encodeous/tint"
	"github.com/goccy/go-yaml"
	slogmulti "github.com/samber/slog-multi"
)

func ReadNodeConfig(nodePath string) (*state.LocalCfg, error) {
	var nodeCfg state.LocalCfg
	file, err := os.ReadFile(nodePath)
	if err != nil {
		return nil, err
	}
	err = yaml.Unmarshal(file, &nodeCfg)
	if err != nil {
		return nil, err
	}
	return &nodeCfg, nil
}

// NewLogger builds the router's logger: colored console output plus an optional log file.
// The returned closer releases the log file.
func NewLogger(ncfg state.LocalCfg, logLevel slog.Level, console io.Writer) (*slog.Logger, func(), error) {
	handlers := make([]slog.Handler, 0)
	handlers = append(handlers,
		tint.NewHandler(console, &tint.Options{
			Level:        logLevel,
			AddSource:    false,
			CustomPrefix: ncfg.Id.String(),
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				if attr.Key == "time" {
					return slog.Attr{}
				}
				return attr
			},
		}))

	closer := func() {}
	if ncfg.LogPath != "" {
		err := os.MkdirAll(path.Dir(ncfg.LogPath), 0700)
		if err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(ncfg.LogPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: logLevel}))
		closer = func() {
			_ = f.Close()
		}
	}
	return slog.New(slogmulti.Fanout(handlers...)), closer, nil
}

// Bootstrap runs one router until the operator quits or a shutdown signal arrives.
func Bootstrap(nodePath, logPath string, verbose bool, metricsAddr string) error {
	nodeCfg, err := ReadNodeConfig(nodePath)
	if err != nil {
		return err
	}
	if logPath != "" {
		nodeCfg.LogPath = logPath
	}
	err = state.NodeConfigValidator(nodeCfg)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger, closeLog, err := NewLogger(*nodeCfg, level, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	if metricsAddr != "" {
		go func() {
			logger.Warn("metrics server stopped", "err", http.ListenAndServe(metricsAddr, nil))
		}()
	}

	e, err := New(*nodeCfg, logger)
	if err != nil {
		return err
	}
	err = e.Listen()
	if err != nil {
		return err
	}
	defer e.Shutdown()

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)
	go func() {
		select {
		case <-c:
			cancel(errors.New("received shutdown signal"))
		case <-ctx.Done():
		}
	}()

	logger.Info("lsnet has been initialized. Type help for commands; to exit, type quit or send SIGINT.")
	err = NewConsole(e, os.Stdout).Run(ctx, os.Stdin)
	if cause := context.Cause(ctx); cause != nil {
		logger.Info("stopping", "reason", cause.Error())
	}
	return err
}
