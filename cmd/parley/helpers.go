package main

import (
	"fmt"
	"log/slog"

	parley "github.com/parley-im/parley-go"
)

// newSession builds a session wired to the configured server and data
// directory, rendering to the terminal.
func newSession(cfg *Config) (*parley.Session, error) {
	if cfg.Server.URL == "" {
		return nil, fmt.Errorf("no server URL configured; run 'parley init <server-url>' first")
	}
	kv, err := parley.NewFileKV(cfg.Server.DataDir)
	if err != nil {
		return nil, err
	}
	sock := parley.NewWSSocket(&parley.SocketConfig{
		URL:           cfg.Server.URL,
		AutoReconnect: true,
	})
	return parley.NewSession(
		parley.WithSocket(sock),
		parley.WithKV(kv),
		parley.WithRenderer(&termRenderer{}),
		parley.WithStatusView(&termStatus{}),
		parley.WithRecorder(newFileRecorder()),
		parley.WithErrorHandler(func(err error) {
			slog.Warn("session error", "error", err)
		}),
	), nil
}

// offlineSession builds a session with no transport, for commands that only
// touch the local log.
func offlineSession(cfg *Config) (*parley.Session, error) {
	kv, err := parley.NewFileKV(cfg.Server.DataDir)
	if err != nil {
		return nil, err
	}
	return parley.NewSession(
		parley.WithKV(kv),
		parley.WithRenderer(&termRenderer{}),
		parley.WithErrorHandler(func(err error) {
			slog.Warn("session error", "error", err)
		}),
	), nil
}
