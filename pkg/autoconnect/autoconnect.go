// Package autoconnect restores a previous wallet session at startup without
// prompting the user
package autoconnect

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sigweihq/solwallet/pkg/connection"
	"github.com/sigweihq/solwallet/pkg/detector"
	"github.com/sigweihq/solwallet/pkg/storage"
)

type Options struct {
	Manager  *connection.Manager
	Detector *detector.Detector
	Logger   *slog.Logger
}

// AutoConnector tries, in order, the persisted connector id, the legacy
// persisted wallet name among detected wallets, and direct detection of an
// injected wallet under that name
type AutoConnector struct {
	manager  *connection.Manager
	detector *detector.Detector
	logger   *slog.Logger
}

func New(opts Options) *AutoConnector {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &AutoConnector{
		manager:  opts.Manager,
		detector: opts.Detector,
		logger:   opts.Logger,
	}
}

// AttemptAutoConnect reports whether a session was restored. Failures are
// logged and never returned.
func (a *AutoConnector) AttemptAutoConnect(ctx context.Context) (connected bool) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("auto-connect panicked", "panic", r)
			connected = false
		}
	}()

	if a.manager == nil || a.detector == nil {
		a.logger.Warn("auto-connect skipped, manager or detector missing")
		return false
	}

	ok, err := a.restoreState(ctx)
	if ok {
		return true
	}
	if err != nil {
		a.logger.Warn("auto-connect from wallet state failed", "error", err)
	}

	ok, err = a.restoreName(ctx)
	if err != nil {
		a.logger.Warn("auto-connect from wallet name failed", "error", err)
	}
	return ok
}

// restoreState is the connector id path. It returns false with a nil error
// when there is nothing to restore.
func (a *AutoConnector) restoreState(ctx context.Context) (bool, error) {
	ws, ok := a.manager.StateStorage().Get()
	if !ok || !ws.AutoConnect {
		return false, nil
	}
	if err := storage.ValidateWalletState(ws); err != nil {
		return false, err
	}

	w, ok := a.detector.Wallet(ws.ConnectorID)
	if !ok {
		return false, fmt.Errorf("no wallet registered for connector %s", ws.ConnectorID)
	}

	session, err := a.manager.ConnectWallet(ctx, w, ws.ConnectorID, connection.ConnectOptions{
		Silent:                   true,
		AllowInteractiveFallback: false,
		PreferredAccount:         ws.LastAccount,
	})
	if err != nil {
		return false, fmt.Errorf("silent connect to %s: %w", ws.ConnectorID, err)
	}

	a.logger.Info("wallet session restored", "connectorId", ws.ConnectorID, "account", session.Selected().Address)
	return true, nil
}

func (a *AutoConnector) restoreName(ctx context.Context) (bool, error) {
	name, ok := a.manager.NameStorage().Get()
	if !ok || name == "" {
		return false, nil
	}

	w, ok := a.detector.WalletByName(name)
	if !ok {
		a.logger.Debug("wallet not detected yet, probing injected providers", "wallet", name)
		if w, ok = a.detector.DetectDirectWallet(name); !ok {
			return false, fmt.Errorf("wallet %s not found", name)
		}
	}

	if err := a.manager.Connect(ctx, w, name); err != nil {
		return false, fmt.Errorf("connect to %s: %w", name, err)
	}
	a.logger.Info("wallet session restored", "wallet", name)
	return true, nil
}
