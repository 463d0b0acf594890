package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"chatsync/pkg/cache"
	"chatsync/pkg/config"
	"chatsync/pkg/convstore"
	"chatsync/pkg/dedup"
	"chatsync/pkg/logger"
	"chatsync/pkg/normalize"
	"chatsync/pkg/realtime"
	"chatsync/pkg/restclient"
	"chatsync/pkg/session"
	"chatsync/pkg/state"
	"chatsync/pkg/validation"
)

// App encapsulates the sync components and their lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	rest *restclient.Client
	rt   *realtime.Manager
	mgr  *session.Manager

	srv *http.Server
}

// New initializes resources that do not require a running context: state
// dirs, the durable cache, validation rules and the REST client. Call Run
// to dial the realtime transport, start the ops HTTP surface and block
// until shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	if err := validateConfig(eff); err != nil {
		return nil, err
	}
	if err := state.EnsureStateDirs(eff.CachePath); err != nil {
		return nil, err
	}
	if err := cache.Open(state.PathsVar.Store); err != nil {
		return nil, fmt.Errorf("failed to open cache at %s: %w", state.PathsVar.Store, err)
	}

	v := eff.Config.Validation
	validation.SetRules(validation.Rules{
		MaxContentLen:    v.MaxContentLen,
		MaxMediaRefs:     v.MaxMediaRefs,
		RequireTimestamp: v.RequireTimestamp,
	})

	a := &App{eff: eff, version: version, commit: commit, buildDate: buildDate}
	if api := eff.Config.API; api.BaseURL != "" {
		a.rest = restclient.New(restclient.Config{
			BaseURL: api.BaseURL,
			APIKey:  api.Key,
			Timeout: time.Duration(api.Timeout),
			RPS:     api.Rate.RPS,
			Burst:   api.Rate.Burst,
		})
	}
	return a, nil
}

// Run dials the realtime transport, wires the session manager, starts the
// ops HTTP server and blocks until ctx is canceled or a fatal server
// error occurs.
func (a *App) Run(ctx context.Context) error {
	var users normalize.UserDirectory
	var source normalize.MessageSource
	if a.rest != nil {
		users = a.rest
		source = a.rest
	}

	var transport session.Transport
	if rtCfg := a.eff.Config.Realtime; rtCfg.URL != "" {
		rt, err := realtime.Dial(ctx, rtCfg.URL, rtCfg.Key)
		if err != nil {
			// degraded mode: cache + REST still work
			logger.Warn("realtime_dial_failed", "url", rtCfg.URL, "error", err)
		} else {
			a.rt = rt
			transport = rt
		}
	}

	store := convstore.New(cache.Synchronizer{})
	norm := normalize.New(users, source, a.eff.Config.Sync.SelfID)
	a.mgr = session.NewManager(a.eff.Config.Sync.SelfID, store, dedup.NewLedger(),
		norm, source, transport, a.eff.Config.Sync.RefetchCron, a.eff.Config.Sync.QueueCapacity)

	a.printBanner()
	errCh := a.startHTTP()

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		return err
	}
}

// Manager exposes the session manager (used by tests and embedding apps).
func (a *App) Manager() *session.Manager { return a.mgr }

func (a *App) shutdown() {
	if a.mgr != nil {
		a.mgr.CloseAll()
	}
	if a.rt != nil {
		a.rt.Shutdown()
	}
	if a.srv != nil {
		_ = a.srv.Close()
	}
	if err := cache.Close(); err != nil {
		logger.Error("cache_close_failed", "error", err)
	}
}
