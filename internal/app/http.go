package app

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatsync/pkg/banner"
	"chatsync/pkg/cache"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/utils"
)

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "none" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "unknown" {
		verStr += " @ " + a.buildDate
	}
	banner.PrintWithEff(a.eff, verStr, cache.DiskUsage())
}

// router builds the local ops surface: health, metrics, and a read-only
// view of the reconciled local state for debugging.
func (a *App) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.readyzHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/v1/conversations", a.conversationsHandler).Methods(http.MethodGet)
	r.HandleFunc("/v1/conversations/{key}/messages", a.messagesHandler).Methods(http.MethodGet)
	r.Use(logger.RequestMiddleware)
	return r
}

func healthzHandler(w http.ResponseWriter, _ *http.Request) {
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) readyzHandler(w http.ResponseWriter, _ *http.Request) {
	if !cache.Ready() {
		utils.JSONError(w, http.StatusServiceUnavailable, "cache not ready")
		return
	}
	ver := a.version
	if ver == "" {
		ver = "dev"
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok", "version": ver})
}

func (a *App) conversationsHandler(w http.ResponseWriter, _ *http.Request) {
	keys, err := cache.ListConversations()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if keys == nil {
		keys = []string{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string][]string{"conversations": keys})
}

// messagesHandler serves the live reconciled view when a session is open
// for the conversation, falling back to the cached snapshot.
func (a *App) messagesHandler(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if _, _, err := models.SplitKey(key); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	var msgs []models.Message
	if a.mgr != nil {
		msgs = a.mgr.Messages(key)
	}
	if msgs == nil {
		msgs = cache.Restore(key)
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"conversation": key, "messages": msgs})
}

// startHTTP starts the ops HTTP server in a goroutine and returns a
// channel that will carry any server error.
func (a *App) startHTTP() <-chan error {
	a.srv = &http.Server{Addr: a.eff.Addr, Handler: a.router()}
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.srv.ListenAndServe()
	}()
	return errCh
}
