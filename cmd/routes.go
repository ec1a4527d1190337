package main

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/kong/redundant-db/pkg/redundant"
	"go.uber.org/zap"
)

func (ac *appContext) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", ac.getHealth).Methods("GET")
	r.HandleFunc("/stats", ac.getStats).Methods("GET")
	r.HandleFunc("/connect", ac.getConnect).Methods("GET")
	r.HandleFunc("/loglevel", ac.putLogLevel).Methods("PUT").Queries("level", "{level}")
	return r
}

func (ac *appContext) getHealth(w http.ResponseWriter, _ *http.Request) {
	ac.respond(w, http.StatusOK, envelope{"status": "ok"})
}

func (ac *appContext) getStats(w http.ResponseWriter, r *http.Request) {
	snap, err := ac.Connector.StatsSnapshot(r.Context())
	if err != nil {
		ac.logError(err)
		ac.errorResponse(w, http.StatusServiceUnavailable, "Failed to read stats store")
		return
	}
	ac.respond(w, http.StatusOK, envelope{
		"stats":           snap,
		"connectedServer": ac.Connector.ConnectedServer(),
	})
}

// getConnect runs one full Connect, verifies the handle and closes it again.
func (ac *appContext) getConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := ac.Connector.Connect(r.Context())
	if errors.Is(err, redundant.ErrAllReplicasUnreachable) {
		ac.errorResponse(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		ac.logError(err)
		ac.errorResponse(w, http.StatusInternalServerError, "Failed to connect")
		return
	}
	defer func() {
		if cerr := conn.Handle.Close(); cerr != nil {
			ac.Logger.Warn("closing probe connection failed", zap.Error(cerr))
		}
	}()
	if err := conn.Handle.PingContext(r.Context()); err != nil {
		ac.logError(err)
		ac.errorResponse(w, http.StatusBadGateway, "Connected replica failed ping")
		return
	}
	ac.respond(w, http.StatusOK, envelope{
		"replica":   conn.Replica,
		"elapsedMS": float64(conn.Elapsed.Microseconds()) / 1000,
		"frozen":    conn.Frozen,
	})
}

func (ac *appContext) putLogLevel(w http.ResponseWriter, r *http.Request) {
	level := mux.Vars(r)["level"]
	if err := SetLevel(level); err != nil {
		ac.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	ac.respond(w, http.StatusOK, envelope{"level": level})
}
