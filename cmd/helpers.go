package main

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"
)

type envelope map[string]interface{}

func writeJSON(w http.ResponseWriter, status int, data envelope) error {
	js, err := json.MarshalIndent(data, "", "\t")
	if err != nil {
		return err
	}
	js = append(js, '\n')
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(js)
	return err
}

// respond writes payload and logs it at debug level.
func (ac *appContext) respond(w http.ResponseWriter, status int, payload envelope) {
	if err := writeJSON(w, status, payload); err != nil {
		ac.logError(err)
		return
	}
	if ce := ac.Logger.Check(zap.DebugLevel, "response"); ce != nil {
		js, err := json.Marshal(envelope{"payload": payload})
		if err != nil {
			ac.logError(err)
			return
		}
		ce.Write(zap.Int("status", status), zap.ByteString("body", js))
	}
}

func (ac *appContext) errorResponse(w http.ResponseWriter, status int, message interface{}) {
	if err := writeJSON(w, status, envelope{"error": message}); err != nil {
		ac.logError(err)
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func (ac *appContext) logError(err error) {
	ac.Logger.Sugar().Errorf("%s\n%s", err.Error(), debug.Stack())
}
