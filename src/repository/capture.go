package repository

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"time"

	logger "github.com/sirupsen/logrus"

	"gridexecutor/src/model"
)

const ServiceName = "grid_executor"

// Capture records a system exception, logs it locally, and optionally
// persists it in the database. A nil repo only logs.
func Capture(
	ctx context.Context,
	repo *ExceptionRepository,
	module string,
	method string,
	pair string,
	level string,
	err error,
	contextData map[string]interface{},
) {

	if err == nil {
		return
	}

	var ctxJSON string
	if contextData != nil {
		if b, e := json.Marshal(contextData); e == nil {
			ctxJSON = string(b)
		}
	}

	exc := &model.Exception{
		Service:   ServiceName,
		Module:    module,
		Method:    method,
		Pair:      pair,
		Message:   err.Error(),
		Stack:     string(debug.Stack()),
		Level:     level,
		Context:   ctxJSON,
		CreatedAt: time.Now(),
	}

	logger.WithFields(map[string]interface{}{
		"module": module,
		"method": method,
		"pair":   pair,
		"level":  level,
	}).WithError(err).Error("System exception captured")

	if repo != nil {
		if e := repo.Create(ctx, exc); e != nil {
			logger.WithError(e).Error("Failed to persist exception")
		}
	}
}
