package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"release_notifier/internal/domain"
)

const cycleResetMessage = "Cycle completed, checkpoint reset"

type TriggerResponse struct {
	Success              bool       `json:"success"`
	Message              string     `json:"message,omitempty"`
	UsersProcessed       int        `json:"usersProcessed"`
	NotificationsCreated int        `json:"notificationsCreated"`
	ExecutionTime        int64      `json:"executionTime"`
	NextCheckpoint       *uuid.UUID `json:"nextCheckpoint"`
	CycleCompleted       bool       `json:"cycleCompleted"`
	DeadlineReached      bool       `json:"deadlineReached"`
}

// Trigger exposes the release check to an external scheduler.
type Trigger struct {
	runner Runner
	logger *slog.Logger
}

func NewTrigger(runner Runner, logger *slog.Logger) *Trigger {
	return &Trigger{
		runner: runner,
		logger: logger.With("component", "trigger"),
	}
}

// Invoke runs the release check for the given Authorization header value and
// returns the HTTP status and JSON body to answer with. A run cut short by
// its execution budget is still a success.
func (t *Trigger) Invoke(ctx context.Context, authorization string) (int, any) {
	summary, err := t.runner.Run(ctx, bearerToken(authorization))
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, errorResponse{Error: "Unauthorized"}
	case errors.Is(err, domain.ErrRunInProgress):
		return http.StatusConflict, errorResponse{Error: err.Error()}
	case err != nil:
		t.logger.Error("release check failed", "error", err)
		return http.StatusInternalServerError, errorResponse{Error: err.Error()}
	}

	resp := TriggerResponse{
		Success:              true,
		UsersProcessed:       summary.UsersProcessed,
		NotificationsCreated: summary.NotificationsCreated,
		ExecutionTime:        summary.Duration.Milliseconds(),
		NextCheckpoint:       summary.NextCheckpoint,
		CycleCompleted:       summary.CycleCompleted,
		DeadlineReached:      summary.DeadlineReached,
	}
	if summary.CycleCompleted {
		resp.Message = cycleResetMessage
	}
	return http.StatusOK, resp
}

func (t *Trigger) HandleCheckNewReleases(w http.ResponseWriter, r *http.Request) {
	status, body := t.Invoke(r.Context(), r.Header.Get("Authorization"))
	writeJSON(w, status, body)
}
