package controllers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketsplit-backend/api/responses"
	"github.com/angelmondragon/marketsplit-backend/api/validators"
	"github.com/angelmondragon/marketsplit-backend/internal/webhookfailures"
	"github.com/angelmondragon/marketsplit-backend/pkg/db/models"
	"github.com/angelmondragon/marketsplit-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketsplit-backend/pkg/errors"
	"github.com/angelmondragon/marketsplit-backend/pkg/logger"
)

type webhookFailureResponse struct {
	ID            uuid.UUID                  `json:"id"`
	Provider      string                     `json:"provider"`
	EventType     string                     `json:"event_type"`
	EventID       string                     `json:"event_id"`
	FailureReason string                     `json:"failure_reason"`
	Status        enums.WebhookFailureStatus `json:"status"`
	RetryCount    int                        `json:"retry_count"`
	DeliveryCount int                        `json:"delivery_count"`
	LastRetryAt   *time.Time                 `json:"last_retry_at,omitempty"`
	NextRetryAt   time.Time                  `json:"next_retry_at"`
	ResolvedAt    *time.Time                 `json:"resolved_at,omitempty"`
	SourceIP      *string                    `json:"source_ip,omitempty"`
	Metadata      json.RawMessage            `json:"metadata,omitempty"`
	CreatedAt     time.Time                  `json:"created_at"`
}

// The stored payload is never returned.
func newWebhookFailureResponse(f models.WebhookFailure) webhookFailureResponse {
	resp := webhookFailureResponse{
		ID:            f.ID,
		Provider:      f.Provider,
		EventType:     f.EventType,
		EventID:       f.EventID,
		FailureReason: f.FailureReason,
		Status:        f.Status,
		RetryCount:    f.RetryCount,
		DeliveryCount: f.DeliveryCount,
		LastRetryAt:   f.LastRetryAt,
		NextRetryAt:   f.NextRetryAt,
		ResolvedAt:    f.ResolvedAt,
		SourceIP:      f.SourceIP,
		CreatedAt:     f.CreatedAt,
	}
	if len(f.Metadata) > 0 {
		resp.Metadata = json.RawMessage(f.Metadata)
	}
	return resp
}

// AdminWebhookFailures lists ledger entries, optionally filtered by status.
func AdminWebhookFailures(svc webhookfailures.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook failure service unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.List(r.Context(), strings.TrimSpace(r.URL.Query().Get("status")), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items := make([]webhookFailureResponse, 0, len(rows))
		for _, row := range rows {
			items = append(items, newWebhookFailureResponse(row))
		}
		responses.WriteSuccess(w, items)
	}
}

// AdminWebhookFailure returns a single ledger entry.
func AdminWebhookFailure(svc webhookfailures.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook failure service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "failureId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		failure, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newWebhookFailureResponse(*failure))
	}
}

// AdminReplayWebhookFailure reprocesses a ledger entry immediately,
// ignoring its backoff schedule.
func AdminReplayWebhookFailure(svc webhookfailures.Service, proc webhookfailures.Reprocessor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || proc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook replay unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "failureId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		failure, err := svc.Replay(r.Context(), id, proc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newWebhookFailureResponse(*failure))
	}
}
