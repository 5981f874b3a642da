package handler

import (
	"net/http"

	"github.com/varejoflow/crm-automation/internal/domain"
	"github.com/varejoflow/crm-automation/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// listNotificationsHandler serves the caller's own inbox. ?unread=true filters read rows.
func listNotificationsHandler(svc *service.NotificationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/notifications")
		defer span.End()

		companyID, userID := tenant(r)
		page, pageSize := parsePagination(r)
		unreadOnly := r.URL.Query().Get("unread") == "true"

		items, err := svc.ListForUser(ctx, companyID, userID, unreadOnly, page, pageSize)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if items == nil {
			items = []domain.Notification{}
		}
		writeJSON(w, http.StatusOK, listResponse[domain.Notification]{Data: items, Page: page, PageSize: pageSize})
	}
}

func markNotificationReadHandler(svc *service.NotificationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/notifications/{id}/read")
		defer span.End()

		companyID, userID := tenant(r)
		if err := svc.MarkRead(ctx, companyID, userID, chi.URLParam(r, "id")); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
