// internal/api/handler/export.go
package handler

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"creditledger/internal/domain"
	"creditledger/internal/service"
	"creditledger/internal/util"
)

const dateLayout = "2006-01-02"

// ExportHandler serves CSV exports.
type ExportHandler struct {
	responder
	service service.ExportService
}

// NewExportHandler creates a new ExportHandler.
func NewExportHandler(svc service.ExportService, logger *zap.Logger) *ExportHandler {
	return &ExportHandler{
		responder: responder{logger: logger},
		service:   svc,
	}
}

// Export handles GET /exports/{kind}?date_from=&date_to=&status=&ids=a,b.
func (h *ExportHandler) Export(w http.ResponseWriter, r *http.Request) {
	kind := domain.ExportKind(chi.URLParam(r, "kind"))
	filter, err := parseExportFilter(r.URL.Query())
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	table, err := h.service.Export(r.Context(), kind, filter)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-export.csv"`, kind))
	w.Header().Set("X-Export-Consistency", "snapshot")
	w.WriteHeader(http.StatusOK)
	if err := h.service.WriteCSV(w, table); err != nil {
		// Headers are gone; all that is left is to log.
		h.logger.Error("failed to write export", zap.String("kind", string(kind)), zap.Error(err))
	}
}

func parseExportFilter(q url.Values) (domain.ExportFilter, error) {
	var filter domain.ExportFilter
	if v := strings.TrimSpace(q.Get("date_from")); v != "" {
		from, err := parseDate(v, false)
		if err != nil {
			return filter, util.NewValidationError("date_from", err.Error())
		}
		filter.DateFrom = &from
	}
	if v := strings.TrimSpace(q.Get("date_to")); v != "" {
		to, err := parseDate(v, true)
		if err != nil {
			return filter, util.NewValidationError("date_to", err.Error())
		}
		filter.DateTo = &to
	}
	filter.Status = strings.TrimSpace(q.Get("status"))
	for _, id := range strings.Split(q.Get("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			filter.IDs = append(filter.IDs, id)
		}
	}
	return filter, nil
}

// parseDate accepts RFC 3339 or a bare date. A bare upper bound covers the whole day.
func parseDate(v string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD or RFC 3339, got %q", v)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
