package controller

import (
	"errors"
	"net/http"

	"plantmon-server/internal/httpapi"
	"plantmon-server/internal/modules/metrics/service"
	"plantmon-server/internal/timefmt"
	"plantmon-server/internal/utils"
)

func (c *metricsControllerImpl) handleCreate(w http.ResponseWriter, r *http.Request) {
	in, err := decodeMetricInput(w, r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := c.service.CreateMetric(r.Context(), in)
	if err != nil {
		c.writeServiceError(w, r, "create metric", err)
		return
	}
	w.Header().Set("Location", metricLocation(rec.ID))
	utils.WriteJSON(w, http.StatusCreated, rec)
}

func (c *metricsControllerImpl) handleGetByID(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := c.service.ReadByID(r.Context(), id)
	if err != nil {
		c.writeServiceError(w, r, "read metric by id", err)
		return
	}
	if rec == nil {
		utils.WriteError(w, http.StatusNotFound, "metric not found")
		return
	}
	utils.WriteJSON(w, http.StatusOK, rec)
}

func (c *metricsControllerImpl) handleDeleteByID(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	ok, err := c.service.DeleteByID(r.Context(), id)
	if err != nil {
		c.writeServiceError(w, r, "delete metric by id", err)
		return
	}
	if !ok {
		utils.WriteError(w, http.StatusNotFound, "metric not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *metricsControllerImpl) handleGetAtTime(w http.ResponseWriter, r *http.Request) {
	rec, err := c.service.ReadAtTime(r.Context(), r.PathValue("time"))
	if err != nil {
		c.writeServiceError(w, r, "read metric at time", err)
		return
	}
	if rec == nil {
		utils.WriteError(w, http.StatusNotFound, "metric not found")
		return
	}
	utils.WriteJSON(w, http.StatusOK, rec)
}

func (c *metricsControllerImpl) handleGetBefore(w http.ResponseWriter, r *http.Request) {
	recs, err := c.service.ReadBeforeTime(r.Context(), r.PathValue("time"))
	if err != nil {
		c.writeServiceError(w, r, "read metrics before time", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, recs)
}

func (c *metricsControllerImpl) handleDeleteBefore(w http.ResponseWriter, r *http.Request) {
	deleted, err := c.service.DeleteBeforeTime(r.Context(), r.PathValue("time"))
	if err != nil {
		c.writeServiceError(w, r, "delete metrics before time", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, deleted)
}

func (c *metricsControllerImpl) handleSeries(w http.ResponseWriter, r *http.Request) {
	metric, order, err := parseSeriesQuery(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	bundle, err := c.service.ReadSeries(r.Context(), metric, order, r.PathValue("after"))
	if err != nil {
		c.writeServiceError(w, r, "read series", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, bundle)
}

func (c *metricsControllerImpl) handleBundle(w http.ResponseWriter, r *http.Request) {
	metrics, order, err := parseBundleQuery(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	bundle, err := c.service.ReadBundle(r.Context(), metrics, order)
	if err != nil {
		c.writeServiceError(w, r, "read bundle", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, bundle)
}

// writeServiceError maps façade errors to responses. Storage failures are
// logged and reported without detail.
func (c *metricsControllerImpl) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var tfe *timefmt.TimeFormatError
	switch {
	case errors.As(err, &tfe):
		utils.WriteError(w, http.StatusBadRequest, tfe.Error())
	case errors.Is(err, service.ErrInvalidInput):
		utils.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		c.logger.ErrorContext(r.Context(), op+" failed",
			"path", r.URL.Path,
			"request_id", httpapi.RequestID(r.Context()),
			"error", err,
		)
		utils.WriteError(w, http.StatusInternalServerError, "storage failure")
	}
}
