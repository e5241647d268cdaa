package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SystemInfo godoc
// @ID          systemInfo
// @Summary     Runtime information
// @Description Version, uptime, store counts, executor stats, realtime subscribers and the configured OCR engine.
// @Tags        System
// @Produce     json
//
// @Success     200  {object} services.SystemInfo
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /system/info [get]
func (h *Handlers) SystemInfo(c *gin.Context) {
	info, err := h.sysSvc.Info(c.Request.Context())
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, info)
}
