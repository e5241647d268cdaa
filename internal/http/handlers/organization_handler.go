package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// OrganizationRequest is the JSON payload for creating or updating an organization.
type OrganizationRequest struct {
	Name        string `json:"name"        binding:"required,min=1,max=255" example:"Acme Logistics"`
	Description string `json:"description" binding:"max=2000"               example:"Freight customers, EU region"`
}

// DeleteOrganizationResponse reports how many chats lost their organization.
type DeleteOrganizationResponse struct {
	DetachedChats int64 `json:"detached_chats"`
}

// CreateOrganization godoc
// @ID          createOrganization
// @Summary     Create an organization
// @Tags        Organizations
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.OrganizationRequest  true  "Organization"
//
// @Success     201  {object} domain.Organization
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     409  {object} handlers.ErrorResponse "Name already exists"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /organizations [post]
func (h *Handlers) CreateOrganization(c *gin.Context) {
	var req OrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name required (1-255 chars)")
		return
	}
	org, err := h.orgSvc.Create(c.Request.Context(), req.Name, req.Description)
	if err != nil {
		failService(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, org)
}

// ListOrganizations godoc
// @ID          listOrganizations
// @Summary     List organizations with their chat counts
// @Tags        Organizations
// @Produce     json
//
// @Success     200  {array}  services.OrganizationView
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /organizations [get]
func (h *Handlers) ListOrganizations(c *gin.Context) {
	items, err := h.orgSvc.List(c.Request.Context())
	if err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, items)
}

// GetOrganization godoc
// @ID          getOrganization
// @Summary     Get an organization
// @Tags        Organizations
// @Produce     json
//
// @Param       id  path  string  true  "Organization ID (UUID)"  format(uuid)
//
// @Success     200  {object} services.OrganizationView
// @Failure     404  {object} handlers.ErrorResponse "Organization not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /organizations/{id} [get]
func (h *Handlers) GetOrganization(c *gin.Context) {
	org, err := h.orgSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, org)
}

// UpdateOrganization godoc
// @ID          updateOrganization
// @Summary     Update an organization
// @Tags        Organizations
// @Accept      json
// @Produce     json
//
// @Param       id    path  string  true  "Organization ID (UUID)"  format(uuid)
// @Param       body  body  handlers.OrganizationRequest  true  "Organization"
//
// @Success     200  {object} domain.Organization
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Organization not found"
// @Failure     409  {object} handlers.ErrorResponse "Name already exists"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /organizations/{id} [put]
func (h *Handlers) UpdateOrganization(c *gin.Context) {
	var req OrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name required (1-255 chars)")
		return
	}
	org, err := h.orgSvc.Update(c.Request.Context(), c.Param("id"), req.Name, req.Description)
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, org)
}

// DeleteOrganization godoc
// @ID          deleteOrganization
// @Summary     Delete an organization
// @Description Deletes the organization and clears it from every member chat.
// @Tags        Organizations
// @Produce     json
//
// @Param       id  path  string  true  "Organization ID (UUID)"  format(uuid)
//
// @Success     200  {object} handlers.DeleteOrganizationResponse
// @Failure     404  {object} handlers.ErrorResponse "Organization not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /organizations/{id} [delete]
func (h *Handlers) DeleteOrganization(c *gin.Context) {
	n, err := h.orgSvc.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, DeleteOrganizationResponse{DetachedChats: n})
}
