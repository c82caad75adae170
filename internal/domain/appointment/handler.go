package appointment

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/nexacare/nexacare/internal/platform/auth"
	"github.com/nexacare/nexacare/internal/platform/middleware"
	"github.com/nexacare/nexacare/pkg/pagination"
)

// rolePrecedence decides which role a multi-role token acts under.
var rolePrecedence = []string{
	string(RoleAdmin), string(RoleStaff), string(RoleHospital),
	string(RoleReceptionist), string(RoleDoctor), string(RolePatient),
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(rolePrecedence...))
	g.GET("/slots", h.ListSlots)
	g.GET("/appointments/availability/:doctorId/:date", h.Availability)
	g.POST("/appointments", h.Book)
	g.GET("/appointments", h.List)
	g.GET("/appointments/:id", h.Get)
	g.PATCH("/appointments/:id/status", h.UpdateStatus)
}

func callerFrom(c echo.Context) Caller {
	ctx := c.Request().Context()
	return Caller{
		ID:   auth.UserIDFromContext(ctx),
		Role: Role(auth.PrimaryRole(auth.RolesFromContext(ctx), rolePrecedence...)),
	}
}

// httpError maps service errors onto responses.
func httpError(err error) error {
	var de *Error
	if errors.As(err, &de) {
		return echo.NewHTTPError(statusFor(de), middleware.ErrorBody{
			Code:    de.Code,
			Message: de.Message,
			Fields:  de.Fields,
		})
	}
	if errors.Is(err, ErrStorage) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, middleware.ErrorBody{
			Code:    CodeStorage,
			Message: "appointment store unavailable, retry later",
		})
	}
	return err
}

func statusFor(e *Error) int {
	switch {
	case errors.Is(e, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(e, ErrInvalidSlot):
		return http.StatusUnprocessableEntity
	case errors.Is(e, ErrSlotConflict), errors.Is(e, ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(e, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(e, ErrForbidden):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func badRequest(field, msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, middleware.ErrorBody{
		Code:    CodeValidation,
		Message: msg,
		Fields:  []string{field},
	})
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, badRequest("id", "invalid appointment id")
	}
	return id, nil
}

// ListSlots returns the clinic's canonical slot labels.
func (h *Handler) ListSlots(c echo.Context) error {
	w := h.svc.Policy().Window
	return c.JSON(http.StatusOK, map[string]interface{}{
		"window": w,
		"slots":  h.svc.Slots(),
	})
}

type availabilityResponse struct {
	DoctorID       string   `json:"doctor_id"`
	Date           Date     `json:"date"`
	AvailableSlots []string `json:"available_slots"`
}

func (h *Handler) Availability(c echo.Context) error {
	date, err := ParseDate(c.Param("date"))
	if err != nil {
		return badRequest("date", err.Error())
	}
	doctorID := c.Param("doctorId")
	free, err := h.svc.AvailableSlots(c.Request().Context(), doctorID, date)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, availabilityResponse{DoctorID: doctorID, Date: date, AvailableSlots: free})
}

func (h *Handler) Book(c echo.Context) error {
	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) && he.Code != http.StatusBadRequest {
			return he
		}
		return badRequest("body", "request body must be a JSON booking request")
	}
	a, err := h.svc.Book(c.Request().Context(), callerFrom(c), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), callerFrom(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

// List serves either a doctor's day (doctor_id and date) or a patient's
// history (patient_id). Patients without a filter get their own history.
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	caller := callerFrom(c)

	if doctorID := c.QueryParam("doctor_id"); doctorID != "" {
		date, err := ParseDate(c.QueryParam("date"))
		if err != nil {
			return badRequest("date", err.Error())
		}
		items, err := h.svc.ListForDoctorDay(ctx, caller, doctorID, date)
		if err != nil {
			return httpError(err)
		}
		if items == nil {
			items = []*Appointment{}
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
	}

	patientID := strings.TrimSpace(c.QueryParam("patient_id"))
	if patientID == "" && caller.Role == RolePatient {
		patientID = caller.ID
	}
	if patientID == "" {
		return badRequest("patient_id", "either doctor_id and date or patient_id is required")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(ctx, caller, patientID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithLinks(c.Request().URL.Path, c.QueryParams()))
}

type statusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("body", "request body must be {\"status\": ..., \"reason\": ...}")
	}
	target, err := ParseStatus(req.Status)
	if err != nil {
		return badRequest("status", err.Error())
	}
	t, err := TransitionTo(target)
	if err != nil {
		return badRequest("status", err.Error())
	}
	a, err := h.svc.Transition(c.Request().Context(), callerFrom(c), id, t, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}
