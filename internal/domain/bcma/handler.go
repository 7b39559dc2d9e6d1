package bcma

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/emar/emar/internal/platform/auth"
	"github.com/emar/emar/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	administer := auth.RequireRole("admin", "nurse", "charge_nurse")
	review := auth.RequireRole("admin", "physician", "nurse", "charge_nurse")

	sessions := api.Group("/bcma", administer)
	sessions.POST("/sessions", h.StartSession)
	sessions.GET("/sessions/:id", h.GetSession)
	sessions.DELETE("/sessions/:id", h.CancelSession)
	sessions.POST("/sessions/:id/scan", h.Scan)
	sessions.POST("/sessions/:id/manual", h.ManualToken)
	sessions.POST("/sessions/:id/override", h.Override)
	sessions.POST("/sessions/:id/proceed", h.Proceed)
	sessions.POST("/sessions/:id/reset", h.Reset)

	labels := api.Group("/bcma/labels", review)
	labels.GET("/patients/:id", h.PatientLabel)
	labels.GET("/orders/:id", h.OrderLabel)

	audit := api.Group("", review)
	audit.GET("/administrations", h.ListAdministrations)
	audit.GET("/administrations/:id", h.GetAdministration)
}

// mapError translates domain sentinels to HTTP status codes: missing
// entities are 404, conflicts with session or storage state are 409,
// policy and rights failures are 422, and anything else from
// persistence is a 500.
func mapError(err error) error {
	switch {
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrOrderNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrSessionActive),
		errors.Is(err, ErrDuplicateAdministration),
		errors.Is(err, ErrSessionTerminal),
		errors.Is(err, ErrScanNotExpected):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrOverrideNotAllowed),
		errors.Is(err, ErrRightsUnsatisfied),
		errors.Is(err, ErrOrderInactive):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func sessionID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid session id")
	}
	return id, nil
}

type startSessionRequest struct {
	OrderID uuid.UUID `json:"order_id"`
}

func (h *Handler) StartSession(c echo.Context) error {
	var req startSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.OrderID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "order_id is required")
	}

	userID := auth.UserIDFromContext(c.Request().Context())
	session, err := h.svc.StartSession(c.Request().Context(), req.OrderID, userID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, session.Snapshot())
}

func (h *Handler) GetSession(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	session, err := h.svc.GetSession(id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, session.Snapshot())
}

func (h *Handler) CancelSession(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	if err := h.svc.CancelSession(id); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type scanRequest struct {
	Token  string     `json:"token"`
	Source ScanSource `json:"source,omitempty"`
}

func (h *Handler) Scan(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	var req scanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token is required")
	}
	if req.Source == "" {
		req.Source = SourceDevice
	}

	snap, err := h.svc.Scan(c.Request().Context(), id, req.Token, req.Source)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

type manualTokenRequest struct {
	Step  ScanStep `json:"step"`
	Token string   `json:"token"`
}

func (h *Handler) ManualToken(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	var req manualTokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Step != StepPatientToken && req.Step != StepMedicationToken {
		return echo.NewHTTPError(http.StatusBadRequest, "step must be patient or medication")
	}
	if req.Token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token is required")
	}

	snap, err := h.svc.ManualToken(c.Request().Context(), id, req.Step, req.Token)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

type overrideRequest struct {
	Right  RightName `json:"right"`
	Reason string    `json:"reason,omitempty"`
}

func (h *Handler) Override(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	var req overrideRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !req.Right.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown right")
	}

	userID := auth.UserIDFromContext(c.Request().Context())
	snap, err := h.svc.Override(c.Request().Context(), id, req.Right, userID, req.Reason)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

type proceedRequest struct {
	Notes string `json:"notes,omitempty"`
}

func (h *Handler) Proceed(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	var req proceedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	rec, err := h.svc.Proceed(c.Request().Context(), id, req.Notes)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) Reset(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	snap, err := h.svc.ResetSession(id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) PatientLabel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	token, err := h.svc.PatientLabel(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	return c.JSON(http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) OrderLabel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	token, err := h.svc.OrderLabel(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "order not found")
	}
	return c.JSON(http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) ListAdministrations(c echo.Context) error {
	pg := pagination.FromContext(c)

	var patientID, orderID *uuid.UUID
	if raw := c.QueryParam("patient_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		patientID = &id
	}
	if raw := c.QueryParam("order_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid order_id")
		}
		orderID = &id
	}

	items, total, err := h.svc.ListAdministrations(c.Request().Context(), patientID, orderID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetAdministration(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, err := h.svc.GetAdministration(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "administration not found")
	}
	return c.JSON(http.StatusOK, rec)
}
