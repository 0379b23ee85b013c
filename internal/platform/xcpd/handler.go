package xcpd

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Handler exposes the classifier over HTTP for the transport layer.
type Handler struct {
	classifier *Classifier
	recorder   Recorder
	validate   *validator.Validate
	logger     zerolog.Logger
}

// NewHandler creates a classify handler. recorder may be nil.
func NewHandler(classifier *Classifier, recorder Recorder, logger zerolog.Logger) *Handler {
	return &Handler{
		classifier: classifier,
		recorder:   recorder,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     logger,
	}
}

// RegisterRoutes registers the XCPD endpoints on the provided route group.
//
//	POST /api/v1/xcpd/classify - classify a gateway reply
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/xcpd/classify", h.Classify)
}

// Classify handles POST /api/v1/xcpd/classify. Every well-formed request
// gets a 200 with the outcome, whatever the gateway said.
func (h *Handler) Classify(c echo.Context) error {
	var reply GatewayReply
	if err := c.Bind(&reply); err != nil {
		if errors.Is(err, echo.ErrStatusRequestEntityTooLarge) {
			return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
				"error": "request body too large",
			})
		}
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}
	if err := h.validate.Struct(&reply); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	}

	ctx := c.Request().Context()
	outcome := h.classifier.Classify(ctx, &reply)

	if h.recorder != nil {
		if err := h.recorder.Record(ctx, outcome); err != nil {
			h.logger.Error().Err(err).Str("request_id", outcome.ID).Msg("failed to record xcpd outcome")
		}
	}
	return c.JSON(http.StatusOK, outcome)
}
