package saml

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes the signing pipeline over HTTP.
type Handler struct {
	signer *Signer
}

// NewHandler creates a new signing handler.
func NewHandler(signer *Signer) *Handler {
	return &Handler{signer: signer}
}

// RegisterRoutes registers the signing endpoint on the provided route group.
//
//	POST /api/v1/saml/sign - sign an outbound federation message
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/saml/sign", h.Sign)
}

// Sign handles POST /api/v1/saml/sign. The body is the unsigned SOAP
// message; the response is the signed and verified message.
func (h *Handler) Sign(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if errors.Is(err, echo.ErrStatusRequestEntityTooLarge) {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
			"error": "request body too large",
		})
	}
	if err != nil || len(body) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "request body must contain the XML message",
		})
	}

	signed, err := h.signer.Sign(string(body))
	if err != nil {
		var verr *VerificationError
		if errors.As(err, &verr) {
			return c.JSON(http.StatusUnprocessableEntity, map[string]string{
				"error": verr.Error(),
			})
		}
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	}
	return c.Blob(http.StatusOK, "application/xml", []byte(signed))
}
