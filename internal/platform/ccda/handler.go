package ccda

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/samply/golang-fhir-models/fhir-models/fhir"
)

// Handler exposes the element builders over HTTP so document assemblers in
// other services can render fragments without linking this package.
type Handler struct {
	encoder *Encoder
}

// NewHandler creates a new C-CDA element handler.
func NewHandler(encoder *Encoder) *Handler {
	return &Handler{encoder: encoder}
}

// RegisterRoutes registers C-CDA endpoints on the provided route group.
//
//	POST /api/v1/cda/organization  - FHIR Organization to representedOrganization
//	POST /api/v1/cda/coded-value   - FHIR CodeableConcept to a CV element
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/cda/organization", h.BuildOrganization)
	g.POST("/cda/coded-value", h.BuildCodedValue)
}

// BuildOrganization handles POST /api/v1/cda/organization.
func (h *Handler) BuildOrganization(c echo.Context) error {
	var org OrganizationFragment
	if err := decodeBody(c, &org); err != nil {
		if errors.Is(err, echo.ErrStatusRequestEntityTooLarge) {
			return bodyTooLarge(c)
		}
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid Organization: " + err.Error(),
		})
	}

	xmlData, err := MarshalElement("representedOrganization", BuildOrganization(&org))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
	}
	return c.Blob(http.StatusOK, "application/xml", xmlData)
}

// BuildCodedValue handles POST /api/v1/cda/coded-value.
func (h *Handler) BuildCodedValue(c echo.Context) error {
	var concept fhir.CodeableConcept
	if err := decodeBody(c, &concept); err != nil {
		if errors.Is(err, echo.ErrStatusRequestEntityTooLarge) {
			return bodyTooLarge(c)
		}
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid CodeableConcept: " + err.Error(),
		})
	}

	xmlData, err := MarshalElement("code", h.encoder.BuildCodedValue(&concept))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
	}
	return c.Blob(http.StatusOK, "application/xml", xmlData)
}

func decodeBody(c echo.Context, v interface{}) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func bodyTooLarge(c echo.Context) error {
	return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
		"error": "request body too large",
	})
}
