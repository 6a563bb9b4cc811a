package dto

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	FieldBadFormat     = "FIELD_BADFORMAT"
	FieldIncorrect     = "FIELD_INCORRECT"
	ServiceUnavailable = "SERVICE_UNAVAILABLE"
	InternalError      = "Service is currently unavailable. Please try again later."

	ShortNotFound = "SHORT_NOT_FOUND"
)

type ShortenRequest struct {
	URL string `form:"url" validate:"required,videourl"`
}

type ShortenResponse struct {
	ShortID     string `json:"shortId"`
	VideoID     string `json:"videoId"`
	ShortURL    string `json:"shortUrl"`
	TrackingURL string `json:"trackingUrl"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Response struct {
	Status string      `json:"status"`
	Error  *Error      `json:"error,omitempty"`
	Data   interface{} `json:"data,omitempty"`
}

type Error struct {
	Code string `json:"code"`
	Desc string `json:"desc"`
}

func errorResponse(code, desc string) Response {
	return Response{Status: "error", Error: &Error{Code: code, Desc: desc}}
}

// Abort writes the error envelope and stops the handler chain.
func Abort(c *gin.Context, status int, code, desc string) {
	c.AbortWithStatusJSON(status, errorResponse(code, desc))
}

func BadResponseError(c *gin.Context, code, desc string) {
	Abort(c, http.StatusBadRequest, code, desc)
}

func InternalServerError(c *gin.Context) {
	Abort(c, http.StatusInternalServerError, ServiceUnavailable, InternalError)
}

func FieldBadFormatError(c *gin.Context, field string) {
	BadResponseError(c, FieldBadFormat, fmt.Sprintf("Field '%s' has bad format", field))
}

func FieldIncorrectError(c *gin.Context, field string) {
	BadResponseError(c, FieldIncorrect, fmt.Sprintf("Field '%s' is incorrect", field))
}

func ShortNotFoundError(c *gin.Context) {
	Abort(c, http.StatusNotFound, ShortNotFound, "Short link not found or expired")
}

func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Status: "ok", Data: data})
}
