package api

import (
	"errors"
	"net/http"
	"strconv"

	"marketplace-service/internal/models"
	"marketplace-service/internal/service"
	"marketplace-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// envelope is the body of every API response
type envelope struct {
	Status  string      `json:"status"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Meta    *pageMeta   `json:"meta,omitempty"`
}

type pageMeta struct {
	Page    int   `json:"page"`
	PerPage int   `json:"per_page"`
	Total   int64 `json:"total"`
}

func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, envelope{Status: "success", Message: message, Data: data})
}

func respondPage(c *gin.Context, data interface{}, page models.Page, total int64) {
	page = page.Normalize()
	c.JSON(http.StatusOK, envelope{
		Status: "success",
		Data:   data,
		Meta:   &pageMeta{Page: page.Number, PerPage: page.PerPage, Total: total},
	})
}

func abortWith(c *gin.Context, status int, code service.Code, message string) {
	c.AbortWithStatusJSON(status, envelope{Status: "error", Code: string(code), Message: message})
}

var kindStatus = map[service.Kind]int{
	service.KindValidation:      http.StatusBadRequest,
	service.KindUnauthenticated: http.StatusUnauthorized,
	service.KindAuthorization:   http.StatusForbidden,
	service.KindNotFound:        http.StatusNotFound,
	service.KindConflict:        http.StatusConflict,
}

// statusOf maps a service error to its HTTP status
func statusOf(err error) int {
	if status, ok := kindStatus[service.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// respondError writes err in the envelope. Unexpected errors are logged and
// their detail withheld from the client.
func respondError(c *gin.Context, err error) {
	status := statusOf(err)
	var svcErr *service.Error
	if !errors.As(err, &svcErr) || status == http.StatusInternalServerError {
		util.FromContext(c.Request.Context()).Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		abortWith(c, http.StatusInternalServerError, service.CodeInternal, "internal server error")
		return
	}
	abortWith(c, status, svcErr.Code, svcErr.Message)
}

func badRequest(c *gin.Context, err error) {
	abortWith(c, http.StatusBadRequest, service.CodeInvalidInput, err.Error())
}

// pathID parses the named path parameter as a positive id
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		abortWith(c, http.StatusBadRequest, service.CodeInvalidInput, "invalid "+name)
		return 0, false
	}
	return id, true
}

// queryInt64 parses an optional numeric query parameter
func queryInt64(c *gin.Context, name string) (*int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		abortWith(c, http.StatusBadRequest, service.CodeInvalidInput, "invalid "+name)
		return nil, false
	}
	return &v, true
}

func pageFromQuery(c *gin.Context) models.Page {
	number, _ := strconv.Atoi(c.Query("page"))
	perPage, _ := strconv.Atoi(c.Query("per_page"))
	return models.Page{Number: number, PerPage: perPage}.Normalize()
}
