package web

import "github.com/gin-gonic/gin"

const (
	CodeOK                  = 0
	CodeBadRequest          = 40000
	CodeAPIKeyNotConfigured = 40001
	CodeNoDocument          = 40002
	CodeEmptyQuestion       = 40003
	CodeNoText              = 42200
	CodeFileTooLarge        = 41300
	CodeUnsupportedFileType = 41500
	CodeInternalServer      = 50000
	CodeProviderError       = 50200
	CodeUnavailable         = 50300
)

type APIResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func OK(c *gin.Context, data interface{}) {
	c.JSON(200, APIResponse{
		Code:    CodeOK,
		Message: "ok",
		Data:    data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
	})
}

// ErrorWithData reports a failed interaction together with the session
// state it left behind.
func ErrorWithData(c *gin.Context, httpStatus, code int, message string, data interface{}) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
		Data:    data,
	})
}
