package response

import (
	"net/http"

	apperr "SafeCircle/pkg/errors"
	"SafeCircle/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Envelope 统一响应结构
type Envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Errors  []ErrorItem `json:"errors,omitempty"`
}

// ErrorItem 单条错误，code 供客户端判断
type ErrorItem struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func Success(c *gin.Context, msg string, data interface{}) {
	c.JSON(http.StatusOK, Envelope{Success: true, Message: msg, Data: data})
}

func Created(c *gin.Context, msg string, data interface{}) {
	c.JSON(http.StatusCreated, Envelope{Success: true, Message: msg, Data: data})
}

// Fail 通用的 400 失败响应
func Fail(c *gin.Context, msg string, data interface{}) {
	c.JSON(http.StatusBadRequest, Envelope{Success: false, Message: msg, Data: data})
}

// Error 将错误翻译为响应，不暴露内部细节
func Error(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusAndBody(c, err))
}

func statusAndBody(c *gin.Context, err error) (int, Envelope) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Server(err)
	}
	if e.Status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("method", c.Request.Method),
			zap.Error(apperr.Cause(err)),
		)
		// 5xx 不透传内部信息
		e = apperr.Server(err)
	}

	return e.Status, Envelope{
		Success: false,
		Message: e.Message,
		Errors:  []ErrorItem{{Code: e.Code, Message: e.Message, Details: e.Details}},
	}
}

// ValidationFailed 返回字段级校验错误
func ValidationFailed(c *gin.Context, items []ErrorItem) {
	msg := "validation failed"
	if len(items) > 0 {
		msg = items[0].Message
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, Envelope{Success: false, Message: msg, Errors: items})
}
