package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 响应状态标识。fail 表示请求方可修正的拒绝，
// error 表示服务端/依赖故障。
const (
	StatusSuccess = "success"
	StatusFail    = "fail"
	StatusError   = "error"
)

// Response 统一响应结构
type Response struct {
	Status  string      `json:"status"`            // success / fail / error
	Message string      `json:"message,omitempty"` // 提示信息
	Code    string      `json:"code,omitempty"`    // 机器可读的拒绝原因
	Data    interface{} `json:"data,omitempty"`    // 数据载荷
}

// Success 成功响应（200）
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Status: StatusSuccess,
		Data:   data,
	})
}

// Created 创建成功响应（201）
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Status: StatusSuccess,
		Data:   data,
	})
}

// NoContent 无内容响应（204），用于删除成功
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest 请求参数错误（400）
func BadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{
		Status:  StatusFail,
		Message: msg,
	})
}

// Unauthorized 未认证错误（401）
func Unauthorized(c *gin.Context, msg string) {
	c.JSON(http.StatusUnauthorized, Response{
		Status:  StatusFail,
		Message: msg,
	})
}

// Forbidden 无权限错误（403）
func Forbidden(c *gin.Context, msg string) {
	c.JSON(http.StatusForbidden, Response{
		Status:  StatusFail,
		Message: msg,
	})
}

// NotFound 资源不存在错误（404）
func NotFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, Response{
		Status:  StatusFail,
		Message: msg,
	})
}

// Conflict 资源冲突错误（409）
func Conflict(c *gin.Context, msg string) {
	c.JSON(http.StatusConflict, Response{
		Status:  StatusFail,
		Message: msg,
	})
}

// TooManyRequests 限流拒绝（429），附带机器可读的 code
func TooManyRequests(c *gin.Context, msg, code string) {
	c.JSON(http.StatusTooManyRequests, Response{
		Status:  StatusFail,
		Message: msg,
		Code:    code,
	})
}

// InternalError 服务器内部错误（500）
func InternalError(c *gin.Context, msg string) {
	c.JSON(http.StatusInternalServerError, Response{
		Status:  StatusError,
		Message: msg,
	})
}

// ServiceUnavailable 依赖不可用（503）
func ServiceUnavailable(c *gin.Context, msg string) {
	c.JSON(http.StatusServiceUnavailable, Response{
		Status:  StatusError,
		Message: msg,
	})
}
