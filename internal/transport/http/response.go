package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 管理接口的统一响应结构
type Response struct {
	Code int         `json:"code"`           // 业务状态码
	Msg  string      `json:"msg"`            // 中文提示信息
	Data interface{} `json:"data,omitempty"` // 数据载荷
}

// errorResponse 入站、发信等函数式接口的错误结构
type errorResponse struct {
	Error string `json:"error"`
}

// 业务状态码定义，错误响应直接使用 HTTP 状态码
const (
	CodeSuccess = 200
	CodeCreated = 201
)

// Success 成功响应（200）
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code: CodeSuccess,
		Msg:  "成功",
		Data: data,
	})
}

// Created 创建成功响应（201）
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code: CodeCreated,
		Msg:  "创建成功",
		Data: data,
	})
}

// NoContent 删除成功，不返回响应体
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest 请求参数错误（400）
func BadRequest(c *gin.Context, msg string) {
	Error(c, http.StatusBadRequest, msg)
}

// Error 通用错误响应（根据HTTP状态码自动选择）
func Error(c *gin.Context, httpCode int, msg string) {
	c.JSON(httpCode, Response{
		Code: httpCode,
		Msg:  msg,
	})
}

// plainError 函数式接口的错误响应，只有 error 字段
func plainError(c *gin.Context, httpCode int, msg string) {
	c.JSON(httpCode, errorResponse{Error: msg})
}
