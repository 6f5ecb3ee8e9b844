package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Envelope はすべての API 応答を包む共通形式です。
type Envelope struct {
	IsSuccess bool   `json:"isSuccess"`
	Message   string `json:"message"`
	Result    any    `json:"result"`
}

func respondOK(c *gin.Context, message string, result any) {
	c.JSON(http.StatusOK, Envelope{IsSuccess: true, Message: message, Result: result})
}

func respondError(c *gin.Context, err error, result any) {
	c.JSON(toHTTPStatus(err), Envelope{IsSuccess: false, Message: err.Error(), Result: result})
}

func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Envelope{IsSuccess: false, Message: message})
}
