package controller

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dfft546/gproxy/common/random"
	"github.com/dfft546/gproxy/model"
)

func GetApiKeys(c *gin.Context) {
	rows, err := model.GetAllApiKeys()
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

type apiKeyInput struct {
	Name    string `json:"name" binding:"required,min=1,max=128"`
	Status  *int   `json:"status"`
	UserId  int    `json:"user_id"`
}

func CreateApiKey(c *gin.Context) {
	var input apiKeyInput
	if err := c.ShouldBindJSON(&input); err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	row := &model.ApiKey{
		UserId: input.UserId,
		Name:   input.Name,
		Key:    "sk-" + random.GenerateKey(),
		Status: model.ApiKeyStatusEnabled,
	}
	if err := row.Insert(); err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": row})
}

func UpdateApiKey(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		abortMessage(c, http.StatusBadRequest, "invalid api key id")
		return
	}
	row, err := model.GetApiKeyById(id)
	if err != nil {
		abortMessage(c, http.StatusNotFound, "api key not found")
		return
	}
	var input apiKeyInput
	if err := c.ShouldBindJSON(&input); err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	if input.Name != "" {
		row.Name = input.Name
	}
	if input.Status != nil {
		row.Status = *input.Status
	}
	if err := row.Update(); err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": row})
}

func DeleteApiKey(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		abortMessage(c, http.StatusBadRequest, "invalid api key id")
		return
	}
	if err := model.DeleteApiKeyById(id); err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}
