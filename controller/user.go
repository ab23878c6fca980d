package controller

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dfft546/gproxy/common"
	"github.com/dfft546/gproxy/model"
)

func GetUsers(c *gin.Context) {
	rows, err := model.GetAllUsers()
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

type userInput struct {
	Username    string `json:"username" binding:"omitempty,min=1,max=64"`
	Password    string `json:"password" binding:"omitempty,min=6,max=128"`
	DisplayName string `json:"display_name" binding:"max=128"`
	Role        *int   `json:"role"`
	Status      *int   `json:"status"`
}

func CreateUser(c *gin.Context) {
	var input userInput
	if err := c.ShouldBindJSON(&input); err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	if input.Username == "" || input.Password == "" {
		abortMessage(c, http.StatusBadRequest, "username and password are required")
		return
	}
	hashed, err := common.Password2Hash(input.Password)
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	row := &model.User{
		Username:    input.Username,
		Password:    hashed,
		DisplayName: input.DisplayName,
		Role:        model.RoleCommon,
		Status:      model.UserStatusEnabled,
	}
	if input.Role != nil {
		row.Role = *input.Role
	}
	if err := row.Insert(); err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": row})
}

func UpdateUser(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		abortMessage(c, http.StatusBadRequest, "invalid user id")
		return
	}
	row, err := model.GetUserById(id)
	if err != nil {
		abortMessage(c, http.StatusNotFound, "user not found")
		return
	}
	var input userInput
	if err := c.ShouldBindJSON(&input); err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	if input.Username != "" {
		row.Username = input.Username
	}
	if input.DisplayName != "" {
		row.DisplayName = input.DisplayName
	}
	if input.Role != nil {
		row.Role = *input.Role
	}
	if input.Status != nil {
		row.Status = *input.Status
	}
	if err := row.Update(); err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	if input.Password != "" {
		hashed, err := common.Password2Hash(input.Password)
		if err != nil {
			abortError(c, http.StatusInternalServerError, err)
			return
		}
		if err := row.UpdatePassword(hashed); err != nil {
			abortError(c, http.StatusInternalServerError, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": row})
}

func DeleteUser(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		abortMessage(c, http.StatusBadRequest, "invalid user id")
		return
	}
	if err := model.DeleteUserById(id); err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}
