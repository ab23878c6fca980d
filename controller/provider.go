package controller

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dfft546/gproxy/model"
	"github.com/dfft546/gproxy/relay/pool"
	rcontroller "github.com/dfft546/gproxy/relay/controller"
)

func GetProviders(c *gin.Context) {
	providers, err := model.GetAllProviders()
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": providers})
}

func GetProvider(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		abortMessage(c, http.StatusBadRequest, "invalid provider id")
		return
	}
	row, err := model.GetProviderById(id)
	if err != nil {
		abortMessage(c, http.StatusNotFound, "provider not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": row})
}

type providerInput struct {
	Name    string         `json:"name" binding:"required,min=1,max=64,providername"`
	Config  map[string]any `json:"config"`
	Enabled *bool          `json:"enabled"`
}

func CreateProvider(c *gin.Context) {
	var input providerInput
	if err := c.ShouldBindJSON(&input); err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	row := &model.Provider{Name: input.Name, Enabled: input.Enabled == nil || *input.Enabled}
	if input.Config != nil {
		if err := row.SetConfig(input.Config); err != nil {
			abortError(c, http.StatusBadRequest, err)
			return
		}
	}
	if err := row.Insert(); err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": row})
}

func UpdateProvider(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		abortMessage(c, http.StatusBadRequest, "invalid provider id")
		return
	}
	row, err := model.GetProviderById(id)
	if err != nil {
		abortMessage(c, http.StatusNotFound, "provider not found")
		return
	}
	var input providerInput
	if err := c.ShouldBindJSON(&input); err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	if input.Name != "" {
		row.Name = input.Name
	}
	if input.Config != nil {
		if err := row.SetConfig(input.Config); err != nil {
			abortError(c, http.StatusBadRequest, err)
			return
		}
	}
	if input.Enabled != nil {
		row.Enabled = *input.Enabled
	}
	if err := row.Update(); err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	_ = rcontroller.Registry().Reload(row.Id)
	c.JSON(http.StatusOK, gin.H{"data": row})
}

func DeleteProvider(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		abortMessage(c, http.StatusBadRequest, "invalid provider id")
		return
	}
	if err := model.DeleteProviderById(id); err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	rcontroller.Registry().Drop(id)
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

// GetProviderDisallows reads the live in-memory disallow state of one
// provider's pool, not the database audit rows.
func GetProviderDisallows(c *gin.Context) {
	name := c.Param("provider")
	row, err := model.GetProviderByName(name)
	if err != nil {
		abortMessage(c, http.StatusNotFound, "provider not found")
		return
	}
	executor, perr := rcontroller.Registry().Get(row)
	if perr != nil {
		abortMessage(c, http.StatusServiceUnavailable, "provider unavailable")
		return
	}

	type markView struct {
		CredentialId int    `json:"credential_id"`
		Scope        string `json:"scope"`
		Level        string `json:"level"`
		Until        int64  `json:"until,omitempty"`
		Reason       string `json:"reason,omitempty"`
	}
	var out []markView
	for _, mark := range executor.Pool().Marks() {
		view := markView{
			CredentialId: mark.CredentialID,
			Scope:        "all",
			Level:        model.DisallowLevelTransient,
			Reason:       mark.Reason,
		}
		if !mark.Scope.IsAll() {
			view.Scope = mark.Scope.Model
		}
		if mark.Level == pool.Dead {
			view.Level = model.DisallowLevelDead
		}
		if mark.Until != nil {
			view.Until = mark.Until.Unix()
		}
		out = append(out, view)
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}
