package controller

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dfft546/gproxy/model"
	rcontroller "github.com/dfft546/gproxy/relay/controller"
)

func abortError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": gin.H{"message": err.Error()}})
}

func abortMessage(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": gin.H{"message": message}})
}

// credentialView hides secret material from listings.
type credentialView struct {
	Id         int            `json:"id"`
	ProviderId int            `json:"provider_id"`
	Name       string         `json:"name"`
	SecretKind string         `json:"secret_kind"`
	Meta       map[string]any `json:"meta"`
	Weight     int            `json:"weight"`
	Enabled    bool           `json:"enabled"`
	CreatedAt  int64          `json:"created_at"`
	UpdatedAt  int64          `json:"updated_at"`
}

func viewOf(row *model.Credential) credentialView {
	view := credentialView{
		Id:         row.Id,
		ProviderId: row.ProviderId,
		Name:       row.Name,
		Meta:       row.Meta(),
		Weight:     row.Weight,
		Enabled:    row.Enabled,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
	if secret, err := row.Secret(); err == nil {
		view.SecretKind = string(secret.Kind)
	}
	return view
}

func GetCredentials(c *gin.Context) {
	providerId, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		abortMessage(c, http.StatusBadRequest, "invalid provider id")
		return
	}
	rows, err := model.GetCredentialsByProviderId(providerId)
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	views := make([]credentialView, 0, len(rows))
	for _, row := range rows {
		views = append(views, viewOf(row))
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

type credentialInput struct {
	Name    string                  `json:"name" binding:"max=128"`
	Secret  *model.CredentialSecret `json:"secret"`
	Meta    map[string]any          `json:"meta"`
	Weight  *int                    `json:"weight" binding:"omitempty,gte=0"`
	Enabled *bool                   `json:"enabled"`
}

func CreateCredential(c *gin.Context) {
	providerId, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		abortMessage(c, http.StatusBadRequest, "invalid provider id")
		return
	}
	if _, err := model.GetProviderById(providerId); err != nil {
		abortMessage(c, http.StatusNotFound, "provider not found")
		return
	}
	var input credentialInput
	if err := c.ShouldBindJSON(&input); err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	if input.Secret == nil {
		abortMessage(c, http.StatusBadRequest, "secret is required")
		return
	}
	row := &model.Credential{
		ProviderId: providerId,
		Name:       input.Name,
		Weight:     1,
		Enabled:    input.Enabled == nil || *input.Enabled,
	}
	if input.Weight != nil {
		row.Weight = *input.Weight
	}
	if err := row.SetSecret(*input.Secret); err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	if input.Meta != nil {
		if err := row.SetMeta(input.Meta); err != nil {
			abortError(c, http.StatusBadRequest, err)
			return
		}
	}
	if err := row.Insert(); err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	_ = rcontroller.Registry().Reload(providerId)
	c.JSON(http.StatusOK, gin.H{"data": viewOf(row)})
}

func UpdateCredential(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		abortMessage(c, http.StatusBadRequest, "invalid credential id")
		return
	}
	row, err := model.GetCredentialById(id)
	if err != nil {
		abortMessage(c, http.StatusNotFound, "credential not found")
		return
	}
	var input credentialInput
	if err := c.ShouldBindJSON(&input); err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	if input.Name != "" {
		row.Name = input.Name
	}
	if input.Secret != nil {
		if err := row.SetSecret(*input.Secret); err != nil {
			abortError(c, http.StatusBadRequest, err)
			return
		}
	}
	if input.Meta != nil {
		if err := row.SetMeta(input.Meta); err != nil {
			abortError(c, http.StatusBadRequest, err)
			return
		}
	}
	if input.Weight != nil {
		row.Weight = *input.Weight
	}
	if input.Enabled != nil {
		row.Enabled = *input.Enabled
	}
	if err := row.Update(); err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	_ = rcontroller.Registry().Reload(row.ProviderId)
	c.JSON(http.StatusOK, gin.H{"data": viewOf(row)})
}

// DeleteCredential removes a credential. Requests already holding it run to
// completion; the pool reload only affects future selection.
func DeleteCredential(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		abortMessage(c, http.StatusBadRequest, "invalid credential id")
		return
	}
	row, err := model.GetCredentialById(id)
	if err != nil {
		abortMessage(c, http.StatusNotFound, "credential not found")
		return
	}
	if err := model.DeleteCredentialById(id); err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	_ = rcontroller.Registry().Reload(row.ProviderId)
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}
