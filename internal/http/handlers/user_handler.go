// Profile, character and prompt endpoints.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/genstudio-backend/internal/services"
)

// MeResponse is the caller's profile.
type MeResponse struct {
	ID       string `json:"id"       example:"user_2abc"`
	Name     string `json:"name"     example:"Ada Lovelace"`
	Email    string `json:"email"    example:"ada@example.com"`
	ImageURL string `json:"imageUrl" example:"https://img.example.com/ada.png"`
	Credits  int64  `json:"credits"  example:"12"`
}

// EnhancePromptRequest is the payload of a prompt rewrite.
type EnhancePromptRequest struct {
	Prompt string `json:"prompt" binding:"required" example:"red sneaker"`
}

// EnhancePromptResponse carries the rewritten prompt.
type EnhancePromptResponse struct {
	Prompt string `json:"prompt" example:"A glossy red sneaker on a marble pedestal, soft studio lighting"`
}

// Me godoc
// @ID          me
// @Summary     Current user profile and credit balance
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.MeResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Identity not yet provisioned"
// @Router      /me [get]
func (h *Handlers) Me(c *gin.Context) {
	u, err := h.d.Users.Current(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, MeResponse{
		ID:       u.ExternalID,
		Name:     u.Name,
		Email:    u.Email,
		ImageURL: u.ImageURL,
		Credits:  u.Credits,
	})
}

// Characters godoc
// @ID          characters
// @Summary     Reference characters
// @Description System characters for everyone plus the caller's own when authenticated.
// @Tags        Characters
// @Produce     json
// @Success     200  {object}  services.CharacterList
// @Router      /characters [get]
func (h *Handlers) Characters(c *gin.Context) {
	list, err := h.d.Characters.List(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, list)
}

// EnhancePrompt godoc
// @ID          enhancePrompt
// @Summary     Rewrite a prompt for commercial-quality output
// @Tags        Prompts
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.EnhancePromptRequest  true  "Prompt"
// @Success     200  {object}  handlers.EnhancePromptResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     502  {object}  handlers.ErrorResponse
// @Failure     503  {object}  handlers.ErrorResponse  "Enhancer not configured"
// @Router      /prompts/enhance [post]
func (h *Handlers) EnhancePrompt(c *gin.Context) {
	if userID(c) == "" {
		failErr(c, services.ErrUnauthenticated)
		return
	}
	var req EnhancePromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "prompt required")
		return
	}
	out, err := h.d.Prompts.Enhance(c.Request.Context(), req.Prompt)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, EnhancePromptResponse{Prompt: out})
}
