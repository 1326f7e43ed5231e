// Generation HTTP handlers.
//
// This file exposes the job submission and history endpoints:
//   - POST /generations/images | /generations/videos  (reserve credits, submit)
//   - GET  /generations/images | /generations/videos  (caller's recent jobs, ETag)
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a job was already
// created for (user, kind, key), the handler returns that job's handle with
// `Idempotency-Replayed: true` and no credits are reserved again. The key is
// claimed before the reservation, so a concurrent retry gets 409 instead of a
// second charge; a failed submission releases the claim.
package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/genstudio-backend/internal/domain"
	"github.com/tbourn/genstudio-backend/internal/http/middleware"
	"github.com/tbourn/genstudio-backend/internal/services"
	"github.com/tbourn/genstudio-backend/internal/utils"
)

// GenerateRequest is the JSON payload of a generation submission.
type GenerateRequest struct {
	Model             string `json:"model"             binding:"required" example:"google/nano-banana-edit"`
	Prompt            string `json:"prompt"            binding:"required" example:"A red sneaker on a marble pedestal, studio lighting"`
	AspectRatio       string `json:"aspectRatio"       binding:"required" example:"1:1"`
	CharacterImageURL string `json:"characterImageUrl" binding:"omitempty,url" example:"https://cdn.example.com/characters/ava.png"`
	ObjectImageURL    string `json:"objectImageUrl"    binding:"omitempty,url" example:"https://cdn.example.com/uploads/sneaker.png"`
}

// ListJobsResponse wraps the caller's recent jobs.
type ListJobsResponse struct {
	Jobs []domain.GenerationJob `json:"jobs"`
}

// SubmitImage godoc
// @ID          submitImage
// @Summary     Submit an image generation job
// @Description Reserves credits, submits the job to the generator and returns a pending handle.
// @Description Supports idempotency via the Idempotency-Key header (same key → same job).
// @Tags        Generations
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries"
// @Param       body             body    handlers.GenerateRequest  true  "Generation parameters"
// @Success     200  {object}  services.SubmitResult
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     402  {object}  handlers.ErrorResponse  "Insufficient credits"
// @Failure     409  {object}  handlers.ErrorResponse  "Duplicate job or request in progress"
// @Failure     502  {object}  handlers.ErrorResponse  "Generator rejected the job"
// @Router      /generations/images [post]
func (h *Handlers) SubmitImage(c *gin.Context) { h.submit(c, domain.KindImage) }

// SubmitVideo godoc
// @ID          submitVideo
// @Summary     Submit a video generation job
// @Tags        Generations
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries"
// @Param       body             body    handlers.GenerateRequest  true  "Generation parameters"
// @Success     200  {object}  services.SubmitResult
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     402  {object}  handlers.ErrorResponse  "Insufficient credits"
// @Failure     409  {object}  handlers.ErrorResponse  "Duplicate job or request in progress"
// @Failure     502  {object}  handlers.ErrorResponse  "Generator rejected the job"
// @Router      /generations/videos [post]
func (h *Handlers) SubmitVideo(c *gin.Context) { h.submit(c, domain.KindVideo) }

func (h *Handlers) submit(c *gin.Context, kind domain.JobKind) {
	ctx := c.Request.Context()
	uid := userID(c)
	if uid == "" {
		failErr(c, services.ErrUnauthenticated)
		return
	}

	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "model, prompt and aspectRatio are required")
		return
	}

	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" {
		prev, replayed, err := h.d.Generations.Claim(ctx, uid, kind, idemKey)
		if err != nil {
			failErr(c, err)
			return
		}
		if replayed {
			c.Header("Idempotency-Replayed", "true")
			ok(c, http.StatusOK, prev)
			return
		}
	}

	res, err := h.d.Generations.Submit(ctx, uid, kind, services.GenerationParams{
		Model:             req.Model,
		Prompt:            req.Prompt,
		AspectRatio:       req.AspectRatio,
		CharacterImageURL: req.CharacterImageURL,
		ObjectImageURL:    req.ObjectImageURL,
	})
	if err != nil {
		if idemKey != "" {
			if rerr := h.d.Generations.Release(context.WithoutCancel(ctx), uid, kind, idemKey); rerr != nil {
				middleware.LoggerFrom(c).Warn().Err(rerr).Msg("idempotency claim not released")
			}
		}
		failErr(c, err)
		return
	}

	if idemKey != "" {
		if err := h.d.Generations.Remember(context.WithoutCancel(ctx), uid, kind, idemKey, res.JobID, http.StatusOK); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Str("job_id", res.JobID).Msg("idempotency record not stored")
		}
	}
	ok(c, http.StatusOK, res)
}

// ListImages godoc
// @ID          listImages
// @Summary     List the caller's recent image jobs
// @Tags        Generations
// @Produce     json
// @Security    BearerAuth
// @Param       limit  query  int  false  "Max jobs"  minimum(1) maximum(100) default(10)
// @Success     200  {object}  handlers.ListJobsResponse
// @Success     304  "Not modified"
// @Failure     401  {object}  handlers.ErrorResponse
// @Router      /generations/images [get]
func (h *Handlers) ListImages(c *gin.Context) { h.recent(c, domain.KindImage) }

// ListVideos godoc
// @ID          listVideos
// @Summary     List the caller's recent video jobs
// @Tags        Generations
// @Produce     json
// @Security    BearerAuth
// @Param       limit  query  int  false  "Max jobs"  minimum(1) maximum(100) default(10)
// @Success     200  {object}  handlers.ListJobsResponse
// @Success     304  "Not modified"
// @Failure     401  {object}  handlers.ErrorResponse
// @Router      /generations/videos [get]
func (h *Handlers) ListVideos(c *gin.Context) { h.recent(c, domain.KindVideo) }

func (h *Handlers) recent(c *gin.Context, kind domain.JobKind) {
	ctx := c.Request.Context()
	uid := userID(c)
	if uid == "" {
		failErr(c, services.ErrUnauthenticated)
		return
	}
	limit := utils.Limit(c.Query("limit"), 10, 100)

	// ETag pre-check (best effort).
	if count, maxTS, err := h.d.Generations.RecentStats(ctx, uid, kind); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixMilli()
		}
		etag := fmt.Sprintf(`W/"jobs:%s:%d:%d:%d"`, kind, limit, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, err := h.d.Generations.Recent(ctx, uid, kind, limit)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListJobsResponse{Jobs: items})
}
