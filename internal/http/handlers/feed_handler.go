package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/genstudio-backend/internal/domain"
	"github.com/tbourn/genstudio-backend/internal/utils"
)

// FeedImages godoc
// @ID          feedImages
// @Summary     Public gallery of generated images
// @Description Successful image jobs across all users, newest first, with the author's name and avatar.
// @Tags        Feed
// @Produce     json
// @Param       page       query  int  false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  services.FeedPage
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /feed/images [get]
func (h *Handlers) FeedImages(c *gin.Context) { h.feed(c, domain.KindImage) }

// FeedVideos godoc
// @ID          feedVideos
// @Summary     Public gallery of generated videos
// @Tags        Feed
// @Produce     json
// @Param       page       query  int  false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  services.FeedPage
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /feed/videos [get]
func (h *Handlers) FeedVideos(c *gin.Context) { h.feed(c, domain.KindVideo) }

func (h *Handlers) feed(c *gin.Context, kind domain.JobKind) {
	page, pageSize := utils.Page(c.Query("page"), c.Query("page_size"), 20, 100)
	res, err := h.d.Feed.Page(c.Request.Context(), kind, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=15")
	ok(c, http.StatusOK, res)
}
