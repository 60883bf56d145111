package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/zulandar/cropyard/internal/aggregate"
	"github.com/zulandar/cropyard/internal/allocator"
	"github.com/zulandar/cropyard/internal/archive"
	"github.com/zulandar/cropyard/internal/block"
	"github.com/zulandar/cropyard/internal/cascade"
	"github.com/zulandar/cropyard/internal/fault"
	"github.com/zulandar/cropyard/internal/models"
	"github.com/zulandar/cropyard/internal/tasks"
)

// httpStatus maps a fault kind to an HTTP status code.
func httpStatus(err error) int {
	switch fault.KindOf(err) {
	case fault.NotFound:
		return http.StatusNotFound
	case fault.InvalidTransition, fault.ValidationFailed:
		return http.StatusUnprocessableEntity
	case fault.Conflict:
		return http.StatusConflict
	case fault.DependencyUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	var fe *fault.Error
	if errors.As(err, &fe) && len(fe.BlockingTasks) > 0 {
		body["blockingTasks"] = fe.BlockingTasks
	}
	c.JSON(httpStatus(err), body)
}

func registerRoutes(router *gin.Engine, opts Opts) {
	api := router.Group("/api")

	api.POST("/blocks", func(c *gin.Context) {
		var req struct {
			SiteID    string  `json:"siteId"`
			Code      string  `json:"code"`
			TotalArea float64 `json:"totalArea"`
			AreaUnit  string  `json:"areaUnit"`
			Capacity  int     `json:"capacity"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, fault.Wrap(fault.ValidationFailed, err, "bad request body"))
			return
		}
		b, err := opts.Engine.Create(block.CreateOpts{
			SiteID:    req.SiteID,
			Code:      req.Code,
			TotalArea: decimal.NewFromFloat(req.TotalArea),
			AreaUnit:  req.AreaUnit,
			Capacity:  req.Capacity,
		})
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, b)
	})

	api.GET("/blocks/:id", func(c *gin.Context) {
		b, err := opts.Engine.Get(c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, b)
	})

	api.GET("/sites/:id/blocks", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.Query("limit"))
		offset, _ := strconv.Atoi(c.Query("offset"))
		list, err := opts.Engine.List(block.ListFilters{
			SiteID:   c.Param("id"),
			Status:   c.Query("status"),
			Category: c.Query("category"),
			Limit:    limit,
			Offset:   offset,
		})
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	})

	api.POST("/blocks/:id/status", func(c *gin.Context) {
		var req struct {
			Status       string     `json:"status"`
			Actor        string     `json:"actor"`
			Note         string     `json:"note"`
			CropID       string     `json:"cropId"`
			PlantCount   int        `json:"plantCount"`
			PlantingDate *time.Time `json:"plantingDate"`
			Force        bool       `json:"force"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, fault.Wrap(fault.ValidationFailed, err, "bad request body"))
			return
		}
		b, err := opts.Engine.Transition(c.Param("id"), req.Status, block.TransitionOpts{
			Actor:        req.Actor,
			Note:         req.Note,
			CropID:       req.CropID,
			PlantCount:   req.PlantCount,
			PlantingDate: req.PlantingDate,
			Force:        req.Force,
		})
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, b)
	})

	api.GET("/blocks/:id/next-statuses", func(c *gin.Context) {
		next, err := opts.Engine.ValidNext(c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"next": next})
	})

	api.POST("/blocks/:id/virtual", func(c *gin.Context) {
		var req struct {
			CropID       string     `json:"cropId"`
			Area         float64    `json:"area"`
			PlantCount   int        `json:"plantCount"`
			PlantingDate *time.Time `json:"plantingDate"`
			Actor        string     `json:"actor"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, fault.Wrap(fault.ValidationFailed, err, "bad request body"))
			return
		}
		b, err := opts.Allocator.Allocate(allocator.AllocateOpts{
			ParentID:     c.Param("id"),
			CropID:       req.CropID,
			Area:         decimal.NewFromFloat(req.Area),
			PlantCount:   req.PlantCount,
			PlantingDate: req.PlantingDate,
			Actor:        req.Actor,
		})
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, b)
	})

	api.GET("/blocks/:id/virtual", func(c *gin.Context) {
		children, err := opts.Engine.Children(c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, children)
	})

	api.POST("/virtual/:id/retire", func(c *gin.Context) {
		var req struct {
			Actor string `json:"actor"`
		}
		c.ShouldBindJSON(&req) // body optional
		parent, stats, err := opts.Allocator.RetireVirtual(c.Param("id"), req.Actor)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"parent": parent, "stats": stats})
	})

	api.DELETE("/blocks/:id", func(c *gin.Context) {
		stats, err := cascade.Delete(opts.DB, c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	})

	api.GET("/blocks/:id/archives", func(c *gin.Context) {
		list, err := archive.ListForBlock(opts.DB, c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	})

	api.POST("/tasks", func(c *gin.Context) {
		var req struct {
			BlockID      string     `json:"blockId"`
			Type         string     `json:"type"`
			Title        string     `json:"title"`
			ScheduledFor time.Time  `json:"scheduledFor"`
			DueAt        *time.Time `json:"dueAt"`
			Assignee     string     `json:"assignee"`
			Note         string     `json:"note"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, fault.Wrap(fault.ValidationFailed, err, "bad request body"))
			return
		}
		t, err := tasks.Create(opts.DB, tasks.CreateOpts{
			BlockID:      req.BlockID,
			Type:         req.Type,
			Title:        req.Title,
			ScheduledFor: req.ScheduledFor,
			DueAt:        req.DueAt,
			Assignee:     req.Assignee,
			Note:         req.Note,
		})
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, t)
	})

	api.GET("/blocks/:id/tasks", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.Query("limit"))
		offset, _ := strconv.Atoi(c.Query("offset"))
		list, err := tasks.List(opts.DB, tasks.ListFilters{
			BlockID: c.Param("id"),
			Status:  c.Query("status"),
			Type:    c.Query("type"),
			CycleID: c.Query("cycle"),
			Limit:   limit,
			Offset:  offset,
		})
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	})

	api.POST("/tasks/:id/complete", func(c *gin.Context) {
		var req struct {
			Actor string `json:"actor"`
			Note  string `json:"note"`
		}
		c.ShouldBindJSON(&req) // body optional
		t, err := tasks.Complete(opts.DB, c.Param("id"), req.Actor, req.Note)
		if err != nil {
			fail(c, err)
			return
		}
		resp := gin.H{"task": t}
		// A completed trigger task drives the owning block onward; failure
		// to do so is reported but does not undo the completion.
		if t.TriggersStatus != nil {
			b, terr := opts.Engine.Transition(t.BlockID, *t.TriggersStatus, block.TransitionOpts{
				Actor: req.Actor,
				Note:  "task " + t.ID + " completed",
			})
			if terr != nil {
				resp["transitionError"] = terr.Error()
			} else {
				resp["block"] = b
			}
		}
		c.JSON(http.StatusOK, resp)
	})

	api.POST("/tasks/:id/cancel", func(c *gin.Context) {
		var req struct {
			Note string `json:"note"`
		}
		c.ShouldBindJSON(&req) // body optional
		t, err := tasks.Cancel(opts.DB, c.Param("id"), req.Note)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, t)
	})

	api.POST("/tasks/:id/entries", func(c *gin.Context) {
		var req struct {
			Quantity   float64 `json:"quantity"`
			Grade      string  `json:"grade"`
			RecordedBy string  `json:"recordedBy"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, fault.Wrap(fault.ValidationFailed, err, "bad request body"))
			return
		}
		entry, err := tasks.AddHarvestEntry(opts.DB, c.Param("id"),
			decimal.NewFromFloat(req.Quantity), req.Grade, req.RecordedBy)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, entry)
	})

	api.POST("/cycles/:id/cancel-tasks", func(c *gin.Context) {
		n, err := tasks.CancelFutureTasks(opts.DB, c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"cancelled": n})
	})

	api.POST("/aggregate/run", func(c *gin.Context) {
		var req struct {
			Date *time.Time `json:"date"`
		}
		c.ShouldBindJSON(&req) // body optional
		asOf := time.Now().AddDate(0, 0, -1)
		if req.Date != nil {
			asOf = *req.Date
		}
		sum, err := aggregate.Run(opts.DB, asOf)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, sum)
	})

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "statuses": statusList()})
	})
}

func statusList() []string {
	return []string{
		models.StatusEmpty, models.StatusPlanned, models.StatusGrowing,
		models.StatusFruiting, models.StatusHarvesting, models.StatusCleaning,
		models.StatusAlert, models.StatusPartial,
	}
}
