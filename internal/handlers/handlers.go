package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/ingrediscan/internal/history"
	"github.com/example/ingrediscan/internal/projector"
	"github.com/example/ingrediscan/internal/settings"
	"github.com/example/ingrediscan/internal/usecase"
)

// MaxUploadSize is the default cap on a captured image upload.
const MaxUploadSize = 10 << 20

// multipartOverhead leaves room for boundaries and part headers.
const multipartOverhead = 64 << 10

// Dependencies are the objects the bridge drives.
type Dependencies struct {
	Pipeline       *usecase.ScanPipeline
	History        *history.Store
	Allergens      *settings.AllergenProfile
	Logger         *zap.Logger
	MaxUploadBytes int64
}

type scanResponse struct {
	usecase.State
	Breakdown *projector.Breakdown `json:"breakdown,omitempty"`
}

type historyItem struct {
	ID          string `json:"id"`
	Date        string `json:"date"`
	ProductName string `json:"productName"`
	Grade       string `json:"grade"`
	Score       int    `json:"score"`
	Thumbnail   string `json:"thumbnail"`
}

type historyDetail struct {
	*history.Record
	Breakdown projector.Breakdown `json:"breakdown"`
}

type allergenRequest struct {
	Allergens []string `json:"allergens" binding:"required"`
}

// RegisterRoutes wires the local results bridge to the Gin router.
func RegisterRoutes(router *gin.Engine, deps Dependencies) {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = MaxUploadSize
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	logger := deps.Logger.Named("handlers")

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/scan", func(c *gin.Context) {
		if deps.Pipeline.Busy() {
			c.JSON(http.StatusConflict, gin.H{"error": usecase.ErrScanInProgress.Error()})
			return
		}

		limit := deps.MaxUploadBytes + multipartOverhead
		if c.Request.ContentLength > limit {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		file, err := c.FormFile("image")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		if file.Size > deps.MaxUploadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}

		state, err := deps.Pipeline.Scan(c.Request.Context(), usecase.Capture{
			Name:      file.Filename,
			MediaType: file.Header.Get("Content-Type"),
			Data:      data,
		})
		switch {
		case errors.Is(err, usecase.ErrInvalidInput):
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": state.InputError})
			return
		case errors.Is(err, usecase.ErrScanInProgress), errors.Is(err, usecase.ErrScanDiscarded):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		case err != nil:
			logger.Error("scan failed unexpectedly", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, buildScanResponse(state, deps.Allergens.Selected()))
	})

	router.GET("/scan/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, buildScanResponse(deps.Pipeline.State(), deps.Allergens.Selected()))
	})

	router.GET("/scan/preview", func(c *gin.Context) {
		state := deps.Pipeline.State()
		if state.PreviewURI != "" {
			if data, mediaType, ok := deps.Pipeline.Previews().Open(state.PreviewURI); ok {
				c.Data(http.StatusOK, mediaType, data)
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "no preview available"})
	})

	router.POST("/scan/reset", func(c *gin.Context) {
		deps.Pipeline.Reset()
		c.JSON(http.StatusOK, deps.Pipeline.State())
	})

	router.GET("/history", func(c *gin.Context) {
		records := deps.History.List()
		items := make([]historyItem, 0, len(records))
		for _, r := range records {
			items = append(items, toHistoryItem(r))
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	})

	router.GET("/history/summary", func(c *gin.Context) {
		c.JSON(http.StatusOK, usecase.SummarizeHistory(deps.History))
	})

	router.GET("/history/:id", func(c *gin.Context) {
		rec, ok := deps.History.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
			return
		}
		c.JSON(http.StatusOK, historyDetail{
			Record:    rec,
			Breakdown: projector.Build(rec.Analysis, deps.Allergens.Selected()),
		})
	})

	router.DELETE("/history/:id", func(c *gin.Context) {
		if !deps.History.Remove(c.Request.Context(), c.Param("id")) {
			c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
			return
		}
		c.Status(http.StatusNoContent)
	})

	router.GET("/settings/allergens", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"selected": deps.Allergens.Selected(),
			"catalog":  projector.AllergenNames(),
		})
	})

	router.PUT("/settings/allergens", func(c *gin.Context) {
		var req allergenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "allergens list is required"})
			return
		}
		if err := deps.Allergens.Set(c.Request.Context(), req.Allergens); err != nil {
			var unknown *settings.UnknownAllergenError
			if errors.As(err, &unknown) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			logger.Error("failed to save allergen profile", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save allergen profile"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"selected": deps.Allergens.Selected()})
	})
}

func buildScanResponse(state usecase.State, allergens []string) scanResponse {
	resp := scanResponse{State: state}
	if state.Stage == usecase.StageResults && state.Result != nil && !state.Failed {
		b := projector.Build(state.Result, allergens)
		resp.Breakdown = &b
	}
	return resp
}

func toHistoryItem(r *history.Record) historyItem {
	item := historyItem{
		ID:          r.ID,
		ProductName: r.ProductName,
		Grade:       r.Grade,
		Score:       r.Score,
		Thumbnail:   r.Thumbnail,
	}
	if !r.Date.IsZero() {
		item.Date = r.Date.Format("2006-01-02T15:04:05.000Z07:00")
	}
	return item
}
