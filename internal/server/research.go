package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/pmmresearch/internal/prompts"
	"github.com/mohammad-safakhou/pmmresearch/internal/research"
	"go.uber.org/zap"
)

// ResearchHandler exposes the pipeline and its administrative operations.
type ResearchHandler struct {
	Pipeline   *research.Pipeline
	Logger     *zap.Logger
	RunTimeout time.Duration
}

func (h *ResearchHandler) Register(g *echo.Group) {
	g.POST("/research", h.research)
	g.GET("/prompts", h.listPrompts)
	g.POST("/prompts/reload", h.reloadPrompts)
	g.DELETE("/cache", h.clearCache)
}

type researchRequest struct {
	Query     string `json:"query"`
	Mode      string `json:"mode"`
	Prompt    string `json:"prompt"`
	SkipCache bool   `json:"skip_cache"`
}

// research returns 200 for every pipeline outcome, including error reports.
// ?format=markdown returns the export document instead of JSON.
func (h *ResearchHandler) research(c echo.Context) error {
	var body researchRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	mode, err := research.ParseMode(body.Mode)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	if h.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.RunTimeout)
		defer cancel()
	}
	report := h.Pipeline.Run(ctx, research.Request{
		Query:      body.Query,
		Mode:       mode,
		PromptName: body.Prompt,
		SkipCache:  body.SkipCache,
	})

	if c.QueryParam("format") == "markdown" {
		return c.Blob(http.StatusOK, "text/markdown; charset=utf-8", []byte(research.RenderMarkdown(report)))
	}
	data, err := research.EncodeReport(report)
	if err != nil {
		return err
	}
	return c.JSONBlob(http.StatusOK, data)
}

func (h *ResearchHandler) listPrompts(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"prompts": h.Pipeline.Prompts().List()})
}

type reloadResponse struct {
	Status  string         `json:"status"`
	Error   string         `json:"error,omitempty"`
	Prompts []prompts.Info `json:"prompts"`
}

// reloadPrompts reports partial loads without failing the request: the
// documents that did load are live.
func (h *ResearchHandler) reloadPrompts(c echo.Context) error {
	store := h.Pipeline.Prompts()
	resp := reloadResponse{Status: "ok"}
	if err := store.Reload(); err != nil {
		resp.Status = "partial"
		resp.Error = err.Error()
	}
	resp.Prompts = store.List()
	return c.JSON(http.StatusOK, resp)
}

func (h *ResearchHandler) clearCache(c echo.Context) error {
	if err := h.Pipeline.ClearCache(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "cache clear failed").SetInternal(err)
	}
	h.Logger.Info("cache cleared")
	return c.NoContent(http.StatusNoContent)
}
