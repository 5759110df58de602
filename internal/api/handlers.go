package api

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"parisdvf/server/internal/database"
	"parisdvf/server/internal/geodata"
	"parisdvf/server/internal/pipeline"
	"parisdvf/server/internal/query"
	"parisdvf/server/internal/search"
)

type Handler struct {
	db         *database.Database
	queries    *query.Service
	index      *search.Index
	pipe       *pipeline.Pipeline
	boundaries *geodata.Arrondissements
	runDefault pipeline.Options
	logger     *logrus.Logger

	runMu   sync.Mutex
	running bool
}

// DateRange carries the optional period filter shared by the dashboard
// endpoints.
type DateRange struct {
	StartDate string `form:"startDate"`
	EndDate   string `form:"endDate"`
}

// ScrapeRequest triggers a pipeline run. Omitted fields fall back to
// the configured defaults.
type ScrapeRequest struct {
	Codes         []string `json:"codes"`
	AnneeMin      string   `json:"annee_min"`
	AnneeMax      string   `json:"annee_max"`
	Append        bool     `json:"append"`
	WithParcelles bool     `json:"with_parcelles"`
}

func NewHandler(db *database.Database, queries *query.Service, index *search.Index, pipe *pipeline.Pipeline, boundaries *geodata.Arrondissements, runDefault pipeline.Options, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Handler{
		db:         db,
		queries:    queries,
		index:      index,
		pipe:       pipe,
		boundaries: boundaries,
		runDefault: runDefault,
		logger:     logger,
	}
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func csvParam(c *gin.Context, key string) []string {
	raw := c.Query(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func floatParam(c *gin.Context, key string) *float64 {
	raw := c.Query(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}

func (h *Handler) bindFilter(c *gin.Context) query.Filter {
	var dateRange DateRange
	if err := c.ShouldBindQuery(&dateRange); err != nil {
		h.logger.WithError(err).Error("Failed to parse date range")
	}

	return query.Filter{
		DateMin:         parseDate(dateRange.StartDate),
		DateMax:         parseDate(dateRange.EndDate),
		Arrondissements: csvParam(c, "arrondissement"),
		TypesLocaux:     csvParam(c, "typeLocal"),
		NaturesMutation: csvParam(c, "natureMutation"),
		PrixMin:         floatParam(c, "prixMin"),
		PrixMax:         floatParam(c, "prixMax"),
	}
}

func (h *Handler) GetTransactions(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "1000"))
	if err != nil || limit <= 0 {
		limit = 1000
	}

	txs, err := h.queries.Transactions(h.bindFilter(c), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get transactions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get transactions"})
		return
	}
	c.JSON(http.StatusOK, txs)
}

func (h *Handler) GetStats(c *gin.Context) {
	summary, err := h.queries.Summary(h.bindFilter(c))
	if err != nil {
		h.logger.WithError(err).Error("Failed to compute summary")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute summary"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) GetArrondissementStats(c *gin.Context) {
	stats, err := h.queries.ByArrondissement(h.bindFilter(c))
	if err != nil {
		h.logger.WithError(err).Error("Failed to compute arrondissement stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute arrondissement stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) GetTimeline(c *gin.Context) {
	stats, err := h.queries.ByMonth(h.bindFilter(c))
	if err != nil {
		h.logger.WithError(err).Error("Failed to compute timeline")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute timeline"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) GetParcelles(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		limit = 0
	}
	onlyWithTransaction := c.DefaultQuery("withTransactions", "true") != "false"

	parcels, err := h.db.GetParcelles(onlyWithTransaction, limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get parcelles")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get parcelles"})
		return
	}
	c.JSON(http.StatusOK, parcels)
}

func (h *Handler) GetArrondissementsGeoJSON(c *gin.Context) {
	data, err := h.boundaries.GeoJSON(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to get arrondissement boundaries")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get arrondissement boundaries"})
		return
	}
	c.Data(http.StatusOK, "application/geo+json", data)
}

// Search answers free-text queries from the search index. When the
// index is missing or empty the endpoint degrades with 503 instead of
// failing the whole dashboard; the relational endpoints keep serving.
func (h *Handler) Search(c *gin.Context) {
	if !h.index.Available() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Search index unavailable"})
		return
	}

	size, err := strconv.Atoi(c.DefaultQuery("size", "50"))
	if err != nil || size <= 0 {
		size = 50
	}

	filters := search.Filters{
		Arrondissement: c.Query("arrondissement"),
		TypeLocal:      c.Query("typeLocal"),
		PrixMin:        floatParam(c, "prixMin"),
		PrixMax:        floatParam(c, "prixMax"),
		SurfaceMin:     floatParam(c, "surfaceMin"),
		SurfaceMax:     floatParam(c, "surfaceMax"),
		DateMin:        parseDate(c.Query("startDate")),
		DateMax:        parseDate(c.Query("endDate")),
	}

	results, err := h.index.Search(c.Query("q"), filters, size)
	if err != nil {
		h.logger.WithError(err).Error("Search failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Search failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(results),
		"results": results,
	})
}

// RunScrape starts a pipeline run in the background. Only one run may
// be in flight at a time.
func (h *Handler) RunScrape(c *gin.Context) {
	var req ScrapeRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		h.logger.WithError(err).Error("Failed to parse scrape request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request parameters"})
		return
	}

	opts := h.runDefault
	if len(req.Codes) > 0 {
		opts.Codes = req.Codes
	}
	if req.AnneeMin != "" {
		opts.AnneeMin = req.AnneeMin
	}
	if req.AnneeMax != "" {
		opts.AnneeMax = req.AnneeMax
	}
	if req.Append {
		opts.Mode = pipeline.LoadModeAppend
	}
	if req.WithParcelles {
		opts.WithParcelles = true
	}

	h.runMu.Lock()
	if h.running {
		h.runMu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "A pipeline run is already in progress"})
		return
	}
	h.running = true
	h.runMu.Unlock()

	go func() {
		defer func() {
			h.runMu.Lock()
			h.running = false
			h.runMu.Unlock()
		}()

		result, err := h.pipe.Run(context.Background(), opts)
		if err != nil {
			h.logger.WithError(err).Error("Pipeline run failed")
			return
		}
		h.queries.Invalidate()
		h.logger.WithFields(logrus.Fields{
			"run_id": result.RunID,
			"loaded": result.Loaded,
		}).Info("Pipeline run completed from API")
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"status":  "success",
		"message": "Pipeline run started",
	})
}

func (h *Handler) Health(c *gin.Context) {
	count, err := h.db.CountTransactions()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "store unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"transactions": count,
		"search":       h.index.Available(),
	})
}
