// Package api exposes ingestion, queries and administration over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"LegisGraph/backend/go/internal/kg/archive"
	"LegisGraph/backend/go/internal/kg/disambiguation"
	"LegisGraph/backend/go/internal/kg/ingest"
	"LegisGraph/backend/go/internal/kg/query"
	"LegisGraph/backend/go/internal/kg/resolver"
	"LegisGraph/backend/go/internal/kg/vectorsync"
	"LegisGraph/backend/go/internal/kgerrors"
	"LegisGraph/backend/go/internal/models"
	"LegisGraph/backend/go/pkg/logger"

	"github.com/gin-gonic/gin"
)

// HealthCheck checks one backend.
type HealthCheck func(ctx context.Context) error

// API holds the handlers. Merger, disambiguations and archiver are optional.
type API struct {
	ingest          *ingest.Service
	query           *query.Service
	merger          *resolver.Merger
	disambiguations disambiguation.Store
	archiver        *archive.Archiver
	checks          map[string]HealthCheck
	logger          *logger.Logger
}

// Option configures optional handlers.
type Option func(*API)

func WithMerger(m *resolver.Merger) Option { return func(a *API) { a.merger = m } }

func WithDisambiguations(s disambiguation.Store) Option {
	return func(a *API) { a.disambiguations = s }
}

func WithArchiver(ar *archive.Archiver) Option { return func(a *API) { a.archiver = ar } }

// WithHealthCheck adds a backend to GET /health.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(a *API) { a.checks[name] = check }
}

// NewAPI creates the handler set.
func NewAPI(ingestSvc *ingest.Service, querySvc *query.Service, log *logger.Logger, opts ...Option) *API {
	a := &API{ingest: ingestSvc, query: querySvc, checks: make(map[string]HealthCheck), logger: log.Component("api")}
	for _, o := range opts {
		o(a)
	}
	return a
}

// SubmitCandidateHandler queues a candidate: 202 when accepted, 200 for a
// duplicate submission.
func (a *API) SubmitCandidateHandler(c *gin.Context) {
	var cand models.Candidate
	if err := c.ShouldBindJSON(&cand); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload: " + err.Error()})
		return
	}
	res, err := a.ingest.SubmitCandidate(c.Request.Context(), cand)
	if err != nil {
		a.fail(c, err)
		return
	}
	status := http.StatusAccepted
	if res.Status == ingest.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

// GetReceiptHandler reports what happened to a submission.
func (a *API) GetReceiptHandler(c *gin.Context) {
	r, err := a.ingest.Receipt(c.Request.Context(), c.Param("key"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// GetEntityHandler returns the current view of an entity.
func (a *API) GetEntityHandler(c *gin.Context) {
	e, err := a.query.GetCurrentEntity(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// GetEntityAsOfHandler answers ?t=<time>[&knownAt=<time>].
func (a *API) GetEntityAsOfHandler(c *gin.Context) {
	at, err := models.ParseTime(c.Query("t"))
	if err != nil || at == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter t must be an RFC 3339 time"})
		return
	}
	knownAt, err := models.ParseTime(c.Query("knownAt"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter knownAt must be an RFC 3339 time"})
		return
	}
	e, err := a.query.GetEntityAsOf(c.Request.Context(), c.Param("id"), *at, knownAt)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// GetHistoryHandler lists the facts of one slot (?slot=) or of the entity.
func (a *API) GetHistoryHandler(c *gin.Context) {
	facts, err := a.query.History(c.Request.Context(), c.Param("id"), c.Query("slot"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entityId": c.Param("id"), "facts": facts})
}

// GetNeighborhoodHandler returns the projected neighbours of an entity.
func (a *API) GetNeighborhoodHandler(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	nb, err := a.query.Neighborhood(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		a.fail(c, err)
		return
	}
	if nb.Node == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "entity is not projected yet"})
		return
	}
	c.JSON(http.StatusOK, nb)
}

// SearchHandler runs a semantic search: ?q=&k=&type=&attribute=&asOf=.
func (a *API) SearchHandler(c *gin.Context) {
	req := vectorsync.SearchRequest{Query: c.Query("q"), Attributes: c.QueryArray("attribute")}
	if k := c.Query("k"); k != "" {
		n, err := strconv.Atoi(k)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "k must be an integer"})
			return
		}
		req.K = n
	}
	for _, raw := range c.QueryArray("type") {
		t, err := models.ParseEntityType(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req.EntityTypes = append(req.EntityTypes, t)
	}
	asOf, err := models.ParseTime(c.Query("asOf"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "asOf must be an RFC 3339 time"})
		return
	}
	req.AsOf = asOf

	hits, err := a.query.SemanticSearch(c.Request.Context(), req)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": req.Query, "hits": hits})
}

// SearchEntitiesHandler finds entities by name: ?q=&type=&limit=.
func (a *API) SearchEntitiesHandler(c *gin.Context) {
	var t models.EntityType
	if raw := c.Query("type"); raw != "" {
		parsed, err := models.ParseEntityType(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		t = parsed
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}
	matches, err := a.query.SearchEntities(c.Request.Context(), c.Query("q"), t, limit)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": c.Query("q"), "matches": matches})
}

// EntityTypesHandler counts canonical entities per type.
func (a *API) EntityTypesHandler(c *gin.Context) {
	counts, err := a.query.EntityTypes(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"types": counts})
}

// RebuildHandler rewinds projections. Body: {"projection": "", "fromCursor": 0}.
func (a *API) RebuildHandler(c *gin.Context) {
	var body struct {
		Projection string `json:"projection"`
		FromCursor int64  `json:"fromCursor"`
	}
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	names, err := a.query.RebuildProjection(c.Request.Context(), body.Projection, body.FromCursor)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"projections": names, "fromCursor": body.FromCursor})
}

// MergeHandler folds loser into winner.
func (a *API) MergeHandler(c *gin.Context) {
	if a.merger == nil {
		a.fail(c, kgerrors.Unavailable("entity merge"))
		return
	}
	var body struct {
		Winner   string `json:"winner" binding:"required"`
		Loser    string `json:"loser" binding:"required"`
		SourceID string `json:"sourceId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "winner and loser are required"})
		return
	}
	res, err := a.merger.Merge(c.Request.Context(), body.Winner, body.Loser, body.SourceID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// UnmergeHandler reverts a merge of loser into winner.
func (a *API) UnmergeHandler(c *gin.Context) {
	if a.merger == nil {
		a.fail(c, kgerrors.Unavailable("entity merge"))
		return
	}
	var body struct {
		Winner   string `json:"winner" binding:"required"`
		Loser    string `json:"loser" binding:"required"`
		SourceID string `json:"sourceId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "winner and loser are required"})
		return
	}
	res, err := a.merger.Unmerge(c.Request.Context(), body.Winner, body.Loser, body.SourceID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListDisambiguationsHandler lists disambiguation requests (?status=open&limit=).
func (a *API) ListDisambiguationsHandler(c *gin.Context) {
	if a.disambiguations == nil {
		a.fail(c, kgerrors.Unavailable("disambiguation store"))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	reqs, err := a.disambiguations.List(c.Request.Context(), c.DefaultQuery("status", models.DisambiguationOpen), limit)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs})
}

// ArchiveHandler exports new ledger facts to object storage.
func (a *API) ArchiveHandler(c *gin.Context) {
	if a.archiver == nil {
		a.fail(c, kgerrors.Unavailable("ledger archive"))
		return
	}
	seg, err := a.archiver.Export(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	if seg == nil {
		c.JSON(http.StatusOK, gin.H{"archived": false})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"archived": true, "segment": seg})
}

// StatsHandler returns entity, fact, vector and projection statistics.
func (a *API) StatsHandler(c *gin.Context) {
	st, err := a.query.Stats(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// HealthHandler checks every registered backend.
func (a *API) HealthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	status, code := make(map[string]string, len(a.checks)), http.StatusOK
	for name, check := range a.checks {
		if err := check(ctx); err != nil {
			status[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	overall := "healthy"
	if code != http.StatusOK {
		overall = "degraded"
	}
	c.JSON(code, gin.H{"status": overall, "checks": status})
}

func (a *API) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		a.logger.WithError(models.ErrorInfo{Message: err.Error(), Type: kgerrors.Kind(err), StatusCode: code}).
			WithField("path", c.FullPath()).Error("request failed")
	}
	c.JSON(code, gin.H{"error": err.Error(), "kind": kgerrors.Kind(err)})
}

func statusFor(err error) int {
	switch {
	case kgerrors.IsInvalid(err), kgerrors.IsInvalidArgument(err):
		return http.StatusBadRequest
	case kgerrors.IsNotFound(err):
		return http.StatusNotFound
	case kgerrors.IsInvariantViolation(err):
		return http.StatusConflict
	case kgerrors.IsUnavailable(err), kgerrors.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
