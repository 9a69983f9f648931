package httpapi

import (
	"context"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"

	"github.com/nexusflow/flowcore/engine/connection"
	"github.com/nexusflow/flowcore/engine/connector"
	"github.com/nexusflow/flowcore/engine/core"
	"github.com/nexusflow/flowcore/engine/facade"
	"github.com/nexusflow/flowcore/engine/ratelimit"
	"github.com/nexusflow/flowcore/engine/scheduler"
)

const maxRequestBody = 10 << 20 // 10MB

// Server is the HTTP surface over an Engine.
type Server struct {
	engine  *facade.Engine
	limiter *ratelimit.Limiter
	router  *gin.Engine
}

// Config configures the HTTP server's security posture. Origins may contain
// wildcards: "*" allows any origin, "https://*.example.com" allows any
// subdomain. A nil Meter disables request metrics.
type Config struct {
	AllowedOrigins []string
	ReadRequests   int // per IP per window, GET/HEAD/OPTIONS
	WriteRequests  int // per IP per window, everything else
	LimitWindow    time.Duration
	Meter          metric.Meter
}

// DefaultConfig returns a restrictive default: no cross-origin access, 30
// reads and 5 writes per minute per client IP. Zero either request ceiling
// to disable that class of limiting.
func DefaultConfig() Config {
	return Config{ReadRequests: 30, WriteRequests: 5, LimitWindow: time.Minute}
}

// NewServer builds the gin engine and registers every route.
func NewServer(e *facade.Engine, cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(newHTTPMetrics(context.Background(), cfg.Meter).middleware())
	router.Use(requestSizeLimit(maxRequestBody))
	router.Use(corsMiddleware(cfg.AllowedOrigins))
	router.Use(securityHeaders())

	s := &Server{engine: e, limiter: ratelimit.New(), router: router}
	router.Use(s.perIPRateLimit(cfg))
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler to pass to http.Server.
func (s *Server) Handler() http.Handler { return s.router }

// Close stops the server's own rate limiter (distinct from the engine's
// connector-scoped limiter).
func (s *Server) Close() { s.limiter.Close() }

func requestSizeLimit(max int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		c.Next()
	}
}

// originAllowed matches origin against the allow-list, honoring "*" and
// single-wildcard patterns such as "https://*.example.com".
func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return false
	}
	for _, pattern := range allowed {
		if pattern == "*" || pattern == origin {
			return true
		}
		star := strings.Index(pattern, "*")
		if star < 0 {
			continue
		}
		prefix, suffix := pattern[:star], pattern[star+1:]
		if len(origin) > len(prefix)+len(suffix) &&
			strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) {
			return true
		}
	}
	return false
}

func corsMiddleware(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if originAllowed(allowed, origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Next()
	}
}

// perIPRateLimit reuses the engine's fixed-window limiter, scoped per
// client IP instead of per connector, so the transport layer gets the same
// admission semantics the domain layer already implements rather than a
// second hand-rolled counter. Reads and writes count against separate
// windows so a burst of polling cannot starve mutations, and vice versa.
func (s *Server) perIPRateLimit(cfg Config) gin.HandlerFunc {
	window := cfg.LimitWindow
	if window <= 0 {
		window = time.Minute
	}
	readPolicy := ratelimit.Policy{Requests: cfg.ReadRequests, WindowMs: window.Milliseconds()}
	writePolicy := ratelimit.Policy{Requests: cfg.WriteRequests, WindowMs: window.Milliseconds()}
	return func(c *gin.Context) {
		policy, class := readPolicy, "read"
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
		default:
			policy, class = writePolicy, "write"
		}
		if policy.Requests <= 0 {
			c.Next()
			return
		}
		decision := s.limiter.CheckLimit("ip:"+class+":"+c.ClientIP(), policy)
		c.Header("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Header("RateLimit-Reset", strconv.FormatInt(decision.ResetTime.Unix(), 10))
		if !decision.Allowed {
			sendError(c, http.StatusTooManyRequests, "Rate Limit Exceeded", core.CodeRateLimited, "too many requests from this client")
			return
		}
		c.Next()
	}
}

var unsafeInputPattern = regexp.MustCompile(`(?i)<|>|javascript:|on\w+\s*=`)

// sanitizeStrings strips characters and patterns commonly used for
// injection (angle brackets, javascript: URIs, inline event handlers) from
// every string value in a decoded JSON body before it reaches engine code.
// No example repo in the pack ships an HTML/JS sanitizer library, so this
// stays a small regex pass rather than pulling in an unrelated dependency.
func sanitizeStrings(v any) any {
	switch val := v.(type) {
	case string:
		return unsafeInputPattern.ReplaceAllString(val, "")
	case map[string]any:
		for k, inner := range val {
			val[k] = sanitizeStrings(inner)
		}
		return val
	case []any:
		for i, inner := range val {
			val[i] = sanitizeStrings(inner)
		}
		return val
	default:
		return v
	}
}

func bindSanitizedJSON(c *gin.Context, out *map[string]any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		sendError(c, http.StatusBadRequest, "Bad Request", core.CodeInvalidArgument, err.Error())
		return false
	}
	*out, _ = sanitizeStrings(*out).(map[string]any)
	return true
}

func (s *Server) registerRoutes() {
	r := s.router.Group("/api")
	r.GET("/health", s.handleHealth)
	r.GET("/status", s.handleStatus)

	r.GET("/connectors", s.handleListConnectors)
	r.GET("/connectors/:connectorId", s.handleGetConnector)

	r.POST("/flows/start", s.handleStartFlow)
	r.POST("/flows/:sessionId/step", s.handleStepFlow)
	r.GET("/flows/:sessionId", s.handleGetFlowSession)
	r.DELETE("/flows/:sessionId", s.handleDeleteFlowSession)

	r.POST("/integrations", s.handleAddIntegration)
	r.GET("/integrations", s.handleListIntegrations)
	r.GET("/integrations/:integrationId", s.handleGetIntegration)
	r.DELETE("/integrations/:integrationId", s.handleRemoveIntegration)

	r.POST("/connections", s.handleCreateConnection)
	r.GET("/connections", s.handleListConnections)
	r.GET("/connections/:connectionId", s.handleGetConnection)
	r.PUT("/connections/:connectionId", s.handleUpdateConnection)
	r.DELETE("/connections/:connectionId", s.handleDeleteConnection)
	r.GET("/connections/:connectionId/syncs", s.handleListConnectionSyncs)
	r.POST("/connections/:connectionId/syncs/:syncName/activate", s.handleActivateSync)
	r.POST("/connections/:connectionId/syncs/:syncName/deactivate", s.handleDeactivateSync)

	r.GET("/actions/:connectorId", s.handleListActions)
	r.POST("/actions/execute/:connectionId/:actionName", s.handleExecuteAction)

	r.GET("/sync/jobs", s.handleListAllSyncJobs)
	r.GET("/sync/jobs/:connectionId", s.handleListSyncJobs)
	r.POST("/sync/execute/:connectionId/:syncName", s.handleExecuteSync)
	r.POST("/sync/schedule/:connectionId", s.handleScheduleSync)
	r.DELETE("/sync/schedule/:connectionId", s.handleUnscheduleSync)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, map[string]any{"status": "healthy", "timestamp": time.Now().Format(time.RFC3339)})
}

func (s *Server) handleStatus(c *gin.Context) {
	page, err := s.engine.ListConnections(c.Request.Context(), 1, 1)
	connectionCount := 0
	if err == nil {
		connectionCount = page.Pagination.Total
	}
	c.JSON(http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"stats": map[string]any{
			"connectors":    len(s.engine.Registry.Connectors()),
			"integrations":  len(s.engine.Registry.Integrations()),
			"connections":   connectionCount,
			"scheduledJobs": len(s.engine.Scheduler.Jobs()),
		},
	})
}

func (s *Server) handleListConnectors(c *gin.Context) {
	catalog := s.engine.Registry.Connectors()
	out := make([]connector.Summary, 0, len(catalog))
	for _, cn := range catalog {
		out = append(out, cn.Sanitize())
	}
	sendSuccess(c, http.StatusOK, out)
}

func (s *Server) handleGetConnector(c *gin.Context) {
	cn, err := s.engine.Registry.Connector(core.ID(c.Param("connectorId")))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	sendSuccess(c, http.StatusOK, cn.Sanitize())
}

func (s *Server) handleStartFlow(c *gin.Context) {
	var body map[string]any
	if !bindSanitizedJSON(c, &body) {
		return
	}
	integrationID, _ := body["integrationId"].(string)
	result, err := s.engine.StartFlow(c.Request.Context(), core.ID(integrationID))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	sendSuccess(c, http.StatusCreated, result)
}

func (s *Server) handleStepFlow(c *gin.Context) {
	var body map[string]any
	if !bindSanitizedJSON(c, &body) {
		return
	}
	input, _ := body["input"].(map[string]any)
	result, err := s.engine.StepFlow(c.Request.Context(), core.ID(c.Param("sessionId")), input)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	sendSuccess(c, http.StatusOK, result)
}

func (s *Server) handleGetFlowSession(c *gin.Context) {
	session, err := s.engine.GetFlowSession(core.ID(c.Param("sessionId")))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	sendSuccess(c, http.StatusOK, session)
}

func (s *Server) handleDeleteFlowSession(c *gin.Context) {
	s.engine.DeleteFlowSession(core.ID(c.Param("sessionId")))
	c.Status(http.StatusNoContent)
}

func (s *Server) handleAddIntegration(c *gin.Context) {
	var body map[string]any
	if !bindSanitizedJSON(c, &body) {
		return
	}
	id, _ := body["id"].(string)
	connectorID, _ := body["connectorId"].(string)
	name, _ := body["name"].(string)
	config, _ := body["config"].(map[string]any)
	integration := &connector.Integration{ID: core.ID(id), ConnectorID: core.ID(connectorID), Name: name, Config: config}
	if err := s.engine.AddIntegration(integration); err != nil {
		respondEngineError(c, err)
		return
	}
	sendSuccess(c, http.StatusCreated, integration)
}

func (s *Server) handleListIntegrations(c *gin.Context) {
	sendSuccess(c, http.StatusOK, s.engine.Registry.Integrations())
}

func (s *Server) handleGetIntegration(c *gin.Context) {
	integration, err := s.engine.Registry.Integration(core.ID(c.Param("integrationId")))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	sendSuccess(c, http.StatusOK, integration)
}

func (s *Server) handleRemoveIntegration(c *gin.Context) {
	if err := s.engine.RemoveIntegration(core.ID(c.Param("integrationId"))); err != nil {
		respondEngineError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleCreateConnection(c *gin.Context) {
	var body map[string]any
	if !bindSanitizedJSON(c, &body) {
		return
	}
	conn, err := connectionFromBody(body)
	if err != nil {
		sendError(c, http.StatusBadRequest, "Bad Request", core.CodeInvalidArgument, err.Error())
		return
	}
	if err := s.engine.AddConnection(c.Request.Context(), conn); err != nil {
		respondEngineError(c, err)
		return
	}
	sendSuccess(c, http.StatusCreated, conn)
}

func connectionFromBody(body map[string]any) (*connection.Connection, error) {
	id, _ := body["id"].(string)
	if id == "" {
		generated, err := core.NewID()
		if err != nil {
			return nil, err
		}
		id = generated.String()
	}
	integrationID, _ := body["integrationId"].(string)
	connectorID, _ := body["connectorId"].(string)
	externalID, _ := body["externalId"].(string)
	config, _ := body["config"].(map[string]any)
	syncInterval, _ := body["syncInterval"].(float64)

	activeSyncs := make(map[string]struct{})
	if raw, ok := body["activeSyncs"].([]any); ok {
		for _, name := range raw {
			if s, ok := name.(string); ok {
				activeSyncs[s] = struct{}{}
			}
		}
	}
	return &connection.Connection{
		ID: core.ID(id), ExternalID: externalID, IntegrationID: core.ID(integrationID),
		ConnectorID: core.ID(connectorID), Config: config, SyncInterval: syncInterval, ActiveSyncs: activeSyncs,
	}, nil
}

func (s *Server) handleListConnections(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	result, err := s.engine.ListConnections(c.Request.Context(), page, limit)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	sendSuccess(c, http.StatusOK, result)
}

func (s *Server) handleGetConnection(c *gin.Context) {
	conn, err := s.engine.Connections.Read(c.Request.Context(), core.ID(c.Param("connectionId")))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	sendSuccess(c, http.StatusOK, conn)
}

func (s *Server) handleUpdateConnection(c *gin.Context) {
	var body map[string]any
	if !bindSanitizedJSON(c, &body) {
		return
	}
	conn, err := connectionFromBody(body)
	if err != nil {
		sendError(c, http.StatusBadRequest, "Bad Request", core.CodeInvalidArgument, err.Error())
		return
	}
	conn.ID = core.ID(c.Param("connectionId"))
	if err := s.engine.UpdateConnection(c.Request.Context(), conn); err != nil {
		respondEngineError(c, err)
		return
	}
	sendSuccess(c, http.StatusOK, conn)
}

func (s *Server) handleDeleteConnection(c *gin.Context) {
	if err := s.engine.RemoveConnection(c.Request.Context(), core.ID(c.Param("connectionId"))); err != nil {
		respondEngineError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// syncStatus is one entry of GET /api/connections/:id/syncs: every sync the
// connector declares, flagged with whether it is currently active.
type syncStatus struct {
	Name     string `json:"name"`
	IsActive bool   `json:"isActive"`
}

func (s *Server) handleListConnectionSyncs(c *gin.Context) {
	conn, err := s.engine.Connections.Read(c.Request.Context(), core.ID(c.Param("connectionId")))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	cn, err := s.engine.Registry.Connector(conn.ConnectorID)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	out := make([]syncStatus, 0, len(cn.Syncs))
	for name := range cn.Syncs {
		_, active := conn.ActiveSyncs[name]
		out = append(out, syncStatus{Name: name, IsActive: active})
	}
	sendSuccess(c, http.StatusOK, out)
}

func (s *Server) handleActivateSync(c *gin.Context) {
	var body map[string]any
	_ = c.ShouldBindJSON(&body)
	syncInterval, _ := body["syncInterval"].(float64)
	if err := s.engine.ActivateSync(c.Request.Context(), core.ID(c.Param("connectionId")), c.Param("syncName"), syncInterval); err != nil {
		respondEngineError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDeactivateSync(c *gin.Context) {
	if err := s.engine.DeactivateSync(c.Request.Context(), core.ID(c.Param("connectionId")), c.Param("syncName")); err != nil {
		respondEngineError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListActions(c *gin.Context) {
	cn, err := s.engine.Registry.Connector(core.ID(c.Param("connectorId")))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	names := make([]string, 0, len(cn.Actions))
	for name := range cn.Actions {
		names = append(names, name)
	}
	sendSuccess(c, http.StatusOK, names)
}

func (s *Server) handleExecuteAction(c *gin.Context) {
	var body map[string]any
	if !bindSanitizedJSON(c, &body) {
		return
	}
	out, err := s.engine.ExecuteAction(c.Request.Context(), core.ID(c.Param("connectionId")), c.Param("actionName"), core.NewInput(body))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	sendSuccess(c, http.StatusOK, out)
}

func (s *Server) handleExecuteSync(c *gin.Context) {
	out, err := s.engine.ExecuteSyncNow(c.Request.Context(), core.ID(c.Param("connectionId")), c.Param("syncName"))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	sendSuccess(c, http.StatusOK, out)
}

func (s *Server) handleScheduleSync(c *gin.Context) {
	var body map[string]any
	_ = c.ShouldBindJSON(&body)
	syncInterval, _ := body["syncInterval"].(float64)
	var syncNames []string
	if raw, ok := body["syncNames"].([]any); ok {
		for _, n := range raw {
			if name, ok := n.(string); ok {
				syncNames = append(syncNames, name)
			}
		}
	}
	if err := s.engine.ScheduleConnectionSyncs(c.Request.Context(), core.ID(c.Param("connectionId")), syncInterval, syncNames); err != nil {
		respondEngineError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleUnscheduleSync(c *gin.Context) {
	if err := s.engine.UnscheduleConnectionSyncs(c.Request.Context(), core.ID(c.Param("connectionId"))); err != nil {
		respondEngineError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListAllSyncJobs(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	jobs := s.engine.Scheduler.Jobs()
	sendSuccess(c, http.StatusOK, paginateJobs(jobs, page, limit))
}

func (s *Server) handleListSyncJobs(c *gin.Context) {
	jobs := s.engine.Scheduler.JobsForConnection(core.ID(c.Param("connectionId")))
	sendSuccess(c, http.StatusOK, jobs)
}

// jobsPage mirrors connection.Page's {data, pagination} shape for the
// scheduler's job list, so both paginated listings look the same on the
// wire.
type jobsPage struct {
	Data       []scheduler.JobInfo  `json:"data"`
	Pagination connection.Pagination `json:"pagination"`
}

func paginateJobs(jobs []scheduler.JobInfo, page, limit int) jobsPage {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	total := len(jobs)
	totalPages := (total + limit - 1) / limit
	start := (page - 1) * limit
	var data []scheduler.JobInfo
	if start < total {
		end := start + limit
		if end > total {
			end = total
		}
		data = jobs[start:end]
	}
	return jobsPage{
		Data: data,
		Pagination: connection.Pagination{
			Page: page, Limit: limit, Total: total, TotalPages: totalPages,
			HasNext: page < totalPages, HasPrev: page > 1,
		},
	}
}
