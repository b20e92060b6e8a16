package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/freight_backend/audit"
	"github.com/mmdatafocus/freight_backend/authz"
	"github.com/mmdatafocus/freight_backend/config"
	"github.com/mmdatafocus/freight_backend/integrations"
	"github.com/mmdatafocus/freight_backend/middlewares"
	"github.com/mmdatafocus/freight_backend/models"
	"github.com/mmdatafocus/freight_backend/reports"
	"github.com/mmdatafocus/freight_backend/workflow"
	"github.com/sirupsen/logrus"
)

const maxLabelUploadBytes = 10 << 20

type api struct {
	engine   *workflow.Engine
	scanner  integrations.LabelScanner
	insights *integrations.FallbackInsights
	logger   *logrus.Logger
}

func newRouter(a *api, limiter *middlewares.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(cors.New(corsConfig()))
	r.Use(middlewares.AuthMiddleware())
	if limiter != nil {
		r.Use(limiter.RateLimitMiddleware)
	}
	r.Use(customErrorLogger(a.logger))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	v1 := r.Group("/v1", middlewares.RequireActor())
	v1.POST("/transitions", a.attemptTransition)
	v1.GET("/entities/:type", a.queryVisible)

	v1.POST("/customers", a.createCustomer)
	v1.PATCH("/customers/:id", a.updateCustomer)

	v1.POST("/shipments", a.createShipment)
	v1.PATCH("/shipments/:id/pricing", a.updateShipmentPricing)
	v1.POST("/shipments/:id/price-lock", a.lockShipmentPrice)
	v1.POST("/shipments/:id/price-override", a.overrideShipmentPricing)
	v1.POST("/shipments/:id/reject", a.rejectShipment)

	v1.POST("/scan-ops/scan", a.scanPackage)
	v1.POST("/scan-ops/parse-label", a.parseLabel)

	v1.POST("/invoices", a.generateInvoice)

	v1.POST("/expenses", a.submitExpense)
	v1.POST("/expenses/fund", a.fundExpenses)

	v1.GET("/audit/logs", a.auditLogs)
	v1.GET("/audit/verify", a.auditVerify)

	v1.GET("/reports/profit/:shipmentId", a.profitReport)
	v1.GET("/reports/profit.xlsx", a.profitWorkbook)

	v1.GET("/dashboard", a.dashboard)
	v1.GET("/dashboard/insights", a.dashboardInsights)

	r.NoRoute(customNotFoundHandler)
	return r
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// statusFor maps engine error kinds onto HTTP statuses.
func statusFor(err error) int {
	switch models.KindOf(err) {
	case models.KindUnauthorized:
		return http.StatusForbidden
	case models.KindInvalidTransition, models.KindDuplicateEntity, models.KindConcurrentModification:
		return http.StatusConflict
	case models.KindPreconditionNotMet:
		return http.StatusUnprocessableEntity
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindInvalidInput:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (a *api) fail(c *gin.Context, funcName string, err error) {
	status := statusFor(err)
	var te *models.TransitionError
	if errors.As(err, &te) {
		if status == http.StatusInternalServerError {
			config.LogError(a.logger, "server.go", funcName, c.FullPath(), te, err)
		}
		c.AbortWithStatusJSON(status, gin.H{"error": te})
		return
	}
	config.LogError(a.logger, "server.go", funcName, c.FullPath(), nil, err)
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"kind": "Internal", "message": "internal error"}})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": gin.H{"kind": models.KindInvalidInput, "message": msg}})
}

func actorOf(c *gin.Context) models.Actor {
	actor, _ := middlewares.ActorFromContext(c.Request.Context())
	return actor
}

type transitionRequest struct {
	EntityType string          `json:"entity_type" binding:"required"`
	EntityID   string          `json:"entity_id" binding:"required"`
	Target     string          `json:"target" binding:"required"`
	Params     workflow.Params `json:"params"`
}

func (a *api) attemptTransition(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	entityType, err := models.ParseEntityType(req.EntityType)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	res, err := a.engine.AttemptTransition(c.Request.Context(), workflow.TransitionRequest{
		EntityType: entityType,
		EntityID:   req.EntityID,
		Target:     strings.ToUpper(strings.TrimSpace(req.Target)),
		Actor:      actorOf(c),
		Params:     req.Params,
	})
	if err != nil {
		a.fail(c, "attemptTransition", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (a *api) queryVisible(c *gin.Context) {
	entityType, err := models.ParseEntityType(c.Param("type"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	rows, err := a.engine.QueryVisible(c.Request.Context(), entityType, actorOf(c))
	if err != nil {
		a.fail(c, "queryVisible", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "count": len(rows)})
}

type createCustomerRequest struct {
	models.NewCustomer
	Force bool `json:"force"`
}

func (a *api) createCustomer(c *gin.Context) {
	var req createCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	customer, err := a.engine.CreateCustomer(c.Request.Context(), actorOf(c), req.NewCustomer, req.Force)
	if err != nil {
		a.fail(c, "createCustomer", err)
		return
	}
	c.JSON(http.StatusCreated, customer)
}

func (a *api) updateCustomer(c *gin.Context) {
	var req models.UpdateCustomer
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	customer, err := a.engine.UpdateCustomer(c.Request.Context(), actorOf(c), c.Param("id"), req)
	if err != nil {
		a.fail(c, "updateCustomer", err)
		return
	}
	c.JSON(http.StatusOK, customer)
}

func (a *api) createShipment(c *gin.Context) {
	var req models.NewShipment
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	sh, err := a.engine.CreateShipment(c.Request.Context(), actorOf(c), req)
	if err != nil {
		a.fail(c, "createShipment", err)
		return
	}
	c.JSON(http.StatusCreated, sh)
}

func (a *api) updateShipmentPricing(c *gin.Context) {
	var req models.PricingInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	sh, err := a.engine.UpdateShipmentPricing(c.Request.Context(), actorOf(c), c.Param("id"), req)
	if err != nil {
		a.fail(c, "updateShipmentPricing", err)
		return
	}
	c.JSON(http.StatusOK, sh)
}

func (a *api) lockShipmentPrice(c *gin.Context) {
	sh, err := a.engine.LockShipmentPrice(c.Request.Context(), actorOf(c), c.Param("id"))
	if err != nil {
		a.fail(c, "lockShipmentPrice", err)
		return
	}
	c.JSON(http.StatusOK, sh)
}

type priceOverrideRequest struct {
	Pricing models.PricingInput `json:"pricing"`
	Reason  string              `json:"reason"`
}

func (a *api) overrideShipmentPricing(c *gin.Context) {
	var req priceOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	sh, err := a.engine.OverrideShipmentPricing(c.Request.Context(), actorOf(c), c.Param("id"), req.Pricing, req.Reason)
	if err != nil {
		a.fail(c, "overrideShipmentPricing", err)
		return
	}
	c.JSON(http.StatusOK, sh)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (a *api) rejectShipment(c *gin.Context) {
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	sh, err := a.engine.RejectShipment(c.Request.Context(), actorOf(c), c.Param("id"), req.Reason)
	if err != nil {
		a.fail(c, "rejectShipment", err)
		return
	}
	c.JSON(http.StatusOK, sh)
}

func (a *api) scanPackage(c *gin.Context) {
	var req models.NewPackage
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	p, err := a.engine.RegisterPackage(c.Request.Context(), actorOf(c), req)
	if err != nil {
		a.fail(c, "scanPackage", err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// parseLabel only reads the label; registering the package is a separate scan.
func (a *api) parseLabel(c *gin.Context) {
	if !authz.Allowed(actorOf(c), authz.ActionPackageScan) {
		a.fail(c, "parseLabel", models.NewError(models.KindUnauthorized, models.EntityPackage, "", "package.scan denied"))
		return
	}
	fh, err := c.FormFile("image")
	if err != nil {
		badRequest(c, "image is required")
		return
	}
	if fh.Size > maxLabelUploadBytes {
		badRequest(c, "image exceeds 10MB")
		return
	}
	f, err := fh.Open()
	if err != nil {
		badRequest(c, "image is unreadable")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxLabelUploadBytes+1))
	if err != nil {
		badRequest(c, "image is unreadable")
		return
	}

	label, err := a.scanner.Scan(c.Request.Context(), data)
	switch {
	case errors.Is(err, integrations.ErrInvalidImage):
		badRequest(c, err.Error())
		return
	case err != nil:
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": gin.H{"kind": "ScanUnavailable", "message": "label scan unavailable"}})
		return
	}
	c.JSON(http.StatusOK, label)
}

type generateInvoiceRequest struct {
	ShipmentID string `json:"shipment_id" binding:"required"`
}

func (a *api) generateInvoice(c *gin.Context) {
	var req generateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "shipment_id is required")
		return
	}
	inv, err := a.engine.GenerateInvoice(c.Request.Context(), actorOf(c), req.ShipmentID)
	if err != nil {
		a.fail(c, "generateInvoice", err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

func (a *api) submitExpense(c *gin.Context) {
	var req models.NewExpense
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	ex, err := a.engine.SubmitExpense(c.Request.Context(), actorOf(c), req)
	if err != nil {
		a.fail(c, "submitExpense", err)
		return
	}
	c.JSON(http.StatusCreated, ex)
}

type fundExpensesRequest struct {
	ExpenseIDs []string `json:"expense_ids"`
}

func (a *api) fundExpenses(c *gin.Context) {
	var req fundExpensesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	funded, batchID, err := a.engine.FundExpenses(c.Request.Context(), actorOf(c), req.ExpenseIDs)
	if err != nil {
		a.fail(c, "fundExpenses", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"funding_batch_id": batchID, "expenses": funded})
}

func auditFilterFromQuery(c *gin.Context) (audit.Filter, error) {
	f := audit.Filter{
		EntityID:  strings.TrimSpace(c.Query("entity_id")),
		ActorID:   strings.TrimSpace(c.Query("actor_id")),
		EventType: models.AuditEventType(strings.ToUpper(strings.TrimSpace(c.Query("event_type")))),
		Ascending: strings.EqualFold(c.Query("order"), "asc"),
	}
	if v := c.Query("entity_type"); v != "" {
		t, err := models.ParseEntityType(v)
		if err != nil {
			return f, err
		}
		f.EntityType = t
	}
	for key, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		v := strings.TrimSpace(c.Query(key))
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("%s must be RFC3339", key)
		}
		*dst = t
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.New("limit must be a non-negative integer")
		}
		f.Limit = n
	}
	return f, nil
}

func (a *api) auditLogs(c *gin.Context) {
	f, err := auditFilterFromQuery(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	entries, err := a.engine.GetAuditTrail(c.Request.Context(), actorOf(c), f)
	if err != nil {
		a.fail(c, "auditLogs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entries, "count": len(entries)})
}

func (a *api) auditVerify(c *gin.Context) {
	if err := authz.Authorize(actorOf(c), authz.ActionAuditRead, authz.Target{}); err != nil {
		a.fail(c, "auditVerify", err)
		return
	}
	report := a.engine.VerifyIntegrity(c.Request.Context())
	halted, reason := a.engine.AuditLog().Halted()
	c.JSON(http.StatusOK, gin.H{"report": report, "halted": halted, "halt_reason": reason})
}

func (a *api) profitReport(c *gin.Context) {
	rep, err := a.engine.ComputeProfitReport(c.Request.Context(), actorOf(c), c.Param("shipmentId"))
	if err != nil {
		a.fail(c, "profitReport", err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (a *api) profitWorkbook(c *gin.Context) {
	rows, err := a.engine.ProfitReports(c.Request.Context(), actorOf(c))
	if err != nil {
		a.fail(c, "profitWorkbook", err)
		return
	}
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="profit-%s.xlsx"`, time.Now().UTC().Format("20060102")))
	c.Status(http.StatusOK)
	if err := reports.WriteProfitWorkbook(c.Writer, rows); err != nil {
		config.LogError(a.logger, "server.go", "profitWorkbook", "WriteProfitWorkbook", nil, err)
		_ = c.Error(err)
	}
}

func (a *api) dashboard(c *gin.Context) {
	d, err := a.engine.DashboardSnapshot(c.Request.Context(), actorOf(c))
	if err != nil {
		a.fail(c, "dashboard", err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// dashboardInsights computes the snapshot first so no engine lock is held
// while the insight service is called.
func (a *api) dashboardInsights(c *gin.Context) {
	d, err := a.engine.DashboardSnapshot(c.Request.Context(), actorOf(c))
	if err != nil {
		a.fail(c, "dashboardInsights", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dashboard": d, "insights": a.insights.Insights(c.Request.Context(), d)})
}
