package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/emr-interpretation-server/internal/definition"
	"github.com/emr-interpretation-server/internal/domain"
	"github.com/emr-interpretation-server/internal/evaluator"
	"github.com/emr-interpretation-server/internal/inventory"
	"github.com/emr-interpretation-server/internal/metric"
	"github.com/emr-interpretation-server/internal/pricing"
)

// interpretRequest is the body of POST /observations/interpret.
type interpretRequest struct {
	Observation domain.Observation `json:"observation" binding:"required"`
	Patient     *domain.Patient    `json:"patient,omitempty"`
	Encounter   *domain.Encounter  `json:"encounter,omitempty"`
}

// handleInterpretObservation evaluates an observation and its components
// against its definition's qualified ranges.
func (s *Server) handleInterpretObservation(c *gin.Context) {
	var req interpretRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Observation.DefinitionSlug == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "observation.definition_slug is required"})
		return
	}

	evalCtx := domain.EvaluationContext{}
	if req.Patient != nil {
		evalCtx[domain.PatientContext] = req.Patient
	}
	if req.Encounter != nil {
		evalCtx[domain.EncounterContext] = req.Encounter
		if req.Encounter.Patient == nil {
			req.Encounter.Patient = req.Patient
		}
	}

	obs := req.Observation
	if err := s.interpreter.Interpret(c.Request.Context(), evalCtx, &obs); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"observation": obs})
}

// handleSaveDefinition validates and persists an observation definition.
// Rule validation happens here, at configuration-save time, so broken rules
// never reach evaluation.
func (s *Server) handleSaveDefinition(c *gin.Context) {
	var def definition.ObservationDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if def.Slug == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slug is required"})
		return
	}

	if err := evaluator.ValidateRules(s.registry, def.QualifiedRanges); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, component := range def.Components {
		if err := evaluator.ValidateRules(s.registry, component.QualifiedRanges); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":     err.Error(),
				"component": component.Code.Code,
			})
			return
		}
	}

	if err := s.definitions.Save(c.Request.Context(), &def); err != nil {
		s.respondError(c, err)
		return
	}

	s.log.WithFields(logrus.Fields{
		"slug":       def.Slug,
		"rules":      len(def.QualifiedRanges),
		"components": len(def.Components),
	}).Info("Observation definition saved")

	c.JSON(http.StatusOK, def)
}

// handleGetDefinition loads a definition by slug.
func (s *Server) handleGetDefinition(c *gin.Context) {
	def, err := s.definitions.Get(c.Request.Context(), c.Param("slug"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, def)
}

// handleListDefinitions returns all definitions.
func (s *Server) handleListDefinitions(c *gin.Context) {
	defs, err := s.definitions.List(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"definitions": defs})
}

// handleDeleteDefinition removes a definition by slug.
func (s *Server) handleDeleteDefinition(c *gin.Context) {
	if err := s.definitions.Delete(c.Request.Context(), c.Param("slug")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleListMetrics returns descriptors of the registered metrics.
func (s *Server) handleListMetrics(c *gin.Context) {
	metrics := s.registry.All()
	descriptors := make([]metric.Descriptor, 0, len(metrics))
	for _, m := range metrics {
		descriptors = append(descriptors, metric.Describe(m))
	}
	c.JSON(http.StatusOK, gin.H{"metrics": descriptors})
}

// handlePriceChargeItem runs the monetary component cascade for a charge
// item.
func (s *Server) handlePriceChargeItem(c *gin.Context) {
	var item pricing.ChargeItem
	if err := c.ShouldBindJSON(&item); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if item.Quantity <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quantity must be positive"})
		return
	}

	if err := pricing.SyncCosts(&item); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, item)
}

// reconcileRequest is the body of POST /inventory/reconcile.
type reconcileRequest struct {
	LocationID string `json:"location_id" binding:"required"`
	ProductID  string `json:"product_id" binding:"required"`
}

// handleReconcileInventory recomputes availability for one
// location/product pair.
func (s *Server) handleReconcileInventory(c *gin.Context) {
	var req reconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item, err := s.reconciler.Reconcile(c.Request.Context(), req.LocationID, req.ProductID)
	if err != nil {
		if errors.Is(err, inventory.ErrLockHeld) {
			c.JSON(http.StatusConflict, gin.H{"error": "reconciliation already in progress"})
			return
		}
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// respondError maps domain errors to HTTP statuses.
func (s *Server) respondError(c *gin.Context, err error) {
	var (
		metricNotFound   *domain.MetricNotFoundError
		invalidOperation *domain.InvalidOperationError
		invalidRange     *domain.InvalidRangeError
		unsupportedCode  *domain.UnsupportedCodingError
		missingCoding    *domain.MissingCodingError
		ruleValidation   *domain.RuleValidationError
	)

	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &metricNotFound),
		errors.As(err, &invalidOperation),
		errors.As(err, &invalidRange),
		errors.As(err, &ruleValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &unsupportedCode), errors.As(err, &missingCoding):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		s.log.WithError(err).WithField("request_id", c.GetString("request_id")).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
