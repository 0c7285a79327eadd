package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/poudelalish/blockchain-inventory/internal/core"
	"github.com/poudelalish/blockchain-inventory/pkg/domain"
)

const callerKey = "caller"

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error      string             `json:"error"`
	Kind       string             `json:"kind"`
	Violations []domain.Violation `json:"violations,omitempty"`
}

// RegisterRoleRequest is the body of POST /v1/roles/:kind.
type RegisterRoleRequest struct {
	Address string `json:"address" binding:"required"`
	Name    string `json:"name"`
	Place   string `json:"place"`
}

// CreateProductRequest is the body of POST /v1/products.
type CreateProductRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// RoleResponse wraps a role record and any non-blocking violations.
type RoleResponse struct {
	Role       domain.Role        `json:"role"`
	Violations []domain.Violation `json:"violations,omitempty"`
}

// ProductResponse wraps a product record and any non-blocking violations.
type ProductResponse struct {
	Product    domain.Product     `json:"product"`
	Violations []domain.Violation `json:"violations,omitempty"`
}

// StageResponse reports a product's stage and its label.
type StageResponse struct {
	Stage domain.Stage `json:"stage"`
	Name  string       `json:"name"`
	Label string       `json:"label"`
}

// statusForKind maps error kinds onto HTTP statuses.
func statusForKind(kind string) int {
	switch kind {
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindState:
		return http.StatusConflict
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindRuleViolation:
		return http.StatusUnprocessableEntity
	case domain.KindConnectivity:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	kind := domain.ErrorKind(err)
	body := ErrorBody{Error: err.Error(), Kind: kind}
	var rv domain.RuleViolationError
	if errors.As(err, &rv) {
		body.Violations = rv.Result.Violations
	}
	c.AbortWithStatusJSON(statusForKind(kind), body)
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorBody{Error: err.Error(), Kind: "bad_request"})
}

// requireCaller resolves the caller through the server's Authenticator and
// rejects requests that carry no identity. With the default
// HeaderAuthenticator the identity is unverified: any client may claim to be
// the owner or a registered role.
func (s *Server) requireCaller(c *gin.Context) {
	caller, err := s.authenticate(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorBody{Error: err.Error(), Kind: domain.KindAuthorization})
		return
	}
	caller = domain.NormalizeAddress(string(caller))
	if caller.IsZero() {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorBody{
			Error: "missing " + s.callerHeader + " header",
			Kind:  domain.KindAuthorization,
		})
		return
	}
	c.Set(callerKey, string(caller))
	c.Next()
}

func callOf(c *gin.Context) domain.Call {
	return domain.Call{Caller: domain.Address(c.GetString(callerKey))}
}

func parseID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		badRequest(c, errors.New(name+" must be an unsigned integer"))
		return 0, false
	}
	return id, true
}

func parseKind(c *gin.Context) (domain.RoleKind, bool) {
	kind, err := domain.ParseRoleKind(c.Param("kind"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorBody{Error: err.Error(), Kind: domain.KindNotFound})
		return "", false
	}
	return kind, true
}

func (s *Server) getOwner(c *gin.Context) {
	owner, err := s.svc.Owner(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": owner})
}

func (s *Server) getCounts(c *gin.Context) {
	counts, err := s.svc.Counts(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (s *Server) listRoles(c *gin.Context) {
	kind, ok := parseKind(c)
	if !ok {
		return
	}
	roles, err := s.svc.Roles(c.Request.Context(), kind)
	if err != nil {
		writeError(c, err)
		return
	}
	if roles == nil {
		roles = []domain.Role{}
	}
	c.JSON(http.StatusOK, gin.H{"roles": roles})
}

func (s *Server) getRole(c *gin.Context) {
	kind, ok := parseKind(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	role, err := s.svc.Role(c.Request.Context(), kind, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, role)
}

func (s *Server) registerRole(c *gin.Context) {
	kind, ok := parseKind(c)
	if !ok {
		return
	}
	var req RegisterRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	role, res, err := s.svc.RegisterRole(c.Request.Context(), callOf(c), kind, req.Address, req.Name, req.Place)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, RoleResponse{Role: role, Violations: res.Violations})
}

// listProducts returns every product, or only those in ?stage= when given.
func (s *Server) listProducts(c *gin.Context) {
	var filter *domain.Stage
	if raw := c.Query("stage"); raw != "" {
		stage, err := domain.ParseStage(raw)
		if err != nil {
			badRequest(c, err)
			return
		}
		filter = &stage
	}
	products, err := s.svc.Products(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if filter == nil || p.Stage == *filter {
			out = append(out, p)
		}
	}
	c.JSON(http.StatusOK, gin.H{"products": out})
}

func (s *Server) createProduct(c *gin.Context) {
	var req CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	product, res, err := s.svc.CreateProduct(c.Request.Context(), callOf(c), req.Name, req.Description)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ProductResponse{Product: product, Violations: res.Violations})
}

func (s *Server) getProduct(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	product, err := s.svc.Product(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (s *Server) getStage(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	product, err := s.svc.Product(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, StageResponse{Stage: product.Stage, Name: product.Stage.String(), Label: product.Stage.Label()})
}

func (s *Server) getTimestamps(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	ts, err := s.svc.Timestamps(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ts)
}

func (s *Server) transition(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	op := c.Param("op")
	known := false
	for _, name := range core.TransitionOperations() {
		if name == op {
			known = true
			break
		}
	}
	if !known {
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorBody{Error: "unknown operation " + op, Kind: domain.KindNotFound})
		return
	}
	product, res, err := s.svc.Transition(c.Request.Context(), callOf(c), op, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ProductResponse{Product: product, Violations: res.Violations})
}
