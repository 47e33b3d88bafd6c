package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/toptal/dry-validation/contract"
	"github.com/toptal/dry-validation/internal/logger"
	"github.com/toptal/dry-validation/rules"
)

type Server struct {
	db      *sql.DB
	manager *contract.Manager
	router  *chi.Mux
}

func NewServer(databaseURL string) (*Server, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewServerWithDB(db)
}

// NewServerWithDB builds a server on an already-open connection.
func NewServerWithDB(db *sql.DB) (*Server, error) {
	manager := contract.NewManager(db)

	logger.Info("loading contracts from database")
	if err := manager.LoadAll(); err != nil {
		return nil, fmt.Errorf("failed to load contracts: %w", err)
	}

	s := &Server{
		db:      db,
		manager: manager,
	}

	s.setupRoutes()

	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)

	r.Post("/api/v1/validate", s.handleValidate)

	r.Route("/api/v1/contracts", func(r chi.Router) {
		r.Get("/", s.handleListContracts)
		r.Post("/", s.handleCreateContract)

		r.Route("/{contractId}", func(r chi.Router) {
			r.Get("/schema", s.handleGetSchema)
			r.Post("/schema", s.handleUpdateSchema)

			r.Post("/macros", s.handleCreateMacro)

			r.Post("/rules", s.handleCreateRule)
			r.Get("/rules", s.handleListRules)
			r.Get("/rules/{ruleId}", s.handleGetRule)
			r.Put("/rules/{ruleId}", s.handleUpdateRule)
			r.Delete("/rules/{ruleId}", s.handleDeleteRule)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"contractsLoaded": len(s.manager.List()),
	})
}

// handleValidate shape-checks a payload against its contract and runs
// every active rule, returning the ordered failures.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.ContractID == "" {
		respondError(w, http.StatusBadRequest, "contractId is required", nil)
		return
	}

	if req.Payload == nil {
		respondError(w, http.StatusBadRequest, "payload is required", nil)
		return
	}

	engine, err := s.manager.Get(req.ContractID)
	if err != nil {
		respondError(w, http.StatusNotFound, "contract not found", err)
		return
	}

	startTime := time.Now()

	outcome, err := engine.Validate(req.Payload)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "validation failed", err)
		return
	}

	respondJSON(w, http.StatusOK, ValidateResponse{
		OK:             outcome.OK(),
		Failures:       failureResponses(outcome.Failures()),
		Outcome:        outcome,
		ValidationTime: time.Since(startTime).String(),
	})
}

func (s *Server) handleListContracts(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.Query("SELECT id, name, created_at, updated_at FROM contracts ORDER BY created_at DESC")
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list contracts", err)
		return
	}
	defer rows.Close()

	contracts := []ContractResponse{}
	for rows.Next() {
		var c ContractResponse
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt, &c.UpdatedAt); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to scan contract", err)
			return
		}
		contracts = append(contracts, c)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"contracts": contracts,
	})
}

func (s *Server) handleCreateContract(w http.ResponseWriter, r *http.Request) {
	var req CreateContractRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	if err := contract.ValidateSchema(req.Schema); err != nil {
		respondError(w, http.StatusBadRequest, "invalid schema", err)
		return
	}

	schemaJSON, err := json.Marshal(req.Schema)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to marshal schema", err)
		return
	}

	var contractID string
	err = s.db.QueryRow(`
		INSERT INTO contracts (name, created_at, updated_at)
		VALUES ($1, NOW(), NOW())
		RETURNING id
	`, req.Name).Scan(&contractID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create contract", err)
		return
	}

	_, err = s.db.Exec(`
		INSERT INTO contract_schemas (contract_id, version, definition, active, created_at)
		VALUES ($1, 1, $2, true, NOW())
	`, contractID, schemaJSON)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to save schema", err)
		return
	}

	if err := s.manager.Create(contractID, req.Schema); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to initialize contract", err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"id":   contractID,
		"name": req.Name,
	})
}

func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	contractID := chi.URLParam(r, "contractId")

	var schemaJSON []byte
	var version int
	err := s.db.QueryRow(`
		SELECT version, definition
		FROM contract_schemas
		WHERE contract_id = $1 AND active = true
	`, contractID).Scan(&version, &schemaJSON)

	if err == sql.ErrNoRows {
		respondError(w, http.StatusNotFound, "schema not found", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get schema", err)
		return
	}

	var schema contract.Schema
	if err := json.Unmarshal(schemaJSON, &schema); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to parse schema", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"version":    version,
		"definition": schema,
	})
}

func (s *Server) handleUpdateSchema(w http.ResponseWriter, r *http.Request) {
	contractID := chi.URLParam(r, "contractId")

	var req UpdateSchemaRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if err := contract.ValidateSchema(req.Definition); err != nil {
		respondError(w, http.StatusBadRequest, "invalid schema", err)
		return
	}

	if err := s.manager.UpdateSchema(contractID, req.Definition); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update schema", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status": "active",
	})
}

func (s *Server) handleCreateMacro(w http.ResponseWriter, r *http.Request) {
	contractID := chi.URLParam(r, "contractId")

	var req CreateMacroRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.Name == "" || req.Expression == "" {
		respondError(w, http.StatusBadRequest, "name and expression are required", nil)
		return
	}

	if err := s.manager.AddMacro(contractID, req.Name, req.Expression); err != nil {
		respondError(w, http.StatusBadRequest, "failed to add macro", err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"name":       req.Name,
		"expression": req.Expression,
	})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	contractID := chi.URLParam(r, "contractId")

	var req CreateRuleRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.Name == "" || len(req.Keys) == 0 {
		respondError(w, http.StatusBadRequest, "name and keys are required", nil)
		return
	}

	engine, err := s.manager.Get(contractID)
	if err != nil {
		respondError(w, http.StatusNotFound, "contract not found", err)
		return
	}

	now := time.Now()
	def := &rules.Definition{
		ID:         uuid.NewString(),
		Name:       req.Name,
		Keys:       req.Keys,
		Macros:     rules.NormalizeMacros(macroSpecs(req.Macros)...),
		Each:       req.Each,
		Expression: req.Expression,
		Active:     req.Active,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	// AddDefinition compiles first, so a bad expression or unknown
	// macro never reaches the store.
	if err := engine.AddDefinition(def); err != nil {
		respondError(w, http.StatusBadRequest, "failed to add rule", err)
		return
	}

	respondJSON(w, http.StatusCreated, ruleResponse(def))
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	contractID := chi.URLParam(r, "contractId")

	store := rules.NewPostgresDefinitionStore(s.db, contractID)
	defs, err := store.ListActive()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}

	resp := make([]RuleResponse, 0, len(defs))
	for _, def := range defs {
		resp = append(resp, ruleResponse(def))
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"rules": resp,
	})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	contractID := chi.URLParam(r, "contractId")
	ruleID := chi.URLParam(r, "ruleId")

	store := rules.NewPostgresDefinitionStore(s.db, contractID)
	def, err := store.Get(ruleID)
	if err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}

	respondJSON(w, http.StatusOK, ruleResponse(def))
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	contractID := chi.URLParam(r, "contractId")
	ruleID := chi.URLParam(r, "ruleId")

	var req CreateRuleRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	engine, err := s.manager.Get(contractID)
	if err != nil {
		respondError(w, http.StatusNotFound, "contract not found", err)
		return
	}

	def := &rules.Definition{
		ID:         ruleID,
		Name:       req.Name,
		Keys:       req.Keys,
		Macros:     rules.NormalizeMacros(macroSpecs(req.Macros)...),
		Each:       req.Each,
		Expression: req.Expression,
		Active:     req.Active,
		UpdatedAt:  time.Now(),
	}

	if err := engine.UpdateDefinition(def); err != nil {
		respondError(w, http.StatusBadRequest, "failed to update rule", err)
		return
	}

	respondJSON(w, http.StatusOK, ruleResponse(def))
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	contractID := chi.URLParam(r, "contractId")
	ruleID := chi.URLParam(r, "ruleId")

	engine, err := s.manager.Get(contractID)
	if err != nil {
		respondError(w, http.StatusNotFound, "contract not found", err)
		return
	}

	if err := engine.DeleteDefinition(ruleID); err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

func main() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Fatal("DATABASE_URL environment variable is required")
	}

	server, err := NewServer(databaseURL)
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}
	defer server.db.Close()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	_ = logger.Shutdown(ctx)

	logger.Info("server stopped")
}
