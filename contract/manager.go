package contract

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/toptal/dry-validation/internal/logger"
	"github.com/toptal/dry-validation/rules"
)

// Contract pairs a loaded schema with its compiled engine.
type Contract struct {
	ID     string
	Schema Schema
	Engine *Engine
}

// Manager owns the engines for every loaded contract. Loading and
// schema updates swap whole engines atomically, so in-flight Validate
// calls finish against the engine they started with.
type Manager struct {
	contracts map[string]*Contract
	db        *sql.DB
	mu        sync.RWMutex
}

func NewManager(db *sql.DB) *Manager {
	return &Manager{
		contracts: make(map[string]*Contract),
		db:        db,
	}
}

// LoadAll loads every contract with an active schema from the
// database and builds its engine.
func (m *Manager) LoadAll() error {
	rows, err := m.db.Query(`
		SELECT c.id, s.definition
		FROM contracts c
		JOIN contract_schemas s ON s.contract_id = c.id
		WHERE s.active = true
	`)
	if err != nil {
		return fmt.Errorf("failed to fetch contracts: %w", err)
	}
	defer rows.Close()

	loaded := 0
	for rows.Next() {
		var contractID string
		var schemaJSON []byte
		if err := rows.Scan(&contractID, &schemaJSON); err != nil {
			return fmt.Errorf("failed to scan contract row: %w", err)
		}

		var schema Schema
		if err := json.Unmarshal(schemaJSON, &schema); err != nil {
			return fmt.Errorf("invalid schema for contract %s: %w", contractID, err)
		}

		if err := m.Create(contractID, schema); err != nil {
			return fmt.Errorf("failed to initialize contract %s: %w", contractID, err)
		}

		loaded++
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating contract rows: %w", err)
	}

	logger.Info("contracts loaded", "count", loaded)
	return nil
}

// Create builds and registers an engine for the contract: a
// Postgres-backed definition store, the schema's CEL environment, and
// any macros stored for the contract.
func (m *Manager) Create(contractID string, schema Schema) error {
	store := rules.NewPostgresDefinitionStore(m.db, contractID)

	engine, err := NewEngine(schema, store)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	if err := m.loadMacros(contractID, engine); err != nil {
		return err
	}

	m.mu.Lock()
	m.contracts[contractID] = &Contract{
		ID:     contractID,
		Schema: schema,
		Engine: engine,
	}
	m.mu.Unlock()

	return nil
}

// loadMacros registers the contract's stored macros on engine.
func (m *Manager) loadMacros(contractID string, engine *Engine) error {
	rows, err := m.db.Query(`
		SELECT name, expression
		FROM contract_macros
		WHERE contract_id = $1
		ORDER BY name ASC
	`, contractID)
	if err != nil {
		return fmt.Errorf("failed to fetch macros: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, expr string
		if err := rows.Scan(&name, &expr); err != nil {
			return fmt.Errorf("failed to scan macro row: %w", err)
		}
		if err := engine.RegisterMacro(name, expr); err != nil {
			return fmt.Errorf("failed to register macro %q: %w", name, err)
		}
	}

	return rows.Err()
}

// Get retrieves the engine for a contract.
func (m *Manager) Get(contractID string) (*Engine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, exists := m.contracts[contractID]
	if !exists {
		return nil, fmt.Errorf("contract %s not found", contractID)
	}

	return c.Engine, nil
}

// List returns all loaded contract IDs.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.contracts))
	for id := range m.contracts {
		ids = append(ids, id)
	}
	return ids
}

// AddMacro persists a contract macro and registers it on the
// contract's engine.
func (m *Manager) AddMacro(contractID, name, expr string) error {
	engine, err := m.Get(contractID)
	if err != nil {
		return err
	}

	// Compile first so a broken macro never reaches the database.
	if err := engine.RegisterMacro(name, expr); err != nil {
		return err
	}

	_, err = m.db.Exec(`
		INSERT INTO contract_macros (contract_id, name, expression, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (contract_id, name)
		DO UPDATE SET expression = EXCLUDED.expression
	`, contractID, name, expr)
	if err != nil {
		return fmt.Errorf("failed to save macro: %w", err)
	}

	return nil
}

// UpdateSchema stores a new schema version for the contract and swaps
// in a freshly built engine. Zero downtime: the old engine keeps
// serving until the swap.
func (m *Manager) UpdateSchema(contractID string, newSchema Schema) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.contracts[contractID]; !exists {
		m.mu.Unlock()
		defer m.mu.Lock()
		return m.Create(contractID, newSchema)
	}

	_, err := m.db.Exec(`
		UPDATE contract_schemas
		SET active = false
		WHERE contract_id = $1
	`, contractID)
	if err != nil {
		return fmt.Errorf("failed to deactivate old schemas: %w", err)
	}

	schemaJSON, err := json.Marshal(newSchema)
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}

	var newVersion int
	err = m.db.QueryRow(`
		INSERT INTO contract_schemas (contract_id, version, definition, active, created_at)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, true, NOW()
		FROM contract_schemas
		WHERE contract_id = $1
		RETURNING version
	`, contractID, schemaJSON).Scan(&newVersion)
	if err != nil {
		return fmt.Errorf("failed to save new schema: %w", err)
	}

	store := rules.NewPostgresDefinitionStore(m.db, contractID)
	newEngine, err := NewEngine(newSchema, store)
	if err != nil {
		return fmt.Errorf("failed to create new engine: %w", err)
	}

	if err := m.loadMacros(contractID, newEngine); err != nil {
		return err
	}

	m.contracts[contractID] = &Contract{
		ID:     contractID,
		Schema: newSchema,
		Engine: newEngine,
	}

	logger.Info("contract schema updated", "contract", contractID, "version", newVersion)
	return nil
}

// Delete removes a contract's engine from the manager. The database
// rows stay.
func (m *Manager) Delete(contractID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.contracts[contractID]; !exists {
		return fmt.Errorf("contract %s not found", contractID)
	}

	delete(m.contracts, contractID)
	return nil
}
