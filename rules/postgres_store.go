package rules

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresDefinitionStore implements DefinitionStore backed by
// PostgreSQL, scoped to one contract. Keys and macros are stored as
// jsonb columns.
type PostgresDefinitionStore struct {
	db         *sql.DB
	contractID string
}

// NewPostgresDefinitionStore creates a store for the given contract.
func NewPostgresDefinitionStore(db *sql.DB, contractID string) *PostgresDefinitionStore {
	return &PostgresDefinitionStore{
		db:         db,
		contractID: contractID,
	}
}

// Add inserts a new definition.
func (s *PostgresDefinitionStore) Add(def *Definition) error {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM rule_definitions WHERE id = $1 AND contract_id = $2)
	`, def.ID, s.contractID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check definition existence: %w", err)
	}
	if exists {
		return fmt.Errorf("definition with ID %s already exists", def.ID)
	}

	keysJSON, macrosJSON, err := marshalSpecs(def)
	if err != nil {
		return err
	}

	now := time.Now()
	def.CreatedAt = now
	def.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO rule_definitions (id, contract_id, name, keys, macros, each_mode, expression, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, def.ID, s.contractID, def.Name, keysJSON, macrosJSON, def.Each,
		def.Expression, def.Active, def.CreatedAt, def.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert definition: %w", err)
	}

	return nil
}

// Get retrieves a definition by ID.
func (s *PostgresDefinitionStore) Get(id string) (*Definition, error) {
	row := s.db.QueryRow(`
		SELECT id, name, keys, macros, each_mode, expression, active, created_at, updated_at
		FROM rule_definitions
		WHERE id = $1 AND contract_id = $2
	`, id, s.contractID)

	def, err := scanDefinition(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("definition %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get definition: %w", err)
	}

	return def, nil
}

// ListActive returns the contract's active definitions in registration
// order, which fixes the order rule failures are concatenated in.
func (s *PostgresDefinitionStore) ListActive() ([]*Definition, error) {
	rows, err := s.db.Query(`
		SELECT id, name, keys, macros, each_mode, expression, active, created_at, updated_at
		FROM rule_definitions
		WHERE contract_id = $1 AND active = true
		ORDER BY created_at ASC, id ASC
	`, s.contractID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active definitions: %w", err)
	}
	defer rows.Close()

	var defs []*Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}
		defs = append(defs, def)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating definitions: %w", err)
	}

	return defs, nil
}

// Update modifies an existing definition.
func (s *PostgresDefinitionStore) Update(def *Definition) error {
	keysJSON, macrosJSON, err := marshalSpecs(def)
	if err != nil {
		return err
	}

	def.UpdatedAt = time.Now()

	result, err := s.db.Exec(`
		UPDATE rule_definitions
		SET name = $1, keys = $2, macros = $3, each_mode = $4, expression = $5, active = $6, updated_at = $7
		WHERE id = $8 AND contract_id = $9
	`, def.Name, keysJSON, macrosJSON, def.Each, def.Expression, def.Active,
		def.UpdatedAt, def.ID, s.contractID)

	if err != nil {
		return fmt.Errorf("failed to update definition: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("definition %s not found", def.ID)
	}

	return nil
}

// Delete removes a definition.
func (s *PostgresDefinitionStore) Delete(id string) error {
	result, err := s.db.Exec(`
		DELETE FROM rule_definitions
		WHERE id = $1 AND contract_id = $2
	`, id, s.contractID)

	if err != nil {
		return fmt.Errorf("failed to delete definition: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("definition %s not found", id)
	}

	return nil
}

func marshalSpecs(def *Definition) (keysJSON, macrosJSON []byte, err error) {
	keysJSON, err = json.Marshal(def.Keys)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal keys: %w", err)
	}
	macrosJSON, err = json.Marshal(def.Macros)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal macros: %w", err)
	}
	return keysJSON, macrosJSON, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*Definition, error) {
	var def Definition
	var keysJSON, macrosJSON []byte
	err := row.Scan(
		&def.ID,
		&def.Name,
		&keysJSON,
		&macrosJSON,
		&def.Each,
		&def.Expression,
		&def.Active,
		&def.CreatedAt,
		&def.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(keysJSON, &def.Keys); err != nil {
		return nil, fmt.Errorf("invalid keys column: %w", err)
	}
	if err := json.Unmarshal(macrosJSON, &def.Macros); err != nil {
		return nil, fmt.Errorf("invalid macros column: %w", err)
	}

	return &def, nil
}
