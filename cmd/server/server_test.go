//go:build integration

package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB creates a PostgreSQL testcontainer and runs migrations
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("postgres://postgres:password@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	// Wait for database to be ready
	for i := 0; i < 30; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	migrationSQL, err := os.ReadFile("../../migrations/000001_initial_schema.up.sql")
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}

	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		postgres.Terminate(ctx)
	}

	return db, cleanup
}

// TestEndToEnd_CreateContractAndValidate tests the complete workflow:
// 1. Create contract with schema
// 2. Add rule
// 3. Validate payloads
func TestEndToEnd_CreateContractAndValidate(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	server, err := NewServerWithDB(db)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	go func() {
		if err := http.ListenAndServe(":8080", server); err != nil && err != http.ErrServerClosed {
			t.Logf("Server error: %v", err)
		}
	}()

	time.Sleep(500 * time.Millisecond)

	baseURL := "http://localhost:8080/api/v1"

	// Step 1: Create contract with schema
	t.Log("Step 1: Creating contract...")
	createContractReq := map[string]interface{}{
		"name": "Test Contract",
		"schema": map[string]interface{}{
			"User": map[string]interface{}{
				"Age":  "int",
				"Name": "string",
			},
		},
	}
	contractResp := makeRequest(t, "POST", baseURL+"/contracts", createContractReq)
	contractID := contractResp["id"].(string)
	t.Logf("Created contract: %s", contractID)

	// Step 2: Add rule
	t.Log("Step 2: Adding rule...")
	createRuleReq := map[string]interface{}{
		"name":       "adult-check",
		"keys":       []string{"User.Age"},
		"expression": "double(value) >= 18.0",
		"active":     true,
	}
	ruleResp := makeRequest(t, "POST", baseURL+"/contracts/"+contractID+"/rules", createRuleReq)
	ruleID := ruleResp["id"].(string)
	t.Logf("Created rule: %s", ruleID)

	// Step 3a: Validate passing payload
	t.Log("Step 3a: Validating adult user...")
	validateReq := map[string]interface{}{
		"contractId": contractID,
		"payload": map[string]interface{}{
			"User": map[string]interface{}{
				"Age":  25,
				"Name": "John Doe",
			},
		},
	}
	validateResp := makeRequest(t, "POST", baseURL+"/validate", validateReq)
	if ok, _ := validateResp["ok"].(bool); !ok {
		t.Errorf("Expected adult user to pass validation, got %v", validateResp)
	}

	// Step 3b: Validate failing payload
	t.Log("Step 3b: Validating minor user...")
	validateReq["payload"] = map[string]interface{}{
		"User": map[string]interface{}{
			"Age":  16,
			"Name": "Jane Doe",
		},
	}
	validateResp = makeRequest(t, "POST", baseURL+"/validate", validateReq)
	if ok, _ := validateResp["ok"].(bool); ok {
		t.Error("Expected minor user to fail validation")
	}
	failures, ok := validateResp["failures"].([]interface{})
	if !ok || len(failures) != 1 {
		t.Fatalf("Expected 1 failure, got %v", validateResp["failures"])
	}
	failure := failures[0].(map[string]interface{})
	if failure["path"] != "User.Age" {
		t.Errorf("Expected failure at User.Age, got %v", failure["path"])
	}

	// Step 3c: Shape error skips the rule
	t.Log("Step 3c: Validating mistyped payload...")
	validateReq["payload"] = map[string]interface{}{
		"User": map[string]interface{}{
			"Age":  "old",
			"Name": "Shapeless",
		},
	}
	validateResp = makeRequest(t, "POST", baseURL+"/validate", validateReq)
	if ok, _ := validateResp["ok"].(bool); ok {
		t.Error("Expected mistyped payload to fail validation")
	}
	failures, ok = validateResp["failures"].([]interface{})
	if !ok || len(failures) != 1 {
		t.Fatalf("Expected only the shape failure, got %v", validateResp["failures"])
	}
	failure = failures[0].(map[string]interface{})
	if failure["predicate"] != "type?" {
		t.Errorf("Expected type? predicate, got %v", failure["predicate"])
	}

	// Step 4: List rules to verify it was stored
	t.Log("Step 4: Listing rules...")
	rulesResp := makeRequestNoBody(t, "GET", baseURL+"/contracts/"+contractID+"/rules")
	ruleList, ok := rulesResp["rules"].([]interface{})
	if !ok || len(ruleList) != 1 {
		t.Errorf("Expected 1 rule, got %v", rulesResp)
	}
	_ = ruleID

	// Step 5: Get schema to verify it's stored
	t.Log("Step 5: Getting schema...")
	schemaResp := makeRequestNoBody(t, "GET", baseURL+"/contracts/"+contractID+"/schema")
	if schemaResp["version"].(float64) != 1 {
		t.Errorf("Expected schema version 1, got %v", schemaResp["version"])
	}
}

// TestEndToEnd_MacroAndEachRule exercises contract macros and per-element rules
func TestEndToEnd_MacroAndEachRule(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	server, err := NewServerWithDB(db)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	go func() {
		if err := http.ListenAndServe(":8081", server); err != nil && err != http.ErrServerClosed {
			t.Logf("Server error: %v", err)
		}
	}()

	time.Sleep(500 * time.Millisecond)

	baseURL := "http://localhost:8081/api/v1"

	createContractReq := map[string]interface{}{
		"name": "Order Contract",
		"schema": map[string]interface{}{
			"Order": map[string]interface{}{
				"Items": "list",
			},
		},
	}
	contractResp := makeRequest(t, "POST", baseURL+"/contracts", createContractReq)
	contractID := contractResp["id"].(string)

	// Register a contract-specific macro
	createMacroReq := map[string]interface{}{
		"name":       "positive?",
		"expression": "double(value) > 0.0",
	}
	makeRequest(t, "POST", baseURL+"/contracts/"+contractID+"/macros", createMacroReq)

	// Each-mode rule using the macro
	createRuleReq := map[string]interface{}{
		"name":   "items-positive",
		"keys":   []string{"Order.Items"},
		"each":   true,
		"macros": []interface{}{"positive?"},
		"active": true,
	}
	makeRequest(t, "POST", baseURL+"/contracts/"+contractID+"/rules", createRuleReq)

	validateReq := map[string]interface{}{
		"contractId": contractID,
		"payload": map[string]interface{}{
			"Order": map[string]interface{}{
				"Items": []interface{}{3.0, -1.0, 2.0},
			},
		},
	}
	validateResp := makeRequest(t, "POST", baseURL+"/validate", validateReq)
	if ok, _ := validateResp["ok"].(bool); ok {
		t.Error("Expected negative item to fail validation")
	}
	failures, ok := validateResp["failures"].([]interface{})
	if !ok || len(failures) != 1 {
		t.Fatalf("Expected 1 failure, got %v", validateResp["failures"])
	}
	failure := failures[0].(map[string]interface{})
	if failure["path"] != "Order.Items[1]" {
		t.Errorf("Expected failure at Order.Items[1], got %v", failure["path"])
	}
	if failure["predicate"] != "positive?" {
		t.Errorf("Expected positive? predicate, got %v", failure["predicate"])
	}
}

// TestEndToEnd_SchemaUpdate tests zero-downtime schema updates
func TestEndToEnd_SchemaUpdate(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	server, err := NewServerWithDB(db)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	go func() {
		if err := http.ListenAndServe(":8082", server); err != nil && err != http.ErrServerClosed {
			t.Logf("Server error: %v", err)
		}
	}()

	time.Sleep(500 * time.Millisecond)

	baseURL := "http://localhost:8082/api/v1"

	createContractReq := map[string]interface{}{
		"name": "Schema Update Contract",
		"schema": map[string]interface{}{
			"User": map[string]interface{}{
				"Age": "int",
			},
		},
	}
	contractResp := makeRequest(t, "POST", baseURL+"/contracts", createContractReq)
	contractID := contractResp["id"].(string)

	createRuleReq := map[string]interface{}{
		"name":       "adult-check",
		"keys":       []string{"User.Age"},
		"expression": "double(value) >= 18.0",
		"active":     true,
	}
	makeRequest(t, "POST", baseURL+"/contracts/"+contractID+"/rules", createRuleReq)

	// Update schema to add an Email field
	t.Log("Updating schema to add Email field...")
	updateSchemaReq := map[string]interface{}{
		"definition": map[string]interface{}{
			"User": map[string]interface{}{
				"Age":   "int",
				"Email": "string",
			},
		},
	}
	makeRequest(t, "POST", baseURL+"/contracts/"+contractID+"/schema", updateSchemaReq)

	schemaResp := makeRequestNoBody(t, "GET", baseURL+"/contracts/"+contractID+"/schema")
	if version, ok := schemaResp["version"].(float64); !ok || version != 2 {
		t.Errorf("Expected schema version 2 after update, got %v", schemaResp["version"])
	}

	// Verify the old rule still works after the schema update
	t.Log("Verifying old rule still works after schema update...")
	validateReq := map[string]interface{}{
		"contractId": contractID,
		"payload": map[string]interface{}{
			"User": map[string]interface{}{
				"Age":   25,
				"Email": "user@example.com",
			},
		},
	}
	validateResp := makeRequest(t, "POST", baseURL+"/validate", validateReq)
	if ok, _ := validateResp["ok"].(bool); !ok {
		t.Errorf("Old rule should still pass after schema update, got %v", validateResp)
	}
}

// TestEndToEnd_BadRuleRejected tests that uncompilable rules never reach the store
func TestEndToEnd_BadRuleRejected(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	server, err := NewServerWithDB(db)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	go func() {
		if err := http.ListenAndServe(":8083", server); err != nil && err != http.ErrServerClosed {
			t.Logf("Server error: %v", err)
		}
	}()

	time.Sleep(500 * time.Millisecond)

	baseURL := "http://localhost:8083/api/v1"

	createContractReq := map[string]interface{}{
		"name": "Bad Rule Contract",
		"schema": map[string]interface{}{
			"User": map[string]interface{}{
				"Age": "int",
			},
		},
	}
	contractResp := makeRequest(t, "POST", baseURL+"/contracts", createContractReq)
	contractID := contractResp["id"].(string)

	createRuleReq := map[string]interface{}{
		"name":       "broken",
		"keys":       []string{"User.Age"},
		"expression": "double(value) >=",
		"active":     true,
	}
	resp, err := makeHTTPRequest("POST", baseURL+"/contracts/"+contractID+"/rules", createRuleReq)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 Bad Request, got %d", resp.StatusCode)
	}

	rulesResp := makeRequestNoBody(t, "GET", baseURL+"/contracts/"+contractID+"/rules")
	ruleList, ok := rulesResp["rules"].([]interface{})
	if !ok || len(ruleList) != 0 {
		t.Errorf("Expected 0 rules after rejected add, got %v", rulesResp)
	}
}

// Helper function to make HTTP requests with JSON body
func makeRequest(t *testing.T, method, url string, body interface{}) map[string]interface{} {
	resp, err := makeHTTPRequest(method, url, body)
	if err != nil {
		t.Fatalf("Failed to make %s request to %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("Request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	return result
}

// Helper function to make HTTP requests without body
func makeRequestNoBody(t *testing.T, method, url string) map[string]interface{} {
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make %s request to %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("Request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	return result
}

// Helper function to make raw HTTP requests
func makeHTTPRequest(method, url string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBytes)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	return client.Do(req)
}
