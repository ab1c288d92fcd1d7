//go:build contract

package contract

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/pact-foundation/pact-go/v2/consumer"
	"github.com/pact-foundation/pact-go/v2/matchers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	// MockAPIKey is a well-formed Bearer API key for testing.
	MockAPIKey = "sk-orchestrator-consumer-test-key"
)

// TestConsumerHealthEndpoint verifies the health endpoint contract from consumer perspective
func TestConsumerHealthEndpoint(t *testing.T) {
	config := DefaultConfig()

	mockProvider, err := consumer.NewV4Pact(consumer.MockHTTPProviderConfig{
		Consumer: config.Consumer,
		Provider: config.Provider,
		PactDir:  config.PactDir,
	})
	require.NoError(t, err, "failed to create mock provider")

	err = mockProvider.
		AddInteraction().
		UponReceiving("a request to the health endpoint").
		WithRequest("GET", "/healthz").
		WillRespondWith(200, func(b *consumer.V4ResponseBuilder) {
			b.Header("Content-Type", matchers.Like("application/json"))
			b.JSONBody(map[string]interface{}{})
		}).
		ExecuteTest(t, func(config consumer.MockServerConfig) error {
			resp, err := http.Get(fmt.Sprintf("http://%s:%d/healthz", config.Host, config.Port))
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("expected status 200, got %d", resp.StatusCode)
			}

			return nil
		})

	assert.NoError(t, err, "health endpoint contract failed")
}

// TestConsumerReadinessEndpoint verifies the readiness endpoint contract
func TestConsumerReadinessEndpoint(t *testing.T) {
	config := DefaultConfig()

	mockProvider, err := consumer.NewV4Pact(consumer.MockHTTPProviderConfig{
		Consumer: config.Consumer,
		Provider: config.Provider,
		PactDir:  config.PactDir,
	})
	require.NoError(t, err, "failed to create mock provider")

	err = mockProvider.
		AddInteraction().
		UponReceiving("a request to the readiness endpoint").
		WithRequest("GET", "/readyz").
		WillRespondWith(200, func(b *consumer.V4ResponseBuilder) {
			b.Header("Content-Type", matchers.Like("application/json"))
			b.JSONBody(map[string]interface{}{})
		}).
		ExecuteTest(t, func(config consumer.MockServerConfig) error {
			resp, err := http.Get(fmt.Sprintf("http://%s:%d/readyz", config.Host, config.Port))
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("expected status 200, got %d", resp.StatusCode)
			}

			return nil
		})

	assert.NoError(t, err, "readiness endpoint contract failed")
}

// TestConsumerSubmitTask verifies the POST /tasks endpoint contract
func TestConsumerSubmitTask(t *testing.T) {
	config := DefaultConfig()

	mockProvider, err := consumer.NewV4Pact(consumer.MockHTTPProviderConfig{
		Consumer: config.Consumer,
		Provider: config.Provider,
		PactDir:  config.PactDir,
	})
	require.NoError(t, err, "failed to create mock provider")

	err = mockProvider.
		AddInteraction().
		Given("the admission controller accepts new work").
		UponReceiving("a request to submit a task").
		WithRequest("POST", "/tasks", func(b *consumer.V4RequestBuilder) {
			b.Header("Content-Type", matchers.S("application/json"))
			b.Header("Authorization", matchers.Like("Bearer "+MockAPIKey))
			b.Header("Idempotency-Key", matchers.UUID())
			b.JSONBody(map[string]interface{}{
				"type":     matchers.Like("code_pr"),
				"priority": matchers.Integer(5),
				"payload":  map[string]interface{}{"repo": matchers.Like("relaycore/orchestrator")},
			})
		}).
		WillRespondWith(202, func(b *consumer.V4ResponseBuilder) {
			b.Header("Content-Type", matchers.Like("application/json"))
			b.JSONBody(map[string]interface{}{
				"data": map[string]interface{}{
					"id":         matchers.UUID(),
					"type":       matchers.Like("code_pr"),
					"status":     matchers.Like("queued"),
					"priority":   matchers.Integer(5),
					"created_at": matchers.Like("2024-01-01T00:00:00Z"),
				},
			})
		}).
		ExecuteTest(t, func(config consumer.MockServerConfig) error {
			reqBody := `{"type":"code_pr","priority":5,"payload":{"repo":"relaycore/orchestrator"}}`
			req, err := http.NewRequest("POST", fmt.Sprintf("http://%s:%d/tasks", config.Host, config.Port), strings.NewReader(reqBody))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+MockAPIKey)
			req.Header.Set("Idempotency-Key", "550e8400-e29b-41d4-a716-446655440000")

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != http.StatusAccepted {
				return fmt.Errorf("expected status 202, got %d", resp.StatusCode)
			}

			return nil
		})

	assert.NoError(t, err, "submit task endpoint contract failed")
}

// TestConsumerGetTaskByID verifies the GET /tasks/{id} endpoint contract
func TestConsumerGetTaskByID(t *testing.T) {
	config := DefaultConfig()

	mockProvider, err := consumer.NewV4Pact(consumer.MockHTTPProviderConfig{
		Consumer: config.Consumer,
		Provider: config.Provider,
		PactDir:  config.PactDir,
	})
	require.NoError(t, err, "failed to create mock provider")

	err = mockProvider.
		AddInteraction().
		Given("a task exists").
		UponReceiving("a request to get a task by ID").
		WithRequest("GET", "/tasks/0193e456-7e89-7123-a456-426614174000", func(b *consumer.V4RequestBuilder) {
			b.Header("Authorization", matchers.Like("Bearer "+MockAPIKey))
		}).
		WillRespondWith(200, func(b *consumer.V4ResponseBuilder) {
			b.Header("Content-Type", matchers.Like("application/json"))
			b.JSONBody(map[string]interface{}{
				"data": map[string]interface{}{
					"id":         matchers.Like("0193e456-7e89-7123-a456-426614174000"),
					"type":       matchers.Like("code_pr"),
					"status":     matchers.Like("done"),
					"priority":   matchers.Integer(5),
					"created_at": matchers.Like("2024-01-01T00:00:00Z"),
					"updated_at": matchers.Like("2024-01-01T00:00:00Z"),
				},
			})
		}).
		ExecuteTest(t, func(config consumer.MockServerConfig) error {
			req, err := http.NewRequest("GET", fmt.Sprintf("http://%s:%d/tasks/0193e456-7e89-7123-a456-426614174000", config.Host, config.Port), nil)
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", "Bearer "+MockAPIKey)

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("expected status 200, got %d", resp.StatusCode)
			}

			return nil
		})

	assert.NoError(t, err, "get task by ID endpoint contract failed")
}

// TestConsumerGetTaskNotFound verifies the 404 error response contract
func TestConsumerGetTaskNotFound(t *testing.T) {
	config := DefaultConfig()

	mockProvider, err := consumer.NewV4Pact(consumer.MockHTTPProviderConfig{
		Consumer: config.Consumer,
		Provider: config.Provider,
		PactDir:  config.PactDir,
	})
	require.NoError(t, err, "failed to create mock provider")

	err = mockProvider.
		AddInteraction().
		UponReceiving("a request to get a non-existent task").
		WithRequest("GET", "/tasks/0193e456-7e89-7123-a456-426614174999", func(b *consumer.V4RequestBuilder) {
			b.Header("Authorization", matchers.Like("Bearer "+MockAPIKey))
		}).
		WillRespondWith(404, func(b *consumer.V4ResponseBuilder) {
			b.Header("Content-Type", matchers.Like("application/problem+json"))
			b.JSONBody(map[string]interface{}{
				"type":   matchers.Like("https://errors.relaycore.dev/problems/not-found"),
				"title":  "Not Found",
				"status": 404,
				"detail": matchers.Like("task not found"),
				"code":   "NOT_FOUND",
			})
		}).
		ExecuteTest(t, func(config consumer.MockServerConfig) error {
			req, err := http.NewRequest("GET", fmt.Sprintf("http://%s:%d/tasks/0193e456-7e89-7123-a456-426614174999", config.Host, config.Port), nil)
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", "Bearer "+MockAPIKey)

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != http.StatusNotFound {
				return fmt.Errorf("expected status 404, got %d", resp.StatusCode)
			}

			return nil
		})

	assert.NoError(t, err, "get task not found contract failed")
}

// TestConsumerRateLimitExceeded verifies the 429 rate limit response contract
func TestConsumerRateLimitExceeded(t *testing.T) {
	config := DefaultConfig()

	mockProvider, err := consumer.NewV4Pact(consumer.MockHTTPProviderConfig{
		Consumer: config.Consumer,
		Provider: config.Provider,
		PactDir:  config.PactDir,
	})
	require.NoError(t, err, "failed to create mock provider")

	err = mockProvider.
		AddInteraction().
		Given("rate limit exceeded").
		UponReceiving("a request when rate limit is EXHAUSTED").
		WithRequest("GET", "/tasks/0193e456-7e89-7123-a456-426614174000", func(b *consumer.V4RequestBuilder) {
			b.Header("Authorization", matchers.Like("Bearer "+MockAPIKey))
		}).
		WillRespondWith(429, func(b *consumer.V4ResponseBuilder) {
			b.Header("Content-Type", matchers.S("application/problem+json"))
			b.Header("X-RateLimit-Limit", matchers.Integer(100))
			b.Header("X-RateLimit-Remaining", matchers.Integer(0))
			b.Header("Retry-After", matchers.Integer(60))
			b.JSONBody(map[string]interface{}{
				"type":   matchers.Like("https://errors.relaycore.dev/problems/rate-limit-exceeded"),
				"title":  "Rate Limit Exceeded",
				"status": 429,
				"detail": matchers.Like("rate limit exceeded"),
				"code":   "RATE_LIMIT_EXCEEDED",
			})
		}).
		ExecuteTest(t, func(config consumer.MockServerConfig) error {
			req, err := http.NewRequest("GET", fmt.Sprintf("http://%s:%d/tasks/0193e456-7e89-7123-a456-426614174000", config.Host, config.Port), nil)
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", "Bearer "+MockAPIKey)

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != http.StatusTooManyRequests {
				return fmt.Errorf("expected status 429, got %d", resp.StatusCode)
			}

			return nil
		})

	assert.NoError(t, err, "rate limit exceeded contract failed")
}

// TestConsumerSubmitTaskValidationError verifies 400 validation error response
func TestConsumerSubmitTaskValidationError(t *testing.T) {
	config := DefaultConfig()

	mockProvider, err := consumer.NewV4Pact(consumer.MockHTTPProviderConfig{
		Consumer: config.Consumer,
		Provider: config.Provider,
		PactDir:  config.PactDir,
	})
	require.NoError(t, err, "failed to create mock provider")

	err = mockProvider.
		AddInteraction().
		UponReceiving("a request to submit a task with invalid data").
		WithRequest("POST", "/tasks", func(b *consumer.V4RequestBuilder) {
			b.Header("Content-Type", matchers.S("application/json"))
			b.Header("Authorization", matchers.Like("Bearer "+MockAPIKey))
			b.JSONBody(map[string]interface{}{
				"type":     "",
				"priority": matchers.Integer(-1),
			})
		}).
		WillRespondWith(400, func(b *consumer.V4ResponseBuilder) {
			b.Header("Content-Type", matchers.Like("application/problem+json"))
			b.JSONBody(map[string]interface{}{
				"type":   matchers.Like("https://errors.relaycore.dev/problems/validation-error"),
				"title":  "Validation Error",
				"status": 400,
				"detail": matchers.Like("one or more fields failed validation"),
				"code":   "VALIDATION_ERROR",
				"errors": matchers.EachLike(map[string]interface{}{
					"field":   matchers.Like("type"),
					"message": matchers.Like("is required"),
				}, 1),
			})
		}).
		ExecuteTest(t, func(config consumer.MockServerConfig) error {
			reqBody := `{"type":"","priority":-1}`
			req, err := http.NewRequest("POST", fmt.Sprintf("http://%s:%d/tasks", config.Host, config.Port), strings.NewReader(reqBody))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+MockAPIKey)

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != http.StatusBadRequest {
				return fmt.Errorf("expected status 400, got %d", resp.StatusCode)
			}

			return nil
		})

	assert.NoError(t, err, "submit task validation error contract failed")
}

// TestConsumerUnauthorizedRequest verifies 401 authentication error response
func TestConsumerUnauthorizedRequest(t *testing.T) {
	config := DefaultConfig()

	mockProvider, err := consumer.NewV4Pact(consumer.MockHTTPProviderConfig{
		Consumer: config.Consumer,
		Provider: config.Provider,
		PactDir:  config.PactDir,
	})
	require.NoError(t, err, "failed to create mock provider")

	err = mockProvider.
		AddInteraction().
		UponReceiving("a request without valid authentication").
		WithRequest("GET", "/tasks/0193e456-7e89-7123-a456-426614174000", func(b *consumer.V4RequestBuilder) {
			// No Authorization header
		}).
		WillRespondWith(401, func(b *consumer.V4ResponseBuilder) {
			b.Header("Content-Type", matchers.Like("application/problem+json"))
			b.JSONBody(map[string]interface{}{
				"type":   matchers.Like("https://errors.relaycore.dev/problems/unauthorized"),
				"title":  "Unauthorized",
				"status": 401,
				"detail": matchers.Like("unauthorized"),
				"code":   "UNAUTHORIZED",
			})
		}).
		ExecuteTest(t, func(config consumer.MockServerConfig) error {
			req, err := http.NewRequest("GET", fmt.Sprintf("http://%s:%d/tasks/0193e456-7e89-7123-a456-426614174000", config.Host, config.Port), nil)
			if err != nil {
				return err
			}
			// Intentionally NOT setting Authorization header

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != http.StatusUnauthorized {
				return fmt.Errorf("expected status 401, got %d", resp.StatusCode)
			}

			return nil
		})

	assert.NoError(t, err, "unauthorized request contract failed")
}

// TestConsumerAcceptWebhook verifies the POST /webhooks/{source} endpoint contract
func TestConsumerAcceptWebhook(t *testing.T) {
	config := DefaultConfig()

	mockProvider, err := consumer.NewV4Pact(consumer.MockHTTPProviderConfig{
		Consumer: config.Consumer,
		Provider: config.Provider,
		PactDir:  config.PactDir,
	})
	require.NoError(t, err, "failed to create mock provider")

	err = mockProvider.
		AddInteraction().
		Given("the inbox gate accepts new deliveries").
		UponReceiving("a request to deliver a webhook").
		WithRequest("POST", "/webhooks/mrg_deploy", func(b *consumer.V4RequestBuilder) {
			b.Header("Content-Type", matchers.S("application/json"))
			b.Header("X-Webhook-Signature", matchers.Like("sha256=deadbeef"))
			b.Header("X-Webhook-Timestamp", matchers.Like("1700000000"))
			b.JSONBody(map[string]interface{}{
				"external_id": matchers.Like("evt_12345"),
				"event":       matchers.Like("deployment.succeeded"),
			})
		}).
		WillRespondWith(202, func(b *consumer.V4ResponseBuilder) {
			b.Header("Content-Type", matchers.Like("application/json"))
			b.JSONBody(map[string]interface{}{
				"data": map[string]interface{}{
					"accepted": matchers.Like(true),
				},
			})
		}).
		ExecuteTest(t, func(config consumer.MockServerConfig) error {
			reqBody := `{"external_id":"evt_12345","event":"deployment.succeeded"}`
			req, err := http.NewRequest("POST", fmt.Sprintf("http://%s:%d/webhooks/mrg_deploy", config.Host, config.Port), strings.NewReader(reqBody))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Webhook-Signature", "sha256=deadbeef")
			req.Header.Set("X-Webhook-Timestamp", "1700000000")

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != http.StatusAccepted {
				return fmt.Errorf("expected status 202, got %d", resp.StatusCode)
			}

			return nil
		})

	assert.NoError(t, err, "accept webhook endpoint contract failed")
}

// TestConsumerInternalServerError verifies 500 server error response
func TestConsumerInternalServerError(t *testing.T) {
	config := DefaultConfig()

	mockProvider, err := consumer.NewV4Pact(consumer.MockHTTPProviderConfig{
		Consumer: config.Consumer,
		Provider: config.Provider,
		PactDir:  config.PactDir,
	})
	require.NoError(t, err, "failed to create mock provider")

	err = mockProvider.
		AddInteraction().
		Given("server error occurs").
		UponReceiving("a request that causes a server error").
		WithRequest("GET", "/tasks/trigger-error-500", func(b *consumer.V4RequestBuilder) {
			b.Header("Authorization", matchers.Like("Bearer "+MockAPIKey))
		}).
		WillRespondWith(500, func(b *consumer.V4ResponseBuilder) {
			b.Header("Content-Type", matchers.Like("application/problem+json"))
			b.JSONBody(map[string]interface{}{
				"type":       matchers.Like("https://errors.relaycore.dev/problems/internal-error"),
				"title":      "Internal Server Error",
				"status":     500,
				"detail":     matchers.Like("an internal error occurred"),
				"code":       "INTERNAL_ERROR",
				"request_id": matchers.UUID(),
				"trace_id":   matchers.Like("trace-id-placeholder"),
			})
		}).
		ExecuteTest(t, func(config consumer.MockServerConfig) error {
			req, err := http.NewRequest("GET", fmt.Sprintf("http://%s:%d/tasks/trigger-error-500", config.Host, config.Port), nil)
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", "Bearer "+MockAPIKey)

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != http.StatusInternalServerError {
				return fmt.Errorf("expected status 500, got %d", resp.StatusCode)
			}

			return nil
		})

	assert.NoError(t, err, "internal server error contract failed")
}
