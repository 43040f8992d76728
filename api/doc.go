// Package api holds the request and response types of the AgentGraph HTTP API.
//
// # API Overview
//
// AgentGraph exposes a RESTful API for:
//   - Registering and listing graph definitions
//   - Starting, inspecting and resuming executions
//   - Answering human-approval requests
//   - Listing checkpoints, restoring and resuming from them
//   - Reading archived executions and engine statistics
//   - Health monitoring and metrics
//
// # Authentication
//
// When API keys are configured, /v1 endpoints require the X-API-Key header:
//
//	X-API-Key: your-api-key
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
//
// All responses share the envelope written by api/handlers:
//
//	{"success": true, "data": {...}, "timestamp": "...", "request_id": "..."}
package api
