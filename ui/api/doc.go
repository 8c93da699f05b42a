// Package api provides the JSON HTTP API of a session memory Service.
//
// # Endpoints
//
// Sessions:
//   - POST /sessions/{id}/messages - Append a message ({"role": "user", "content": "..."})
//   - GET /sessions/{id}/messages - Full raw history
//   - GET /sessions/{id}/context - Working context
//   - DELETE /sessions/{id} - Delete the session
//
// Compaction:
//   - GET /sessions/{id}/stats - Window size and compaction count
//   - GET /sessions/{id}/compactions - Compaction events
//   - POST /sessions/{id}/compact - Fold the current window now
//
// Every response is a Response envelope with either data or error set.
package api
