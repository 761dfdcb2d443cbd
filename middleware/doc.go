// Package middleware adapts authgate session validation to net/http.
//
// [Guard] reads the Authorization header, calls Engine.ValidateSession and
// stores the result in the request context. [ClientMeta] records the
// caller's address and User-Agent for session binding.
//
// This package makes no authentication decisions of its own; it only maps
// engine results to 401 and 503 responses.
package middleware
