// Package memory provides an in-process authgate.UserStore for tests, local
// development, and the server's --dev mode.
package memory
