//go:build tools

package main

// Pins the swagger generator consumed by `swag init` over the handler
// annotations in internal/transport/http.
import (
	_ "github.com/swaggo/swag"
)
