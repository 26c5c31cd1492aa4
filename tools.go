//go:build tools

// Package tools pins the mock generator used by go:generate.
package tools

import (
	_ "github.com/vektra/mockery/v2"
)
