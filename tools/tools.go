//go:build tools

// Package tools pins the lint and vulnerability tooling run against the billing module. Build
// the binaries from this directory, for example:
//
//	go build -o ../bin/ github.com/golangci/golangci-lint/cmd/golangci-lint golang.org/x/vuln/cmd/govulncheck
package tools

import (
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
	_ "golang.org/x/vuln/cmd/govulncheck"
	_ "honnef.co/go/tools/cmd/staticcheck"
	_ "mvdan.cc/gofumpt"
)
