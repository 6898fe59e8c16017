// ollama-view - Branching conversations with local Ollama models.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"os"

	"github.com/jeranaias/ollama-view/internal/cli"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate

	os.Exit(cli.Execute(context.Background(), os.Args[1:]))
}
