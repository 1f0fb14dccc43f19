//
// Tencent is pleased to support the open source community by making trpc-reviewpipe-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-reviewpipe-go is licensed under the Apache License Version 2.0.
//
//

// Command reviewpipe runs the pull-request review pipeline and inspects
// persisted review sessions.
package main

import (
	"fmt"
	"os"

	"trpc.group/trpc-go/trpc-reviewpipe-go/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
