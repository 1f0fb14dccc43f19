//
// Tencent is pleased to support the open source community by making trpc-reviewpipe-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-reviewpipe-go is licensed under the Apache License Version 2.0.
//
//

// Package cli implements the reviewpipe command line: running a review
// pipeline against a pull request and administrative session inspection.
package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"trpc.group/trpc-go/trpc-reviewpipe-go/log"
	"trpc.group/trpc-go/trpc-reviewpipe-go/session"
	"trpc.group/trpc-go/trpc-reviewpipe-go/storage/database"
	"trpc.group/trpc-go/trpc-reviewpipe-go/storage/inmemory"
)

const (
	// defaultStorageDSN selects the in-process store.
	defaultStorageDSN = "memory://"
	// storageEnvVar overrides the default backing store.
	storageEnvVar = "REVIEWPIPE_STORAGE"

	defaultAppName = "reviewpipe"
	defaultUserID  = "default"
)

var (
	storageDSN string
	appName    string
	userID     string
	verbose    bool
)

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd creates the reviewpipe root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reviewpipe",
		Short: "Deterministic pull-request review pipeline",
		Long: `reviewpipe runs a staged pull-request review pipeline: fetch the PR from
GitHub, route analyzers over the changed files, run the selected analyses
in parallel, synthesize a markdown report and optionally publish it back
to the pull request. Every run is a persisted session; state and the event
log survive the process and are inspectable afterwards.

The backing store is chosen with --storage: "memory://" (default) keeps
sessions in-process, anything else is a database DSN (a SQLite file path,
postgres:// or mysql://).`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env is optional; flags and the real environment win.
			_ = godotenv.Load()
			if verbose {
				log.SetLevel(log.LevelDebug)
			} else {
				log.SetLevel(log.LevelWarn)
			}
		},
	}

	defaultDSN := os.Getenv(storageEnvVar)
	if defaultDSN == "" {
		defaultDSN = defaultStorageDSN
	}
	cmd.PersistentFlags().StringVar(&storageDSN, "storage", defaultDSN,
		"backing store DSN (memory://, SQLite file path, postgres:// or mysql://)")
	cmd.PersistentFlags().StringVar(&appName, "app", defaultAppName, "application name scoping sessions")
	cmd.PersistentFlags().StringVar(&userID, "user", defaultUserID, "user id scoping sessions")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(NewReviewCmd())
	cmd.AddCommand(NewSessionsCmd())

	return cmd
}

// newService opens the configured backing store and wraps it in a session
// manager. The caller owns the returned service and must Close it.
func newService() (session.Service, error) {
	dsn := storageDSN
	if dsn == "" {
		dsn = defaultStorageDSN
	}
	if dsn == defaultStorageDSN {
		return session.NewManager(inmemory.New()), nil
	}
	store, err := database.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("open storage %q: %w", dsn, err)
	}
	return session.NewManager(store), nil
}
