//
// Tencent is pleased to support the open source community by making trpc-reviewpipe-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-reviewpipe-go is licensed under the Apache License Version 2.0.
//
//

package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"trpc.group/trpc-go/trpc-reviewpipe-go/event"
	"trpc.group/trpc-go/trpc-reviewpipe-go/review"
	"trpc.group/trpc-go/trpc-reviewpipe-go/session"
)

var (
	sessionsJSON   bool
	sessionsEvents bool
)

// NewSessionsCmd creates the sessions command group.
func NewSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect persisted review sessions",
		Long: `Inspect persisted review sessions.

Sessions are scoped by --app and --user and live in the store selected
with --storage. Every review run is one session; its state holds the
fetched pull request, the analyses and the final report, and its event
log records each stage group's outcome.`,
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions of the app/user scope",
		RunE:  runSessionsList,
	}
	list.Flags().BoolVar(&sessionsJSON, "json", false, "print raw JSON")

	show := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print one session's state",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionsShow,
	}
	show.Flags().BoolVar(&sessionsEvents, "events", false, "include the event log")

	del := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its events",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionsDelete,
	}

	cmd.AddCommand(list, show, del)
	return cmd
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	defer svc.Close()

	sessions, err := svc.ListSessions(cmd.Context(), session.UserKey{AppName: appName, UserID: userID})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if sessionsJSON {
		data, err := json.MarshalIndent(sessions, "", "  ")
		if err != nil {
			return fmt.Errorf("encode sessions: %w", err)
		}
		fmt.Fprintf(out, "%s\n", data)
		return nil
	}
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPULL REQUEST\tKEYS\tCREATED\tUPDATED")
	for _, sess := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			sess.ID,
			pullRequestRef(sess.State),
			len(sess.State),
			sess.CreatedAt.Format(time.RFC3339),
			sess.UpdatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	defer svc.Close()

	key := session.Key{AppName: appName, UserID: userID, SessionID: args[0]}
	sess, err := svc.GetSession(cmd.Context(), key)
	if err != nil {
		return err
	}

	view := sessionView{
		ID:        sess.ID,
		AppName:   sess.AppName,
		UserID:    sess.UserID,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
		State:     make(map[string]json.RawMessage, len(sess.State)),
	}
	for k, v := range sess.State {
		view.State[k] = json.RawMessage(v)
	}
	if sessionsEvents {
		view.Events = sess.Events
	}

	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", data)
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	defer svc.Close()

	key := session.Key{AppName: appName, UserID: userID, SessionID: args[0]}
	if err := svc.DeleteSession(cmd.Context(), key); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
	return nil
}

// sessionView is the JSON rendering of sessions show. State values are
// stored as JSON, so they are inlined rather than base64-encoded.
type sessionView struct {
	ID        string                     `json:"id"`
	AppName   string                     `json:"appName"`
	UserID    string                     `json:"userID"`
	CreatedAt time.Time                  `json:"createdAt"`
	UpdatedAt time.Time                  `json:"updatedAt"`
	State     map[string]json.RawMessage `json:"state"`
	Events    []event.Event              `json:"events,omitempty"`
}

// pullRequestRef renders the session's review context as "owner/name#N",
// or "-" when the session has none.
func pullRequestRef(state session.StateMap) string {
	data, ok := state[review.StateKeyGitHubContext]
	if !ok {
		return "-"
	}
	var ref review.Context
	if err := json.Unmarshal(data, &ref); err != nil {
		return "-"
	}
	return fmt.Sprintf("%s#%d", ref.Repo, ref.PRNumber)
}
