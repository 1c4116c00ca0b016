package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ent0n29/ragent/internal/app"
	"github.com/ent0n29/ragent/internal/controller"
)

func newChatCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the agent from the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(built *app.BuildResult) error {
				return runChat(cmd, built.Controller, sessionID)
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "resume an existing session id")
	return cmd
}

func runChat(cmd *cobra.Command, ctrl *controller.Controller, sessionID string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	reader := bufio.NewReader(cmd.InOrStdin())

	fmt.Fprintln(out, "Type a message, or 'exit' to quit.")
	for {
		fmt.Fprint(out, "> ")
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return err
		}
		text := strings.TrimSpace(line)
		switch {
		case text == "exit" || text == "quit":
			return nil
		case text == "":
			if err == io.EOF {
				return nil
			}
			continue
		}

		res, turnErr := ctrl.SubmitTurn(ctx, controller.SubmitRequest{SessionID: sessionID, Message: text})
		if res.SessionID != "" && res.SessionID != sessionID {
			sessionID = res.SessionID
			fmt.Fprintf(out, "(session %s)\n", sessionID)
		}
		if turnErr != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "error:", turnErr)
		} else {
			fmt.Fprintln(out, res.Reply)
		}
		if err == io.EOF || ctx.Err() != nil {
			return nil
		}
	}
}
