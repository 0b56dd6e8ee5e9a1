package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/anirudhbiyani/cloud-session/pkg/session"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the daemon and summarize sessions by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, runtimeOptions{readOnly: true}, func(c context.Context, rt *runtime) error {
				out := cmd.OutOrStdout()
				if err := rt.client.Ping(c); err != nil {
					fmt.Fprintf(out, "Daemon: unreachable at %s (%v)\n", rt.client.BaseURL(), err)
				} else {
					fmt.Fprintf(out, "Daemon: reachable at %s\n", rt.client.BaseURL())
				}
				fmt.Fprintf(out, "Workspace: %s\n", rt.cfg.Workspace.Path)

				counts := make(map[session.Status]int)
				sessions := rt.manager.Sessions()
				for _, s := range sessions {
					counts[s.Status]++
				}
				statuses := []session.Status{session.StatusActive, session.StatusLoading, session.StatusStopped, session.StatusError}
				rows := make([][]string, 0, len(statuses)+1)
				for _, st := range statuses {
					rows = append(rows, []string{string(st), strconv.Itoa(counts[st])})
				}
				rows = append(rows, []string{"total", strconv.Itoa(len(sessions))})
				fmt.Fprintln(out, renderTable([]string{"Status", "Sessions"}, rows, []columnAlignment{alignLeft, alignRight}))

				infos := rt.registry.Describe()
				typeRows := make([][]string, 0, len(infos))
				for _, info := range infos {
					caps := make([]string, 0, len(info.Capabilities))
					for _, c := range info.Capabilities {
						caps = append(caps, string(c))
					}
					chained := "no"
					if info.Chained {
						chained = "yes"
					}
					typeRows = append(typeRows, []string{string(info.Type), chained, strings.Join(caps, ", ")})
				}
				fmt.Fprintln(out, renderTable([]string{"Session type", "Chained", "Capabilities"}, typeRows, nil))
				return nil
			})
		},
	}
}
