package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/anirudhbiyani/cloud-session/pkg/session"
)

func newSessionCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newCreateCommand(ctx),
		newCreateChainedCommand(ctx),
		newStartCommand(ctx),
		newStopCommand(ctx),
		newUpdateCommand(ctx),
		newDeleteCommand(ctx),
		newRotateCommand(ctx),
		newListCommand(ctx),
		newGetCommand(ctx),
		newCredentialsCommand(ctx),
	}
}

func newCreateCommand(ctx *commandContext) *cobra.Command {
	var req session.IAMUserCreateRequest

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an IAM user session from access keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.AccessKeyID == "" {
				req.AccessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
			}
			if req.SecretAccessKey == "" {
				req.SecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
			}
			if req.ProfileName == "" {
				req.ProfileName = req.AccountName
			}
			return ctx.withRuntime(cmd, runtimeOptions{}, func(c context.Context, rt *runtime) error {
				sess, err := rt.manager.Create(c, &req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created session %s (%s)\n", sess.ID, sess.AccountName)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&req.AccountName, "name", "", "Display name of the session")
	cmd.Flags().StringVar(&req.Region, "region", "us-east-1", "Default AWS region")
	cmd.Flags().StringVar(&req.MFADevice, "mfa-device", "", "ARN of the MFA device, if MFA is enforced")
	cmd.Flags().StringVar(&req.ProfileName, "profile", "", "Named profile to write credentials under (defaults to --name)")
	cmd.Flags().StringVar(&req.AccessKeyID, "access-key-id", "", "IAM user access key id (defaults to $AWS_ACCESS_KEY_ID)")
	cmd.Flags().StringVar(&req.SecretAccessKey, "secret-access-key", "", "IAM user secret access key (defaults to $AWS_SECRET_ACCESS_KEY)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newCreateChainedCommand(ctx *commandContext) *cobra.Command {
	var req session.ChainedCreateRequest

	cmd := &cobra.Command{
		Use:   "create-chained",
		Short: "Create a session that assumes a role with a parent session's credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.ProfileName == "" {
				req.ProfileName = req.AccountName
			}
			return ctx.withRuntime(cmd, runtimeOptions{}, func(c context.Context, rt *runtime) error {
				sess, err := rt.manager.Create(c, &req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created chained session %s (%s) under %s\n", sess.ID, sess.AccountName, sess.ParentID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&req.AccountName, "name", "", "Display name of the session")
	cmd.Flags().StringVar(&req.Region, "region", "us-east-1", "Default AWS region")
	cmd.Flags().StringVar(&req.ParentID, "parent", "", "ID of the parent session")
	cmd.Flags().StringVar(&req.RoleARN, "role-arn", "", "ARN of the role to assume")
	cmd.Flags().StringVar(&req.RoleSessionName, "role-session-name", "", "Role session name")
	cmd.Flags().StringVar(&req.ProfileName, "profile", "", "Named profile to write credentials under (defaults to --name)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("parent")
	_ = cmd.MarkFlagRequired("role-arn")
	return cmd
}

func newStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start <session-id>",
		Short: "Start a session; MFA prompts are answered in this terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, runtimeOptions{push: true}, func(c context.Context, rt *runtime) error {
				if err := rt.manager.Start(c, args[0]); err != nil {
					return err
				}
				if rt.declinedMFA(args[0]) {
					return session.ErrMissingMFAToken(args[0]).WithOperation("start")
				}
				return reportStatus(cmd, rt, args[0])
			})
		},
	}
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <session-id>",
		Short: "Stop a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, runtimeOptions{}, func(c context.Context, rt *runtime) error {
				if err := rt.manager.Stop(c, args[0]); err != nil {
					return err
				}
				return reportStatus(cmd, rt, args[0])
			})
		},
	}
}

func newRotateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate <session-id>",
		Short: "Refresh the credentials of an active session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, runtimeOptions{}, func(c context.Context, rt *runtime) error {
				if err := rt.manager.Rotate(c, args[0]); err != nil {
					return err
				}
				return reportStatus(cmd, rt, args[0])
			})
		},
	}
}

// reportStatus prints the session's status and turns an error status into a
// non-zero exit.
func reportStatus(cmd *cobra.Command, rt *runtime, id string) error {
	sess, err := rt.manager.Get(id)
	if err != nil {
		return err
	}
	if sess.Status == session.StatusError {
		return fmt.Errorf("session %s is in error: %s", id, sess.LastError)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session %s is %s\n", id, sess.Status)
	return nil
}

func newUpdateCommand(ctx *commandContext) *cobra.Command {
	var (
		name, region, mfaDevice, profile string
		roleARN, roleSessionName         string
		accessKeyID, secretAccessKey     string
	)

	cmd := &cobra.Command{
		Use:   "update <session-id>",
		Short: "Edit a session; only the flags given are changed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			return ctx.withRuntime(cmd, runtimeOptions{}, func(c context.Context, rt *runtime) error {
				sess, err := rt.manager.Get(args[0])
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Session %s is not in the workspace; nothing to update\n", args[0])
					return nil
				}
				req := session.UpdateRequest{Session: sess}
				if flags.Changed("name") {
					req.Session.AccountName = name
				}
				if flags.Changed("region") {
					req.Session.Region = region
				}
				if flags.Changed("mfa-device") {
					req.Session.MFADevice = mfaDevice
				}
				if flags.Changed("profile") {
					req.Session.ProfileID = profile
				}
				if flags.Changed("role-arn") {
					req.Session.RoleARN = roleARN
				}
				if flags.Changed("role-session-name") {
					req.Session.RoleSessionName = roleSessionName
				}
				if flags.Changed("access-key-id") {
					req.AccessKeyID = &accessKeyID
				}
				if flags.Changed("secret-access-key") {
					req.SecretAccessKey = &secretAccessKey
				}
				if err := rt.manager.Update(c, req); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated session %s\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&region, "region", "", "Default AWS region")
	cmd.Flags().StringVar(&mfaDevice, "mfa-device", "", "MFA device ARN (empty clears it)")
	cmd.Flags().StringVar(&profile, "profile", "", "Named profile")
	cmd.Flags().StringVar(&roleARN, "role-arn", "", "Role ARN (chained sessions)")
	cmd.Flags().StringVar(&roleSessionName, "role-session-name", "", "Role session name (chained sessions)")
	cmd.Flags().StringVar(&accessKeyID, "access-key-id", "", "Replacement access key id")
	cmd.Flags().StringVar(&secretAccessKey, "secret-access-key", "", "Replacement secret access key")
	return cmd
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and every chained session that depends on it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, runtimeOptions{}, func(c context.Context, rt *runtime) error {
				err := rt.manager.Delete(c, args[0])
				var cascadeErr *session.CascadeError
				if errors.As(err, &cascadeErr) {
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
					for _, f := range cascadeErr.Failures {
						fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s of dependent %s failed: %v\n", f.Step, f.SessionID, f.Err)
					}
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
				return nil
			})
		},
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions in the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, runtimeOptions{readOnly: true}, func(_ context.Context, rt *runtime) error {
				sessions := rt.manager.Sessions()
				if asJSON {
					return writeJSON(cmd, sessions)
				}
				if len(sessions) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No sessions")
					return nil
				}
				rows := make([][]string, 0, len(sessions))
				for _, s := range sessions {
					rows = append(rows, []string{
						s.ID,
						string(s.Type),
						s.AccountName,
						s.Region,
						string(s.Status),
						dash(s.ParentID),
						formatStarted(s.StartedAt),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Type", "Name", "Region", "Status", "Parent", "Started"},
					rows, nil))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newGetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "get <session-id>",
		Short: "Show the daemon's record of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, runtimeOptions{readOnly: true}, func(c context.Context, rt *runtime) error {
				rec, err := rt.record(c, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd, rec)
			})
		},
	}
}

func newCredentialsCommand(ctx *commandContext) *cobra.Command {
	var reveal, asJSON bool

	cmd := &cobra.Command{
		Use:   "credentials <session-id>",
		Short: "Show the credentials currently backing a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, runtimeOptions{readOnly: true}, func(c context.Context, rt *runtime) error {
				creds, err := rt.manager.GenerateCredentials(c, args[0])
				if err != nil {
					return err
				}
				out := *creds
				if !reveal {
					out.SecretAccessKey = mask(out.SecretAccessKey)
					out.SessionToken = mask(out.SessionToken)
				}
				if asJSON {
					return writeJSON(cmd, out)
				}
				rows := [][]string{
					{"Access key ID", out.AccessKeyID},
					{"Secret access key", out.SecretAccessKey},
					{"Session token", dash(out.SessionToken)},
					{"Expires", formatStarted(out.Expires)},
					{"Source", dash(out.Source)},
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print secrets unmasked")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:4] + strings.Repeat("*", 8)
}

func dash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func formatStarted(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
