package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anirudhbiyani/cloud-session/pkg/providers/aws"
)

func newMFADevicesCommand(ctx *commandContext) *cobra.Command {
	var accessKeyID, secretAccessKey, userName, region string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "mfa-devices",
		Short: "List the MFA devices registered to an IAM user",
		Long: "List the MFA devices registered to an IAM user, for use as --mfa-device.\n" +
			"The call is made directly to AWS IAM with the given access keys.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if accessKeyID == "" {
				accessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
			}
			if secretAccessKey == "" {
				secretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
			}
			if accessKeyID == "" || secretAccessKey == "" {
				return errors.New("access keys are required (--access-key-id/--secret-access-key or AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY)")
			}

			client := aws.NewIAMClient(accessKeyID, secretAccessKey, region)
			devices, err := aws.DiscoverMFADevices(cmd.Context(), client, userName)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, devices)
			}
			if len(devices) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No MFA devices")
				return nil
			}
			rows := make([][]string, 0, len(devices))
			for _, d := range devices {
				rows = append(rows, []string{d.SerialNumber, dash(d.UserName), formatStarted(d.EnableDate)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Serial", "User", "Enabled"}, rows, nil))
			return nil
		},
	}

	cmd.Flags().StringVar(&accessKeyID, "access-key-id", "", "IAM user access key id (defaults to $AWS_ACCESS_KEY_ID)")
	cmd.Flags().StringVar(&secretAccessKey, "secret-access-key", "", "IAM user secret access key (defaults to $AWS_SECRET_ACCESS_KEY)")
	cmd.Flags().StringVar(&userName, "user", "", "IAM user name (defaults to the calling user)")
	cmd.Flags().StringVar(&region, "region", "us-east-1", "Region used to select the IAM endpoint")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newListenCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Answer MFA prompts from the daemon until interrupted",
		Long: "Keep the push channel open and prompt for MFA codes whenever the daemon asks.\n" +
			"Use this when sessions are started by something other than this CLI.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, runtimeOptions{push: true, readOnly: true}, func(c context.Context, rt *runtime) error {
				fmt.Fprintf(cmd.ErrOrStderr(), "Listening on %s (Ctrl-C to stop)\n", rt.cfg.WebsocketURL())
				select {
				case <-c.Done():
					return nil
				case <-rt.pushDone:
					return rt.pushErr
				}
			})
		},
	}
}
