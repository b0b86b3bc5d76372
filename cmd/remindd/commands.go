package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/remindd/internal/app"
	"github.com/sandeepkv93/remindd/internal/ids"
	"github.com/sandeepkv93/remindd/internal/scheduler"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler, alarm delivery, action loop and host bridge",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.Run(ctx)
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Fetch reminders once, reconcile and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			report, err := rt.Sync(cmd.Context())
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(report); encErr != nil {
				return encErr
			}
			return err
		},
	}
}

func newIDsCmd() *cobra.Command {
	var platform string
	cmd := &cobra.Command{
		Use:   "ids <reminder-id>",
		Short: "Print every namespaced id of a reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rid, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || rid <= 0 || rid > ids.MaxReminderID {
				return fmt.Errorf("reminder id must be between 1 and %d", ids.MaxReminderID)
			}
			if platform == "" {
				platform = cfg.Platform
			}
			p, err := scheduler.ParsePlatform(platform)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ROLE\tID")
			for _, e := range ids.New(p.Variant()).Table(rid) {
				fmt.Fprintf(tw, "%s\t%d\n", e.Role, e.ID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&platform, "platform", "p", "", "alarm_clock or alarm_object (default from config)")
	return cmd
}
