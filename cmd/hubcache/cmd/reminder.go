package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"hubcache/backend"
	"hubcache/internal/reminder"
)

func newReminderCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	reminderCmd := &cobra.Command{
		Use:   "reminder",
		Short: "Check your event reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Send alerts for reminders that are due now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, stdout, stderr, cfg, func(ctx context.Context, a *app) error {
				if err := loadReminders(ctx, a); err != nil {
					return err
				}
				fired, err := a.sess.CheckReminders(ctx, a.now())
				if err != nil {
					return err
				}
				return a.respond(ResultActionCompleted, map[string]any{"triggered": nonNil(fired)}, func(w io.Writer) {
					if a.sess.Reminders == nil {
						_, _ = fmt.Fprintln(w, "Reminder alerts are disabled")
						return
					}
					if len(fired) == 0 {
						_, _ = fmt.Fprintln(w, "No reminders triggered")
						return
					}
					_, _ = fmt.Fprintf(w, "Triggered %d reminder(s):\n", len(fired))
					for _, r := range fired {
						printReminder(w, a, r)
					}
				})
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	upcomingCmd := &cobra.Command{
		Use:   "upcoming",
		Short: "List your reminders due soon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			withinStr, _ := cmd.Flags().GetString("within")
			return run(cmd, stdout, stderr, cfg, func(ctx context.Context, a *app) error {
				within, err := reminder.ParseInterval(withinStr)
				if err != nil {
					return err
				}
				if err := loadReminders(ctx, a); err != nil {
					return err
				}
				upcoming := reminder.Upcoming(a.sess.UserID, a.sess.Events.Reminders(a.sess.HubID), a.now(), within)
				return a.respond(ResultInfoOnly, map[string]any{"reminders": nonNil(upcoming)}, func(w io.Writer) {
					if len(upcoming) == 0 {
						_, _ = fmt.Fprintf(w, "No reminders in the next %s\n", withinStr)
						return
					}
					for _, r := range upcoming {
						printReminder(w, a, r)
					}
				})
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	upcomingCmd.Flags().String("within", "1d", "How far ahead to look (15m, 1h, 2d, 1w)")

	reminderCmd.AddCommand(checkCmd, upcomingCmd)
	return reminderCmd
}

// loadReminders fetches the events and reminders of the active hub.
func loadReminders(ctx context.Context, a *app) error {
	hubID, err := a.hub()
	if err != nil {
		return err
	}
	if err := a.sess.Events.FetchEvents(ctx, hubID, nil, nil); err != nil {
		return err
	}
	return a.sess.Events.FetchReminders(ctx, hubID)
}

func printReminder(w io.Writer, a *app, r backend.EventReminder) {
	title := r.EventID
	if e, ok := a.sess.Events.Event(r.EventID); ok {
		title = e.Title
	}
	_, _ = fmt.Fprintf(w, "  %s  %s\n", r.RemindAt.Format("Mon Jan 2 15:04"), title)
}

// reminderTicker checks reminders every interval until ctx is done. Delivery
// errors are logged; the next tick retries reminders that failed.
func reminderTicker(ctx context.Context, a *app, interval time.Duration) {
	check := func() {
		if _, err := a.sess.CheckReminders(ctx, a.now()); err != nil && ctx.Err() == nil {
			a.log.Warn("reminder check failed: %v", err)
		}
	}
	check()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			check()
		}
	}
}
