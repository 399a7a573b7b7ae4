package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"hubcache/backend"
	"hubcache/internal/store"
	"hubcache/internal/utils"
)

func newEventCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	eventCmd := &cobra.Command{
		Use:   "event",
		Short: "Manage the hub calendar",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	eventCmd.AddCommand(newEventListCmd(stdout, stderr, cfg))
	eventCmd.AddCommand(newEventAddCmd(stdout, stderr, cfg))
	eventCmd.AddCommand(newEventRemoveCmd(stdout, stderr, cfg))
	return eventCmd
}

func newEventListCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fromStr, _ := cmd.Flags().GetString("from")
			toStr, _ := cmd.Flags().GetString("to")
			search, _ := cmd.Flags().GetString("search")
			upcoming, _ := cmd.Flags().GetInt("upcoming")
			return run(cmd, stdout, stderr, cfg, func(ctx context.Context, a *app) error {
				hubID, err := a.hub()
				if err != nil {
					return err
				}
				from, err := utils.ParseDateFlagAt(fromStr, a.now())
				if err != nil {
					return err
				}
				to, err := utils.ParseDateFlagAt(toStr, a.now())
				if err != nil {
					return err
				}
				events := a.sess.Events
				if err := events.FetchEvents(ctx, hubID, from, to); err != nil {
					return err
				}
				if err := events.FetchReminders(ctx, hubID); err != nil {
					return err
				}
				if search != "" {
					events.SetFilters(store.EventFilters{Search: &search})
				}

				list := events.Filtered(hubID)
				if upcoming > 0 {
					list = events.Upcoming(hubID, a.now(), upcoming)
				}
				return a.respond(ResultInfoOnly, map[string]any{"events": nonNil(list), "count": len(list)}, func(w io.Writer) {
					if len(list) == 0 {
						_, _ = fmt.Fprintln(w, "No events")
						return
					}
					for _, e := range list {
						printEvent(w, e, len(events.RemindersFor(e.ID)))
					}
				})
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	listCmd.Flags().String("from", "", "Only events ending after this date")
	listCmd.Flags().String("to", "", "Only events starting before this date")
	listCmd.Flags().String("search", "", "Filter by title, description or location")
	listCmd.Flags().Int("upcoming", 0, "Show only the next N events")
	return listCmd
}

func printEvent(w io.Writer, e backend.Event, reminders int) {
	line := fmt.Sprintf("%s  %s", formatWhen(e.StartDate, e.AllDay), e.Title)
	if e.Location != "" {
		line += " @ " + e.Location
	}
	if e.CreatorName != "" {
		line += " (by " + e.CreatorName + ")"
	}
	if reminders > 0 {
		line += fmt.Sprintf(" [%d reminder(s)]", reminders)
	}
	_, _ = fmt.Fprintf(w, "%s  %s\n", e.ID, line)
}

func newEventAddCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	addCmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			startStr, _ := cmd.Flags().GetString("start")
			endStr, _ := cmd.Flags().GetString("end")
			allDay, _ := cmd.Flags().GetBool("all-day")
			location, _ := cmd.Flags().GetString("location")
			description, _ := cmd.Flags().GetString("description")
			color, _ := cmd.Flags().GetString("color")
			remindStr, _ := cmd.Flags().GetString("remind")
			return run(cmd, stdout, stderr, cfg, func(ctx context.Context, a *app) error {
				hubID, err := a.hub()
				if err != nil {
					return err
				}
				start, err := utils.ParseDateFlagAt(startStr, a.now())
				if err != nil {
					return err
				}
				end, err := utils.ParseDateFlagAt(endStr, a.now())
				if err != nil {
					return err
				}
				remind, err := utils.ParseDateFlagAt(remindStr, a.now())
				if err != nil {
					return err
				}
				in := backend.EventInput{
					Title:       args[0],
					Description: description,
					Location:    location,
					EndDate:     end,
					AllDay:      allDay,
					Color:       color,
					CreatedBy:   a.sess.UserID,
				}
				if start != nil {
					in.StartDate = *start
				}

				event, err := a.sess.Events.CreateEvent(ctx, hubID, in)
				if err != nil {
					return err
				}
				payload := map[string]any{"action": "add", "event": event}
				if remind != nil {
					r, err := a.sess.Events.CreateReminder(ctx, backend.ReminderInput{EventID: event.ID, UserID: a.sess.UserID, RemindAt: *remind})
					if err != nil {
						return err
					}
					payload["reminder"] = r
				}
				return a.respond(ResultActionCompleted, payload, func(w io.Writer) {
					_, _ = fmt.Fprintf(w, "Added event: %s\n", event.Title)
				})
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addCmd.Flags().String("start", "", "Start date or date-time (required)")
	addCmd.Flags().String("end", "", "End date or date-time")
	addCmd.Flags().Bool("all-day", false, "All-day event")
	addCmd.Flags().String("location", "", "Location")
	addCmd.Flags().String("description", "", "Description")
	addCmd.Flags().String("color", "", "Display color, e.g. #3b82f6")
	addCmd.Flags().String("remind", "", "Add a reminder for yourself at this date-time")
	return addCmd
}

func newEventRemoveCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id|title>...",
		Short: "Delete events",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, stdout, stderr, cfg, func(ctx context.Context, a *app) error {
				hubID, err := a.hub()
				if err != nil {
					return err
				}
				events := a.sess.Events
				if err := events.FetchEvents(ctx, hubID, nil, nil); err != nil {
					return err
				}
				var titles []string
				for _, arg := range args {
					e, err := pick(a, events.Events(hubID), eventLabel, arg, "event")
					if err != nil {
						return err
					}
					events.Select(e.ID)
					titles = append(titles, e.Title)
				}
				if err := events.DeleteSelected(ctx); err != nil {
					return err
				}
				return a.respond(ResultActionCompleted, map[string]any{"action": "delete", "events": titles}, func(w io.Writer) {
					for _, t := range titles {
						_, _ = fmt.Fprintf(w, "Deleted event: %s\n", t)
					}
				})
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func eventLabel(e backend.Event) string {
	return fmt.Sprintf("%s (%s)", e.Title, formatWhen(e.StartDate, e.AllDay))
}

// nonNil keeps empty lists as [] in JSON output.
func nonNil[E any](s []E) []E {
	if s == nil {
		return []E{}
	}
	return s
}
