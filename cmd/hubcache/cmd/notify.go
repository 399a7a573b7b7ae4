package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"hubcache/backend"
	"hubcache/internal/notification"
	"hubcache/internal/store"
	"hubcache/internal/utils"
)

func newNotifyCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	notifyCmd := &cobra.Command{
		Use:   "notify",
		Short: "Read and send notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	notifyCmd.AddCommand(newNotifyListCmd(stdout, stderr, cfg))
	notifyCmd.AddCommand(newNotifySendCmd(stdout, stderr, cfg))
	notifyCmd.AddCommand(newNotifyReadCmd(stdout, stderr, cfg))
	notifyCmd.AddCommand(newNotifyReadAllCmd(stdout, stderr, cfg))
	notifyCmd.AddCommand(newNotifyRemoveCmd(stdout, stderr, cfg))
	notifyCmd.AddCommand(newNotifyLogCmd(stdout, stderr, cfg))
	return notifyCmd
}

// loadFeed fetches the first page and the unread count for the signed-in user.
func loadFeed(ctx context.Context, a *app) error {
	feed := a.sess.Notifications
	if err := feed.Fetch(ctx, a.sess.UserID); err != nil {
		return err
	}
	_, err := feed.FetchUnreadCount(ctx, a.sess.UserID)
	return err
}

func printFeed(w io.Writer, feed *store.NotificationStore) {
	list := feed.Notifications()
	_, _ = fmt.Fprintf(w, "%d unread\n", feed.UnreadCount())
	if len(list) == 0 {
		_, _ = fmt.Fprintln(w, "No notifications")
		return
	}
	for _, n := range list {
		mark := "*"
		if n.Read {
			mark = " "
		}
		_, _ = fmt.Fprintf(w, "%s %s  %s\n", mark, n.ID, notification.FormatLine(n))
	}
	if feed.Pagination().HasMore {
		_, _ = fmt.Fprintln(w, "(more available, use --pages)")
	}
}

func newNotifyListCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List your notifications, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, _ := cmd.Flags().GetString("type")
			unread, _ := cmd.Flags().GetBool("unread")
			pages, _ := cmd.Flags().GetInt("pages")
			return run(cmd, stdout, stderr, cfg, func(ctx context.Context, a *app) error {
				feed := a.sess.Notifications
				var f store.NotificationFilters
				if typ != "" {
					t := backend.NotificationType(typ)
					if !t.Valid() {
						return utils.ErrInvalidPayload(fmt.Errorf("unknown notification type %q", typ))
					}
					f.Type = &t
				}
				if unread {
					f.Read = ptr(false)
				}
				// No user is loaded yet, so this only stores the filters.
				if err := feed.SetFilters(ctx, f); err != nil {
					return err
				}
				if err := loadFeed(ctx, a); err != nil {
					return err
				}
				for i := 1; i < pages; i++ {
					if err := feed.LoadMore(ctx); err != nil {
						return err
					}
				}
				return a.respond(ResultInfoOnly, map[string]any{"feed": feed}, func(w io.Writer) {
					printFeed(w, feed)
				})
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	listCmd.Flags().String("type", "", "Only this type: event, task, shopping, hub or system")
	listCmd.Flags().Bool("unread", false, "Only unread notifications")
	listCmd.Flags().Int("pages", 1, "Number of pages to load")
	return listCmd
}

func newNotifySendCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	sendCmd := &cobra.Command{
		Use:   "send <user-id> <title>",
		Short: "Send a notification to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			message, _ := cmd.Flags().GetString("message")
			typ, _ := cmd.Flags().GetString("type")
			entity, _ := cmd.Flags().GetString("entity")
			return run(cmd, stdout, stderr, cfg, func(ctx context.Context, a *app) error {
				n, err := a.sess.Notifications.Send(ctx, backend.NotificationInput{
					UserID:   args[0],
					HubID:    a.sess.HubID,
					Type:     backend.NotificationType(typ),
					Title:    args[1],
					Message:  message,
					EntityID: entity,
				})
				if err != nil {
					return err
				}
				return a.respond(ResultActionCompleted, map[string]any{"action": "send", "notification": n}, func(w io.Writer) {
					_, _ = fmt.Fprintf(w, "Sent to %s: %s\n", n.UserID, n.Title)
				})
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	sendCmd.Flags().String("message", "", "Message body")
	sendCmd.Flags().String("type", string(backend.NotificationSystem), "Type: event, task, shopping, hub or system")
	sendCmd.Flags().String("entity", "", "Id of the row the notification refers to")
	return sendCmd
}

func newNotifyReadCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	readCmd := &cobra.Command{
		Use:   "read <id>",
		Short: "Mark a notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			unread, _ := cmd.Flags().GetBool("unread")
			return run(cmd, stdout, stderr, cfg, func(ctx context.Context, a *app) error {
				feed := a.sess.Notifications
				if err := loadFeed(ctx, a); err != nil {
					return err
				}
				mark := feed.MarkRead
				if unread {
					mark = feed.MarkUnread
				}
				if err := mark(ctx, args[0]); err != nil {
					return err
				}
				return a.respond(ResultActionCompleted, map[string]any{"action": "read", "feed": feed}, func(w io.Writer) {
					_, _ = fmt.Fprintf(w, "Updated %s, %d unread\n", args[0], feed.UnreadCount())
				})
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	readCmd.Flags().Bool("unread", false, "Mark unread instead")
	return readCmd
}

func newNotifyReadAllCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "read-all",
		Short: "Mark every notification read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, stdout, stderr, cfg, func(ctx context.Context, a *app) error {
				feed := a.sess.Notifications
				if err := loadFeed(ctx, a); err != nil {
					return err
				}
				if err := feed.MarkAllRead(ctx); err != nil {
					return err
				}
				return a.respond(ResultActionCompleted, map[string]any{"action": "read-all", "feed": feed}, func(w io.Writer) {
					_, _ = fmt.Fprintln(w, "All notifications marked read")
				})
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func newNotifyRemoveCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a notification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, stdout, stderr, cfg, func(ctx context.Context, a *app) error {
				feed := a.sess.Notifications
				if err := loadFeed(ctx, a); err != nil {
					return err
				}
				if err := feed.Delete(ctx, args[0]); err != nil {
					return err
				}
				return a.respond(ResultActionCompleted, map[string]any{"action": "delete", "feed": feed}, func(w io.Writer) {
					_, _ = fmt.Fprintf(w, "Deleted %s\n", args[0])
				})
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func newNotifyLogCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Show alerts delivered while watching",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, stdout, stderr, cfg, func(ctx context.Context, a *app) error {
				entries, err := notification.ReadLog(a.conf.Notifications.Alerts.Log.Path)
				if err != nil {
					return err
				}
				return a.respond(ResultInfoOnly, map[string]any{"entries": nonNil(entries)}, func(w io.Writer) {
					if len(entries) == 0 {
						_, _ = fmt.Fprintln(w, "No alerts logged")
						return
					}
					for _, e := range entries {
						_, _ = fmt.Fprintln(w, e)
					}
				})
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	logCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Clear the alert log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, stdout, stderr, cfg, func(ctx context.Context, a *app) error {
				if err := notification.ClearLog(a.conf.Notifications.Alerts.Log.Path); err != nil {
					return err
				}
				return a.respond(ResultActionCompleted, nil, func(w io.Writer) {
					_, _ = fmt.Fprintln(w, "Alert log cleared")
				})
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	})
	return logCmd
}
