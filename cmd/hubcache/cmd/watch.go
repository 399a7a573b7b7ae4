package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"hubcache/backend"
	"hubcache/internal/session"
	"hubcache/internal/shutdown"
)

// cleanupTimeout bounds how long releasing channels and the database may take.
const cleanupTimeout = 5 * time.Second

// reminderInterval is how often watch looks for due reminders.
const reminderInterval = 30 * time.Second

func newWatchCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow live changes to the hub until interrupted",
		Long:  "watch loads every store, subscribes to all of the hub's and the user's channels, and prints each reconciled change. Unread notifications and your due event reminders are delivered to the configured alert channels.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetDuration("for")
			tap := &changePrinter{}
			a, err := openApp(cmd, stdout, stderr, cfg, tap.wrap)
			if err != nil {
				return err
			}
			tap.out, tap.json, tap.sess = stdout, a.json, a.sess

			mgr := shutdown.NewManager(cmd.Context(), a.log)
			mgr.RegisterCleanup("session", func(context.Context) error { return a.Close() })
			stop := mgr.ListenForSignals()
			defer stop()
			if limit > 0 {
				timer := time.AfterFunc(limit, mgr.Shutdown)
				defer timer.Stop()
			}

			err = watch(mgr.Context(), a)
			mgr.Shutdown()
			ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
			defer cancel()
			if werr := mgr.Wait(ctx); err == nil {
				err = werr
			}
			return err
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	watchCmd.Flags().Duration("for", 0, "Stop after this long (default: until interrupted)")
	return watchCmd
}

// watch loads and subscribes the session, then blocks until ctx is done.
func watch(ctx context.Context, a *app) error {
	if _, err := a.hub(); err != nil {
		return err
	}
	if err := a.sess.Load(ctx); err != nil {
		return err
	}
	if err := a.sess.SubscribeAll(ctx); err != nil {
		return err
	}
	if !a.json {
		_, _ = fmt.Fprintf(a.stdout, "Watching hub %s as %s (%s)\n", a.sess.HubID, a.sess.UserID, summary(a.sess))
	}

	var wg sync.WaitGroup
	if a.sess.Reminders != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reminderTicker(ctx, a, reminderInterval)
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return nil
}

// summary renders the headline counters of every store.
func summary(s *session.Session) string {
	st := s.Tasks.Stats(s.HubID, time.Now())
	return fmt.Sprintf("%d events, %d open tasks, %d lists, %d unread",
		len(s.Events.Events(s.HubID)), st.Pending, len(s.Shopping.Lists(s.HubID)), s.Notifications.UnreadCount())
}

// changePrinter wraps a client so that every change, once the store has
// reconciled it, is printed with the store's new counters.
type changePrinter struct {
	backend.Client
	mu   sync.Mutex
	out  io.Writer
	json bool
	sess *session.Session
}

func (p *changePrinter) wrap(c backend.Client) backend.Client {
	p.Client = c
	return p
}

func (p *changePrinter) Subscribe(ctx context.Context, channel string, filter backend.Filter, onChange func(backend.Change)) (backend.Subscription, error) {
	return p.Client.Subscribe(ctx, channel, filter, func(c backend.Change) {
		onChange(c)
		p.print(channel, c)
	})
}

type changeLine struct {
	Channel string             `json:"channel"`
	Kind    backend.ChangeKind `json:"kind"`
	Table   string             `json:"table"`
	ID      string             `json:"id"`
	Summary string             `json:"summary"`
}

func (p *changePrinter) print(channel string, c backend.Change) {
	if p.out == nil {
		return
	}
	line := changeLine{Channel: channel, Kind: c.Kind, Table: c.Table, ID: changeID(c), Summary: summary(p.sess)}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.json {
		b, _ := json.Marshal(line)
		_, _ = fmt.Fprintln(p.out, string(b))
		return
	}
	_, _ = fmt.Fprintf(p.out, "%s %s %s (%s)\n", line.Kind, line.Table, line.ID, line.Summary)
}

func changeID(c backend.Change) string {
	raw := c.New
	if len(raw) == 0 {
		raw = c.Old
	}
	var row struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(raw, &row)
	return row.ID
}
