package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"hubcache/internal/utils"
	"hubcache/internal/views"
)

func newCalendarCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	calendarCmd := &cobra.Command{
		Use:   "calendar",
		Short: "Show a month of events and dated tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			monthStr, _ := cmd.Flags().GetString("month")
			dayStr, _ := cmd.Flags().GetString("day")
			return run(cmd, stdout, stderr, cfg, func(ctx context.Context, a *app) error {
				hubID, err := a.hub()
				if err != nil {
					return err
				}
				now := a.now()
				year, month0 := now.Year(), int(now.Month())-1
				if monthStr != "" {
					if year, month0, err = utils.ParseMonthFlag(monthStr); err != nil {
						return err
					}
				}
				selected, err := utils.ParseDateFlagAt(dayStr, now)
				if err != nil {
					return err
				}

				first := time.Date(year, time.Month(month0+1), 1, 0, 0, 0, 0, now.Location())
				last := first.AddDate(0, 1, 0)
				// Whole weeks around the month are visible in the grid.
				from, to := first.AddDate(0, 0, -7), last.AddDate(0, 0, 7)
				if err := a.sess.Events.FetchEvents(ctx, hubID, &from, &to); err != nil {
					return err
				}
				if err := a.sess.Tasks.FetchTasks(ctx, hubID); err != nil {
					return err
				}

				items := append(a.sess.Events.CalendarItems(hubID), a.sess.Tasks.CalendarItems(hubID)...)
				views.SortCalendarItems(items)
				grid := views.BuildMonth(year, month0, items, views.ItemSpan, selected, now)

				var listed []views.CalendarItem
				if selected != nil {
					listed = dayItems(grid, *selected)
				} else {
					for _, d := range grid.Days() {
						if d.IsCurrentMonth {
							listed = appendUnique(listed, d.Items)
						}
					}
				}

				return a.respond(ResultInfoOnly, map[string]any{
					"year":  year,
					"month": int(grid.Month),
					"items": nonNil(listed),
				}, func(w io.Writer) {
					_, _ = fmt.Fprint(w, renderMonth(grid, isTerminal(w)))
					_, _ = fmt.Fprintln(w)
					for _, it := range listed {
						_, _ = fmt.Fprintf(w, "%s  %s %s\n", formatWhen(it.Date, it.AllDay), kindMark(it), it.Title)
					}
				})
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	calendarCmd.Flags().String("month", "", "Month to show as YYYY-MM (default: this month)")
	calendarCmd.Flags().String("day", "", "Select a day and list only its items")
	return calendarCmd
}

func dayItems(grid views.Month[views.CalendarItem], day time.Time) []views.CalendarItem {
	for _, d := range grid.Days() {
		if d.IsSelected || views.SameDay(d.Date, day) {
			return d.Items
		}
	}
	return nil
}

// appendUnique adds items not already in dst; multi-day items appear on
// several days of the grid.
func appendUnique(dst, items []views.CalendarItem) []views.CalendarItem {
	for _, it := range items {
		seen := false
		for _, d := range dst {
			if d.ID == it.ID && d.Kind == it.Kind {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, it)
		}
	}
	return dst
}

func kindMark(it views.CalendarItem) string {
	if it.Kind == views.KindTask {
		return checkbox(it.Completed)
	}
	return "*"
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// calendarStyles holds the grid styles. Without a terminal the styles carry
// no color, so plain markers stand in for highlighting.
type calendarStyles struct {
	header   lipgloss.Style
	weekday  lipgloss.Style
	day      lipgloss.Style
	outside  lipgloss.Style
	today    lipgloss.Style
	selected lipgloss.Style
	busy     lipgloss.Style
}

func newCalendarStyles() calendarStyles {
	cell := lipgloss.NewStyle().Width(4).Align(lipgloss.Right)
	return calendarStyles{
		header:   lipgloss.NewStyle().Bold(true).Width(28).Align(lipgloss.Center),
		weekday:  cell.Foreground(lipgloss.Color("245")),
		day:      cell,
		outside:  cell.Foreground(lipgloss.Color("240")),
		today:    cell.Bold(true).Foreground(lipgloss.Color("212")),
		selected: cell.Reverse(true),
		busy:     cell.Underline(true).Foreground(lipgloss.Color("39")),
	}
}

func renderMonth(grid views.Month[views.CalendarItem], styled bool) string {
	st := newCalendarStyles()
	var b strings.Builder

	title := fmt.Sprintf("%s %d", grid.Month, grid.Year)
	if styled {
		b.WriteString(st.header.Render(title))
	} else {
		b.WriteString(title)
	}
	b.WriteString("\n")

	var names []string
	for _, n := range []string{"Su", "Mo", "Tu", "We", "Th", "Fr", "Sa"} {
		if styled {
			n = st.weekday.Render(n)
		} else {
			n = fmt.Sprintf("%4s", n)
		}
		names = append(names, n)
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, names...))
	b.WriteString("\n")

	for _, week := range grid.Weeks {
		cells := make([]string, 0, 7)
		for _, d := range week {
			cells = append(cells, renderDay(st, d, styled))
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
		b.WriteString("\n")
	}
	return b.String()
}

func renderDay(st calendarStyles, d views.Day[views.CalendarItem], styled bool) string {
	n := fmt.Sprintf("%d", d.Date.Day())
	if !styled {
		switch {
		case d.IsSelected:
			n = "[" + n + "]"
		case d.IsToday:
			n = "<" + n + ">"
		case len(d.Items) > 0:
			n += "*"
		case !d.IsCurrentMonth:
			n = "."
		}
		return fmt.Sprintf("%4s", n)
	}

	switch {
	case d.IsSelected:
		return st.selected.Render(n)
	case d.IsToday:
		return st.today.Render(n)
	case !d.IsCurrentMonth:
		return st.outside.Render(n)
	case len(d.Items) > 0:
		return st.busy.Render(n)
	default:
		return st.day.Render(n)
	}
}
