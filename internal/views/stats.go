package views

import (
	"math"
	"strings"
	"time"

	"hubcache/backend"
)

// Stats summarizes a collection of completable rows.
type Stats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Pending   int `json:"pending"`
	Overdue   int `json:"overdue"`
	Percent   int `json:"percent"`
}

// Percent returns part/total as a whole percentage rounded to nearest, or 0
// when total is 0.
func Percent(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(part) * 100 / float64(total)))
}

// IsOverdue reports whether t is not completed and due strictly before now.
func IsOverdue(t backend.Task, now time.Time) bool {
	return !t.Completed && t.DueDate != nil && t.DueDate.Before(now)
}

// TaskStats computes task totals as of now.
func TaskStats(tasks []backend.Task, now time.Time) Stats {
	var s Stats
	for _, t := range tasks {
		s.Total++
		if t.Completed {
			s.Completed++
		} else {
			s.Pending++
		}
		if IsOverdue(t, now) {
			s.Overdue++
		}
	}
	s.Percent = Percent(s.Completed, s.Total)
	return s
}

// ItemStats computes shopping item totals. Items are never overdue.
func ItemStats(items []backend.ShoppingItem) Stats {
	var s Stats
	for _, it := range items {
		s.Total++
		if it.Completed {
			s.Completed++
		} else {
			s.Pending++
		}
	}
	s.Percent = Percent(s.Completed, s.Total)
	return s
}

// MatchesSearch reports whether query occurs, ignoring case, in any of
// fields. An empty or blank query matches everything.
func MatchesSearch(query string, fields ...string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

// CanEdit reports whether role may change a list's items.
func CanEdit(role backend.Role) bool {
	return role == backend.RoleOwner || role == backend.RoleEditor
}

// CanManage reports whether role may rename, delete or share a list.
func CanManage(role backend.Role) bool {
	return role == backend.RoleOwner
}

// RoleOf finds userID's role among a list's collaborators.
func RoleOf(collaborators []backend.Collaborator, userID string) (backend.Role, bool) {
	for _, c := range collaborators {
		if c.UserID == userID {
			return c.Role, true
		}
	}
	return "", false
}

// Group is a run of items sharing a key.
type Group[E any] struct {
	Key   string
	Items []E
}

// GroupBy partitions items by key, keeping groups in first-seen order and
// items in input order within each group.
func GroupBy[E any](items []E, key func(E) string) []Group[E] {
	var groups []Group[E]
	index := map[string]int{}
	for _, it := range items {
		k := key(it)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, Group[E]{Key: k})
		}
		groups[i].Items = append(groups[i].Items, it)
	}
	return groups
}
