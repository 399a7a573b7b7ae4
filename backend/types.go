package backend

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidPayload is wrapped by every Validate failure.
var ErrInvalidPayload = errors.New("invalid payload")

func invalid(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidPayload, field, reason)
}

// Member is a user's membership in a hub
type Member struct {
	ID        string    `json:"id"`
	HubID     string    `json:"hub_id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func (m Member) Key() string { return m.ID }

// Event is a shared calendar entry
type Event struct {
	ID          string     `json:"id"`
	HubID       string     `json:"hub_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Location    string     `json:"location"`
	StartDate   time.Time  `json:"start_date"`
	EndDate     *time.Time `json:"end_date"`
	AllDay      bool       `json:"all_day"`
	Color       string     `json:"color"`
	CreatedBy   string     `json:"created_by"`
	CreatorName string     `json:"creator_name,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (e Event) Key() string { return e.ID }

// EventReminder asks the service to remind a user about an event
type EventReminder struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	HubID     string    `json:"hub_id"`
	UserID    string    `json:"user_id"`
	RemindAt  time.Time `json:"remind_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (r EventReminder) Key() string { return r.ID }

// Priority of a task
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Task is a hub chore or to-do
type Task struct {
	ID            string     `json:"id"`
	HubID         string     `json:"hub_id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Priority      Priority   `json:"priority"`
	DueDate       *time.Time `json:"due_date"`
	Completed     bool       `json:"completed"`
	CompletedAt   *time.Time `json:"completed_at"`
	AssignedTo    string     `json:"assigned_to"`
	AssigneeName  string     `json:"assignee_name,omitempty"`
	AssigneeEmail string     `json:"assignee_email,omitempty"`
	CreatedBy     string     `json:"created_by"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (t Task) Key() string { return t.ID }

// ShoppingList groups shopping items; ItemCount and CompletedCount are
// computed by the service.
type ShoppingList struct {
	ID             string    `json:"id"`
	HubID          string    `json:"hub_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	CreatedBy      string    `json:"created_by"`
	ItemCount      int       `json:"item_count"`
	CompletedCount int       `json:"completed_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (l ShoppingList) Key() string { return l.ID }

// ShoppingItem is a line on a shopping list
type ShoppingItem struct {
	ID          string    `json:"id"`
	ListID      string    `json:"list_id"`
	Name        string    `json:"name"`
	Quantity    int       `json:"quantity"`
	Unit        string    `json:"unit"`
	Category    string    `json:"category"`
	Notes       string    `json:"notes"`
	Completed   bool      `json:"completed"`
	CompletedBy string    `json:"completed_by"`
	AddedBy     string    `json:"added_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (i ShoppingItem) Key() string { return i.ID }

// Role of a collaborator on a shopping list
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// Collaborator grants a user a role on a shopping list
type Collaborator struct {
	ID        string    `json:"id"`
	ListID    string    `json:"list_id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	UserName  string    `json:"user_name,omitempty"`
	UserEmail string    `json:"user_email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (c Collaborator) Key() string { return c.ID }

// NotificationType classifies a notification by its source
type NotificationType string

const (
	NotificationEvent    NotificationType = "event"
	NotificationTask     NotificationType = "task"
	NotificationShopping NotificationType = "shopping"
	NotificationHub      NotificationType = "hub"
	NotificationSystem   NotificationType = "system"
)

// Valid reports whether t is one of the known notification types.
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationEvent, NotificationTask, NotificationShopping, NotificationHub, NotificationSystem:
		return true
	}
	return false
}

// Notification is a message addressed to one user
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	HubID     string           `json:"hub_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Read      bool             `json:"read"`
	EntityID  string           `json:"entity_id"`
	CreatedAt time.Time        `json:"created_at"`
}

func (n Notification) Key() string { return n.ID }

// MemberInput adds a user to a hub.
type MemberInput struct {
	HubID  string `json:"hub_id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role,omitempty"`
}

func (in MemberInput) Validate() error {
	if in.HubID == "" {
		return invalid("hub_id", "is required")
	}
	if in.UserID == "" {
		return invalid("user_id", "is required")
	}
	return nil
}

// EventInput creates an event. HubID is filled in by the caller's scope.
type EventInput struct {
	HubID       string     `json:"hub_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	StartDate   time.Time  `json:"start_date"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	AllDay      bool       `json:"all_day"`
	Color       string     `json:"color,omitempty"`
	CreatedBy   string     `json:"created_by"`
}

func (in EventInput) Validate() error {
	if in.HubID == "" {
		return invalid("hub_id", "is required")
	}
	if strings.TrimSpace(in.Title) == "" {
		return invalid("title", "is required")
	}
	if in.StartDate.IsZero() {
		return invalid("start_date", "is required")
	}
	if in.EndDate != nil && in.EndDate.Before(in.StartDate) {
		return invalid("end_date", "is before start_date")
	}
	return nil
}

// EventPatch updates the set fields of an event.
type EventPatch struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Location    *string    `json:"location,omitempty"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	AllDay      *bool      `json:"all_day,omitempty"`
	Color       *string    `json:"color,omitempty"`
}

func (p EventPatch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return invalid("title", "cannot be empty")
	}
	if p.StartDate != nil && p.EndDate != nil && p.EndDate.Before(*p.StartDate) {
		return invalid("end_date", "is before start_date")
	}
	return nil
}

// ReminderInput schedules a reminder for an event.
type ReminderInput struct {
	EventID  string    `json:"event_id"`
	HubID    string    `json:"hub_id"`
	UserID   string    `json:"user_id"`
	RemindAt time.Time `json:"remind_at"`
}

func (in ReminderInput) Validate() error {
	if in.EventID == "" {
		return invalid("event_id", "is required")
	}
	if in.RemindAt.IsZero() {
		return invalid("remind_at", "is required")
	}
	return nil
}

// TaskInput creates a task.
type TaskInput struct {
	HubID       string     `json:"hub_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	CreatedBy   string     `json:"created_by"`
}

func (in TaskInput) Validate() error {
	if in.HubID == "" {
		return invalid("hub_id", "is required")
	}
	if strings.TrimSpace(in.Title) == "" {
		return invalid("title", "is required")
	}
	if in.Priority != "" && !in.Priority.Valid() {
		return invalid("priority", fmt.Sprintf("%q is not low, medium or high", in.Priority))
	}
	return nil
}

// TaskPatch updates the set fields of a task.
type TaskPatch struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Priority    *Priority  `json:"priority,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Completed   *bool      `json:"completed,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	AssignedTo  *string    `json:"assigned_to,omitempty"`
}

func (p TaskPatch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return invalid("title", "cannot be empty")
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return invalid("priority", fmt.Sprintf("%q is not low, medium or high", *p.Priority))
	}
	return nil
}

// ShoppingListInput creates a shopping list.
type ShoppingListInput struct {
	HubID       string `json:"hub_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedBy   string `json:"created_by"`
}

func (in ShoppingListInput) Validate() error {
	if in.HubID == "" {
		return invalid("hub_id", "is required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return invalid("name", "is required")
	}
	return nil
}

// ShoppingListPatch updates the set fields of a shopping list.
type ShoppingListPatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

func (p ShoppingListPatch) Validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return invalid("name", "cannot be empty")
	}
	return nil
}

// ShoppingItemInput adds an item to a list.
type ShoppingItemInput struct {
	ListID   string `json:"list_id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Unit     string `json:"unit,omitempty"`
	Category string `json:"category,omitempty"`
	Notes    string `json:"notes,omitempty"`
	AddedBy  string `json:"added_by"`
}

func (in ShoppingItemInput) Validate() error {
	if in.ListID == "" {
		return invalid("list_id", "is required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return invalid("name", "is required")
	}
	if in.Quantity < 0 {
		return invalid("quantity", "cannot be negative")
	}
	return nil
}

// ShoppingItemPatch updates the set fields of an item.
type ShoppingItemPatch struct {
	Name        *string `json:"name,omitempty"`
	Quantity    *int    `json:"quantity,omitempty"`
	Unit        *string `json:"unit,omitempty"`
	Category    *string `json:"category,omitempty"`
	Notes       *string `json:"notes,omitempty"`
	Completed   *bool   `json:"completed,omitempty"`
	CompletedBy *string `json:"completed_by,omitempty"`
}

func (p ShoppingItemPatch) Validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return invalid("name", "cannot be empty")
	}
	if p.Quantity != nil && *p.Quantity < 0 {
		return invalid("quantity", "cannot be negative")
	}
	return nil
}

// CollaboratorInput shares a list with a user.
type CollaboratorInput struct {
	ListID string `json:"list_id"`
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

func (in CollaboratorInput) Validate() error {
	if in.ListID == "" {
		return invalid("list_id", "is required")
	}
	if in.UserID == "" {
		return invalid("user_id", "is required")
	}
	if !in.Role.Valid() {
		return invalid("role", fmt.Sprintf("%q is not owner, editor or viewer", in.Role))
	}
	return nil
}

// CollaboratorPatch changes a collaborator's role.
type CollaboratorPatch struct {
	Role Role `json:"role"`
}

func (p CollaboratorPatch) Validate() error {
	if !p.Role.Valid() {
		return invalid("role", fmt.Sprintf("%q is not owner, editor or viewer", p.Role))
	}
	return nil
}

// NotificationInput sends a notification to a user.
type NotificationInput struct {
	UserID   string           `json:"user_id"`
	HubID    string           `json:"hub_id,omitempty"`
	Type     NotificationType `json:"type"`
	Title    string           `json:"title"`
	Message  string           `json:"message,omitempty"`
	EntityID string           `json:"entity_id,omitempty"`
}

func (in NotificationInput) Validate() error {
	if in.UserID == "" {
		return invalid("user_id", "is required")
	}
	if !in.Type.Valid() {
		return invalid("type", fmt.Sprintf("%q is not a notification type", in.Type))
	}
	if strings.TrimSpace(in.Title) == "" {
		return invalid("title", "is required")
	}
	return nil
}

// NotificationPatch flips the read flag of a notification.
type NotificationPatch struct {
	Read bool `json:"read"`
}

// TaskCompletion sets the completion state of a task. CompletedAt is sent
// even when nil so that reopening a task clears it.
type TaskCompletion struct {
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at"`
}

// ItemCompletion sets the completion state of a shopping item.
type ItemCompletion struct {
	Completed   bool   `json:"completed"`
	CompletedBy string `json:"completed_by"`
}
