package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"hubcache/backend"
	"hubcache/internal/store"
	"hubcache/internal/utils"
)

func newShopCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	shopCmd := &cobra.Command{
		Use:   "shop",
		Short: "Manage shopping lists",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	shopCmd.AddCommand(newShopListsCmd(stdout, stderr, cfg))
	shopCmd.AddCommand(newShopAddListCmd(stdout, stderr, cfg))
	shopCmd.AddCommand(newShopRemoveListCmd(stdout, stderr, cfg))
	shopCmd.AddCommand(newShopItemsCmd(stdout, stderr, cfg))
	shopCmd.AddCommand(newShopAddCmd(stdout, stderr, cfg))
	shopCmd.AddCommand(newShopCheckCmd(stdout, stderr, cfg))
	shopCmd.AddCommand(newShopClearCmd(stdout, stderr, cfg))
	shopCmd.AddCommand(newShopShareCmd(stdout, stderr, cfg))
	return shopCmd
}

// resolveList fetches the hub's lists and picks one by id or name. With
// withItems the list's items and collaborators are fetched too.
func resolveList(ctx context.Context, a *app, arg string, withItems bool) (backend.ShoppingList, error) {
	hubID, err := a.hub()
	if err != nil {
		return backend.ShoppingList{}, err
	}
	shop := a.sess.Shopping
	if err := shop.FetchLists(ctx, hubID); err != nil {
		return backend.ShoppingList{}, err
	}
	l, err := pick(a, shop.Lists(hubID), listLabel, arg, "shopping list")
	if err != nil || !withItems {
		return l, err
	}
	if err := shop.FetchItems(ctx, l.ID); err != nil {
		return l, err
	}
	if err := shop.FetchCollaborators(ctx, l.ID); err != nil {
		return l, err
	}
	// Counts were recomputed from the fetched items.
	l, _ = shop.List(l.ID)
	return l, nil
}

func listLabel(l backend.ShoppingList) string { return l.Name }

func itemLabel(it backend.ShoppingItem) string { return it.Name }

func newShopListsCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "lists",
		Short: "List shopping lists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, stdout, stderr, cfg, func(ctx context.Context, a *app) error {
				hubID, err := a.hub()
				if err != nil {
					return err
				}
				if err := a.sess.Shopping.FetchLists(ctx, hubID); err != nil {
					return err
				}
				lists := a.sess.Shopping.Lists(hubID)
				return a.respond(ResultInfoOnly, map[string]any{"lists": nonNil(lists), "count": len(lists)}, func(w io.Writer) {
					if len(lists) == 0 {
						_, _ = fmt.Fprintln(w, "No shopping lists")
						return
					}
					for _, l := range lists {
						_, _ = fmt.Fprintf(w, "%s  %s (%d/%d)\n", l.ID, l.Name, l.CompletedCount, l.ItemCount)
					}
				})
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func newShopAddListCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	addCmd := &cobra.Command{
		Use:   "add-list <name>",
		Short: "Create a shopping list; you become its owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			description, _ := cmd.Flags().GetString("description")
			return run(cmd, stdout, stderr, cfg, func(ctx context.Context, a *app) error {
				hubID, err := a.hub()
				if err != nil {
					return err
				}
				l, err := a.sess.Shopping.CreateList(ctx, hubID, backend.ShoppingListInput{
					Name:        args[0],
					Description: description,
					CreatedBy:   a.sess.UserID,
				})
				if err != nil {
					return err
				}
				return a.respond(ResultActionCompleted, map[string]any{"action": "add", "list": l}, func(w io.Writer) {
					_, _ = fmt.Fprintf(w, "Created list: %s\n", l.Name)
				})
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addCmd.Flags().String("description", "", "Description")
	return addCmd
}

func newShopRemoveListCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "rm-list <list>",
		Short: "Delete a shopping list with its items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, stdout, stderr, cfg, func(ctx context.Context, a *app) error {
				l, err := resolveList(ctx, a, args[0], true)
				if err != nil {
					return err
				}
				if !a.sess.Shopping.CanManage(l.ID, a.sess.UserID) {
					return notAllowed("delete", l.Name)
				}
				if err := a.sess.Shopping.DeleteList(ctx, l.ID); err != nil {
					return err
				}
				return a.respond(ResultActionCompleted, map[string]any{"action": "delete", "list": l}, func(w io.Writer) {
					_, _ = fmt.Fprintf(w, "Deleted list: %s\n", l.Name)
				})
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func notAllowed(action, list string) error {
	return utils.WrapWithSuggestion(
		fmt.Errorf("you cannot %s on %s", action, list),
		"Ask the list owner to change your role",
	)
}

func newShopItemsCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	itemsCmd := &cobra.Command{
		Use:   "items <list>",
		Short: "Show a list's items grouped by category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			open, _ := cmd.Flags().GetBool("open")
			category, _ := cmd.Flags().GetString("category")
			search, _ := cmd.Flags().GetString("search")
			return run(cmd, stdout, stderr, cfg, func(ctx context.Context, a *app) error {
				l, err := resolveList(ctx, a, args[0], true)
				if err != nil {
					return err
				}
				shop := a.sess.Shopping
				var f store.ItemFilters
				if open {
					f.Completed = ptr(false)
				}
				if category != "" {
					f.Category = &category
				}
				if search != "" {
					f.Search = &search
				}
				shop.SetFilters(f)

				items := shop.FilteredItems(l.ID)
				groups := shop.ItemsByCategory(l.ID)
				stats := shop.ListStats(l.ID)
				return a.respond(ResultInfoOnly, map[string]any{
					"list":          l,
					"items":         nonNil(items),
					"stats":         stats,
					"collaborators": nonNil(shop.Collaborators(l.ID)),
				}, func(w io.Writer) {
					_, _ = fmt.Fprintf(w, "%s  %d/%d done (%d%%)\n", l.Name, stats.Completed, stats.Total, stats.Percent)
					for _, g := range groups {
						_, _ = fmt.Fprintf(w, "\n%s\n", g.Key)
						for _, it := range g.Items {
							_, _ = fmt.Fprintf(w, "  %s %s%s\n", checkbox(it.Completed), it.Name, quantity(it))
						}
					}
				})
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	itemsCmd.Flags().Bool("open", false, "Only items still to buy")
	itemsCmd.Flags().String("category", "", "Only this category")
	itemsCmd.Flags().String("search", "", "Filter by name or notes")
	return itemsCmd
}

func quantity(it backend.ShoppingItem) string {
	if it.Quantity <= 1 && it.Unit == "" {
		return ""
	}
	return strings.TrimRight(fmt.Sprintf(" x%d %s", it.Quantity, it.Unit), " ")
}

func newShopAddCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	addCmd := &cobra.Command{
		Use:   "add <list> <item>",
		Short: "Add an item to a list",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, _ := cmd.Flags().GetInt("qty")
			unit, _ := cmd.Flags().GetString("unit")
			category, _ := cmd.Flags().GetString("category")
			notes, _ := cmd.Flags().GetString("notes")
			return run(cmd, stdout, stderr, cfg, func(ctx context.Context, a *app) error {
				l, err := resolveList(ctx, a, args[0], true)
				if err != nil {
					return err
				}
				if !a.sess.Shopping.CanEdit(l.ID, a.sess.UserID) {
					return notAllowed("add items", l.Name)
				}
				it, err := a.sess.Shopping.AddItem(ctx, l.ID, backend.ShoppingItemInput{
					Name:     args[1],
					Quantity: qty,
					Unit:     unit,
					Category: category,
					Notes:    notes,
					AddedBy:  a.sess.UserID,
				})
				if err != nil {
					return err
				}
				return a.respond(ResultActionCompleted, map[string]any{"action": "add", "item": it}, func(w io.Writer) {
					_, _ = fmt.Fprintf(w, "Added %s to %s\n", it.Name, l.Name)
				})
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addCmd.Flags().Int("qty", 0, "Quantity (default 1)")
	addCmd.Flags().String("unit", "", "Unit, e.g. kg")
	addCmd.Flags().String("category", "", "Category, e.g. Dairy")
	addCmd.Flags().String("notes", "", "Notes")
	return addCmd
}

func newShopCheckCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "check <list> <item>",
		Short: "Tick an item off, or back on",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, stdout, stderr, cfg, func(ctx context.Context, a *app) error {
				l, err := resolveList(ctx, a, args[0], true)
				if err != nil {
					return err
				}
				it, err := pick(a, a.sess.Shopping.Items(l.ID), itemLabel, args[1], "item")
				if err != nil {
					return err
				}
				it2, err := a.sess.Shopping.ToggleItemComplete(ctx, it.ID, a.sess.UserID)
				if err != nil {
					return err
				}
				updated, _ := a.sess.Shopping.List(l.ID)
				return a.respond(ResultActionCompleted, map[string]any{"action": "toggle", "item": it2, "list": updated}, func(w io.Writer) {
					_, _ = fmt.Fprintf(w, "%s %s (%d/%d done)\n", checkbox(it2.Completed), it2.Name, updated.CompletedCount, updated.ItemCount)
				})
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func newShopClearCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <list>",
		Short: "Remove every ticked-off item from a list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, stdout, stderr, cfg, func(ctx context.Context, a *app) error {
				l, err := resolveList(ctx, a, args[0], true)
				if err != nil {
					return err
				}
				if !a.sess.Shopping.CanEdit(l.ID, a.sess.UserID) {
					return notAllowed("clear items", l.Name)
				}
				n, err := a.sess.Shopping.ClearCompleted(ctx, l.ID)
				if err != nil {
					return err
				}
				return a.respond(ResultActionCompleted, map[string]any{"action": "clear", "removed": n}, func(w io.Writer) {
					_, _ = fmt.Fprintf(w, "Removed %d item(s) from %s\n", n, l.Name)
				})
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func newShopShareCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	shareCmd := &cobra.Command{
		Use:   "share <list> <user-id>",
		Short: "Share a list with a user, or change their role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			roleStr, _ := cmd.Flags().GetString("role")
			remove, _ := cmd.Flags().GetBool("remove")
			return run(cmd, stdout, stderr, cfg, func(ctx context.Context, a *app) error {
				l, err := resolveList(ctx, a, args[0], true)
				if err != nil {
					return err
				}
				shop := a.sess.Shopping
				if !shop.CanManage(l.ID, a.sess.UserID) {
					return notAllowed("share", l.Name)
				}
				userID, role := args[1], backend.Role(roleStr)

				var existing *backend.Collaborator
				for _, c := range shop.Collaborators(l.ID) {
					if c.UserID == userID {
						existing = &c
						break
					}
				}

				switch {
				case remove && existing == nil:
					return utils.ErrEntityNotFound("collaborator", userID)
				case remove:
					if err := shop.RemoveCollaborator(ctx, existing.ID); err != nil {
						return err
					}
					return a.respond(ResultActionCompleted, map[string]any{"action": "unshare", "user_id": userID}, func(w io.Writer) {
						_, _ = fmt.Fprintf(w, "Stopped sharing %s with %s\n", l.Name, userID)
					})
				case existing != nil:
					if existing.Role == backend.RoleOwner && role != backend.RoleOwner && countOwners(shop, l.ID) == 1 {
						return errors.New("a list needs at least one owner")
					}
					c, err := shop.UpdateCollaboratorRole(ctx, existing.ID, role)
					if err != nil {
						return err
					}
					return a.respond(ResultActionCompleted, map[string]any{"action": "update", "collaborator": c}, func(w io.Writer) {
						_, _ = fmt.Fprintf(w, "%s is now %s on %s\n", userID, c.Role, l.Name)
					})
				default:
					c, err := shop.AddCollaborator(ctx, l.ID, backend.CollaboratorInput{UserID: userID, Role: role})
					if err != nil {
						return err
					}
					return a.respond(ResultActionCompleted, map[string]any{"action": "share", "collaborator": c}, func(w io.Writer) {
						_, _ = fmt.Fprintf(w, "Shared %s with %s as %s\n", l.Name, userID, c.Role)
					})
				}
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	shareCmd.Flags().String("role", string(backend.RoleEditor), "Role: owner, editor or viewer")
	shareCmd.Flags().Bool("remove", false, "Stop sharing with the user")
	return shareCmd
}

func countOwners(shop *store.ShoppingStore, listID string) int {
	n := 0
	for _, c := range shop.Collaborators(listID) {
		if c.Role == backend.RoleOwner {
			n++
		}
	}
	return n
}
