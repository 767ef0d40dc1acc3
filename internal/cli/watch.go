package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"kitefeed/internal/models"
	"kitefeed/internal/store"
)

func newWatchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Manage the persisted watchlist",
	}

	cmd.AddCommand(newWatchAddCmd(app))
	cmd.AddCommand(newWatchRemoveCmd(app))
	cmd.AddCommand(newWatchListCmd(app))
	cmd.AddCommand(newWatchModeCmd(app))

	return cmd
}

func requireStore(app *App) error {
	if app.Store == nil {
		return fmt.Errorf("watchlist store is not available")
	}
	return nil
}

func parseToken(arg string) (uint32, error) {
	token, err := strconv.ParseUint(arg, 10, 32)
	if err != nil || token == 0 {
		return 0, fmt.Errorf("invalid instrument token: %s", arg)
	}
	return uint32(token), nil
}

func newWatchAddCmd(app *App) *cobra.Command {
	var (
		symbol string
		mode   string
	)

	cmd := &cobra.Command{
		Use:   "add <token>...",
		Short: "Add instruments to the watchlist",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireStore(app); err != nil {
				return err
			}

			var modePtr *models.Mode
			if mode != "" {
				m := models.Mode(mode)
				if !m.Valid() {
					return fmt.Errorf("invalid mode: %s", mode)
				}
				modePtr = &m
			}

			out := NewOutput(cmd)
			for _, arg := range args {
				token, err := parseToken(arg)
				if err != nil {
					return err
				}
				item := store.WatchItem{Token: token, Symbol: symbol, Mode: modePtr}
				if err := app.Store.Add(cmd.Context(), item); err != nil {
					return err
				}
				out.Printf("added %d\n", token)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "display symbol for the instrument")
	cmd.Flags().StringVar(&mode, "mode", "", "detail level (ltp|quote|full)")

	return cmd
}

func newWatchRemoveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <token>...",
		Short: "Remove instruments from the watchlist",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireStore(app); err != nil {
				return err
			}
			out := NewOutput(cmd)
			for _, arg := range args {
				token, err := parseToken(arg)
				if err != nil {
					return err
				}
				if err := app.Store.Remove(cmd.Context(), token); err != nil {
					return err
				}
				out.Printf("removed %d\n", token)
			}
			return nil
		},
	}
}

func newWatchListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List watchlist entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireStore(app); err != nil {
				return err
			}
			items, err := app.Store.List(cmd.Context())
			if err != nil {
				return err
			}

			out := NewOutput(cmd)
			if out.jsonMode {
				out.PrintJSON(items)
				return nil
			}
			if len(items) == 0 {
				out.Printf("watchlist is empty\n")
				return nil
			}
			for _, item := range items {
				mode := "default"
				if item.Mode != nil {
					mode = item.Mode.String()
				}
				out.Printf("%-10d %-12s %s\n", item.Token, item.Symbol, mode)
			}
			return nil
		},
	}
}

func newWatchModeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "mode <ltp|quote|full> <token>...",
		Short: "Set the detail level for watchlist entries",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireStore(app); err != nil {
				return err
			}
			mode := models.Mode(args[0])
			if !mode.Valid() {
				return fmt.Errorf("invalid mode: %s", args[0])
			}

			out := NewOutput(cmd)
			for _, arg := range args[1:] {
				token, err := parseToken(arg)
				if err != nil {
					return err
				}
				if err := app.Store.SetMode(cmd.Context(), token, mode); err != nil {
					return err
				}
				out.Printf("set %d to %s\n", token, mode)
			}
			return nil
		},
	}
}
