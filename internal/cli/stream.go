package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"kitefeed/internal/models"
	"kitefeed/internal/stream"
	"kitefeed/internal/ticker"
)

func newStreamCmd(app *App) *cobra.Command {
	var (
		tokens []int64
		mode   string
		raw    bool
	)

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Connect to the feed and stream ticks",
		Long: `Connect to the quote server and print decoded ticks. Instruments
come from the persisted watchlist plus any --token flags. The
connection reconnects automatically with exponential backoff.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd, app, tokens, mode, raw)
		},
	}

	cmd.Flags().Int64SliceVar(&tokens, "token", nil, "instrument token to subscribe (repeatable)")
	cmd.Flags().StringVar(&mode, "mode", "", "detail level for --token instruments (ltp|quote|full)")
	cmd.Flags().BoolVar(&raw, "raw", false, "log raw frame sizes")

	return cmd
}

func runStream(cmd *cobra.Command, app *App, extraTokens []int64, modeFlag string, raw bool) error {
	out := NewOutput(cmd)
	logger := app.Logger

	t, handle, err := ticker.New(app.Config.TickerConfig(), logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- t.Serve(ctx)
	}()

	// Independent streams: one feeds the hub, one drives CLI output.
	hubEvents := handle.SubscribeEvents()
	events := handle.SubscribeEvents()

	hub := stream.NewHub()
	go hub.Run(ctx, hubEvents)
	ticks := hub.SubscribeAll()

	if err := subscribeInstruments(ctx, app, handle, extraTokens, modeFlag); err != nil {
		stop()
		<-serveErr
		return err
	}

	for {
		select {
		case <-ctx.Done():
			err := <-serveErr
			if err == context.Canceled {
				return nil
			}
			return err

		case err := <-serveErr:
			return err

		case tick, ok := <-ticks:
			if !ok {
				continue
			}
			out.PrintTick(tick)

		case ev, ok := <-events.Events():
			if !ok {
				continue
			}
			switch ev.Type {
			case ticker.EventConnect:
				out.Dim("connected")
			case ticker.EventReconnect:
				out.Dim("reconnecting: attempt %d in %s", ev.Attempt, ev.Delay)
			case ticker.EventNoReconnect:
				out.Dim("giving up after %d attempts", ev.Attempt)
			case ticker.EventClose:
				out.Dim("closed by server: %d %s", ev.Code, ev.Reason)
			case ticker.EventError:
				out.Dim("error: %s", ev.Err)
			case ticker.EventOrderUpdate:
				if ev.Order != nil {
					out.PrintOrder(*ev.Order)
				}
			case ticker.EventMessage:
				if raw {
					logger.Debug().Int("bytes", len(ev.Raw)).Msg("frame")
				}
			}
		}
	}
}

// subscribeInstruments seeds subscriptions from the watchlist and any
// command-line tokens. Commands queue until the connection is up.
func subscribeInstruments(ctx context.Context, app *App, handle ticker.Handle, extraTokens []int64, modeFlag string) error {
	var plain []uint32
	byMode := make(map[models.Mode][]uint32)

	if app.Store != nil {
		items, err := app.Store.List(ctx)
		if err != nil {
			return err
		}
		for _, item := range items {
			if item.Mode != nil {
				byMode[*item.Mode] = append(byMode[*item.Mode], item.Token)
			} else {
				plain = append(plain, item.Token)
			}
		}
	}

	for _, token := range extraTokens {
		if token <= 0 {
			return fmt.Errorf("invalid instrument token: %d", token)
		}
		if modeFlag != "" {
			m := models.Mode(modeFlag)
			if !m.Valid() {
				return fmt.Errorf("invalid mode: %s", modeFlag)
			}
			byMode[m] = append(byMode[m], uint32(token))
		} else {
			plain = append(plain, uint32(token))
		}
	}

	all := append([]uint32(nil), plain...)
	for _, group := range byMode {
		all = append(all, group...)
	}
	if len(all) == 0 {
		return fmt.Errorf("nothing to subscribe: watchlist is empty and no --token given")
	}

	if err := handle.Subscribe(all); err != nil {
		return err
	}
	for m, group := range byMode {
		if err := handle.SetMode(m, group); err != nil {
			return err
		}
	}
	return nil
}
