package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-alpaca/pkg/alpaca"
	"github.com/rxtech-lab/argo-alpaca/pkg/utils"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

func clockCommand() *cli.Command {
	return &cli.Command{
		Name:  "clock",
		Usage: "Print the market clock",
		Action: withSession(func(ctx context.Context, cmd *cli.Command, s *session) error {
			clock, err := s.client.Clock(ctx)
			if err != nil {
				return err
			}

			return printJSON(cmd, clock)
		}),
	}
}

func accountCommand() *cli.Command {
	return &cli.Command{
		Name:  "account",
		Usage: "Print the account summary",
		Action: withSession(func(ctx context.Context, cmd *cli.Command, s *session) error {
			account, err := s.client.Account(ctx)
			if err != nil {
				return err
			}

			return printJSON(cmd, account)
		}),
	}
}

func positionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "positions",
		Usage: "List open positions, or close one with --close",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "close",
				Usage: "Symbol of the position to close",
			},
		},
		Action: withSession(func(ctx context.Context, cmd *cli.Command, s *session) error {
			if symbol := cmd.String("close"); symbol != "" {
				order, err := s.client.Positions.Close(ctx, symbol)
				if err != nil {
					return err
				}

				return printJSON(cmd, order)
			}

			positions, err := s.client.Positions.List(ctx)
			if err != nil {
				return err
			}

			return printJSON(cmd, positions)
		}),
	}
}

func ordersCommand() *cli.Command {
	return &cli.Command{
		Name:  "orders",
		Usage: "List, place and cancel orders",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "status",
				Usage: "Order status filter: open, closed or all",
				Value: "open",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of orders to list",
			},
			&cli.StringSliceFlag{
				Name:  "symbols",
				Usage: "Only list orders in these symbols",
			},
		},
		Action: withSession(func(ctx context.Context, cmd *cli.Command, s *session) error {
			orders, err := s.client.Orders.List(ctx, alpaca.ListOrdersParams{
				Status:  cmd.String("status"),
				Limit:   int(cmd.Int("limit")),
				Symbols: cmd.StringSlice("symbols"),
			})
			if err != nil {
				return err
			}

			return printJSON(cmd, orders)
		}),
		Commands: []*cli.Command{
			placeOrderCommand(),
			{
				Name:  "cancel-all",
				Usage: "Cancel every open order",
				Action: withSession(func(ctx context.Context, cmd *cli.Command, s *session) error {
					statuses, err := s.client.Orders.CancelAll(ctx)
					if err != nil {
						return err
					}

					return printJSON(cmd, statuses)
				}),
			},
		},
	}
}

func placeOrderCommand() *cli.Command {
	return &cli.Command{
		Name:  "place",
		Usage: "Submit a new order",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "symbol", Required: true, Usage: "Asset symbol"},
			&cli.StringFlag{Name: "side", Value: string(alpaca.SideBuy), Usage: "buy or sell"},
			&cli.StringFlag{Name: "type", Value: string(alpaca.OrderTypeMarket), Usage: "market, limit, stop, stop_limit or trailing_stop"},
			&cli.StringFlag{Name: "time-in-force", Value: string(alpaca.TimeInForceDay), Usage: "day, gtc, opg, cls, ioc or fok"},
			&cli.StringFlag{Name: "qty", Usage: "Number of shares"},
			&cli.StringFlag{Name: "notional", Usage: "Dollar amount, instead of --qty"},
			&cli.StringFlag{Name: "limit-price", Usage: "Limit price"},
			&cli.StringFlag{Name: "stop-price", Usage: "Stop price"},
		},
		Action: withSession(func(ctx context.Context, cmd *cli.Command, s *session) error {
			req := alpaca.OrderRequest{
				Symbol:      strings.ToUpper(cmd.String("symbol")),
				Side:        alpaca.Side(cmd.String("side")),
				Type:        alpaca.OrderType(cmd.String("type")),
				TimeInForce: alpaca.TimeInForce(cmd.String("time-in-force")),
			}

			fields := []struct {
				flag string
				dst  *optional.Option[decimal.Decimal]
			}{
				{flag: "qty", dst: &req.Qty},
				{flag: "notional", dst: &req.Notional},
				{flag: "limit-price", dst: &req.LimitPrice},
				{flag: "stop-price", dst: &req.StopPrice},
			}

			for _, field := range fields {
				raw := cmd.String(field.flag)
				if raw == "" {
					continue
				}

				value, err := decimal.NewFromString(raw)
				if err != nil {
					return fmt.Errorf("invalid --%s %q: %w", field.flag, raw, err)
				}

				*field.dst = optional.Some(value)
			}

			order, err := s.client.PlaceOrder(ctx, req)
			if err != nil {
				return err
			}

			return printJSON(cmd, order)
		}),
	}
}

func barsCommand() *cli.Command {
	return &cli.Command{
		Name:  "bars",
		Usage: "Print recent bars",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "timeframe", Value: "1D", Usage: "minute, 1Min, 5Min, 15Min, day or 1D"},
			&cli.StringSliceFlag{Name: "symbols", Required: true, Usage: "Symbols to fetch"},
			&cli.IntFlag{Name: "limit", Value: 10, Usage: "Bars per symbol"},
		},
		Action: withSession(func(ctx context.Context, cmd *cli.Command, s *session) error {
			bars, err := s.client.Bars(ctx, alpaca.BarsParams{
				Timeframe: cmd.String("timeframe"),
				Symbols:   cmd.StringSlice("symbols"),
				Limit:     int(cmd.Int("limit")),
			})
			if err != nil {
				return err
			}

			return printJSON(cmd, bars)
		}),
	}
}

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:  "stream",
		Usage: "Print stream events until interrupted",
		Commands: []*cli.Command{
			{
				Name:  "market",
				Usage: "Stream trades, quotes and minute bars",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "trades", Usage: "Symbols to stream trades for"},
					&cli.StringSliceFlag{Name: "quotes", Usage: "Symbols to stream quotes for"},
					&cli.StringSliceFlag{Name: "bars", Usage: "Symbols to stream minute bars for"},
				},
				Action: withSession(func(ctx context.Context, cmd *cli.Command, s *session) error {
					stream := s.client.MarketStream

					if err := stream.SubscribeTrades(cmd.StringSlice("trades")...); err != nil {
						return err
					}

					if err := stream.SubscribeQuotes(cmd.StringSlice("quotes")...); err != nil {
						return err
					}

					if err := stream.SubscribeMinuteBars(cmd.StringSlice("bars")...); err != nil {
						return err
					}

					return follow(ctx, cmd, s, stream.Session, alpaca.EventTrade, alpaca.EventQuote, alpaca.EventMinuteBar)
				}),
			},
			{
				Name:  "account",
				Usage: "Stream order and account updates",
				Action: withSession(func(ctx context.Context, cmd *cli.Command, s *session) error {
					stream := s.client.AccountStream

					if err := stream.SubscribeTradeUpdates(); err != nil {
						return err
					}

					if err := stream.SubscribeAccountUpdates(); err != nil {
						return err
					}

					return follow(ctx, cmd, s, stream.Session, alpaca.EventTradeUpdates, alpaca.EventAccountUpdates)
				}),
			},
		},
	}
}

type printedEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// follow connects stream and prints the named events until ctx ends or the
// stream closes.
func follow(ctx context.Context, cmd *cli.Command, s *session, stream *alpaca.Session, names ...string) error {
	events := make(chan alpaca.Event)
	done := make(chan struct{})
	closed := stream.Listen(alpaca.EventClose)
	errs := stream.Listen(alpaca.EventError)

	defer close(done)

	for _, name := range names {
		go func(ch <-chan alpaca.Event) {
			for event := range ch {
				select {
				case events <- event:
				case <-done:
					return
				}
			}
		}(stream.Listen(name))
	}

	if err := stream.Connect(ctx); err != nil {
		return err
	}

	s.logger.Info("Streaming", zap.String("url", stream.URL()), zap.Strings("channels", stream.Subscriptions()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-closed:
			return nil
		case event, ok := <-errs:
			if !ok {
				errs = nil

				continue
			}

			s.logger.Warn("Stream error", zap.Error(event.Err))
		case event := <-events:
			if err := printJSON(cmd, printedEvent{Event: event.Name, Data: event.Data}); err != nil {
				return err
			}
		}
	}
}

func schemaCommand() *cli.Command {
	return &cli.Command{
		Name:  "schema",
		Usage: "Print the JSON schema of the configuration file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write the schema to this file instead of stdout",
			},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			schema, err := utils.GetSchemaFromConfig(alpaca.Config{})
			if err != nil {
				return fmt.Errorf("failed to generate schema: %w", err)
			}

			output := cmd.String("output")
			if output == "" {
				_, err = fmt.Fprintln(cmd.Root().Writer, schema)

				return err
			}

			if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}

			return os.WriteFile(output, []byte(schema), 0o644)
		},
	}
}

func environmentsCommand() *cli.Command {
	return &cli.Command{
		Name:  "environments",
		Usage: "List the supported trading environments and their hosts",
		Action: func(_ context.Context, cmd *cli.Command) error {
			names := alpaca.GetSupportedEnvironments()
			infos := make([]alpaca.EnvironmentInfo, 0, len(names))

			for _, name := range names {
				info, err := alpaca.GetEnvironmentInfo(name)
				if err != nil {
					return err
				}

				infos = append(infos, info)
			}

			return printJSON(cmd, infos)
		},
	}
}
