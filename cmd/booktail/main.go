// booktail replicates one product's level 3 book and prints the spread and
// top levels whenever the top of book changes.
// Usage: go run ./cmd/booktail --product BTC-USD --levels 5
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/l3book/internal/api"
	"github.com/rickgao/l3book/internal/config"
	"github.com/rickgao/l3book/internal/connection"
	"github.com/rickgao/l3book/internal/model"
	"github.com/rickgao/l3book/internal/replica"
	"github.com/rickgao/l3book/internal/router"
)

func main() {
	productID := flag.String("product", "BTC-USD", "product id to replicate")
	restURL := flag.String("rest-url", config.DefaultRestURL, "exchange REST base URL")
	wsURL := flag.String("ws-url", config.DefaultWSURL, "exchange WebSocket feed URL")
	levels := flag.Int("levels", 5, "price levels to print per side")
	trades := flag.Bool("trades", false, "print matches as they are applied")
	verbose := flag.Bool("verbose", false, "print quotes as JSON and log at debug level")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	apiClient := api.NewClient(*restURL,
		api.WithLogger(logger),
		api.WithTimeout(config.DefaultAPITimeout),
		api.WithRetries(config.DefaultMaxRetries, time.Second),
	)

	connCfg := connection.DefaultManagerConfig()
	connCfg.WSURL = *wsURL
	connCfg.ProductIDs = []string{*productID}
	connCfg.MessageBufferSize = 10000
	connMgr := connection.NewManager(connCfg, logger)

	routerCfg := router.DefaultRouterConfig()
	if *trades {
		routerCfg.MatchBufferLimit = 10000
	}
	rtr := router.NewRouter(routerCfg, connCfg.ProductIDs, connMgr.Messages(), logger)
	events, _ := rtr.Events(*productID)

	quotes := make(chan model.Quote, 1000)
	rep := replica.New(replica.Config{
		ProductID: *productID,
		Quotes:    quotes,
	}, apiClient, events, logger)

	if err := rep.Start(ctx); err != nil {
		logger.Error("failed to start replica", "error", err)
		os.Exit(1)
	}
	if err := rtr.Start(ctx); err != nil {
		logger.Error("failed to start router", "error", err)
		os.Exit(1)
	}
	logger.Info("starting connection manager", "product", *productID, "url", *wsURL)
	if err := connMgr.Start(ctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}

	go printQuotes(ctx, rep, quotes, *levels, *verbose)
	if buf := rtr.Matches(); buf != nil {
		go printMatches(buf)
	}

	// Reconnects lose events, so resync instead of waiting for a gap.
	go func() {
		for st := range connMgr.Status() {
			if st.Kind == connection.StatusConnected && st.Session > 1 {
				rep.Resync("reconnect")
			}
		}
	}()

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h := rep.Health()
				routerStats := rtr.Stats()
				connStats := connMgr.Stats()
				logger.Info("stats",
					"state", h.State,
					"sequence", h.Sequence,
					"applied", h.Applied,
					"resyncs", h.Resyncs,
					"conn_connected", connStats.Connected,
					"conn_reconnects", connStats.Reconnects,
					"router_routed", routerStats.MessagesRouted,
					"router_dropped", routerStats.Dropped,
					"parse_errors", routerStats.ParseErrors,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	connMgr.Stop(shutdownCtx)
	rtr.Stop(shutdownCtx)
	rep.Stop(shutdownCtx)

	logger.Info("shutdown complete", "sequence", rep.Sequence())
}

func printQuotes(ctx context.Context, rep *replica.Replica, quotes <-chan model.Quote, levels int, verbose bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-quotes:
			if verbose {
				data, _ := json.Marshal(q)
				fmt.Printf("[QUOTE] %s\n", data)
				continue
			}
			fmt.Print(render(q, rep.Levels(levels)))
		}
	}
}

func printMatches(buf *router.GrowableBuffer[router.MatchMsg]) {
	for {
		msg, ok := buf.Receive()
		if !ok {
			return
		}
		fmt.Printf("[MATCH] seq=%d trade=%d side=%s price=%s size=%s\n",
			msg.Sequence, msg.TradeID, msg.Side, msg.Price, msg.Size)
	}
}

// render formats the spread line followed by the top levels, asks above
// bids.
func render(q model.Quote, view replica.LevelsView) string {
	var b strings.Builder

	spread := "-"
	if q.HasBid && q.HasAsk {
		spread = q.AskPrice.Sub(q.BidPrice).String()
	}
	fmt.Fprintf(&b, "\n%s seq=%d state=%s spread=%s\n", q.ProductID, q.Sequence, view.State, spread)

	asks := view.Asks
	for i := len(asks) - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "  ask %14s %16s (%d)\n", asks[i].Price, asks[i].Size, asks[i].Orders)
	}
	for _, l := range view.Bids {
		fmt.Fprintf(&b, "  bid %14s %16s (%d)\n", l.Price, l.Size, l.Orders)
	}
	return b.String()
}
