package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"alats/internal/chaos"
	"alats/internal/exchange/sim"
	"alats/internal/model"
	"alats/internal/model/enum"
	"alats/internal/obs"
	"alats/internal/og"

	"github.com/shopspring/decimal"
)

// A fault drill: submits orders through the coordinator against the
// simulated exchange with fault injection and checks that every order ends
// in a terminal state exactly once on the exchange side.
func main() {
	seed := flag.Int64("seed", 0, "RNG seed (0=now)")
	orders := flag.Int("orders", 200, "Number of entry orders to submit")
	workers := flag.Int("workers", 8, "Concurrent submitters")
	errorRate := flag.Float64("error-rate", 0.2, "Transient error probability [0-1]")
	lostAckRate := flag.Float64("lost-ack-rate", 0.1, "Lost acknowledgement probability [0-1]")
	maxDelay := flag.Duration("max-delay", 5*time.Millisecond, "Max injected latency")
	maxRetries := flag.Int("max-retries", 5, "Submission attempts per order")
	partial := flag.Bool("partial-fills", false, "Fill market orders in two steps")
	flag.Parse()

	ex, err := sim.New(sim.Config{
		Seed:         *seed,
		Volatility:   0.001,
		PartialFills: *partial,
		Prices:       map[string]float64{"BTC": 60_000},
		Chaos: chaos.Config{
			Seed:        *seed,
			ErrorRate:   *errorRate,
			LostAckRate: *lostAckRate,
			MaxDelay:    *maxDelay,
		},
	})
	if err != nil {
		log.Fatalf("sim init failed: %v", err)
	}

	asset := model.Asset{
		Symbol:       "BTC",
		TickSize:     decimal.RequireFromString("0.01"),
		MinOrderSize: decimal.RequireFromString("0.0001"),
	}
	metrics := obs.NewMetrics()
	var (
		mu    sync.Mutex
		fills int
	)
	coord := og.NewCoordinator(og.Config{
		MaxRetries:  *maxRetries,
		Backoff:     og.Backoff{Min: time.Millisecond, Max: 20 * time.Millisecond, Factor: 2, Jitter: 0.2},
		CallTimeout: time.Second,
		RateLimit:   int64(*workers),
		// no brackets: the drill only follows entries
		StopLossPct:   decimal.Zero,
		TakeProfitPct: decimal.Zero,
	}, ex, []model.Asset{asset},
		og.WithMetrics(metrics),
		og.WithFillHandler(func(_ context.Context, _ model.Fill) {
			mu.Lock()
			fills++
			mu.Unlock()
		}),
	)
	defer coord.Close()

	ctx := context.Background()
	start := time.Now()
	jobs := make(chan int)
	var wg sync.WaitGroup
	ids := make([]string, *orders)
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				side := enum.SideBuy
				if i%2 == 1 {
					side = enum.SideSell
				}
				o, err := coord.Submit(ctx, model.OrderRequest{Asset: "BTC", Side: side, Kind: enum.OrderKindMarket, Qty: decimal.RequireFromString("0.01")})
				ids[i] = o.ID
				if err != nil {
					fmt.Printf("submit %d: %v\n", i, err)
				}
			}
		}()
	}
	for i := 0; i < *orders; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for round := 0; round < 50 && len(coord.OpenOrders()) > 0; round++ {
		if err := coord.Sync(ctx, "BTC"); err != nil {
			fmt.Printf("sync round %d: %v\n", round, err)
		}
	}

	statuses := map[string]int{}
	onExchange := 0
	for _, id := range ids {
		if id == "" {
			continue
		}
		if o, ok := coord.StateMachine().Order(id); ok {
			statuses[o.Status.String()]++
		}
		if _, ok := ex.Lookup(id); ok {
			onExchange++
		}
	}

	snap := metrics.Snapshot()
	fmt.Printf("orders=%d elapsed=%s retries=%d fills=%d accepted=%d known=%d open=%d\n",
		*orders, time.Since(start).Round(time.Millisecond), snap.Retries, fills, ex.Accepted(), onExchange, len(coord.OpenOrders()))
	keys := make([]string, 0, len(statuses))
	for k := range statuses {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-16s %d\n", k, statuses[k])
	}
	if ex.Accepted() != onExchange {
		log.Fatalf("duplicate submissions: accepted %d orders for %d ids", ex.Accepted(), onExchange)
	}
}
