package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"
	"time"

	"alats/internal/state"
	"alats/pkg/conn"
	"alats/pkg/exception"

	"github.com/yanun0323/errors"
)

func main() {
	dir := flag.String("dir", "data/checkpoints", "Checkpoint directory")
	dsn := flag.String("pg-dsn", "", "Read checkpoints from postgres instead of -dir")
	limit := flag.Int("limit", 10, "Max checkpoints to list, newest first (0=all)")
	decode := flag.Bool("decode", false, "Print positions and open orders")
	flag.Parse()

	store, err := open(*dir, *dsn)
	if err != nil {
		log.Fatalf("open store failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	var (
		below uint64
		index int
	)
	for *limit == 0 || index < *limit {
		seq, payload, err := store.LoadLatestCheckpoint(ctx, below)
		if errors.Is(err, exception.ErrNoCheckpoint) {
			break
		}
		if err != nil && seq == 0 {
			log.Fatalf("load failed: %v", err)
		}
		index++
		below = seq

		if err != nil {
			fmt.Printf("%06d seq=%d UNREADABLE err=%v\n", index, seq, err)
			continue
		}
		cp, err := state.Decode(payload)
		switch {
		case err != nil:
			fmt.Printf("%06d seq=%d CORRUPT len=%d err=%v\n", index, seq, len(payload), err)
			continue
		case cp.Seq != seq:
			fmt.Printf("%06d seq=%d CORRUPT body seq=%d\n", index, seq, cp.Seq)
			continue
		}
		fmt.Printf("%06d seq=%d ok created=%s reason=%s equity=%s daily=%s cooldown=%s positions=%d orders=%d len=%d\n",
			index, seq, cp.CreatedAt.Format(time.RFC3339Nano), cp.Reason, cp.Risk.Equity, cp.Risk.DailyRealizedPnL,
			cooldown(cp.Risk.CooldownUntil), len(cp.Risk.Positions), len(cp.Orders), len(payload))
		if *decode {
			printDetail(cp)
		}
		if seq <= 1 {
			break
		}
	}
	if index == 0 {
		fmt.Println("no checkpoints")
	}
}

func open(dir, dsn string) (state.Store, error) {
	if dsn == "" {
		store, err := state.NewFileStore(dir, 0)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	opt := conn.Option{ConnString: dsn}
	client, err := conn.New(opt)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres").With("target", opt.Redacted())
	}
	store, err := state.NewPGStore(client, 0)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return store, nil
}

func cooldown(until time.Time) string {
	if until.IsZero() {
		return "-"
	}
	return until.Format(time.RFC3339)
}

func printDetail(cp state.Checkpoint) {
	assets := make([]string, 0, len(cp.Risk.Positions))
	for a := range cp.Risk.Positions {
		assets = append(assets, a)
	}
	sort.Strings(assets)
	for _, a := range assets {
		p := cp.Risk.Positions[a]
		fmt.Printf("  pos %s qty=%s avg=%s realized=%s\n", a, p.Qty, p.AvgPrice, p.RealizedPnL)
	}
	for _, o := range cp.Orders {
		fmt.Printf("  order %s %s %s %s %s qty=%s price=%s filled=%s status=%s sibling=%s\n",
			o.ID, o.Asset, o.Role, o.Side, o.Kind, o.Qty, o.Price, o.FilledQty, o.Status, o.SiblingID)
	}
}
