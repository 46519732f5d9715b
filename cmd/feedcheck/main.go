package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/park285/chess-indexer/internal/domain"
	"github.com/park285/chess-indexer/internal/feed"
)

func main() {
	baseURL := flag.String("api", os.Getenv("INDEXER_API_URL"), "indexer API base URL")
	wsURL := flag.String("ws", os.Getenv("FEED_WS_URL"), "upstream websocket feed URL (optional)")
	start := flag.Uint64("start", 0, "fallback start height when nothing has been ingested")
	watch := flag.Duration("watch", 10*time.Second, "how long to observe the feed")
	gameID := flag.String("game", "", `game id to look up, e.g. [100,"alice",null]`)
	flag.Parse()

	if strings.TrimSpace(*baseURL) == "" {
		log.Fatal("INDEXER_API_URL (or -api) is required")
	}

	client := feed.NewClient(*baseURL, feed.WithTimeout(8*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info, err := client.GetInfo(ctx)
	if err != nil {
		log.Printf("/info error: %v", err)
	} else {
		log.Printf("/info ok: lastBlockHeight=%d", info.LastBlockHeight)
		next, _ := client.NextStartHeight(ctx, *start)
		log.Printf("next start height: %d", next)
	}

	if raw := strings.TrimSpace(*gameID); raw != "" {
		checkGame(ctx, client, raw)
	}

	if strings.TrimSpace(*wsURL) == "" {
		log.Println("FEED_WS_URL not set; skipping feed check")
		return
	}

	wctx, wcancel := context.WithTimeout(context.Background(), *watch)
	defer wcancel()
	sub := feed.NewSubscriber(feed.SubscriberConfig{
		URL:                  *wsURL,
		Token:                os.Getenv("FEED_TOKEN"),
		MaxReconnectAttempts: 3,
	}, func(_ context.Context, b *domain.Batch) error {
		kinds := make([]string, 0, len(b.Events))
		for _, ev := range b.Events {
			kinds = append(kinds, string(ev.Kind()))
		}
		fmt.Printf("batch height=%d ts=%d events=%d [%s]\n", b.BlockHeight, b.Timestamp, len(b.Events), strings.Join(kinds, ","))
		return nil
	})
	sub.OnStateChange(func(s feed.State) {
		log.Printf("feed state: %s", s)
	})
	if err := sub.Run(wctx); err != nil && wctx.Err() == nil {
		log.Printf("feed error: %v", err)
	}
}

func checkGame(ctx context.Context, client *feed.Client, raw string) {
	id, err := domain.ParseGameID(raw)
	if err != nil {
		log.Printf("bad game id %q: %v", raw, err)
		return
	}
	v, err := client.GetGame(ctx, id)
	if err != nil {
		log.Printf("/games/game error: %v", err)
		return
	}
	outcome := "ongoing"
	if v.Outcome != nil {
		outcome = "finished"
	}
	log.Printf("game %s: moves=%d turn=%s %s fen=%q", id, v.Count, v.Turn, outcome, v.FEN)
}
