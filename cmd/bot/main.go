package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"griduniverse/internal/bot"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		id       = flag.String("id", "", "player id (empty: server assigns; with -count > 1 used as a prefix)")
		name     = flag.String("name", "bot", "player name")
		policy   = flag.String("policy", "food_seeking", "random | food_seeking | advantage_seeking")
		count    = flag.Int("count", 1, "number of bots")
		interval = flag.Duration("interval", time.Second, "mean time between key presses")
		maxWait  = flag.Duration("max_interval", 10*time.Second, "longest time between key presses")
		seed     = flag.Int64("seed", 0, "random seed (0: time based)")
		verbose  = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	if _, err := bot.New(*policy, rand.New(rand.NewSource(1))); err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < *count; i++ {
		i := i
		rng := rand.New(rand.NewSource(*seed + int64(i)))
		pid := *id
		if pid != "" && *count > 1 {
			pid = fmt.Sprintf("%s-%d", pid, i+1)
		}
		eg.Go(func() error {
			p, _ := bot.New(*policy, rng)
			logger := log.WithFields(log.Fields{"bot": i + 1, "policy": *policy})
			c, err := bot.Dial(ctx, bot.ClientConfig{
				URL:             *url,
				PlayerID:        pid,
				Name:            *name,
				Policy:          p,
				Rand:            rng,
				Log:             logger,
				MeanKeyInterval: *interval,
				MaxKeyInterval:  *maxWait,
			})
			if err != nil {
				return err
			}
			logger.WithField("player", c.PlayerID()).Info("joined")
			return c.Run(ctx)
		})
	}
	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("bot: %v", err)
	}
}
