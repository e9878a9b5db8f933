package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/ohowland/gridplan/internal/pkg/config"
	"github.com/ohowland/gridplan/internal/pkg/database/mongodb"
	"github.com/ohowland/gridplan/internal/pkg/datastreams/natshandler"
	"github.com/ohowland/gridplan/internal/pkg/decomposition"
	"github.com/ohowland/gridplan/internal/pkg/metrics"
	"github.com/ohowland/gridplan/internal/pkg/msg"
	"github.com/ohowland/gridplan/internal/pkg/planner"
	"gopkg.in/cheggaaa/pb.v1"
)

func main() {
	configPath := flag.String("config", "./config/run.json", "run configuration file")
	metricsAddr := flag.String("metrics", "", "serve /metrics on this address while running")
	flag.Parse()

	log.Println("[Main] Starting gridplan")
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("[Main] ", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Println("[Main] Interrupted, cancelling run")
		cancel()
	}()

	m, err := metrics.New(nil)
	if err != nil {
		log.Fatal("[Main] ", err)
	}
	if *metricsAddr != "" {
		go func() {
			if err := http.ListenAndServe(*metricsAddr, m.Handler()); err != nil {
				log.Println("[Main] metrics:", err)
			}
		}()
	}

	system := msg.NewPublisher(uuid.New())
	stop, err := linkHandlers(cfg, system)
	if err != nil {
		log.Fatal("[Main] ", err)
	}

	progress, err := system.Subscribe(uuid.New(), msg.Progress)
	if err != nil {
		log.Fatal("[Main] ", err)
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go showProgress(cfg, progress, &wg)

	res, err := planner.New(planner.WithPublisher(system), planner.WithMetrics(m)).Run(ctx, cfg)
	system.Close()
	wg.Wait()
	stop()
	cancel()
	if err != nil {
		log.Fatal("[Main] ", err)
	}

	fmt.Printf("%s: %s after %d iteration(s)\n", res.Name, res.Outcome.Status, res.Outcome.Iterations)
	if res.Warning != nil {
		fmt.Println("warning:", res.Warning)
	}
	if res.Outcome.Values == nil {
		os.Exit(1)
	}
	if err := res.Summary.Write(os.Stdout); err != nil {
		log.Fatal("[Main] ", err)
	}
}

// linkHandlers starts the result store and event stream named by cfg. The returned func
// stops them after their queued messages are written.
func linkHandlers(cfg config.Run, system *msg.PubSub) (func(), error) {
	var stops []func()
	if cfg.MongoConfig != "" {
		log.Println("[Main] Connecting MongoDB Service")
		h, err := mongodb.New(cfg.MongoConfig, system)
		if err != nil {
			return nil, err
		}
		go h.Process()
		stops = append(stops, h.StopProcess)
	}
	if cfg.NatsConfig != "" {
		log.Println("[Main] Connecting NATS Service")
		h, err := natshandler.New(cfg.NatsConfig, system)
		if err != nil {
			return nil, err
		}
		go h.Process()
		stops = append(stops, h.Stop)
	}
	return func() {
		for _, s := range stops {
			s()
		}
	}, nil
}

// showProgress draws decomposition iterations against the iteration cap.
func showProgress(cfg config.Run, ch <-chan msg.Msg, wg *sync.WaitGroup) {
	defer wg.Done()
	strategy, _ := decomposition.ParseStrategy(cfg.Strategy)
	if strategy == decomposition.None {
		for range ch {
		}
		return
	}

	bar := pb.StartNew(cfg.Decomposition.MaxIterations)
	bar.ShowTimeLeft = false
	for m := range ch {
		p, ok := m.Payload().(decomposition.Progress)
		if !ok {
			continue
		}
		bar.Set(p.Iteration)
		bar.Postfix(fmt.Sprintf(" gap %.4g", p.Gap))
	}
	bar.FinishPrint(fmt.Sprintf("\t%s decomposition done", strategy))
}
