// Command trackerd demonstrates the tracker subsystem end to end: it
// constructs a TrackerAuthority bound to an in-process rpcx transport,
// registers one synthetic shuffle, spins up simulated workers as
// TrackerClients racing to fetch its catalog, and reports how long that
// fan-out took (per-reducer byte totals are logged at debug level).
// It is wiring scaffolding, not a distributed launcher — the DAG
// scheduler, a real network listener, and block I/O live outside this
// subsystem entirely.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	pb "gopkg.in/cheggaaa/pb.v1"

	"github.com/corral-shuffle/tracker/authority"
	"github.com/corral-shuffle/tracker/internal/broadcastx"
	"github.com/corral-shuffle/tracker/internal/config"
	"github.com/corral-shuffle/tracker/internal/rpcx"
	"github.com/corral-shuffle/tracker/mapoutput"
	"github.com/corral-shuffle/tracker/trackerclient"
)

var (
	verbose    = flag.BoolP("verbose", "v", false, "Output verbose logs")
	numMaps    = flag.Int("maps", 50, "Number of simulated map tasks")
	numWorkers = flag.Int("workers", 200, "Number of simulated concurrent worker fetchers")
	numReduce  = flag.Int("reduce", 10, "Number of reduce partitions")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if *verbose || os.Getenv("TRACKER_VERBOSE") != "" {
		log.SetLevel(log.DebugLevel)
	}

	transport := rpcx.NewLocalTransport()
	bcMgr := broadcastx.NewLocalBroadcastManager()

	a, err := authority.New(authority.Config{
		MinSizeForBroadcast:  int(cfg.MinSizeForBroadcast),
		MaxRPCMessageSize:    int(cfg.MaxRPCMessageSize),
		LocalMode:            true,
		ParallelAggThreshold: cfg.ParallelAggThreshold,
	}, bcMgr, log.StandardLogger())
	if err != nil {
		log.Fatalf("failed to construct tracker authority: %v", err)
	}
	a.Start(cfg.DispatcherNumThreads)
	transport.RegisterEndpoint(rpcx.EndpointName, a)

	shuffleID := int32(1)
	if err := a.RegisterShuffle(shuffleID, *numMaps); err != nil {
		log.Fatalf("registerShuffle: %v", err)
	}

	var totalBytes int64
	for m := 0; m < *numMaps; m++ {
		loc := mapoutput.BlockManagerId{
			ExecutorID: fmt.Sprintf("exec-%d", m%10),
			Host:       fmt.Sprintf("host-%d", m%10),
			Port:       7337,
		}
		sizes := make([]int64, *numReduce)
		for r := range sizes {
			sizes[r] = int64(1 + rand.Intn(1<<20))
			totalBytes += sizes[r]
		}
		if err := a.RegisterMapOutput(shuffleID, m, mapoutput.NewMapStatus(loc, sizes)); err != nil {
			log.Fatalf("registerMapOutput: %v", err)
		}
	}
	log.Infof("Registered %d map outputs, %s total", *numMaps, humanize.Bytes(uint64(totalBytes)))

	bar := pb.New(*numWorkers).Prefix("Fetch").Start()
	var wg sync.WaitGroup
	start := time.Now()
	for w := 0; w < *numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer bar.Increment()

			client := trackerclient.New(transport, bcMgr, log.StandardLogger())
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := client.GetMapSizesByExecutorId(ctx, shuffleID, 0, *numReduce); err != nil {
				log.WithError(err).Warn("worker fetch failed")
			}
		}()
	}
	wg.Wait()
	bar.Finish()
	fmt.Printf("Fetch fan-out completed in %v\n", time.Since(start))

	stats, err := a.GetStatistics(shuffleID, *numReduce)
	if err != nil {
		log.Fatalf("getStatistics: %v", err)
	}
	for p, bytes := range stats.BytesByPartition {
		log.Debugf("reducer %d: %s", p, humanize.Bytes(uint64(bytes)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(ctx); err != nil {
		log.Fatalf("stop: %v", err)
	}
}
