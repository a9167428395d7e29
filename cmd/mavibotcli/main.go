// Mavibot CLI
// Exercises an embedded single-writer/multi-reader copy-on-write B+tree
// store directly — there is no RPC surface (spec.md's Non-goals exclude a
// network protocol), so this binary is a local driver and health endpoint,
// not a server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mavibot/mavibot/internal/logger"
	"github.com/mavibot/mavibot/internal/metrics"
	"github.com/mavibot/mavibot/internal/obs"
	"github.com/mavibot/mavibot/pkg/btree"
	"github.com/mavibot/mavibot/pkg/mavibot"
	"github.com/mavibot/mavibot/pkg/serial"
)

var (
	dbPath       = flag.String("db", "mavibot.db", "database file path")
	pageSize     = flag.Uint("page-size", 4096, "record-manager page size for a new file")
	cacheSize    = flag.Int("cache-pages", 256, "page cache capacity, 0 to disable")
	obsPort      = flag.Int("obs-port", 9090, "observability server port (metrics, health, pprof)")
	reclaimEvery = flag.Duration("reclaim-interval", 5*time.Second, "page reclaimer sweep interval")
	demoTree     = flag.String("demo-tree", "demo", "name of a sample tree to create and exercise on startup")
)

func main() {
	flag.Parse()

	logger.InitGlobalLogger(logger.Config{Level: "info", Pretty: true})
	log := logger.GetGlobalLogger()
	m := metrics.NewMetrics()

	log.Info("starting mavibot").Str("db", *dbPath).Uint("page_size", *pageSize).Send()

	db, err := mavibot.Open(*dbPath, uint32(*pageSize), *cacheSize, log, m)
	if err != nil {
		log.Fatal("failed to open database").Err(err).Send()
		os.Exit(1)
	}
	defer db.Close()

	if err := runDemo(db, *demoTree); err != nil {
		log.Error("demo run failed").Err(err).Send()
	}

	obsServer := obs.NewServer(*obsPort, log)
	go func() {
		if err := obsServer.Start(); err != nil {
			log.Error("observability server stopped").Err(err).Send()
		}
	}()

	stopReclaim := make(chan struct{})
	go reclaimLoop(db, *reclaimEvery, stopReclaim)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down gracefully").Send()
	close(stopReclaim)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := obsServer.Shutdown(ctx); err != nil {
		log.Error("observability server shutdown error").Err(err).Send()
	}
}

// runDemo registers demoTree if absent and performs a handful of operations
// (add tree, insert, save, commit, then a read transaction that opens the
// tree and browses it), so a
// fresh mavibot.db is never empty on first run.
func runDemo(db *mavibot.DB, treeName string) error {
	wtx, err := db.BeginWrite()
	if err != nil {
		return fmt.Errorf("begin write: %w", err)
	}

	if err := wtx.AddTree(treeName, btree.Options{Order: 32, AllowDuplicates: true}); err != nil {
		if _, already := err.(*mavibot.ErrAlreadyManaged); !already {
			wtx.Abort()
			return fmt.Errorf("add tree: %w", err)
		}
	}

	tr, err := mavibot.GetTreeForWrite[string, string](wtx, treeName, serial.StringSerializer{}, serial.StringSerializer{})
	if err != nil {
		wtx.Abort()
		return fmt.Errorf("get tree for write: %w", err)
	}
	if _, err := tr.Insert(wtx.Revision(), "hello", "world"); err != nil {
		wtx.Abort()
		return fmt.Errorf("insert: %w", err)
	}
	if err := mavibot.SaveTree(wtx, treeName, tr); err != nil {
		wtx.Abort()
		return fmt.Errorf("save tree: %w", err)
	}
	if err := wtx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	rtx, err := db.BeginRead()
	if err != nil {
		return fmt.Errorf("begin read: %w", err)
	}
	defer rtx.Close()

	rtr, err := mavibot.GetTree[string, string](rtx, treeName, serial.StringSerializer{}, serial.StringSerializer{})
	if err != nil {
		return fmt.Errorf("get tree: %w", err)
	}
	cur, err := rtr.Browse()
	if err != nil {
		return fmt.Errorf("browse: %w", err)
	}
	for cur.Next() {
		k, err := cur.Key()
		if err != nil {
			return err
		}
		v, err := cur.Value()
		if err != nil {
			return err
		}
		log.Printf("mavibot: %s -> %s", k, v)
	}
	return nil
}

// reclaimLoop sweeps retired pages back to the free list on a fixed
// interval, logging how many it freed each pass (spec.md §8 scenario 6).
func reclaimLoop(db *mavibot.DB, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := db.Sweep(); err != nil {
				log.Printf("mavibot: reclaim sweep failed: %v", err)
			}
		case <-stop:
			return
		}
	}
}
