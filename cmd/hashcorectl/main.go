// Command hashcorectl is a small demonstrator around the hashcore storage
// core: it opens a page file, a buffer pool, and a hash index, then runs
// one put/get/del/stats command against them (spec.md §4.12).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/relaydb/hashcore/pkg/config"
	"github.com/relaydb/hashcore/pkg/logger"
	"github.com/relaydb/hashcore/pkg/telemetry"
	"github.com/relaydb/hashcore/storage/buffer"
	"github.com/relaydb/hashcore/storage/disk"
	"github.com/relaydb/hashcore/storage/hash"
)

func main() {
	configPath := flag.String("config", "", "path to a hashcore YAML config file")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-config path] <put|get|del|stats> [key] [value]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	cmd := args[0]
	args = args[1:]

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hashcorectl:", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hashcorectl: logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	tel, shutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		log.Fatal("telemetry setup failed", zap.Error(err))
	}
	defer shutdown(context.Background())

	_, statErr := os.Stat(cfg.PageFilePath)
	create := os.IsNotExist(statErr)
	dm, err := disk.Open(cfg.PageFilePath, create, log)
	if err != nil {
		log.Fatal("opening page file failed", zap.Error(err))
	}
	defer dm.Close()

	pool := buffer.NewParallelPool(cfg.NumInstances, cfg.PoolSize, dm, log, tel)

	table, err := loadOrCreateTable(pool, log, tel, create)
	if err != nil {
		log.Fatal("opening hash table failed", zap.Error(err))
	}

	if err := run(cmd, args, table, pool); err != nil {
		fmt.Fprintln(os.Stderr, "hashcorectl:", err)
		pool.FlushAllPages()
		os.Exit(1)
	}
	pool.FlushAllPages()
}

// loadOrCreateTable builds a fresh extendible hash table. hashcorectl is a
// single-process demonstrator: on a freshly created page file there is
// nothing to reattach to, so "create" always means "construct a new
// table" (spec.md's Non-goals explicitly exclude a durable table-catalog
// / reattach-after-restart story).
func loadOrCreateTable(pool *buffer.ParallelPool, log *zap.Logger, tel *telemetry.Telemetry, create bool) (*hash.Table, error) {
	if !create {
		log.Warn("reattaching to an existing page file constructs a fresh hash table header; prior contents are unreachable")
	}
	return hash.New(pool, hash.DefaultComparator, hash.DefaultHash, log, tel)
}

func run(cmd string, args []string, table *hash.Table, pool *buffer.ParallelPool) error {
	switch cmd {
	case "put":
		if len(args) != 2 {
			return fmt.Errorf("put requires <key> <value>")
		}
		key, value, err := parseKeyValue(args[0], args[1])
		if err != nil {
			return err
		}
		if !table.Insert(key, value) {
			return fmt.Errorf("insert of (%d, %d) was rejected", key, value)
		}
		fmt.Println("OK")

	case "get":
		if len(args) != 1 {
			return fmt.Errorf("get requires <key>")
		}
		key, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("parsing key: %w", err)
		}
		values := table.GetValue(key)
		if len(values) == 0 {
			fmt.Println("(not found)")
			return nil
		}
		for _, v := range values {
			fmt.Println(v)
		}

	case "del":
		if len(args) != 2 {
			return fmt.Errorf("del requires <key> <value>")
		}
		key, value, err := parseKeyValue(args[0], args[1])
		if err != nil {
			return err
		}
		if !table.Remove(key, value) {
			return fmt.Errorf("(%d, %d) was not present", key, value)
		}
		fmt.Println("OK")

	case "stats":
		pinned := 0
		for i := 0; i < pool.NumInstances(); i++ {
			pinned += pool.Instance(i).PinnedCount()
		}
		fmt.Printf("global_depth=%d\n", table.GetGlobalDepth())
		fmt.Printf("pool_size=%d\n", pool.GetPoolSize())
		fmt.Printf("pinned_pages=%d\n", pinned)
		if err := table.VerifyIntegrity(); err != nil {
			fmt.Printf("integrity=VIOLATED: %v\n", err)
		} else {
			fmt.Println("integrity=OK")
		}

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func parseKeyValue(rawKey, rawValue string) (uint64, uint64, error) {
	key, err := strconv.ParseUint(rawKey, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing key: %w", err)
	}
	value, err := strconv.ParseUint(rawValue, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing value: %w", err)
	}
	return key, value, nil
}
