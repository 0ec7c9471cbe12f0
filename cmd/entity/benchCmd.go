package entity

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/ghostmesh/cmd/util"
	"github.com/ValentinKolb/ghostmesh/lib/vault"
	"github.com/fatih/color"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	benchCmd = &cobra.Command{
		Use:   "bench",
		Short: "Measures the latency of the encrypted entity operations",
		Long: `Creates, reads, extends and deletes benchmark entities against a node and prints latency
percentiles per operation. All mutations of one process are serialized by the write queue, so
mutation throughput is bounded by --min-delay. Use --min-delay=-1ns against a development node.`,
		PreRunE: processBenchConfig,
		RunE:    runBench,
	}
	benchType    = "__bench"
	benchOps     = 20
	benchThreads = 4
	benchSkip    = make([]string, 0)
)

// benchStats is the outcome of one benchmark step
type benchStats struct {
	timer  gometrics.Timer
	errors gometrics.Counter
	took   time.Duration
}

func init() {
	key := "ops"
	benchCmd.Flags().Int(key, 20, util.WrapString("Number of operations per step"))
	key = "threads"
	benchCmd.Flags().Int(key, 4, util.WrapString("Number of concurrent callers"))
	key = "skip"
	benchCmd.Flags().String(key, "", util.WrapString("Steps to skip (comma separated, e.g. read,extend)"))
	key = "csv"
	benchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	benchOps = viper.GetInt("ops")
	benchThreads = max(viper.GetInt("threads"), 1)
	benchSkip = strings.Split(viper.GetString("skip"), ",")
	return nil
}

func runBench(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	registry := gometrics.NewRegistry()
	title := color.New(color.Bold)

	title.Println("Benchmark of the encrypted entity client")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Ops per step: %d, threads: %d\n\n", benchOps, benchThreads)

	var (
		keysMu sync.Mutex
		keys   []string
	)
	results := make(map[string]*benchStats)
	order := []string{"create", "read", "extend", "delete"}

	results["create"] = runStep(registry, "create", func(i int) error {
		key, err := client.Create(ctx, vault.Record{
			Type: benchType,
			Data: map[string]any{"seq": i, "payload": strings.Repeat("x", 64)},
		})
		if err == nil {
			keysMu.Lock()
			keys = append(keys, key)
			keysMu.Unlock()
		}
		return err
	})

	results["read"] = runStep(registry, "read", func(int) error {
		_, err := client.Read(ctx, benchType)
		return err
	})

	keyAt := func(i int) (string, bool) {
		keysMu.Lock()
		defer keysMu.Unlock()
		if i >= len(keys) {
			return "", false
		}
		return keys[i], true
	}

	results["extend"] = runStep(registry, "extend", func(i int) error {
		key, ok := keyAt(i)
		if !ok {
			return nil
		}
		_, err := client.Extend(ctx, key, time.Hour)
		return err
	})

	results["delete"] = runStep(registry, "delete", func(i int) error {
		key, ok := keyAt(i)
		if !ok {
			return nil
		}
		_, err := client.Delete(ctx, key)
		return err
	})

	fmt.Println()
	for _, step := range order {
		printStats(step, results[step])
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeStatsToCSV(csvPath, order, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// runStep calls op benchOps times from benchThreads goroutines
func runStep(registry gometrics.Registry, step string, op func(i int) error) *benchStats {
	if shouldSkip(step) {
		return nil
	}
	fmt.Printf("running %s ...\n", step)

	stats := &benchStats{
		timer:  gometrics.GetOrRegisterTimer(step+".latency", registry),
		errors: gometrics.GetOrRegisterCounter(step+".errors", registry),
	}

	var next atomic.Int64
	var wg sync.WaitGroup
	start := time.Now()
	for t := 0; t < benchThreads; t++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(next.Add(1) - 1)
				if i >= benchOps {
					return
				}
				began := time.Now()
				err := op(i)
				stats.timer.UpdateSince(began)
				if err != nil {
					stats.errors.Inc(1)
					util.Logger.Warningf("(%s) - operation %d failed: %v", step, i, err)
				}
			}
		}()
	}
	wg.Wait()
	stats.took = time.Since(start)
	return stats
}

// shouldSkip reports whether step was skipped. delete always runs so the
// benchmark leaves no entities behind.
func shouldSkip(step string) bool {
	if step == "delete" {
		return false
	}
	for _, skip := range benchSkip {
		if step == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// printStats prints the latency distribution of a step
func printStats(step string, stats *benchStats) {
	if stats == nil {
		fmt.Printf("%-10sskipped\n", step)
		return
	}
	snap := stats.timer.Snapshot()
	p := snap.Percentiles([]float64{0.5, 0.95, 0.99})

	errs := color.New(color.FgGreen).Sprint("0 errors")
	if n := stats.errors.Count(); n > 0 {
		errs = color.New(color.FgRed).Sprintf("%d errors", n)
	}

	fmt.Printf("%-10s%4d ops in %-10s mean %-10s p50 %-10s p95 %-10s p99 %-10s %.1f ops/sec, %s\n",
		step,
		snap.Count(),
		stats.took.Round(time.Millisecond),
		time.Duration(snap.Mean()).Round(time.Microsecond),
		time.Duration(p[0]).Round(time.Microsecond),
		time.Duration(p[1]).Round(time.Microsecond),
		time.Duration(p[2]).Round(time.Microsecond),
		opsPerSec(snap.Count(), stats.took),
		errs,
	)
}

func opsPerSec(n int64, took time.Duration) float64 {
	if took <= 0 {
		return 0
	}
	return float64(n) / took.Seconds()
}

// writeStatsToCSV writes the benchmark results to a CSV file
func writeStatsToCSV(csvPath string, order []string, results map[string]*benchStats) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Step", "Ops", "Errors", "MeanNs", "P50Ns", "P95Ns", "P99Ns", "OpsPerSec", "Skipped",
		"Endpoints", "ShardID", "Serializer", "Transport", "Threads", "MinDelay",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	config := util.GetClientConfig()
	for _, step := range order {
		row := []string{step, "0", "0", "0", "0", "0", "0", "0", "true"}
		if stats := results[step]; stats != nil {
			snap := stats.timer.Snapshot()
			p := snap.Percentiles([]float64{0.5, 0.95, 0.99})
			row = []string{
				step,
				strconv.FormatInt(snap.Count(), 10),
				strconv.FormatInt(stats.errors.Count(), 10),
				fmt.Sprintf("%.0f", snap.Mean()),
				fmt.Sprintf("%.0f", p[0]),
				fmt.Sprintf("%.0f", p[1]),
				fmt.Sprintf("%.0f", p[2]),
				fmt.Sprintf("%.2f", opsPerSec(snap.Count(), stats.took)),
				"false",
			}
		}
		row = append(row,
			strings.Join(config.Endpoints, ";"),
			strconv.FormatUint(util.GetShardID(), 10),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(benchThreads),
			viper.GetDuration("min-delay").String(),
		)
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for step %s: %v", step, err)
		}
	}
	return nil
}
