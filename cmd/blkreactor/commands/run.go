package commands

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	blkreactor "github.com/mhalvorsen/go-blkreactor"
	"github.com/mhalvorsen/go-blkreactor/device"
	"github.com/mhalvorsen/go-blkreactor/internal/alloc"
	"github.com/mhalvorsen/go-blkreactor/internal/logging"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a read workload across a reactor pool",
	Long: `Run starts one reactor per listed core, assigns work units with
exclusive device queues to each, and submits a fixed number of reads per
queue. The pool drains and exits once every expected read has completed.`,
	RunE: runWorkload,
}

func init() {
	f := runCmd.Flags()
	f.String("device", "", "block device or file path (empty: RAM-backed device)")
	f.Bool("direct", false, "open the device with O_DIRECT")
	f.Uint64("mem-blocks", 16384, "number of blocks for the RAM-backed device")
	f.Uint32("block-size", blkreactor.DefaultBlockSize, "device block size in bytes")
	f.String("cores", "", "comma-separated core list, one reactor per core (empty: one unpinned reactor)")
	f.Int("units-per-reactor", 2, "work units per reactor")
	f.Int("queues-per-unit", 1, "device queues per work unit")
	f.Int("queue-depth", blkreactor.DefaultQueueDepth, "outstanding request limit per queue")
	f.Int("ios-per-queue", 1024, "reads to submit per queue")
	f.String("metrics-listen", "", "address for Prometheus metrics (empty: disabled)")

	viper.BindPFlag("run.device", f.Lookup("device"))
	viper.BindPFlag("run.direct", f.Lookup("direct"))
	viper.BindPFlag("run.mem_blocks", f.Lookup("mem-blocks"))
	viper.BindPFlag("run.block_size", f.Lookup("block-size"))
	viper.BindPFlag("run.cores", f.Lookup("cores"))
	viper.BindPFlag("run.units_per_reactor", f.Lookup("units-per-reactor"))
	viper.BindPFlag("run.queues_per_unit", f.Lookup("queues-per-unit"))
	viper.BindPFlag("run.queue_depth", f.Lookup("queue-depth"))
	viper.BindPFlag("run.ios_per_queue", f.Lookup("ios-per-queue"))
	viper.BindPFlag("run.metrics_listen", f.Lookup("metrics-listen"))
}

func runWorkload(cmd *cobra.Command, args []string) error {
	log := logging.Default()

	blockSize := uint32(viper.GetUint64("run.block_size"))
	unitsPerReactor := viper.GetInt("run.units_per_reactor")
	queuesPerUnit := viper.GetInt("run.queues_per_unit")
	queueDepth := viper.GetInt("run.queue_depth")
	iosPerQueue := viper.GetInt("run.ios_per_queue")
	if unitsPerReactor <= 0 || queuesPerUnit <= 0 || iosPerQueue <= 0 {
		return fmt.Errorf("units, queues, and ios per queue must be positive")
	}

	cores, err := parseCores(viper.GetString("run.cores"))
	if err != nil {
		return err
	}

	dev, err := openDevice(viper.GetString("run.device"), blockSize,
		viper.GetUint64("run.mem_blocks"), viper.GetBool("run.direct"))
	if err != nil {
		return err
	}
	defer dev.Close()

	totalQueues := len(cores) * unitsPerReactor * queuesPerUnit
	expected := uint64(totalQueues) * uint64(iosPerQueue)

	tracker := blkreactor.NewTracker()
	tracker.AddExpected(expected)

	pool, err := blkreactor.New(blkreactor.Config{
		Cores:   cores,
		Device:  dev,
		Tracker: tracker,
		Logger:  log,
	})
	if err != nil {
		return err
	}

	if addr := viper.GetString("run.metrics_listen"); addr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(blkreactor.NewTrackerCollector(tracker))
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			log.Info("metrics listening", "addr", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	allocator := alloc.NewHeap()
	for reactorID := range cores {
		for u := 0; u < unitsPerReactor; u++ {
			wu, err := pool.AssignWorkUnit(reactorID, blkreactor.WorkUnitSpec{
				Queues:     queuesPerUnit,
				QueueDepth: queueDepth,
			})
			if err != nil {
				return err
			}
			if err := wu.SubmitWork(readerTask(allocator, dev.NumBlocks(), iosPerQueue)); err != nil {
				return err
			}
		}
	}

	// SIGINT/SIGTERM start a drain; in-flight reads still complete.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal, draining")
		pool.Stop(1)
	}()

	log.Info("workload starting",
		"reactors", len(cores),
		"units_per_reactor", unitsPerReactor,
		"queues_per_unit", queuesPerUnit,
		"ios_per_queue", iosPerQueue,
		"expected", expected)

	// Record the drain code instead of exiting here so the device defer
	// and the log writer flush still run on the way out.
	exitCode = pool.Run()

	s := tracker.Snapshot()
	log.Info("workload finished",
		"submitted", s.Submitted, "completed", s.Completed, "failed", s.Failed)
	return nil
}

// readerTask submits count reads on each of the unit's queues, spreading
// LBAs sequentially across the device. On backpressure it re-posts itself
// and resumes where it left off on the unit's next turn.
func readerTask(allocator alloc.Allocator, numBlocks uint64, count int) blkreactor.Task {
	remaining := make(map[*blkreactor.QueueHandle]int)
	var lba uint64

	var task blkreactor.Task
	task = func(wu *blkreactor.WorkUnit) {
		log := logging.Default().WithUnit(wu.Name())

		for _, qh := range wu.Queues() {
			if _, ok := remaining[qh]; !ok {
				remaining[qh] = count
			}
			for remaining[qh] > 0 {
				buf, err := allocator.Allocate(int(qh.BlockSize()), blkreactor.DMAAlignment)
				if err != nil {
					// Abandons only this read; everything in flight
					// still completes.
					log.Error("buffer allocation failed", "error",
						blkreactor.WrapError("ALLOC_BUF", blkreactor.ErrCodeOutOfMemory, err))
					return
				}

				err = qh.SubmitRead(lba%numBlocks, 1, buf, func(status blkreactor.Status, buf []byte, err error) {
					if err != nil {
						log.Error("read failed", "error", err)
					}
					if ferr := allocator.Free(buf); ferr != nil {
						log.Error("buffer free failed", "error", ferr)
					}
				})
				if err != nil {
					allocator.Free(buf)
					if blkreactor.IsCode(err, blkreactor.ErrCodeBackpressure) {
						// Queue full: yield and resume next turn.
						if rerr := wu.SubmitWork(task); rerr != nil {
							log.Error("reader re-post failed", "error", rerr)
						}
						return
					}
					log.Error("submit failed", "error", err)
					return
				}
				remaining[qh]--
				lba++
			}
		}
	}
	return task
}

func openDevice(path string, blockSize uint32, memBlocks uint64, direct bool) (blkreactor.Device, error) {
	if path == "" {
		return device.NewMemory(blockSize, memBlocks)
	}
	if direct {
		return device.OpenFileDirect(path, blockSize)
	}
	return device.OpenFile(path, blockSize)
}

func parseCores(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return []int{blkreactor.UnpinnedCore}, nil
	}
	var cores []int
	for _, part := range strings.Split(s, ",") {
		core, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || core < 0 {
			return nil, fmt.Errorf("invalid core %q in core list", part)
		}
		cores = append(cores, core)
	}
	return cores, nil
}
