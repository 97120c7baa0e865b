package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/xiaoxuxiansheng/txbridge"
	"github.com/xiaoxuxiansheng/txbridge/config"
	"github.com/xiaoxuxiansheng/txbridge/engine"
	"github.com/xiaoxuxiansheng/txbridge/journal"
	"github.com/xiaoxuxiansheng/txbridge/journal/dao"
	"github.com/xiaoxuxiansheng/txbridge/journal/dbstore"
	"github.com/xiaoxuxiansheng/txbridge/log"
	"github.com/xiaoxuxiansheng/txbridge/metrics"
	"github.com/xiaoxuxiansheng/txbridge/pkg"
)

var (
	configFile  string
	metricsAddr string

	globalContext context.Context
	globalCancel  context.CancelFunc
)

// bridge 命令行进程持有的全部资源
type bridge struct {
	db          *engine.DB
	coordinator *txbridge.Coordinator
	registry    *prometheus.Registry
}

func newBridge(conf *config.Config) (*bridge, error) {
	log.SetDefaultLogger(log.NewSugarLogger(conf.LogOptions()))
	log.Debugf("effective config:\n%s", conf)

	db, err := engine.Open(conf.EngineOptions(log.GetDefaultLogger()))
	if err != nil {
		return nil, err
	}

	store, err := newJournal(conf.Journal)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	opts := []txbridge.Option{
		txbridge.WithJournal(store),
		txbridge.WithMetrics(metrics.New(registry)),
		txbridge.WithMailboxSize(conf.Coordinator.MailboxSize),
		txbridge.WithMonitorTick(conf.Coordinator.MonitorTick.Duration),
		txbridge.WithStallThreshold(conf.Coordinator.StallThreshold.Duration),
	}
	if conf.Coordinator.MaxWorkers > 0 {
		opts = append(opts, txbridge.WithSpawner(txbridge.NewPoolSpawner(conf.Coordinator.MaxWorkers)))
	}

	return &bridge{
		db:          db,
		coordinator: txbridge.NewCoordinator(db, opts...),
		registry:    registry,
	}, nil
}

func newJournal(conf config.JournalConfig) (journal.Store, error) {
	if conf.Driver != "mysql" {
		return journal.NewMemoryStore(), nil
	}

	db, err := pkg.NewDB(conf.DSN)
	if err != nil {
		return nil, err
	}
	if err = dao.Migrate(db); err != nil {
		return nil, err
	}
	return dbstore.NewStore(dao.NewTXJournalDAO(db), pkg.NewRedisClient(conf.RedisAddress, conf.RedisPassword), conf.Namespace), nil
}

func (b *bridge) serveMetrics(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(b.registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Errorf("metrics server on %s stopped, err: %v", addr, err)
		}
	}()
}

func (b *bridge) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.coordinator.Shutdown(ctx); err != nil {
		log.Warnf("shutdown coordinator, err: %v", err)
	}
	if err := b.db.Close(); err != nil {
		log.Errorf("close engine, err: %v", err)
	}
}

func main() {
	globalContext, globalCancel = context.WithCancel(context.Background())

	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	go func() {
		sig := <-sc
		fmt.Printf("\nGot signal [%v] to exit.\n", sig)
		globalCancel()

		select {
		case <-sc:
			fmt.Printf("\nGot signal [%v] again to exit.\n", sig)
			os.Exit(1)
		case <-time.After(10 * time.Second):
			fmt.Print("\nWait 10s for closed, force exit\n")
			os.Exit(1)
		}
	}()

	rootCmd := &cobra.Command{
		Use:   "txbridge",
		Short: "Drive storage engine transactions through a message passing bridge",
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path of the toml config file")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address")

	rootCmd.AddCommand(
		newShellCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(rootCmd.UsageString())
		os.Exit(1)
	}
	globalCancel()
}
