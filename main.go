package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jeremywohl/flatten"
	"github.com/n0needt0/go-goodies/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/n0needt0/goodies/sbs-relay/api"
	"github.com/n0needt0/goodies/sbs-relay/config"
	"github.com/n0needt0/goodies/sbs-relay/logging"
	"github.com/n0needt0/goodies/sbs-relay/receiver"
	"github.com/n0needt0/goodies/sbs-relay/services"
)

var (
	conf      = config.Config{}
	envPrefix = "SBS_"

	// set at build time with -ldflags "-X main.version=..."
	version = "dev"
)

// restartDelay is the pause before a panicked task is started again
const restartDelay = time.Second

// Run loads configuration, starts the relay tasks and blocks until a
// shutdown signal arrives.
func Run(cfgFilePath string, flags *pflag.FlagSet) error {
	err := config.LoadConfig(cfgFilePath, envPrefix, flags, &conf)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if conf.App.Version == "dev" {
		conf.App.Version = version
	}

	if err := conf.Validate(); err != nil {
		return errors.Wrap(err, "invalid config")
	}

	setLogLevel(conf.Logging.Level)

	if err := conf.InitializeComponents(); err != nil {
		return errors.Wrap(err, "failed to initialize components")
	}

	logging.Infof("Starting %s %s with config: %s", conf.App.Name, conf.App.Version, flatLine(redactedConfig(&conf)))

	var otelshutdown func()

	if conf.Otel.Enabled {
		//this initializes global otel provider
		otelshutdown = InitOtelProvider(&conf)
	}

	// Business Logic
	services := services.NewServices(&conf)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := NewServer(services, &conf, cancel)

	reader := receiver.NewFrameReader(&conf, services.Forwarder, services.Stats)
	server.Supervisor = receiver.NewSupervisor(&conf, reader, services.Stats)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		supervise(ctx, "stats ticker", services.Stats.Run)
	}()
	go func() {
		defer wg.Done()
		supervise(ctx, "connection supervisor", server.Supervisor.Run)
	}()

	if !conf.Dashboard.Disabled {
		server.HttpApi = api.NewAPI(services, &conf)
		go server.HttpApi.Serve(":"+strconv.Itoa(conf.Dashboard.Port), server.HttpApi.NewRouter())
	} else {
		log.Info("Dashboard is disabled")
	}

	// blocks until a signal stops the server
	server.Start(func() {
		logging.Infof("relay stats: %s", flatLine(services.Stats.Snapshot()))
	}, nil)

	wg.Wait()

	if otelshutdown != nil {
		//cleanup otel
		otelshutdown()
	}

	logging.Infof("%s stopped", conf.App.Name)
	return nil
}

// supervise runs fn until ctx is cancelled, restarting it after a panic or an
// unexpected return.
func supervise(ctx context.Context, name string, fn func(context.Context) error) {
	for {
		err := runProtected(ctx, name, fn)
		if ctx.Err() != nil {
			log.Debugf("%s stopped", name)
			return
		}

		log.Errorf("%s exited unexpectedly: %v, restarting in %s", name, err, restartDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(restartDelay):
		}
	}
}

func runProtected(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("%s panicked: %v\n%s", name, r, debug.Stack())
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func setLogLevel(levelStr string) {
	switch strings.ToLower(levelStr) {
	case "debug":
		log.SetMinLogLevel(log.MinLevelDebug)
	case "info":
		log.SetMinLogLevel(log.MinLevelInfo)
	case "warn":
		log.SetMinLogLevel(log.MinLevelWarn)
	case "error":
		log.SetMinLogLevel(log.MinLevelError)
	}
}

func redactedConfig(cfg *config.Config) config.Config {
	c := *cfg
	c.SOCAlertClient = nil
	c.Service.UUID = config.MaskSensitiveValue(c.Service.UUID)
	return c
}

// flatLine renders v as sorted key=value pairs on a single line
func flatLine(v interface{}) string {
	raw, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}

	var nested map[string]interface{}
	if err := sonic.Unmarshal(raw, &nested); err != nil {
		return string(raw)
	}

	flat, err := flatten.Flatten(nested, "", flatten.DotStyle)
	if err != nil {
		return string(raw)
	}

	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, flat[k]))
	}
	return strings.Join(pairs, " ")
}

// Server provides basic service functions and state common to all service types
type Server struct {
	Config     *config.Config
	Name       string
	quitterC   chan time.Duration // also internal-only
	cancel     context.CancelFunc
	HttpApi    *api.API
	Supervisor *receiver.Supervisor
	Services   *services.Services
}

// NewServer creates a new Server; cancel stops every task started with the
// process context.
func NewServer(services *services.Services, conf *config.Config, cancel context.CancelFunc) *Server {
	return &Server{
		Config:   conf,
		Name:     conf.App.Name,
		quitterC: make(chan time.Duration),
		cancel:   cancel,
		Services: services,
	}
}

func (svc *Server) Start(housekeepingFn func(), quitterFn func(time.Duration)) {

	// exit cleanly on signal
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGABRT, syscall.SIGTERM)
	go func() {
		sig := <-signalC
		logging.Infof("Received signal %v", sig)

		if err := svc.Stop(2 * time.Second); err != nil {
			log.Fatalf("error stopping service: %v", err)
		}
	}()

	interval := svc.Config.GetHousekeepingInterval()

	if interval <= 0 {
		log.Errorf("invalid housekeeping-interval: %s", interval)
		interval = 60 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// wait for quit, run housekeeping (if any)
	for {
		select {
		case <-ticker.C:
			if housekeepingFn != nil && svc.Config.Housekeeping.Enabled {
				housekeepingFn()
			}
		case timeout := <-svc.quitterC:
			log.Debug("shutting down")

			if quitterFn != nil {
				quitterFn(timeout)
			}

			svc.cancel()

			if svc.HttpApi != nil {
				svc.HttpApi.Stop()
			}

			return
		}
	}
}

func (svc *Server) Stop(timeout time.Duration) error {
	defer close(svc.quitterC)

	log.Debugf("sending timeout %s to quitterC:", timeout)

	select {
	case svc.quitterC <- timeout:
		log.Debug("sent")
	case <-time.After(timeout + (100 * time.Millisecond)):
		log.Debug("timed out")
	}
	return nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:          "sbs-relay",
		Short:        "Relay an SBS feed to a remote collector",
		Long:         `sbs-relay keeps a TCP connection to an SBS receiver open, batches newline terminated messages and posts them compressed to a collector.`,
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFilePath, _ := cmd.Flags().GetString("config")
			return Run(cfgFilePath, cmd.Flags())
		},
	}
	config.RegisterFlags(rootCmd.Flags())

	if err := rootCmd.Execute(); err != nil {
		log.Errorf("failed to start: %s", err.Error())
		os.Exit(11)
	}
}
