package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/couchbase/stellar-discovery/consistency"
	"github.com/couchbase/stellar-discovery/contrib/goclustering"
	"github.com/couchbase/stellar-discovery/discovery"
	"github.com/couchbase/stellar-discovery/pkg/grpchealth"
	"github.com/couchbase/stellar-discovery/pkg/metrics"
	"github.com/couchbase/stellar-discovery/pkg/webapi"
	"github.com/couchbase/stellar-discovery/topology"
	"github.com/couchbase/stellar-discovery/utils/buildversion"
	"github.com/couchbase/stellar-discovery/utils/netutils"
	"github.com/couchbase/stellar-discovery/utils/selfsignedcert"
	"github.com/couchbase/stellar-discovery/viewstate"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	etcd "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var buildVersion string = buildversion.GetVersion("github.com/couchbase/stellar-discovery")

var rootCmd = &cobra.Command{
	Version: buildVersion,

	Use:   "viewstated",
	Short: "A service which publishes a settled view of the cluster topology",

	Run: func(cmd *cobra.Command, args []string) {
		if autoRestart && !autoRestartProc {
			startWatchdog()
			return
		}

		startDiscovery()
	},
}

var cfgFile string
var watchCfgFile bool
var autoRestart bool
var autoRestartProc bool

const (
	consistencyNone    = "none"
	consistencyEtcd    = "etcd"
	consistencyBarrier = "barrier"

	shutdownTimeout = 10 * time.Second
)

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "specifies a config file to load")
	rootCmd.Flags().BoolVar(&watchCfgFile, "watch-config", false, "indicates whether to watch the config file for changes")
	rootCmd.Flags().BoolVar(&autoRestart, "auto-restart", false, "in auto-restart mode, we run in a child process to auto-restart on failure")
	rootCmd.Flags().BoolVar(&autoRestartProc, "auto-restart-proc", false, "in auto-restart mode, indicates we are the child process")
	_ = rootCmd.Flags().MarkHidden("auto-restart-proc")

	configFlags := pflag.NewFlagSet("", pflag.ContinueOnError)
	configFlags.String("log-level", "info", "the log level to run at")
	configFlags.String("node-id", "", "the id of this node, a random id is generated when empty")
	configFlags.String("cluster-id", "default", "the id of the cluster this node belongs to")
	configFlags.String("etcd-endpoints", "", "comma separated etcd endpoints, membership is in-process when empty")
	configFlags.String("etcd-prefix", "/stellar-discovery", "the etcd key prefix to use")
	configFlags.Duration("lease-period", 10*time.Second, "the etcd lease period for membership and sync tokens")
	configFlags.String("consistency", consistencyNone, "the consistency service to use (none|etcd|barrier)")
	configFlags.Duration("min-event-delay", 0, "the time a view must remain stable before it is published")
	configFlags.String("bind-address", "0.0.0.0", "the local address to bind to")
	configFlags.String("advertise-address", "", "the address other nodes use to reach this node")
	configFlags.Int("web-port", 9091, "the web metrics/health port")
	configFlags.Int("health-port", 18100, "the grpc health port")
	configFlags.Bool("self-sign", false, "serve grpc health over tls with a self-signed certificate")
	configFlags.String("cert", "", "path to the grpc health tls cert")
	configFlags.String("key", "", "path to the grpc health private tls key")
	configFlags.StringToString("property", nil, "properties to publish for this node (key=value)")
	configFlags.String("otlp-endpoint", "", "opentelemetry endpoint to send telemetry to")
	configFlags.Bool("disable-otlp-traces", false, "disable sending traces to otlp")
	configFlags.Bool("disable-otlp-metrics", false, "disable sending metrics to otlp")
	configFlags.Bool("debug", false, "enable debug mode")
	rootCmd.Flags().AddFlagSet(configFlags)

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.SetEnvPrefix("std")
	viper.AutomaticEnv()

	_ = viper.BindPFlags(configFlags)
}

func initTelemetry(
	ctx context.Context,
	logger *zap.Logger,
	otlpEndpoint string,
	enableTraces bool,
	enableMetrics bool,
) (
	*sdktrace.TracerProvider,
	*sdkmetric.MeterProvider,
	error,
) {
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("stellar-discovery"),
		),
	)
	if err != nil {
		if res == nil {
			return nil, nil, err
		}

		logger.Warn("failed to setup some part of opentelemetry resource", zap.Error(err))
	}

	promExp, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	var meterProvider *sdkmetric.MeterProvider
	if !enableMetrics || otlpEndpoint == "" {
		meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(promExp),
		)
	} else {
		metricExp, err := otlpmetricgrpc.New(
			ctx,
			otlpmetricgrpc.WithInsecure(),
			otlpmetricgrpc.WithEndpoint(otlpEndpoint))
		if err != nil {
			return nil, nil, err
		}

		meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(promExp),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		)
	}

	var tracerProvider *sdktrace.TracerProvider
	if enableTraces && otlpEndpoint != "" {
		traceClient := otlptracegrpc.NewClient(
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithEndpoint(otlpEndpoint))
		traceExp, err := otlptrace.New(ctx, traceClient)
		if err != nil {
			return nil, nil, err
		}

		tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
			sdktrace.WithResource(res),
			sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(traceExp)),
		)
	}

	return tracerProvider, meterProvider, nil
}

func getLogger() (zap.AtomicLevel, *zap.Logger) {
	logLevel := zap.NewAtomicLevel()
	logConfig := zap.NewProductionEncoderConfig()
	logConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	jsonEncoder := zapcore.NewJSONEncoder(logConfig)
	core := zapcore.NewTee(
		zapcore.NewCore(jsonEncoder, zapcore.AddSync(os.Stdout), logLevel),
	)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return logLevel, logger
}

type config struct {
	logLevelStr        string
	nodeID             string
	clusterID          string
	etcdEndpoints      string
	etcdPrefix         string
	leasePeriod        time.Duration
	consistency        string
	minEventDelay      time.Duration
	bindAddress        string
	advertiseAddress   string
	webPort            int
	healthPort         int
	selfSign           bool
	certPath           string
	keyPath            string
	properties         map[string]string
	otlpEndpoint       string
	disableOtlpTraces  bool
	disableOtlpMetrics bool
	debug              bool
}

func readConfig(logger *zap.Logger) *config {
	config := &config{
		logLevelStr:        viper.GetString("log-level"),
		nodeID:             viper.GetString("node-id"),
		clusterID:          viper.GetString("cluster-id"),
		etcdEndpoints:      viper.GetString("etcd-endpoints"),
		etcdPrefix:         viper.GetString("etcd-prefix"),
		leasePeriod:        viper.GetDuration("lease-period"),
		consistency:        viper.GetString("consistency"),
		minEventDelay:      viper.GetDuration("min-event-delay"),
		bindAddress:        viper.GetString("bind-address"),
		advertiseAddress:   viper.GetString("advertise-address"),
		webPort:            viper.GetInt("web-port"),
		healthPort:         viper.GetInt("health-port"),
		selfSign:           viper.GetBool("self-sign"),
		certPath:           viper.GetString("cert"),
		keyPath:            viper.GetString("key"),
		properties:         viper.GetStringMapString("property"),
		otlpEndpoint:       viper.GetString("otlp-endpoint"),
		disableOtlpTraces:  viper.GetBool("disable-otlp-traces"),
		disableOtlpMetrics: viper.GetBool("disable-otlp-metrics"),
		debug:              viper.GetBool("debug"),
	}

	logger.Info("parsed discovery configuration",
		zap.String("logLevelStr", config.logLevelStr),
		zap.String("nodeID", config.nodeID),
		zap.String("clusterID", config.clusterID),
		zap.String("etcdEndpoints", config.etcdEndpoints),
		zap.String("etcdPrefix", config.etcdPrefix),
		zap.Duration("leasePeriod", config.leasePeriod),
		zap.String("consistency", config.consistency),
		zap.Duration("minEventDelay", config.minEventDelay),
		zap.String("bindAddress", config.bindAddress),
		zap.String("advertiseAddress", config.advertiseAddress),
		zap.Int("webPort", config.webPort),
		zap.Int("healthPort", config.healthPort),
		zap.Bool("selfSign", config.selfSign),
		zap.String("certPath", config.certPath),
		zap.String("keyPath", config.keyPath),
		zap.Any("properties", config.properties),
		zap.String("otlpEndpoint", config.otlpEndpoint),
		zap.Bool("disableOtlpTraces", config.disableOtlpTraces),
		zap.Bool("disableOtlpMetrics", config.disableOtlpMetrics),
		zap.Bool("debug", config.debug))

	return config
}

func parseLogLevel(logger *zap.Logger, levelStr string) zapcore.Level {
	parsedLogLevel, err := zapcore.ParseLevel(levelStr)
	if err != nil {
		logger.Warn("invalid log level specified, using INFO instead")
		return zapcore.InfoLevel
	}

	return parsedLogLevel
}

type loggingListener struct {
	logger *zap.Logger
}

func (l *loggingListener) HandleTopologyEvent(evt *topology.Event) {
	l.logger.Info("topology event", zap.Stringer("event", evt))
}

func startDiscovery() {
	// initialize the logger
	logLevel, logger := getLogger()

	logger.Info("starting stellar-discovery", zap.String("version", buildVersion))

	logger.Info("parsed launch configuration",
		zap.String("config", cfgFile),
		zap.Bool("watch-config", watchCfgFile))

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		err := viper.ReadInConfig()
		if err != nil {
			logger.Panic("failed to load specified config file", zap.Error(err))
		}
	}

	config := readConfig(logger)
	logLevel.SetLevel(parseLogLevel(logger, config.logLevelStr))

	if config.nodeID == "" {
		config.nodeID = uuid.NewString()
		logger.Info("generated node id", zap.String("nodeID", config.nodeID))
	}

	// setup telemetry
	otlpTracerProvider, otlpMeterProvider, err :=
		initTelemetry(context.Background(),
			logger,
			config.otlpEndpoint,
			!config.disableOtlpTraces,
			!config.disableOtlpMetrics)
	if err != nil {
		logger.Error("failed to initialize opentelemetry", zap.Error(err))
		os.Exit(1)
	}

	if otlpTracerProvider != nil {
		otel.SetTracerProvider(otlpTracerProvider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	}
	if otlpMeterProvider != nil {
		otel.SetMeterProvider(otlpMeterProvider)
	}

	discMetrics := metrics.GetDiscoveryMetrics()

	// setup membership
	var etcdClient *etcd.Client
	var provider goclustering.Provider
	if config.etcdEndpoints != "" {
		etcdClient, err = etcd.New(etcd.Config{
			Endpoints:   strings.Split(config.etcdEndpoints, ","),
			DialTimeout: 5 * time.Second,
			Logger:      logger.Named("etcd-client"),
		})
		if err != nil {
			logger.Error("failed to create etcd client", zap.Error(err))
			os.Exit(1)
		}

		provider, err = goclustering.NewEtcdProvider(goclustering.EtcdProviderOptions{
			Logger:      logger.Named("etcd-provider"),
			EtcdClient:  etcdClient,
			KeyPrefix:   config.etcdPrefix,
			LeasePeriod: config.leasePeriod,
		})
	} else {
		logger.Info("no etcd endpoints specified, using in-process membership")
		provider, err = goclustering.NewInProcProvider(goclustering.InProcProviderOptions{})
	}
	if err != nil {
		logger.Error("failed to create membership provider", zap.Error(err))
		os.Exit(1)
	}

	// setup the consistency service
	var consistencyService viewstate.ConsistencyService
	var syncTokenService *consistency.EtcdSyncTokenService
	var barrierControl webapi.BarrierControl
	switch config.consistency {
	case consistencyNone:
	case consistencyBarrier:
		logger.Info("views are held until released through the web api barrier endpoints")

		barrier := consistency.NewBarrier(logger.Named("barrier"))
		consistencyService = barrier
		barrierControl = barrier
	case consistencyEtcd:
		if etcdClient == nil {
			logger.Error("etcd consistency requires etcd-endpoints")
			os.Exit(1)
		}

		syncTokenService, err = consistency.NewEtcdSyncTokenService(context.Background(), &consistency.EtcdSyncTokenServiceOptions{
			Logger:      logger.Named("sync-tokens"),
			EtcdClient:  etcdClient,
			KeyPrefix:   config.etcdPrefix,
			InstanceID:  config.nodeID,
			LeasePeriod: config.leasePeriod,
		})
		if err != nil {
			logger.Error("failed to create etcd sync token service", zap.Error(err))
			os.Exit(1)
		}

		consistencyService = syncTokenService
	default:
		logger.Error("unknown consistency service", zap.String("consistency", config.consistency))
		os.Exit(1)
	}

	// setup the view state
	manager := viewstate.NewManager(&viewstate.ManagerOptions{
		Logger:             logger.Named("viewstate"),
		ConsistencyService: consistencyService,
		MinEventDelay:      config.minEventDelay,
		Metrics:            discMetrics,
	})
	manager.Activate()

	var healthTlsConfig *tls.Config
	if config.certPath != "" || config.keyPath != "" {
		loadedTlsCertificate, err := tls.LoadX509KeyPair(config.certPath, config.keyPath)
		if err != nil {
			logger.Error("failed to load tls certificate", zap.Error(err))
			os.Exit(1)
		}

		healthTlsConfig = &tls.Config{Certificates: []tls.Certificate{loadedTlsCertificate}}
	} else if config.selfSign {
		generatedCert, err := selfsignedcert.GenerateCertificate(config.advertiseAddress, config.bindAddress)
		if err != nil {
			logger.Error("failed to generate a self-signed certificate", zap.Error(err))
			os.Exit(1)
		}

		healthTlsConfig = &tls.Config{Certificates: []tls.Certificate{*generatedCert}}
	}

	eventLog := topology.NewEventLog(100)
	healthServer := grpchealth.NewServer(grpchealth.ServerOptions{
		Logger:        logger.Named("grpc-health"),
		Metrics:       discMetrics,
		ListenAddress: fmt.Sprintf("%s:%v", config.bindAddress, config.healthPort),
		TLSConfig:     healthTlsConfig,
	})

	for _, l := range []topology.EventListener{
		eventLog,
		&loggingListener{logger: logger.Named("events")},
		healthServer.TopologyListener(),
	} {
		_, err := manager.Bind(l)
		if err != nil {
			logger.Error("failed to bind topology listener", zap.Error(err))
			os.Exit(1)
		}
	}

	// start the web and health services
	webServer := webapi.InitializeWebServer(webapi.WebServerOptions{
		Logger:        logger.Named("webapi"),
		LogLevel:      &logLevel,
		ListenAddress: fmt.Sprintf("%s:%v", config.bindAddress, config.webPort),
		ViewState:     manager,
		EventLog:      eventLog,
		Barrier:       barrierControl,
		Debug:         config.debug,
	})

	go func() {
		err := healthServer.ListenAndServe()
		if err != nil {
			logger.Error("failed to serve grpc health", zap.Error(err))
		}
	}()

	// start discovery
	driver, err := discovery.NewDriver(context.Background(), &discovery.DriverOptions{
		Logger:     logger.Named("discovery"),
		Provider:   provider,
		Reporter:   manager,
		Metrics:    discMetrics,
		MemberID:   config.nodeID,
		ClusterID:  config.clusterID,
		Properties: withEndpointProperties(logger, config),
	})
	if err != nil {
		logger.Error("failed to start discovery", zap.Error(err))
		os.Exit(1)
	}

	var configLock sync.Mutex
	reloadConfiguration := func() {
		configLock.Lock()
		defer configLock.Unlock()

		if cfgFile != "" {
			err := viper.ReadInConfig()
			if err != nil {
				logger.Warn("failed to parse configuration file",
					zap.Error(err))
			}
		}

		newConfig := readConfig(logger)
		newConfig.nodeID = config.nodeID

		if newConfig.clusterID != config.clusterID ||
			newConfig.etcdEndpoints != config.etcdEndpoints ||
			newConfig.etcdPrefix != config.etcdPrefix ||
			newConfig.leasePeriod != config.leasePeriod ||
			newConfig.consistency != config.consistency {
			logger.Warn("config changes for clusterID, etcdEndpoints, etcdPrefix, leasePeriod, or consistency require a restart")
		}

		if newConfig.bindAddress != config.bindAddress ||
			newConfig.webPort != config.webPort ||
			newConfig.healthPort != config.healthPort ||
			newConfig.selfSign != config.selfSign ||
			newConfig.certPath != config.certPath ||
			newConfig.keyPath != config.keyPath {
			logger.Warn("config changes for bindAddress, webPort, healthPort, selfSign, certPath, or keyPath require a restart")
		}

		if newConfig.otlpEndpoint != config.otlpEndpoint ||
			newConfig.disableOtlpTraces != config.disableOtlpTraces ||
			newConfig.disableOtlpMetrics != config.disableOtlpMetrics {
			logger.Warn("config changes for otlpEndpoint, disableOtlpTraces, or disableOtlpMetrics require a restart")
		}

		if newConfig.debug != config.debug {
			logger.Warn("config changes for debug require a restart")
		}

		if newConfig.logLevelStr != config.logLevelStr {
			newParsedLogLevel := parseLogLevel(logger, newConfig.logLevelStr)
			logLevel.SetLevel(newParsedLogLevel)

			logger.Info("updated log level",
				zap.String("newLevel", newParsedLogLevel.String()))
		}

		if newConfig.minEventDelay != config.minEventDelay {
			manager.SetMinEventDelay(newConfig.minEventDelay)

			logger.Info("updated min event delay",
				zap.Duration("newDelay", newConfig.minEventDelay))
		}

		if !maps.Equal(newConfig.properties, config.properties) {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			err := driver.SetProperties(ctx, withEndpointProperties(logger, newConfig))
			cancel()
			if err != nil {
				logger.Warn("failed to publish updated properties", zap.Error(err))
			}
		}

		config = newConfig
	}

	if watchCfgFile && cfgFile != "" {
		viper.OnConfigChange(func(in fsnotify.Event) {
			logger.Info("configuration file change detected", zap.String("file", in.Name))
			reloadConfiguration()
		})

		go viper.WatchConfig()
	}

	shutdownCh := make(chan struct{})
	var shutdownOnce sync.Once
	beginGracefulShutdown := func() {
		shutdownOnce.Do(func() {
			close(shutdownCh)
		})
	}

	go func() {
		sigCh := make(chan os.Signal, 10)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

		hasReceivedSigInt := false
		for sig := range sigCh {
			if sig == syscall.SIGINT {
				if hasReceivedSigInt {
					logger.Info("Received SIGINT a second time, terminating...")
					os.Exit(1)
				} else {
					logger.Info("Received SIGINT, attempting graceful shutdown...")
					hasReceivedSigInt = true
					beginGracefulShutdown()
				}
			} else if sig == syscall.SIGTERM {
				logger.Info("Received SIGTERM, attempting graceful shutdown...")
				beginGracefulShutdown()
			} else if sig == syscall.SIGHUP {
				logger.Info("Received SIGHUP, reloading configuration...")
				reloadConfiguration()
			}
		}
	}()

	<-shutdownCh

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	manager.Deactivate()

	err = manager.WaitForQuiescence(ctx)
	if err != nil {
		logger.Warn("timed out waiting for topology listeners", zap.Error(err))
	}

	err = driver.Close(ctx)
	if err != nil {
		logger.Warn("failed to leave the cluster", zap.Error(err))
	}

	if syncTokenService != nil {
		err = syncTokenService.Close(ctx)
		if err != nil {
			logger.Warn("failed to close sync token service", zap.Error(err))
		}
	}

	healthServer.Shutdown()

	err = webServer.Shutdown(ctx)
	if err != nil {
		logger.Warn("failed to shutdown web server", zap.Error(err))
	}

	if etcdClient != nil {
		_ = etcdClient.Close()
	}

	if otlpTracerProvider != nil {
		_ = otlpTracerProvider.Shutdown(ctx)
	}
	if otlpMeterProvider != nil {
		_ = otlpMeterProvider.Shutdown(ctx)
	}

	logger.Info("discovery shutdown gracefully")
}

// withEndpointProperties adds the advertised endpoints of this node to its
// configured properties, explicitly configured values are kept.
func withEndpointProperties(logger *zap.Logger, config *config) map[string]string {
	props := maps.Clone(config.properties)
	if props == nil {
		props = make(map[string]string)
	}

	endpoints := map[string]int{
		"health-endpoint": config.healthPort,
		"web-endpoint":    config.webPort,
	}
	for key, port := range endpoints {
		if _, ok := props[key]; ok {
			continue
		}

		endpoint, err := netutils.AdvertiseEndpoint(config.advertiseAddress, config.bindAddress, port)
		if err != nil {
			logger.Warn("failed to determine advertise address", zap.String("property", key), zap.Error(err))
			continue
		}
		props[key] = endpoint
	}

	return props
}

func startWatchdog() {
	_, logger := getLogger()
	logger = logger.Named("watchdog")

	execProc := os.Args[0]
	execArgs := append([]string{"--auto-restart-proc"}, os.Args[1:]...)

	hasReceivedSigInt := false
	go func() {
		sigCh := make(chan os.Signal, 10)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		for sig := range sigCh {
			if sig == syscall.SIGINT {
				if hasReceivedSigInt {
					logger.Info("received sigint a second time, terminating...")
					os.Exit(1)
				} else {
					logger.Info("received sigint, waiting for graceful shutdown...")
					hasReceivedSigInt = true
				}
			} else if sig == syscall.SIGTERM {
				logger.Info("received sigterm, waiting for graceful shutdown...")
			}
		}
	}()

	for {
		logger.Info("starting sub-process")

		cmd := exec.Command(execProc, execArgs...)
		cmd.Stderr = os.Stderr
		cmd.Stdout = os.Stdout

		err := cmd.Start()
		if err != nil {
			logger.Info("failed to start sub-process", zap.Error(err))
		}

		err = cmd.Wait()
		if err == nil {
			// a clean exit means we were asked to shut down
			break
		}
		logger.Info("sub-process exited with error", zap.Error(err))

		if hasReceivedSigInt {
			break
		}

		delayTime := 1 * time.Second
		logger.Info("crash detected, restarting", zap.Duration("delay", delayTime))
		time.Sleep(delayTime)
	}
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}
