// Command aegisctl is a reference binary that wires every AegisTrader
// component together and runs a single example service instance:
// urfave/cli/v2 flags dual-bound to env vars, signal-driven graceful
// shutdown, generalized from a control-plane HTTP server to a
// single-active load-balanced service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/urfave/cli/v2"

	"github.com/ryanflavor/aegistrader/internal/client"
	"github.com/ryanflavor/aegistrader/internal/config"
	"github.com/ryanflavor/aegistrader/internal/discovery"
	"github.com/ryanflavor/aegistrader/internal/domain"
	"github.com/ryanflavor/aegistrader/internal/election"
	"github.com/ryanflavor/aegistrader/internal/etcd"
	"github.com/ryanflavor/aegistrader/internal/kv/etcdkv"
	"github.com/ryanflavor/aegistrader/internal/logger"
	"github.com/ryanflavor/aegistrader/internal/observability"
	"github.com/ryanflavor/aegistrader/internal/registry"
	"github.com/ryanflavor/aegistrader/internal/retry"
	"github.com/ryanflavor/aegistrader/internal/router"
	"github.com/ryanflavor/aegistrader/internal/runtime"
	"github.com/ryanflavor/aegistrader/internal/singleactive"
	"github.com/ryanflavor/aegistrader/internal/transport/redistransport"
)

func main() {
	app := &cli.App{
		Name:    "aegisctl",
		Usage:   "AegisTrader reference service host",
		Version: "0.1.0",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Start a single-active example service instance",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "service-name",
						Usage:   "Service name this instance registers under",
						Value:   "example-service",
						EnvVars: []string{"AEGIS_SERVICE_NAME"},
					},
					&cli.StringFlag{
						Name:    "version",
						Usage:   "Semantic version this instance reports",
						Value:   "0.1.0",
						EnvVars: []string{"AEGIS_VERSION"},
					},
					&cli.StringSliceFlag{
						Name:    "transport-servers",
						Usage:   "Redis transport servers (comma-separated, repeatable)",
						Value:   cli.NewStringSlice("localhost:6379"),
						EnvVars: []string{"AEGIS_TRANSPORT_SERVERS"},
					},
					&cli.StringSliceFlag{
						Name:    "etcd-endpoints",
						Usage:   "etcd endpoints backing the registry and election KV",
						Value:   cli.NewStringSlice("localhost:2379"),
						EnvVars: []string{"AEGIS_ETCD_ENDPOINTS"},
					},
					&cli.DurationFlag{
						Name:    "leader-ttl",
						Usage:   "Election lease TTL; 0 disables single-active election",
						Value:   0,
						EnvVars: []string{"AEGIS_LEADER_TTL_SECONDS"},
					},
					&cli.StringFlag{
						Name:    "group-id",
						Usage:   "Sticky-active election group",
						Value:   "default",
						EnvVars: []string{"AEGIS_GROUP_ID"},
					},
				},
				Action: runServe,
			},
			{
				Name:  "call",
				Usage: "Resolve a service via Discovery and invoke an RPC method on it",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "service",
						Usage:    "Target service name",
						Required: true,
						EnvVars:  []string{"AEGIS_CALL_SERVICE"},
					},
					&cli.StringFlag{
						Name:     "method",
						Usage:    "RPC method name",
						Required: true,
						EnvVars:  []string{"AEGIS_CALL_METHOD"},
					},
					&cli.StringFlag{
						Name:    "params",
						Usage:   "RPC params as a JSON object",
						Value:   "{}",
						EnvVars: []string{"AEGIS_CALL_PARAMS"},
					},
					&cli.DurationFlag{
						Name:    "timeout",
						Usage:   "RPC timeout",
						Value:   5 * time.Second,
						EnvVars: []string{"AEGIS_CALL_TIMEOUT"},
					},
					&cli.StringSliceFlag{
						Name:    "transport-servers",
						Usage:   "Redis transport servers (comma-separated, repeatable)",
						Value:   cli.NewStringSlice("localhost:6379"),
						EnvVars: []string{"AEGIS_TRANSPORT_SERVERS"},
					},
					&cli.StringSliceFlag{
						Name:    "etcd-endpoints",
						Usage:   "etcd endpoints backing the registry",
						Value:   cli.NewStringSlice("localhost:2379"),
						EnvVars: []string{"AEGIS_ETCD_ENDPOINTS"},
					},
					&cli.DurationFlag{
						Name:    "stale-threshold",
						Usage:   "Heartbeat age beyond which a discovered instance is treated as unhealthy",
						Value:   15 * time.Second,
						EnvVars: []string{"AEGIS_STALE_THRESHOLD_SECONDS"},
					},
				},
				Action: runCall,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(c *cli.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx, log := logger.PrepareLogger(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutdown signal received")
		cancel()
	}()

	cfg, err := buildConfig(c)
	if err != nil {
		return fmt.Errorf("build config: %w", err)
	}

	etcdClient, err := etcd.NewClient(etcd.Config{Endpoints: cfg.EtcdEndpoints, DialTimeout: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("connect etcd: %w", err)
	}
	defer etcdClient.Close()

	store := etcdkv.New(etcdClient)
	reg := registry.New(store, nil)
	elect := election.New(store, nil)

	transportAdapter := redistransport.New()
	if err := transportAdapter.Connect(ctx, cfg.TransportServers); err != nil {
		return fmt.Errorf("connect transport: %w", err)
	}

	handlers := router.NewHandlerRegistry()
	metrics := observability.New()

	var sa *singleactive.Runtime
	if cfg.LeaderTTL > 0 {
		sa = singleactive.New(cfg, transportAdapter, reg, elect, handlers, nil)
		sa.SetMetrics(metrics)
		registerExampleHandlers(handlers, sa)
	} else {
		registerExampleHandlers(handlers, nil)
	}

	svc := buildLifecycle(cfg, transportAdapter, reg, elect, handlers, metrics, sa)

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start runtime: %w", err)
	}
	log.Info("aegisctl started",
		zap.String("service", cfg.ServiceName.String()),
		zap.String("instance", svc.InstanceID().String()))

	<-ctx.Done()

	log.Info("stopping aegisctl")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Warn("error during shutdown", zap.Error(err))
	}
	return nil
}

// runCall wires Discovery → Transport → RetryPolicy into a client.Client
// and issues one RPC call, printing the decoded result to stdout. It is
// the binary's demonstration of §2's Outbound RPC data flow.
func runCall(c *cli.Context) error {
	ctx, log := logger.PrepareLogger(context.Background())

	svc, err := domain.NewServiceName(c.String("service"))
	if err != nil {
		return fmt.Errorf("invalid service name: %w", err)
	}

	var params map[string]interface{}
	if err := json.Unmarshal([]byte(c.String("params")), &params); err != nil {
		return fmt.Errorf("invalid --params JSON: %w", err)
	}

	etcdClient, err := etcd.NewClient(etcd.Config{Endpoints: c.StringSlice("etcd-endpoints"), DialTimeout: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("connect etcd: %w", err)
	}
	defer etcdClient.Close()

	store := etcdkv.New(etcdClient)
	reg := registry.New(store, nil)
	disc := discovery.NewCached(discovery.NewBasic(reg, c.Duration("stale-threshold")), time.Second, 256, nil)

	transportAdapter := redistransport.New()
	if err := transportAdapter.Connect(ctx, c.StringSlice("transport-servers")); err != nil {
		return fmt.Errorf("connect transport: %w", err)
	}
	defer transportAdapter.Close()

	cl := client.New(disc, transportAdapter, retry.DefaultPolicy(), domain.RoundRobin)

	resp, err := cl.Call(ctx, svc, c.String("method"), params, c.Duration("timeout"), nil)
	if err != nil {
		return fmt.Errorf("call %s.%s: %w", svc, c.String("method"), err)
	}

	out, err := json.MarshalIndent(resp.Result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	log.Info("call succeeded", zap.String("service", svc.String()), zap.String("method", c.String("method")))
	fmt.Println(string(out))
	return nil
}

func buildConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Defaults()
	cfg.ServiceName = domain.ServiceName(c.String("service-name"))
	cfg.Version = domain.SemVer(c.String("version"))
	cfg.TransportServers = c.StringSlice("transport-servers")
	cfg.EtcdEndpoints = c.StringSlice("etcd-endpoints")
	cfg.LeaderTTL = c.Duration("leader-ttl")
	cfg.GroupID = c.String("group-id")
	return config.New(cfg)
}

// registerExampleHandlers wires a minimal ping RPC, wrapped exclusive when
// sa is non-nil, demonstrating the §4.7 exclusive-RPC gating pattern.
func registerExampleHandlers(handlers *router.HandlerRegistry, sa *singleactive.Runtime) {
	ping := func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{"pong": true}, nil
	}
	if sa != nil {
		sa.RegisterExclusiveRPC(handlers, "ping", ping)
		return
	}
	handlers.RegisterRPC("ping", ping)
}

// lifecycle is the subset of runtime.Runtime/singleactive.Runtime this
// binary drives; it lets runServe treat both the same way.
type lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	InstanceID() domain.InstanceID
}

func buildLifecycle(
	cfg *config.Config,
	t *redistransport.Adapter,
	reg *registry.Registry,
	elect *election.Repository,
	handlers *router.HandlerRegistry,
	metrics *observability.Registry,
	sa *singleactive.Runtime,
) lifecycle {
	if sa != nil {
		return sa
	}
	rt := runtime.New(cfg, t, reg, handlers, nil)
	rt.SetMetrics(metrics)
	return rt
}
