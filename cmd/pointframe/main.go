// Command pointframe runs the frame processing pipeline: a websocket and
// HTTP front end, the transformer workers, and the frame cache.
//
// Usage:
//
//	go run ./cmd/pointframe [flags]
//
// Settings come from -config (a JSON file, see config/pointframe.defaults.json);
// flags given on the command line override the file.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/pointframe/internal/config"
	"github.com/banshee-data/pointframe/internal/dispatch"
	"github.com/banshee-data/pointframe/internal/framecache"
	"github.com/banshee-data/pointframe/internal/pointcloud"
	"github.com/banshee-data/pointframe/internal/rpc"
	"github.com/banshee-data/pointframe/internal/server"
	"github.com/banshee-data/pointframe/internal/version"
	"github.com/banshee-data/pointframe/internal/viewer"
)

type options struct {
	configPath  string
	listen      string
	grpcListen  string
	remote      string
	workers     int
	queueDepth  int
	ordered     bool
	cache       string
	sqlitePath  string
	redisAddr   string
	dev         bool
	devInterval time.Duration
	devPoints   int
	showVersion bool
}

func newOptions(fs *flag.FlagSet) *options {
	o := &options{}
	fs.StringVar(&o.configPath, "config", "", "Path to a JSON config file")
	fs.StringVar(&o.listen, "listen", "", "HTTP listen address")
	fs.StringVar(&o.grpcListen, "grpc-listen", "", "gRPC listen address for remote callers (empty disables)")
	fs.StringVar(&o.remote, "remote", "", "Send frames to a remote pointframe gRPC server instead of local workers")
	fs.IntVar(&o.workers, "workers", 0, "Number of transformer workers")
	fs.IntVar(&o.queueDepth, "queue-depth", 0, "Dispatcher queue bound")
	fs.BoolVar(&o.ordered, "ordered", false, "Deliver responses in submission order")
	fs.StringVar(&o.cache, "cache", "", "Frame cache backend: memory, sqlite or redis")
	fs.StringVar(&o.sqlitePath, "sqlite-path", "", "SQLite frame cache file")
	fs.StringVar(&o.redisAddr, "redis-addr", "", "Redis address for the frame cache")
	fs.BoolVar(&o.dev, "dev", false, "Feed synthetic frames through the pipeline")
	fs.DurationVar(&o.devInterval, "dev-interval", 100*time.Millisecond, "Synthetic frame interval")
	fs.IntVar(&o.devPoints, "dev-points", 5000, "Points per synthetic frame")
	fs.BoolVar(&o.showVersion, "version", false, "Print the version and exit")
	return o
}

// apply copies the flags set on fs over cfg and revalidates it.
func (o *options) apply(fs *flag.FlagSet, cfg *config.Config) error {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Listen = &o.listen
		case "grpc-listen":
			cfg.GRPCListen = &o.grpcListen
		case "workers":
			cfg.Workers = &o.workers
		case "queue-depth":
			cfg.QueueDepth = &o.queueDepth
		case "ordered":
			cfg.Ordered = &o.ordered
		case "cache":
			cfg.CacheBackend = &o.cache
		case "sqlite-path":
			cfg.SQLitePath = &o.sqlitePath
		case "redis-addr":
			cfg.RedisAddr = &o.redisAddr
		}
	})
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return &config.Config{}, nil
	}
	return config.Load(path)
}

func main() {
	opts := newOptions(flag.CommandLine)
	flag.Parse()

	if opts.showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := opts.apply(flag.CommandLine, cfg); err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, cfg); err != nil {
		log.Fatal(err)
	}
}

func newTransformer(cfg *config.Config) (*pointcloud.Transformer, error) {
	axes, err := pointcloud.AxesByName(cfg.GetAxes())
	if err != nil {
		return nil, err
	}
	ramp, err := pointcloud.ColorRampByName(cfg.GetColorRamp())
	if err != nil {
		return nil, err
	}
	return pointcloud.NewTransformer(pointcloud.WithAxes(axes), pointcloud.WithColors(ramp)), nil
}

func run(ctx context.Context, opts *options, cfg *config.Config) error {
	log.Printf("Starting %s", version.String())

	store, err := framecache.Open(ctx, framecache.Options{
		Backend:     cfg.GetCacheBackend(),
		SQLitePath:  cfg.GetSQLitePath(),
		RedisAddr:   cfg.GetRedisAddr(),
		RedisPrefix: cfg.GetRedisPrefix(),
		RedisTTL:    cfg.GetRedisTTL(),
	})
	if err != nil {
		return fmt.Errorf("failed to open frame cache: %w", err)
	}
	defer store.Close()
	log.Printf("Frame cache: %s", framecache.BackendName(store))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var (
		processor  viewer.Processor
		dispatcher *dispatch.Dispatcher
	)
	if opts.remote != "" {
		client, err := rpc.Dial(opts.remote)
		if err != nil {
			return err
		}
		defer client.Close()
		processor = client
		log.Printf("Processing frames remotely at %s", opts.remote)
	} else {
		transformer, err := newTransformer(cfg)
		if err != nil {
			return err
		}
		dispatcher = dispatch.New(dispatch.Config{
			Workers:       cfg.GetWorkers(),
			QueueDepth:    cfg.GetQueueDepth(),
			Ordered:       cfg.GetOrdered(),
			StatsInterval: cfg.GetStatsInterval(),
			Transformer:   transformer,
			Registerer:    reg,
		})
		if err := dispatcher.Start(); err != nil {
			return err
		}
		defer dispatcher.Stop()
		processor = dispatcher.Shedder()
	}

	v := viewer.New(processor, store)
	srv, err := server.New(server.Config{
		ListenAddr:      cfg.GetListen(),
		MaxMessageBytes: cfg.GetMaxMessageBytes(),
		Downsample:      cfg.GetDownsample(),
		ClientFrameRate: cfg.GetClientFrameRate(),
		Gatherer:        reg,
	}, v, dispatcher)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })

	if addr := cfg.GetGRPCListen(); addr != "" {
		if dispatcher == nil {
			log.Printf("Ignoring grpc_listen %s: frames are processed remotely", addr)
		} else {
			rpcServer := rpc.NewServer(rpc.ServerConfig{
				ListenAddr: addr,
				MaxMsgSize: int(cfg.GetMaxMessageBytes()),
			}, rpc.NewService(dispatcher))
			if err := rpcServer.Start(); err != nil {
				return err
			}
			g.Go(func() error {
				<-ctx.Done()
				rpcServer.Stop()
				return nil
			})
		}
	}

	if opts.dev {
		gen := pointcloud.NewSyntheticGenerator()
		gen.PointCount = opts.devPoints
		g.Go(func() error {
			return v.RunSynthetic(ctx, gen, opts.devInterval, cfg.GetDownsample())
		})
	}

	err = g.Wait()
	log.Printf("Shutting down")
	return err
}
