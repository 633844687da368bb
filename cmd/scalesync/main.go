// scalesync repairs the PLU numbers of random-weight items in the POS
// catalog and downloads the resulting catalog to CAS label scales.
//
// A run fetches the catalog, assigns PLUs to items that lack a valid one,
// pushes the corrections back to the POS system, then drives every scale
// through connect, optional wipe and item download until all complete or
// the timeout passes. Progress is logged and, when configured, mirrored to
// MQTT, InfluxDB and the status API's WebSocket stream. Every run is
// recorded in SQLite.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/scalesync/internal/api"
	"github.com/nerrad567/scalesync/internal/history"
	"github.com/nerrad567/scalesync/internal/infrastructure/config"
	"github.com/nerrad567/scalesync/internal/infrastructure/database"
	"github.com/nerrad567/scalesync/internal/infrastructure/influxdb"
	"github.com/nerrad567/scalesync/internal/infrastructure/logging"
	"github.com/nerrad567/scalesync/internal/infrastructure/mqtt"
	"github.com/nerrad567/scalesync/internal/plu"
	"github.com/nerrad567/scalesync/internal/pos"
	"github.com/nerrad567/scalesync/internal/scale"
	"github.com/nerrad567/scalesync/internal/scale/caslib"
	"github.com/nerrad567/scalesync/internal/scale/simulator"
	"github.com/nerrad567/scalesync/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Cancelled on interrupt
//   - args: Command-line arguments without the program name
//   - stdout: Receives the per-scale result lines
//
// Returns:
//   - error: nil when at least one scale completed (or -no-scales)
func run(ctx context.Context, args []string, stdout io.Writer) error {
	log := logging.Default()

	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(flags.configPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	flags.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log = logging.New(cfg.Logging, version)
	log.Info("starting scalesync",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	repo := history.NewSQLiteRepository(db.DB)

	mqttClient := connectMQTT(cfg, log)
	if mqttClient != nil {
		defer mqttClient.Close() //nolint:errcheck // logged inside Close
	}
	influxClient := connectInfluxDB(ctx, cfg, log)
	if influxClient != nil {
		defer influxClient.Close() //nolint:errcheck // always nil
	}

	var srv *api.Server
	if cfg.API.Enabled {
		srv, err = startAPI(ctx, cfg, repo, log)
		if err != nil {
			return err
		}
	}

	s := &session{
		cfg:      cfg,
		noScales: flags.noScales,
		repo:     repo,
		mqtt:     mqttClient,
		influx:   influxClient,
		server:   srv,
		log:      log,
		stdout:   stdout,
	}

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		defer close(done)
		return s.sync(gctx)
	})
	if srv != nil {
		g.Go(func() error {
			select {
			case <-done:
			case <-gctx.Done():
			}
			return srv.Close()
		})
	}
	return g.Wait()
}

// loadConfig reads path. A missing file at the default path falls back to
// defaults plus environment, which is enough when credentials come from
// SCALESYNC_* variables.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) && path == defaultConfigPath {
		return config.Default(), nil
	}
	return cfg, err
}

func connectMQTT(cfg *config.Config, log *logging.Logger) *mqtt.Client {
	if !cfg.MQTT.Enabled {
		return nil
	}
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		log.Warn("MQTT unavailable, continuing without it", "error", err)
		return nil
	}
	client.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	return client
}

func connectInfluxDB(ctx context.Context, cfg *config.Config, log *logging.Logger) *influxdb.Client {
	if !cfg.InfluxDB.Enabled {
		return nil
	}
	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
	if err != nil {
		log.Warn("InfluxDB unavailable, continuing without it", "error", err)
		return nil
	}
	client.SetOnError(func(err error) {
		log.Warn("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	return client
}

func startAPI(ctx context.Context, cfg *config.Config, repo history.Repository, log *logging.Logger) (*api.Server, error) {
	srv, err := api.New(api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log,
		History: repo,
		Version: version,
	})
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting API server: %w", err)
	}
	return srv, nil
}

// session is one sync run and the sinks that observe it.
type session struct {
	cfg      *config.Config
	noScales bool
	repo     history.Repository
	mqtt     *mqtt.Client
	influx   *influxdb.Client
	server   *api.Server
	log      *logging.Logger
	stdout   io.Writer
}

// sync prepares the catalog, records the run, then downloads to scales.
func (s *session) sync(ctx context.Context) error {
	posClient, err := pos.New(s.cfg.POS)
	if err != nil {
		return fmt.Errorf("creating POS client: %w", err)
	}
	posClient.SetLogger(s.log)

	opts := plu.Options{
		UPCPattern:      regexp.MustCompile(s.cfg.Scales.UPCPattern),
		IncludeInternal: s.cfg.Scales.IncludeInternal,
		MinQuantity:     s.cfg.Scales.MinQuantity,
	}
	prepared, prepErr := plu.Prepare(ctx, posClient, opts, s.log)

	run := history.NewRun{Wipe: s.cfg.Scales.Wipe, Scales: len(s.cfg.Scales.Addresses)}
	if s.noScales {
		run.Scales = 0
	}
	if prepared != nil {
		run.Items = len(prepared.Items)
	}
	runID, err := s.repo.CreateRun(ctx, run)
	if err != nil {
		return fmt.Errorf("recording sync run: %w", err)
	}
	log := s.log.With("run_id", runID)

	if prepErr != nil {
		s.finishRun(ctx, runID, nil, prepErr)
		return prepErr
	}
	if err := s.repo.RecordAssignments(ctx, runID, prepared.Corrections); err != nil {
		log.Warn("recording PLU corrections failed", "error", err)
	}
	log.Info("catalog prepared",
		"items", len(prepared.Items),
		"corrections", len(prepared.Corrections),
		"dropped", prepared.Dropped,
	)

	if s.noScales {
		s.finishRun(ctx, runID, &scale.Result{}, nil)
		log.Info("skipping scales")
		return nil
	}

	vendor, closeVendor, err := s.openVendor(log)
	if err != nil {
		s.finishRun(ctx, runID, nil, err)
		return err
	}
	defer closeVendor()

	driver, err := scale.NewDriver(scale.DriverOptions{
		Vendor: vendor,
		Port:   uint16(s.cfg.Scales.Port),  // #nosec G115 -- validated 1..65535
		Model:  uint16(s.cfg.Scales.Model), // #nosec G115 -- validated 1..65535
		Logger: log,
	})
	if err != nil {
		s.finishRun(ctx, runID, nil, err)
		return err
	}
	defer driver.Registry().Close()
	if s.server != nil {
		s.server.SetScales(driver.Registry())
	}

	syncer, err := scale.NewSyncer(scale.SyncerOptions{
		Driver:       driver,
		Observers:    s.observers(runID, log),
		PollInterval: s.cfg.PollInterval(),
		Logger:       log,
	})
	if err != nil {
		s.finishRun(ctx, runID, nil, err)
		return err
	}

	res, err := syncer.Run(ctx, prepared.Items, scale.RunOptions{
		Addresses:    s.cfg.Scales.Addresses,
		ShouldDelete: s.cfg.Scales.Wipe,
		Timeout:      s.cfg.SyncTimeout(),
		ShowProgress: s.cfg.Scales.Progress,
	})
	if res == nil {
		// Rejected before any observer was told.
		s.finishRun(ctx, runID, nil, err)
		return err
	}
	for _, line := range res.Lines() {
		fmt.Fprintln(s.stdout, line)
	}
	stats := driver.Stats()
	log.Debug("driver stats",
		"state_callbacks", stats.StateCallbacks,
		"receive_callbacks", stats.ReceiveCallbacks,
		"events_dropped", stats.EventsDropped,
		"unknown_address", stats.UnknownAddress,
		"items_sent", stats.ItemsSent,
	)
	return err
}

// openVendor returns the scale library and its release function.
func (s *session) openVendor(log *logging.Logger) (scale.Vendor, func(), error) {
	if s.cfg.Scales.Simulate {
		log.Info("using scale simulator")
		sim := simulator.New(simulator.Options{})
		return sim, sim.Wait, nil
	}
	lib, err := caslib.Open(caslib.Options{Dir: s.cfg.Scales.SDKDir, Logger: log})
	if err != nil {
		return nil, nil, fmt.Errorf("opening CAS library: %w", err)
	}
	return lib, func() {
		if err := lib.Close(); err != nil {
			log.Warn("closing CAS library", "error", err)
		}
	}, nil
}

// observers returns the sinks for this run. History is always recorded.
func (s *session) observers(runID string, log *logging.Logger) []scale.Observer {
	obs := []scale.Observer{history.NewRecorder(s.repo, runID, log)}
	if s.server != nil && s.server.Hub() != nil {
		obs = append(obs, s.server.Hub())
	}
	if s.mqtt != nil {
		obs = append(obs, mqtt.NewSyncPublisher(s.mqtt, runID, log))
	}
	if s.influx != nil {
		obs = append(obs, influxdb.NewSyncMetrics(s.influx, runID))
	}
	return obs
}

// finishRun closes a run that ended before the syncer could report it.
func (s *session) finishRun(ctx context.Context, runID string, res *scale.Result, runErr error) {
	if err := s.repo.FinishRun(context.WithoutCancel(ctx), runID, res, runErr); err != nil {
		s.log.Warn("recording sync result failed", "run_id", runID, "error", err)
	}
}

// cliFlags holds the command line. Only flags the user set override the
// configuration.
type cliFlags struct {
	config         string
	upc            string
	scales         stringList
	noScales       bool
	timeoutSeconds int
	wipe           bool
	atLeast        float64
	progress       bool
	internal       bool
	simulate       bool

	set map[string]bool
}

// stringList is a repeatable string flag.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func parseFlags(args []string) (*cliFlags, error) {
	f := &cliFlags{set: make(map[string]bool)}
	set := flag.NewFlagSet("scalesync", flag.ContinueOnError)
	set.StringVar(&f.config, "config", "", "config file (default $SCALESYNC_CONFIG or "+defaultConfigPath+")")
	set.StringVar(&f.upc, "upc", plu.DefaultUPCPattern, "regular expression selecting UPCs to send")
	set.Var(&f.scales, "scale", "scale address (repeatable)")
	set.BoolVar(&f.noScales, "no-scales", false, "repair and push PLUs without touching scales")
	set.IntVar(&f.timeoutSeconds, "timeout-seconds", 0, "give up on incomplete scales after this long (0 waits forever)")
	set.BoolVar(&f.wipe, "wipe", false, "delete every PLU on each scale before downloading")
	set.Float64Var(&f.atLeast, "at-least", plu.DefaultMinQuantity, "skip items with less quantity on hand")
	set.BoolVar(&f.progress, "progress", false, "log a status line per scale on every poll")
	set.BoolVar(&f.internal, "internal", false, "also send internal PLUs below 1000")
	set.BoolVar(&f.simulate, "simulate", false, "use the built-in scale simulator")

	if err := set.Parse(args); err != nil {
		return nil, err
	}
	if set.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(set.Args(), " "))
	}
	set.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	return f, nil
}

func (f *cliFlags) configPath() string {
	if f.config != "" {
		return f.config
	}
	if path := os.Getenv("SCALESYNC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// apply overrides cfg with every flag given on the command line. -scale
// appends to the configured addresses.
func (f *cliFlags) apply(cfg *config.Config) {
	if f.set["upc"] {
		cfg.Scales.UPCPattern = f.upc
	}
	cfg.Scales.Addresses = append(cfg.Scales.Addresses, f.scales...)
	if f.set["timeout-seconds"] {
		cfg.Scales.TimeoutSeconds = f.timeoutSeconds
	}
	if f.set["wipe"] {
		cfg.Scales.Wipe = f.wipe
	}
	if f.set["at-least"] {
		cfg.Scales.MinQuantity = f.atLeast
	}
	if f.set["progress"] {
		cfg.Scales.Progress = f.progress
	}
	if f.set["internal"] {
		cfg.Scales.IncludeInternal = f.internal
	}
	if f.set["simulate"] {
		cfg.Scales.Simulate = f.simulate
	}
}
