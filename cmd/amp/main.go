// Command amp wires the playback core (cache, device, engine, queue,
// radio engine) together behind the inbound command surface of §6.
// The GUI shell is an explicit Non-goal; this entrypoint brings the
// core up and tears it down cleanly, for embedding by whatever
// front-end drives it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/vorce/amp/internal/api"
	"github.com/vorce/amp/internal/cast"
	"github.com/vorce/amp/internal/config"
	"github.com/vorce/amp/internal/download"
	"github.com/vorce/amp/internal/events"
	"github.com/vorce/amp/internal/playback/cache"
	"github.com/vorce/amp/internal/playback/device"
	"github.com/vorce/amp/internal/playback/engine"
	"github.com/vorce/amp/internal/playback/queue"
	"github.com/vorce/amp/internal/playback/radio"
	"github.com/vorce/amp/internal/storage"
)

var (
	configPath   = flag.String("config", "", "Path to configuration file")
	debug        = flag.Bool("debug", false, "Enable debug mode - shows detailed logging for all components")
	playSlugFlag = flag.String("play", "", "Catalog slug to resolve and start playing at startup (exercises the fetch/cache/engine path without a frontend)")
	Version      = "dev"
)

// Core bundles the five playback subsystems plus their collaborators,
// the unit main() brings up and tears down.
type Core struct {
	Config  *config.Config
	DB      *storage.Database
	API     *api.Client
	Fetcher *download.Fetcher
	Cache   *cache.Cache
	Device  *device.Device
	Engine  *engine.Engine
	Queue   *queue.Queue
	Radio   *radio.Engine
	Events  *events.Bus
	Cast    cast.Discoverer
}

func buildCore(cfg *config.Config) (*Core, error) {
	db, err := storage.NewDatabase(cfg)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	if cfg.Audio.Cache.ReconcileOnStart {
		if err := db.Reconcile(context.Background()); err != nil {
			log.Printf("[MAIN] cache reconcile: %v", err)
		}
	}

	bus := events.NewBus()

	l1 := cache.New(cache.Config{L1SizeCap: cfg.Audio.Cache.L1SizeBytes}, db, cfg.Debug)
	l1.SetEvents(bus)

	if err := device.Init(); err != nil {
		return nil, fmt.Errorf("init audio device subsystem: %w", err)
	}
	dev := device.New(cfg.Debug)
	eng := engine.New(dev, cfg.Debug)
	eng.SetEvents(bus)

	apiClient := api.NewClient(cfg)
	fetcher := download.NewFetcher(cfg)

	radioEngine := radio.New(db, noopPoolFiller, cfg.Debug)
	radioEngine.SetEvents(bus)

	// No DLNA/Chromecast backend is wired yet; discoverRenderers logs
	// ErrNoRenderers under debug rather than failing startup, since cast output is
	// optional per spec §1.
	caster := cast.NoopDiscoverer{}
	discoverRenderers(caster, cfg.Debug)

	return &Core{
		Config:  cfg,
		DB:      db,
		API:     apiClient,
		Fetcher: fetcher,
		Cache:   l1,
		Device:  dev,
		Engine:  eng,
		Queue:   queue.New(),
		Radio:   radioEngine,
		Events:  bus,
		Cast:    caster,
	}, nil
}

func discoverRenderers(d cast.Discoverer, debug bool) {
	renderers, err := d.Discover(context.Background())
	if err != nil {
		if debug {
			log.Printf("[MAIN] cast discovery: %v", err)
		}
		return
	}
	if debug {
		log.Printf("[MAIN] cast discovery found %d renderer(s)", len(renderers))
	}
}

// noopPoolFiller is the default radio pool filler until a catalog
// collaborator is wired in: a session can be created and resumed, but
// selection will report ErrExhausted until InsertPoolTrack is called
// through some other path (e.g. a UI-driven catalog browse).
func noopPoolFiller(ctx context.Context, session *storage.RadioSession) error {
	return nil
}

func (c *Core) Close() {
	if err := c.Engine.Close(); err != nil {
		log.Printf("[MAIN] engine close: %v", err)
	}
	if err := c.Device.Close(); err != nil {
		log.Printf("[MAIN] device close: %v", err)
	}
	if err := device.Terminate(); err != nil {
		log.Printf("[MAIN] device terminate: %v", err)
	}
	if err := c.DB.Close(); err != nil {
		log.Printf("[MAIN] storage close: %v", err)
	}
}

func main() {
	flag.Parse()

	if *debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
		log.Println("[MAIN] Debug mode enabled - all components will log detailed information")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[MAIN] Failed to load config: %v", err)
	}
	if *debug {
		cfg.Debug = true
	}

	if cfg.Debug {
		log.Printf("[MAIN] amp %s starting", Version)
		log.Printf("[MAIN] - Database Path: %s", cfg.Storage.DatabasePath)
		log.Printf("[MAIN] - Cache Directory: %s", cfg.Storage.CacheDir)
		log.Printf("[MAIN] - Bit-perfect device: %v", cfg.Audio.Device.BitPerfect)
		log.Printf("[MAIN] - Radio artist spacing: %d", cfg.Radio.ArtistSpacing)
	}

	core, err := buildCore(cfg)
	if err != nil {
		log.Fatalf("[MAIN] Failed to bring up playback core: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go waitForShutdown(cancel)

	if *playSlugFlag != "" {
		if err := core.playSlug(ctx, *playSlugFlag); err != nil {
			log.Printf("[MAIN] play %q: %v", *playSlugFlag, err)
		}
	}

	<-ctx.Done()
	core.Close()
	log.Printf("[MAIN] Graceful shutdown completed")
}

// playSlug resolves a catalog slug to its fingerprint and starts
// playback through the full §2 data-flow: remote-catalog resolve,
// cache probe, and fetch-or-play.
func (c *Core) playSlug(ctx context.Context, slug string) error {
	song, err := c.API.GetSong(ctx, slug)
	if err != nil {
		return fmt.Errorf("get song %q: %w", slug, err)
	}
	fp := api.Fingerprint(song.Slug)
	return c.Play(ctx, fp, api.QualityHigh)
}

func waitForShutdown(cancel context.CancelFunc) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	sig := <-c
	log.Printf("[MAIN] Received signal: %v", sig)
	cancel()
}
