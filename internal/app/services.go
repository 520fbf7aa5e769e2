package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dschuurman/duskd/internal/config"
	"github.com/dschuurman/duskd/internal/db"
	"github.com/dschuurman/duskd/internal/device"
	"github.com/dschuurman/duskd/internal/geo"
	"github.com/dschuurman/duskd/internal/scheduler"
	"github.com/dschuurman/duskd/internal/state"
	"github.com/dschuurman/duskd/internal/web"
)

// Services is a container for all application services.
// It manages initialization order and dependencies.
type Services struct {
	cfg *config.Config

	DB        *db.DB
	Settings  *db.SettingsRepo
	Store     *state.Store
	Geo       *geo.Calculator
	Commander *device.MQTTCommander
	Scheduler *scheduler.Scheduler
	Web       *web.Server

	wg sync.WaitGroup
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	// Shared state store, seeded from config then overridden by any
	// settings persisted from earlier runs
	s.Settings = db.NewSettingsRepo(database.DB)
	s.Store = state.NewStore(cfg.OffTime(), cfg.Brightness())
	if saved, ok, err := s.Settings.Load(); err != nil {
		log.Warn().Err(err).Msg("Failed to load persisted settings, using config defaults")
	} else if ok {
		s.Store.Restore(saved)
		log.Info().
			Stringer("off_time", saved.OffTime).
			Bool("lights_timer", saved.LightsTimer).
			Bool("outlets_timer", saved.OutletsTimer).
			Int("brightness", saved.Brightness).
			Msg("Restored persisted settings")
	}
	s.Store.SetPersister(s.Settings)

	// Geo calculator with SQLite-backed geocache
	s.Geo, err = geo.NewCalculator(
		cfg.Geo.Name,
		cfg.Geo.Lat,
		cfg.Geo.Lon,
		cfg.Geo.Timezone,
		cfg.Geo.HTTPTimeout.Duration(),
		geo.NewCache(database.DB),
	)
	if err != nil {
		s.Close()
		return nil, err
	}

	// Device command transport
	s.Commander, err = device.NewMQTTCommander(device.MQTTOptions{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		BaseTopic:   cfg.MQTT.BaseTopic,
		QoS:         cfg.MQTT.QoS,
		CommandRate: cfg.MQTT.CommandRate,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	// Scheduler, wired as the store's change notifier
	s.Scheduler = scheduler.New(
		s.Store,
		s.Commander,
		s.Geo,
		s.Geo.Timezone(),
		cfg.Devices.Lights,
		cfg.Devices.Outlets,
	)
	s.Store.SetNotifier(s.Scheduler)

	// Control web interface (optional)
	if cfg.Web.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
		s.Web = web.New(addr, s.Store, s.Commander, s.Scheduler, s.Geo.Timezone(),
			cfg.Devices.Lights, cfg.Devices.Outlets, cfg.Log.File)
	} else {
		log.Info().Msg("Web interface disabled")
	}

	return s, nil
}

// Start resolves the location (startup precondition) and launches the
// scheduler run loop and the web server.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	// Fail fast: an unresolvable location means no dusk computation
	if err := s.Geo.Resolve(ctx); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Scheduler.Run(ctx); err != nil {
			onFatalError(err)
		}
	}()

	if s.Web != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.Web.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
				onFatalError(err)
			}
		}()
	}

	return nil
}

// Stop waits for background services and releases resources.
func (s *Services) Stop() error {
	s.wg.Wait()
	return s.Close()
}

// Close releases connections. Safe to call on a partially-built container.
func (s *Services) Close() error {
	if s.Commander != nil {
		s.Commander.Close()
	}
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}
