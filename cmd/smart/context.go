package main

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/RTIInternational/SMART-sub000/internal/api"
	"github.com/RTIInternational/SMART-sub000/internal/assign"
	"github.com/RTIInternational/SMART-sub000/internal/cache"
	"github.com/RTIInternational/SMART-sub000/internal/config"
	"github.com/RTIInternational/SMART-sub000/internal/fill"
	"github.com/RTIInternational/SMART-sub000/internal/irr"
	"github.com/RTIInternational/SMART-sub000/internal/lease"
	"github.com/RTIInternational/SMART-sub000/internal/logging"
	"github.com/RTIInternational/SMART-sub000/internal/queuesync"
	"github.com/RTIInternational/SMART-sub000/internal/store"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// components holds everything a command needs wired against one open store.
type components struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	cache   *cache.Store
	sync    *queuesync.Synchronizer
	filler  *fill.Filler
	service *api.Service
}

// withComponents opens the store, wires the service graph, runs fn, and
// closes the store.
func (c *commandContext) withComponents(fn func(*components) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	cacheStore := cache.New()
	sync := queuesync.New(st, cacheStore, cfg.RebuildLockPath(), logger)
	filler := fill.New(st, cacheStore, sync, logger)
	engine := irr.New(st, cacheStore, logger)
	manager := assign.New(st, cacheStore, engine, logger)
	leases := lease.New(st, time.Duration(cfg.Lease.TimeoutSeconds)*time.Second, logger)
	service := api.New(st, cacheStore, manager, engine, nil, leases, logger)

	return fn(&components{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		cache:   cacheStore,
		sync:    sync,
		filler:  filler,
		service: service,
	})
}
