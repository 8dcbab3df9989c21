package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nlr-erp/opsmail/internal/mail"
	"github.com/nlr-erp/opsmail/internal/model"
	"github.com/nlr-erp/opsmail/internal/profile"
	"github.com/nlr-erp/opsmail/internal/store"
	"github.com/nlr-erp/opsmail/internal/sync"
)

func main() {
	configPath := flag.String("config", model.DefaultConfigPath(), "Path to configuration file")
	checkOnly := flag.Bool("check", false, "Test connectivity against the active profile and exit")
	flag.Parse()

	log := logrus.New()

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("loading configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("opening database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.WithError(err).Error("closing database")
		}
	}()

	profiles := profile.NewProvider(db)
	factory := &mail.Factory{Timeouts: cfg.Timeouts, Log: log}
	locator := mail.NewLocator(log)
	manager := mail.NewManager(profiles, factory, log)
	gateway := mail.NewGateway(profiles, factory, locator, log)
	dispatcher := mail.NewDispatcher(profiles, db, factory, locator, log)
	dispatcher.AppendToSent = cfg.AppendToSent
	svc := mail.NewService(manager, gateway, dispatcher, locator, cfg.Timeouts, log)

	if *checkOnly {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := svc.TestConnectivity(ctx); err != nil {
			log.WithError(err).Fatal("connectivity check failed")
		}
		log.Info("connectivity check passed")
		return
	}

	poller := sync.New(svc, db, time.Duration(cfg.PollIntervalSec)*time.Second, log)
	poller.Start()
	log.WithField("interval_sec", cfg.PollIntervalSec).Info("inbox poller started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	poller.Stop()
	if err := manager.Close(); err != nil {
		log.WithError(err).Warn("closing shared session")
	}
}
