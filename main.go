package main

import (
	"net/http"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	appConfig "bluhub/config"
	"bluhub/database"
	"bluhub/device"
	"bluhub/discovery"
	"bluhub/handlers"
	"bluhub/registry"
	appSentry "bluhub/sentry"
	"bluhub/status"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debugf("no .env file loaded: %v", err)
	}

	log.SetFormatter(&nested.Formatter{
		HideKeys:    true,
		FieldsOrder: []string{"module", "method"},
	})

	cfg := appConfig.New()
	appSentry.Init(cfg.Sentry.DSN)

	if err := run(cfg); err != nil {
		log.Fatal(err)
	}
}

func run(cfg *appConfig.Config) error {
	db, err := database.New(cfg.Options.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	devices := device.NewHTTPClient(cfg.Device.Timeout())
	mdns := discovery.NewMDNS(cfg.Discovery)

	reg := registry.New(devices, mdns, db)
	if err := reg.LoadCache(); err != nil {
		log.Warnf("could not seed player cache: %v", err)
	}

	sync := status.NewSynchronizer(devices, cfg.Device.PollInterval())
	defer sync.Deselect()

	router := gin.Default()
	if cfg.Sentry.IsEnabled() {
		router.Use(appSentry.GetSentryGin())
	}

	manager := handlers.NewManager(cfg, db, reg, sync, devices)
	manager.Register(router)

	port := cfg.Options.Port
	if port == "" {
		port = "8080"
	}
	log.Infof("Starting server on :%s", port)
	return http.ListenAndServe(":"+port, router)
}
