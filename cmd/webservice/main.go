package main

import (
	"flag"
	"log"
	"net/http"

	"github.com/ohowland/gridplan/internal/pkg/metrics"
	"github.com/ohowland/gridplan/internal/pkg/webservice"
)

func main() {
	configPath := flag.String("config", "./config/webservice.json", "service configuration file")
	flag.Parse()

	cfg, err := webservice.LoadConfig(*configPath)
	if err != nil {
		log.Fatal("[Main] ", err)
	}
	m, err := metrics.New(nil)
	if err != nil {
		log.Fatal("[Main] ", err)
	}

	app := webservice.New(webservice.PlannerRunner(m), m, webservice.WithRetention(cfg.Retention()))
	log.Println("Starting Server on Port", cfg.Port)
	if err := http.ListenAndServe(cfg.Port, app.Router()); err != nil {
		log.Fatal("[Main] ", err)
	}
}
