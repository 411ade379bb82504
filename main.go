package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/CodedInternet/iotcar/calcs"
	"github.com/CodedInternet/iotcar/comms"
	"github.com/CodedInternet/iotcar/onboard"
	"github.com/CodedInternet/iotcar/settings"
	"github.com/asdine/storm/v3"
	"github.com/caarlos0/env/v6"
)

type EnvConfig struct {
	ConfigFile  string        `env:"IOTCAR_CONFIG" envDefault:"./car.yaml"`
	Port        int           `env:"IOTCAR_PORT" envDefault:"0"`
	Admin       string        `env:"IOTCAR_ADMIN" envDefault:"0.0.0.0:8080"`
	DBFile      string        `env:"IOTCAR_DB" envDefault:"./tmp/dev.db"`
	Simulated   bool          `env:"IOTCAR_SIM" envDefault:"false"`
	DEBUG       bool          `env:"IOTCAR_DEBUG" envDefault:"false"`
	ReadTimeout time.Duration `env:"IOTCAR_READ_TIMEOUT" envDefault:"10s"`
	DB          *storm.DB
	Car         *onboard.Car
	Settings    *settings.Store
}

var (
	ENV    *EnvConfig
	logger = log.New(os.Stderr, "[iotcar] ", log.LstdFlags|log.Lmicroseconds)
)

func main() {
	ENV = new(EnvConfig)
	if err := env.Parse(ENV); err != nil {
		log.Fatalf("unable to read environment: %v", err)
	}

	// flags override the environment
	simulated := flag.Bool("sim", ENV.Simulated, "Run the car against simulated outputs")
	port := flag.Int("port", ENV.Port, "Port for the control listener, overrides the config file")
	admin := flag.String("admin", ENV.Admin, "Specify the ip:port for the admin API")
	configFile := flag.String("config", ENV.ConfigFile, "Path to the car yaml config")
	withShell := flag.Bool("shell", false, "Start the development shell")
	flag.Parse()
	ENV.Simulated = *simulated

	config, err := loadConfig(*configFile)
	if err != nil {
		log.Fatal(err)
	}
	if *port != 0 {
		config.Listener.Port = *port
		if err = config.Validate(); err != nil {
			log.Fatal(err)
		}
	}

	ENV.DB, err = openDb(ENV.DBFile)
	if err != nil {
		log.Fatalf("unable to open database %s: %v", ENV.DBFile, err)
	}
	defer ENV.DB.Close()

	if ENV.Simulated {
		logger.Println("creating simulated car")
		ENV.Car, _, err = onboard.NewCarSimulator(config)
	} else {
		ENV.Car, err = onboard.NewCarOnBoard(config)
	}
	if err != nil {
		log.Fatalf("unable to initialise car: %v", err)
	}
	defer ENV.Car.Close()

	ENV.Settings, err = newSettings(ENV.DB, ENV.Car)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listener := comms.NewListener(fmt.Sprintf(":%d", config.Listener.Port), comms.NewConductor(ENV.Car))
	listener.ReadTimeout = ENV.ReadTimeout
	if err = listener.Listen(); err != nil {
		log.Fatalf("unable to bind control port: %v", err)
	}

	if *withShell {
		shell := newShell(ENV.Car, ENV.Settings)
		go shell.Start()
		defer shell.Close()
	}

	server := &http.Server{Addr: *admin, Handler: newRouter(ENV.Car, ENV.Settings)}
	go func() {
		logger.Println("admin API listening on", *admin)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("admin API stopped: %v", err)
		}
	}()

	if err = listener.Serve(ctx); err != nil {
		logger.Printf("listener stopped: %v", err)
	}

	logger.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
	if err = ENV.Car.Stop(); err != nil {
		logger.Printf("unable to stop motor: %v", err)
	}
}

// loadConfig reads the yaml config, falling back to the built in wiring when the file is absent.
func loadConfig(filename string) (config onboard.CarConfig, err error) {
	data, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		logger.Printf("%s not found, using default config", filename)
		config = onboard.DefaultConfig()
		return config, config.Validate()
	}
	if err != nil {
		return config, fmt.Errorf("unable to read yaml file: %w", err)
	}
	return onboard.ParseConfig(data)
}

func openDb(dbFile string) (db *storm.DB, err error) {
	dir := filepath.Dir(dbFile)
	if err = os.MkdirAll(dir, 0755); err != nil {
		return
	}
	return storm.Open(dbFile)
}

// newSettings binds persisted settings to the car and replays what was stored last run.
func newSettings(db *storm.DB, car onboard.Actuator) (*settings.Store, error) {
	store, err := settings.New(db)
	if err != nil {
		return nil, err
	}
	store.OnChange(settings.MotorSpeed, func(_ string, value int) error {
		return car.SetMotorSpeed(calcs.FromInt(value))
	})

	if err = store.Replay(); err != nil {
		logger.Printf("unable to replay settings: %v", err)
	}
	return store, nil
}
