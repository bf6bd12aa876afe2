package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.bug.st/serial"

	"github.com/bitcrane-tools/hashboard-tester/internal/fixture"
	"github.com/bitcrane-tools/hashboard-tester/internal/server"
	"github.com/bitcrane-tools/hashboard-tester/internal/sweep"
	"github.com/bitcrane-tools/hashboard-tester/web"
)

func main() {
	configPath := flag.String("config", "/etc/hashboard-tester/config.yaml", "Path to config file")
	sim := flag.Bool("sim", false, "Run against a simulated fixture")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	portPath := flag.String("port", "", "Override fixture serial port (e.g. /dev/ttyUSB0)")
	model := flag.String("model", "", "Override miner model")
	listPorts := flag.Bool("list-ports", false, "List available serial ports and exit")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	if *listPorts {
		ports, err := serial.GetPortsList()
		if err != nil {
			log.Fatalf("[main] port enumeration failed: %v", err)
		}
		if len(ports) == 0 {
			fmt.Println("no serial ports found")
			return
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	log.Println("[main] hashboard-tester starting")

	// Load config
	cfg := server.LoadConfig(*configPath)

	if *sim {
		cfg.Fixture.Type = "sim"
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if *portPath != "" {
		cfg.Fixture.PortPath = *portPath
		cfg.Fixture.Type = "bitcrane"
	}
	if *model != "" {
		cfg.Fixture.Model = *model
	}

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	// Wire the sweep controller to real hardware or the simulator
	var dial sweep.DialFunc
	var enumerate func() ([]string, error)
	switch cfg.Fixture.Type {
	case "bitcrane":
		dial = nil // controller default: open the serial driver
		enumerate = serial.GetPortsList
		log.Printf("[main] fixture: bitcrane on %s", cfg.Fixture.PortPath)
	default:
		dial = func(_ fixture.ConnectionConfig, logf func(string, ...any)) (sweep.Device, error) {
			return fixture.NewSim(logf), nil
		}
		log.Printf("[main] fixture: simulated")
	}

	ctrl := sweep.NewController(dial, enumerate)

	srv := server.New(cfg, ctrl, web.FS)
	if err := srv.Run(ctx); err != nil {
		log.Printf("[main] server exited: %v", err)
	}
}
