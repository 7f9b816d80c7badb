// Command discover discovers a single SupMCU module and prints its definition.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/KevinKickass/OpenSupMCU/internal/config"
	"github.com/KevinKickass/OpenSupMCU/internal/devices"
	"github.com/KevinKickass/OpenSupMCU/internal/supmcu"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func main() {
	kind := flag.String("kind", "sim", "bus kind: serial, i2c or sim")
	device := flag.String("device", "", "serial port or i2c device, e.g. /dev/ttyUSB0 or /dev/i2c-1")
	baud := flag.Int("baud", 115200, "serial baud rate")
	address := flag.Uint("address", 0x2A, "7-bit module address")
	cmdName := flag.String("cmd-name", "", "command prefix, derived from the version string if empty")
	name := flag.String("name", "", "module name")
	delay := flag.Duration("delay", 100*time.Millisecond, "settle delay between write and read")
	format := flag.String("format", "json", "output format: json or yaml")
	save := flag.String("save", "", "also write the definition into this directory")
	verbose := flag.Bool("v", false, "log bus traffic")
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			log.Fatalf("Failed to create logger: %v", err)
		}
		logger = l
	}
	defer logger.Sync()

	if *address == 0 || *address > 0x7F {
		log.Fatalf("address 0x%02X outside 7-bit range", *address)
	}

	bus := config.BusConfig{
		Name:          "cli",
		Kind:          *kind,
		Device:        *device,
		BaudRate:      *baud,
		ReadTimeout:   time.Second,
		ResponseDelay: *delay,
	}
	if *kind == "sim" {
		bus.Modules = []config.ModuleConfig{{Address: uint16(*address), CmdName: *cmdName}}
	}

	cfg := &config.Config{
		SupMCU: config.SupMCUConfig{
			ResponseDelay:     *delay,
			StringReplyLength: 128,
			DefinitionPaths:   []string{"."},
			DefinitionFormat:  *format,
		},
		Buses: []config.BusConfig{bus},
	}
	if *save != "" {
		cfg.SupMCU.DefinitionPaths = []string{*save}
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	manager, err := devices.NewManager(cfg, logger)
	if err != nil {
		log.Fatal(err)
	}
	if err := manager.OpenBus(bus); err != nil {
		log.Fatal(err)
	}
	defer manager.StopAll(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dispatcher, err := manager.Dispatcher(bus.Name)
	if err != nil {
		log.Fatal(err)
	}
	def, err := dispatcher.Discover(ctx, uint16(*address), supmcu.ModuleHint{CmdName: *cmdName, Name: *name})
	if err != nil {
		log.Fatalf("discovery failed: %v", err)
	}

	if *save != "" {
		path, err := manager.Loader().Save(def, *format)
		if err != nil {
			log.Fatalf("save failed: %v", err)
		}
		fmt.Fprintf(os.Stderr, "saved %s\n", path)
	}

	var out []byte
	switch *format {
	case devices.FormatYAML:
		out, err = yaml.Marshal(def)
	default:
		out, err = json.MarshalIndent(def, "", "  ")
	}
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(string(out))
}
