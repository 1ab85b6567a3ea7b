package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"stepdac/core"
	"stepdac/drivers/mcp4728"
	"stepdac/host/telemetry"
	"stepdac/standalone"
	"stepdac/standalone/config"
)

var (
	configPath = flag.String("config", "", "Configuration file (YAML or JSON)")
	device     = flag.String("device", "", "MCU serial device, overrides host.serial_device")
	i2cDevice  = flag.String("i2c", "", "Host I2C bus, overrides host.i2c_device")
	redisAddr  = flag.String("redis", "", "Redis address, overrides telemetry.redis_addr")
	verbose    = flag.Bool("verbose", false, "Enable debug output")
)

func main() {
	flag.Parse()

	log := pterm.DefaultLogger.WithLevel(pterm.LogLevelInfo)
	if *verbose {
		log = log.WithLevel(pterm.LogLevelDebug)
		core.SetDebugWriter(func(msg string) { log.Debug(msg) })
		core.SetDebugEnabled(true)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatal("failed to load config", log.Args("error", err))
		}
		cfg = loaded
	}
	if *device != "" {
		cfg.Host.SerialDevice = *device
	}
	if *i2cDevice != "" {
		cfg.Host.I2CDevice = *i2cDevice
	}
	if *redisAddr != "" {
		cfg.Telemetry.RedisAddr = *redisAddr
	}

	bus, err := openBus(cfg, log)
	if err != nil {
		log.Fatal("failed to open bus", log.Args("error", err))
	}
	defer bus.Close()

	dev := mcp4728.New(bus)
	dev.Address = cfg.StepperDAC.Address

	mgr, err := standalone.NewManagerWithConfig(cfg.StepperDAC.DACConfig(), dev)
	if err != nil {
		log.Fatal("invalid converter config", log.Args("error", err))
	}
	if err := mgr.Initialize(nil); err != nil {
		log.Fatal("failed to initialize converter", log.Args("error", err))
	}
	if err := mgr.Start(); err != nil {
		log.Fatal("failed to start", log.Args("error", err))
	}
	defer mgr.Stop()

	// The manager is driven from the prompt and the telemetry loop
	var mu sync.Mutex
	printOutput(mgr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if pub := telemetry.NewFromConfig(cfg.Telemetry); pub != nil {
		defer pub.Close()
		interval := time.Duration(cfg.Telemetry.IntervalMs) * time.Millisecond
		if interval <= 0 {
			interval = time.Second
		}
		go pub.Run(ctx, interval, func() []core.AxisCurrent {
			mu.Lock()
			defer mu.Unlock()
			return mgr.DAC().Report()
		}, func(err error) {
			log.Warn("telemetry", log.Args("error", err))
		})
		log.Info("publishing currents", log.Args("redis", cfg.Telemetry.RedisAddr, "key", cfg.Telemetry.Key))
	}

	pterm.Info.Println("Enter G-code (M907/M908/M909/M910) or a command; 'help' lists commands.")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		mu.Lock()
		quit := handleLine(mgr, line)
		mu.Unlock()
		if quit {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		log.Error("failed to read input", log.Args("error", err))
	}
}

// handleLine runs one prompt line and reports whether to quit
func handleLine(mgr *standalone.Manager, line string) bool {
	parts := strings.Fields(line)

	switch strings.ToLower(parts[0]) {
	case "quit", "exit", "q":
		return true

	case "help", "?":
		printHelp()

	case "report":
		printReport(mgr.DAC())

	case "set":
		pct, err := parsePercents(parts[1:])
		if err != nil {
			pterm.Error.Println(err)
			break
		}
		mgr.DAC().SetPercents(pct)
		printReport(mgr.DAC())

	default:
		for i := 0; i < len(line); i++ {
			mgr.ProcessByte(line[i])
		}
		mgr.ProcessByte('\n')
		printOutput(mgr)
	}

	if err := mgr.DAC().TakeLastError(); err != nil {
		pterm.Warning.Printf("Last bus error: %v\n", err)
	}
	return false
}

// parsePercents reads "set X Y Z E" arguments
func parsePercents(args []string) ([core.DACChannelCount]float32, error) {
	var pct [core.DACChannelCount]float32
	if len(args) != core.DACChannelCount {
		return pct, fmt.Errorf("set needs %d percents (X Y Z E), got %d", core.DACChannelCount, len(args))
	}
	for i, arg := range args {
		v, err := strconv.ParseFloat(arg, 32)
		if err != nil {
			return pct, fmt.Errorf("invalid percent %q", arg)
		}
		pct[i] = float32(v)
	}
	return pct, nil
}

func printOutput(mgr *standalone.Manager) {
	if out := mgr.GetOutput(); len(out) > 0 {
		fmt.Print(string(out))
	}
}

func printReport(dac *core.StepperDAC) {
	report := dac.Report()
	if report == nil {
		pterm.Warning.Println("No converter present")
		return
	}

	order := dac.Config().Order
	data := pterm.TableData{{"Axis", "Channel", "Percent", "Amps"}}
	for i, c := range report {
		data = append(data, []string{
			c.Label,
			string(rune('A' + order.Channel(core.Axis(i)))),
			fmt.Sprintf("%.2f", c.Percent),
			fmt.Sprintf("%.2f", c.Amps),
		})
	}
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func printHelp() {
	fmt.Println("\nAvailable commands:")
	fmt.Println("  M907 [S] [X] [Y] [Z] [E] - Set drive percent")
	fmt.Println("  M908 P<channel> S<raw>   - Write a raw channel value")
	fmt.Println("  M909                     - Report currents")
	fmt.Println("  M910                     - Store values in EEPROM")
	fmt.Println("  set <x> <y> <z> <e>      - Set all drive percents")
	fmt.Println("  report                   - Print currents as a table")
	fmt.Println("  quit/exit/q              - Exit the program")
	fmt.Println()
}
