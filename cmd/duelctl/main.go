package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"duelctl/internal/api"
	"duelctl/internal/backend"
	"duelctl/internal/config"
	"duelctl/internal/coord"
	"duelctl/internal/discovery"
	"duelctl/internal/events"
	"duelctl/internal/model"
	"duelctl/internal/node"
	"duelctl/internal/platform"
	"duelctl/internal/sim"
)

const usage = `duelctl - synchronized two-node image generation demo

Usage:
  duelctl node serve --config <path> [--listen :5000] [--force-sim]
  duelctl detect [--platform <name>]
  duelctl discover --config <path>
  duelctl run --config <path> --prompt <text> [--steps N] [--registry <path>]
  duelctl status --config <path> [--node <host:port>]
  duelctl stop --config <path>
  duelctl watch --node <host:port>
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd := os.Args[1]
	switch cmd {
	case "-h", "--help", "help":
		fmt.Print(usage)
	case "node":
		handleNode(os.Args[2:])
	case "detect":
		handleDetect(os.Args[2:])
	case "discover":
		handleDiscover(os.Args[2:])
	case "run":
		handleRun(os.Args[2:])
	case "status":
		handleStatus(os.Args[2:])
	case "stop":
		handleStop(os.Args[2:])
	case "watch":
		handleWatch(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func handleNode(args []string) {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "node subcommand required\n")
		os.Exit(2)
	}
	switch args[0] {
	case "serve":
		nodeServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown node subcommand %q\n", args[0])
		os.Exit(2)
	}
}

func nodeServe(args []string) {
	fs := flag.NewFlagSet("node serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	name := fs.String("name", "", "node name override")
	listen := fs.String("listen", "", "listen address override")
	platformName := fs.String("platform", "", "platform override: snapdragon|intel|unknown")
	forceSim := fs.Bool("force-sim", false, "force the simulation tier")
	assetsDir := fs.String("assets", "", "simulation assets directory override")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	if cfg.Node == nil {
		cfg.Node = &config.NodeConfig{}
	}
	if *name != "" {
		cfg.Node.Name = *name
	}
	if *listen != "" {
		cfg.Node.Listen = *listen
	}
	if *platformName != "" {
		cfg.Node.Platform = *platformName
	}
	if *forceSim {
		cfg.Node.ForceSimulation = true
	}
	if *assetsDir != "" {
		cfg.Node.AssetsDir = *assetsDir
	}
	if cfg.Node.Name == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Node.Name = host
		}
	}
	config.ApplyDefaults(&cfg)
	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	srv := node.NewServer(*cfg.Node, backend.Set{})
	if err := srv.EnsureAssets(); err != nil {
		fatal(err)
	}

	announce := discovery.AnnouncementFor(cfg.Node.Name, string(srv.Capability().Identity), cfg.Node.Listen)
	beacon, err := discovery.StartBeacon(":"+strconv.Itoa(cfg.Node.BeaconPort), announce)
	if err != nil {
		fatal(err)
	}
	defer beacon.Close()
	fmt.Fprintf(os.Stdout, "discovery beacon on %s\n", beacon.LocalAddr())

	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

func handleDetect(args []string) {
	fs := flag.NewFlagSet("detect", flag.ExitOnError)
	platformName := fs.String("platform", "", "platform override: snapdragon|intel|unknown")
	forceSim := fs.Bool("force-sim", false, "force the simulation tier")
	_ = fs.Parse(args)

	detected := platform.Detect(platform.Options{
		Override:        *platformName,
		ForceSimulation: *forceSim,
	})
	fmt.Fprintf(os.Stdout, "platform=%s tier=%s accel=%s\n", detected.Identity, detected.Tier, detected.Accel)
}

func handleDiscover(args []string) {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	addresses := fs.String("addresses", "", "comma-separated node addresses, skips the subnet scan")
	_ = fs.Parse(args)

	c, err := coordinatorFromConfig(*configPath, "")
	if err != nil {
		fatal(err)
	}
	overrideAddresses(c, *addresses)

	nodes, err := c.Discover(context.Background())
	if err != nil {
		fatal(err)
	}
	if len(nodes) == 0 {
		fmt.Fprintln(os.Stdout, "no nodes found")
		return
	}

	fmt.Fprintf(os.Stdout, "%-16s  %-22s  %-12s  %-10s  %-20s\n", "NAME", "ADDR", "PLATFORM", "CONFIDENCE", "LAST_SEEN")
	for _, n := range nodes {
		fmt.Fprintf(os.Stdout, "%-16s  %-22s  %-12s  %-10s  %-20s\n",
			n.Name, n.Addr, n.Platform, n.Confidence, n.LastSeenAt.UTC().Format(time.RFC3339))
	}
}

func handleRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	prompt := fs.String("prompt", "", "prompt to dispatch to every node")
	steps := fs.Int("steps", 0, "inference steps override")
	width := fs.Int("width", 0, "image width override")
	height := fs.Int("height", 0, "image height override")
	guidance := fs.Float64("guidance", 0, "guidance scale override")
	registryPath := fs.String("registry", "", "persist the discovered node set to this file")
	addresses := fs.String("addresses", "", "comma-separated node addresses, skips the subnet scan")
	_ = fs.Parse(args)

	if *prompt == "" {
		fatal(errors.New("--prompt is required"))
	}

	c, err := coordinatorFromConfig(*configPath, *registryPath)
	if err != nil {
		fatal(err)
	}
	overrideAddresses(c, *addresses)

	ctx, cancel := signalContext()
	defer cancel()

	nodes, err := c.Discover(ctx)
	if err != nil {
		fatal(err)
	}
	if len(nodes) == 0 {
		fatal(errors.New("no nodes discovered"))
	}
	for _, n := range nodes {
		lo, hi := sim.ExpectedRange(n.Platform, *steps)
		fmt.Fprintf(os.Stdout, "node %s at %s platform=%s expected=%.0f-%.0fs\n",
			n.Name, n.Addr, n.Platform, lo, hi)
	}
	if *registryPath != "" {
		if err := coord.SaveRegistry(*registryPath, c.Registry); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to persist registry: %v\n", err)
		}
	}

	c.OnEvent = printEvent

	params := model.GenParams{Steps: *steps, Width: *width, Height: *height, Guidance: *guidance}
	result, err := c.RunComparison(ctx, *prompt, params)
	if err != nil {
		fatal(err)
	}

	fmt.Fprintf(os.Stdout, "\n%-16s  %-12s  %-10s  %-12s  %-10s  %s\n", "NODE", "STATE", "TIER", "DURATION", "SIMULATED", "REASON")
	for _, o := range result.Outcomes {
		duration := ""
		if o.State == "completed" {
			duration = fmt.Sprintf("%.1fs", o.DurationSec)
		}
		fmt.Fprintf(os.Stdout, "%-16s  %-12s  %-10s  %-12s  %-10v  %s\n",
			o.Node, o.State, o.Tier, duration, o.Simulated, o.Reason)
	}
	if result.Winner != "" {
		fmt.Fprintf(os.Stdout, "\nwinner: %s\n", result.Winner)
	} else {
		fmt.Fprintln(os.Stdout, "\nno winner declared")
	}
}

func handleStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	nodeAddr := fs.String("node", "", "query a single node host:port instead of discovering")
	_ = fs.Parse(args)

	ctx := context.Background()

	var addrs []string
	if *nodeAddr != "" {
		addrs = []string{*nodeAddr}
	} else {
		c, err := coordinatorFromConfig(*configPath, "")
		if err != nil {
			fatal(err)
		}
		nodes, err := c.Discover(ctx)
		if err != nil {
			fatal(err)
		}
		for _, n := range nodes {
			addrs = append(addrs, n.Addr)
		}
	}
	if len(addrs) == 0 {
		fmt.Fprintln(os.Stdout, "no nodes")
		return
	}

	fmt.Fprintf(os.Stdout, "%-16s  %-12s  %-10s  %-10s  %-10s  %s\n", "NODE", "PLATFORM", "STATE", "TIER", "STEP", "ELAPSED")
	for _, addr := range addrs {
		status, err := api.NewClient(addr).Status(ctx)
		if err != nil {
			fmt.Fprintf(os.Stdout, "%-16s  unreachable: %v\n", addr, err)
			continue
		}
		step := ""
		if status.TotalSteps > 0 {
			step = fmt.Sprintf("%d/%d", status.Step, status.TotalSteps)
		}
		fmt.Fprintf(os.Stdout, "%-16s  %-12s  %-10s  %-10s  %-10s  %.1fs\n",
			status.Node, status.Platform, status.State, status.Tier, step, status.ElapsedSec)
	}
}

func handleStop(args []string) {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	nodeAddr := fs.String("node", "", "stop a single node host:port instead of all")
	_ = fs.Parse(args)

	ctx := context.Background()
	if *nodeAddr != "" {
		if err := api.NewClient(*nodeAddr).Stop(ctx); err != nil {
			fatal(err)
		}
		fmt.Fprintln(os.Stdout, "stop requested")
		return
	}

	c, err := coordinatorFromConfig(*configPath, "")
	if err != nil {
		fatal(err)
	}
	if _, err := c.Discover(ctx); err != nil {
		fatal(err)
	}
	c.StopAll(ctx)
	fmt.Fprintln(os.Stdout, "stop requested on all nodes")
}

func handleWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	nodeAddr := fs.String("node", "", "node host:port to follow")
	_ = fs.Parse(args)

	if *nodeAddr == "" {
		fatal(errors.New("--node is required"))
	}

	ctx, cancel := signalContext()
	defer cancel()

	stream, err := api.NewClient(*nodeAddr).Events(ctx)
	if err != nil {
		fatal(err)
	}
	for ev := range stream {
		printEvent(*nodeAddr, ev)
	}
}

func printEvent(nodeName string, ev events.Event) {
	switch ev.Type {
	case events.TypeJobStarted:
		fmt.Fprintf(os.Stdout, "[%s] job %s started tier=%s platform=%s\n", nodeName, ev.JobID, ev.Tier, ev.Platform)
	case events.TypeProgress:
		fmt.Fprintf(os.Stdout, "[%s] step %d/%d %.1fs\n", nodeName, ev.Step, ev.TotalSteps, ev.ElapsedSec)
	case events.TypeTelemetry:
		fmt.Fprintf(os.Stdout, "[%s] util=%.0f%% mem=%.1fGB power=%.1fW\n", nodeName, ev.Utilization, ev.MemoryGB, ev.PowerW)
	case events.TypeCompleted:
		image := ""
		if ev.Image != nil {
			image = ev.Image.Path
		}
		fmt.Fprintf(os.Stdout, "[%s] completed in %.1fs tier=%s simulated=%v image=%s\n", nodeName, ev.DurationSec, ev.Tier, ev.Simulated, image)
	case events.TypeError:
		fmt.Fprintf(os.Stdout, "[%s] error: %s (fatal=%v)\n", nodeName, ev.Reason, ev.Fatal)
	}
}

func coordinatorFromConfig(configPath, registryPath string) (*coord.Coordinator, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Coordinator == nil {
		return nil, errors.New("coordinator config required")
	}
	config.ApplyDefaults(&cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	reg := coord.NewRegistry()
	if registryPath != "" {
		loaded, err := coord.LoadRegistry(registryPath)
		if err != nil {
			return nil, err
		}
		reg = loaded
	}
	return coord.New(*cfg.Coordinator, reg), nil
}

func overrideAddresses(c *coord.Coordinator, addresses string) {
	if addresses == "" {
		return
	}
	c.Config.Addresses = splitList(addresses)
	c.Config.Subnet = ""
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Config{}, nil
	}
	return config.Load(path)
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
	}()
	return ctx, cancel
}

func fatal(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
