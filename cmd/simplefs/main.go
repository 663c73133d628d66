package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/AnishMulay/simplefs/internal/config"
	"github.com/AnishMulay/simplefs/internal/fuse_frontend"
	"github.com/AnishMulay/simplefs/servers/simple"
	"go.uber.org/multierr"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: simplefs [flags] mkfs|serve|mount\n")
	flag.PrintDefaults()
}

func main() {
	var (
		configPath = flag.String("config", "./data/simplefs.yaml", "Config file, created with defaults if missing")
		listen     = flag.String("listen", "", "Listen address (overrides config)")
		image      = flag.String("image", "", "Volume image path (overrides config)")
		mountPoint = flag.String("mount-point", "", "Mount directory for the mount command (overrides config)")
		name       = flag.String("name", "", "Volume name written by mkfs (overrides config)")
		debug      = flag.Bool("debug", false, "Log FUSE traffic")
	)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *listen != "" {
		cfg.Node.ListenAddr = *listen
	}
	if *image != "" {
		cfg.Volume.ImagePath = *image
	}
	if *mountPoint != "" {
		cfg.Fuse.MountPoint = *mountPoint
	}
	if *name != "" {
		cfg.Volume.Name = *name
	}

	switch flag.Arg(0) {
	case "mkfs":
		err = mkfs(cfg)
	case "serve":
		err = serve(cfg)
	case "mount":
		err = mount(cfg, *debug)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", flag.Arg(0), err)
	}
}

func mkfs(cfg *config.Config) error {
	ls, closeLog, err := simple.NewLogService(cfg)
	if err != nil {
		return err
	}
	sb, err := simple.FormatImage(cfg, ls)
	err = multierr.Append(err, closeLog())
	if err != nil {
		return err
	}
	fmt.Printf("formatted %s: %d blocks, %d inodes, volume %s (%s)\n",
		cfg.Volume.ImagePath, sb.TotalBlocks, sb.TotalInodes, sb.Name, sb.VolumeID)
	return nil
}

func serve(cfg *config.Config) error {
	server, err := simple.Build(simple.Options{Config: cfg})
	if err != nil {
		return err
	}
	return server.Run()
}

func mount(cfg *config.Config, debug bool) error {
	if cfg.Fuse.MountPoint == "" {
		return fmt.Errorf("%w: no mount point configured", config.ErrInvalidConfig)
	}

	ls, closeLog, err := simple.NewLogService(cfg)
	if err != nil {
		return err
	}
	stack, err := simple.OpenStack(cfg, ls)
	if err != nil {
		return multierr.Append(err, closeLog())
	}
	shutdown := func(err error) error {
		err = multierr.Append(err, stack.Files.Stop())
		err = multierr.Append(err, stack.Close())
		return multierr.Append(err, closeLog())
	}

	if err := stack.Files.Start(); err != nil {
		return shutdown(err)
	}

	server, err := fuse_frontend.Mount(cfg.Fuse.MountPoint, stack.Files, ls, fuse_frontend.Options{
		Name:  cfg.Volume.Name,
		Debug: debug,
	})
	if err != nil {
		return shutdown(err)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		if err := server.Unmount(); err != nil {
			log.Printf("Unmount failed: %v", err)
		}
	}()

	fmt.Printf("mounted %s at %s\n", cfg.Volume.ImagePath, cfg.Fuse.MountPoint)
	server.Wait()
	return shutdown(nil)
}
