package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	fslib "github.com/AnishMulay/simplefs/clients/library"
	grpccomm "github.com/AnishMulay/simplefs/internal/communication/grpc"
	lslocal "github.com/AnishMulay/simplefs/internal/log_service/localdisc"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: client [flags] COMMAND [ARGS]

commands:
  ping
  ls
  stats
  create NAME PAGES
  rm NAME
  cat NAME
  write NAME TEXT
  open-files
  scenario          run the write-lock walkthrough against the server
`)
	flag.PrintDefaults()
}

func main() {
	var (
		serverAddr = flag.String("server", "localhost:9090", "Server address")
		logDir     = flag.String("log-dir", "./logs", "Client log directory")
		timeout    = flag.Duration("timeout", 10*time.Second, "Per-command timeout")
	)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	ls, err := lslocal.NewLocalDiscLogService(*logDir, "client", "ERROR")
	if err != nil {
		log.Fatalf("Failed to open log: %v", err)
	}
	defer ls.Close()

	comm := grpccomm.NewGRPCCommunicator("", ls)
	defer comm.Stop()

	client := fslib.NewClient(*serverAddr, comm)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, client, flag.Args()); err != nil {
		log.Fatalf("%s: %v", flag.Arg(0), err)
	}
}

func run(ctx context.Context, client *fslib.Client, args []string) error {
	need := func(n int) error {
		if len(args) != n+1 {
			return fmt.Errorf("expected %d argument(s), got %d", n, len(args)-1)
		}
		return nil
	}

	switch args[0] {
	case "ping":
		if err := client.Ping(ctx); err != nil {
			return err
		}
		fmt.Println("pong")
		return nil

	case "ls":
		entries, err := client.List(ctx)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%5d  %s  %8d  %s  %s\n", e.Inode, e.Permissions, e.Size,
				e.ModTime.Format(time.DateTime), e.Name)
		}
		return nil

	case "stats":
		stats, err := client.Stats(ctx)
		if err != nil {
			return err
		}
		return printJSON(stats)

	case "create":
		if err := need(2); err != nil {
			return err
		}
		pages, err := strconv.ParseUint(args[2], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid page count %q: %w", args[2], err)
		}
		return client.Create(ctx, args[1], uint32(pages))

	case "rm":
		if err := need(1); err != nil {
			return err
		}
		return client.Delete(ctx, args[1])

	case "cat":
		if err := need(1); err != nil {
			return err
		}
		data, err := client.ReadFile(ctx, args[1])
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(trimZeros(data))
		return err

	case "write":
		if err := need(2); err != nil {
			return err
		}
		return client.WriteFile(ctx, args[1], []byte(args[2]))

	case "open-files":
		files, err := client.OpenFiles(ctx)
		if err != nil {
			return err
		}
		return printJSON(files)

	case "scenario":
		return RunLockScenario(ctx, client.ServerAddr, client.Comm)

	default:
		return fmt.Errorf("unknown command")
	}
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// trimZeros drops the zero padding after the last written byte.
func trimZeros(data []byte) []byte {
	end := len(data)
	for end > 0 && data[end-1] == 0 {
		end--
	}
	return data[:end]
}
