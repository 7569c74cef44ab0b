package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/mosmeh/zakros/internal/server"
)

func main() {
	cfg, err := server.ParseConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "zakros: %v\n", err)
		os.Exit(2)
	}

	runtime.GOMAXPROCS(cfg.WorkerThreads)

	srv, err := server.NewServer(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "zakros: %v\n", err)
		os.Exit(1)
	}

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigC
		srv.Shutdown()
		os.Exit(0)
	}()

	if err := srv.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "zakros: %v\n", err)
		os.Exit(1)
	}
}
