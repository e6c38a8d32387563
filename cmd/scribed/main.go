package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scribe/internal/bootstrap"
)

func main() {
	log.SetPrefix("scribed: ")

	services, err := bootstrap.BuildServer()
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}

	addr := services.Config.Server.ListenAddr
	go func() {
		log.Printf("listening on %s", addr)
		if err := services.Echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := services.Echo.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
