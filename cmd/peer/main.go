package main

import (
	"log"

	"dual-chat/internal/peerapp"
)

func main() {
	cfg := peerapp.LoadConfig()

	app, err := peerapp.NewApp(cfg)
	if err != nil {
		log.Fatalf("start peer: %v", err)
	}

	app.Start()
	peerapp.WaitForShutdown(app)
}
