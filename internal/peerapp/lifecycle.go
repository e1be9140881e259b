package peerapp

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"dual-chat/internal/transport"
)

// Start launches the engine and the configured UI surfaces.
func (a *App) Start() {
	if a == nil {
		return
	}
	a.startOnce.Do(func() {
		a.Engine.SetSink(a.buildSinks())
		a.Engine.Run(a.ctx)

		if a.Cfg.UseTUI && a.tui != nil {
			go func() {
				if err := a.tui.Run(a.ctx); err != nil {
					log.Printf("tui error: %v", err)
				}
				a.Shutdown()
			}()
		}
		if a.Cfg.UseCLI {
			go a.ReadCLIInput(os.Stdin)
		}
	})
}

// Shutdown stops the engine and releases resources.
func (a *App) Shutdown() {
	if a == nil {
		return
	}
	a.shutdownOnce.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		a.Engine.Stop()
		if a.outbox != nil {
			_ = a.outbox.Close()
		}
		if a.inbox != nil {
			_ = a.inbox.Close()
		}
	})
}

// WaitForShutdown blocks until an interrupt signal arrives, then shuts the
// peer down gracefully.
func WaitForShutdown(app *App) {
	if app == nil {
		return
	}
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")
	app.Shutdown()
}

// ReadCLIInput consumes chat lines and slash commands from r until EOF.
func (a *App) ReadCLIInput(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		a.submitLine(line)
	}
}

func (a *App) submitLine(line string) {
	if strings.HasPrefix(line, "/") {
		a.runCommand(line)
		return
	}
	receiver := ""
	if strings.HasPrefix(line, "@") {
		parts := strings.SplitN(line[1:], " ", 2)
		if len(parts) == 2 {
			receiver = parts[0]
			line = parts[1]
		}
	}
	if err := a.Engine.Send(line, receiver); err != nil {
		log.Printf("send: %v", err)
	}
}

func (a *App) runCommand(line string) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/peers":
		fmt.Printf("connected: %s\n", strings.Join(a.Engine.ConnectedPeerIDs(), ", "))
	case "/pending":
		for _, row := range a.Engine.PendingMessages() {
			fmt.Println(row)
		}
	case "/clear":
		if err := a.Engine.ClearPending(); err != nil {
			log.Printf("clear pending: %v", err)
		}
	case "/history":
		for _, msg := range a.Engine.RecentMessages(50) {
			fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Format("15:04:05"), msg.SenderID, msg.Text)
		}
	case "/restart":
		name := transport.PeerChannelName
		if len(fields) > 1 {
			name = fields[1]
		}
		if err := a.Engine.RestartChannel(name); err != nil {
			log.Printf("restart %s: %v", name, err)
		}
	case "/metrics":
		fmt.Println(a.Engine.MetricsSnapshot())
	case "/id":
		fmt.Println(a.stableID)
	case "/quit":
		a.Shutdown()
	default:
		fmt.Printf("unknown command %s (try /peers /pending /clear /history /restart /metrics /id /quit)\n", fields[0])
	}
}
