package ui

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"dual-chat/internal/delivery"
)

const (
	ansiReset = "\x1b[0m"
	ansiTime  = "\x1b[36m"
	ansiName  = "\x1b[33m"
	ansiSys   = "\x1b[32m"
	ansiWarn  = "\x1b[35m"
)

// CLIDisplay renders chat events to stdout.
type CLIDisplay struct {
	color bool
	mu    sync.Mutex
}

func NewCLIDisplay(color bool) *CLIDisplay {
	return &CLIDisplay{color: color}
}

func (c *CLIDisplay) ShowMessage(from, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := time.Now().Format("15:04:05")
	if c.color {
		fmt.Printf("%s[%s]%s %s%s%s: %s\n", ansiTime, ts, ansiReset, ansiName, from, ansiReset, text)
		return
	}
	fmt.Printf("[%s] %s: %s\n", ts, from, text)
}

func (c *CLIDisplay) ShowSystem(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := time.Now().Format("15:04:05")
	if c.color {
		fmt.Printf("%s[%s]%s %sSYSTEM%s: %s\n", ansiTime, ts, ansiReset, ansiSys, ansiReset, text)
		return
	}
	fmt.Printf("[%s] SYSTEM: %s\n", ts, text)
}

func (c *CLIDisplay) UpdatePeers(peers []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(peers) == 0 {
		return
	}
	msg := fmt.Sprintf("online: %s", strings.Join(peers, ", "))
	if c.color {
		fmt.Printf("%s[peers]%s %s\n", ansiSys, ansiReset, msg)
		return
	}
	fmt.Printf("[peers] %s\n", msg)
}

func (c *CLIDisplay) UpdateState(channel string, state delivery.ChannelState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	line := fmt.Sprintf("[%s] %s", channel, state)
	if c.color {
		fmt.Printf("%s%s%s\n", ansiWarn, line, ansiReset)
		return
	}
	fmt.Println(line)
}

// ShouldUseColor determines if ANSI coloring should be enabled for CLI output.
func ShouldUseColor(disable bool) bool {
	if disable {
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if runtime.GOOS == "windows" {
		if os.Getenv("WT_SESSION") != "" || os.Getenv("ANSICON") != "" || strings.EqualFold(os.Getenv("ConEmuANSI"), "ON") {
			return true
		}
		return false
	}
	return true
}
