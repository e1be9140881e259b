package ui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"dual-chat/internal/delivery"
)

// TUIDisplay renders chat data using tview. A status bar tracks the two
// channels so degraded links are visible without scrolling the chat log.
type TUIDisplay struct {
	app      *tview.Application
	messages *tview.TextView
	input    *tview.InputField
	peers    *tview.List
	status   *tview.TextView
	send     func(string)
	once     sync.Once

	mu     sync.Mutex
	states map[string]delivery.ChannelState
}

func NewTUIDisplay(send func(string)) *TUIDisplay {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetRegions(false).
		SetScrollable(true)
	messages.SetBorder(true).SetTitle("Chat")

	peers := tview.NewList()
	peers.SetBorder(true).SetTitle("Peers")

	status := tview.NewTextView().SetDynamicColors(true)
	status.SetBorder(true).SetTitle("Channels")

	input := tview.NewInputField().
		SetLabel("> ").
		SetFieldTextColor(tcell.ColorWhite)

	td := &TUIDisplay{
		app:      tview.NewApplication(),
		messages: messages,
		input:    input,
		peers:    peers,
		status:   status,
		send:     send,
		states:   make(map[string]delivery.ChannelState),
	}

	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			text := strings.TrimSpace(input.GetText())
			if text != "" {
				go td.send(text)
			}
			input.SetText("")
		}
	})

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 5, false).
		AddItem(peers, 8, 1, false).
		AddItem(status, 4, 1, false).
		AddItem(input, 3, 1, true)

	td.app.SetRoot(layout, true).EnableMouse(true)
	return td
}

func (t *TUIDisplay) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		t.once.Do(func() {
			t.app.Stop()
		})
	}()
	return t.app.Run()
}

func (t *TUIDisplay) ShowMessage(from, text string) {
	ts := time.Now().Format("15:04:05")
	content := fmt.Sprintf("[yellow][%s][-] [lightgreen]%s[-]: %s\n", ts, tview.Escape(from), tview.Escape(text))
	t.app.QueueUpdateDraw(func() {
		fmt.Fprint(t.messages, content)
	})
}

func (t *TUIDisplay) ShowSystem(text string) {
	content := fmt.Sprintf("[green]>>> %s[-]\n", tview.Escape(text))
	t.app.QueueUpdateDraw(func() {
		fmt.Fprint(t.messages, content)
	})
}

func (t *TUIDisplay) UpdatePeers(peers []string) {
	t.app.QueueUpdateDraw(func() {
		t.peers.Clear()
		for _, p := range peers {
			t.peers.AddItem(p, "", 0, nil)
		}
	})
}

func (t *TUIDisplay) UpdateState(channel string, state delivery.ChannelState) {
	t.mu.Lock()
	t.states[channel] = state
	names := make([]string, 0, len(t.states))
	for name := range t.states {
		names = append(names, name)
	}
	sort.Strings(names)
	lines := make([]string, 0, len(names))
	for _, name := range names {
		st := t.states[name]
		color := "red"
		if st.Phase == delivery.PhaseActive {
			color = "green"
		}
		lines = append(lines, fmt.Sprintf("[%s]%s[-] %s", color, name, st))
	}
	t.mu.Unlock()

	text := strings.Join(lines, "\n")
	t.app.QueueUpdateDraw(func() {
		t.status.SetText(text)
	})
}
