package ui

import "dual-chat/internal/delivery"

type multiSink struct {
	sinks []delivery.Sink
}

// NewMultiSink fans engine events out to each registered sink.
func NewMultiSink(sinks ...delivery.Sink) delivery.Sink {
	return &multiSink{sinks: sinks}
}

func (m *multiSink) ShowMessage(from, text string) {
	for _, sink := range m.sinks {
		if sink != nil {
			sink.ShowMessage(from, text)
		}
	}
}

func (m *multiSink) ShowSystem(text string) {
	for _, sink := range m.sinks {
		if sink != nil {
			sink.ShowSystem(text)
		}
	}
}

func (m *multiSink) UpdatePeers(peers []string) {
	for _, sink := range m.sinks {
		if sink != nil {
			sink.UpdatePeers(peers)
		}
	}
}

func (m *multiSink) UpdateState(channel string, state delivery.ChannelState) {
	for _, sink := range m.sinks {
		if sink != nil {
			sink.UpdateState(channel, state)
		}
	}
}
