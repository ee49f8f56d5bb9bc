package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phone_bridge_events_total",
			Help: "Events broadcast to subscribers, by event kind.",
		},
		[]string{"event"},
	)
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phone_bridge_commands_total",
			Help: "Inbound commands, by tag. Unknown tags are counted as \"unknown\".",
		},
		[]string{"command"},
	)
	Clients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "phone_bridge_clients",
		Help: "Connected subscribers.",
	})
	ClientsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phone_bridge_clients_dropped_total",
		Help: "Subscribers removed because of a full queue or a failed write.",
	})
	PlaybackSessions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phone_bridge_playback_sessions_total",
		Help: "Ringtone playback sessions started.",
	})
	PlaybackFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phone_bridge_playback_failures_total",
		Help: "Player spawn failures and non-zero player exits.",
	})
	KeypadPresses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phone_bridge_keypad_presses_total",
			Help: "Keypad presses, by key label.",
		},
		[]string{"key"},
	)
)

func init() {
	prometheus.MustRegister(EventsTotal, CommandsTotal, Clients, ClientsDropped,
		PlaybackSessions, PlaybackFailures, KeypadPresses)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
