// Package metrics defines the Prometheus collectors exported by the bot.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	NotificationsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "forumlink_notifications_sent_total",
		Help: "Notifications delivered to a target channel",
	}, []string{"kind"})

	NotificationsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "forumlink_notifications_failed_total",
		Help: "Notifications that failed delivery to a target channel",
	}, []string{"kind"})

	DispatchSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "forumlink_dispatch_skipped_total",
		Help: "Forum events that produced no notification, by reason",
	}, []string{"kind", "reason"})

	ConfigSaves = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "forumlink_config_saves_total",
		Help: "Routing state saves by result",
	}, []string{"result"})

	CommandsHandled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "forumlink_commands_total",
		Help: "Admin commands handled, by command and result",
	}, []string{"command", "result"})
)

// MustRegister registers all collectors with registerer.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		NotificationsSent,
		NotificationsFailed,
		DispatchSkipped,
		ConfigSaves,
		CommandsHandled,
	)
}
