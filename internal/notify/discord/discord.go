// Package discord posts incident lifecycle events to Discord channels as
// embeds.
package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/faultline/internal/incident"
)

// Config selects where events go. Channels routes a category to its own
// channel; everything else goes to DefaultChannel.
type Config struct {
	BotToken       string
	DefaultChannel string
	Channels       map[incident.Category]string
	// IncidentURL, when set, is formatted with the incident ID to link the
	// embed title.
	IncidentURL string
}

// sender is the part of *discordgo.Session the notifier uses.
type sender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Notifier implements incident.Notifier.
type Notifier struct {
	session sender
	cfg     Config
	logger  log.Logger
}

var _ incident.Notifier = (*Notifier)(nil)

// New creates a notifier authenticated as a bot.
func New(cfg Config, logger log.Logger) (*Notifier, error) {
	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	return newNotifier(session, cfg, logger), nil
}

func newNotifier(s sender, cfg Config, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{session: s, cfg: cfg, logger: logger}
}

// Notify sends ev as an embed. Events for categories without a channel and
// no default channel are dropped.
func (n *Notifier) Notify(ctx context.Context, ev incident.Event) error {
	if ev.Incident == nil {
		return nil
	}
	channel := n.channelFor(ev.Incident.Category)
	if channel == "" {
		return nil
	}
	msg, err := n.session.ChannelMessageSendEmbed(channel, buildEmbed(ev, n.cfg.IncidentURL), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: send embed to %s: %w", channel, err)
	}
	n.logger.Info(ctx, "discord notification sent", "incident_id", ev.Incident.ID, "event", string(ev.Kind), "message_id", msg.ID)
	return nil
}

func (n *Notifier) channelFor(c incident.Category) string {
	if ch, ok := n.cfg.Channels[c]; ok && ch != "" {
		return ch
	}
	return n.cfg.DefaultChannel
}

const (
	colorRed    = 0xE74C3C
	colorOrange = 0xF39C12
	colorYellow = 0xF1C40F
	colorGreen  = 0x2ECC71
	colorBlue   = 0x3498DB
	colorPurple = 0x9B59B6
)

func buildEmbed(ev incident.Event, incidentURL string) *discordgo.MessageEmbed {
	inc := ev.Incident
	kind := "unknown"
	message := ""
	if inc.Signal != nil {
		kind = inc.Signal.ShortKind()
		message = inc.Signal.Message
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "State", Value: string(inc.State), Inline: true},
		{Name: "Category", Value: string(inc.Category), Inline: true},
		{Name: "Priority", Value: string(inc.Priority), Inline: true},
	}
	if inc.Signal.HasPrimaryFrame() {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Location", Value: "`" + inc.Signal.Primary.String() + "`"})
	}
	if inc.MergedSignals > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Duplicates", Value: fmt.Sprintf("%d", inc.MergedSignals), Inline: true})
	}
	if inc.Resolution != nil && inc.Resolution.Reference != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Resolution", Value: inc.Resolution.Reference})
	}
	if ev.Kind == incident.NotifyFailed && inc.FailureReason != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Failure", Value: inc.FailureReason})
	}

	embed := &discordgo.MessageEmbed{
		Title:       truncate(fmt.Sprintf("%s: %s", eventTitle(ev.Kind), kind), 256),
		Description: truncate(message, 4096),
		Color:       eventColor(ev.Kind, inc.Priority),
		Fields:      fields,
		Timestamp:   ev.At.UTC().Format(time.RFC3339),
		Footer: &discordgo.MessageEmbedFooter{
			Text: "faultline • incident " + inc.ID,
		},
	}
	if incidentURL != "" {
		embed.URL = fmt.Sprintf(incidentURL, inc.ID)
	}
	return embed
}

func eventTitle(kind incident.NotifyEvent) string {
	switch kind {
	case incident.NotifyDetected:
		return "Incident detected"
	case incident.NotifyDispatched:
		return "Resolution dispatched"
	case incident.NotifyEscalated:
		return "Needs manual triage"
	case incident.NotifyClosed:
		return "Incident closed"
	case incident.NotifyFailed:
		return "Incident failed"
	}
	return "Incident update"
}

func eventColor(kind incident.NotifyEvent, p incident.Priority) int {
	switch kind {
	case incident.NotifyFailed:
		return colorRed
	case incident.NotifyClosed:
		return colorGreen
	case incident.NotifyEscalated:
		return colorPurple
	}
	switch p {
	case incident.PriorityCritical:
		return colorRed
	case incident.PriorityHigh:
		return colorOrange
	case incident.PriorityMedium:
		return colorYellow
	}
	return colorBlue
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
