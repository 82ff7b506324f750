package config

import (
	"errors"
	"time"

	"github.com/ncobase/telemetry/ecode"
	"github.com/ncobase/telemetry/messaging/email"
	"github.com/ncobase/telemetry/messaging/queue"
	"github.com/spf13/viper"
)

// Alert holds the suppression policy and the channel settings.
type Alert struct {
	SuppressionWindow  time.Duration `json:"suppression_window" yaml:"suppression_window"`
	MaxAlertsPerWindow int           `json:"max_alerts_per_window" yaml:"max_alerts_per_window"`
	DedupWindow        time.Duration `json:"dedup_window" yaml:"dedup_window"`
	ChannelTimeout     time.Duration `json:"channel_timeout" yaml:"channel_timeout"`
	QueueSize          int           `json:"queue_size" yaml:"queue_size"`
	Channels           *Channels     `json:"channels" yaml:"channels"`
}

// Channels holds per-channel settings.
type Channels struct {
	Log    *LogChannel    `json:"log" yaml:"log"`
	Chat   *ChatChannel   `json:"chat" yaml:"chat"`
	Email  *EmailChannel  `json:"email" yaml:"email"`
	Sentry *Sentry        `json:"sentry" yaml:"sentry"`
	Broker *BrokerChannel `json:"broker" yaml:"broker"`
}

// LogChannel writes alerts to the structured log.
type LogChannel struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// ChatChannel posts alerts through a chat bot API.
type ChatChannel struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	Token   string        `json:"token" yaml:"token"`
	ChatID  string        `json:"chat_id" yaml:"chat_id"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// EmailChannel mails alerts to a fixed recipient list.
type EmailChannel struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	email.Email
}

// BrokerChannel publishes alerts to a message broker.
type BrokerChannel struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	queue.Config
}

func getAlertConfig(v *viper.Viper) *Alert {
	p := Root + ".alert."
	return &Alert{
		SuppressionWindow:  getDurationOrDefault(v, p+"suppression_window", 5*time.Minute),
		MaxAlertsPerWindow: getIntOrDefault(v, p+"max_alerts_per_window", 10),
		DedupWindow:        getDurationOrDefault(v, p+"dedup_window", 10*time.Minute),
		ChannelTimeout:     getDurationOrDefault(v, p+"channel_timeout", 5*time.Second),
		QueueSize:          getIntOrDefault(v, p+"queue_size", 256),
		Channels:           getChannelsConfig(v, p+"channels."),
	}
}

func getChannelsConfig(v *viper.Viper, p string) *Channels {
	return &Channels{
		Log: &LogChannel{
			Enabled: getBoolOrDefault(v, p+"log.enabled", true),
		},
		Chat: &ChatChannel{
			Enabled: v.GetBool(p + "chat.enabled"),
			Token:   v.GetString(p + "chat.token"),
			ChatID:  v.GetString(p + "chat.chat_id"),
			BaseURL: getStringOrDefault(v, p+"chat.base_url", "https://api.telegram.org"),
			Timeout: getDurationOrDefault(v, p+"chat.timeout", 5*time.Second),
		},
		Email:  getEmailConfig(v, p+"email."),
		Sentry: getSentryConfig(v, p+"sentry"),
		Broker: &BrokerChannel{
			Enabled: v.GetBool(p + "broker.enabled"),
			Config: queue.Config{
				Type:       v.GetString(p + "broker.type"),
				URL:        v.GetString(p + "broker.url"),
				Exchange:   getStringOrDefault(v, p+"broker.exchange", "telemetry"),
				RoutingKey: getStringOrDefault(v, p+"broker.routing_key", "telemetry.alert"),
				Brokers:    getStringSliceOrDefault(v, p+"broker.brokers", nil),
				Topic:      getStringOrDefault(v, p+"broker.topic", "telemetry.alerts"),
			},
		},
	}
}

func getEmailConfig(v *viper.Viper, p string) *EmailChannel {
	return &EmailChannel{
		Enabled: v.GetBool(p + "enabled"),
		Email: email.Email{
			Provider:   v.GetString(p + "provider"),
			Recipients: getStringSliceOrDefault(v, p+"recipients", nil),
			Mailgun: &email.MailgunConfig{
				Key:     v.GetString(p + "mailgun.key"),
				Domain:  v.GetString(p + "mailgun.domain"),
				From:    v.GetString(p + "mailgun.from"),
				APIBase: v.GetString(p + "mailgun.api_base"),
			},
			SendGrid: &email.SendGridConfig{
				Key:     v.GetString(p + "sendgrid.key"),
				From:    v.GetString(p + "sendgrid.from"),
				APIHost: v.GetString(p + "sendgrid.api_host"),
			},
			SMTP: &email.SMTPConfig{
				SMTPHost: v.GetString(p + "smtp.host"),
				SMTPPort: getStringOrDefault(v, p+"smtp.port", "25"),
				Username: v.GetString(p + "smtp.username"),
				Password: v.GetString(p + "smtp.password"),
				From:     v.GetString(p + "smtp.from"),
			},
		},
	}
}

// Validate checks the policy and every enabled channel.
func (c *Alert) Validate() error {
	var errs []error
	errs = append(errs,
		positive("alert.suppression_window", int64(c.SuppressionWindow)),
		positive("alert.max_alerts_per_window", int64(c.MaxAlertsPerWindow)),
		positive("alert.channel_timeout", int64(c.ChannelTimeout)),
		positive("alert.queue_size", int64(c.QueueSize)),
	)
	if c.DedupWindow < 0 {
		errs = append(errs, errors.New(ecode.FieldOutOfRange("alert.dedup_window")))
	}

	ch := c.Channels
	if ch == nil {
		return errors.Join(errs...)
	}
	if ch.Chat != nil && ch.Chat.Enabled {
		if ch.Chat.Token == "" {
			errs = append(errs, errors.New(ecode.FieldIsRequired("alert.channels.chat.token")))
		}
		if ch.Chat.ChatID == "" {
			errs = append(errs, errors.New(ecode.FieldIsRequired("alert.channels.chat.chat_id")))
		}
	}
	if ch.Email != nil && ch.Email.Enabled {
		if len(ch.Email.Recipients) == 0 {
			errs = append(errs, errors.New(ecode.FieldIsRequired("alert.channels.email.recipients")))
		}
		if _, err := ch.Email.Sender(); err != nil {
			errs = append(errs, err)
		}
	}
	if ch.Sentry != nil && ch.Sentry.Enabled && ch.Sentry.DSN == "" {
		errs = append(errs, errors.New(ecode.FieldIsRequired("alert.channels.sentry.dsn")))
	}
	if ch.Broker != nil && ch.Broker.Enabled {
		if err := ch.Broker.Config.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
