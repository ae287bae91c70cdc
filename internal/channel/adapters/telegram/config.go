package telegram

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/memohai/metaeraser/internal/channel"
)

// Type is the Telegram channel type.
const Type channel.ChannelType = "telegram"

// Config is the Telegram credential set carried in channel.ChannelConfig.
type Config struct {
	BotToken    string
	APIEndpoint string
}

func parseConfig(raw map[string]any) (Config, error) {
	cfg := Config{
		BotToken:    channel.ReadString(raw, "botToken", "bot_token"),
		APIEndpoint: channel.ReadString(raw, "apiEndpoint", "api_endpoint"),
	}
	if cfg.BotToken == "" {
		return Config{}, fmt.Errorf("telegram botToken is required")
	}
	return cfg, nil
}

// Credentials builds the credential map understood by the adapter.
func Credentials(token, apiEndpoint string) map[string]any {
	creds := map[string]any{"botToken": strings.TrimSpace(token)}
	if endpoint := strings.TrimSpace(apiEndpoint); endpoint != "" {
		creds["apiEndpoint"] = endpoint
	}
	return creds
}

// slogBotLogger routes tgbotapi's internal logging into slog.
type slogBotLogger struct {
	log *slog.Logger
}

func (l *slogBotLogger) Println(v ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l *slogBotLogger) Printf(format string, v ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
