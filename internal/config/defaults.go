package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			Prefix:                ".",
			ReactionEmoji:         "🤖",
			MaxConcurrentMessages: 4,
		},
		Session: SessionConfig{
			Dir:        "~/.wabot/session",
			DeviceName: "SAM ASSISTANT",
		},
		AI: AIConfig{
			DefaultProvider: "gemini",
			Providers: map[string]ProviderConfig{
				"gemini": {
					Enabled:      true,
					Kind:         "gemini",
					APIKey:       "${API_KEY}",
					DefaultModel: "gemini-2.5-flash",
				},
			},
			RateLimitPerMin: 20,
			RateLimitBurst:  3,
			TimeoutSeconds:  60,
		},
		Sticker: StickerConfig{
			PackID:     "22222",
			Author:     "Sticker",
			Pack:       "BOT",
			Categories: []string{"🤩", "🎉"},
			Quality:    70,
			Background: "transparent",
		},
		Dispatch: DispatchConfig{
			GroupGuard: GuardOwnerInGroup,
		},
		Reconnect: ReconnectConfig{
			InitialBackoffMs: 1000,
			MaxBackoffMs:     30000,
			Multiplier:       2,
			AlertAfter:       5,
		},
		Audit: AuditConfig{
			Enabled: true,
			DBPath:  "~/.wabot/commands.db",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Listen:   "127.0.0.1:9464",
			Endpoint: "/metrics",
		},
		Notify: NotifyConfig{
			Telegram: TelegramConfig{
				Enabled: false,
			},
		},
	}
}
