package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			MetricsEnabled: true,
			MetricsPath:    "/metrics",
			WSPath:         "/tools/ws",
		},
		Tools: ToolsConfig{
			TimeoutSeconds: 15,
			Search: SearchToolConfig{
				Endpoint:       "https://api.duckduckgo.com/",
				DefaultResults: 5,
			},
			Math: MathToolConfig{
				Endpoint:      "https://api.mathjs.org/v4/",
				LocalFallback: true,
			},
			Weather: WeatherToolConfig{
				GeocodeEndpoint:  "https://geocoding-api.open-meteo.com/v1/search",
				ForecastEndpoint: "https://api.open-meteo.com/v1/forecast",
			},
			News: NewsToolConfig{
				Endpoint: "https://newsapi.org/v2",
			},
		},
		Audit: AuditConfig{
			Enabled:       true,
			DBPath:        "~/.soschat/audit.db",
			RetentionDays: 30,
		},
		Telegram: TelegramConfig{
			Enabled:   false,
			ParseMode: "Markdown",
		},
	}
}
