package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"soschat/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

const telegramHelp = `SOS Chatbot tools:
/search <query> - web search
/calc <expression> - calculator
/weather <place> - current weather
/news <topic> - latest news on a topic
/headlines [country|category|keywords] - top headlines`

var newsCategories = map[string]bool{
	"business": true, "entertainment": true, "general": true, "health": true,
	"science": true, "sports": true, "technology": true,
}

// Telegram answers tool commands sent to a Telegram bot.
type Telegram struct {
	token      string
	allowFrom  []int64 // empty = allow all
	parseMode  string
	dispatcher Dispatcher

	bot    *tgbotapi.BotAPI
	logger *slog.Logger
}

type TelegramConfig struct {
	Token      string
	AllowFrom  []string // user IDs as strings
	ParseMode  string
	Dispatcher Dispatcher
	Logger     *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:      cfg.Token,
		allowFrom:  allowed,
		parseMode:  cfg.ParseMode,
		dispatcher: cfg.Dispatcher,
		logger:     cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			go t.handleUpdate(ctx, update)
		}
	}
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil || !msg.IsCommand() {
		return
	}
	chatID := msg.Chat.ID

	if !t.isAllowed(msg.From.ID) {
		t.logger.Warn("unauthorized telegram user", "user_id", msg.From.ID, "username", msg.From.UserName)
		t.sendMessage(chatID, "Unauthorized. Your user ID is not in the allow list.")
		return
	}

	_, _ = t.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))

	ctx = domain.WithRequestID(context.WithoutCancel(ctx), fmt.Sprintf("tg-%d-%d", chatID, msg.MessageID))
	t.sendMessage(chatID, t.Reply(ctx, msg.Command(), msg.CommandArguments()))
}

// Reply runs the tool behind a bot command and renders the answer as text.
func (t *Telegram) Reply(ctx context.Context, command, args string) string {
	name, params, usage := ParseCommand(command, args)
	if name == "" {
		return usage
	}
	res := t.dispatcher.Dispatch(ctx, string(name), params)
	return FormatResult(name, res)
}

// ParseCommand maps a bot command to a tool call. When the command is not a
// tool call, or its argument is missing, name is empty and usage holds the
// text to send back.
func ParseCommand(command, args string) (name domain.ToolName, params domain.Params, usage string) {
	args = strings.TrimSpace(args)
	need := func(tool domain.ToolName, key, hint string) (domain.ToolName, domain.Params, string) {
		if args == "" {
			return "", nil, fmt.Sprintf("Usage: /%s %s", command, hint)
		}
		return tool, domain.Params{key: args}, ""
	}

	switch strings.ToLower(command) {
	case "search":
		return need(domain.ToolSearch, "query", "<query>")
	case "calc", "calculate":
		return need(domain.ToolCalculate, "input", "<expression>")
	case "weather":
		return need(domain.ToolWeather, "location", "<place>")
	case "news":
		return need(domain.ToolNews, "topic", "<topic>")
	case "headlines":
		params = domain.Params{}
		switch {
		case args == "":
		case newsCategories[strings.ToLower(args)]:
			params["category"] = strings.ToLower(args)
		case len(args) == 2:
			params["country"] = strings.ToLower(args)
		default:
			params["query"] = args
		}
		return domain.ToolHeadlines, params, ""
	default:
		return "", nil, telegramHelp
	}
}

// FormatResult renders a dispatch result as a chat message.
func FormatResult(name domain.ToolName, res domain.Result) string {
	if !res.OK() {
		return "Error: " + res.Error
	}

	// Handlers return typed payloads; read them back through their JSON form.
	raw, err := json.Marshal(res.Data)
	if err != nil {
		return "Error: cannot render result"
	}
	// Payloads that do not match the expected shape are sent as raw JSON.
	decode := func(v any) bool { return json.Unmarshal(raw, v) == nil }

	var sb strings.Builder
	switch name {
	case domain.ToolSearch:
		var v struct {
			Answer  string `json:"answer"`
			Results []struct {
				Title   string `json:"title"`
				URL     string `json:"url"`
				Snippet string `json:"snippet"`
			} `json:"results"`
		}
		if !decode(&v) {
			return string(raw)
		}
		if v.Answer != "" {
			fmt.Fprintf(&sb, "%s\n\n", v.Answer)
		}
		if len(v.Results) == 0 {
			sb.WriteString("No results found.")
		}
		for i, r := range v.Results {
			fmt.Fprintf(&sb, "%d. %s\n%s\n", i+1, r.Title, r.URL)
		}

	case domain.ToolCalculate:
		var v struct {
			Input  string `json:"input"`
			Result any    `json:"result"`
		}
		if !decode(&v) {
			return string(raw)
		}
		fmt.Fprintf(&sb, "%s = %v", v.Input, v.Result)
		if res.SourceHint == domain.SourceLocal {
			sb.WriteString(" (computed locally)")
		}

	case domain.ToolWeather:
		var v struct {
			Location struct {
				Name    string `json:"name"`
				Country string `json:"country"`
			} `json:"location"`
			Current struct {
				Temperature float64 `json:"temperature"`
				Description string  `json:"description"`
				WindSpeed   float64 `json:"wind_speed"`
				Humidity    float64 `json:"humidity"`
			} `json:"current"`
			Daily struct {
				Max float64 `json:"max_temperature"`
				Min float64 `json:"min_temperature"`
			} `json:"daily"`
			Units struct {
				Temperature string `json:"temperature"`
				WindSpeed   string `json:"wind_speed"`
			} `json:"units"`
		}
		if !decode(&v) {
			return string(raw)
		}
		fmt.Fprintf(&sb, "%s, %s\n%s, %.1f%s\nWind %.1f %s, humidity %.0f%%\nToday: %.1f%s / %.1f%s",
			v.Location.Name, v.Location.Country,
			v.Current.Description, v.Current.Temperature, v.Units.Temperature,
			v.Current.WindSpeed, v.Units.WindSpeed, v.Current.Humidity,
			v.Daily.Max, v.Units.Temperature, v.Daily.Min, v.Units.Temperature)

	case domain.ToolNews, domain.ToolHeadlines:
		var v struct {
			Articles  []newsLine `json:"articles"`
			Headlines []newsLine `json:"headlines"`
		}
		if !decode(&v) {
			return string(raw)
		}
		items := append(v.Articles, v.Headlines...)
		if len(items) == 0 {
			sb.WriteString("No articles found.")
		}
		for i, a := range items {
			fmt.Fprintf(&sb, "%d. %s (%s)\n%s\n", i+1, a.Title, a.Source, a.URL)
		}

	default:
		sb.Write(raw)
	}
	return strings.TrimRight(sb.String(), "\n")
}

type newsLine struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Source string `json:"source"`
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		t.sendChunk(chatID, chunk)
	}
}

// sendChunk sends one chunk, falling back to plain text on a parse error
// and backing off on rate limits.
func (t *Telegram) sendChunk(chatID int64, text string) {
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 {
			msg.ParseMode = t.parseMode
		}

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}
		errStr := err.Error()

		switch {
		case strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429"):
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off", "retry_after", retryAfter, "attempt", attempt+1)
			time.Sleep(retryAfter)
		case attempt == 0 && msg.ParseMode != "" && strings.Contains(errStr, "can't parse entities"):
			t.logger.Warn("telegram parse error, retrying as plain text", "err", err, "parseMode", t.parseMode)
		case attempt < telegramMaxSendRetries:
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
		default:
			t.logger.Error("telegram send failed after retries", "err", err, "attempts", attempt+1)
		}
	}
}

// splitMessage cuts msg into chunks of at most maxLen bytes, preferring
// newline boundaries and never splitting a UTF-8 sequence.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		} else {
			for cut > 0 && !utf8.RuneStart(msg[cut]) {
				cut--
			}
			if cut == 0 {
				cut = maxLen
			}
		}
		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
