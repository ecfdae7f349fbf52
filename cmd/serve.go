package cmd

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/praytools/pray-bot/internal/approval"
	"github.com/praytools/pray-bot/internal/autothread"
	"github.com/praytools/pray-bot/internal/bus"
	"github.com/praytools/pray-bot/internal/channels"
	"github.com/praytools/pray-bot/internal/config"
	"github.com/praytools/pray-bot/internal/cron"
	"github.com/praytools/pray-bot/internal/gateway"
	"github.com/praytools/pray-bot/internal/hook"
	"github.com/praytools/pray-bot/internal/monitor"
	"github.com/praytools/pray-bot/internal/routestore"
	"github.com/praytools/pray-bot/internal/telemetry"
	"github.com/praytools/pray-bot/internal/throttle"
	"github.com/praytools/pray-bot/pkg/protocol"
)

// chatSendAction is the cron.ActionExecutor for the "send_chat_message"
// action type: deliver Config's {"channel":..,"message":..} through the
// throttle queue, matching the teacher's own cron-drives-chat-output
// pattern generalized from "run an agent and deliver its reply" down to
// "deliver a fixed message" — this hub doesn't run agent turns itself.
type chatSendAction struct {
	queue *throttle.Queue
}

type chatSendConfig struct {
	Channel string `json:"channel"`
	Message string `json:"message"`
}

func (a *chatSendAction) Execute(ctx context.Context, job cron.Job) error {
	var cfg chatSendConfig
	if err := json.Unmarshal(job.Action.Config, &cfg); err != nil {
		return err
	}
	return a.queue.Send(ctx, cfg.Channel, cfg.Message, throttle.SendOptions{})
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		slog.Error("failed to create state dir", "dir", cfg.StateDir, "error", err)
		os.Exit(1)
	}

	shutdownTelemetry, err := telemetry.Setup(context.Background(), cfg.Telemetry)
	if err != nil {
		slog.Error("failed to set up telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Error("failed to shut down telemetry", "error", err)
		}
	}()

	eventBus := bus.NewMessageBus()

	routes, err := routestore.Open(filepath.Join(cfg.StateDir, "deploy.db"))
	if err != nil {
		slog.Error("failed to open route store", "error", err)
		os.Exit(1)
	}

	// --- Chat egress: one Discord adapter, one Telegram fallback, each
	// fronted by its own throttle queue (spec.md §4.A is per-channel, but
	// the executor itself differs per platform).
	var discordAdapter *channels.Discord
	var discordQueue *throttle.Queue
	if cfg.Channels.Discord.Enabled {
		discordAdapter, err = channels.NewDiscord(cfg.Channels.Discord.Token)
		if err != nil {
			slog.Error("failed to create discord client", "error", err)
			os.Exit(1)
		}
		discordQueue = throttle.NewQueue(discordAdapter.Execute)
		defer discordQueue.Destroy()
	}

	var telegramAdapter *channels.Telegram
	var telegramQueue *throttle.Queue
	if cfg.Channels.Telegram.Enabled {
		telegramAdapter, err = channels.NewTelegram(cfg.Channels.Telegram.Token)
		if err != nil {
			slog.Error("failed to create telegram client", "error", err)
			os.Exit(1)
		}
		telegramQueue = throttle.NewQueue(telegramAdapter.Execute)
		defer telegramQueue.Destroy()
	}

	// primaryQueue picks the one egress queue Auto-Thread Discovery and
	// cron delivery use for arbitrary channel ids; Telegram's flat chat
	// id is reached the same way if Discord isn't configured.
	primaryQueue := discordQueue
	if primaryQueue == nil {
		primaryQueue = telegramQueue
	}

	var threadCreator autothread.ThreadCreator
	var sender autothread.Sender
	if discordAdapter != nil {
		threadCreator = discordAdapter
		sender = discordAdapter
	} else if telegramAdapter != nil {
		sender = telegramAdapter
	}

	resolver := channels.NewPathResolver(cfg.Channels.Routes, cfg.Channels.Fallback)

	// --- Approval / Interaction Broker + Hook Approval Bridge.
	broker := approval.NewBroker(0)
	hookBridge := approval.NewHookBridge(func(id, prompt string) {
		if primaryQueue == nil || cfg.Channels.Fallback == "" {
			return
		}
		msg := "Approval requested (" + id + "): " + prompt
		_ = primaryQueue.Send(context.Background(), cfg.Channels.Fallback, msg, throttle.SendOptions{Priority: throttle.PriorityHigh})
	})

	if discordAdapter != nil {
		discordAdapter.AddInteractionHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
			handleDiscordInteraction(broker, s, i)
		})
	}

	// --- Session Monitor + Hook Receiver + Auto-Thread Discovery.
	mon := monitor.New(monitor.Config{
		HomeDir:      cfg.Monitor.HomeDir,
		PollInterval: time.Duration(cfg.Monitor.PollIntervalMs) * time.Millisecond,
		Debounce:     time.Duration(cfg.Monitor.DebounceMs) * time.Millisecond,
	})

	atCfg := autothread.Config{FallbackChannel: cfg.Channels.Fallback}
	at := autothread.New(atCfg, routes, resolver, threadCreator, sender, filepath.Join(cfg.StateDir, "auto-thread-watch-state.json"))
	mon.RegisterOnRefresh(at.OnRefresh)

	forwardToThread := func(provider, sessionID, text string) {
		_ = at.SendToSessionThread(context.Background(), provider, sessionID, text)
	}
	receiver := hook.NewReceiver(mon, at.OnSessionStart, forwardToThread)
	hookHandler := hook.NewHTTPHandler(receiver, channels.NewWebhookRateLimiter())

	// --- Cron Scheduler.
	cronEngine := cron.NewEngine(
		cfg.Cron.StoreDir,
		eventBus,
		time.Duration(cfg.Cron.DefaultTimeoutMs)*time.Millisecond,
		time.Duration(cfg.Cron.StuckThresholdMs)*time.Millisecond,
	)
	if primaryQueue != nil {
		cronEngine.RegisterAction("send_chat_message", &chatSendAction{queue: primaryQueue})
	}

	// --- Gateway HTTP/WS surface.
	server := gateway.NewServer(cfg, eventBus, hookHandler, hookBridge)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if discordAdapter != nil {
		if err := discordAdapter.Open(); err != nil {
			slog.Error("failed to open discord session", "error", err)
		} else {
			defer discordAdapter.Close()
		}
	}

	if err := mon.Start(ctx); err != nil {
		slog.Error("failed to start session monitor", "error", err)
		os.Exit(1)
	}
	defer mon.Stop()

	if err := cronEngine.Start(ctx); err != nil {
		slog.Error("failed to start cron engine", "error", err)
		os.Exit(1)
	}
	defer cronEngine.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		server.BroadcastEvent(*protocol.NewEvent(protocol.EventHeartbeat, map[string]string{"status": "shutting_down"}))
		cancel()
	}()

	slog.Info("pray-bot gateway starting",
		"version", Version,
		"protocol", protocol.ProtocolVersion,
		"addr", cfg.Gateway.Host,
		"port", cfg.Gateway.Port,
		"discord", cfg.Channels.Discord.Enabled,
		"telegram", cfg.Channels.Telegram.Enabled,
	)

	if err := server.Start(ctx); err != nil {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
}

// handleDiscordInteraction routes a button/select-menu click to the
// Approval Broker based on its decoded custom id.
func handleDiscordInteraction(broker *approval.Broker, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	data := i.MessageComponentData()
	parsed, err := approval.ParseCustomID(data.CustomID)
	if err != nil {
		return
	}

	actorID := ""
	if i.Member != nil && i.Member.User != nil {
		actorID = i.Member.User.ID
	} else if i.User != nil {
		actorID = i.User.ID
	}

	switch parsed.Kind {
	case "action":
		_ = broker.HandleAction(parsed.PendingID, parsed.ApprovalKind, parsed.Decision, actorID)
	case "questionButton":
		_ = broker.HandleQuestionButton(parsed.PendingID, parsed.QuestionIndex, parsed.OptionIndex, actorID)
	case "questionSelect":
		if len(data.Values) > 0 {
			_, _ = broker.HandleQuestionSelect(parsed.PendingID, parsed.QuestionIndex, data.Values[0], actorID)
		}
	}

	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})
}
