package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/devricklin/xianyu-assistant/internal/api"
	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
	"github.com/devricklin/xianyu-assistant/internal/biz/repo"
	"github.com/devricklin/xianyu-assistant/internal/biz/usecase"
	"github.com/devricklin/xianyu-assistant/internal/conf"
	"github.com/devricklin/xianyu-assistant/internal/data"
	"github.com/devricklin/xianyu-assistant/internal/infra/baidu"
	"github.com/devricklin/xianyu-assistant/internal/infra/browser"
	"github.com/devricklin/xianyu-assistant/internal/infra/feishu"
	"github.com/devricklin/xianyu-assistant/internal/infra/llm"
	"github.com/devricklin/xianyu-assistant/internal/infra/pansearch"
	"github.com/devricklin/xianyu-assistant/internal/infra/quark"
	"github.com/devricklin/xianyu-assistant/internal/logx"
	"github.com/devricklin/xianyu-assistant/internal/notify"
	"github.com/devricklin/xianyu-assistant/internal/plugin"
	"github.com/devricklin/xianyu-assistant/internal/service"
)

// maxAIHistory bounds the chat history sent to the model
const maxAIHistory = 30

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	cfg := conf.LoadFromEnv()
	logx.Setup(logx.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Console:    true,
	})
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	var llmClient *llm.Client
	if cfg.LLM.APIKey != "" {
		llmClient = llm.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model)
		log.Info().Str("component", "main").Str("model", cfg.LLM.Model).Msg("AI reply enabled")
	}
	repos, err := data.NewRepositories(cfg.Store.DBDir, llmClient)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Store.DBDir).Msg("Failed to open databases")
	}
	log.Info().Str("component", "main").Str("dir", cfg.Store.DBDir).Msg("Databases ready")

	// Drives and resource search
	drives, searchOK := buildDrives(ctx, cfg, repos.Resource)
	sources := pansearch.Enabled(pansearch.All(), cfg.Search.SourceEnabled)
	searchUC := usecase.NewSearchUsecase(sources, drives, repos.History, usecase.SearchConfig{
		SourceTimeout:   cfg.Search.Timeout,
		MaxThreads:      cfg.Search.MaxThreads,
		TTLMinutes:      cfg.Expiry.TTLMinutes,
		BaiduEnabled:    cfg.Baidu.Enabled,
		TransfersPerSec: cfg.Search.TransfersPerSec,
	})
	log.Info().Str("component", "main").Strs("sources", searchUC.SourceNames()).Bool("enabled", searchOK).Msg("Resource search configured")

	var searcher plugin.Searcher
	if searchOK {
		searcher = searchUC
	}

	// Plugins
	registry := plugin.NewRegistry()
	plugin.RegisterBuiltins(registry, plugin.Deps{
		Config:            cfg.Plugins,
		EscalationKeyword: cfg.Bot.EscalationKeyword,
		Searcher:          searcher,
		SearchLimit:       cfg.Search.Limit,
		Completer:         repos.Completer,
		MaxHistory:        maxAIHistory,
	})

	// Operator notices
	notifier := buildNotifier(cfg)
	if cfg.Notice.StartupNotice {
		host, _ := os.Hostname()
		notifier.Notify(ctx, notify.StartupNotice(time.Now(), host, outboundIP()), notify.StartupPrefix)
	}

	// Browser and bot
	listingUC := usecase.NewListingUsecase(repos.Listing)
	contextUC := usecase.NewContextBuilderUsecase(repos.Listing, cfg.Bot.ToDetectionConfig())

	page := browser.New(browser.Config{
		UserDataDir: cfg.Browser.UserDataDir,
		ChromePath:  cfg.Browser.ChromePath,
		Headless:    cfg.Browser.Headless,
		IMURL:       cfg.Browser.IMURL,
	})

	bot := service.NewBotService(page, contextUC, registry, notifier, service.BotConfig{
		PollInterval:     cfg.Bot.PollInterval,
		ListingWait:      cfg.Bot.ListingWait,
		RefreshInterval:  time.Duration(cfg.Bot.RefreshHours) * time.Hour,
		ShipPrefix:       cfg.Plugins.AutoShip.Prefix,
		EscalationReply:  cfg.Bot.EscalationReply,
		EscalationNotice: cfg.Plugins.EscalationNotice,
	})

	page.OnListingDetected(bot.OnListingDetected)
	page.OnListingScraped(func(l *domain.Listing) {
		if err := listingUC.RecordScraped(context.WithoutCancel(ctx), l); err != nil {
			log.Error().Err(err).Str("component", "main").Str("listing", l.ListingID).Msg("Failed to store scraped listing")
		}
	})

	if err := page.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start browser")
	}
	defer page.Close()

	// Expiry reaper
	expiryUC := usecase.NewExpiryUsecase(repos.Resource, drives, cfg.ResourceTTL())
	reaper := service.NewExpiryReaper(expiryUC, cfg.Expiry.Interval)
	reaper.Start(ctx)

	// Admin API
	apiServer := api.NewServer(listingUC, searchUC, repos.Resource, registry, cfg.API.Addr)
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Error().Err(err).Str("component", "main").Msg("API server error")
		}
	}()

	log.Info().Str("component", "main").Msg("Starting Xianyu assistant...")
	if err := bot.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Str("component", "main").Msg("Bot stopped")
	}

	log.Info().Str("component", "main").Msg("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	apiServer.Stop(shutdownCtx)
	reaper.Stop()
}

// buildDrives creates the configured drives. Search is only usable when the
// Quark account is logged in; the drives are still returned so expired
// records can be reaped.
func buildDrives(ctx context.Context, cfg *conf.Config, resources repo.ResourceRepo) ([]repo.Drive, bool) {
	var drives []repo.Drive
	searchOK := false

	if cfg.Quark.Cookie != "" {
		qc := quark.NewClient(quark.Config{
			Cookie:         cfg.Quark.Cookie,
			SaveDirFID:     cfg.Quark.SaveDirFID,
			InsertAd:       cfg.Quark.InsertAd,
			AdFileIDs:      cfg.Quark.AdFileIDs,
			FilterKeywords: cfg.Quark.FilterKeywords,
		}, resources)
		drives = append(drives, qc)

		verifyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		nickname, err := qc.VerifyAccount(verifyCtx)
		cancel()
		if err != nil {
			log.Error().Err(err).Str("component", "main").Msg("Quark account check failed, resource search disabled")
		} else {
			searchOK = true
			log.Info().Str("component", "main").Str("account", nickname).Msg("Quark account verified")
		}
	} else {
		log.Warn().Str("component", "main").Msg("QUARK_COOKIE not set, resource search disabled")
	}

	if cfg.Baidu.Enabled {
		if cfg.Baidu.Cookie == "" {
			log.Warn().Str("component", "main").Msg("BAIDU_ENABLED without BAIDU_COOKIE, Baidu drive skipped")
		} else {
			drives = append(drives, baidu.NewClient(baidu.Config{
				Cookie:  cfg.Baidu.Cookie,
				SaveDir: cfg.Baidu.SaveDir,
			}, resources))
		}
	}

	return drives, searchOK
}

func buildNotifier(cfg *conf.Config) *notify.Dispatcher {
	var channels []notify.Channel
	if cfg.Notice.DingTalkWebhook != "" {
		channels = append(channels, notify.NewDingTalk(cfg.Notice.DingTalkWebhook, cfg.Notice.DingTalkKeyword))
	}
	if cfg.Notice.WxPusherToken != "" && len(cfg.Notice.WxPusherUIDs) > 0 {
		channels = append(channels, notify.NewWxPusher(cfg.Notice.WxPusherToken, cfg.Notice.WxPusherUIDs))
	}
	if cfg.Notice.FeishuChatID != "" {
		client := feishu.NewClient(cfg.Notice.FeishuAppID, cfg.Notice.FeishuAppSecret)
		channels = append(channels, notify.NewFeishu(client, cfg.Notice.FeishuChatID))
	}

	d := notify.NewDispatcher(cfg.Notice.Cooldown, channels...)
	log.Info().Str("component", "main").Strs("channels", d.Channels()).Msg("Notice channels configured")
	return d
}

// outboundIP returns the local address used for outbound traffic
func outboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "unknown"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
