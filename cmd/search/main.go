package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/devricklin/xianyu-assistant/internal/biz/repo"
	"github.com/devricklin/xianyu-assistant/internal/biz/usecase"
	"github.com/devricklin/xianyu-assistant/internal/conf"
	"github.com/devricklin/xianyu-assistant/internal/data"
	"github.com/devricklin/xianyu-assistant/internal/infra/baidu"
	"github.com/devricklin/xianyu-assistant/internal/infra/pansearch"
	"github.com/devricklin/xianyu-assistant/internal/infra/quark"
	"github.com/devricklin/xianyu-assistant/internal/logx"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Println("Usage: search <keyword>")
		os.Exit(1)
	}
	keyword := strings.Join(os.Args[1:], " ")

	cfg := conf.LoadFromEnv()
	logx.Setup(logx.Options{Level: cfg.Log.Level, Console: true})
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}
	if cfg.Quark.Cookie == "" {
		log.Fatal().Msg("QUARK_COOKIE must be set")
	}

	repos, err := data.NewRepositories(cfg.Store.DBDir, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open databases")
	}

	drives := []repo.Drive{quark.NewClient(quark.Config{
		Cookie:         cfg.Quark.Cookie,
		SaveDirFID:     cfg.Quark.SaveDirFID,
		InsertAd:       cfg.Quark.InsertAd,
		AdFileIDs:      cfg.Quark.AdFileIDs,
		FilterKeywords: cfg.Quark.FilterKeywords,
	}, repos.Resource)}
	if cfg.Baidu.Enabled && cfg.Baidu.Cookie != "" {
		drives = append(drives, baidu.NewClient(baidu.Config{Cookie: cfg.Baidu.Cookie, SaveDir: cfg.Baidu.SaveDir}, repos.Resource))
	}

	uc := usecase.NewSearchUsecase(
		pansearch.Enabled(pansearch.All(), cfg.Search.SourceEnabled),
		drives,
		repos.History,
		usecase.SearchConfig{
			SourceTimeout:   cfg.Search.Timeout,
			MaxThreads:      cfg.Search.MaxThreads,
			TTLMinutes:      cfg.Expiry.TTLMinutes,
			BaiduEnabled:    cfg.Baidu.Enabled,
			TransfersPerSec: cfg.Search.TransfersPerSec,
		},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	results, err := uc.SearchAndStore(ctx, keyword, cfg.Search.Limit)
	if err != nil {
		log.Fatal().Err(err).Str("keyword", keyword).Msg("Search failed")
	}
	fmt.Println(uc.FormatReply(results, keyword))
}
