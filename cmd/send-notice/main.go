package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/devricklin/xianyu-assistant/internal/conf"
	"github.com/devricklin/xianyu-assistant/internal/infra/feishu"
	"github.com/devricklin/xianyu-assistant/internal/notify"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Println("Usage: send-notice <message> [prefix]")
		os.Exit(1)
	}

	message := os.Args[1]
	prefix := notify.StartupPrefix
	if len(os.Args) > 2 {
		prefix = os.Args[2]
	}

	cfg := conf.LoadFromEnv()

	var channels []notify.Channel
	if cfg.Notice.DingTalkWebhook != "" {
		channels = append(channels, notify.NewDingTalk(cfg.Notice.DingTalkWebhook, cfg.Notice.DingTalkKeyword))
	}
	if cfg.Notice.WxPusherToken != "" && len(cfg.Notice.WxPusherUIDs) > 0 {
		channels = append(channels, notify.NewWxPusher(cfg.Notice.WxPusherToken, cfg.Notice.WxPusherUIDs))
	}
	if cfg.Notice.FeishuChatID != "" && cfg.Notice.FeishuAppID != "" {
		client := feishu.NewClient(cfg.Notice.FeishuAppID, cfg.Notice.FeishuAppSecret)
		channels = append(channels, notify.NewFeishu(client, cfg.Notice.FeishuChatID))
	}
	if len(channels) == 0 {
		fmt.Println("Error: no notice channel configured (DINGTALK_WEBHOOK, WXPUSHER_APP_TOKEN or FEISHU_CHAT_ID)")
		os.Exit(1)
	}

	d := notify.NewDispatcher(cfg.Notice.Cooldown, channels...)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if !d.Send(ctx, message, prefix) {
		fmt.Printf("Error: notice not delivered via %s\n", strings.Join(d.Channels(), ", "))
		os.Exit(1)
	}
	fmt.Println("Notice sent successfully!")
}
