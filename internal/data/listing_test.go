package data

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
)

func newTestListingRepo(t *testing.T) *listingRepo {
	t.Helper()
	r, err := NewListingRepo(filepath.Join(t.TempDir(), "fishbot.db"))
	if err != nil {
		t.Fatalf("Failed to create listing repo: %v", err)
	}
	lr := r.(*listingRepo)
	t.Cleanup(func() { lr.Close() })
	return lr
}

func TestListingRepo_GetMissing(t *testing.T) {
	r := newTestListingRepo(t)

	l, err := r.Get(context.Background(), "404")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if l != nil {
		t.Errorf("Expected nil listing, got %+v", l)
	}
}

func TestListingRepo_EnsureDefault(t *testing.T) {
	r := newTestListingRepo(t)
	ctx := context.Background()

	l, err := r.EnsureDefault(ctx, "1001")
	if err != nil {
		t.Fatalf("EnsureDefault failed: %v", err)
	}
	if l.Title != domain.UnknownTitle || l.Description != domain.UnknownDescription {
		t.Errorf("Expected placeholder values, got %+v", l)
	}
	if len(l.EnabledPlugins) != 4 {
		t.Errorf("Expected 4 default plugins, got %v", l.EnabledPlugins)
	}

	// A second call must not reset an edited row
	l.OtherNotes = "包邮"
	l.EnabledPlugins = []string{"ai_reply"}
	if err := r.Save(ctx, l); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	again, err := r.EnsureDefault(ctx, "1001")
	if err != nil {
		t.Fatalf("EnsureDefault failed: %v", err)
	}
	if again.OtherNotes != "包邮" || len(again.EnabledPlugins) != 1 {
		t.Errorf("Expected edited listing to survive, got %+v", again)
	}
}

func TestListingRepo_UpsertScrapedKeepsCuratedFields(t *testing.T) {
	r := newTestListingRepo(t)
	ctx := context.Background()

	curated := &domain.Listing{
		ListingID:      "2002",
		Title:          "旧标题",
		Price:          "10",
		Description:    "旧描述",
		OtherNotes:     "不议价",
		ShipReplyText:  "网盘链接: xxx",
		EnabledPlugins: []string{"auto_ship", "resource_search"},
	}
	if err := r.Save(ctx, curated); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	scraped := &domain.Listing{ListingID: "2002", Title: "新标题", Price: "12", Description: "新描述"}
	if err := r.UpsertScraped(ctx, scraped); err != nil {
		t.Fatalf("UpsertScraped failed: %v", err)
	}

	got, err := r.Get(ctx, "2002")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Title != "新标题" || got.Price != "12" || got.Description != "新描述" {
		t.Errorf("Expected scraped fields updated, got %+v", got)
	}
	if got.OtherNotes != "不议价" || got.ShipReplyText != "网盘链接: xxx" {
		t.Errorf("Expected curated fields kept, got %+v", got)
	}
	if len(got.EnabledPlugins) != 2 || got.EnabledPlugins[1] != "resource_search" {
		t.Errorf("Expected plugin config kept, got %v", got.EnabledPlugins)
	}
}

func TestListingRepo_UpsertScrapedNewRowGetsDefaultPlugins(t *testing.T) {
	r := newTestListingRepo(t)
	ctx := context.Background()

	if err := r.UpsertScraped(ctx, &domain.Listing{ListingID: "3003", Title: "t", Description: "d"}); err != nil {
		t.Fatalf("UpsertScraped failed: %v", err)
	}
	got, _ := r.Get(ctx, "3003")
	if got == nil || !got.HasPlugin("ai_reply") {
		t.Errorf("Expected default plugins on new row, got %+v", got)
	}
}

func TestListingRepo_MalformedPluginsConfig(t *testing.T) {
	r := newTestListingRepo(t)
	ctx := context.Background()

	_, err := r.db.Exec(`INSERT INTO xianyu_shop (item_id, shop_desc, plugins_config) VALUES ('bad', 'd', '{not json')`)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := r.Get(ctx, "bad")
	if err != nil {
		t.Fatalf("Expected malformed config not to fail the read: %v", err)
	}
	if len(got.EnabledPlugins) != 0 {
		t.Errorf("Expected no plugins, got %v", got.EnabledPlugins)
	}
}

func TestListingRepo_List(t *testing.T) {
	r := newTestListingRepo(t)
	ctx := context.Background()

	for _, id := range []string{"b", "a"} {
		if _, err := r.EnsureDefault(ctx, id); err != nil {
			t.Fatalf("EnsureDefault failed: %v", err)
		}
	}

	list, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 || list[0].ListingID != "a" {
		t.Errorf("Expected 2 listings ordered by id, got %d", len(list))
	}
}
