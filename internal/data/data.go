package data

import (
	"path/filepath"

	"github.com/devricklin/xianyu-assistant/internal/biz/repo"
	"github.com/devricklin/xianyu-assistant/internal/infra/llm"
)

// Repositories contains all repositories
type Repositories struct {
	Listing   repo.ListingRepo
	Resource  repo.ResourceRepo
	History   repo.SearchHistoryRepo
	Completer repo.Completer
}

// NewRepositories creates all repositories.
// Listings live in fishbot.db; drive records and search history share pan.db.
func NewRepositories(dbDir string, llmClient *llm.Client) (*Repositories, error) {
	listingRepo, err := NewListingRepo(filepath.Join(dbDir, "fishbot.db"))
	if err != nil {
		return nil, err
	}

	panDB := filepath.Join(dbDir, "pan.db")
	resourceRepo, err := NewResourceRepo(panDB)
	if err != nil {
		return nil, err
	}

	historyRepo, err := NewSearchHistoryRepo(panDB)
	if err != nil {
		return nil, err
	}

	return &Repositories{
		Listing:   listingRepo,
		Resource:  resourceRepo,
		History:   historyRepo,
		Completer: NewCompleterRepo(llmClient),
	}, nil
}
