package domain

// Placeholder values for a listing seen for the first time
const (
	UnknownTitle       = "未知商品"
	UnknownPrice       = "未知价格"
	UnknownDescription = "未知描述"
)

// DefaultEnabledPlugins is the plugin set for a freshly created listing
var DefaultEnabledPlugins = []string{"keyword", "auto_ship", "manual_service", "ai_reply"}

// Listing represents a marketplace item and its per-item bot configuration
type Listing struct {
	ListingID      string   `json:"listing_id"`
	Title          string   `json:"title"`
	Price          string   `json:"price"`
	Description    string   `json:"description"`
	OtherNotes     string   `json:"other_notes"`
	ShipReplyText  string   `json:"ship_reply_text"`
	EnabledPlugins []string `json:"enabled_plugins"`
}

// NewDefaultListing creates the placeholder listing used on first sighting
func NewDefaultListing(listingID string) *Listing {
	plugins := make([]string, len(DefaultEnabledPlugins))
	copy(plugins, DefaultEnabledPlugins)
	return &Listing{
		ListingID:      listingID,
		Title:          UnknownTitle,
		Price:          UnknownPrice,
		Description:    UnknownDescription,
		EnabledPlugins: plugins,
	}
}

// HasPlugin checks whether a plugin is enabled for this listing
func (l *Listing) HasPlugin(name string) bool {
	for _, p := range l.EnabledPlugins {
		if p == name {
			return true
		}
	}
	return false
}

// Ready reports whether the listing carries enough metadata to answer buyers
func (l *Listing) Ready() bool {
	return l != nil && l.Description != ""
}
