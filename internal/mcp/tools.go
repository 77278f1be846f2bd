package mcp

import (
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool names exposed to MCP clients
const (
	ToolListListings  = "xianyu_list_listings"
	ToolGetListing    = "xianyu_get_listing"
	ToolUpdateListing = "xianyu_update_listing"
	ToolSearch        = "xianyu_search_resources"
	ToolSearchHistory = "xianyu_search_history"
	ToolListResources = "xianyu_list_resources"
	ToolListPlugins   = "xianyu_list_plugins"
)

// RegisterTools adds every admin tool to server
func RegisterTools(server *sdk.Server, h *Handler) {
	// Listing management tools
	sdk.AddTool(server, &sdk.Tool{
		Name:        ToolListListings,
		Description: "List every marketplace listing the assistant has seen, with its enabled plugins and auto-ship text.",
	}, h.ListListings)

	sdk.AddTool(server, &sdk.Tool{
		Name:        ToolGetListing,
		Description: "Get one listing by its marketplace item id.",
	}, h.GetListing)

	sdk.AddTool(server, &sdk.Tool{
		Name:        ToolUpdateListing,
		Description: "Edit a listing. Only the fields you pass are changed. Use ship_reply_text to set the delivery text sent after payment and enabled_plugins to choose which plugins answer buyers.",
	}, h.UpdateListing)

	// Resource search tools
	sdk.AddTool(server, &sdk.Tool{
		Name:        ToolSearch,
		Description: "Search the cloud-drive resource sources for a keyword, transfer the hits to the assistant's drive and return the buyer-facing reply text.",
	}, h.Search)

	sdk.AddTool(server, &sdk.Tool{
		Name:        ToolSearchHistory,
		Description: "List recent resource searches with their result counts.",
	}, h.SearchHistory)

	sdk.AddTool(server, &sdk.Tool{
		Name:        ToolListResources,
		Description: "List transferred drive resources that have not been cleaned up yet.",
	}, h.ListResources)

	sdk.AddTool(server, &sdk.Tool{
		Name:        ToolListPlugins,
		Description: "List the registered reply plugins in the order they are tried.",
	}, h.ListPlugins)
}
