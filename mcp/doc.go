// Package mcp exposes the buyer agent as MCP (Model Context Protocol) tools,
// so an assistant can trigger purchases and read the buyer's history.
//
// # Server Usage
//
// Build the tool server and mount it on the buyer API:
//
//	import (
//	    "github.com/tlguszz1010/Pixel-Pay/mcp"
//	    "github.com/tlguszz1010/Pixel-Pay/pkg/buyer"
//	)
//
//	server := mcp.NewBuyerServer(scheduler, store, mcp.WithWallet(wallets))
//	api := buyer.NewAPI(scheduler, store, wallets, buyer.WithMCPHandler(mcp.Handler(server)))
//
// # Tools
//
//	trigger_purchase  run the buy pipeline once
//	list_purchases    recent purchases, newest first ({"limit": n})
//	buyer_status      pipeline state, totals and wallet status
//
// Tool results carry the JSON payload both as structuredContent and as the
// text of the first content item.
package mcp
