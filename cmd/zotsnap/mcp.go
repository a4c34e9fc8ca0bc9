package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/zotsnap/zotsnap/internal/config"
	"github.com/zotsnap/zotsnap/internal/history"
	"github.com/zotsnap/zotsnap/internal/pipeline"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP server (stdio transport)",
	Long: `Run the MCP server over stdio, exposing save_url and save_pdf tools
so an MCP client can file pages and PDFs into Zotero.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		hist := openHistory(cfg)
		if hist != nil {
			defer hist.Close()
		}
		ingestor, err := buildIngestor(cfg, hist)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		mcpSrv := newMCPServer(ingestor)
		stdioSrv := server.NewStdioServer(mcpSrv)
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mcp server: %w", err)
		}
		return nil
	},
}

// newMCPServer registers the save tools on an MCP server.
func newMCPServer(ingestor *pipeline.Ingestor) *server.MCPServer {
	s := server.NewMCPServer(
		"zotsnap",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("zotsnap saves web pages and PDFs into the local Zotero library."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("save_url",
			mcp.WithDescription("Save a web page into Zotero with a rendered PDF snapshot attached."),
			mcp.WithString("url", mcp.Description("Page URL to save"), mcp.Required()),
			mcp.WithString("tags", mcp.Description("Comma-separated tags to apply")),
			mcp.WithString("collection_key", mcp.Description("Collection key to file the record into")),
			mcp.WithString("collection_name", mcp.Description("Collection name to file the record into")),
		),
		mcpSaveURL(ingestor),
	)

	s.AddTool(
		mcp.NewTool("save_pdf",
			mcp.WithDescription("Save a local PDF file into Zotero as a standalone attachment."),
			mcp.WithString("path", mcp.Description("Absolute path of the PDF file"), mcp.Required()),
			mcp.WithString("tags", mcp.Description("Comma-separated tags to apply")),
			mcp.WithString("collection_key", mcp.Description("Collection key to file the record into")),
			mcp.WithString("collection_name", mcp.Description("Collection name to file the record into")),
		),
		mcpSavePDF(ingestor),
	)

	return s
}

func mcpOptions(req mcp.CallToolRequest) pipeline.Options {
	return pipeline.Options{
		Tags:           config.ParseTags(req.GetString("tags", "")),
		CollectionKey:  req.GetString("collection_key", ""),
		CollectionName: req.GetString("collection_name", ""),
	}
}

func mcpSaveURL(ingestor *pipeline.Ingestor) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := req.RequireString("url")
		if err != nil {
			return mcpError("url is required"), nil
		}

		report, err := ingestor.SaveURL(ctx, url, mcpOptions(req))
		if err != nil {
			slog.Error("save_url failed", "url", url, "error", err)
			return mcpError(fmt.Sprintf("saving %s failed: %v", url, err)), nil
		}
		return mcpText(reportSummary(report)), nil
	}
}

func mcpSavePDF(ingestor *pipeline.Ingestor) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := req.RequireString("path")
		if err != nil {
			return mcpError("path is required"), nil
		}

		report, err := ingestor.SavePDF(ctx, path, mcpOptions(req))
		if err != nil {
			slog.Error("save_pdf failed", "path", path, "error", err)
			return mcpError(fmt.Sprintf("saving %s failed: %v", path, err)), nil
		}
		return mcpText(reportSummary(report)), nil
	}
}

// reportSummary renders a save report for the MCP client.
func reportSummary(r pipeline.Report) string {
	out := fmt.Sprintf("Saved as item %s", r.ItemKey)
	if r.AttachmentKey != "" && r.AttachmentKey != r.ItemKey {
		out += fmt.Sprintf(" with attachment %s", r.AttachmentKey)
	}
	if r.PlacedPath != "" {
		out += fmt.Sprintf(", file placed at %s", r.PlacedPath)
	}
	if r.Status != history.StatusCompleted {
		out += fmt.Sprintf(" (status: %s", r.Status)
		if !r.Tags.OK {
			out += "; tags not applied: " + r.Tags.Reason
		}
		if !r.Collection.OK {
			out += "; collection not applied: " + r.Collection.Reason
		}
		out += ")"
	}
	return out
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
	}
}
