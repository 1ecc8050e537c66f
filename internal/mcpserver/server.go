// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes talkdrop tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/talkdrop/internal/apperr"
	"github.com/starford/talkdrop/internal/talkservice"
)

// Server wraps the MCP server with talkdrop tools.
type Server struct {
	mcp *server.MCPServer
	svc *talkservice.Service
}

// New creates a new MCP server with all talkdrop tools registered.
func New(svc *talkservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"talkdrop",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_talks",
		mcp.WithDescription("List all talks of the schedule ordered by title, with file and comment counts."),
	), s.listTalks)

	s.mcp.AddTool(mcp.NewTool("get_talk",
		mcp.WithDescription("Get one talk with its files. Pass either id or slug."),
		mcp.WithString("id", mcp.Description("Talk id (schedule guid)")),
		mcp.WithString("slug", mcp.Description("Talk slug, used when id is empty")),
	), s.getTalk)

	s.mcp.AddTool(mcp.NewTool("read_comments",
		mcp.WithDescription("Read every comment left on a talk, oldest first."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Talk id")),
	), s.readComments)

	s.mcp.AddTool(mcp.NewTool("add_comment",
		mcp.WithDescription("Add a text comment to a talk."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Talk id")),
		mcp.WithString("body", mcp.Required(), mcp.Description("Comment text")),
	), s.addComment)

	s.mcp.AddTool(mcp.NewTool("attach_file",
		mcp.WithDescription("Attach a file to a talk from an http(s) URL or a base64 data URI. "+
			"Read the talkdrop://layout resource for naming rules."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Talk id")),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data:<mime>;base64,<data> URI")),
		mcp.WithString("filename", mcp.Description("Optional file name; derived from the URL when empty")),
	), s.attachFile)

	s.mcp.AddTool(mcp.NewTool("schedule_version",
		mcp.WithDescription("Report the version of the installed schedule."),
	), s.scheduleVersion)

	s.mcp.AddResource(
		mcp.NewResource(LayoutURI, "Directory Layout",
			mcp.WithResourceDescription("How talks, uploads and comments are laid out on disk."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readLayoutResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func optionalString(req mcp.CallToolRequest, key string) string {
	if v, err := req.RequireString(key); err == nil {
		return v
	}
	return ""
}

func errorResult(err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError("not found")
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) listTalks(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := s.svc.ListTalks(ctx, true)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(list.Talks)
}

func (s *Server) getTalk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, slug := optionalString(req, "id"), optionalString(req, "slug")
	var (
		detail any
		err    error
	)
	switch {
	case id != "":
		detail, err = s.svc.GetTalk(ctx, id, true)
	case slug != "":
		detail, err = s.svc.GetTalkBySlug(ctx, slug, true)
	default:
		return mcp.NewToolResultError("id or slug is required"), nil
	}
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(detail)
}

func (s *Server) readComments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	comments, err := s.svc.Comments(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	if len(comments) == 0 {
		return mcp.NewToolResultText("no comments"), nil
	}
	return jsonResult(comments)
}

func (s *Server) addComment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	body, err := req.RequireString("body")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	c, err := s.svc.AddComment(ctx, id, body)
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("added: %s/%s", id, c.Name)), nil
}

func (s *Server) scheduleVersion(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	v := s.svc.ScheduleVersion()
	if !v.Available {
		return mcp.NewToolResultText("no schedule installed"), nil
	}
	return mcp.NewToolResultText(v.Version), nil
}

func (s *Server) readLayoutResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      LayoutURI,
			MIMEType: "text/markdown",
			Text:     LayoutContract,
		},
	}, nil
}
