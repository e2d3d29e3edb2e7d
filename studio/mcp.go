package studio

import (
	"context"
	"errors"
	"image"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/texstudio/editor"
	"github.com/hazyhaar/texstudio/imgsrc"
	"github.com/hazyhaar/texstudio/kit"
)

// RegisterMCP registers the texstudio tools on an MCP server.
func (s *Studio) RegisterMCP(srv *mcp.Server) {
	s.registerListTexturesTool(srv)
	s.registerCreateSessionTool(srv)
	s.registerSessionStateTool(srv)
	s.registerPolygonSelectionTool(srv)
	s.registerApplyTextureTool(srv)
	s.registerStepTool(srv, "texstudio_undo", "Undo the last edit of a session.", s.Undo)
	s.registerStepTool(srv, "texstudio_redo", "Redo the next edit of a session.", s.Redo)
	s.registerExportTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	sch := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sch["required"] = required
	}
	return sch
}

var sessionIDProp = map[string]any{"type": "string", "description": "Session id returned by texstudio_create_session"}

// register wraps endpoint with logging and registers it.
func (s *Studio) register(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	kit.RegisterMCPTool(srv, tool, kit.Logging(s.logger, tool.Name)(endpoint), decode)
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

func decodeSession[T any](req *mcp.CallToolRequest, sid func(*T) string) (*kit.MCPDecodeResult, error) {
	rr, err := kit.DecodeArgs[T](req)
	if err != nil {
		return nil, err
	}
	id := sid(rr)
	if id == "" {
		return nil, errors.New("session_id is required")
	}
	return &kit.MCPDecodeResult{
		Request:   rr,
		EnrichCtx: func(ctx context.Context) context.Context { return kit.WithSessionID(ctx, id) },
	}, nil
}

// --- list_textures ---

func (s *Studio) registerListTexturesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "texstudio_list_textures",
		Description: "List the texture catalog in insertion order. Each texture has an id, name, category and preview data URL.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	endpoint := func(ctx context.Context, _ any) (any, error) {
		return s.catalog.List(ctx)
	}
	decode := func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{}, nil
	}
	s.register(srv, tool, endpoint, decode)
}

// --- create_session ---

type createSessionRequest struct {
	Image string `json:"image,omitempty"`
}

func (s *Studio) registerCreateSessionTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "texstudio_create_session",
		Description: "Open an editing session. Optionally load a base image given as a data URL; it is scaled down to fit the surface and centred.",
		InputSchema: inputSchema(map[string]any{
			"image": map[string]any{"type": "string", "description": "Base image as a data:image/...;base64 URL"},
		}, nil),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*createSessionRequest)
		var img image.Image
		if rr.Image != "" {
			var err error
			img, err = imgsrc.DecodeDataURL(rr.Image,
				imgsrc.WithDataLimit(s.cfg.MaxUploadBytes()),
				imgsrc.WithPixelLimit(s.cfg.Editor.MaxPixels))
			if err != nil {
				return nil, err
			}
		}
		return s.CreateSession(ctx, img)
	}
	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		rr, err := kit.DecodeArgs[createSessionRequest](req)
		if err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: rr}, nil
	}
	s.register(srv, tool, endpoint, decode)
}

// --- session_state ---

func (s *Studio) registerSessionStateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "texstudio_session_state",
		Description: "Return the editor state of a session: mode, image, selections, undo/redo availability.",
		InputSchema: inputSchema(map[string]any{"session_id": sessionIDProp}, []string{"session_id"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.SessionState(ctx, req.(*sessionRequest).SessionID)
	}
	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return decodeSession(req, func(r *sessionRequest) string { return r.SessionID })
	}
	s.register(srv, tool, endpoint, decode)
}

// --- add_polygon_selection ---

type polygonRequest struct {
	SessionID string                `json:"session_id"`
	Points    []editor.PointerEvent `json:"points"`
	Color     string                `json:"color,omitempty"`
}

func (s *Studio) registerPolygonSelectionTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "texstudio_add_polygon_selection",
		Description: "Add a closed polygon selection through at least three surface points and make it active. Textures applied next are clipped to it.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionIDProp,
			"points": map[string]any{
				"type":        "array",
				"description": "Vertices in surface coordinates",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"x": map[string]any{"type": "number"},
						"y": map[string]any{"type": "number"},
					},
					"required": []string{"x", "y"},
				},
			},
			"color": map[string]any{"type": "string", "description": "Outline colour (default #FFA500)"},
		}, []string{"session_id", "points"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*polygonRequest)
		return s.AddPolygonSelection(ctx, rr.SessionID, rr.Points, rr.Color)
	}
	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return decodeSession(req, func(r *polygonRequest) string { return r.SessionID })
	}
	s.register(srv, tool, endpoint, decode)
}

// --- apply_texture ---

type applyTextureRequest struct {
	SessionID string `json:"session_id"`
	TextureID string `json:"texture_id"`
}

func (s *Studio) registerApplyTextureTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "texstudio_apply_texture",
		Description: "Place a catalog texture at the centre of the surface, clipped to the active selection when there is one.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionIDProp,
			"texture_id": map[string]any{"type": "string", "description": "Catalog texture id (see texstudio_list_textures)"},
		}, []string{"session_id", "texture_id"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*applyTextureRequest)
		if rr.TextureID == "" {
			return nil, errors.New("texture_id is required")
		}
		return s.ApplyTexture(ctx, rr.SessionID, rr.TextureID)
	}
	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return decodeSession(req, func(r *applyTextureRequest) string { return r.SessionID })
	}
	s.register(srv, tool, endpoint, decode)
}

// --- undo / redo ---

func (s *Studio) registerStepTool(srv *mcp.Server, name, desc string, step func(context.Context, string) (*StepResult, error)) {
	tool := &mcp.Tool{
		Name:        name,
		Description: desc,
		InputSchema: inputSchema(map[string]any{"session_id": sessionIDProp}, []string{"session_id"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return step(ctx, req.(*sessionRequest).SessionID)
	}
	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return decodeSession(req, func(r *sessionRequest) string { return r.SessionID })
	}
	s.register(srv, tool, endpoint, decode)
}

// --- export ---

type exportRequest struct {
	SessionID string `json:"session_id"`
	Format    string `json:"format,omitempty"`
}

type exportResponse struct {
	Filename string `json:"filename"`
	MIME     string `json:"mime"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Size     int    `json:"size"`
	DataURL  string `json:"data_url"`
}

func (s *Studio) registerExportTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "texstudio_export",
		Description: "Render the session at twice the surface resolution with the studio watermark and return it as a data URL.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionIDProp,
			"format":     map[string]any{"type": "string", "enum": []any{"png", "jpeg"}, "description": "Output format (default png)"},
		}, []string{"session_id"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*exportRequest)
		f, err := imgsrc.ParseFormat(rr.Format)
		if err != nil {
			return nil, err
		}
		res, err := s.Export(ctx, rr.SessionID, f)
		if err != nil {
			return nil, err
		}
		return &exportResponse{
			Filename: res.Filename,
			MIME:     res.MIME,
			Width:    res.Width,
			Height:   res.Height,
			Size:     len(res.Data),
			DataURL:  res.DataURL(),
		}, nil
	}
	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return decodeSession(req, func(r *exportRequest) string { return r.SessionID })
	}
	s.register(srv, tool, endpoint, decode)
}
