package editor

// Mode is the editor's interaction mode.
type Mode string

const (
	ModeView    Mode = "view"
	ModePolygon Mode = "polygon"
	ModeBrush   Mode = "brush"
)

// Action drives mode transitions.
type Action string

const (
	ActionTogglePolygon Action = "toggle_polygon"
	ActionToggleBrush   Action = "toggle_brush"
	ActionComplete      Action = "complete"
	ActionCancel        Action = "cancel"
)

var transitions = map[Mode]map[Action]Mode{
	ModeView: {
		ActionTogglePolygon: ModePolygon,
		ActionToggleBrush:   ModeBrush,
		ActionComplete:      ModeView,
		ActionCancel:        ModeView,
	},
	ModePolygon: {
		ActionTogglePolygon: ModeView,
		ActionToggleBrush:   ModeBrush,
		ActionComplete:      ModeView,
		ActionCancel:        ModeView,
	},
	ModeBrush: {
		ActionTogglePolygon: ModePolygon,
		ActionToggleBrush:   ModeView,
		ActionComplete:      ModeView,
		ActionCancel:        ModeView,
	},
}

// Next returns the mode reached from m by a. Unknown pairs keep m.
func Next(m Mode, a Action) Mode {
	if to, ok := transitions[m][a]; ok {
		return to
	}
	return m
}

// ParseTool maps a tool name to its toggle action.
func ParseTool(name string) (Action, bool) {
	switch name {
	case string(ModePolygon):
		return ActionTogglePolygon, true
	case string(ModeBrush):
		return ActionToggleBrush, true
	}
	return "", false
}
