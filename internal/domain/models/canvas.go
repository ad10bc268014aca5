package models

// Tool is the drawing primitive used to produce a canvas element.
type Tool string

const (
	ToolPencil    Tool = "pencil"
	ToolLine      Tool = "line"
	ToolCircle    Tool = "circle"
	ToolRectangle Tool = "rectangle"
	ToolPolygon   Tool = "polygon"
	ToolCurve     Tool = "curve"
)

// Valid reports whether t is a known drawing tool.
func (t Tool) Valid() bool {
	switch t {
	case ToolPencil, ToolLine, ToolCircle, ToolRectangle, ToolPolygon, ToolCurve:
		return true
	}
	return false
}

// Point is a 2D coordinate on the whiteboard.
type Point struct {
	X float64 `bson:"x" json:"x"`
	Y float64 `bson:"y" json:"y"`
}

// CanvasElement is a committed stroke or shape. Elements are immutable once
// committed; the sequence only changes by append, removal, or full replace.
type CanvasElement struct {
	ID     string  `bson:"id"     json:"id"`
	Tool   Tool    `bson:"tool"   json:"tool"`
	Points []Point `bson:"points" json:"points"`
	Color  string  `bson:"color"  json:"color"`
	Width  float64 `bson:"width"  json:"width"`
}
