// internal/app/system/gateway/mutation.go
package gateway

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dalemusser/devsync/internal/domain/filetree"
	"github.com/dalemusser/devsync/internal/domain/models"
)

var (
	ErrMissingRoomID = errors.New("roomId is required")
	ErrEmptyMutation = errors.New("nothing to apply: send files, elements, or fileId with content")
	ErrInvalidTree   = errors.New("invalid file tree")
	ErrInvalidCanvas = errors.New("invalid canvas element")
)

// Field names reported in Result.Applied and Result.Ignored.
const (
	FieldContent  = "content"
	FieldFileID   = "fileId"
	FieldFiles    = "files"
	FieldElements = "elements"
)

// Request is the mutate call as it arrives on the wire. Absent fields are
// nil; a present but empty array is a real replacement.
type Request struct {
	RoomID   string                   `json:"roomId"`
	Files    *[]models.FileSystemItem `json:"files,omitempty"`
	FileID   *string                  `json:"fileId,omitempty"`
	Content  *string                  `json:"content,omitempty"`
	Elements *[]models.CanvasElement  `json:"elements,omitempty"`
	// WriteID is an optional client token echoed on the resulting broadcast
	// so the writer can recognise its own change.
	WriteID string `json:"writeId,omitempty"`
}

// ContentPatch replaces one file's content in place.
type ContentPatch struct {
	FileID  string
	Content string
}

// TreeReplace replaces the whole file tree.
type TreeReplace struct {
	Files []models.FileSystemItem
}

// CanvasReplace replaces the whole element sequence.
type CanvasReplace struct {
	Elements []models.CanvasElement
}

// Mutation is a decoded request. Exactly one shape is set: Patch alone, or
// one or both of Tree and Canvas.
type Mutation struct {
	RoomID  string
	WriteID string

	Patch  *ContentPatch
	Tree   *TreeReplace
	Canvas *CanvasReplace

	// Ignored lists request fields that were present but not applied.
	Ignored []string
}

// IsPatch reports whether m is a single-file content patch.
func (m Mutation) IsPatch() bool {
	return m.Patch != nil
}

// Decode turns a request into a Mutation. A fileId+content pair takes
// priority and causes files and elements in the same request to be ignored.
// When validateTree is set, a replacement tree must pass filetree.Validate.
func Decode(req Request, validateTree bool) (Mutation, error) {
	m := Mutation{
		RoomID:  strings.TrimSpace(req.RoomID),
		WriteID: req.WriteID,
	}
	if m.RoomID == "" {
		return Mutation{}, ErrMissingRoomID
	}

	hasFileID := req.FileID != nil && *req.FileID != ""
	hasContent := req.Content != nil

	if hasFileID && hasContent {
		m.Patch = &ContentPatch{FileID: *req.FileID, Content: *req.Content}
		if req.Files != nil {
			m.Ignored = append(m.Ignored, FieldFiles)
		}
		if req.Elements != nil {
			m.Ignored = append(m.Ignored, FieldElements)
		}
		return m, nil
	}

	// Half a pair cannot be applied on its own.
	if hasFileID {
		m.Ignored = append(m.Ignored, FieldFileID)
	}
	if hasContent {
		m.Ignored = append(m.Ignored, FieldContent)
	}

	if req.Files != nil {
		files := *req.Files
		if files == nil {
			files = []models.FileSystemItem{}
		}
		if validateTree {
			if err := filetree.Validate(files); err != nil {
				return Mutation{}, fmt.Errorf("%w: %v", ErrInvalidTree, err)
			}
		}
		m.Tree = &TreeReplace{Files: files}
	}
	if req.Elements != nil {
		els, err := checkElements(*req.Elements)
		if err != nil {
			return Mutation{}, err
		}
		m.Canvas = &CanvasReplace{Elements: els}
	}

	if m.Tree == nil && m.Canvas == nil {
		return Mutation{}, ErrEmptyMutation
	}
	return m, nil
}

// checkElements rejects unknown drawing tools and returns a copy in which
// every element has a non-nil point list, so it is stored as an array.
func checkElements(els []models.CanvasElement) ([]models.CanvasElement, error) {
	out := make([]models.CanvasElement, len(els))
	for i, el := range els {
		if !el.Tool.Valid() {
			return nil, fmt.Errorf("%w: element %d has unknown tool %q", ErrInvalidCanvas, i, el.Tool)
		}
		if el.Points == nil {
			el.Points = []models.Point{}
		}
		out[i] = el
	}
	return out, nil
}
