package models

// ItemType tags a FileSystemItem as a file or a folder.
type ItemType string

const (
	ItemFile   ItemType = "file"
	ItemFolder ItemType = "folder"
)

// FileSystemItem is one node of a room's file tree. Files carry Content;
// folders carry the ordered ids of their Children. An empty ParentID means
// the item sits at the root.
type FileSystemItem struct {
	ID       string   `bson:"id"                  json:"id"`
	Name     string   `bson:"name"                json:"name"`
	Type     ItemType `bson:"type"                json:"type"`
	Content  string   `bson:"content"             json:"content"`
	Children []string `bson:"children,omitempty"  json:"children,omitempty"`
	ParentID string   `bson:"parent_id,omitempty" json:"parentId,omitempty"`
}

// IsFolder reports whether the item is a folder.
func (f *FileSystemItem) IsFolder() bool {
	return f.Type == ItemFolder
}

// IsRoot reports whether the item has no parent.
func (f *FileSystemItem) IsRoot() bool {
	return f.ParentID == ""
}

// Clone returns a deep copy (the children slice is not shared).
func (f FileSystemItem) Clone() FileSystemItem {
	if f.Children != nil {
		f.Children = append([]string(nil), f.Children...)
	}
	return f
}
