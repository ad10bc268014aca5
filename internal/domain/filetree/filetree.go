// Package filetree implements the structural operations on a room's file tree.
//
// Every operation takes the current tree and returns a new one; the input is
// never modified. Operations keep the parent/children relation consistent on
// both sides, and Move refuses to create cycles before touching anything.
package filetree

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/dalemusser/devsync/internal/domain/models"
	"github.com/microcosm-cc/bluemonday"
)

var (
	ErrNotFound     = errors.New("item not found")
	ErrNotFolder    = errors.New("parent is not a folder")
	ErrDuplicateID  = errors.New("item id already exists")
	ErrCycle        = errors.New("folder cannot be moved into itself or its descendants")
	ErrInvalidName  = errors.New("name is empty")
	ErrInconsistent = errors.New("file tree is inconsistent")
)

var (
	namePolicy     *bluemonday.Policy
	namePolicyOnce sync.Once
)

// CleanName strips markup and surrounding whitespace from a display name.
// The result is plain text: entities the sanitizer escapes are decoded.
func CleanName(name string) (string, error) {
	namePolicyOnce.Do(func() {
		namePolicy = bluemonday.StrictPolicy()
	})
	cleaned := strings.TrimSpace(html.UnescapeString(namePolicy.Sanitize(name)))
	if cleaned == "" {
		return "", ErrInvalidName
	}
	return cleaned, nil
}

// Clone returns a deep copy of items.
func Clone(items []models.FileSystemItem) []models.FileSystemItem {
	if items == nil {
		return nil
	}
	out := make([]models.FileSystemItem, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

func indexOf(items []models.FileSystemItem, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

// Find returns a copy of the item with the given id.
func Find(items []models.FileSystemItem, id string) (models.FileSystemItem, bool) {
	if i := indexOf(items, id); i >= 0 {
		return items[i].Clone(), true
	}
	return models.FileSystemItem{}, false
}

// Roots returns the items without a parent, in slice order.
func Roots(items []models.FileSystemItem) []models.FileSystemItem {
	var out []models.FileSystemItem
	for _, it := range items {
		if it.IsRoot() {
			out = append(out, it.Clone())
		}
	}
	return out
}

// Children returns the items whose parent is folderID, in slice order.
func Children(items []models.FileSystemItem, folderID string) []models.FileSystemItem {
	var out []models.FileSystemItem
	for _, it := range items {
		if it.ParentID == folderID && folderID != "" {
			out = append(out, it.Clone())
		}
	}
	return out
}

// Descendants returns the ids of every item below id, following both the
// children lists and the parent links so a half-linked item is still found.
func Descendants(items []models.FileSystemItem, id string) []string {
	seen := map[string]bool{id: true}
	var out []string
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		var next []string
		if i := indexOf(items, cur); i >= 0 {
			next = append(next, items[i].Children...)
		}
		for _, it := range items {
			if it.ParentID == cur {
				next = append(next, it.ID)
			}
		}
		for _, n := range next {
			if seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
			queue = append(queue, n)
		}
	}
	return out
}

func create(items []models.FileSystemItem, item models.FileSystemItem) ([]models.FileSystemItem, error) {
	name, err := CleanName(item.Name)
	if err != nil {
		return nil, err
	}
	item.Name = name
	if item.ID == "" {
		return nil, fmt.Errorf("create %q: empty id", name)
	}
	if indexOf(items, item.ID) >= 0 {
		return nil, fmt.Errorf("create %q: %w", item.ID, ErrDuplicateID)
	}

	out := Clone(items)
	if item.ParentID != "" {
		p := indexOf(out, item.ParentID)
		if p < 0 {
			return nil, fmt.Errorf("create %q in %q: %w", item.ID, item.ParentID, ErrNotFound)
		}
		if !out[p].IsFolder() {
			return nil, fmt.Errorf("create %q in %q: %w", item.ID, item.ParentID, ErrNotFolder)
		}
		out[p].Children = append(out[p].Children, item.ID)
	}
	return append(out, item), nil
}

// CreateFile adds an empty file named name under parentID ("" for root).
func CreateFile(items []models.FileSystemItem, id, name, parentID string) ([]models.FileSystemItem, error) {
	return create(items, models.FileSystemItem{
		ID:       id,
		Name:     name,
		Type:     models.ItemFile,
		ParentID: parentID,
	})
}

// CreateFolder adds an empty folder named name under parentID ("" for root).
func CreateFolder(items []models.FileSystemItem, id, name, parentID string) ([]models.FileSystemItem, error) {
	return create(items, models.FileSystemItem{
		ID:       id,
		Name:     name,
		Type:     models.ItemFolder,
		Children: []string{},
		ParentID: parentID,
	})
}

// Delete removes id and, for folders, every transitive descendant. The
// former parent loses its reference to id.
func Delete(items []models.FileSystemItem, id string) ([]models.FileSystemItem, error) {
	i := indexOf(items, id)
	if i < 0 {
		return nil, fmt.Errorf("delete %q: %w", id, ErrNotFound)
	}

	doomed := map[string]bool{id: true}
	for _, d := range Descendants(items, id) {
		doomed[d] = true
	}

	parentID := items[i].ParentID
	out := make([]models.FileSystemItem, 0, len(items)-len(doomed))
	for _, it := range items {
		if doomed[it.ID] {
			continue
		}
		it = it.Clone()
		if it.ID == parentID {
			it.Children = without(it.Children, id)
		}
		out = append(out, it)
	}
	return out, nil
}

// Rename changes the display name of id.
func Rename(items []models.FileSystemItem, id, name string) ([]models.FileSystemItem, error) {
	cleaned, err := CleanName(name)
	if err != nil {
		return nil, err
	}
	i := indexOf(items, id)
	if i < 0 {
		return nil, fmt.Errorf("rename %q: %w", id, ErrNotFound)
	}
	out := Clone(items)
	out[i].Name = cleaned
	return out, nil
}

// SetContent replaces the content of file id.
func SetContent(items []models.FileSystemItem, id, content string) ([]models.FileSystemItem, error) {
	i := indexOf(items, id)
	if i < 0 {
		return nil, fmt.Errorf("set content %q: %w", id, ErrNotFound)
	}
	if items[i].IsFolder() {
		return nil, fmt.Errorf("set content %q: item is a folder", id)
	}
	out := Clone(items)
	out[i].Content = content
	return out, nil
}

// Move reparents id under newParentID ("" moves it to the root). Exactly
// three records change: the item's parent link, the old parent's children,
// and the new parent's children.
func Move(items []models.FileSystemItem, id, newParentID string) ([]models.FileSystemItem, error) {
	i := indexOf(items, id)
	if i < 0 {
		return nil, fmt.Errorf("move %q: %w", id, ErrNotFound)
	}
	if newParentID != "" {
		p := indexOf(items, newParentID)
		if p < 0 {
			return nil, fmt.Errorf("move %q to %q: %w", id, newParentID, ErrNotFound)
		}
		if !items[p].IsFolder() {
			return nil, fmt.Errorf("move %q to %q: %w", id, newParentID, ErrNotFolder)
		}
		if newParentID == id {
			return nil, fmt.Errorf("move %q: %w", id, ErrCycle)
		}
		for _, d := range Descendants(items, id) {
			if d == newParentID {
				return nil, fmt.Errorf("move %q to %q: %w", id, newParentID, ErrCycle)
			}
		}
	}

	oldParentID := items[i].ParentID
	if oldParentID == newParentID {
		return Clone(items), nil
	}

	out := Clone(items)
	for k := range out {
		switch out[k].ID {
		case id:
			out[k].ParentID = newParentID
		case oldParentID:
			out[k].Children = without(out[k].Children, id)
		case newParentID:
			out[k].Children = append(out[k].Children, id)
		}
	}
	return out, nil
}

// Validate checks the structural invariants of a tree: unique ids, files
// without children, children lists and parent links that agree, and no
// cycles.
func Validate(items []models.FileSystemItem) error {
	byID := make(map[string]*models.FileSystemItem, len(items))
	for k := range items {
		it := &items[k]
		if it.ID == "" {
			return fmt.Errorf("%w: item %d has no id", ErrInconsistent, k)
		}
		if _, dup := byID[it.ID]; dup {
			return fmt.Errorf("%w: duplicate id %q", ErrInconsistent, it.ID)
		}
		if it.Type != models.ItemFile && it.Type != models.ItemFolder {
			return fmt.Errorf("%w: %q has unknown type %q", ErrInconsistent, it.ID, it.Type)
		}
		byID[it.ID] = it
	}

	for _, it := range byID {
		if !it.IsFolder() && len(it.Children) > 0 {
			return fmt.Errorf("%w: file %q has children", ErrInconsistent, it.ID)
		}
		for _, c := range it.Children {
			child, ok := byID[c]
			if !ok {
				return fmt.Errorf("%w: %q lists missing child %q", ErrInconsistent, it.ID, c)
			}
			if child.ParentID != it.ID {
				return fmt.Errorf("%w: %q lists %q whose parent is %q", ErrInconsistent, it.ID, c, child.ParentID)
			}
		}
		if it.ParentID == "" {
			continue
		}
		parent, ok := byID[it.ParentID]
		if !ok {
			return fmt.Errorf("%w: %q has missing parent %q", ErrInconsistent, it.ID, it.ParentID)
		}
		if !contains(parent.Children, it.ID) {
			return fmt.Errorf("%w: %q is not listed by its parent %q", ErrInconsistent, it.ID, it.ParentID)
		}
	}

	// Walk up from each item; a walk longer than the tree means a cycle.
	for _, it := range byID {
		steps := 0
		for cur := it.ParentID; cur != ""; cur = byID[cur].ParentID {
			if cur == it.ID || steps > len(byID) {
				return fmt.Errorf("%w: %q is its own ancestor", ErrInconsistent, it.ID)
			}
			steps++
		}
	}
	return nil
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, c := range ids {
		if c != id {
			out = append(out, c)
		}
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, c := range ids {
		if c == id {
			return true
		}
	}
	return false
}
