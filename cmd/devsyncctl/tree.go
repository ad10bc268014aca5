package main

import (
	"fmt"
	"sort"

	"github.com/dalemusser/devsync/internal/domain/filetree"
	"github.com/dalemusser/devsync/internal/domain/models"
	"github.com/disiqueira/gotree/v3"
)

// renderTree draws a room's file tree. Folders sort before files, then by
// name; every node shows its id so it can be passed to the edit commands.
func renderTree(roomID string, items []models.FileSystemItem) string {
	root := gotree.New("room " + roomID)
	addNodes(root, items, filetree.Roots(items))
	return root.Print()
}

func addNodes(parent gotree.Tree, all, level []models.FileSystemItem) {
	sortItems(level)
	for _, it := range level {
		if it.IsFolder() {
			node := parent.Add(fmt.Sprintf("%s/ [%s]", it.Name, it.ID))
			addNodes(node, all, filetree.Children(all, it.ID))
			continue
		}
		parent.Add(fmt.Sprintf("%s [%s] %d bytes", it.Name, it.ID, len(it.Content)))
	}
}

func sortItems(items []models.FileSystemItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].IsFolder() != items[j].IsFolder() {
			return items[i].IsFolder()
		}
		return items[i].Name < items[j].Name
	})
}
