package models

import (
	"sort"
	"strings"
)

type MailBox struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Delimiter string    `json:"delimiter"`
	Counts    Counts    `json:"counts"`
	Children  []MailBox `json:"children,omitempty"`

	// snapshot used to validate cached listings
	UIDValidity uint32 `json:"-"`
	UIDNext     uint32 `json:"-"`
}

type Counts struct {
	Total  uint32 `json:"total"`
	New    uint32 `json:"new"`
	Unseen uint32 `json:"unseen"`
}

// BuildHierarchy nests flat boxes under their parents using each box's delimiter.
// Boxes whose parent is not listed stay at the top level.
func BuildHierarchy(flat []MailBox) []MailBox {
	sorted := make([]MailBox, len(flat))
	copy(sorted, flat)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})

	index := make(map[string]int, len(sorted))
	for i, box := range sorted {
		index[box.ID] = i
	}

	children := make(map[string][]string)
	var roots []string
	for _, box := range sorted {
		parent := parentID(box)
		if _, ok := index[parent]; parent != "" && ok {
			children[parent] = append(children[parent], box.ID)
			continue
		}
		roots = append(roots, box.ID)
	}

	var build func(id string) MailBox
	build = func(id string) MailBox {
		box := sorted[index[id]]
		box.Children = nil
		for _, childID := range children[id] {
			box.Children = append(box.Children, build(childID))
		}
		return box
	}

	result := make([]MailBox, 0, len(roots))
	for _, id := range roots {
		result = append(result, build(id))
	}
	return result
}

func parentID(box MailBox) string {
	if box.Delimiter == "" {
		return ""
	}
	idx := strings.LastIndex(box.ID, box.Delimiter)
	if idx <= 0 {
		return ""
	}
	return box.ID[:idx]
}

// Flatten walks a hierarchy depth-first.
func Flatten(boxes []MailBox) []MailBox {
	var flat []MailBox
	for _, box := range boxes {
		children := box.Children
		box.Children = nil
		flat = append(flat, box)
		flat = append(flat, Flatten(children)...)
	}
	return flat
}
