package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Project is the root aggregate of one synchronized app-builder document:
// the UI component tree, the logic graph, and the generated code files.
// It is intentionally storage- and transport-agnostic: a pure data container.
// All mutation goes through the sync engine, which is the exclusive owner of
// a Project instance.
type Project struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Components []UIComponent   `json:"components"`
	Screens    []Screen        `json:"screens"`
	LogicGraph LogicGraph      `json:"logicGraph"`
	CodeModel  CodeModel       `json:"codeModel"`
	Settings   ProjectSettings `json:"settings"`
	Created    time.Time       `json:"created"`
	Modified   time.Time       `json:"modified"`
}

// UIComponent is one element on the design canvas. IDs are unique, stable,
// assigned at creation and never reused.
type UIComponent struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Name     string         `json:"name"`
	X        float64        `json:"x"`
	Y        float64        `json:"y"`
	Width    float64        `json:"width"`
	Height   float64        `json:"height"`
	Props    map[string]any `json:"props,omitempty"`
	Created  time.Time      `json:"created"`
	Modified time.Time      `json:"modified"`
}

// Screen groups component ids for one logical page or device surface.
// ComponentIDs are weak references: every id must point at an existing
// component, or be pruned by the component delete handler.
type Screen struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Device       string   `json:"device,omitempty"`
	ComponentIDs []string `json:"componentIds"`
}

// LogicGraph holds the visual logic view: nodes wired by connections.
type LogicGraph struct {
	Nodes       []LogicNode  `json:"nodes"`
	Connections []Connection `json:"connections"`
}

// LogicNode is one node in the logic graph.
type LogicNode struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	X        float64        `json:"x"`
	Y        float64        `json:"y"`
	Data     map[string]any `json:"data,omitempty"`
	Created  time.Time      `json:"created"`
	Modified time.Time      `json:"modified"`
}

// Connection is a directed edge between two logic nodes. Both endpoints must
// reference existing nodes; deleting a node cascades deletion of every
// connection touching it.
type Connection struct {
	ID         string `json:"id"`
	FromNodeID string `json:"fromNodeId"`
	ToNodeID   string `json:"toNodeId"`
}

// CodeModel is the generated-code view of the project.
type CodeModel struct {
	Files []CodeFile `json:"files"`
}

// CodeFile is one generated source file, keyed by Path within the code model.
// Size and LineCount are derived from Content and recomputed on every update;
// values supplied by a sender are never trusted.
type CodeFile struct {
	Path         string    `json:"path"`
	Content      string    `json:"content"`
	LastModified time.Time `json:"lastModified"`
	Size         int       `json:"size"`
	LineCount    int       `json:"lineCount"`
}

// Recompute refreshes the derived fields from Content.
func (f *CodeFile) Recompute() {
	f.Size = len(f.Content)
	f.LineCount = len(strings.Split(f.Content, "\n"))
}

// ProjectSettings holds project-wide configuration chosen in the editor.
type ProjectSettings struct {
	Framework string         `json:"framework,omitempty"`
	Theme     string         `json:"theme,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// NewProject creates an empty project with non-nil collections so JSON
// round-trips produce [] rather than null.
func NewProject(name string) *Project {
	now := time.Now()
	return &Project{
		ID:         uuid.NewString(),
		Name:       name,
		Components: []UIComponent{},
		Screens:    []Screen{},
		LogicGraph: LogicGraph{
			Nodes:       []LogicNode{},
			Connections: []Connection{},
		},
		CodeModel: CodeModel{Files: []CodeFile{}},
		Created:   now,
		Modified:  now,
	}
}

// Clone returns a deep copy of the project. The engine hands out clones as
// snapshots so no caller can mutate the engine-owned model.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	cp := *p

	cp.Components = make([]UIComponent, len(p.Components))
	for i, c := range p.Components {
		c.Props = cloneMap(c.Props)
		cp.Components[i] = c
	}

	cp.Screens = make([]Screen, len(p.Screens))
	for i, s := range p.Screens {
		s.ComponentIDs = append([]string(nil), s.ComponentIDs...)
		cp.Screens[i] = s
	}

	cp.LogicGraph.Nodes = make([]LogicNode, len(p.LogicGraph.Nodes))
	for i, n := range p.LogicGraph.Nodes {
		n.Data = cloneMap(n.Data)
		cp.LogicGraph.Nodes[i] = n
	}
	cp.LogicGraph.Connections = append([]Connection(nil), p.LogicGraph.Connections...)

	cp.CodeModel.Files = append([]CodeFile(nil), p.CodeModel.Files...)

	cp.Settings.Extra = cloneMap(p.Settings.Extra)

	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
