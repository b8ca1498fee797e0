package engine

import (
	"log"

	"appforge/internal/models"
)

// applyLocked dispatches one event to its handler. Callers hold e.mu.
//
// Handler policy, shared by local and remote application:
//   - create is idempotent: an existing id makes re-application a no-op, not
//     a duplicate insert, so redelivery is always safe.
//   - update on a missing id is dropped silently. A delete race is expected
//     in a collaborative session, not exceptional.
//   - delete cascades synchronously: the model never holds a dangling
//     reference once the event has been applied.
func (e *Engine) applyLocked(ev models.SyncEvent) error {
	switch ev.Type {
	case models.EventComponentCreate:
		return e.applyComponentCreate(ev)
	case models.EventComponentUpdate:
		return e.applyComponentUpdate(ev)
	case models.EventComponentDelete:
		return e.applyComponentDelete(ev)

	case models.EventNodeCreate:
		return e.applyNodeCreate(ev)
	case models.EventNodeUpdate:
		return e.applyNodeUpdate(ev)
	case models.EventNodeDelete:
		return e.applyNodeDelete(ev)

	case models.EventConnectionCreate:
		return e.applyConnectionCreate(ev)
	case models.EventConnectionDelete:
		return e.applyConnectionDelete(ev)

	case models.EventCodeFileCreate:
		return e.applyCodeFileCreate(ev)
	case models.EventCodeFileUpdate:
		return e.applyCodeFileUpdate(ev)
	case models.EventCodeFileDelete:
		return e.applyCodeFileDelete(ev)

	case models.EventScreenCreate:
		return e.applyScreenCreate(ev)
	case models.EventScreenUpdate:
		return e.applyScreenUpdate(ev)
	case models.EventScreenDelete:
		return e.applyScreenDelete(ev)

	case models.EventSettingsUpdate:
		return e.applySettingsUpdate(ev)

	default:
		// Forward compatibility: a newer peer may emit kinds this build does
		// not know. Log and drop, never crash the session.
		log.Printf("sync engine: dropping unknown event type %q", ev.Type)
		return nil
	}
}

// Components

func (e *Engine) applyComponentCreate(ev models.SyncEvent) error {
	p, err := ev.DecodeComponent()
	if err != nil {
		return err
	}
	c := p.Component
	if e.findComponent(c.ID) != nil {
		return nil // idempotent redelivery
	}
	now := stamp()
	if c.Created.IsZero() {
		c.Created = now
	}
	c.Modified = now
	e.project.Components = append(e.project.Components, c)
	e.project.Modified = now
	return nil
}

func (e *Engine) applyComponentUpdate(ev models.SyncEvent) error {
	p, err := ev.DecodeUpdate()
	if err != nil {
		return err
	}
	c := e.findComponent(p.ID)
	if c == nil {
		return nil // deleted concurrently; drop, don't resurrect
	}
	mergeComponent(c, p.Updates)
	c.Modified = stamp()
	e.project.Modified = c.Modified
	return nil
}

func (e *Engine) applyComponentDelete(ev models.SyncEvent) error {
	p, err := ev.DecodeDelete()
	if err != nil {
		return err
	}
	kept := e.project.Components[:0]
	for _, c := range e.project.Components {
		if c.ID != p.ID {
			kept = append(kept, c)
		}
	}
	e.project.Components = kept

	// Cascade: strip the id from every screen, eagerly.
	for i := range e.project.Screens {
		ids := e.project.Screens[i].ComponentIDs[:0]
		for _, id := range e.project.Screens[i].ComponentIDs {
			if id != p.ID {
				ids = append(ids, id)
			}
		}
		e.project.Screens[i].ComponentIDs = ids
	}
	e.project.Modified = stamp()
	return nil
}

// Logic nodes and connections

func (e *Engine) applyNodeCreate(ev models.SyncEvent) error {
	p, err := ev.DecodeNode()
	if err != nil {
		return err
	}
	n := p.Node
	if e.findNode(n.ID) != nil {
		return nil
	}
	now := stamp()
	if n.Created.IsZero() {
		n.Created = now
	}
	n.Modified = now
	e.project.LogicGraph.Nodes = append(e.project.LogicGraph.Nodes, n)
	e.project.Modified = now
	return nil
}

func (e *Engine) applyNodeUpdate(ev models.SyncEvent) error {
	p, err := ev.DecodeUpdate()
	if err != nil {
		return err
	}
	n := e.findNode(p.ID)
	if n == nil {
		return nil
	}
	mergeNode(n, p.Updates)
	n.Modified = stamp()
	e.project.Modified = n.Modified
	return nil
}

func (e *Engine) applyNodeDelete(ev models.SyncEvent) error {
	p, err := ev.DecodeDelete()
	if err != nil {
		return err
	}
	nodes := e.project.LogicGraph.Nodes[:0]
	for _, n := range e.project.LogicGraph.Nodes {
		if n.ID != p.ID {
			nodes = append(nodes, n)
		}
	}
	e.project.LogicGraph.Nodes = nodes

	// Cascade: remove every connection touching the deleted node.
	conns := e.project.LogicGraph.Connections[:0]
	for _, c := range e.project.LogicGraph.Connections {
		if c.FromNodeID != p.ID && c.ToNodeID != p.ID {
			conns = append(conns, c)
		}
	}
	e.project.LogicGraph.Connections = conns
	e.project.Modified = stamp()
	return nil
}

func (e *Engine) applyConnectionCreate(ev models.SyncEvent) error {
	p, err := ev.DecodeConnection()
	if err != nil {
		return err
	}
	c := p.Connection
	if e.findConnection(c.ID) != nil {
		return nil
	}
	// Both endpoints must exist; a connection racing a node delete is dropped
	// rather than left dangling.
	if e.findNode(c.FromNodeID) == nil || e.findNode(c.ToNodeID) == nil {
		log.Printf("sync engine: dropping connection %s with missing endpoint", c.ID)
		return nil
	}
	e.project.LogicGraph.Connections = append(e.project.LogicGraph.Connections, c)
	e.project.Modified = stamp()
	return nil
}

func (e *Engine) applyConnectionDelete(ev models.SyncEvent) error {
	p, err := ev.DecodeDelete()
	if err != nil {
		return err
	}
	conns := e.project.LogicGraph.Connections[:0]
	for _, c := range e.project.LogicGraph.Connections {
		if c.ID != p.ID {
			conns = append(conns, c)
		}
	}
	e.project.LogicGraph.Connections = conns
	e.project.Modified = stamp()
	return nil
}

// Code files (keyed by path)

func (e *Engine) applyCodeFileCreate(ev models.SyncEvent) error {
	p, err := ev.DecodeCodeFile()
	if err != nil {
		return err
	}
	f := p.File
	if e.findCodeFile(f.Path) != nil {
		return nil
	}
	f.Recompute()
	f.LastModified = stamp()
	e.project.CodeModel.Files = append(e.project.CodeModel.Files, f)
	e.project.Modified = f.LastModified
	return nil
}

func (e *Engine) applyCodeFileUpdate(ev models.SyncEvent) error {
	p, err := ev.DecodeCodeFile()
	if err != nil {
		return err
	}
	f := e.findCodeFile(p.File.Path)
	if f == nil {
		return nil
	}
	f.Content = p.File.Content
	f.Recompute()
	f.LastModified = stamp()
	e.project.Modified = f.LastModified
	return nil
}

func (e *Engine) applyCodeFileDelete(ev models.SyncEvent) error {
	p, err := ev.DecodeDelete()
	if err != nil {
		return err
	}
	files := e.project.CodeModel.Files[:0]
	for _, f := range e.project.CodeModel.Files {
		if f.Path != p.ID {
			files = append(files, f)
		}
	}
	e.project.CodeModel.Files = files
	e.project.Modified = stamp()
	return nil
}

// Screens

func (e *Engine) applyScreenCreate(ev models.SyncEvent) error {
	p, err := ev.DecodeScreen()
	if err != nil {
		return err
	}
	s := p.Screen
	if e.findScreen(s.ID) != nil {
		return nil
	}
	if s.ComponentIDs == nil {
		s.ComponentIDs = []string{}
	}
	e.project.Screens = append(e.project.Screens, s)
	e.project.Modified = stamp()
	return nil
}

func (e *Engine) applyScreenUpdate(ev models.SyncEvent) error {
	p, err := ev.DecodeUpdate()
	if err != nil {
		return err
	}
	s := e.findScreen(p.ID)
	if s == nil {
		return nil
	}
	mergeScreen(s, p.Updates)
	e.project.Modified = stamp()
	return nil
}

func (e *Engine) applyScreenDelete(ev models.SyncEvent) error {
	p, err := ev.DecodeDelete()
	if err != nil {
		return err
	}
	screens := e.project.Screens[:0]
	for _, s := range e.project.Screens {
		if s.ID != p.ID {
			screens = append(screens, s)
		}
	}
	e.project.Screens = screens
	e.project.Modified = stamp()
	return nil
}

// Settings

func (e *Engine) applySettingsUpdate(ev models.SyncEvent) error {
	p, err := ev.DecodeSettings()
	if err != nil {
		return err
	}
	e.project.Settings = p.Settings
	e.project.Modified = stamp()
	return nil
}

// Lookup helpers. Collections are small (one editor document); linear scans
// keep the model a plain slice-backed value that clones cheaply.

func (e *Engine) findComponent(id string) *models.UIComponent {
	for i := range e.project.Components {
		if e.project.Components[i].ID == id {
			return &e.project.Components[i]
		}
	}
	return nil
}

func (e *Engine) findNode(id string) *models.LogicNode {
	for i := range e.project.LogicGraph.Nodes {
		if e.project.LogicGraph.Nodes[i].ID == id {
			return &e.project.LogicGraph.Nodes[i]
		}
	}
	return nil
}

func (e *Engine) findConnection(id string) *models.Connection {
	for i := range e.project.LogicGraph.Connections {
		if e.project.LogicGraph.Connections[i].ID == id {
			return &e.project.LogicGraph.Connections[i]
		}
	}
	return nil
}

func (e *Engine) findCodeFile(path string) *models.CodeFile {
	for i := range e.project.CodeModel.Files {
		if e.project.CodeModel.Files[i].Path == path {
			return &e.project.CodeModel.Files[i]
		}
	}
	return nil
}

func (e *Engine) findScreen(id string) *models.Screen {
	for i := range e.project.Screens {
		if e.project.Screens[i].ID == id {
			return &e.project.Screens[i]
		}
	}
	return nil
}

// Shallow field merges. JSON numbers arrive as float64; unknown keys are
// ignored so older builds tolerate fields added by newer peers.

func mergeComponent(c *models.UIComponent, updates map[string]any) {
	for k, v := range updates {
		switch k {
		case "type":
			if s, ok := v.(string); ok {
				c.Type = s
			}
		case "name":
			if s, ok := v.(string); ok {
				c.Name = s
			}
		case "x":
			if f, ok := v.(float64); ok {
				c.X = f
			}
		case "y":
			if f, ok := v.(float64); ok {
				c.Y = f
			}
		case "width":
			if f, ok := v.(float64); ok {
				c.Width = f
			}
		case "height":
			if f, ok := v.(float64); ok {
				c.Height = f
			}
		case "props":
			if m, ok := v.(map[string]any); ok {
				if c.Props == nil {
					c.Props = make(map[string]any, len(m))
				}
				for pk, pv := range m {
					c.Props[pk] = pv
				}
			}
		}
	}
}

func mergeNode(n *models.LogicNode, updates map[string]any) {
	for k, v := range updates {
		switch k {
		case "type":
			if s, ok := v.(string); ok {
				n.Type = s
			}
		case "x":
			if f, ok := v.(float64); ok {
				n.X = f
			}
		case "y":
			if f, ok := v.(float64); ok {
				n.Y = f
			}
		case "data":
			if m, ok := v.(map[string]any); ok {
				if n.Data == nil {
					n.Data = make(map[string]any, len(m))
				}
				for dk, dv := range m {
					n.Data[dk] = dv
				}
			}
		}
	}
}

func mergeScreen(s *models.Screen, updates map[string]any) {
	for k, v := range updates {
		switch k {
		case "name":
			if str, ok := v.(string); ok {
				s.Name = str
			}
		case "device":
			if str, ok := v.(string); ok {
				s.Device = str
			}
		case "componentIds":
			if list, ok := v.([]any); ok {
				ids := make([]string, 0, len(list))
				for _, item := range list {
					if id, ok := item.(string); ok {
						ids = append(ids, id)
					}
				}
				s.ComponentIDs = ids
			}
		}
	}
}
