package state

import (
	"sync"

	"github.com/geomsync/geomsync/internal/geom"
)

// SecureSurfaceRect is one compositor-reported secure component embedded in a
// host surface. HostRect is host-local; EmbeddedRect is in component space and
// reaches host space through Anchor and Scale.
type SecureSurfaceRect struct {
	HostRect     geom.Rect `json:"hostRect"`
	EmbeddedRect geom.Rect `json:"embeddedRect"`
	Scale        geom.Vec  `json:"scale"`
	Anchor       geom.Vec  `json:"anchor"`
	OwnerPID     int32     `json:"ownerPid"`
	ComponentID  int32     `json:"componentId,omitempty"`
}

// SecureSurfaces holds the latest secure-surface report keyed by surface node.
// The compositor boundary writes, the synthesizer reads once per cycle.
type SecureSurfaces struct {
	mu    sync.RWMutex
	rects map[uint64][]SecureSurfaceRect
}

// NewSecureSurfaces returns an empty store.
func NewSecureSurfaces() *SecureSurfaces {
	return &SecureSurfaces{rects: make(map[uint64][]SecureSurfaceRect)}
}

// Update replaces the stored report. Nodes with no rects are dropped.
func (s *SecureSurfaces) Update(report map[uint64][]SecureSurfaceRect) {
	if s == nil {
		return
	}
	next := make(map[uint64][]SecureSurfaceRect, len(report))
	for node, rects := range report {
		if len(rects) == 0 {
			continue
		}
		next[node] = append([]SecureSurfaceRect(nil), rects...)
	}
	s.mu.Lock()
	s.rects = next
	s.mu.Unlock()
}

// Len returns the number of surface nodes with reported rects.
func (s *SecureSurfaces) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rects)
}

// Lookup copies out the rects for the requested surface nodes.
func (s *SecureSurfaces) Lookup(nodes []uint64) map[uint64][]SecureSurfaceRect {
	if s == nil || len(nodes) == 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out map[uint64][]SecureSurfaceRect
	for _, node := range nodes {
		rects, ok := s.rects[node]
		if !ok {
			continue
		}
		if out == nil {
			out = make(map[uint64][]SecureSurfaceRect)
		}
		out[node] = append([]SecureSurfaceRect(nil), rects...)
	}
	return out
}

func cloneSecureMap(src map[uint64][]SecureSurfaceRect) map[uint64][]SecureSurfaceRect {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[uint64][]SecureSurfaceRect, len(src))
	for k, v := range src {
		dst[k] = append([]SecureSurfaceRect(nil), v...)
	}
	return dst
}
