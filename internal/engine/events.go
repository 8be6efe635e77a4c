package engine

import "github.com/geomsync/geomsync/internal/ipc"

// ApplyEvent translates one event-stream line into scheduler calls. It is
// safe to call concurrently with Run.
func (e *Engine) ApplyEvent(ev ipc.Event) error {
	switch ev.Kind {
	case ipc.EventWindowChanged:
		id, kindName, err := ipc.ParseWindowChange(ev.Payload)
		if err != nil {
			return err
		}
		kind, err := ParseChangeKind(kindName)
		if err != nil {
			return err
		}
		e.MarkDirty(id, kind, 0)
	case ipc.EventDisplayChanged:
		e.MarkDirty(0, ChangeDisplay, 0)
	case ipc.EventSecureSurface:
		report, err := ipc.ParseSecureSurfaces(ev.Payload)
		if err != nil {
			return err
		}
		e.secure.Update(report)
		e.MarkDirty(0, ChangeSecureSurface, 0)
	case ipc.EventAttach:
		e.Attach()
	case ipc.EventLock:
		e.FlushEmpty()
	default:
		e.logger.Debugf("ignoring event %s", ev.Kind)
	}
	return nil
}
