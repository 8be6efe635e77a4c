package synth

import "github.com/geomsync/geomsync/internal/state"

// bestDialogs maps each parent window id to the modal dialog that should
// receive its input. Topmost dialogs win, then higher z-order, then the later
// entry in directory order.
func bestDialogs(windows []state.Window) map[int32]*state.Window {
	best := make(map[int32]*state.Window)
	for i := range windows {
		d := &windows[i]
		if !qualifyingDialog(d) {
			continue
		}
		cur, ok := best[d.ParentID]
		if !ok || outranks(d, cur) {
			best[d.ParentID] = d
		}
	}
	return best
}

func qualifyingDialog(w *state.Window) bool {
	return w.Type == state.WindowTypeDialog &&
		w.Modal &&
		w.Visible &&
		!w.ForceHidden &&
		w.ParentID != 0
}

// outranks reports whether candidate beats cur. Ties go to candidate, which
// comes later in directory order.
func outranks(candidate, cur *state.Window) bool {
	if candidate.Topmost != cur.Topmost {
		return candidate.Topmost
	}
	return candidate.ZOrder >= cur.ZOrder
}

// redirectTarget returns the dialog that takes over w's input, if any.
func redirectTarget(w *state.Window, dialogs map[int32]*state.Window) *state.Window {
	if d, ok := dialogs[w.ID]; ok {
		return d
	}
	if w.ForceHidden && w.ParentID != 0 {
		if d, ok := dialogs[w.ParentID]; ok {
			return d
		}
	}
	return nil
}
