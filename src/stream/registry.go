package stream

import "sync"

type registration struct {
	id ListenerID
	fn Listener
}

// registry maps event names to listeners in registration order.
type registry struct {
	mu     sync.RWMutex
	next   ListenerID
	byName map[string][]registration
}

func newRegistry() *registry {
	return &registry{byName: make(map[string][]registration)}
}

func (r *registry) add(name string, fn Listener) ListenerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.byName[name] = append(r.byName[name], registration{id: r.next, fn: fn})
	return r.next
}

func (r *registry) remove(name string, id ListenerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.byName[name]
	for i, reg := range regs {
		if reg.id != id {
			continue
		}
		// Build a fresh slice so snapshots handed out earlier stay intact.
		next := make([]registration, 0, len(regs)-1)
		next = append(next, regs[:i]...)
		next = append(next, regs[i+1:]...)
		if len(next) == 0 {
			delete(r.byName, name)
		} else {
			r.byName[name] = next
		}
		return true
	}
	return false
}

// snapshot copies the listeners for name so dispatch is unaffected by
// registrations changing mid-emission.
func (r *registry) snapshot(name string) []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()

	regs := r.byName[name]
	if len(regs) == 0 {
		return nil
	}
	out := make([]Listener, len(regs))
	for i, reg := range regs {
		out[i] = reg.fn
	}
	return out
}

func (r *registry) count(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName[name])
}
