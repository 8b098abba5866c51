package hive

import "sync"

// Subscription is the handle returned by On and Once. Go funcs are not
// comparable, so unsubscribing one listener goes through its handle
// rather than an off(kind, fn) pair.
type Subscription struct {
	kind  string
	fn    Handler
	once  bool
	table *listenerTable
}

// Cancel unregisters the listener. Safe to call more than once, and
// a no-op for a Once listener that already fired.
func (s *Subscription) Cancel() {
	s.table.removeSub(s)
}

// listenerTable maps message kinds to their subscribers. A Once
// subscriber is unregistered atomically with its selection, so it can
// never fire twice even under parallel dispatch.
type listenerTable struct {
	lk   sync.Mutex
	subs map[string][]*Subscription
}

func newListenerTable() *listenerTable {
	return &listenerTable{
		subs: make(map[string][]*Subscription),
	}
}

func (t *listenerTable) add(kind string, fn Handler, once bool) *Subscription {
	sub := &Subscription{
		kind:  kind,
		fn:    fn,
		once:  once,
		table: t,
	}
	t.lk.Lock()
	t.subs[kind] = append(t.subs[kind], sub)
	t.lk.Unlock()
	return sub
}

// take returns the handlers to invoke for kind, unregistering the
// one-shot ones in the same critical section.
func (t *listenerTable) take(kind string) []Handler {
	t.lk.Lock()
	defer t.lk.Unlock()

	subs := t.subs[kind]
	if len(subs) == 0 {
		return nil
	}

	handlers := make([]Handler, 0, len(subs))
	var kept []*Subscription
	for _, sub := range subs {
		handlers = append(handlers, sub.fn)
		if !sub.once {
			kept = append(kept, sub)
		}
	}
	if len(kept) == 0 {
		delete(t.subs, kind)
	} else {
		t.subs[kind] = kept
	}
	return handlers
}

func (t *listenerTable) removeSub(sub *Subscription) {
	t.lk.Lock()
	defer t.lk.Unlock()

	subs := t.subs[sub.kind]
	for i, cand := range subs {
		if cand == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(t.subs, sub.kind)
	} else {
		t.subs[sub.kind] = subs
	}
}

// removeKind drops every listener for kind.
func (t *listenerTable) removeKind(kind string) {
	t.lk.Lock()
	delete(t.subs, kind)
	t.lk.Unlock()
}
