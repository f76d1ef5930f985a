package session

import "container/list"

// openedDoc is what the engine holds for one engine URI.
type openedDoc struct {
	engineURI string
	hostURI   string
	version   int32
}

// openedTable tracks opened documents in least recently used order. A max
// of zero means unbounded. Callers synchronize.
type openedTable struct {
	max   int
	byURI map[string]*list.Element
	lru   *list.List
}

func newOpenedTable(max int) *openedTable {
	return &openedTable{max: max, byURI: make(map[string]*list.Element), lru: list.New()}
}

// get returns the entry for engineURI and marks it used.
func (t *openedTable) get(engineURI string) (*openedDoc, bool) {
	e, ok := t.byURI[engineURI]
	if !ok {
		return nil, false
	}
	t.lru.MoveToFront(e)
	return e.Value.(*openedDoc), true
}

// put adds a new entry and returns the entries evicted to make room.
func (t *openedTable) put(doc *openedDoc) []*openedDoc {
	t.byURI[doc.engineURI] = t.lru.PushFront(doc)
	var evicted []*openedDoc
	for t.max > 0 && t.lru.Len() > t.max {
		back := t.lru.Back()
		old := t.lru.Remove(back).(*openedDoc)
		delete(t.byURI, old.engineURI)
		evicted = append(evicted, old)
	}
	return evicted
}

// all returns the entries, most recently used first.
func (t *openedTable) all() []*openedDoc {
	out := make([]*openedDoc, 0, t.lru.Len())
	for e := t.lru.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*openedDoc))
	}
	return out
}
