package archive

import (
	"container/list"

	"github.com/buildbarn/bb-archivefs/pkg/vfs"
)

// masterTable maps entry names to slots, while retaining the order in
// which slots were added. This causes archives to be rewritten with
// their entries in the original order.
type masterTable struct {
	order   list.List
	entries map[vfs.EntryName]*list.Element
}

func newMasterTable() *masterTable {
	return &masterTable{
		entries: map[vfs.EntryName]*list.Element{},
	}
}

func (mt *masterTable) get(name vfs.EntryName) *CovariantEntry {
	if e, ok := mt.entries[name]; ok {
		return e.Value.(*CovariantEntry)
	}
	return nil
}

// add stores a slot, replacing any existing slot with the same name
// in place.
func (mt *masterTable) add(ce *CovariantEntry) {
	if e, ok := mt.entries[ce.name]; ok {
		e.Value = ce
		return
	}
	mt.entries[ce.name] = mt.order.PushBack(ce)
}

func (mt *masterTable) remove(name vfs.EntryName) *CovariantEntry {
	e, ok := mt.entries[name]
	if !ok {
		return nil
	}
	delete(mt.entries, name)
	return mt.order.Remove(e).(*CovariantEntry)
}

func (mt *masterTable) len() int {
	return len(mt.entries)
}

func (mt *masterTable) slots() []*CovariantEntry {
	slots := make([]*CovariantEntry, 0, mt.order.Len())
	for e := mt.order.Front(); e != nil; e = e.Next() {
		slots = append(slots, e.Value.(*CovariantEntry))
	}
	return slots
}
