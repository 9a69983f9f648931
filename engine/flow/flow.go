package flow

// Flow is an ordered set of blocks encoding a multi-step authentication
// interaction. Order is authoritative: a map of blocks alone cannot express
// the sequence, so BlockOrder is the source of truth and Blocks is keyed
// lookup.
type Flow struct {
	Name            string
	BlockOrder      []string
	Blocks          map[string]*Block
	ReturnTransform TransformFunc // optional; applied to final context
}

// BlockAt returns the block at position i in BlockOrder, or nil if i is out
// of range.
func (f *Flow) BlockAt(i int) *Block {
	if i < 0 || i >= len(f.BlockOrder) {
		return nil
	}
	return f.Blocks[f.BlockOrder[i]]
}

// Len returns the number of blocks in the flow.
func (f *Flow) Len() int { return len(f.BlockOrder) }
