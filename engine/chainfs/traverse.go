package chainfs

import (
	stderrors "errors"

	"github.com/boljen/go-bitmap"
	"github.com/dargueta/flashfs/engine"
	"go.uber.org/zap"
)

var errStopTraversal = stderrors.New("traversal stopped")

// traversal visits every block reachable from the superblock exactly once.
type traversal struct {
	engine *Engine
	seen   bitmap.Bitmap
	fn     func(block uint32) bool
}

func (e *Engine) newTraversal(fn func(block uint32) bool) *traversal {
	return &traversal{
		engine: e,
		seen:   bitmap.New(int(e.sb.BlockCount)),
		fn:     fn,
	}
}

func (t *traversal) visit(block uint32) error {
	if t.seen.Get(int(block)) {
		return nil
	}
	t.seen.Set(int(block), true)
	if t.fn(block) {
		return errStopTraversal
	}
	return nil
}

func (t *traversal) visitChain(head uint32) error {
	blocks, err := t.engine.table.chain(head)
	if err != nil {
		return err
	}
	for _, block := range blocks {
		err = t.visit(block)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *traversal) visitDir(dir record) error {
	// A directory whose first block we've already seen has been walked, or is
	// part of a loop in a corrupted tree. Either way, don't descend.
	if dir.Head < t.engine.sb.BlockCount && t.seen.Get(int(dir.Head)) {
		return nil
	}

	err := t.visitChain(dir.Head)
	if err != nil {
		return err
	}

	var children []record
	err = t.engine.walkDir(dir.Head, func(_ location, rec record) bool {
		children = append(children, rec)
		return false
	})
	if err != nil {
		return err
	}

	for _, child := range children {
		if child.isDir() {
			err = t.visitDir(child)
		} else {
			err = t.visitChain(child.Head)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// run visits the metadata blocks, the directory tree, and the blocks of open
// files, which may not be on disk yet or may be orphaned.
func (t *traversal) run() error {
	sb := t.engine.sb
	for block := uint32(0); block < sb.TableStart+sb.TableBlocks; block++ {
		err := t.visit(block)
		if err != nil {
			return err
		}
	}

	err := t.visitDir(t.engine.rootEntry().record)
	if err != nil {
		return err
	}

	for file := range t.engine.openFiles {
		for _, block := range file.blocks {
			err = t.visit(block)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// Traverse implements [engine.Engine]. `fn` is called once for every block in
// use. If it returns a nonzero status, the traversal stops and that status is
// returned.
func (e *Engine) Traverse(fn engine.TraverseFunc) engine.Status {
	err := e.checkMounted()
	if err != nil {
		return engine.StatusOf(err)
	}

	result := engine.OK
	err = e.newTraversal(func(block uint32) bool {
		result = fn(block)
		return result != engine.OK
	}).run()
	if err != nil && !stderrors.Is(err, errStopTraversal) {
		return engine.StatusOf(err)
	}
	return result
}

// Deorphan implements [engine.Engine]. It frees every block the allocation
// table says is in use but that isn't reachable from the directory tree or an
// open file. These are left behind by operations interrupted partway through.
func (e *Engine) Deorphan() engine.Status {
	err := e.checkMounted()
	if err != nil {
		return engine.StatusOf(err)
	}

	t := e.newTraversal(func(uint32) bool { return false })
	err = t.run()
	if err != nil {
		return engine.StatusOf(err)
	}

	freed := 0
	for block := uint32(0); block < e.sb.BlockCount; block++ {
		if t.seen.Get(int(block)) {
			continue
		}

		value, err := e.table.get(block)
		if err != nil {
			return engine.StatusOf(err)
		}
		if value == entryFree {
			continue
		}

		err = e.alloc.release(block)
		if err != nil {
			return engine.StatusOf(err)
		}
		freed++
	}

	e.logger.Debug("deorphaned", zap.Int("freed_blocks", freed))
	return engine.StatusOf(e.commit())
}
