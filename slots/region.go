package slots

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/BeanstalkNetwork/merkle-notes/layout"
)

var (
	ErrStorage       = errors.New("storage operation failed")
	ErrCorrupt       = errors.New("region file inconsistent with its header")
	ErrNodeRange     = errors.New("node index out of range for the region")
	ErrPayloadIndex  = errors.New("leaf position out of range for the region")
	ErrValueBadSize  = errors.New("value width does not match the region slot width")
	ErrRegionClosed  = errors.New("the region has been closed")
	ErrWriteReleased = errors.New("the write region has been released")
	ErrReadReleased  = errors.New("the read region has been released")
)

// Region is a memory mapped slot region. Reads copy bytes out of the mapping
// and never mutate it; all mutation happens through a WriteRegion obtained
// from BeginWrite, which serializes writers. Readers within the process
// coordinate with writers through the region lock, either one read at a time
// through the Region methods or across several slots through a ReadRegion
// from BeginRead; readers in other processes, and readers after a crash,
// rely on the commit ordering documented on CommitRoot.
type Region struct {
	mu     sync.RWMutex
	f      *os.File
	data   []byte
	hdr    Header
	log    *zap.Logger
	closed bool
}

// Option configures a Region on Create or Open.
type Option func(*Region)

// WithLogger attaches a structured logger. The default is a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Region) {
		r.log = log
	}
}

// Create pre-allocates, zero fills and maps a fresh region file sized exactly
// for the header's geometry, and persists the header record. Creation fails
// if the path already exists; a region is built once and thereafter only
// opened.
func Create(path string, hdr Header, opts ...Option) (*Region, error) {
	b, err := hdr.MarshalBinary()
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrStorage, path, err)
	}

	size := RegionSize(hdr)
	if err = f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: allocate %d bytes for %s: %w", ErrStorage, size, path, err)
	}

	r, err := newRegion(f, hdr, size, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}

	copy(r.data, b)
	if err = r.flushLocked(); err != nil {
		r.Close()
		return nil, err
	}

	r.log.Debug("created slot region",
		zap.String("path", path),
		zap.Uint8("depth", hdr.Depth),
		zap.Uint64("size", size),
		zap.String("treeID", hdr.TreeID.String()))
	return r, nil
}

// Open maps an existing region file and validates its header against the
// file geometry. A header that does not decode, or a file whose size is not
// exactly the size the header requires, yields ErrCorrupt; such a region
// must be rebuilt from its source leaves.
func Open(path string, opts ...Option) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrStorage, path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %w", ErrStorage, path, err)
	}

	hdrBuf := make([]byte, FixedHeaderBytes)
	if _, err = f.ReadAt(hdrBuf, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: header short read: %w", ErrCorrupt, path, err)
	}
	var hdr Header
	if err = hdr.UnmarshalBinary(hdrBuf); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, path, err)
	}

	size := RegionSize(hdr)
	if uint64(fi.Size()) != size {
		f.Close()
		return nil, fmt.Errorf(
			"%w: %s: file is %d bytes, header requires %d",
			ErrCorrupt, path, fi.Size(), size)
	}

	r, err := newRegion(f, hdr, size, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}

	r.log.Debug("opened slot region",
		zap.String("path", path),
		zap.Uint8("depth", hdr.Depth),
		zap.String("treeID", hdr.TreeID.String()))
	return r, nil
}

func newRegion(f *os.File, hdr Header, size uint64, opts ...Option) (*Region, error) {
	r := &Region{f: f, hdr: hdr, log: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	data, err := unix.Mmap(
		int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("%w: map %s: %w", ErrStorage, f.Name(), err)
	}
	r.data = data
	return r, nil
}

// Header returns the decoded header the region was created or opened with.
func (r *Region) Header() Header {
	return r.hdr
}

// Root returns a copy of the root slot contents, or nil if the region has
// been closed.
func (r *Region) Root() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil
	}
	return r.rootLocked()
}

// Node returns a copy of the hash slot for the 1 based level order node
// index i.
func (r *Region) Node(i uint64) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrRegionClosed
	}
	return r.nodeLocked(i)
}

// Payload returns a copy of the payload slot for the 0 based leaf position.
func (r *Region) Payload(pos uint64) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrRegionClosed
	}
	return r.payloadLocked(pos)
}

// The locked read helpers require the caller to hold the region lock, in
// either mode, and the region to be open.

func (r *Region) rootLocked() []byte {
	out := make([]byte, r.hdr.HashSize)
	copy(out, r.data[RootSlotOffset(r.hdr.HashSize):])
	return out
}

func (r *Region) nodeLocked(i uint64) ([]byte, error) {
	if i < 1 || i > layout.NodeCount(r.hdr.Depth) {
		return nil, fmt.Errorf("%w: node %d, depth %d", ErrNodeRange, i, r.hdr.Depth)
	}
	out := make([]byte, r.hdr.HashSize)
	copy(out, r.data[NodeSlotOffset(r.hdr.HashSize, i):])
	return out, nil
}

func (r *Region) payloadLocked(pos uint64) ([]byte, error) {
	if pos >= r.hdr.LeafCount {
		return nil, fmt.Errorf("%w: position %d, leaf count %d", ErrPayloadIndex, pos, r.hdr.LeafCount)
	}
	out := make([]byte, r.hdr.PayloadSize)
	copy(out, r.data[PayloadSlotOffset(r.hdr.Depth, r.hdr.HashSize, r.hdr.PayloadSize, pos):])
	return out, nil
}

// Flush forces durability of all writes since the last flush.
func (r *Region) Flush() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrRegionClosed
	}
	return r.flushLocked()
}

func (r *Region) flushLocked() error {
	if err := unix.Msync(r.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("%w: msync %s: %w", ErrStorage, r.f.Name(), err)
	}
	return nil
}

// flushHeadPage syncs just the leading page holding the header record and
// the root slot.
func (r *Region) flushHeadPage() error {
	end := os.Getpagesize()
	if end > len(r.data) {
		end = len(r.data)
	}
	if err := unix.Msync(r.data[:end], unix.MS_SYNC); err != nil {
		return fmt.Errorf("%w: msync %s: %w", ErrStorage, r.f.Name(), err)
	}
	return nil
}

// Close flushes, unmaps and closes the backing file. Persisted content is
// not altered. The region is unusable afterwards.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	errFlush := r.flushLocked()
	errUnmap := unix.Munmap(r.data)
	r.data = nil
	errClose := r.f.Close()

	if errFlush != nil {
		return errFlush
	}
	if errUnmap != nil {
		return fmt.Errorf("%w: munmap %s: %w", ErrStorage, r.f.Name(), errUnmap)
	}
	if errClose != nil {
		return fmt.Errorf("%w: close: %w", ErrStorage, errClose)
	}
	return nil
}

// WriteRegion is the scoped write surface for one mutating operation. It
// holds the region writer lock from BeginWrite until Release, so no two
// writers ever touch overlapping slots. Release is idempotent and must be
// called on every exit path, including failures.
type WriteRegion struct {
	r        *Region
	released bool
}

// BeginWrite acquires the writer lock and returns the scoped write surface
// for one operation.
func (r *Region) BeginWrite() *WriteRegion {
	r.mu.Lock()
	return &WriteRegion{r: r}
}

// Release ends the write scope. Writes made through the region are not
// implicitly committed; an operation abandoned before CommitRoot leaves the
// previously committed root, and everything supporting it, untouched.
func (w *WriteRegion) Release() {
	if w.released {
		return
	}
	w.released = true
	w.r.mu.Unlock()
}

func (w *WriteRegion) usable() error {
	if w.released {
		return ErrWriteReleased
	}
	if w.r.closed {
		return ErrRegionClosed
	}
	return nil
}

// PutNode writes the hash slot for the 1 based level order node index i. The
// write is a single aligned copy of exactly one slot.
func (w *WriteRegion) PutNode(i uint64, value []byte) error {
	if err := w.usable(); err != nil {
		return err
	}
	r := w.r
	if i < 1 || i > layout.NodeCount(r.hdr.Depth) {
		return fmt.Errorf("%w: node %d, depth %d", ErrNodeRange, i, r.hdr.Depth)
	}
	if uint32(len(value)) != r.hdr.HashSize {
		return fmt.Errorf("%w: got %d bytes, slot width %d", ErrValueBadSize, len(value), r.hdr.HashSize)
	}
	copy(r.data[NodeSlotOffset(r.hdr.HashSize, i):], value)
	return nil
}

// PutPayload writes the payload slot for the 0 based leaf position.
func (w *WriteRegion) PutPayload(pos uint64, payload []byte) error {
	if err := w.usable(); err != nil {
		return err
	}
	r := w.r
	if pos >= r.hdr.LeafCount {
		return fmt.Errorf("%w: position %d, leaf count %d", ErrPayloadIndex, pos, r.hdr.LeafCount)
	}
	if uint32(len(payload)) != r.hdr.PayloadSize {
		return fmt.Errorf("%w: got %d bytes, slot width %d", ErrValueBadSize, len(payload), r.hdr.PayloadSize)
	}
	copy(r.data[PayloadSlotOffset(r.hdr.Depth, r.hdr.HashSize, r.hdr.PayloadSize, pos):], payload)
	return nil
}

// Node returns a copy of the hash slot for the 1 based level order node
// index i, reading within the write scope. Update operations recompute each
// parent from its children's current slot values, so the write surface needs
// read access while the writer lock is held.
func (w *WriteRegion) Node(i uint64) ([]byte, error) {
	if err := w.usable(); err != nil {
		return nil, err
	}
	return w.r.nodeLocked(i)
}

// CommitRoot publishes a new root. All slots written in this scope are
// synced first, then the root slot is updated with a single aligned write
// and the head page synced. Observers that read the new root are therefore
// guaranteed the whole supporting subtree is durably written; an
// interruption anywhere before the root write leaves the old root and its
// subtree intact. The atomicity of the root slot write itself is the only
// assumption, there is no write ahead log.
func (w *WriteRegion) CommitRoot(root []byte) error {
	if err := w.usable(); err != nil {
		return err
	}
	r := w.r
	if uint32(len(root)) != r.hdr.HashSize {
		return fmt.Errorf("%w: got %d bytes, slot width %d", ErrValueBadSize, len(root), r.hdr.HashSize)
	}
	if err := r.flushLocked(); err != nil {
		return err
	}
	copy(r.data[RootSlotOffset(r.hdr.HashSize):], root)
	if err := r.flushHeadPage(); err != nil {
		return err
	}
	r.log.Debug("committed root", zap.String("treeID", r.hdr.TreeID.String()))
	return nil
}

// ReadRegion is the scoped read surface for one observation spanning several
// slots. It holds the region reader lock from BeginRead until Release, so no
// commit can land between two reads in the scope: every slot read through it
// belongs to the same committed state. Release is idempotent and must be
// called on every exit path.
type ReadRegion struct {
	r        *Region
	released bool
}

// BeginRead acquires the reader lock and returns the scoped read surface.
// Single-slot observations can use the Region read methods directly.
func (r *Region) BeginRead() *ReadRegion {
	r.mu.RLock()
	return &ReadRegion{r: r}
}

// Release ends the read scope.
func (rd *ReadRegion) Release() {
	if rd.released {
		return
	}
	rd.released = true
	rd.r.mu.RUnlock()
}

func (rd *ReadRegion) usable() error {
	if rd.released {
		return ErrReadReleased
	}
	if rd.r.closed {
		return ErrRegionClosed
	}
	return nil
}

// Root returns a copy of the root slot contents.
func (rd *ReadRegion) Root() ([]byte, error) {
	if err := rd.usable(); err != nil {
		return nil, err
	}
	return rd.r.rootLocked(), nil
}

// Node returns a copy of the hash slot for the 1 based level order node
// index i.
func (rd *ReadRegion) Node(i uint64) ([]byte, error) {
	if err := rd.usable(); err != nil {
		return nil, err
	}
	return rd.r.nodeLocked(i)
}

// Payload returns a copy of the payload slot for the 0 based leaf position.
func (rd *ReadRegion) Payload(pos uint64) ([]byte, error) {
	if err := rd.usable(); err != nil {
		return nil, err
	}
	return rd.r.payloadLocked(pos)
}
