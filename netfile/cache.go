package netfile

import (
	"github.com/goburrow/cache"
	"github.com/klauspost/compress/zstd"
)

// -----------------------------------------------------------------------------
// Nop cache
// -----------------------------------------------------------------------------

// NopCache never satisfies a request; every operation proceeds to the
// network.
type NopCache struct{}

func (NopCache) Read(int64, []byte) CacheResult  { return CacheMiss }
func (NopCache) Write(int64, []byte) CacheResult { return CacheMiss }
func (NopCache) Store(int64, []byte)             {}

// -----------------------------------------------------------------------------
// Block cache
// -----------------------------------------------------------------------------

// defaultBlockSize is the block granularity for the in-memory cache.
const defaultBlockSize = 64 * 1024

// BlockCache is an in-memory read cache over fixed-size file blocks.
// Entries are zstd-compressed and held in a size-bounded LRU. A read
// hits only when every block covering the requested range is present;
// a corrupt entry reports CacheFailed. Writes invalidate overlapping
// blocks and always proceed to the network.
//
// Safe for concurrent use.
type BlockCache struct {
	blockSize int64
	blocks    cache.Cache
	enc       *zstd.Encoder
	dec       *zstd.Decoder
}

// NewBlockCache creates a cache holding at most maxBlocks blocks of
// blockSize bytes each. A blockSize of zero selects the 64 KiB
// default.
func NewBlockCache(maxBlocks int, blockSize int64) (*BlockCache, error) {
	if blockSize <= 0 {
		blockSize = defaultBlockSize
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &BlockCache{
		blockSize: blockSize,
		blocks:    cache.New(cache.WithMaximumSize(maxBlocks)),
		enc:       enc,
		dec:       dec,
	}, nil
}

// Read fills p from cached blocks at off. Every covered block must be
// present and long enough; otherwise the result is a miss.
func (c *BlockCache) Read(off int64, p []byte) CacheResult {
	if len(p) == 0 {
		return CacheHit
	}
	end := off + int64(len(p))

	for pos := off; pos < end; {
		base := (pos / c.blockSize) * c.blockSize
		v, ok := c.blocks.GetIfPresent(base)
		if !ok {
			return CacheMiss
		}
		block, err := c.dec.DecodeAll(v.([]byte), nil)
		if err != nil {
			return CacheFailed
		}

		lo := pos - base
		hi := end - base
		if hi > c.blockSize {
			hi = c.blockSize
		}
		// Tail blocks may be short; a block that doesn't reach the
		// needed extent cannot satisfy the read.
		if int64(len(block)) < hi {
			return CacheMiss
		}
		copy(p[pos-off:], block[lo:hi])
		pos = base + hi
	}
	return CacheHit
}

// Write invalidates blocks overlapping [off, off+len(p)) and reports
// a miss so the write proceeds to the network.
func (c *BlockCache) Write(off int64, p []byte) CacheResult {
	if len(p) == 0 {
		return CacheMiss
	}
	first := (off / c.blockSize) * c.blockSize
	last := ((off + int64(len(p)) - 1) / c.blockSize) * c.blockSize
	for base := first; base <= last; base += c.blockSize {
		c.blocks.Invalidate(base)
	}
	return CacheMiss
}

// Store caches the aligned blocks fully contained in p. Partial
// leading and trailing coverage is skipped, except that a block
// reaching the end of p is stored short so tail-of-file reads can
// hit.
func (c *BlockCache) Store(off int64, p []byte) {
	if len(p) == 0 {
		return
	}
	end := off + int64(len(p))

	base := (off / c.blockSize) * c.blockSize
	if base < off {
		// p starts mid-block; the first full block begins later.
		base += c.blockSize
	}
	for ; base < end; base += c.blockSize {
		hi := base + c.blockSize
		if hi > end {
			hi = end
		}
		block := p[base-off : hi-off]
		c.blocks.Put(base, c.enc.EncodeAll(block, nil))
	}
}
