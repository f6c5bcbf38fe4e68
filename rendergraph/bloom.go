package rendergraph

import "sync"

// imageBloom is an optional fast-reject membership check consulted
// before a cache-key lookup on the hot path: a miss here means the key
// is definitely absent, avoiding a map probe under cacheMu for the
// common "first request this shape" case. A hit still requires the
// real lookup, since the filter may false-positive. Grounded on the
// teacher's kernel/threads/pattern/bloom.go BloomFilter, narrowed from
// a general pattern-ID filter to a 64-bit cache-key filter.
type imageBloom struct {
	bits []byte
	size uint32
	k    uint8
	mu   sync.RWMutex
}

func newImageBloom(sizeBytes uint32) *imageBloom {
	return &imageBloom{bits: make([]byte, sizeBytes), size: sizeBytes * 8, k: 3}
}

func (bf *imageBloom) add(h uint64) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	for i := uint8(0); i < bf.k; i++ {
		idx := bf.hash(h, i)
		bf.bits[idx/8] |= 1 << (idx % 8)
	}
}

func (bf *imageBloom) mightContain(h uint64) bool {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	for i := uint8(0); i < bf.k; i++ {
		idx := bf.hash(h, i)
		if bf.bits[idx/8]&(1<<(idx%8)) == 0 {
			return false
		}
	}
	return true
}

func (bf *imageBloom) hash(id uint64, seed uint8) uint32 {
	h := id
	h ^= uint64(seed) * 0x9e3779b97f4a7c15
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return uint32(h % uint64(bf.size))
}

func imageKeyHash(k imageKey) uint64 {
	h := uint64(k.width)<<32 | uint64(k.height)
	h ^= uint64(k.format) * 0x100000001b3
	if k.persistent {
		h ^= 1
	}
	return h
}
