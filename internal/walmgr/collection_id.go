package walmgr

// CollectionID derives the deterministic 64-bit fold spec §4.5 uses to tag
// WAL entries with their owning collection: h = 0; for each byte b in
// name: h = h*31 + b (mod 2^64, i.e. ordinary uint64 wraparound). It must
// match exactly across runs and processes, so it is never replaced with a
// general-purpose hash function.
func CollectionID(name string) uint64 {
	var h uint64

	for i := 0; i < len(name); i++ {
		h = h*31 + uint64(name[i])
	}

	return h
}
