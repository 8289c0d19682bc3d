package domain

// ResourceSlot is a mapping from slot name (e.g. "cpu", "mem", "cuda.device")
// to a quantity in the slot's minor unit. "mem" is always in bytes. Unknown
// slot names are silently dropped by Known when read against a reference set
// of allowed names, matching the source system's behavior of ignoring slots
// a node or policy doesn't recognize rather than erroring.
type ResourceSlot map[string]int64

// NewResourceSlot builds a ResourceSlot from a set of key/value pairs.
func NewResourceSlot(kv map[string]int64) ResourceSlot {
	s := make(ResourceSlot, len(kv))
	for k, v := range kv {
		s[k] = v
	}
	return s
}

// Clone returns an independent copy.
func (s ResourceSlot) Clone() ResourceSlot {
	out := make(ResourceSlot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Add returns the elementwise sum of s and other.
func (s ResourceSlot) Add(other ResourceSlot) ResourceSlot {
	out := s.Clone()
	for k, v := range other {
		out[k] += v
	}
	return out
}

// Sub returns the elementwise difference s - other.
func (s ResourceSlot) Sub(other ResourceSlot) ResourceSlot {
	out := s.Clone()
	for k, v := range other {
		out[k] -= v
	}
	return out
}

// LessEqual reports whether every slot in s is <= the corresponding slot in
// other. A slot absent from other is treated as zero.
func (s ResourceSlot) LessEqual(other ResourceSlot) bool {
	for k, v := range s {
		if v > other[k] {
			return false
		}
	}
	return true
}

// Known drops any slot name not present in allowed, matching the
// "unknown slot names are silently dropped on read" invariant.
func (s ResourceSlot) Known(allowed map[string]struct{}) ResourceSlot {
	out := make(ResourceSlot, len(s))
	for k, v := range s {
		if _, ok := allowed[k]; ok {
			out[k] = v
		}
	}
	return out
}

// IsZero reports whether every slot is zero or absent.
func (s ResourceSlot) IsZero() bool {
	for _, v := range s {
		if v != 0 {
			return false
		}
	}
	return true
}

// ValidateShmem enforces "shared_memory < memory": an explicit "shmem"
// slot must be strictly less than "mem"; an absent "shmem" is treated as
// defaultShmem, the configured per-kernel default.
func (s ResourceSlot) ValidateShmem(defaultShmem int64) bool {
	shmem, ok := s["shmem"]
	if !ok {
		shmem = defaultShmem
	}
	return shmem < s["mem"]
}

// Sum adds up a list of slots.
func Sum(slots ...ResourceSlot) ResourceSlot {
	out := ResourceSlot{}
	for _, s := range slots {
		out = out.Add(s)
	}
	return out
}
