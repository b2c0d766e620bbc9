package cpu

// these constants are used for memory protections
const (
	PROT_NONE  = 0
	PROT_READ  = 1
	PROT_WRITE = 2
	PROT_EXEC  = 4
	PROT_ALL   = 7
)

// reasons reported by MemError
const (
	MEM_READ_UNMAPPED = iota + 1
	MEM_WRITE_UNMAPPED
	MEM_FETCH_UNMAPPED
	MEM_READ_PROT
	MEM_WRITE_PROT
	MEM_FETCH_PROT
	MEM_MAP_OVERLAP
	MEM_MAP_RANGE
)
