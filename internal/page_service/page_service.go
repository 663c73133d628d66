package page_service

// Protection flags recorded with each acquisition.
type Protection uint8

const (
	ProtRead Protection = 1 << iota
	ProtWrite
	ProtUser
)

const ProtReadWrite = ProtRead | ProtWrite | ProtUser

// PageService hands out zeroed, page-sized process buffers.
type PageService interface {
	AcquirePage(pid uint32, prot Protection) ([]byte, error)
	AcquireContiguousPages(pid uint32, count uint32, prot Protection) ([]byte, error)
	// ReleasePage returns a buffer previously handed to pid. buf must be the slice returned by
	// an Acquire call, not a subslice of it.
	ReleasePage(pid uint32, buf []byte) error
	// ReleaseAll returns every buffer owned by pid and reports how many pages were freed.
	ReleaseAll(pid uint32) int
	InUse() int
	PageSize() int
}
