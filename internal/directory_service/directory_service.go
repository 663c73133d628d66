package directory_service

// DirectoryService manages the single root directory: a packed run of variable-length records
// terminated by exactly one end marker.
type DirectoryService interface {
	Resolve(name string) (uint32, error)
	Insert(name string, inode uint32, fileType uint8) error
	Remove(name string) (uint32, error)
	List() ([]Record, error)
	Count() (int, error)
}
