package block_device

// BlockDevice moves whole blocks between the volume and memory. Callers always pass buffers of
// exactly BlockSize bytes; partial transfers are never issued.
type BlockDevice interface {
	ReadBlock(blockNumber uint32, dst []byte) error
	WriteBlock(blockNumber uint32, src []byte) error
	BlockSize() int
	BlockCount() uint32
	Close() error
}
