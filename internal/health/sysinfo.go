package health

// SysInfo is a point-in-time sample of host resources.
type SysInfo struct {
	MemTotalBytes     uint64
	MemAvailableBytes uint64
	Load1             float64
	DiskFreeBytes     uint64
	DiskTotalBytes    uint64
}
