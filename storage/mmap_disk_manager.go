package storage

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// MmapDiskManager provides zero-copy disk access using memory-mapped
// files. It implements the same DiskManager contract as FileDiskManager
// but serves reads directly out of the mapped region instead of a
// syscall per page.
type MmapDiskManager struct {
	file       *os.File
	mmapData   []byte
	fileSize   int64
	nextPageID int32
	codec      CompressionCodec
	mu         sync.RWMutex
	growMu     sync.Mutex
}

const (
	// InitialFileSize is the mapping's starting size: 1GB (256K pages at 4KB).
	InitialFileSize = 1024 * 1024 * 1024
	// FileGrowSize is how much the file grows once it runs out of room.
	FileGrowSize = 256 * 1024 * 1024
)

// NewMmapDiskManager creates a memory-mapped disk manager backed by
// fileName. codec may be nil to store pages uncompressed; compression
// and mmap zero-copy reads are mutually exclusive in practice (a
// compressed page's on-disk bytes aren't the page's live bytes), so a
// non-nil codec here means ReadPage pays a decode, not a raw slice.
func NewMmapDiskManager(fileName string, codec CompressionCodec) (*MmapDiskManager, error) {
	file, err := os.OpenFile(fileName, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open/create file %s: %w", fileName, err)
	}

	fileInfo, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	fileSize := fileInfo.Size()
	if fileSize < InitialFileSize {
		if err := file.Truncate(InitialFileSize); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to grow file: %w", err)
		}
		fileSize = InitialFileSize
	}

	dm := &MmapDiskManager{
		file:     file,
		fileSize: fileSize,
		codec:    codec,
	}

	if err := dm.createMapping(); err != nil {
		file.Close()
		return nil, err
	}

	dm.nextPageID = int32(fileSize / PageSize)

	return dm, nil
}

func (dm *MmapDiskManager) createMapping() error {
	data, err := unix.Mmap(int(dm.file.Fd()), 0, int(dm.fileSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("failed to mmap file: %w", err)
	}
	dm.mmapData = data
	return nil
}

func (dm *MmapDiskManager) AllocatePage() int32 {
	dm.mu.Lock()
	pageID := dm.nextPageID
	requiredSize := int64(pageID+1) * PageSize
	needsGrow := requiredSize > dm.fileSize
	dm.mu.Unlock()

	if needsGrow {
		// growFile panics on failure: allocation is documented as
		// infallible, and a truncate/mmap failure here means the
		// backing filesystem is unusable, not a recoverable miss.
		if err := dm.growFile(); err != nil {
			panic(fmt.Sprintf("MmapDiskManager: failed to grow file: %v", err))
		}
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.nextPageID++
	return pageID
}

func (dm *MmapDiskManager) growFile() error {
	dm.growMu.Lock()
	defer dm.growMu.Unlock()

	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.mmapData != nil {
		if err := unix.Munmap(dm.mmapData); err != nil {
			return fmt.Errorf("failed to unmap: %w", err)
		}
		dm.mmapData = nil
	}

	newSize := dm.fileSize + FileGrowSize
	if err := dm.file.Truncate(newSize); err != nil {
		dm.createMapping()
		return fmt.Errorf("failed to grow file: %w", err)
	}
	dm.fileSize = newSize

	return dm.createMapping()
}

// DeallocatePage is a bookkeeping no-op; freed page ids are not reused
// and their bytes stay mapped until overwritten.
func (dm *MmapDiskManager) DeallocatePage(pageID int32) error {
	return nil
}

// ReadPage returns the page's bytes. With no codec this is a slice
// directly into the mapped region (zero-copy); callers must not retain
// it past their pin. With a codec, decoding always allocates a copy.
func (dm *MmapDiskManager) ReadPage(pageID int32) ([]byte, error) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	offset := int64(pageID) * PageSize
	if offset+PageSize > dm.fileSize {
		return nil, fmt.Errorf("page %d out of bounds (file size: %d)", pageID, dm.fileSize)
	}

	raw := dm.mmapData[offset : offset+PageSize]
	if dm.codec == nil {
		return raw, nil
	}
	decoded, err := dm.codec.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode page %d: %w", pageID, err)
	}
	return decoded, nil
}

// ReadPageCopy reads a page and returns an independent copy, safe to
// retain or modify without affecting the mapped region.
func (dm *MmapDiskManager) ReadPageCopy(pageID int32) ([]byte, error) {
	data, err := dm.ReadPage(pageID)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (dm *MmapDiskManager) WritePage(pageID int32, data []byte) error {
	if len(data) != PageSize {
		return fmt.Errorf("page data must be exactly %d bytes, got %d", PageSize, len(data))
	}

	encoded := data
	if dm.codec != nil {
		enc, err := dm.codec.Encode(data)
		if err != nil {
			return fmt.Errorf("failed to encode page %d: %w", pageID, err)
		}
		encoded = enc
	}

	dm.mu.RLock()
	defer dm.mu.RUnlock()

	offset := int64(pageID) * PageSize
	if offset+int64(len(encoded)) > dm.fileSize {
		return fmt.Errorf("page %d out of bounds (file size: %d)", pageID, dm.fileSize)
	}

	copy(dm.mmapData[offset:offset+int64(len(encoded))], encoded)
	return nil
}

func (dm *MmapDiskManager) WritePagesV(writes []PageWrite) error {
	if len(writes) == 0 {
		return nil
	}
	for _, pw := range writes {
		if err := dm.WritePage(pw.PageID, pw.Data); err != nil {
			return err
		}
	}
	return nil
}

// Flush msyncs the entire mapping to disk.
func (dm *MmapDiskManager) Flush() error {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	if dm.mmapData == nil {
		return nil
	}
	if err := unix.Msync(dm.mmapData, unix.MS_SYNC); err != nil {
		return fmt.Errorf("failed to msync: %w", err)
	}
	return dm.file.Sync()
}

// FlushPage msyncs just the byte range backing pageID.
func (dm *MmapDiskManager) FlushPage(pageID int32) error {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	offset := int64(pageID) * PageSize
	if offset+PageSize > dm.fileSize {
		return fmt.Errorf("page %d out of bounds (file size: %d)", pageID, dm.fileSize)
	}
	if err := unix.Msync(dm.mmapData[offset:offset+PageSize], unix.MS_SYNC); err != nil {
		return fmt.Errorf("failed to msync page %d: %w", pageID, err)
	}
	return nil
}

// FlushPages msyncs each of the given pages.
func (dm *MmapDiskManager) FlushPages(pageIDs []int32) error {
	for _, pageID := range pageIDs {
		if err := dm.FlushPage(pageID); err != nil {
			return err
		}
	}
	return nil
}

// AdviceType represents memory access advice passed to madvise.
type AdviceType int

const (
	AdviceNormal     AdviceType = 0
	AdviceRandom     AdviceType = 1
	AdviceSequential AdviceType = 2
	AdviceWillNeed   AdviceType = 3
	AdviceDontNeed   AdviceType = 4
)

var adviceToMadvise = map[AdviceType]int{
	AdviceNormal:     unix.MADV_NORMAL,
	AdviceRandom:     unix.MADV_RANDOM,
	AdviceSequential: unix.MADV_SEQUENTIAL,
	AdviceWillNeed:   unix.MADV_WILLNEED,
	AdviceDontNeed:   unix.MADV_DONTNEED,
}

// Advise hints the kernel about the access pattern for pageID's bytes.
func (dm *MmapDiskManager) Advise(pageID int32, advice AdviceType) error {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	offset := int64(pageID) * PageSize
	if offset+PageSize > dm.fileSize {
		return fmt.Errorf("page %d out of bounds (file size: %d)", pageID, dm.fileSize)
	}

	flag, ok := adviceToMadvise[advice]
	if !ok {
		return fmt.Errorf("unknown advice type %d", advice)
	}
	return unix.Madvise(dm.mmapData[offset:offset+PageSize], flag)
}

func (dm *MmapDiskManager) GetFileSize() int64 {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.fileSize
}

func (dm *MmapDiskManager) GetNextPageID() int32 {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.nextPageID
}

func (dm *MmapDiskManager) Close() error {
	dm.Flush()

	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.mmapData != nil {
		if err := unix.Munmap(dm.mmapData); err != nil {
			return fmt.Errorf("failed to unmap: %w", err)
		}
		dm.mmapData = nil
	}

	if dm.file != nil {
		return dm.file.Close()
	}
	return nil
}

// MmapStats reports the mapping's current size and utilization.
type MmapStats struct {
	FileSize    int64
	MappedSize  int64
	NextPageID  int32
	UsedPages   int32
	AllocatedMB int64
	UsedMB      int64
}

func (dm *MmapDiskManager) GetStats() MmapStats {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	return MmapStats{
		FileSize:    dm.fileSize,
		MappedSize:  int64(len(dm.mmapData)),
		NextPageID:  dm.nextPageID,
		UsedPages:   dm.nextPageID,
		AllocatedMB: dm.fileSize / (1024 * 1024),
		UsedMB:      int64(dm.nextPageID) * PageSize / (1024 * 1024),
	}
}
