package inmemory

import (
	"fmt"
	"sync"

	"github.com/AnishMulay/simplefs/internal/log_service"
	ps "github.com/AnishMulay/simplefs/internal/page_service"
)

type allocation struct {
	buf   []byte
	pages uint32
	prot  ps.Protection
}

type InMemoryPageService struct {
	mu       sync.Mutex
	pageSize int
	maxPages int
	inUse    int
	owned    map[uint32][]allocation
	ls       log_service.LogService
}

func NewInMemoryPageService(pageSize, maxPages int, ls log_service.LogService) *InMemoryPageService {
	return &InMemoryPageService{
		pageSize: pageSize,
		maxPages: maxPages,
		owned:    make(map[uint32][]allocation),
		ls:       ls,
	}
}

func (s *InMemoryPageService) PageSize() int {
	return s.pageSize
}

func (s *InMemoryPageService) AcquirePage(pid uint32, prot ps.Protection) ([]byte, error) {
	return s.AcquireContiguousPages(pid, 1, prot)
}

func (s *InMemoryPageService) AcquireContiguousPages(pid uint32, count uint32, prot ps.Protection) ([]byte, error) {
	if count == 0 {
		return nil, fmt.Errorf("%w: %d", ps.ErrInvalidPageCount, count)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inUse+int(count) > s.maxPages {
		s.ls.Warn(log_service.LogEvent{
			Message:  "Page acquisition refused",
			Metadata: map[string]any{"pid": pid, "requested": count, "in_use": s.inUse, "max_pages": s.maxPages},
		})
		return nil, fmt.Errorf("%w: requested %d, %d of %d in use", ps.ErrOutOfPages, count, s.inUse, s.maxPages)
	}

	buf := make([]byte, int(count)*s.pageSize)
	s.owned[pid] = append(s.owned[pid], allocation{buf: buf, pages: count, prot: prot})
	s.inUse += int(count)
	return buf, nil
}

func (s *InMemoryPageService) ReleasePage(pid uint32, buf []byte) error {
	if len(buf) == 0 {
		return fmt.Errorf("%w: empty buffer", ps.ErrUnknownBuffer)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	allocs := s.owned[pid]
	for i, a := range allocs {
		if &a.buf[0] != &buf[0] {
			continue
		}
		s.inUse -= int(a.pages)
		allocs = append(allocs[:i], allocs[i+1:]...)
		if len(allocs) == 0 {
			delete(s.owned, pid)
		} else {
			s.owned[pid] = allocs
		}
		return nil
	}
	return fmt.Errorf("%w: pid %d", ps.ErrUnknownBuffer, pid)
}

func (s *InMemoryPageService) ReleaseAll(pid uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	freed := 0
	for _, a := range s.owned[pid] {
		freed += int(a.pages)
	}
	s.inUse -= freed
	delete(s.owned, pid)

	if freed > 0 {
		s.ls.Debug(log_service.LogEvent{
			Message:  "Released process pages",
			Metadata: map[string]any{"pid": pid, "pages": freed},
		})
	}
	return freed
}

func (s *InMemoryPageService) InUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inUse
}

var _ ps.PageService = (*InMemoryPageService)(nil)
