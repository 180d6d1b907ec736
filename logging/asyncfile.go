package logging

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

const queueSize = 100

// AsyncFile provides non-blocking file writing capabilities
type AsyncFile struct {
	file  *os.File
	log   log.Logger
	queue chan []byte
	wg    sync.WaitGroup

	mu      sync.Mutex
	stopped bool

	errMu    sync.Mutex
	writeErr error
}

// NewAsyncFile creates a new AsyncFile for non-blocking writes
func NewAsyncFile(path string, logger log.Logger) (*AsyncFile, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", path, err)
	}
	if logger == nil {
		logger = log.Root()
	}

	af := &AsyncFile{
		file:  file,
		log:   logger,
		queue: make(chan []byte, queueSize),
	}

	af.wg.Add(1)
	go af.processQueue()

	return af, nil
}

// Write queues data to be written asynchronously
func (af *AsyncFile) Write(data []byte) error {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.stopped {
		return errors.New("async file is closed")
	}

	// the caller may reuse data once Write returns
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	af.queue <- dataCopy
	return nil
}

func (af *AsyncFile) processQueue() {
	defer af.wg.Done()

	for data := range af.queue {
		if _, err := af.file.Write(data); err != nil {
			af.log.Error("Error writing to file", "file", af.file.Name(), "err", err)
			af.errMu.Lock()
			if af.writeErr == nil {
				af.writeErr = err
			}
			af.errMu.Unlock()
		}
	}
}

// Close drains the queue and closes the file. The first write error, if
// any, is returned.
func (af *AsyncFile) Close() error {
	af.mu.Lock()
	if af.stopped {
		af.mu.Unlock()
		return nil
	}
	af.stopped = true
	close(af.queue)
	af.mu.Unlock()

	af.wg.Wait()
	af.errMu.Lock()
	defer af.errMu.Unlock()
	return errors.Join(af.writeErr, af.file.Close())
}

// Name returns the path of the underlying file
func (af *AsyncFile) Name() string {
	return af.file.Name()
}
