// Package clipboard writes crops and text to the system clipboard.
package clipboard

import (
	"errors"
	"sync"

	"golang.design/x/clipboard"
)

var (
	ErrUnavailable = errors.New("clipboard unavailable")
	ErrWriteFailed = errors.New("clipboard did not accept the data")
	ErrEmpty       = errors.New("nothing to copy")
)

// Writer is the clipboard surface the capture flow uses.
type Writer interface {
	WriteImage(png []byte) error
	WriteText(text string) error
}

var (
	writeMu  sync.Mutex
	initOnce sync.Once
	initErr  error
)

// Init prepares the system clipboard. Later calls return the first result.
func Init() error {
	initOnce.Do(func() {
		if err := clipboard.Init(); err != nil {
			initErr = errors.Join(ErrUnavailable, err)
		}
	})
	return initErr
}

// System is the Writer backed by the OS clipboard.
type System struct{}

// WriteImage places PNG bytes on the clipboard.
func (System) WriteImage(png []byte) error {
	return write(clipboard.FmtImage, png)
}

// WriteText places text on the clipboard.
func (System) WriteText(text string) error {
	return write(clipboard.FmtText, []byte(text))
}

// Write performs a mutex-guarded clipboard write to prevent corruption under parallel writes.
func Write(text string) error {
	return System{}.WriteText(text)
}

func write(format clipboard.Format, data []byte) error {
	if len(data) == 0 {
		return ErrEmpty
	}
	if err := Init(); err != nil {
		return err
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	clipboard.Write(format, data)
	// Another process can own the clipboard and drop the write.
	if len(clipboard.Read(format)) == 0 {
		return ErrWriteFailed
	}
	return nil
}
