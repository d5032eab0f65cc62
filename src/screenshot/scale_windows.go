//go:build windows

package screenshot

import (
	"image"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	monitorDefaultToNearest = 2
	mdtEffectiveDPI         = 0
	defaultDPI              = 96
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")
	shcore = windows.NewLazySystemDLL("Shcore.dll")

	procMonitorFromRect  = user32.NewProc("MonitorFromRect")
	procGetDpiForMonitor = shcore.NewProc("GetDpiForMonitor")
)

// displayScale asks the monitor under bounds for its effective DPI.
func displayScale(bounds image.Rectangle) float64 {
	if procMonitorFromRect.Find() != nil || procGetDpiForMonitor.Find() != nil {
		return FallbackScale()
	}
	r := windows.Rect{
		Left:   int32(bounds.Min.X),
		Top:    int32(bounds.Min.Y),
		Right:  int32(bounds.Max.X),
		Bottom: int32(bounds.Max.Y),
	}
	monitor, _, _ := procMonitorFromRect.Call(uintptr(unsafe.Pointer(&r)), monitorDefaultToNearest)
	if monitor == 0 {
		return FallbackScale()
	}
	var dpiX, dpiY uint32
	hr, _, _ := procGetDpiForMonitor.Call(monitor, mdtEffectiveDPI,
		uintptr(unsafe.Pointer(&dpiX)), uintptr(unsafe.Pointer(&dpiY)))
	if hr != 0 || dpiX == 0 {
		return FallbackScale()
	}
	return float64(dpiX) / defaultDPI
}
