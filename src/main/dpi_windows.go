//go:build windows

package main

import (
	"golang.org/x/sys/windows"

	"screen-capture-stage/src/logutil"
)

const processPerMonitorDPIAware = 2

var (
	shcore = windows.NewLazySystemDLL("Shcore.dll")
	user32 = windows.NewLazySystemDLL("user32.dll")

	procSetProcessDpiAwareness = shcore.NewProc("SetProcessDpiAwareness")
	procSetProcessDPIAware     = user32.NewProc("SetProcessDPIAware")
)

// enableDPIAwareness makes display coordinates physical pixels so the stage
// lines up with the captured bitmap. It must run before any window exists.
func enableDPIAwareness() {
	log := logutil.WithComponent("dpi")
	if err := procSetProcessDpiAwareness.Find(); err == nil {
		ret, _, _ := procSetProcessDpiAwareness.Call(uintptr(processPerMonitorDPIAware))
		if ret == 0 {
			log.Debug().Msg("per-monitor DPI awareness set")
		} else {
			log.Warn().Uint64("hresult", uint64(ret)).Msg("per-monitor DPI awareness failed")
		}
		return
	}

	// Shcore is missing before Windows 8.1.
	if err := procSetProcessDPIAware.Find(); err != nil {
		log.Warn().Err(err).Msg("no DPI awareness API available")
		return
	}
	if ret, _, _ := procSetProcessDPIAware.Call(); ret == 0 {
		log.Warn().Msg("system DPI awareness failed")
		return
	}
	log.Debug().Msg("system DPI awareness set")
}
