package gui

import (
	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/driver/desktop"
)

const iconSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 16 16" width="16" height="16">
  <rect x="3" y="3" width="8" height="6" fill="none" stroke="#0078d4" stroke-width="1.5" stroke-dasharray="2,1" opacity="0.8"/>
  <g transform="translate(10.5, 11) rotate(-45)">
    <circle cx="0" cy="-1" r="1" fill="none" stroke="#333333" stroke-width="0.8"/>
    <circle cx="0" cy="1" r="1" fill="none" stroke="#333333" stroke-width="0.8"/>
    <line x1="0.7" y1="-0.3" x2="2.5" y2="-0.8" stroke="#333333" stroke-width="1" stroke-linecap="round"/>
    <line x1="0.7" y1="0.3" x2="2.5" y2="0.8" stroke="#333333" stroke-width="1" stroke-linecap="round"/>
  </g>
</svg>`

// Icon is the application and tray icon.
var Icon = fyne.NewStaticResource("icon.svg", []byte(iconSVG))

// TrayActions are the tray menu callbacks. They run on the fyne thread.
type TrayActions struct {
	Capture func()
	Show    func()
}

// InstallTray adds the tray icon and menu. It reports false on drivers
// without a system tray.
func (u *UI) InstallTray(actions TrayActions) bool {
	desk, ok := u.app.(desktop.App)
	if !ok {
		u.log.Info().Msg("driver has no system tray")
		return false
	}
	menu := fyne.NewMenu(AppName,
		fyne.NewMenuItem("Capture screen", actions.Capture),
		fyne.NewMenuItem("Show window", actions.Show),
	)
	desk.SetSystemTrayIcon(Icon)
	desk.SetSystemTrayMenu(menu)
	return true
}
