// Package viewer shows rendered figures in a desktop window.
package viewer

import (
	"os"
	"path/filepath"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"github.com/pkg/errors"
)

// Show opens a window with one tab per image file and blocks until it is
// closed.
func Show(title string, paths ...string) error {
	if err := checkFiles(paths); err != nil {
		return err
	}

	a := app.New()
	a.Settings().SetTheme(&figureTheme{})
	w := a.NewWindow(title)

	tabs := container.NewAppTabs()
	for _, p := range paths {
		img := canvas.NewImageFromFile(p)
		img.FillMode = canvas.ImageFillContain
		img.SetMinSize(fyne.NewSize(640, 480))
		tabs.Append(container.NewTabItem(filepath.Base(p), img))
	}
	w.SetContent(tabs)
	w.Resize(fyne.NewSize(960, 640))
	w.ShowAndRun()
	return nil
}

func checkFiles(paths []string) error {
	if len(paths) == 0 {
		return errors.New("viewer: nothing to show")
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return errors.Wrapf(err, "viewer: cannot show %s", p)
		}
	}
	return nil
}
