/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package fhirtest

import (
	"sync"

	"github.com/acronis/go-smartkit/targetwindow"
)

// BrowserWindow is a fake browsing context that records navigations.
type BrowserWindow struct {
	mu      sync.Mutex
	name    string
	history []string
	// NavigateErr is returned from Navigate if set.
	NavigateErr error
}

// NewBrowserWindow creates a new window with the given name.
func NewBrowserWindow(name string) *BrowserWindow {
	return &BrowserWindow{name: name}
}

func (w *BrowserWindow) Name() string {
	return w.name
}

// Navigate implements targetwindow.Window.
func (w *BrowserWindow) Navigate(url string) error {
	if w.NavigateErr != nil {
		return w.NavigateErr
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.history = append(w.history, url)
	return nil
}

// Location returns the last URL the window navigated to.
func (w *BrowserWindow) Location() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.history) == 0 {
		return ""
	}
	return w.history[len(w.history)-1]
}

// History returns all URLs the window navigated to.
func (w *BrowserWindow) History() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.history...)
}

// OpenCall is a recorded Browser.Open call.
type OpenCall struct {
	URL      string
	Name     string
	Features string
}

// Browser is a fake window namespace implementing targetwindow.Namespace.
type Browser struct {
	mu sync.Mutex

	SelfWindow   *BrowserWindow
	ParentWindow *BrowserWindow
	TopWindow    *BrowserWindow
	Frames       map[string]*BrowserWindow
	ScreenSize   targetwindow.Screen

	// BlockPopups makes Open return a nil window as browsers do for blocked popups.
	BlockPopups bool
	// OpenErr is returned from Open if set.
	OpenErr error
	// OpenPanic makes Open panic with this value if it's not nil.
	OpenPanic interface{}

	opened []OpenCall
}

// NewBrowser creates a top-level browser window without parent and frames on a 1920x1080 screen.
func NewBrowser() *Browser {
	return &Browser{
		SelfWindow: NewBrowserWindow(""),
		Frames:     make(map[string]*BrowserWindow),
		ScreenSize: targetwindow.Screen{Width: 1920, Height: 1080},
	}
}

func (b *Browser) Self() targetwindow.Window {
	return b.SelfWindow
}

func (b *Browser) Parent() targetwindow.Window {
	return windowOrNil(b.ParentWindow)
}

func (b *Browser) Top() targetwindow.Window {
	return windowOrNil(b.TopWindow)
}

func (b *Browser) Frame(name string) targetwindow.Window {
	b.mu.Lock()
	defer b.mu.Unlock()
	return windowOrNil(b.Frames[name])
}

// Open implements targetwindow.Namespace.
func (b *Browser) Open(url, name, features string) (targetwindow.Window, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened = append(b.opened, OpenCall{URL: url, Name: name, Features: features})
	if b.OpenPanic != nil {
		panic(b.OpenPanic)
	}
	if b.OpenErr != nil {
		return nil, b.OpenErr
	}
	if b.BlockPopups {
		return nil, nil
	}
	w := NewBrowserWindow(name)
	if url != "" {
		w.history = append(w.history, url)
	}
	if b.Frames == nil {
		b.Frames = make(map[string]*BrowserWindow)
	}
	b.Frames[name] = w
	return w, nil
}

func (b *Browser) Screen() targetwindow.Screen {
	return b.ScreenSize
}

// Opened returns all recorded Open calls.
func (b *Browser) Opened() []OpenCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]OpenCall(nil), b.opened...)
}

func windowOrNil(w *BrowserWindow) targetwindow.Window {
	if w == nil {
		return nil
	}
	return w
}
