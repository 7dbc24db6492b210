/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package targetwindow resolves where the SMART authorization page should be opened:
// the current window, its parent or top window, a new tab, a centered popup, or a named frame.
//
// The resolver never fails. Every target that cannot be reached degrades to the current window,
// so the authorization redirect can proceed in place.
package targetwindow

import (
	"context"
	"fmt"
	"strconv"

	"github.com/acronis/go-appkit/log"
	"github.com/google/uuid"

	"github.com/acronis/go-smartkit/internal/smartutil"
)

// Well-known targets.
const (
	TargetSelf   = "_self"
	TargetParent = "_parent"
	TargetTop    = "_top"
	TargetBlank  = "_blank"
	TargetPopup  = "popup"
)

const (
	DefaultPopupWidth  = 800
	DefaultPopupHeight = 720
)

// PopupName is the name of the window opened for the "popup" target.
// Windows opened for "_blank" get this name followed by a random suffix.
const PopupName = "SMARTAuthPopup"

// Window is a browsing context the authorization page can be loaded into.
type Window interface {
	Name() string
	Navigate(url string) error
}

// Screen holds the dimensions of the screen, used to center popups.
type Screen struct {
	Width  int
	Height int
}

// Namespace is the window/frame namespace of the host environment.
type Namespace interface {
	// Self returns the current window. It must never be nil.
	Self() Window

	// Parent returns the parent window or nil if there is none.
	Parent() Window

	// Top returns the topmost window or nil if there is none.
	Top() Window

	// Frame returns the frame with the given name or nil if it doesn't exist.
	Frame(name string) Window

	// Open opens a new browsing context. A nil window means it was blocked.
	Open(url, name, features string) (Window, error)

	Screen() Screen
}

// TargetFunc lazily produces a target. It may return a Window, a target name, or another TargetFunc.
type TargetFunc func(ctx context.Context) (interface{}, error)

// ResolverOpts contains options for Resolver.
type ResolverOpts struct {
	// Logger is a logger for the diagnostics of unreachable targets.
	Logger log.FieldLogger
}

// Resolver resolves targets within a namespace.
type Resolver struct {
	ns     Namespace
	logger log.FieldLogger
}

// NewResolver creates a new Resolver.
func NewResolver(ns Namespace) *Resolver {
	return NewResolverWithOpts(ns, ResolverOpts{})
}

// NewResolverWithOpts creates a new Resolver with options.
func NewResolverWithOpts(ns Namespace, opts ResolverOpts) *Resolver {
	return &Resolver{ns: ns, logger: smartutil.PrepareLogger(opts.Logger)}
}

// GetTargetWindow resolves the target to a window.
// The target may be a Window, a target name (string), a TargetFunc
// or a plain func(ctx context.Context) (interface{}, error).
// Width and height are used for the "popup" target; defaults are used when they are not positive.
// Failures and panics of the namespace fall back to the current window.
// Nil is returned only if the namespace cannot provide the current window either.
func (r *Resolver) GetTargetWindow(ctx context.Context, target interface{}, width, height int) (w Window) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn(fmt.Sprintf("resolving target window panicked: %v, falling back to the current window", p))
			w = r.self()
		}
	}()
	return r.resolve(ctx, target, width, height)
}

func (r *Resolver) resolve(ctx context.Context, target interface{}, width, height int) Window {
	if width <= 0 {
		width = DefaultPopupWidth
	}
	if height <= 0 {
		height = DefaultPopupHeight
	}

	for {
		var fn TargetFunc
		switch t := target.(type) {
		case TargetFunc:
			fn = t
		case func(ctx context.Context) (interface{}, error):
			fn = t
		}
		if fn == nil {
			break
		}
		if ctx.Err() != nil {
			r.logger.Warn("target resolution canceled, falling back to the current window", log.Error(ctx.Err()))
			return r.ns.Self()
		}
		var err error
		if target, err = r.invoke(ctx, fn); err != nil {
			r.logger.Warn("target function failed, falling back to the current window", log.Error(err))
			return r.ns.Self()
		}
	}

	if w, ok := target.(Window); ok && w != nil {
		return w
	}

	name, ok := target.(string)
	if !ok {
		r.logger.Warn(fmt.Sprintf("invalid target type %T, falling back to the current window", target))
		return r.ns.Self()
	}

	switch name {
	case TargetSelf:
		return r.ns.Self()
	case TargetParent:
		return r.orSelf(r.ns.Parent())
	case TargetTop:
		return r.orSelf(r.ns.Top())
	case TargetBlank:
		return r.open("", PopupName+"-"+uuid.NewString(), "")
	case TargetPopup:
		return r.open("", PopupName, PopupFeatures(width, height, r.ns.Screen()))
	}

	if frame := r.frame(name); frame != nil {
		return frame
	}
	r.logger.Warn(fmt.Sprintf("unknown target %q, falling back to the current window", name))
	return r.ns.Self()
}

// PopupFeatures returns the window features of a width x height popup centered on the screen.
func PopupFeatures(width, height int, screen Screen) string {
	top := float64(screen.Height-height) / 2
	left := float64(screen.Width-width) / 2
	return fmt.Sprintf("height=%d,width=%d,menubar=0,resizable=1,status=0,top=%s,left=%s",
		height, width, formatCoord(top), formatCoord(left))
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (r *Resolver) invoke(ctx context.Context, fn TargetFunc) (result interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			result, err = nil, fmt.Errorf("target function panicked: %v", p)
		}
	}()
	return fn(ctx)
}

func (r *Resolver) open(url, name, features string) (w Window) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn(fmt.Sprintf("opening window %q panicked: %v, falling back to the current window", name, p))
			w = r.ns.Self()
		}
	}()
	w, err := r.ns.Open(url, name, features)
	if err != nil {
		r.logger.Warn(fmt.Sprintf("cannot open window %q, falling back to the current window", name), log.Error(err))
		return r.ns.Self()
	}
	if w == nil {
		r.logger.Warn(fmt.Sprintf("window %q was blocked, falling back to the current window", name))
		return r.ns.Self()
	}
	return w
}

func (r *Resolver) frame(name string) (w Window) {
	defer func() {
		if p := recover(); p != nil {
			w = nil
		}
	}()
	return r.ns.Frame(name)
}

func (r *Resolver) self() (w Window) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn(fmt.Sprintf("getting the current window panicked: %v", p))
			w = nil
		}
	}()
	return r.ns.Self()
}

func (r *Resolver) orSelf(w Window) Window {
	if w == nil {
		return r.ns.Self()
	}
	return w
}
