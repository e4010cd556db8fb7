// Package notify delivers short user-facing notices: transient toasts for
// errors and passive alerts for incoming messages.
package notify

import (
	"fmt"
	"io"
	"sync"

	"github.com/4xmen/cineadmin/pkg/i18n"
)

type Kind string

const (
	KindInfo    Kind = "info"
	KindError   Kind = "error"
	KindMessage Kind = "message"
)

type Notification struct {
	Kind  Kind
	Title string
	Body  string
}

type Notifier interface {
	Notify(n Notification)
}

// Error builds a transient error notice with translated text.
func Error(message string) Notification {
	return Notification{Kind: KindError, Body: i18n.Translate(message)}
}

func Info(message string) Notification {
	return Notification{Kind: KindInfo, Body: i18n.Translate(message)}
}

// NewMessage builds the passive alert raised for a message from sender.
func NewMessage(sender, preview string) Notification {
	return Notification{
		Kind:  KindMessage,
		Title: i18n.Translate("new message from " + sender),
		Body:  preview,
	}
}

// Func adapts a plain function to Notifier.
type Func func(Notification)

func (f Func) Notify(n Notification) { f(n) }

// Multi fans a notification out to every non-nil notifier.
type Multi []Notifier

func (m Multi) Notify(n Notification) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(n)
		}
	}
}

// Writer prints notifications as single lines, e.g. to the console.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) Notify(n Notification) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n.Title != "" {
		fmt.Fprintf(w.w, "[%s] %s: %s\n", n.Kind, n.Title, n.Body)
		return
	}
	fmt.Fprintf(w.w, "[%s] %s\n", n.Kind, n.Body)
}

// Recorder keeps every notification; handy for tests and status output.
type Recorder struct {
	mu  sync.Mutex
	all []Notification
}

func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	r.all = append(r.all, n)
	r.mu.Unlock()
}

func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.all...)
}
