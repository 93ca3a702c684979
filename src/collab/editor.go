package collab

import (
	"sync"

	"github.com/ojhub/realtime/src/crdt"
)

// Editor is the code editor a session binds to the shared document.
type Editor interface {
	Text() string
	SetText(text string)
	// Attach installs shared editing against doc.
	Attach(doc *crdt.Doc) error
	// Detach removes shared editing. It may fail if the editor is gone.
	Detach() error
}

// TextEditor is a headless Editor backed by a string. While attached its
// text mirrors the document and edits go through the document.
type TextEditor struct {
	mu     sync.Mutex
	text   string
	doc    *crdt.Doc
	cancel func()
}

// NewTextEditor returns a detached editor holding text.
func NewTextEditor(text string) *TextEditor {
	return &TextEditor{text: text}
}

func (e *TextEditor) Text() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.text
}

func (e *TextEditor) SetText(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.text = text
}

func (e *TextEditor) Attach(doc *crdt.Doc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.doc == doc {
		return nil
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.doc = doc
	e.text = doc.String()
	e.cancel = doc.Observe(func(crdt.Update) {
		text := doc.String()
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.doc == doc {
			e.text = text
		}
	})
	return nil
}

func (e *TextEditor) Detach() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.doc = nil
	return nil
}

// Attached reports whether shared editing is installed.
func (e *TextEditor) Attached() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc != nil
}

// Type inserts text at offset, through the document when attached.
func (e *TextEditor) Type(offset int, text string) error {
	e.mu.Lock()
	doc := e.doc
	if doc == nil {
		r := []rune(e.text)
		if offset < 0 {
			offset = 0
		}
		if offset > len(r) {
			offset = len(r)
		}
		e.text = string(r[:offset]) + text + string(r[offset:])
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()
	_, err := doc.Insert(offset, text)
	return err
}
