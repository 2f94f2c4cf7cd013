package page

// Element identifies the element a delegated handler matched.
type Element struct {
	ID      string
	Tag     string
	Classes []string
}

// Event is a DOM event as seen by a handler.
type Event struct {
	Type     string
	TargetID string

	defaultPrevented   bool
	propagationStopped bool
}

// PreventDefault suppresses the browser's default action (e.g. following a link).
func (e *Event) PreventDefault() { e.defaultPrevented = true }

// StopPropagation keeps the event from reaching handlers further up the tree.
func (e *Event) StopPropagation() { e.propagationStopped = true }

// DefaultPrevented reports whether PreventDefault was called.
func (e *Event) DefaultPrevented() bool { return e.defaultPrevented }

// PropagationStopped reports whether StopPropagation was called.
func (e *Event) PropagationStopped() bool { return e.propagationStopped }

// Handler receives an event together with the element its selector matched.
type Handler func(e *Event, el Element)

// Binding is a live listener that can be removed.
type Binding interface {
	Detach()
}

// Document is the DOM capability the widget needs. Implementations are
// driven from the event loop only.
type Document interface {
	// AppendToBody inserts markup at the end of the page body.
	AppendToBody(markup string) error
	// Append inserts markup at the end of element id.
	Append(id, markup string) error
	// SetHTML replaces the content of element id.
	SetHTML(id, markup string) error

	// Show reveals element id without animation.
	Show(id string) error
	// SlideDown reveals element id with an animated transition.
	SlideDown(id string) error
	// SlideUp hides element id with an animated transition.
	SlideUp(id string) error

	HasClass(id, class string) bool
	// SwapClass removes class from and adds class to on element id.
	SwapClass(id, from, to string) error

	// Delegate attaches a live listener on container for events of type
	// eventType whose target is, or is inside, an element matching selector.
	// Elements added later are covered too.
	Delegate(containerID, eventType, selector string, h Handler) (Binding, error)
	// Undelegate detaches every delegated listener on container.
	Undelegate(containerID string)
}
