package ghost

import (
	"github.com/atinylittleshell/autotab/pkg/page"
	"github.com/atinylittleshell/autotab/pkg/protocol"
)

// Bind forwards the document's DOM events to d and returns a function that
// stops forwarding. Keydown is sent synchronously so its verdict can
// suppress the default action; everything else is posted.
func Bind(doc *page.Document, d Dispatcher) func() {
	return doc.Listen(func(ev page.Event) bool {
		switch ev.Type {
		case page.EventFocusIn:
			d.Post(Focus(fieldOf(ev.Target)))
		case page.EventFocusOut:
			d.Post(Blur(fieldOf(ev.Target)))
		case page.EventInput:
			d.Post(Input(fieldOf(ev.Target)))
		case page.EventKeyDown:
			return d.Send(KeyDown(Key(ev.Key)))
		case page.EventClick:
			d.Post(Click(fieldOf(ev.Target)))
		case page.EventScroll:
			d.Post(Scroll())
		}
		return false
	})
}

// Deliver returns a callback that posts pushed responses to d.
func Deliver(d Dispatcher) func(protocol.Response) {
	return func(resp protocol.Response) {
		d.Post(ResponseReceived(resp))
	}
}

func fieldOf(e *page.Element) Field {
	if e == nil {
		return nil
	}
	return e
}
