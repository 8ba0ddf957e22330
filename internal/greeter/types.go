// Package greeter is a sample remote interface served over the bus: a Greeter
// that hands out chained Cursor objects over its greeting history.
package greeter

import (
	"io"
	"time"

	"github.com/morezero/busproxy/pkg/async"
	"github.com/morezero/busproxy/pkg/typerules"
)

// Language selects the greeting phrase.
type Language int

const (
	English Language = iota
	French
	German
)

var languageNames = map[Language]string{
	English: "ENGLISH",
	French:  "FRENCH",
	German:  "GERMAN",
}

var phrases = map[Language]string{
	English: "hello",
	French:  "bonjour",
	German:  "hallo",
}

func (l Language) String() string {
	if name, ok := languageNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// Person is someone to greet.
type Person struct {
	Name string              `json:"name"`
	Tags map[string]struct{} `json:"tags,omitempty"`
}

// Greeting is one greeting handed out by the service.
type Greeting struct {
	Seq      int64     `json:"seq"`
	Message  string    `json:"message"`
	Language Language  `json:"language"`
	At       time.Time `json:"at"`
}

// Greeter is the remote greeting service.
type Greeter interface {
	// Hello greets name in English.
	Hello(name string, h async.Handler[string]) Greeter
	Greet(person Person, lang Language, h async.Handler[Greeting]) Greeter
	GreetAll(people []Person, lang Language, h async.Handler[[]Greeting]) Greeter
	// History opens a cursor over the greetings handed out so far.
	History(pageSize int, h async.Handler[Cursor]) Greeter
	// Fail makes the service reply with a failure carrying code, message and debug.
	Fail(code int, message string, debug map[string]any, h async.Handler[async.Void]) Greeter
	// Trace is local only and never reaches the service.
	Trace(message string)
	// Shutdown ends the client's session. Later calls fail.
	Shutdown(h async.Handler[async.Void])
}

// Cursor pages through a snapshot of the greeting history.
type Cursor interface {
	io.Closer
	// Next delivers the next page, empty once the history is exhausted.
	Next(h async.Handler[[]Greeting])
}

// RegisterTypes registers the greeter's enumeration and data objects with c.
func RegisterTypes(c *typerules.Catalog) error {
	if err := typerules.RegisterEnum(c, languageNames); err != nil {
		return err
	}
	typerules.RegisterDataObject[Person](c)
	typerules.RegisterDataObject[Greeting](c)
	return nil
}
