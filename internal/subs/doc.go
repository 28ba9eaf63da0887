// Package subs tracks the desired subscription set.
//
// Events are resolved to instrument ids through the catalog; instrument ids
// are reference-counted across events so an instrument shared by two events
// is only unsubscribed when neither remains. The manager is also the
// transport's replay source after reconnects.
package subs
