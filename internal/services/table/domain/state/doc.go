// Package state defines the immutable game snapshot folded from engine events.
//
// A GameState is never mutated in place once it is shared. Writers copy the
// map or slice they change and leave everything else shared with the
// previous version, so older snapshots (the frozen initial deal, views
// already handed to clients) stay valid.
package state
