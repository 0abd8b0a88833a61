// Package orchestrator drives a conversation: it resolves a session by id
// and submits queries to a runner one after another, printing each final
// response as "<author> > <text>".
//
//	o := orchestrator.New(r, store)
//	res, err := o.RunSession(ctx, "s1", "My name is Sam", "What is my name?")
package orchestrator
