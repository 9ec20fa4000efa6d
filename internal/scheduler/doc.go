// Package scheduler runs named operations after a delay or on a fixed
// interval inside the daemon process.
//
// Operations are registered by name before Start. Delayed tasks that have not
// fired when Stop is called are dropped; the recovery sweep picks up any
// session whose processing was lost that way. A task whose (operation,
// payload) pair is already executing is skipped rather than run twice.
package scheduler
