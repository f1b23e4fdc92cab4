// Package tasks is the front door for task submission. It decides whether a
// task maps onto a registered workflow, launched in-process, or belongs on
// the external background queue, and answers status queries for both kinds.
package tasks
