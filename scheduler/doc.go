// Package scheduler paces decoded video frames onto a rendering surface.
//
// Frames are pushed in decode order with presentation timestamps relative
// to the start of the session. A single presentation goroutine pops them in
// push order and draws each one no earlier than baseline+timestamp, where
// the baseline is the scheduler clock reading when the first frame was
// popped. Frames that are already late are drawn back to back. When the
// queue runs dry the scheduler reports an underflow and waits for the next
// push.
package scheduler
