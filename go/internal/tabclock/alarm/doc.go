// Package alarm evaluates the half-hourly alarm schedule.
//
// The last minute before every half hour (minutes 29 and 59) is the
// pre-alarm window: the clock flashes red on even seconds and, from second
// 30 on, a short low beep sounds on every even second. On the half hour
// itself (second 0 of minutes 0 and 30) a long high beep sounds and the
// clock is solid red for that second.
//
// Evaluate is pure; the latches that keep each beep from repeating within
// a second are threaded through State by the caller.
package alarm
