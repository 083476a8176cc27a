// Package classify turns a script abort into structured codes.
//
// Abort messages may embed an error code on a line of the form
// "E<digits>: <description>", for example "E30: This package is for bullhead
// devices.". Cause codes decide whether the parent should retry the update.
package classify
