// Package script is the minimal update script engine used by update-binary.
//
// A script is a sequence of function calls separated by semicolons:
//
//	ui_print("Installing ", "system");
//	show_progress(0.5, 10);
//	package_extract_file("system/etc/hosts", "/system/etc/hosts");
//	assert(is_retry(), "t");
//
// Arguments are string literals, numbers, bare words or nested calls. Every
// value is a string and the empty string is false; there are no operators.
// Parse reports the number of syntax errors. Evaluate runs the statements in
// order and returns an outcome.Result carrying the value of the last one. A
// call that fails aborts the script with a message, optionally setting a
// cause code first.
package script
