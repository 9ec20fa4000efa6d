// Package logs reads the daemon log file for `marginalia logs`.
//
// Last returns the trailing lines of the file with bounded memory, and Follow
// polls for appended lines, restarting from the top when the file is
// truncated or rotated. Filters narrow output to one session.
package logs
