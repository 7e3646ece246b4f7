//go:build darwin

package hrt

// msgNoSignal is 0 on Darwin: there is no MSG_NOSIGNAL send flag; callers
// on Darwin rely on SO_NOSIGPIPE being set on the socket instead (set by
// the owner of the fd, outside this package's scope - see spec.md §6.4).
const msgNoSignal = 0
