//go:build !linux

package udp

func setBroadcast(fd uintptr) error { return nil }
