//go:build !linux

package rig

func snapshotDisk(path string) *DiskStatus {
	return &DiskStatus{Path: path, Error: "disk usage is only reported on linux"}
}
