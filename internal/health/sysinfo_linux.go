//go:build linux

package health

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

func probeSystem(path string) (SysInfo, error) {
	var info SysInfo

	if err := readMeminfo(&info); err != nil {
		return info, fmt.Errorf("meminfo: %w", err)
	}
	if err := readLoadavg(&info); err != nil {
		return info, fmt.Errorf("loadavg: %w", err)
	}
	if path == "" {
		path = "."
	}
	var fs syscall.Statfs_t
	if err := syscall.Statfs(path, &fs); err != nil {
		return info, fmt.Errorf("statfs %s: %w", path, err)
	}
	info.DiskFreeBytes = fs.Bavail * uint64(fs.Bsize)
	info.DiskTotalBytes = fs.Blocks * uint64(fs.Bsize)
	return info, nil
}

func readMeminfo(info *SysInfo) error {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			info.MemTotalBytes = kb * 1024
		case "MemAvailable:":
			info.MemAvailableBytes = kb * 1024
		}
	}
	return scanner.Err()
}

func readLoadavg(info *SysInfo) error {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return fmt.Errorf("malformed loadavg %q", string(data))
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return err
	}
	info.Load1 = load
	return nil
}
